// Command migrate manages the remote store schema for environments that
// do not auto-migrate on startup.
//
//	migrate up      create or update every table and index
//	migrate status  list tables and whether they exist
//	migrate reset   drop every table and migrate again (not in production)
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"slices"

	"socialsync/internal/config"
	"socialsync/internal/database"
	"socialsync/internal/middleware"

	"gorm.io/gorm"
)

var errUsage = errors.New("usage: migrate <up|status|reset>")

func main() {
	flag.Parse()
	if err := run(context.Background(), flag.Arg(0)); err != nil {
		middleware.Logger.Error("migrate failed", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cmd string) error {
	if cmd == "" {
		return errUsage
	}
	cfg, err := config.LoadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	middleware.ConfigureLogger(cfg.Env, cfg.LogLevel)

	db, err := database.Connect(cfg)
	if err != nil {
		return fmt.Errorf("connect: %w", err)
	}

	switch cmd {
	case "up":
		return database.Migrate(ctx, db)
	case "status":
		status(ctx, db)
		return nil
	case "reset":
		if cfg.IsProduction() {
			return errors.New("reset is disabled in production")
		}
		return reset(ctx, db)
	}
	return errUsage
}

func status(ctx context.Context, db *gorm.DB) {
	m := db.WithContext(ctx).Migrator()
	for _, model := range database.PersistentModels() {
		middleware.Logger.Info("table", "model", fmt.Sprintf("%T", model), "present", m.HasTable(model))
	}
}

func reset(ctx context.Context, db *gorm.DB) error {
	models := slices.Clone(database.PersistentModels())
	slices.Reverse(models)
	if err := db.WithContext(ctx).Migrator().DropTable(models...); err != nil {
		return fmt.Errorf("drop tables: %w", err)
	}
	middleware.Logger.Info("tables dropped", "count", len(models))
	return database.Migrate(ctx, db)
}
