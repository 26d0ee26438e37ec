package database

import (
	"context"
	"fmt"
	"log/slog"

	"socialsync/internal/config"
	"socialsync/internal/middleware"
	"socialsync/internal/models"

	"gorm.io/gorm"
)

// PersistentModels lists the synced tables in dependency order: parents
// before the rows that reference them.
func PersistentModels() []interface{} {
	return []interface{}{
		&models.User{},
		&models.Community{},
		&models.Membership{},
		&models.Post{},
		&models.Comment{},
		&models.Like{},
		&models.Follow{},
		&models.Conversation{},
		&models.Message{},
	}
}

// postgresIndexes are created after AutoMigrate on Postgres only. They back
// the filtered reads the sync engine issues on every resync.
var postgresIndexes = []string{
	`CREATE INDEX IF NOT EXISTS idx_messages_unread ON messages (conversation_id, sender_id) WHERE is_read = false`,
	`CREATE INDEX IF NOT EXISTS idx_posts_feed ON posts (created_at DESC) WHERE status = 'published'`,
	`CREATE INDEX IF NOT EXISTS idx_comments_post_created ON comments (post_id, created_at)`,
}

// ApplySchema migrates every persistent model. Production environments
// never auto-migrate; their schema is expected to be managed out of band.
func ApplySchema(ctx context.Context, db *gorm.DB, cfg *config.Config) error {
	if cfg.IsProduction() {
		middleware.Logger.Info("Skipping AutoMigrate in production", slog.String("env", cfg.Env))
		return nil
	}
	return Migrate(ctx, db)
}

// Migrate creates or updates the tables for every persistent model.
func Migrate(ctx context.Context, db *gorm.DB) error {
	middleware.Logger.Info("Running GORM AutoMigrate", slog.String("dialect", db.Dialector.Name()))
	if err := db.WithContext(ctx).AutoMigrate(PersistentModels()...); err != nil {
		return fmt.Errorf("auto-migrate: %w", err)
	}
	if db.Dialector.Name() != "postgres" {
		return nil
	}
	for _, stmt := range postgresIndexes {
		if err := db.WithContext(ctx).Exec(stmt).Error; err != nil {
			return fmt.Errorf("create index: %w", err)
		}
	}
	return nil
}
