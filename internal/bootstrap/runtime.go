// Package bootstrap wires the runtime dependencies shared by the binaries.
package bootstrap

import (
	"context"
	"fmt"
	"strings"
	"time"

	"socialsync/internal/cache"
	"socialsync/internal/config"
	"socialsync/internal/database"
	"socialsync/internal/middleware"
	"socialsync/internal/models"
	"socialsync/internal/notifications"
	"socialsync/internal/seed"

	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"
)

// Options control runtime initialization behavior.
type Options struct {
	// SeedDemo fills an empty development database with demo data.
	SeedDemo bool
	Demo     seed.Options
}

// InitRuntime connects to DB and Redis and optionally seeds demo data.
func InitRuntime(ctx context.Context, cfg *config.Config, opts Options) (*gorm.DB, *redis.Client, error) {
	db, err := database.Connect(cfg)
	if err != nil {
		return nil, nil, fmt.Errorf("database connection failed: %w", err)
	}

	// Init Redis (may result in nil client if unreachable)
	r := cache.Connect(ctx, cfg.RedisURL)

	if opts.SeedDemo {
		if err := seedDemo(ctx, cfg, db, r, opts.Demo); err != nil {
			return nil, nil, fmt.Errorf("failed to seed demo data: %w", err)
		}
	}
	return db, r, nil
}

func seedDemo(ctx context.Context, cfg *config.Config, db *gorm.DB, r *redis.Client, opts seed.Options) error {
	if !strings.EqualFold(cfg.Env, "development") {
		return nil
	}
	var users int64
	if err := db.WithContext(ctx).Model(&models.User{}).Count(&users).Error; err != nil {
		return err
	}
	if users > 0 {
		return nil
	}
	if _, err := seed.NewSeeder(db, notifications.NewNotifier(r), opts).Seed(ctx); err != nil {
		return err
	}
	return logDevToken(ctx, cfg, db)
}

// logDevToken prints a day-long token for one seeded user so the API can be
// tried without a login flow.
func logDevToken(ctx context.Context, cfg *config.Config, db *gorm.DB) error {
	var u models.User
	if err := db.WithContext(ctx).Order("username").First(&u).Error; err != nil {
		return err
	}
	token, err := middleware.IssueToken(cfg.JWTSecret, u.ID, 24*time.Hour)
	if err != nil {
		return err
	}
	middleware.Logger.Info("development token issued", "username", u.Username, "user_id", u.ID, "token", token)
	return nil
}
