// Package database opens the remote store and owns its schema.
package database

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"socialsync/internal/config"
	"socialsync/internal/middleware"

	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

const slowQuery = 200 * time.Millisecond

// queryLogger sends gorm output through the request-aware slog logger, so
// SQL lines carry request_id and mutation_id.
type queryLogger struct {
	log   *slog.Logger
	level logger.LogLevel
	slow  time.Duration
}

func newQueryLogger(env string) *queryLogger {
	level := logger.Warn
	switch env {
	case "test":
		level = logger.Silent
	case "development":
		if middleware.Logger.Enabled(context.Background(), slog.LevelDebug) {
			level = logger.Info
		}
	}
	return &queryLogger{log: middleware.Logger.With("component", "sql"), level: level, slow: slowQuery}
}

func (q *queryLogger) LogMode(level logger.LogLevel) logger.Interface {
	cp := *q
	cp.level = level
	return &cp
}

func (q *queryLogger) Info(ctx context.Context, msg string, args ...interface{}) {
	if q.level >= logger.Info {
		q.log.InfoContext(ctx, fmt.Sprintf(msg, args...))
	}
}

func (q *queryLogger) Warn(ctx context.Context, msg string, args ...interface{}) {
	if q.level >= logger.Warn {
		q.log.WarnContext(ctx, fmt.Sprintf(msg, args...))
	}
}

func (q *queryLogger) Error(ctx context.Context, msg string, args ...interface{}) {
	if q.level >= logger.Error {
		q.log.ErrorContext(ctx, fmt.Sprintf(msg, args...))
	}
}

// Trace logs failed statements, slow statements, and at Info level every
// statement. Missing rows are a normal outcome for the sync reads.
func (q *queryLogger) Trace(ctx context.Context, begin time.Time, fc func() (string, int64), err error) {
	if q.level <= logger.Silent {
		return
	}
	elapsed := time.Since(begin)
	failed := err != nil && !errors.Is(err, gorm.ErrRecordNotFound)
	slow := q.slow > 0 && elapsed > q.slow

	var lvl slog.Level
	var msg string
	switch {
	case failed && q.level >= logger.Error:
		lvl, msg = slog.LevelError, "sql failed"
	case slow && q.level >= logger.Warn:
		lvl, msg = slog.LevelWarn, "sql slow"
	case q.level >= logger.Info:
		lvl, msg = slog.LevelDebug, "sql"
	default:
		return
	}

	stmt, rows := fc()
	attrs := []slog.Attr{
		slog.String("sql", stmt),
		slog.Int64("rows", rows),
		slog.Duration("elapsed", elapsed),
	}
	if failed {
		attrs = append(attrs, slog.String("error", err.Error()))
	}
	q.log.LogAttrs(ctx, lvl, msg, attrs...)
}

// Connect opens the store selected by DB_DRIVER and applies the schema.
func Connect(cfg *config.Config) (*gorm.DB, error) {
	dialector, err := dialectorFor(cfg)
	if err != nil {
		return nil, err
	}
	db, err := gorm.Open(dialector, &gorm.Config{Logger: newQueryLogger(cfg.Env)})
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", dialector.Name(), err)
	}
	middleware.Logger.Info("remote store connected", slog.String("driver", dialector.Name()))

	if err := ApplySchema(context.Background(), db, cfg); err != nil {
		return nil, err
	}
	if dialector.Name() == "postgres" {
		if err := tunePool(db); err != nil {
			return nil, err
		}
	}
	return db, nil
}

func tunePool(db *gorm.DB) error {
	sqlDB, err := db.DB()
	if err != nil {
		return fmt.Errorf("pool: %w", err)
	}
	sqlDB.SetMaxOpenConns(25)
	sqlDB.SetMaxIdleConns(5)
	sqlDB.SetConnMaxLifetime(5 * time.Minute)
	return nil
}

func dialectorFor(cfg *config.Config) (gorm.Dialector, error) {
	switch cfg.DBDriver {
	case "sqlite":
		return sqlite.Open(cfg.SQLitePath), nil
	case "postgres", "":
		ssl := cfg.DBSSLMode
		if ssl == "" {
			ssl = "disable"
		}
		return postgres.Open(fmt.Sprintf("host=%s port=%s user=%s password=%s dbname=%s sslmode=%s",
			cfg.DBHost, cfg.DBPort, cfg.DBUser, cfg.DBPassword, cfg.DBName, ssl)), nil
	}
	return nil, fmt.Errorf("unsupported DB_DRIVER %q", cfg.DBDriver)
}
