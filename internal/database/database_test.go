package database

import (
	"bytes"
	"context"
	"errors"
	"testing"
	"time"

	"socialsync/internal/config"
	"socialsync/internal/middleware"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func TestDialectorFor(t *testing.T) {
	d, err := dialectorFor(&config.Config{DBDriver: "sqlite", SQLitePath: ":memory:"})
	require.NoError(t, err)
	assert.Equal(t, "sqlite", d.Name())

	d, err = dialectorFor(&config.Config{DBDriver: "postgres", DBHost: "localhost", DBPort: "5432"})
	require.NoError(t, err)
	assert.Equal(t, "postgres", d.Name())

	_, err = dialectorFor(&config.Config{DBDriver: "oracle"})
	assert.Error(t, err)
}

func TestConnect_SQLite(t *testing.T) {
	cfg := &config.Config{DBDriver: "sqlite", SQLitePath: ":memory:", Env: "test"}
	db, err := Connect(cfg)
	require.NoError(t, err)
	assert.True(t, db.Migrator().HasTable("community_memberships"))
	assert.True(t, db.Migrator().HasTable("follows"))
}

func TestQueryLoggerLevels(t *testing.T) {
	var buf bytes.Buffer
	q := &queryLogger{log: middleware.NewLogger(&buf, "production", "debug"), level: logger.Warn, slow: time.Millisecond}

	q.Trace(context.Background(), time.Now(), func() (string, int64) { return "SELECT 1", 1 }, gorm.ErrRecordNotFound)
	assert.Zero(t, buf.Len())

	q.Trace(context.Background(), time.Now().Add(-time.Second), func() (string, int64) { return "SELECT 2", 1 }, nil)
	assert.Contains(t, buf.String(), `"msg":"sql slow"`)

	buf.Reset()
	q.Trace(context.Background(), time.Now(), func() (string, int64) { return "INSERT", 0 }, errors.New("boom"))
	assert.Contains(t, buf.String(), `"error":"boom"`)

	buf.Reset()
	silent := q.LogMode(logger.Silent)
	silent.Trace(context.Background(), time.Now(), func() (string, int64) { return "INSERT", 0 }, errors.New("boom"))
	assert.Zero(t, buf.Len())
}
