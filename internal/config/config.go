// Package config loads runtime settings from config*.yml files and the
// environment through viper.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const defaultJWTSecret = "your-secret-key-change-in-production"

// Config is every setting the sync server, seeder and migrator read.
type Config struct {
	Env            string `mapstructure:"APP_ENV"`
	Port           string `mapstructure:"PORT"`
	LogLevel       string `mapstructure:"LOG_LEVEL"`
	JWTSecret      string `mapstructure:"JWT_SECRET"`
	AllowedOrigins string `mapstructure:"ALLOWED_ORIGINS"`

	// remote store
	DBDriver   string `mapstructure:"DB_DRIVER"`
	DBHost     string `mapstructure:"DB_HOST"`
	DBPort     string `mapstructure:"DB_PORT"`
	DBUser     string `mapstructure:"DB_USER"`
	DBPassword string `mapstructure:"DB_PASSWORD"`
	DBName     string `mapstructure:"DB_NAME"`
	DBSSLMode  string `mapstructure:"DB_SSLMODE"`
	SQLitePath string `mapstructure:"SQLITE_PATH"`

	// change fan-out and cache
	RedisURL string `mapstructure:"REDIS_URL"`

	// sync engine
	FeatureFlags             string `mapstructure:"FEATURE_FLAGS"`
	OptimisticTimeoutSeconds int    `mapstructure:"OPTIMISTIC_TIMEOUT_SECONDS"`
	FeedLimit                int    `mapstructure:"FEED_LIMIT"`
	LikeLimit                int    `mapstructure:"LIKE_LIMIT"`
	SessionIdleTTLSeconds    int    `mapstructure:"SESSION_IDLE_TTL_SECONDS"`
	SeedDemo                 bool   `mapstructure:"SEED_DEMO"`

	MediaRoot    string `mapstructure:"MEDIA_ROOT"`
	MediaBaseURL string `mapstructure:"MEDIA_BASE_URL"`

	TracingEnabled     bool    `mapstructure:"TRACING_ENABLED"`
	TracingExporter    string  `mapstructure:"TRACING_EXPORTER"`
	OTLPEndpoint       string  `mapstructure:"OTLP_ENDPOINT"`
	TracingSampleRatio float64 `mapstructure:"TRACING_SAMPLE_RATIO"`
}

var defaults = map[string]any{
	"APP_ENV":                    "development",
	"PORT":                       "8375",
	"LOG_LEVEL":                  "info",
	"JWT_SECRET":                 defaultJWTSecret,
	"ALLOWED_ORIGINS":            "http://localhost:5173,http://localhost:3000,http://127.0.0.1:5173",
	"DB_DRIVER":                  "postgres",
	"DB_HOST":                    "localhost",
	"DB_PORT":                    "5432",
	"DB_USER":                    "user",
	"DB_PASSWORD":                "password",
	"DB_NAME":                    "socialsync",
	"DB_SSLMODE":                 "disable",
	"SQLITE_PATH":                "socialsync.db",
	"REDIS_URL":                  "localhost:6379",
	"FEATURE_FLAGS":              "refetch_on_duplicate=on",
	"OPTIMISTIC_TIMEOUT_SECONDS": 10,
	"FEED_LIMIT":                 50,
	"LIKE_LIMIT":                 500,
	"SESSION_IDLE_TTL_SECONDS":   900,
	"SEED_DEMO":                  false,
	"MEDIA_ROOT":                 "./media",
	"MEDIA_BASE_URL":             "http://localhost:8375/media",
	"TRACING_ENABLED":            false,
	"TRACING_EXPORTER":           "stdout",
	"OTLP_ENDPOINT":              "localhost:4318",
	"TRACING_SAMPLE_RATIO":       1.0,
}

// LoadConfig reads config.yml if present, then config.<APP_ENV>.yml for any
// environment other than development and test, then the environment.
func LoadConfig() (*Config, error) {
	for _, dir := range []string{".", "..", "../.."} {
		viper.AddConfigPath(dir)
	}
	viper.SetConfigName("config")
	viper.SetConfigType("yml")
	viper.AutomaticEnv()
	for k, v := range defaults {
		viper.SetDefault(k, v)
	}
	_ = viper.ReadInConfig()

	if env := strings.ToLower(viper.GetString("APP_ENV")); env != "development" && env != "test" {
		viper.SetConfigName("config." + env)
		if err := viper.MergeInConfig(); err != nil {
			return nil, fmt.Errorf("config.%s.yml: %w", env, err)
		}
	}

	var c Config
	if err := viper.Unmarshal(&c); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	c.normalize()
	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &c, nil
}

func (c *Config) normalize() {
	clean := func(s string) string { return strings.ToLower(strings.TrimSpace(s)) }
	c.Env = clean(c.Env)
	c.DBDriver = clean(c.DBDriver)
	c.DBSSLMode = clean(c.DBSSLMode)
	c.LogLevel = clean(c.LogLevel)
}

func (c *Config) IsProduction() bool {
	return c.Env == "production" || c.Env == "prod"
}

// SessionIdleTTL is how long a session without UI clients may go unused.
// Zero keeps sessions until their user's last UI client leaves.
func (c *Config) SessionIdleTTL() time.Duration {
	return time.Duration(c.SessionIdleTTLSeconds) * time.Second
}

// OptimisticTimeout bounds how long a mutation may stay pending.
func (c *Config) OptimisticTimeout() time.Duration {
	return time.Duration(c.OptimisticTimeoutSeconds) * time.Second
}

// Validate reports every problem at once. Production additionally requires
// a real JWT secret and an encrypted, password-protected Postgres.
func (c *Config) Validate() error {
	var errs []error
	fail := func(format string, args ...any) { errs = append(errs, fmt.Errorf(format, args...)) }

	if c.Port == "" {
		fail("PORT is required")
	}
	if c.JWTSecret == "" {
		fail("JWT_SECRET is required")
	}
	switch c.DBDriver {
	case "postgres":
	case "sqlite":
		if c.SQLitePath == "" {
			fail("SQLITE_PATH is required when DB_DRIVER=sqlite")
		}
	default:
		fail("DB_DRIVER must be postgres or sqlite, got %q", c.DBDriver)
	}
	if c.OptimisticTimeoutSeconds <= 0 {
		fail("OPTIMISTIC_TIMEOUT_SECONDS must be positive")
	}
	if c.FeedLimit < 0 {
		fail("FEED_LIMIT must not be negative")
	}
	if c.LikeLimit < 0 {
		fail("LIKE_LIMIT must not be negative")
	}
	if c.SessionIdleTTLSeconds < 0 {
		fail("SESSION_IDLE_TTL_SECONDS must not be negative")
	}

	if !c.IsProduction() {
		if len(c.JWTSecret) < 32 {
			slog.Warn("JWT_SECRET is shorter than 32 characters")
		}
		return errors.Join(errs...)
	}

	if c.JWTSecret == defaultJWTSecret || len(c.JWTSecret) < 32 {
		fail("JWT_SECRET must be a non-default secret of at least 32 characters in production")
	}
	if c.DBDriver == "postgres" {
		if c.DBPassword == "" || c.DBPassword == "password" {
			fail("a strong DB_PASSWORD is required in production")
		}
		if c.DBSSLMode == "" || c.DBSSLMode == "disable" {
			fail("DB_SSLMODE must enable SSL in production")
		}
	}
	if c.AllowedOrigins == "*" {
		slog.Warn("ALLOWED_ORIGINS is '*' in production")
	}
	return errors.Join(errs...)
}
