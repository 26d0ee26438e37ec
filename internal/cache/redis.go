package cache

import (
	"context"
	"errors"
	"strings"
	"time"

	"socialsync/internal/middleware"
	"socialsync/internal/observability"

	"github.com/redis/go-redis/v9"
)

const pingTimeout = 5 * time.Second

// errorHook counts failed commands. A cache miss is not a failure.
type errorHook struct{}

func failed(err error) bool { return err != nil && !errors.Is(err, redis.Nil) }

func (errorHook) DialHook(next redis.DialHook) redis.DialHook { return next }

func (errorHook) ProcessHook(next redis.ProcessHook) redis.ProcessHook {
	return func(ctx context.Context, cmd redis.Cmder) error {
		err := next(ctx, cmd)
		if failed(err) {
			observability.RedisErrorRate.WithLabelValues(cmd.Name()).Inc()
		}
		return err
	}
}

func (errorHook) ProcessPipelineHook(next redis.ProcessPipelineHook) redis.ProcessPipelineHook {
	return func(ctx context.Context, cmds []redis.Cmder) error {
		err := next(ctx, cmds)
		if failed(err) {
			observability.RedisErrorRate.WithLabelValues("pipeline").Inc()
		}
		return err
	}
}

func options(addr string) (*redis.Options, error) {
	if strings.Contains(addr, "://") {
		return redis.ParseURL(addr)
	}
	return &redis.Options{Addr: addr}, nil
}

// NewClient dials addr, a redis:// URL or host:port, and pings it.
func NewClient(ctx context.Context, addr string) (*redis.Client, error) {
	opts, err := options(addr)
	if err != nil {
		return nil, err
	}
	rdb := redis.NewClient(opts)
	rdb.AddHook(errorHook{})

	pctx, cancel := context.WithTimeout(ctx, pingTimeout)
	defer cancel()
	if err := rdb.Ping(pctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, err
	}
	return rdb, nil
}

// Connect is NewClient for callers that can run without Redis: on failure
// it logs and returns nil, which disables caching and cross-process fan-out.
func Connect(ctx context.Context, addr string) *redis.Client {
	if addr == "" {
		middleware.Logger.Warn("REDIS_URL empty, running without cache")
		return nil
	}
	rdb, err := NewClient(ctx, addr)
	if err != nil {
		middleware.Logger.Warn("redis unavailable, running without cache", "addr", addr, "error", err)
		return nil
	}
	middleware.Logger.Info("redis connected", "addr", rdb.Options().Addr)
	return rdb
}
