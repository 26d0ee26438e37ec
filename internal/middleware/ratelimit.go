package middleware

import (
	"context"
	"errors"
	"os"
	"strconv"
	"time"

	"socialsync/internal/models"
	"socialsync/internal/observability"

	"github.com/gofiber/fiber/v2"
	"github.com/redis/go-redis/v9"
)

// FailPolicy decides what happens to a mutation when the window store is down.
type FailPolicy int

const (
	FailOpen FailPolicy = iota
	FailClosed
)

var errNoRedis = errors.New("rate limit store not configured")

// Window is the outcome of one counter increment.
type Window struct {
	Allowed    bool
	Count      int64
	RetryAfter time.Duration
}

func limitingEnabled() bool {
	switch os.Getenv("APP_ENV") {
	case "", "test", "development":
		return false
	}
	return true
}

// CheckRateLimit counts one action by id against resource's fixed window.
// Outside production every action is allowed.
func CheckRateLimit(ctx context.Context, rdb *redis.Client, resource, id string, limit int, window time.Duration) (bool, error) {
	if !limitingEnabled() {
		return true, nil
	}
	w, err := hit(ctx, rdb, "rl:"+resource+":"+id, limit, window)
	return w.Allowed, err
}

func hit(ctx context.Context, rdb *redis.Client, key string, limit int, window time.Duration) (Window, error) {
	if rdb == nil {
		return Window{}, errNoRedis
	}
	var incr *redis.IntCmd
	var ttl *redis.DurationCmd
	_, err := rdb.TxPipelined(ctx, func(p redis.Pipeliner) error {
		incr = p.Incr(ctx, key)
		ttl = p.PTTL(ctx, key)
		return nil
	})
	if err != nil {
		observability.RedisErrorRate.WithLabelValues("ratelimit").Inc()
		return Window{}, err
	}
	w := Window{Count: incr.Val(), RetryAfter: ttl.Val()}
	if w.Count == 1 || w.RetryAfter < 0 {
		rdb.PExpire(ctx, key, window)
		w.RetryAfter = window
	}
	w.Allowed = w.Count <= int64(limit)
	return w, nil
}

// RateLimit throttles a route at limit requests per window with FailOpen.
// Buckets are keyed by authenticated user, else by remote IP.
func RateLimit(rdb *redis.Client, limit int, window time.Duration, name ...string) fiber.Handler {
	return RateLimitWithPolicy(rdb, limit, window, FailOpen, name...)
}

func RateLimitWithPolicy(rdb *redis.Client, limit int, window time.Duration, policy FailPolicy, name ...string) fiber.Handler {
	return func(c *fiber.Ctx) error {
		if !limitingEnabled() {
			return c.Next()
		}
		resource := c.Path()
		if len(name) > 0 {
			resource = name[0]
		}
		who := "ip:" + c.IP()
		if uid := UserID(c); uid != "" {
			who = "user:" + uid
		}

		w, err := hit(c.UserContext(), rdb, "rl:"+resource+":"+who, limit, window)
		switch {
		case err != nil && policy == FailClosed:
			Logger.WarnContext(c.UserContext(), "rate limit store unavailable", "resource", resource, "error", err)
			return models.RespondWithError(c, fiber.StatusServiceUnavailable,
				models.NewTransientError(err))
		case err != nil:
			return c.Next()
		case !w.Allowed:
			c.Set(fiber.HeaderRetryAfter, strconv.Itoa(int(w.RetryAfter.Round(time.Second)/time.Second)))
			return models.RespondWithError(c, fiber.StatusTooManyRequests,
				&models.AppError{Code: models.CodeTransient, Message: "too many " + resource + " requests"})
		}
		c.Set("X-RateLimit-Remaining", strconv.FormatInt(max(int64(limit)-w.Count, 0), 10))
		return c.Next()
	}
}
