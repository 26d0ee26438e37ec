package middleware

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"socialsync/internal/models"

	"github.com/alicebob/miniredis/v2"
	"github.com/gofiber/fiber/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return mr, rdb
}

func TestCheckRateLimit(t *testing.T) {
	t.Run("bypassed outside production", func(t *testing.T) {
		for _, env := range []string{"test", "development"} {
			t.Setenv("APP_ENV", env)
			allowed, err := CheckRateLimit(context.Background(), nil, "likes", "user:1", 1, time.Minute)
			assert.NoError(t, err)
			assert.True(t, allowed, env)
		}
	})

	t.Run("nil redis is an error in production", func(t *testing.T) {
		t.Setenv("APP_ENV", "production")
		allowed, err := CheckRateLimit(context.Background(), nil, "likes", "user:1", 1, time.Minute)
		assert.ErrorIs(t, err, errNoRedis)
		assert.False(t, allowed)
	})

	t.Run("counts within window", func(t *testing.T) {
		t.Setenv("APP_ENV", "production")
		mr, rdb := newTestRedis(t)
		ctx := context.Background()

		for i := 0; i < 3; i++ {
			allowed, err := CheckRateLimit(ctx, rdb, "likes", "user:1", 3, time.Minute)
			require.NoError(t, err)
			assert.True(t, allowed)
		}
		allowed, err := CheckRateLimit(ctx, rdb, "likes", "user:1", 3, time.Minute)
		require.NoError(t, err)
		assert.False(t, allowed)

		// Other identities have their own bucket.
		allowed, err = CheckRateLimit(ctx, rdb, "likes", "user:2", 3, time.Minute)
		require.NoError(t, err)
		assert.True(t, allowed)

		assert.True(t, mr.TTL("rl:likes:user:1") > 0)
		mr.FastForward(2 * time.Minute)
		allowed, err = CheckRateLimit(ctx, rdb, "likes", "user:1", 3, time.Minute)
		require.NoError(t, err)
		assert.True(t, allowed)
	})
}

func TestRateLimitMiddleware(t *testing.T) {
	handler := func(c *fiber.Ctx) error { return c.SendStatus(fiber.StatusOK) }
	get := func(t *testing.T, app *fiber.App, path string) int {
		t.Helper()
		resp, err := app.Test(httptest.NewRequest(http.MethodGet, path, nil))
		require.NoError(t, err)
		_ = resp.Body.Close()
		return resp.StatusCode
	}

	t.Run("bypass in test mode", func(t *testing.T) {
		t.Setenv("APP_ENV", "test")
		app := fiber.New()
		app.Get("/test", RateLimit(nil, 1, time.Minute), handler)
		assert.Equal(t, http.StatusOK, get(t, app, "/test"))
	})

	t.Run("fail open with nil redis", func(t *testing.T) {
		t.Setenv("APP_ENV", "production")
		app := fiber.New()
		app.Get("/test", RateLimit(nil, 1, time.Minute), handler)
		assert.Equal(t, http.StatusOK, get(t, app, "/test"))
	})

	t.Run("fail closed with nil redis", func(t *testing.T) {
		t.Setenv("APP_ENV", "production")
		app := fiber.New()
		app.Get("/sensitive", RateLimitWithPolicy(nil, 1, time.Minute, FailClosed), handler)
		assert.Equal(t, http.StatusServiceUnavailable, get(t, app, "/sensitive"))
	})

	t.Run("rejects over limit", func(t *testing.T) {
		t.Setenv("APP_ENV", "production")
		_, rdb := newTestRedis(t)
		app := fiber.New()
		app.Get("/limited", RateLimit(rdb, 2, time.Minute, "limited"), handler)

		assert.Equal(t, http.StatusOK, get(t, app, "/limited"))
		assert.Equal(t, http.StatusOK, get(t, app, "/limited"))
		assert.Equal(t, http.StatusTooManyRequests, get(t, app, "/limited"))
	})

	t.Run("throttled response carries retry hint", func(t *testing.T) {
		t.Setenv("APP_ENV", "production")
		_, rdb := newTestRedis(t)
		app := fiber.New()
		app.Post("/messages", RateLimit(rdb, 1, time.Minute, "send_chat"), handler)

		resp, err := app.Test(httptest.NewRequest(http.MethodPost, "/messages", nil))
		require.NoError(t, err)
		assert.Equal(t, "0", resp.Header.Get("X-RateLimit-Remaining"))

		resp, err = app.Test(httptest.NewRequest(http.MethodPost, "/messages", nil))
		require.NoError(t, err)
		defer resp.Body.Close()
		assert.Equal(t, http.StatusTooManyRequests, resp.StatusCode)
		assert.Equal(t, "60", resp.Header.Get("Retry-After"))

		var body models.ErrorResponse
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
		assert.Equal(t, models.CodeTransient, body.Code)
	})
}
