package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	UserKeyPrefix         = "user:%s"
	PostKeyPrefix         = "post:%s"
	ConversationKeyPrefix = "conversation:%s:%s"
)

const (
	UserTTL         = 5 * time.Minute
	PostTTL         = 30 * time.Minute
	ConversationTTL = time.Hour
)

func UserKey(userID string) string {
	return fmt.Sprintf(UserKeyPrefix, userID)
}

func PostKey(postID string) string {
	return fmt.Sprintf(PostKeyPrefix, postID)
}

// ConversationKey indexes a conversation id by its canonical participant pair.
func ConversationKey(lo, hi string) string {
	return fmt.Sprintf(ConversationKeyPrefix, lo, hi)
}

// Cache is a JSON cache-aside layer. A Cache with a nil client is a no-op
// that always misses.
type Cache struct {
	rdb *redis.Client
}

// New wraps rdb, which may be nil.
func New(rdb *redis.Client) *Cache {
	return &Cache{rdb: rdb}
}

// Enabled reports whether a Redis client is attached.
func (c *Cache) Enabled() bool {
	return c != nil && c.rdb != nil
}

// GetJSON attempts to get the key from Redis and unmarshal into dest.
// Returns (true, nil) if found and unmarshaled, (false, nil) if not found.
func (c *Cache) GetJSON(ctx context.Context, key string, dest any) (bool, error) {
	if !c.Enabled() {
		return false, nil
	}
	s, err := c.rdb.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if err := json.Unmarshal(s, dest); err != nil {
		return false, err
	}
	return true, nil
}

// SetJSON marshals v and sets the key with TTL.
func (c *Cache) SetJSON(ctx context.Context, key string, v any, ttl time.Duration) error {
	if !c.Enabled() {
		return nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return c.rdb.Set(ctx, key, b, ttl).Err()
}

// Aside tries Redis first and on a miss calls fetch, which must populate
// dest, then stores dest with ttl. Redis failures degrade to a plain fetch.
func (c *Cache) Aside(ctx context.Context, key string, dest any, ttl time.Duration, fetch func() error) error {
	if found, err := c.GetJSON(ctx, key, dest); err == nil && found {
		return nil
	}
	if err := fetch(); err != nil {
		return err
	}
	_ = c.SetJSON(ctx, key, dest, ttl)
	return nil
}

// Invalidate drops keys. Errors are ignored; entries expire on their own.
func (c *Cache) Invalidate(ctx context.Context, keys ...string) {
	if !c.Enabled() || len(keys) == 0 {
		return
	}
	c.rdb.Del(ctx, keys...)
}
