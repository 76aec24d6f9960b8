package admission

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/sn3fru/silvanews-sub001/internal/logging"
)

// RecencyCache short-circuits exact-text duplicates against Redis before
// any embedding work happens. Strictly an optimization: a cache miss,
// a Redis outage, or a nil cache all fall through to the similarity
// check, so correctness never depends on it.
type RecencyCache struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRecencyCache connects to Redis. Returns nil when addr is empty so
// callers can pass the result straight to NewGate.
func NewRecencyCache(addr, password string, db int, ttl time.Duration) *RecencyCache {
	if addr == "" {
		return nil
	}
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	return &RecencyCache{client: client, ttl: ttl}
}

// Seen reports whether the exact text was admitted within the TTL.
func (c *RecencyCache) Seen(ctx context.Context, text string) bool {
	n, err := c.client.Exists(ctx, cacheKey(text)).Result()
	if err != nil {
		logging.Debug("admission: recency cache unreachable, skipping", "error", err)
		return false
	}
	return n > 0
}

// Remember marks the text as admitted for the TTL.
func (c *RecencyCache) Remember(ctx context.Context, text string) {
	if err := c.client.Set(ctx, cacheKey(text), 1, c.ttl).Err(); err != nil {
		logging.Debug("admission: recency cache write failed", "error", err)
	}
}

// Close releases the Redis connection.
func (c *RecencyCache) Close() error {
	if c == nil {
		return nil
	}
	return c.client.Close()
}

func cacheKey(text string) string {
	sum := sha256.Sum256([]byte(text))
	return "silvanews:admitted:" + hex.EncodeToString(sum[:16])
}
