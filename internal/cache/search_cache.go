package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/cespare/xxhash/v2"
	redisv9 "github.com/redis/go-redis/v9"
)

const generationKey = "vectorstore:search:generation"

// SearchCache stores search responses in Redis. Keys embed the index
// generation, so bumping it on every index mutation orphans stale entries
// and lets the TTL reap them.
type SearchCache struct {
	client *redisv9.Client
	ttl    time.Duration
}

func NewSearchCache(client *redisv9.Client, ttl time.Duration) *SearchCache {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &SearchCache{client: client, ttl: ttl}
}

// Key builds the cache key for a query under the current generation.
func (c *SearchCache) Key(ctx context.Context, query string, k int, threshold *float64, model string) (string, error) {
	gen, err := c.client.Get(ctx, generationKey).Int64()
	if err != nil && err != redisv9.Nil {
		return "", fmt.Errorf("redis get search generation failed: %w", err)
	}
	t := "none"
	if threshold != nil {
		t = strconv.FormatFloat(*threshold, 'f', -1, 64)
	}
	sum := xxhash.Sum64String(model + "\x00" + query + "\x00" + strconv.Itoa(k) + "\x00" + t)
	return fmt.Sprintf("vectorstore:search:%d:%016x", gen, sum), nil
}

// Get decodes a cached value into out and reports whether it was present.
func (c *SearchCache) Get(ctx context.Context, key string, out any) (bool, error) {
	raw, err := c.client.Get(ctx, key).Bytes()
	if err == redisv9.Nil {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("redis get search cache failed: %w", err)
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return false, fmt.Errorf("unmarshal cached search failed: %w", err)
	}
	return true, nil
}

func (c *SearchCache) Set(ctx context.Context, key string, value any) error {
	payload, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("marshal search cache failed: %w", err)
	}
	if err := c.client.Set(ctx, key, payload, c.ttl).Err(); err != nil {
		return fmt.Errorf("redis set search cache failed: %w", err)
	}
	return nil
}

// Invalidate bumps the generation.
func (c *SearchCache) Invalidate(ctx context.Context) error {
	if err := c.client.Incr(ctx, generationKey).Err(); err != nil {
		return fmt.Errorf("redis bump search generation failed: %w", err)
	}
	return nil
}

func (c *SearchCache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}
