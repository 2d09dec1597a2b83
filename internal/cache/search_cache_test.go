package cache

import (
	"context"
	"testing"
	"time"

	redisv9 "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// unreachableClient points at a closed port so every command fails fast.
func unreachableClient(t *testing.T) *redisv9.Client {
	t.Helper()
	client := redisv9.NewClient(&redisv9.Options{
		Addr:        "127.0.0.1:1",
		DialTimeout: 100 * time.Millisecond,
		MaxRetries:  -1,
	})
	t.Cleanup(func() { _ = client.Close() })
	return client
}

func TestSearchCacheErrorsWhenRedisIsDown(t *testing.T) {
	c := NewSearchCache(unreachableClient(t), 0)
	ctx := context.Background()

	_, err := c.Key(ctx, "theft", 5, nil, "m")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "search generation")

	ok, err := c.Get(ctx, "vectorstore:search:0:abc", &struct{}{})
	assert.False(t, ok)
	assert.Error(t, err)

	assert.Error(t, c.Invalidate(ctx))
	assert.Error(t, c.Ping(ctx))
}

func TestNewSearchCacheDefaultsTTL(t *testing.T) {
	c := NewSearchCache(unreachableClient(t), 0)
	assert.Equal(t, 5*time.Minute, c.ttl)
}
