package cache_test

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/loyalty-engine/cache"
)

func TestNop_AlwaysMisses(t *testing.T) {
	ctx := context.Background()
	var c cache.BalanceCache = cache.Nop{}

	require.NoError(t, c.Set(ctx, "cust-1", 300))
	_, ok, err := c.Get(ctx, "cust-1")
	require.NoError(t, err)
	assert.False(t, ok)
	assert.NoError(t, c.Invalidate(ctx, "cust-1"))
}

// newTestRedis connects to REDIS_ADDR, skipping when it is unset.
func newTestRedis(t *testing.T) *cache.Redis {
	addr := os.Getenv("REDIS_ADDR")
	if addr == "" {
		t.Skip("REDIS_ADDR not set, skipping Redis integration test")
	}
	client := redis.NewClient(&redis.Options{Addr: addr})
	if err := client.Ping(context.Background()).Err(); err != nil {
		t.Skipf("Redis not reachable at %s: %v", addr, err)
	}
	// Unique prefix per test so parallel runs don't collide.
	c := cache.NewRedisWithClient(client, "test:"+uuid.NewString()+":", time.Minute)
	t.Cleanup(func() { c.Close() })
	return c
}

func TestRedis_SetGetInvalidate(t *testing.T) {
	c := newTestRedis(t)
	ctx := context.Background()

	// GIVEN: Nothing cached
	_, ok, err := c.Get(ctx, "cust-1")
	require.NoError(t, err)
	assert.False(t, ok)

	// WHEN: A balance is cached
	require.NoError(t, c.Set(ctx, "cust-1", 450))

	// THEN: It is returned until invalidated
	n, ok, err := c.Get(ctx, "cust-1")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, int64(450), n)

	require.NoError(t, c.Invalidate(ctx, "cust-1"))
	_, ok, err = c.Get(ctx, "cust-1")
	require.NoError(t, err)
	assert.False(t, ok)
}
