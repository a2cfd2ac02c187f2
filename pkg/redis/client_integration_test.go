//go:build integration

package redis

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/Adithya-Monish-Kumar-K/rental-semantic-search/pkg/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testClient(t *testing.T) *Client {
	t.Helper()
	addr := os.Getenv("RSS_TEST_REDIS_ADDR")
	if addr == "" {
		addr = "localhost:6379"
	}
	c, err := NewClient(config.RedisConfig{Addr: addr, PoolSize: 2})
	if err != nil {
		t.Skipf("redis unavailable: %v", err)
	}
	t.Cleanup(func() { c.Close() })
	return c
}

func TestLock_ExclusiveUntilReleased(t *testing.T) {
	c := testClient(t)
	ctx := context.Background()
	key := "test:lock:" + t.Name()
	defer c.Del(ctx, key)

	lock, err := c.TryLock(ctx, key, time.Minute)
	require.NoError(t, err)

	_, err = c.TryLock(ctx, key, time.Minute)
	assert.ErrorIs(t, err, ErrLockHeld)

	require.NoError(t, lock.Release(ctx))

	again, err := c.TryLock(ctx, key, time.Minute)
	require.NoError(t, err)
	require.NoError(t, again.Release(ctx))
}

func TestLock_ReleaseDoesNotStealForeignLock(t *testing.T) {
	c := testClient(t)
	ctx := context.Background()
	key := "test:lock:" + t.Name()
	defer c.Del(ctx, key)

	stale := &Lock{client: c, key: key, token: "someone-else"}
	_, err := c.TryLock(ctx, key, time.Minute)
	require.NoError(t, err)

	require.NoError(t, stale.Release(ctx))
	_, err = c.TryLock(ctx, key, time.Minute)
	assert.ErrorIs(t, err, ErrLockHeld)
}

func TestFlushByPattern(t *testing.T) {
	c := testClient(t)
	ctx := context.Background()
	require.NoError(t, c.Set(ctx, "test:flush:a", "1", time.Minute))
	require.NoError(t, c.Set(ctx, "test:flush:b", "2", time.Minute))

	n, err := c.FlushByPattern(ctx, "test:flush:*")
	require.NoError(t, err)
	assert.EqualValues(t, 2, n)

	_, err = c.Get(ctx, "test:flush:a")
	assert.True(t, IsNilError(err))
}
