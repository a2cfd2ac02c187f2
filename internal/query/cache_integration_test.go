//go:build integration

package query

import (
	"context"
	"os"
	"sync/atomic"
	"testing"
	"time"

	"github.com/Adithya-Monish-Kumar-K/rental-semantic-search/internal/vectorindex"
	"github.com/Adithya-Monish-Kumar-K/rental-semantic-search/pkg/config"
	pkgredis "github.com/Adithya-Monish-Kumar-K/rental-semantic-search/pkg/redis"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testCache(t *testing.T) *Cache {
	t.Helper()
	addr := os.Getenv("RSS_TEST_REDIS_ADDR")
	if addr == "" {
		addr = "localhost:6379"
	}
	client, err := pkgredis.NewClient(config.RedisConfig{Addr: addr, PoolSize: 2})
	if err != nil {
		t.Skipf("redis unavailable: %v", err)
	}
	t.Cleanup(func() { client.Close() })
	c := NewCache(client, time.Minute, nil)
	require.NoError(t, c.Invalidate(context.Background()))
	return c
}

func TestCache_GetOrComputeAndInvalidate(t *testing.T) {
	c := testCache(t)
	ctx := context.Background()

	var computed atomic.Int32
	compute := func() ([]vectorindex.Match, error) {
		computed.Add(1)
		return []vectorindex.Match{{ID: "a", Document: "doc", Distance: 0.1}}, nil
	}

	got, hit, err := c.GetOrCompute(ctx, "beach", 3, compute)
	require.NoError(t, err)
	assert.False(t, hit)
	assert.Equal(t, "a", got[0].ID)

	got, hit, err = c.GetOrCompute(ctx, "BEACH", 3, compute)
	require.NoError(t, err)
	assert.True(t, hit)
	assert.InDelta(t, 0.1, got[0].Distance, 1e-9)
	assert.EqualValues(t, 1, computed.Load())

	require.NoError(t, c.Invalidate(ctx))
	_, hit, err = c.GetOrCompute(ctx, "beach", 3, compute)
	require.NoError(t, err)
	assert.False(t, hit)
	assert.EqualValues(t, 2, computed.Load())

	hits, misses := c.Stats()
	assert.EqualValues(t, 1, hits)
	assert.EqualValues(t, 2, misses)
}
