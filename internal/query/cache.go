package query

import (
	"context"
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/Adithya-Monish-Kumar-K/rental-semantic-search/internal/vectorindex"
	"github.com/Adithya-Monish-Kumar-K/rental-semantic-search/pkg/metrics"
	pkgredis "github.com/Adithya-Monish-Kumar-K/rental-semantic-search/pkg/redis"
	"golang.org/x/sync/singleflight"
)

const keyPrefix = "retrieve:"

// Cache stores search results in Redis. Concurrent misses for the same key
// share one computation.
type Cache struct {
	client  *pkgredis.Client
	ttl     time.Duration
	group   singleflight.Group
	metrics *metrics.Metrics
	logger  *slog.Logger
	hits    atomic.Int64
	misses  atomic.Int64
}

var _ ResultCache = (*Cache)(nil)

// NewCache returns a cache whose entries expire after ttl. m may be nil.
func NewCache(client *pkgredis.Client, ttl time.Duration, m *metrics.Metrics) *Cache {
	return &Cache{
		client:  client,
		ttl:     ttl,
		metrics: m,
		logger:  slog.Default().With("component", "query-cache"),
	}
}

func (c *Cache) Get(ctx context.Context, text string, topK int) ([]vectorindex.Match, bool) {
	key := buildKey(text, topK)
	data, err := c.client.Get(ctx, key)
	if err != nil {
		if !pkgredis.IsNilError(err) {
			c.logger.Error("cache get failed", "key", key, "error", err)
		}
		c.miss()
		return nil, false
	}
	var matches []vectorindex.Match
	if err := json.Unmarshal([]byte(data), &matches); err != nil {
		c.logger.Error("cache unmarshal failed", "key", key, "error", err)
		c.miss()
		return nil, false
	}
	c.hits.Add(1)
	if c.metrics != nil {
		c.metrics.CacheHitsTotal.Inc()
	}
	return matches, true
}

func (c *Cache) Set(ctx context.Context, text string, topK int, matches []vectorindex.Match) {
	key := buildKey(text, topK)
	data, err := json.Marshal(matches)
	if err != nil {
		c.logger.Error("cache marshal failed", "key", key, "error", err)
		return
	}
	if err := c.client.Set(ctx, key, data, c.ttl); err != nil {
		c.logger.Error("cache set failed", "key", key, "error", err)
	}
}

// GetOrCompute returns the cached result or runs compute once per key.
// Errors are never cached.
func (c *Cache) GetOrCompute(ctx context.Context, text string, topK int, compute func() ([]vectorindex.Match, error)) ([]vectorindex.Match, bool, error) {
	if matches, ok := c.Get(ctx, text, topK); ok {
		return matches, true, nil
	}
	val, err, _ := c.group.Do(buildKey(text, topK), func() (any, error) {
		matches, err := compute()
		if err != nil {
			return nil, err
		}
		c.Set(ctx, text, topK, matches)
		return matches, nil
	})
	if err != nil {
		return nil, false, err
	}
	return val.([]vectorindex.Match), false, nil
}

// Invalidate drops every cached result. The vectoriser calls it after a run
// that changed the index.
func (c *Cache) Invalidate(ctx context.Context) error {
	deleted, err := c.client.FlushByPattern(ctx, keyPrefix+"*")
	if err != nil {
		return fmt.Errorf("invalidating query cache: %w", err)
	}
	c.logger.Info("query cache invalidated", "keys_deleted", deleted)
	return nil
}

// Stats returns hit and miss counts since start.
func (c *Cache) Stats() (hits, misses int64) {
	return c.hits.Load(), c.misses.Load()
}

func (c *Cache) miss() {
	c.misses.Add(1)
	if c.metrics != nil {
		c.metrics.CacheMissesTotal.Inc()
	}
}

// buildKey collapses whitespace only. Case reaches the embedder unchanged,
// so "NSW flats" and "nsw flats" are different queries.
func buildKey(text string, topK int) string {
	normalized := normalizeText(text)
	hash := sha256.Sum256([]byte(fmt.Sprintf("%s:k=%d", normalized, topK)))
	return fmt.Sprintf("%s%x", keyPrefix, hash[:16])
}
