// Package bootstrap builds the long-lived clients shared by the binaries.
// Every handle is created once in main and injected from there.
package bootstrap

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/Adithya-Monish-Kumar-K/rental-semantic-search/internal/listing"
	"github.com/Adithya-Monish-Kumar-K/rental-semantic-search/internal/vectorindex"
	"github.com/Adithya-Monish-Kumar-K/rental-semantic-search/pkg/config"
	"github.com/Adithya-Monish-Kumar-K/rental-semantic-search/pkg/postgres"
	pkgredis "github.com/Adithya-Monish-Kumar-K/rental-semantic-search/pkg/redis"
	"github.com/Adithya-Monish-Kumar-K/rental-semantic-search/pkg/resilience"
)

var startupRetry = resilience.RetryConfig{
	MaxAttempts:  5,
	InitialDelay: 500 * time.Millisecond,
	MaxDelay:     5 * time.Second,
	Multiplier:   2,
}

// Store connects to Postgres, retrying while the database starts, and
// makes sure the schema exists.
func Store(ctx context.Context, cfg config.PostgresConfig) (*postgres.Client, *listing.PostgresStore, error) {
	var db *postgres.Client
	err := resilience.Retry(ctx, "postgres connect", startupRetry, func() error {
		var err error
		db, err = postgres.New(cfg)
		return err
	})
	if err != nil {
		return nil, nil, fmt.Errorf("connecting to postgres: %w", err)
	}
	store := listing.NewPostgresStore(db)
	if err := store.EnsureSchema(ctx); err != nil {
		db.Close()
		return nil, nil, err
	}
	slog.Info("postgres connected", "host", cfg.Host, "database", cfg.Database)
	return db, store, nil
}

// Index dials Qdrant and creates the collection if it is missing.
func Index(ctx context.Context, qcfg config.QdrantConfig, dims int) (*vectorindex.Qdrant, error) {
	idx, err := vectorindex.NewQdrant(qcfg.Addr, qcfg.Collection, dims)
	if err != nil {
		return nil, err
	}
	err = resilience.Retry(ctx, "qdrant collection", startupRetry, func() error {
		return idx.EnsureCollection(ctx)
	})
	if err != nil {
		idx.Close()
		return nil, err
	}
	slog.Info("vector index ready", "addr", qcfg.Addr, "collection", qcfg.Collection, "dims", dims)
	return idx, nil
}

// Redis returns nil when Redis is disabled or unreachable; callers treat a
// nil client as "run without cache and lock".
func Redis(cfg config.RedisConfig) *pkgredis.Client {
	if !cfg.Enabled {
		return nil
	}
	client, err := pkgredis.NewClient(cfg)
	if err != nil {
		slog.Warn("redis unavailable, continuing without it", "addr", cfg.Addr, "error", err)
		return nil
	}
	return client
}
