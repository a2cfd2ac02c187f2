package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/Adithya-Monish-Kumar-K/rental-semantic-search/internal/bootstrap"
	"github.com/Adithya-Monish-Kumar-K/rental-semantic-search/internal/cli"
	"github.com/Adithya-Monish-Kumar-K/rental-semantic-search/internal/embedding"
	"github.com/Adithya-Monish-Kumar-K/rental-semantic-search/internal/query"
	"github.com/Adithya-Monish-Kumar-K/rental-semantic-search/internal/vectorise"
	"github.com/Adithya-Monish-Kumar-K/rental-semantic-search/pkg/config"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := cli.NewRootCmd(open).ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// open connects only to what the command needs. Search runs uncached so
// results always reflect the live index.
func open(ctx context.Context, cfg *config.Config, needs cli.Needs) (*cli.Env, error) {
	env := &cli.Env{}
	var closers []func()
	env.Close = func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	if needs&cli.NeedStore != 0 {
		db, store, err := bootstrap.Store(ctx, cfg.Postgres)
		if err != nil {
			return nil, err
		}
		closers = append(closers, func() { db.Close() })
		env.Store, env.Admin, env.Deduper = store, store, store
	}

	if needs&cli.NeedIndex != 0 {
		index, err := bootstrap.Index(ctx, cfg.Qdrant, cfg.Embedding.Dimensions)
		if err != nil {
			env.Close()
			return nil, err
		}
		closers = append(closers, func() { index.Close() })

		embedder := embedding.NewOllama(cfg.Embedding)
		env.Search = query.NewService(embedder, index, cfg.Query)

		if env.Store != nil {
			var locker vectorise.Locker
			var opts []vectorise.Option
			if redisClient := bootstrap.Redis(cfg.Redis); redisClient != nil {
				closers = append(closers, func() { redisClient.Close() })
				locker = vectorise.NewRedisLocker(redisClient, vectorise.LockKey, cfg.Sync.LockTTL)
				opts = append(opts, vectorise.WithInvalidator(query.NewCache(redisClient, cfg.Redis.CacheTTL, nil)))
			}
			syncer := vectorise.NewSynchronizer(env.Store, embedder, index, cfg.Sync, opts...)
			env.Syncer = vectorise.NewRunner(syncer, locker, cfg.Sync)
		}
	}
	return env, nil
}
