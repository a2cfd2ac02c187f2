package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/Adithya-Monish-Kumar-K/rental-semantic-search/internal/bootstrap"
	"github.com/Adithya-Monish-Kumar-K/rental-semantic-search/internal/embedding"
	"github.com/Adithya-Monish-Kumar-K/rental-semantic-search/internal/query"
	"github.com/Adithya-Monish-Kumar-K/rental-semantic-search/internal/vectorise"
	"github.com/Adithya-Monish-Kumar-K/rental-semantic-search/pkg/config"
	"github.com/Adithya-Monish-Kumar-K/rental-semantic-search/pkg/kafka"
	"github.com/Adithya-Monish-Kumar-K/rental-semantic-search/pkg/logger"
	"github.com/Adithya-Monish-Kumar-K/rental-semantic-search/pkg/metrics"
)

func main() {
	configPath := flag.String("config", "configs/development.yaml", "path to config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger.Setup(cfg.Logging.Level, cfg.Logging.Format)
	slog.Info("starting vectoriser",
		"batch_limit", cfg.Sync.BatchLimit,
		"threshold", cfg.Sync.TriggerThreshold,
		"interval", cfg.Sync.Interval,
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	m := metrics.New()
	if cfg.Metrics.Enabled {
		shutdown := metrics.StartServer(cfg.Metrics.Port)
		defer shutdown(context.Background())
	}

	db, store, err := bootstrap.Store(ctx, cfg.Postgres)
	if err != nil {
		slog.Error("failed to open listing store", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	index, err := bootstrap.Index(ctx, cfg.Qdrant, cfg.Embedding.Dimensions)
	if err != nil {
		slog.Error("failed to open vector index", "error", err)
		os.Exit(1)
	}
	defer index.Close()

	embedder := embedding.NewOllama(cfg.Embedding)
	if err := embedder.Ping(ctx); err != nil {
		slog.Warn("embedding model not reachable yet, runs will fail until it is", "error", err)
	}

	opts := []vectorise.Option{vectorise.WithMetrics(m)}
	var locker vectorise.Locker
	if redisClient := bootstrap.Redis(cfg.Redis); redisClient != nil {
		defer redisClient.Close()
		locker = vectorise.NewRedisLocker(redisClient, vectorise.LockKey, cfg.Sync.LockTTL)
		opts = append(opts, vectorise.WithInvalidator(query.NewCache(redisClient, cfg.Redis.CacheTTL, nil)))
	}

	syncer := vectorise.NewSynchronizer(store, embedder, index, cfg.Sync, opts...)
	runner := vectorise.NewRunner(syncer, locker, cfg.Sync)

	if cfg.Kafka.Enabled {
		consumer := kafka.NewConsumer(cfg.Kafka, cfg.Kafka.Topics.ListingUpserted, runner.HandleMessage)
		go func() {
			if err := consumer.Start(ctx); err != nil {
				slog.Error("upsert consumer stopped", "error", err)
			}
		}()
		slog.Info("consuming upsert events",
			"topic", cfg.Kafka.Topics.ListingUpserted,
			"group", cfg.Kafka.ConsumerGroup,
		)
	}

	// Catch up on anything left pending while the service was down.
	if n, err := runner.RunOnce(ctx); err != nil {
		slog.Warn("startup sync did not run", "error", err)
	} else {
		slog.Info("startup sync complete", "embedded", n)
	}

	if err := runner.Run(ctx); err != nil {
		slog.Error("sync runner error", "error", err)
	}
	slog.Info("vectoriser stopped")
}
