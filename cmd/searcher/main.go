package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/Adithya-Monish-Kumar-K/rental-semantic-search/internal/bootstrap"
	"github.com/Adithya-Monish-Kumar-K/rental-semantic-search/internal/embedding"
	"github.com/Adithya-Monish-Kumar-K/rental-semantic-search/internal/query"
	"github.com/Adithya-Monish-Kumar-K/rental-semantic-search/pkg/config"
	"github.com/Adithya-Monish-Kumar-K/rental-semantic-search/pkg/health"
	"github.com/Adithya-Monish-Kumar-K/rental-semantic-search/pkg/logger"
	"github.com/Adithya-Monish-Kumar-K/rental-semantic-search/pkg/metrics"
	"github.com/Adithya-Monish-Kumar-K/rental-semantic-search/pkg/middleware"
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
	slog.Info("starting search service", "port", cfg.Server.Port, "model", cfg.Embedding.Model)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	m := metrics.New()

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

	opts := []query.Option{query.WithMetrics(m)}
	redisClient := bootstrap.Redis(cfg.Redis)
	if redisClient != nil {
		defer redisClient.Close()
		opts = append(opts, query.WithCache(query.NewCache(redisClient, cfg.Redis.CacheTTL, m)))
		slog.Info("query cache enabled", "addr", cfg.Redis.Addr, "ttl", cfg.Redis.CacheTTL)
	}
	svc := query.NewService(embedder, index, cfg.Query, opts...)

	checker := health.NewChecker()
	checker.Register("postgres", health.PingCheck(db.Ping, false))
	checker.Register("qdrant", health.PingCheck(index.Ping, false))
	checker.Register("embedder", health.PingCheck(embedder.Ping, false))
	if redisClient != nil {
		checker.Register("redis", health.PingCheck(redisClient.Ping, true))
	}

	mux := http.NewServeMux()
	query.NewHandler(svc, store, cfg.Query).Register(mux)
	mux.HandleFunc("GET /health/live", checker.LiveHandler())
	mux.HandleFunc("GET /health/ready", checker.ReadyHandler())
	mux.Handle("GET /metrics", metrics.Handler())

	handler := middleware.Chain(mux,
		middleware.OTel("searcher"),
		middleware.RequestID,
		middleware.CORS(middleware.DefaultCORSConfig(cfg.CORS.AllowOrigins)),
		middleware.Metrics(m),
		middleware.RateLimit(middleware.NewClientLimiter(cfg.Query.RatePerSecond, cfg.Query.Burst)),
		middleware.Timeout(cfg.Server.WriteTimeout),
	)

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      handler,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	go func() {
		<-ctx.Done()
		slog.Info("shutdown signal received")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			slog.Error("server shutdown error", "error", err)
		}
	}()

	slog.Info("search service listening", "addr", server.Addr)
	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		slog.Error("server error", "error", err)
		os.Exit(1)
	}

	slog.Info("search service stopped")
}
