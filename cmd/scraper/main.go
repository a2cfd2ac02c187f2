package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io/fs"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"sort"
	"syscall"

	"github.com/Adithya-Monish-Kumar-K/rental-semantic-search/internal/bootstrap"
	"github.com/Adithya-Monish-Kumar-K/rental-semantic-search/internal/ingest"
	"github.com/Adithya-Monish-Kumar-K/rental-semantic-search/internal/normalize"
	"github.com/Adithya-Monish-Kumar-K/rental-semantic-search/pkg/config"
	"github.com/Adithya-Monish-Kumar-K/rental-semantic-search/pkg/health"
	"github.com/Adithya-Monish-Kumar-K/rental-semantic-search/pkg/kafka"
	"github.com/Adithya-Monish-Kumar-K/rental-semantic-search/pkg/logger"
	"github.com/Adithya-Monish-Kumar-K/rental-semantic-search/pkg/metrics"
	"github.com/Adithya-Monish-Kumar-K/rental-semantic-search/pkg/middleware"
)

func main() {
	configPath := flag.String("config", "configs/development.yaml", "path to config file")
	site := flag.String("site", "", "only ingest this site (default: all configured sites)")
	input := flag.String("input", "", "JSONL file to ingest (default: <inputDir>/<site>.jsonl)")
	serve := flag.Bool("serve", false, "accept pushed records over HTTP instead of reading files")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger.Setup(cfg.Logging.Level, cfg.Logging.Format)

	sites, err := normalize.LoadSiteConfigs(cfg.Scraper.SitesDir)
	if err != nil {
		slog.Error("failed to load site configs", "dir", cfg.Scraper.SitesDir, "error", err)
		os.Exit(1)
	}
	if *site != "" {
		sc, ok := sites[*site]
		if !ok {
			slog.Error("unknown site", "site", *site)
			os.Exit(1)
		}
		sites = map[string]normalize.SiteConfig{*site: sc}
	}
	slog.Info("starting scraper ingest", "sites", len(sites), "serve", *serve)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	m := metrics.New()

	db, store, err := bootstrap.Store(ctx, cfg.Postgres)
	if err != nil {
		slog.Error("failed to open listing store", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	opts := []ingest.Option{ingest.WithMetrics(m)}
	if cfg.Kafka.Enabled {
		producer := kafka.NewProducer(cfg.Kafka, cfg.Kafka.Topics.ListingUpserted)
		defer producer.Close()
		opts = append(opts, ingest.WithPublisher(producer))
	}
	pipeline := ingest.NewPipeline(store, opts...)

	if *serve {
		if err := serveHTTP(ctx, cfg, pipeline, sites, m, db.Ping); err != nil {
			slog.Error("server error", "error", err)
			os.Exit(1)
		}
		return
	}

	if cfg.Metrics.Enabled {
		shutdown := metrics.StartServer(cfg.Metrics.Port)
		defer shutdown(context.Background())
	}

	names := make([]string, 0, len(sites))
	for name := range sites {
		names = append(names, name)
	}
	sort.Strings(names)

	failed := false
	for _, name := range names {
		path := *input
		if path == "" {
			path = filepath.Join(cfg.Scraper.InputDir, name+".jsonl")
		}
		if err := ingestFile(ctx, pipeline, path, sites[name]); err != nil {
			if errors.Is(err, context.Canceled) {
				slog.Info("ingest interrupted")
				break
			}
			slog.Error("site ingest failed", "site", name, "path", path, "error", err)
			failed = true
		}
	}
	if failed {
		os.Exit(1)
	}
}

func ingestFile(ctx context.Context, p *ingest.Pipeline, path string, sc normalize.SiteConfig) error {
	src, err := ingest.OpenFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		slog.Info("no input for site, skipping", "site", sc.Site, "path", path)
		return nil
	}
	if err != nil {
		return err
	}
	defer src.Close()

	stats, err := p.Run(ctx, src, sc)
	if err != nil {
		return err
	}
	slog.Info("site ingested", "site", sc.Site, "path", path, "processed", stats.Processed, "rejected", stats.Rejected, "failed", stats.Failed)
	return nil
}

func serveHTTP(ctx context.Context, cfg *config.Config, p *ingest.Pipeline, sites map[string]normalize.SiteConfig, m *metrics.Metrics, ping func(context.Context) error) error {
	checker := health.NewChecker()
	checker.Register("postgres", health.PingCheck(ping, false))

	mux := http.NewServeMux()
	ingest.NewHandler(p, sites).Register(mux)
	mux.HandleFunc("GET /health/live", checker.LiveHandler())
	mux.HandleFunc("GET /health/ready", checker.ReadyHandler())
	mux.Handle("GET /metrics", metrics.Handler())

	server := &http.Server{
		Addr: fmt.Sprintf(":%d", cfg.Server.Port),
		Handler: middleware.Chain(mux,
			middleware.RequestID,
			middleware.Metrics(m),
			middleware.Timeout(cfg.Server.WriteTimeout),
		),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			slog.Error("server shutdown error", "error", err)
		}
	}()

	slog.Info("ingest endpoint listening", "addr", server.Addr)
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	slog.Info("ingest endpoint stopped")
	return nil
}
