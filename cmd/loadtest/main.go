// Command loadtest drives the /retrieve/ endpoint with a fixed pool of
// workers and reports latency percentiles and the status code mix.
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"
)

type loadConfig struct {
	BaseURL     string
	Concurrency int
	Duration    time.Duration
	TopK        int
	// RPS caps the combined request rate; zero means as fast as possible.
	RPS     float64
	Queries []string
}

var defaultQueries = []string{
	"two bedroom apartment near the city",
	"family house with a big backyard",
	"pet friendly unit close to the beach",
	"studio walking distance to university",
	"townhouse with double garage",
	"quiet flat with balcony and city views",
	"furnished apartment short commute",
	"three bedroom house with study",
	"renovated kitchen natural light",
	"apartment with pool and gym",
	"house near schools and parks",
	"cheap room inner suburbs",
}

func main() {
	baseURL := flag.String("url", "http://localhost:8080", "base URL of the search service")
	concurrency := flag.Int("concurrency", 10, "number of concurrent workers")
	duration := flag.Duration("duration", 30*time.Second, "test duration")
	topK := flag.Int("k", 10, "results requested per query")
	rps := flag.Float64("rps", 0, "combined request rate cap (0 = unlimited)")
	flag.Parse()

	cfg := loadConfig{
		BaseURL:     *baseURL,
		Concurrency: *concurrency,
		Duration:    *duration,
		TopK:        *topK,
		RPS:         *rps,
		Queries:     defaultQueries,
	}

	fmt.Println("=== Retrieval Load Test ===")
	fmt.Printf("Target:      %s/retrieve/\n", cfg.BaseURL)
	fmt.Printf("Concurrency: %d\n", cfg.Concurrency)
	fmt.Printf("Duration:    %s\n", cfg.Duration)
	fmt.Printf("Queries:     %d unique, k=%d\n", len(cfg.Queries), cfg.TopK)
	fmt.Println()

	stats := runLoadTest(cfg)
	report := stats.Report(cfg.Duration)
	report.Print(os.Stdout)
	if report.Total == 0 {
		fmt.Println()
		fmt.Println("WARNING: No requests completed. Is the search service running?")
		os.Exit(1)
	}
}

func retrieveURL(base, term string, k int) string {
	v := url.Values{}
	v.Set("term", term)
	v.Set("k", strconv.Itoa(k))
	return base + "/retrieve/?" + v.Encode()
}

func runLoadTest(cfg loadConfig) *Stats {
	stats := NewStats()
	client := &http.Client{
		Timeout: 10 * time.Second,
		Transport: &http.Transport{
			MaxIdleConns:        cfg.Concurrency * 2,
			MaxIdleConnsPerHost: cfg.Concurrency * 2,
			IdleConnTimeout:     90 * time.Second,
		},
	}

	var limiter *rate.Limiter
	if cfg.RPS > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.RPS), cfg.Concurrency)
	}

	ctx, cancel := context.WithTimeout(context.Background(), cfg.Duration)
	defer cancel()

	g, ctx := errgroup.WithContext(ctx)
	fmt.Print("Running")
	go progress(ctx)

	for w := range cfg.Concurrency {
		g.Go(func() error {
			for i := w; ctx.Err() == nil; i++ {
				if limiter != nil && limiter.Wait(ctx) != nil {
					return nil
				}
				target := retrieveURL(cfg.BaseURL, cfg.Queries[i%len(cfg.Queries)], cfg.TopK)
				req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
				if err != nil {
					return fmt.Errorf("creating request: %w", err)
				}

				start := time.Now()
				resp, err := client.Do(req)
				elapsed := time.Since(start)
				if err != nil {
					if ctx.Err() != nil {
						return nil
					}
					stats.Record(elapsed, 0, err)
					continue
				}
				io.Copy(io.Discard, resp.Body)
				resp.Body.Close()
				stats.Record(elapsed, resp.StatusCode, nil)
			}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		fmt.Fprintf(os.Stderr, "\nload test aborted: %v\n", err)
	}
	fmt.Println(" done!")
	fmt.Println()
	return stats
}

func progress(ctx context.Context) {
	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			fmt.Print(".")
		}
	}
}
