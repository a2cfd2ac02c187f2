package ingest

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/Adithya-Monish-Kumar-K/rental-semantic-search/internal/listing"
	"github.com/Adithya-Monish-Kumar-K/rental-semantic-search/internal/normalize"
	apperrors "github.com/Adithya-Monish-Kumar-K/rental-semantic-search/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/rental-semantic-search/pkg/kafka"
	"github.com/Adithya-Monish-Kumar-K/rental-semantic-search/pkg/metrics"
)

// rawSummaryLimit caps the raw tree attached to missing-field warnings.
const rawSummaryLimit = 2048

// Publisher announces committed upserts.
type Publisher interface {
	Publish(ctx context.Context, event kafka.Event) error
}

// Pipeline normalizes, validates and stores raw records one at a time.
type Pipeline struct {
	store     listing.Store
	publisher Publisher
	metrics   *metrics.Metrics
	logger    *slog.Logger
	now       func() time.Time
}

// Option configures optional Pipeline collaborators.
type Option func(*Pipeline)

// WithPublisher sends a listing.upserted event after every stored record.
func WithPublisher(p Publisher) Option {
	return func(pl *Pipeline) { pl.publisher = p }
}

// WithMetrics records outcomes on m.
func WithMetrics(m *metrics.Metrics) Option {
	return func(pl *Pipeline) { pl.metrics = m }
}

func NewPipeline(store listing.Store, opts ...Option) *Pipeline {
	p := &Pipeline{
		store:  store,
		logger: slog.Default().With("component", "ingest-pipeline"),
		now:    func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Outcome describes one processed record.
type Outcome struct {
	Listing listing.Listing
	Result  listing.UpsertResult
	Missing []string
}

// Process stores one raw record. Missing fields are logged and counted but
// never fatal. Validation and store failures are returned and affect only
// this record.
func (p *Pipeline) Process(ctx context.Context, rec RawRecord, cfg normalize.SiteConfig) (Outcome, error) {
	l, diags := normalize.Normalize(rec.Payload, cfg)
	out := Outcome{Listing: l, Missing: diags.Fields()}

	if len(diags) > 0 {
		raw := normalize.Summarize(rec.Payload, rawSummaryLimit)
		for _, d := range diags {
			p.logger.Warn("extraction field missing",
				"site", cfg.Site,
				"url", rec.URL,
				"field", d.Field,
				"key", d.Key,
				"depth", d.Depth,
				"raw", raw,
			)
			if p.metrics != nil {
				p.metrics.FieldsMissingTotal.WithLabelValues(d.Field).Inc()
			}
		}
	}

	if err := Validate(l); err != nil {
		p.reject("validation")
		return out, fmt.Errorf("%w: %s: %w", apperrors.ErrInvalidInput, rec.URL, err)
	}

	capture := listing.Capture{ScrapedAt: rec.ScrapedAt, SourceURL: rec.URL}
	if capture.ScrapedAt.IsZero() {
		capture.ScrapedAt = p.now()
	}
	res, err := p.store.Upsert(ctx, l, capture)
	if err != nil {
		p.reject("store")
		return out, fmt.Errorf("upserting listing %s: %w", l.ID, err)
	}
	out.Result = res
	if p.metrics != nil {
		p.metrics.ListingsUpsertedTotal.WithLabelValues(res.Label()).Inc()
	}
	p.logger.Info("listing stored",
		"listing_id", l.ID,
		"action", res.Label(),
		"changed", res.Changed,
		"event_id", res.EventID,
	)

	if p.publisher != nil {
		event := kafka.Event{Key: l.ID, Value: listing.NewUpsertedEvent(l.ID, res, capture)}
		if err := p.publisher.Publish(ctx, event); err != nil {
			// The event row is committed; the interval trigger still finds it.
			p.logger.Error("failed to publish upsert event",
				"listing_id", l.ID,
				"error", err,
			)
		}
	}
	return out, nil
}

// RunStats tallies one Run.
type RunStats struct {
	Processed int `json:"processed"`
	Created   int `json:"created"`
	Updated   int `json:"updated"`
	Unchanged int `json:"unchanged"`
	Rejected  int `json:"rejected"`
	Failed    int `json:"failed"`
}

// Run drains src sequentially. A bad record is logged and skipped; only a
// source failure or cancellation ends the run early.
func (p *Pipeline) Run(ctx context.Context, src Source, cfg normalize.SiteConfig) (RunStats, error) {
	var stats RunStats
	start := time.Now()
	for {
		rec, err := src.Next(ctx)
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			if errors.Is(err, apperrors.ErrInvalidInput) {
				p.logger.Warn("skipping malformed record", "site", cfg.Site, "error", err)
				p.reject("malformed")
				stats.Rejected++
				continue
			}
			return stats, err
		}
		if rec.Site != "" && rec.Site != cfg.Site {
			p.logger.Warn("record belongs to another site, skipping", "record_site", rec.Site, "site", cfg.Site, "url", rec.URL)
			p.reject("site_mismatch")
			stats.Rejected++
			continue
		}

		stats.Processed++
		out, err := p.Process(ctx, rec, cfg)
		switch {
		case errors.Is(err, apperrors.ErrInvalidInput):
			p.logger.Warn("listing rejected", "url", rec.URL, "error", err)
			stats.Rejected++
		case err != nil:
			if ctx.Err() != nil {
				return stats, ctx.Err()
			}
			p.logger.Error("listing failed", "url", rec.URL, "error", err)
			stats.Failed++
		case out.Result.NoOp():
			stats.Unchanged++
		case out.Result.Action == listing.Created:
			stats.Created++
		default:
			stats.Updated++
		}
	}
	p.logger.Info("ingest run complete",
		"site", cfg.Site,
		"processed", stats.Processed,
		"created", stats.Created,
		"updated", stats.Updated,
		"unchanged", stats.Unchanged,
		"rejected", stats.Rejected,
		"failed", stats.Failed,
		"duration_ms", time.Since(start).Milliseconds(),
	)
	return stats, nil
}

func (p *Pipeline) reject(reason string) {
	if p.metrics != nil {
		p.metrics.IngestRejectedTotal.WithLabelValues(reason).Inc()
	}
}
