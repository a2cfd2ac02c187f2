// Package vectorise keeps the vector index in step with the listing store.
// A listing is marked vectorised only after its embedding has been written
// to the index; anything that fails on the way stays eligible for the next
// run.
package vectorise

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/Adithya-Monish-Kumar-K/rental-semantic-search/internal/embedding"
	"github.com/Adithya-Monish-Kumar-K/rental-semantic-search/internal/listing"
	"github.com/Adithya-Monish-Kumar-K/rental-semantic-search/internal/vectorindex"
	"github.com/Adithya-Monish-Kumar-K/rental-semantic-search/pkg/config"
	"github.com/Adithya-Monish-Kumar-K/rental-semantic-search/pkg/metrics"
	"github.com/Adithya-Monish-Kumar-K/rental-semantic-search/pkg/resilience"
	"github.com/Adithya-Monish-Kumar-K/rental-semantic-search/pkg/tracing"
	"golang.org/x/sync/errgroup"
)

// releaseTimeout bounds claim releases, which run even after the caller's
// context is cancelled.
const releaseTimeout = 5 * time.Second

// Invalidator drops cached query results once the index has changed.
type Invalidator interface {
	Invalidate(ctx context.Context) error
}

// Synchronizer embeds unvectorised listings and promotes them into the
// index. It holds no state between runs; the store's vectorised flag and
// claim lease drive everything.
type Synchronizer struct {
	store    listing.Store
	embedder embedding.Embedder
	index    vectorindex.Index
	cfg      config.SyncConfig

	metrics     *metrics.Metrics
	invalidator Invalidator
	logger      *slog.Logger
	now         func() time.Time
}

// Option configures optional Synchronizer collaborators.
type Option func(*Synchronizer)

// WithMetrics records run outcomes on m.
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Synchronizer) { s.metrics = m }
}

// WithInvalidator flushes inv after every run that marked at least one
// listing.
func WithInvalidator(inv Invalidator) Option {
	return func(s *Synchronizer) { s.invalidator = inv }
}

// NewSynchronizer wires a synchronizer. Zero-valued sync settings fall back
// to sane minimums.
func NewSynchronizer(store listing.Store, emb embedding.Embedder, idx vectorindex.Index, cfg config.SyncConfig, opts ...Option) *Synchronizer {
	if cfg.BatchLimit <= 0 {
		cfg.BatchLimit = 100
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 1
	}
	if cfg.ClaimLease <= 0 {
		cfg.ClaimLease = 5 * time.Minute
	}
	s := &Synchronizer{
		store:    store,
		embedder: emb,
		index:    idx,
		cfg:      cfg,
		logger:   slog.Default().With("component", "synchronizer"),
		now:      func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// item tracks one candidate through a run.
type item struct {
	cand   listing.Candidate
	record vectorindex.Record
	err    error
}

// Sync claims up to limit unvectorised listings, embeds their descriptions,
// writes the records to the index and marks the listings that made it. It
// returns how many listings were marked. Per-listing failures are logged and
// released; only claim and fetch failures abort the run.
func (s *Synchronizer) Sync(ctx context.Context, limit int) (int, error) {
	if limit <= 0 {
		limit = s.cfg.BatchLimit
	}
	start := time.Now()
	ctx, run := tracing.Start(ctx, "sync")
	defer func() {
		run.End()
		run.Log(ctx, s.logger)
	}()

	_, stage := tracing.Start(ctx, "claim")
	cands, err := s.store.ClaimUnvectorised(ctx, limit, s.cfg.ClaimLease)
	stage.End()
	run.Set("claimed", len(cands))
	if err != nil {
		s.observeRun("error", start)
		return 0, fmt.Errorf("claiming unvectorised listings: %w", err)
	}
	if s.metrics != nil {
		s.metrics.UnvectorisedObserved.Set(float64(len(cands)))
	}
	if len(cands) == 0 {
		s.logger.Debug("nothing to vectorise")
		s.observeRun("empty", start)
		return 0, nil
	}

	// Work past the lease could race a runner that has since reclaimed the
	// listing, so the remaining stages stop when the lease would lapse.
	ctx, cancel := context.WithTimeout(ctx, s.cfg.ClaimLease)
	defer cancel()

	ids := make([]string, len(cands))
	for i, c := range cands {
		ids[i] = c.ListingID
	}
	_, stage = tracing.Start(ctx, "fetch")
	listings, err := s.store.GetMany(ctx, ids)
	stage.End()
	if err != nil {
		s.release(ctx, ids)
		s.observeRun("error", start)
		return 0, fmt.Errorf("fetching claimed listings: %w", err)
	}

	_, stage = tracing.Start(ctx, "embed")
	items := s.embedAll(ctx, cands, listings)
	stage.End()

	_, stage = tracing.Start(ctx, "index_write")
	s.writeIndex(ctx, items)
	stage.End()

	_, stage = tracing.Start(ctx, "mark")
	marked, failed := s.markAll(ctx, items)
	stage.End()
	run.Set("embedded", marked)
	run.Set("failed", failed)

	if s.metrics != nil {
		s.metrics.SyncListingsTotal.WithLabelValues("embedded").Add(float64(marked))
		s.metrics.SyncListingsTotal.WithLabelValues("failed").Add(float64(failed))
	}
	status := "ok"
	if failed > 0 {
		status = "partial"
	}
	s.observeRun(status, start)

	if marked > 0 && s.invalidator != nil {
		if err := s.invalidator.Invalidate(ctx); err != nil {
			s.logger.Warn("query cache invalidation failed", "error", err)
		}
	}

	s.logger.Info("sync run complete",
		"run_id", run.RunID,
		"claimed", len(cands),
		"embedded", marked,
		"failed", failed,
		"duration_ms", time.Since(start).Milliseconds(),
	)
	return marked, nil
}

// embedAll embeds every candidate with bounded concurrency. An item that
// fails keeps its error and is skipped by the later stages.
func (s *Synchronizer) embedAll(ctx context.Context, cands []listing.Candidate, listings map[string]listing.Listing) []*item {
	items := make([]*item, len(cands))
	var g errgroup.Group
	g.SetLimit(s.cfg.Concurrency)
	for i, c := range cands {
		it := &item{cand: c}
		items[i] = it
		l, ok := listings[c.ListingID]
		if !ok {
			it.err = fmt.Errorf("listing %s vanished after claim", c.ListingID)
			continue
		}
		g.Go(func() error {
			it.record, it.err = s.embedOne(ctx, l)
			return nil
		})
	}
	_ = g.Wait()
	return items
}

func (s *Synchronizer) embedOne(ctx context.Context, l listing.Listing) (vectorindex.Record, error) {
	start := time.Now()
	vec, err := resilience.Call(ctx, s.cfg.EmbedTimeout, "embed "+l.ID, func(ctx context.Context) ([]float32, error) {
		return s.embedder.Embed(ctx, l.Description)
	})
	if s.metrics != nil {
		s.metrics.EmbeddingLatency.Observe(time.Since(start).Seconds())
	}
	if err != nil {
		return vectorindex.Record{}, err
	}
	now := s.now()
	return vectorindex.Record{
		ID:         l.ID,
		Vector:     vec,
		Document:   l.Description,
		EmbeddedAt: now,
		Metadata: map[string]string{
			"property_type": l.PropertyType,
			"state":         l.State,
			"postcode":      l.Postcode,
			"bedrooms":      strconv.Itoa(l.Bedrooms),
		},
	}, nil
}

// writeIndex writes all embedded records as one batch. If the batch is
// rejected each record is retried alone so one bad record cannot hold back
// the rest.
func (s *Synchronizer) writeIndex(ctx context.Context, items []*item) {
	var pending []*item
	for _, it := range items {
		if it.err == nil {
			pending = append(pending, it)
		}
	}
	if len(pending) == 0 {
		return
	}
	records := make([]vectorindex.Record, len(pending))
	for i, it := range pending {
		records[i] = it.record
	}
	err := resilience.WithTimeout(ctx, s.cfg.IndexTimeout, "index batch", func(ctx context.Context) error {
		return s.index.Upsert(ctx, records)
	})
	if err == nil {
		return
	}
	s.logger.Warn("batch index write failed, retrying per listing", "records", len(records), "error", err)
	for _, it := range pending {
		if ctx.Err() != nil {
			it.err = ctx.Err()
			continue
		}
		it.err = resilience.WithTimeout(ctx, s.cfg.IndexTimeout, "index "+it.cand.ListingID, func(ctx context.Context) error {
			return s.index.Upsert(ctx, []vectorindex.Record{it.record})
		})
	}
}

// markAll marks every indexed item and releases the rest. Marking stops as
// soon as ctx is done; unmarked claims then lapse with their lease.
func (s *Synchronizer) markAll(ctx context.Context, items []*item) (marked, failed int) {
	var release []string
	for _, it := range items {
		id := it.cand.ListingID
		if it.err != nil {
			s.logger.Warn("listing not vectorised", "listing_id", id, "error", it.err)
			release = append(release, id)
			failed++
			continue
		}
		if ctx.Err() != nil {
			failed++
			continue
		}
		n, err := s.store.MarkVectorised(ctx, it.cand)
		if err != nil {
			s.logger.Error("marking listing vectorised", "listing_id", id, "error", err)
			release = append(release, id)
			failed++
			continue
		}
		s.logger.Debug("listing vectorised", "listing_id", id, "events", n)
		marked++
	}
	s.release(ctx, release)
	return marked, failed
}

func (s *Synchronizer) release(ctx context.Context, ids []string) {
	if len(ids) == 0 {
		return
	}
	rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), releaseTimeout)
	defer cancel()
	for _, id := range ids {
		if err := s.store.ReleaseClaim(rctx, id); err != nil {
			s.logger.Warn("releasing claim", "listing_id", id, "error", err)
		}
	}
}

func (s *Synchronizer) observeRun(status string, start time.Time) {
	if s.metrics == nil {
		return
	}
	s.metrics.SyncRunsTotal.WithLabelValues(status).Inc()
	s.metrics.SyncDuration.Observe(time.Since(start).Seconds())
}
