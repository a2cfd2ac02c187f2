// Package query answers free-text searches by embedding the text with the
// indexing model and asking the vector index for its nearest listings.
package query

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/Adithya-Monish-Kumar-K/rental-semantic-search/internal/embedding"
	"github.com/Adithya-Monish-Kumar-K/rental-semantic-search/internal/vectorindex"
	"github.com/Adithya-Monish-Kumar-K/rental-semantic-search/pkg/config"
	apperrors "github.com/Adithya-Monish-Kumar-K/rental-semantic-search/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/rental-semantic-search/pkg/metrics"
	"github.com/Adithya-Monish-Kumar-K/rental-semantic-search/pkg/resilience"
)

// ResultCache memoizes search results keyed by query text and topK.
type ResultCache interface {
	GetOrCompute(ctx context.Context, text string, topK int, compute func() ([]vectorindex.Match, error)) ([]vectorindex.Match, bool, error)
}

// Service is the read-only semantic search path.
type Service struct {
	embedder embedding.Embedder
	index    vectorindex.Index
	breaker  *resilience.CircuitBreaker
	cache    ResultCache
	cfg      config.QueryConfig
	metrics  *metrics.Metrics
	logger   *slog.Logger
}

// Option configures optional Service collaborators.
type Option func(*Service)

// WithCache serves repeated searches from c.
func WithCache(c ResultCache) Option {
	return func(s *Service) { s.cache = c }
}

// WithMetrics records query outcomes on m.
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) { s.metrics = m }
}

// NewService builds a Service. Embedding calls go through a circuit breaker
// so a dead model fails fast instead of tying up request goroutines.
func NewService(emb embedding.Embedder, idx vectorindex.Index, cfg config.QueryConfig, opts ...Option) *Service {
	if cfg.MaxTopK <= 0 {
		cfg.MaxTopK = 50
	}
	s := &Service{
		embedder: emb,
		index:    idx,
		cfg:      cfg,
		logger:   slog.Default().With("component", "query-service"),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.breaker = resilience.NewCircuitBreaker("embedder", resilience.CircuitBreakerConfig{
		FailureThreshold: 5,
		ResetTimeout:     30 * time.Second,
		IsFailure: func(err error) bool {
			return !errors.Is(err, context.Canceled)
		},
		OnStateChange: func(name string, to resilience.State) {
			if s.metrics != nil {
				s.metrics.CircuitBreakerState.WithLabelValues(name).Set(float64(to))
			}
		},
	})
	return s
}

// Validate rejects blank text and non-positive topK.
func Validate(text string, topK int) error {
	if strings.TrimSpace(text) == "" {
		return fmt.Errorf("%w: query text is empty", apperrors.ErrInvalidQuery)
	}
	if topK <= 0 {
		return fmt.Errorf("%w: topK must be positive, got %d", apperrors.ErrInvalidQuery, topK)
	}
	return nil
}

// normalizeText collapses runs of whitespace. The cache key and the embedded
// text are both derived from it, so a cached entry always answers the exact
// text the model would have seen.
func normalizeText(text string) string {
	return strings.Join(strings.Fields(text), " ")
}

// Search returns up to topK matches ordered by ascending cosine distance.
// topK above the configured maximum is clamped. Invalid input fails before
// the model or the index is touched.
func (s *Service) Search(ctx context.Context, text string, topK int) ([]vectorindex.Match, error) {
	start := time.Now()
	if err := Validate(text, topK); err != nil {
		s.observe("invalid", "none", 0, start)
		return nil, err
	}
	topK = min(topK, s.cfg.MaxTopK)
	text = normalizeText(text)

	if s.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.cfg.Timeout)
		defer cancel()
	}

	var (
		matches []vectorindex.Match
		cached  bool
		err     error
	)
	cacheStatus := "none"
	if s.cache != nil {
		matches, cached, err = s.cache.GetOrCompute(ctx, text, topK, func() ([]vectorindex.Match, error) {
			return s.search(ctx, text, topK)
		})
		cacheStatus = "miss"
		if cached {
			cacheStatus = "hit"
		}
	} else {
		matches, err = s.search(ctx, text, topK)
	}
	if err != nil {
		s.observe("error", cacheStatus, 0, start)
		return nil, err
	}

	resultType := "ok"
	if len(matches) == 0 {
		resultType = "zero_result"
	}
	s.observe(resultType, cacheStatus, len(matches), start)
	return matches, nil
}

func (s *Service) search(ctx context.Context, text string, topK int) ([]vectorindex.Match, error) {
	var vec []float32
	err := s.breaker.Execute(func() error {
		v, err := s.embedder.Embed(ctx, text)
		if err != nil {
			return err
		}
		vec = v
		return nil
	})
	if errors.Is(err, resilience.ErrCircuitOpen) {
		return nil, fmt.Errorf("%w: %w", apperrors.ErrUnavailable, err)
	}
	if err != nil {
		if errors.Is(err, apperrors.ErrEmbedding) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %w", apperrors.ErrEmbedding, err)
	}

	matches, err := s.index.Query(ctx, vec, topK)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", apperrors.ErrIndex, err)
	}
	if matches == nil {
		matches = []vectorindex.Match{}
	}
	return matches, nil
}

func (s *Service) observe(resultType, cacheStatus string, n int, start time.Time) {
	if s.metrics == nil {
		return
	}
	s.metrics.QueriesTotal.WithLabelValues(resultType).Inc()
	s.metrics.QueryLatency.WithLabelValues(cacheStatus).Observe(time.Since(start).Seconds())
	if resultType == "ok" || resultType == "zero_result" {
		s.metrics.QueryResultsCount.Observe(float64(n))
	}
}
