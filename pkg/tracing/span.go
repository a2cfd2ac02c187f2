// Package tracing times the stages of a background run and logs them as a
// single tree when the run ends. HTTP requests are traced by otelhttp; this
// covers work that never passes through a handler, such as sync runs.
package tracing

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

type ctxKey struct{}

// Span is one timed stage. Children started from a span's context attach to
// it and share its RunID.
type Span struct {
	Name  string
	RunID string

	mu       sync.Mutex
	start    time.Time
	duration time.Duration
	ended    bool
	attrs    []any
	children []*Span
}

// Start opens a span under the one in ctx, or a new root with a fresh RunID
// when ctx carries none.
func Start(ctx context.Context, name string) (context.Context, *Span) {
	s := &Span{Name: name, start: time.Now()}
	if parent := FromContext(ctx); parent != nil {
		s.RunID = parent.RunID
		parent.mu.Lock()
		parent.children = append(parent.children, s)
		parent.mu.Unlock()
	} else {
		s.RunID = uuid.NewString()
	}
	return context.WithValue(ctx, ctxKey{}, s), s
}

// FromContext returns the active span, or nil.
func FromContext(ctx context.Context) *Span {
	s, _ := ctx.Value(ctxKey{}).(*Span)
	return s
}

// End fixes the duration. Later calls are ignored.
func (s *Span) End() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.ended {
		s.duration = time.Since(s.start)
		s.ended = true
	}
}

// Set attaches an attribute that is logged with the span.
func (s *Span) Set(key string, value any) {
	s.mu.Lock()
	s.attrs = append(s.attrs, key, value)
	s.mu.Unlock()
}

func (s *Span) Duration() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.ended {
		return time.Since(s.start)
	}
	return s.duration
}

// Children returns the direct child spans in start order.
func (s *Span) Children() []*Span {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]*Span(nil), s.children...)
}

// Log writes the span and its descendants at debug level, parents first.
func (s *Span) Log(ctx context.Context, logger *slog.Logger) {
	s.log(ctx, logger, 0)
}

func (s *Span) log(ctx context.Context, logger *slog.Logger, depth int) {
	s.mu.Lock()
	attrs := append([]any{
		"run_id", s.RunID,
		"span", s.Name,
		"depth", depth,
		"duration_ms", s.durationLocked().Milliseconds(),
	}, s.attrs...)
	children := append([]*Span(nil), s.children...)
	s.mu.Unlock()

	logger.DebugContext(ctx, "span", attrs...)
	for _, c := range children {
		c.log(ctx, logger, depth+1)
	}
}

func (s *Span) durationLocked() time.Duration {
	if !s.ended {
		return time.Since(s.start)
	}
	return s.duration
}
