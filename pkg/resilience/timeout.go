package resilience

import (
	"context"
	"fmt"
	"time"

	apperrors "github.com/Adithya-Monish-Kumar-K/rental-semantic-search/pkg/errors"
)

// Call runs fn under a deadline and returns its value. A call that overruns
// returns an error matching both apperrors.ErrTimeout and
// context.DeadlineExceeded; fn keeps running in the background until it
// notices its context is done, and its late result is discarded. A
// non-positive timeout runs fn inline.
func Call[T any](ctx context.Context, timeout time.Duration, name string, fn func(ctx context.Context) (T, error)) (T, error) {
	if timeout <= 0 {
		return fn(ctx)
	}
	callCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	type result struct {
		val T
		err error
	}
	done := make(chan result, 1)
	go func() {
		v, err := fn(callCtx)
		done <- result{v, err}
	}()

	var zero T
	select {
	case r := <-done:
		return r.val, r.err
	case <-callCtx.Done():
		if err := ctx.Err(); err != nil {
			return zero, fmt.Errorf("%s: abandoned: %w", name, err)
		}
		return zero, fmt.Errorf("%s: %w after %v: %w", name, apperrors.ErrTimeout, timeout, context.DeadlineExceeded)
	}
}

// WithTimeout is Call for functions that only report an error.
func WithTimeout(ctx context.Context, timeout time.Duration, name string, fn func(ctx context.Context) error) error {
	_, err := Call(ctx, timeout, name, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, fn(ctx)
	})
	return err
}
