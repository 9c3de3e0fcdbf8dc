package resilience

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Default deadlines for list queries and for the reporting paths.
const (
	DefaultTimeout = 30 * time.Second
	ReportTimeout  = 60 * time.Second
)

// WithTimeout runs fn and waits at most d for it to settle. On expiry the
// context handed to fn is cancelled and ErrTimeout is returned even if fn
// ignores its context.
func WithTimeout[T any](ctx context.Context, d time.Duration, fn func(context.Context) (T, error)) (T, error) {
	var zero T
	if d <= 0 {
		d = DefaultTimeout
	}

	callCtx, cancel := context.WithTimeout(ctx, d)
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

	select {
	case r := <-done:
		if r.err != nil && errors.Is(r.err, context.DeadlineExceeded) && callCtx.Err() != nil && ctx.Err() == nil {
			return zero, fmt.Errorf("%w after %s", ErrTimeout, d)
		}
		return r.val, r.err
	case <-callCtx.Done():
		if err := ctx.Err(); errors.Is(err, context.Canceled) {
			return zero, fmt.Errorf("%w: %w", ErrCanceled, err)
		}
		return zero, fmt.Errorf("%w after %s", ErrTimeout, d)
	}
}
