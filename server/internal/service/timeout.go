package service

import (
	"context"
	"errors"
	"fmt"
	"time"
)

const defaultUpstreamTimeout = 30 * time.Second

// callUpstream runs fn under its own deadline and reports an expired deadline
// as ErrUpstreamTimeout.
func callUpstream[T any](ctx context.Context, timeout time.Duration, fn func(context.Context) (T, error)) (T, error) {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	v, err := fn(ctx)
	if err != nil {
		var zero T
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return zero, fmt.Errorf("%w: %w", ErrUpstreamTimeout, err)
		}
		return zero, err
	}
	return v, nil
}

func runUpstream(ctx context.Context, timeout time.Duration, fn func(context.Context) error) error {
	_, err := callUpstream(ctx, timeout, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, fn(ctx)
	})
	return err
}
