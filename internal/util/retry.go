package util

import (
	"context"
	"errors"
)

// RetryWithContextIf calls fn up to maxTries times until it returns a nil
// error, retrying only errors for which retryable returns true. If maxTries
// <= 0, it defaults to 1. Any other error is returned immediately, as is
// any error once ctx is done. A deadline that fn set for itself is left to
// retryable.
func RetryWithContextIf[T any](
	ctx context.Context,
	maxTries int,
	retryable func(error) bool,
	fn func(context.Context) (T, error),
) (T, error) {
	if maxTries <= 0 {
		maxTries = 1
	}
	var lastErr error
	var zero T
	for i := 0; i < maxTries; i++ {
		if ctx.Err() != nil {
			return zero, ctx.Err()
		}
		result, err := fn(ctx)
		if err == nil {
			return result, nil
		}
		if ctx.Err() != nil || errors.Is(err, context.Canceled) {
			return zero, err
		}
		if !retryable(err) {
			return zero, err
		}
		lastErr = err
	}
	return zero, lastErr
}
