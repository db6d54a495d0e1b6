package execution

import (
	"context"
	"time"
)

// WithTimeout runs fn under a context bounded by timeout. A non-positive
// timeout runs fn with the parent context unchanged. fn must honour
// cancellation for the bound to take effect.
func WithTimeout[T any](ctx context.Context, timeout time.Duration, fn func(ctx context.Context) (T, error)) (T, error) {
	if timeout <= 0 {
		return fn(ctx)
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	return fn(ctx)
}
