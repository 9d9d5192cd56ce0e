package worker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ppiankov/ragtrust/internal/model"
)

// Guard bounds every external call with a rate limit and a timeout
type Guard struct {
	Limiter *Limiter      // nil disables rate limiting
	Timeout time.Duration // zero disables the per-call timeout
}

// Do runs fn under the guard. Any failure comes back as a
// *model.ProviderError; a call that ran out of time also matches
// model.ErrTimeout.
func Do[T any](ctx context.Context, g Guard, provider, op string, fn func(context.Context) (T, error)) (T, error) {
	var zero T

	if g.Limiter != nil {
		if err := g.Limiter.Wait(ctx, provider); err != nil {
			return zero, model.NewProviderError(provider, op, fmt.Errorf("rate limit: %w", err))
		}
	}

	callCtx := ctx
	if g.Timeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, g.Timeout)
		defer cancel()
	}

	v, err := fn(callCtx)
	if err != nil {
		if errors.Is(callCtx.Err(), context.DeadlineExceeded) && !errors.Is(err, context.DeadlineExceeded) {
			err = fmt.Errorf("%w after %v: %w", model.ErrTimeout, g.Timeout, err)
		}
		return zero, model.NewProviderError(provider, op, err)
	}
	return v, nil
}
