package llm

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/xhad/askdoc/internal/types"
)

// callWithTimeout runs fn under a per-attempt deadline. An attempt that runs
// out of time is retried once; a second expiry is reported as
// types.ErrModelTimeout. Cancellation of ctx itself is never retried.
func callWithTimeout[T any](ctx context.Context, timeout time.Duration, fn func(context.Context) (T, error)) (T, error) {
	if timeout <= 0 {
		return fn(ctx)
	}

	var zero T
	for attempt := 0; attempt < 2; attempt++ {
		attemptCtx, cancel := context.WithTimeout(ctx, timeout)
		result, err := fn(attemptCtx)
		expired := errors.Is(attemptCtx.Err(), context.DeadlineExceeded)
		cancel()

		if err == nil {
			return result, nil
		}
		if ctx.Err() != nil || !expired {
			return zero, err
		}
	}

	return zero, fmt.Errorf("%w after %s", types.ErrModelTimeout, timeout)
}
