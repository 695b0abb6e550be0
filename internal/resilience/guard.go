package resilience

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
	"golang.org/x/time/rate"
)

// Guard bundles the protections applied to one outbound dependency. Any
// field may be left zero to skip that protection.
type Guard struct {
	Limiter *rate.Limiter
	Breaker *CircuitBreaker
	Retry   RetryConfig
	// Timeout bounds each attempt, not the whole call.
	Timeout time.Duration
}

// Call runs fn under g: every attempt waits for the limiter, passes the
// breaker and gets its own timeout; transient failures are retried.
func Call[T any](ctx context.Context, g Guard, fn func(ctx context.Context) (T, error)) (T, error) {
	attempt := func(ctx context.Context) (T, error) {
		if g.Limiter != nil {
			if err := g.Limiter.Wait(ctx); err != nil {
				var zero T
				return zero, eris.Wrap(err, "resilience: rate limit wait")
			}
		}
		if g.Timeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, g.Timeout)
			defer cancel()
		}
		if g.Breaker != nil {
			return ExecuteVal(ctx, g.Breaker, fn)
		}
		return fn(ctx)
	}
	return DoVal(ctx, g.Retry, attempt)
}

// NewLimiter returns a limiter allowing perSec calls with a burst of one, or
// nil when perSec is not positive.
func NewLimiter(perSec float64) *rate.Limiter {
	if perSec <= 0 {
		return nil
	}
	return rate.NewLimiter(rate.Limit(perSec), 1)
}
