package saga

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

// RetryPolicy is an exponential backoff schedule for transient step failures.
type RetryPolicy struct {
	InitialInterval    time.Duration
	BackoffCoefficient float64
	MaxInterval        time.Duration
	MaxAttempts        int
}

// DefaultRetryPolicy matches the activity options the payment sagas run with:
// 10s initial interval, doubling, capped at one minute, six attempts total.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		InitialInterval:    10 * time.Second,
		BackoffCoefficient: 2.0,
		MaxInterval:        time.Minute,
		MaxAttempts:        6,
	}
}

// Do runs fn until it succeeds, returns a non-retryable error, exhausts
// MaxAttempts, or ctx is cancelled.
func (p RetryPolicy) Do(ctx context.Context, op string, fn func(context.Context) error) error {
	interval := p.InitialInterval
	var lastErr error

	for attempt := 1; attempt <= p.MaxAttempts; attempt++ {
		lastErr = fn(ctx)
		if lastErr == nil {
			return nil
		}
		if IsNonRetryable(lastErr) {
			return lastErr
		}
		if attempt == p.MaxAttempts {
			break
		}

		slog.WarnContext(ctx, "step failed, retrying",
			"op", op, "attempt", attempt, "backoff", interval, "error", lastErr)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(interval):
		}

		interval = time.Duration(float64(interval) * p.BackoffCoefficient)
		if p.MaxInterval > 0 && interval > p.MaxInterval {
			interval = p.MaxInterval
		}
	}

	return fmt.Errorf("%s: attempts exhausted: %w", op, lastErr)
}
