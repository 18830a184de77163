package exchange

import (
	"context"
	"fmt"
	"time"
)

// RetryPolicy bounds venue calls: each attempt runs under its own timeout,
// and non-retryable failures short-circuit.
type RetryPolicy struct {
	Attempts int           // total attempts, default 3
	Timeout  time.Duration // per-attempt deadline, default 5s
	Backoff  time.Duration // pause between attempts, default 1s
}

// DefaultRetryPolicy matches the reference discipline: 5s timeout, 3
// attempts, 1s apart.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{Attempts: 3, Timeout: 5 * time.Second, Backoff: time.Second}
}

func (p RetryPolicy) normalize() RetryPolicy {
	if p.Attempts <= 0 {
		p.Attempts = 3
	}
	if p.Timeout <= 0 {
		p.Timeout = 5 * time.Second
	}
	if p.Backoff <= 0 {
		p.Backoff = time.Second
	}
	return p
}

// Do runs fn under the policy. The last error is returned once attempts are
// exhausted or a non-retryable failure occurs.
func (p RetryPolicy) Do(ctx context.Context, op string, fn func(ctx context.Context) error) error {
	p = p.normalize()

	var lastErr error
	for attempt := 1; attempt <= p.Attempts; attempt++ {
		attemptCtx, cancel := context.WithTimeout(ctx, p.Timeout)
		err := fn(attemptCtx)
		cancel()
		if err == nil {
			return nil
		}
		lastErr = err
		if !IsRetryable(err) {
			return fmt.Errorf("%s: %w", op, err)
		}
		if attempt < p.Attempts {
			select {
			case <-ctx.Done():
				return fmt.Errorf("%s: %w", op, ctx.Err())
			case <-time.After(p.Backoff):
			}
		}
	}
	return fmt.Errorf("%s: attempts exhausted: %w", op, lastErr)
}
