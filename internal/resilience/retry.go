package resilience

import (
	"context"
	"math/rand"
	"time"

	"oneiric/internal/config"
	"oneiric/pkg/logging"
)

// Retry runs op up to policy.Attempts times with exponential backoff and
// jitter between attempts. The context bounds the whole sequence; a
// context error is returned as-is so callers can distinguish cancellation
// from operation failure. Zero attempts means a single try.
func Retry(ctx context.Context, policy config.RetryPolicy, subsystem string, op func(ctx context.Context) error) error {
	attempts := policy.Attempts
	if attempts < 1 {
		attempts = 1
	}

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		lastErr = op(ctx)
		if lastErr == nil {
			return nil
		}
		if attempt == attempts {
			break
		}
		delay := backoffDelay(policy, attempt)
		logging.Debug(subsystem, "Attempt %d/%d failed (%v), retrying in %s", attempt, attempts, lastErr, delay)
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return lastErr
}

// backoffDelay computes the delay before the next attempt: base doubled
// per attempt, capped at max, widened by up to jitter in either direction.
func backoffDelay(policy config.RetryPolicy, attempt int) time.Duration {
	base := policy.BaseDelay
	if base <= 0 {
		base = 100 * time.Millisecond
	}
	delay := base << (attempt - 1)
	if policy.MaxDelay > 0 && delay > policy.MaxDelay {
		delay = policy.MaxDelay
	}
	if policy.Jitter > 0 {
		spread := policy.Jitter * float64(delay)
		delay += time.Duration((rand.Float64()*2 - 1) * spread)
		if delay < 0 {
			delay = 0
		}
	}
	return delay
}
