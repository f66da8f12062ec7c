// Package retry implements the backoff policy the backend uses around
// its structured-output calls. The engine itself never retries; all retry
// budget lives behind the Executor contract.
package retry

import (
	"context"
	"fmt"
	"time"
)

// Policy defines retry behavior.
type Policy struct {
	// MaxAttempts is the total attempt budget (<= 1 means a single
	// attempt).
	MaxAttempts int
	// InitialDelay is the initial delay between retries.
	InitialDelay time.Duration
	// MaxDelay is the maximum delay between retries.
	MaxDelay time.Duration
	// Multiplier is the factor by which the delay increases.
	Multiplier float64
	// Retryable decides whether an error is worth another attempt.
	// A nil Retryable retries everything.
	Retryable func(error) bool
}

// DefaultPolicy returns the policy used for backend calls: a generous
// attempt budget with linear-ish spacing, matching the tolerance a local
// model needs to eventually emit schema-conforming output.
func DefaultPolicy() Policy {
	return Policy{
		MaxAttempts:  10,
		InitialDelay: 100 * time.Millisecond,
		MaxDelay:     2 * time.Second,
		Multiplier:   1.5,
	}
}

// Do executes fn under the policy. The first non-retryable error is
// returned as-is; exhausting the budget wraps the last error.
func (p Policy) Do(ctx context.Context, fn func() error) error {
	if p.MaxAttempts <= 1 {
		return fn()
	}

	var lastErr error
	delay := p.InitialDelay

	for attempt := 1; attempt <= p.MaxAttempts; attempt++ {
		if attempt > 1 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(delay):
			}

			delay = time.Duration(float64(delay) * p.Multiplier)
			if delay > p.MaxDelay {
				delay = p.MaxDelay
			}
		}

		lastErr = fn()
		if lastErr == nil {
			return nil
		}
		if p.Retryable != nil && !p.Retryable(lastErr) {
			return lastErr
		}
	}

	return fmt.Errorf("failed after %d attempts: %w", p.MaxAttempts, lastErr)
}

// Linear creates a policy with fixed delays between attempts.
func Linear(maxAttempts int, delay time.Duration) Policy {
	return Policy{
		MaxAttempts:  maxAttempts,
		InitialDelay: delay,
		MaxDelay:     delay,
		Multiplier:   1.0,
	}
}
