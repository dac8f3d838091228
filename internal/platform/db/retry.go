package db

import (
	"context"
	"time"

	"github.com/odyssey-erp/odyssey-procure/internal/shared"
)

// RetryPolicy bounds how often a conflicting transaction is re-run.
type RetryPolicy struct {
	MaxAttempts int
	Backoff     time.Duration
}

// DefaultRetryPolicy retries three times starting at 25ms.
var DefaultRetryPolicy = RetryPolicy{MaxAttempts: 3, Backoff: 25 * time.Millisecond}

// Retry runs fn until it succeeds, fails with a non-conflict error or the
// attempts are exhausted. The backoff doubles after each conflict. The last
// conflict error is returned on exhaustion.
func Retry(ctx context.Context, policy RetryPolicy, fn func(attempt int) error) error {
	attempts := policy.MaxAttempts
	if attempts <= 0 {
		attempts = 1
	}
	delay := policy.Backoff
	var err error
	for attempt := 1; attempt <= attempts; attempt++ {
		err = fn(attempt)
		if err == nil || !shared.IsRetryable(err) {
			return err
		}
		if attempt == attempts {
			break
		}
		if delay > 0 {
			timer := time.NewTimer(delay)
			select {
			case <-ctx.Done():
				timer.Stop()
				return ctx.Err()
			case <-timer.C:
			}
			delay *= 2
		}
	}
	return err
}
