package orchestrator

import (
	"context"
	"math"
	"time"
)

// BackoffPolicy retries an operation with exponential delays. Only errors
// the retryable predicate accepts are retried; everything else fails fast.
type BackoffPolicy struct {
	BaseDelay   time.Duration
	MaxDelay    time.Duration
	MaxAttempts int
}

// DefaultBackoff suits short-lived store contention: 3 attempts at
// 100ms, 200ms between them.
var DefaultBackoff = BackoffPolicy{
	BaseDelay:   100 * time.Millisecond,
	MaxDelay:    2 * time.Second,
	MaxAttempts: 3,
}

// delay calculates the exponential backoff delay for an attempt (1-based).
func (p BackoffPolicy) delay(attempt int) time.Duration {
	d := float64(p.BaseDelay) * math.Pow(2, float64(attempt-1))
	if d > float64(p.MaxDelay) {
		d = float64(p.MaxDelay)
	}
	return time.Duration(d)
}

// Retry runs fn up to MaxAttempts times, sleeping between attempts. It
// stops early when fn succeeds, when the error is not retryable, or when
// the context is cancelled.
func (p BackoffPolicy) Retry(ctx context.Context, fn func() error, retryable func(error) bool) error {
	var err error
	for attempt := 1; attempt <= p.MaxAttempts; attempt++ {
		if err = fn(); err == nil {
			return nil
		}
		if !retryable(err) {
			return err
		}
		if attempt == p.MaxAttempts {
			break
		}

		select {
		case <-time.After(p.delay(attempt)):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return err
}
