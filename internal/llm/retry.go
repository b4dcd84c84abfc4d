package llm

import (
	"context"
	"time"
)

const (
	// DefaultMaxAttempts is the attempt budget when RetryPolicy.MaxAttempts is unset.
	DefaultMaxAttempts = 5
	// DefaultBackoffStep is the linear backoff unit of DefaultRetryPolicy.
	DefaultBackoffStep = 1500 * time.Millisecond
)

// RetryPolicy bounds how often a model call is attempted and how long to wait
// between attempts.
type RetryPolicy struct {
	// MaxAttempts is the total number of attempts, including the first.
	MaxAttempts int
	// Backoff returns the delay after the given failed attempt (1-based).
	Backoff func(attempt int) time.Duration
}

// LinearBackoff waits step*attempt after each failure.
func LinearBackoff(step time.Duration) func(int) time.Duration {
	return func(attempt int) time.Duration {
		return time.Duration(attempt) * step
	}
}

// DefaultRetryPolicy makes five attempts, waiting 1.5s, 3s, 4.5s and 6s in between.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts: DefaultMaxAttempts,
		Backoff:     LinearBackoff(DefaultBackoffStep),
	}
}

func (p RetryPolicy) attempts() int {
	if p.MaxAttempts <= 0 {
		return DefaultMaxAttempts
	}
	return p.MaxAttempts
}

func (p RetryPolicy) delay(attempt int) time.Duration {
	if p.Backoff == nil {
		return DefaultRetryPolicy().Backoff(attempt)
	}
	return p.Backoff(attempt)
}

// sleepContext waits for d or until ctx is done.
func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
