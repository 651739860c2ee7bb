package agent

import (
	"context"
	"time"
)

// Backoff strategies for agent-level retries.
const (
	BackoffLinear      = "linear"
	BackoffExponential = "exponential"
)

// RetryPolicy bounds the retries an agent performs on transient failures.
type RetryPolicy struct {
	MaxRetries int
	Base       time.Duration
	Strategy   string
}

// retry runs fn until it succeeds, returns a non-retryable error, or the
// policy is exhausted. It returns the number of attempts made.
func retry(ctx context.Context, policy RetryPolicy, fn func(context.Context) error) (int, error) {
	attempts := policy.MaxRetries + 1
	if attempts < 1 {
		attempts = 1
	}

	var lastErr error
	for i := 1; i <= attempts; i++ {
		lastErr = fn(ctx)
		if lastErr == nil {
			return i, nil
		}
		if !isRetryable(lastErr) || i == attempts {
			return i, lastErr
		}
		select {
		case <-ctx.Done():
			return i, ctx.Err()
		case <-time.After(policy.backoff(i)):
		}
	}
	return attempts, lastErr
}

func (p RetryPolicy) backoff(attempt int) time.Duration {
	base := p.Base
	if base <= 0 {
		base = 200 * time.Millisecond
	}
	if p.Strategy == BackoffExponential {
		return base * time.Duration(1<<uint(attempt-1))
	}
	return base * time.Duration(attempt)
}
