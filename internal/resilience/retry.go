package resilience

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v5"
)

// RetryConfig holds backoff parameters for retrying transient faults.
type RetryConfig struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
}

// Retry runs op with exponential backoff until it succeeds, the attempt
// budget is spent, or ctx is cancelled. Storage and transport adapters are
// the intended callers; errors wrapped with Permanent are not retried.
func Retry[T any](ctx context.Context, cfg RetryConfig, op func() (T, error)) (T, error) {
	bo := backoff.NewExponentialBackOff()
	if cfg.BaseDelay > 0 {
		bo.InitialInterval = cfg.BaseDelay
	}
	if cfg.MaxDelay > 0 {
		bo.MaxInterval = cfg.MaxDelay
	}

	opts := []backoff.RetryOption{backoff.WithBackOff(bo)}
	if cfg.MaxAttempts > 0 {
		opts = append(opts, backoff.WithMaxTries(uint(cfg.MaxAttempts)))
	}

	return backoff.Retry(ctx, backoff.Operation[T](op), opts...)
}

// Permanent marks err as non-retryable for Retry.
func Permanent(err error) error {
	return backoff.Permanent(err)
}
