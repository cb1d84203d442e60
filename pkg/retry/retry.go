package retry

import (
	"context"
	"time"

	"github.com/avast/retry-go/v4"
)

// Config holds retry configuration
type Config struct {
	// MaxAttempts counts the first call; it is always at least 1.
	MaxAttempts  uint
	InitialDelay time.Duration
	MaxDelay     time.Duration

	// IsRetryable classifies errors. A nil classifier retries everything.
	IsRetryable func(error) bool

	// OnRetry is called before each backoff with the 1-based attempt that failed.
	OnRetry func(attempt uint, err error)
}

// DefaultConfig returns default retry configuration
func DefaultConfig() Config {
	return Config{
		MaxAttempts:  5,
		InitialDelay: 1 * time.Second,
		MaxDelay:     30 * time.Second,
	}
}

// Delay is the backoff before retry number n (0-based): min(initial * 2^n, max).
func Delay(initial, maxDelay time.Duration, n uint) time.Duration {
	if initial <= 0 {
		return 0
	}
	d := initial
	for i := uint(0); i < n; i++ {
		if maxDelay > 0 && d >= maxDelay {
			break
		}
		d *= 2
	}
	if maxDelay > 0 && d > maxDelay {
		return maxDelay
	}
	return d
}

// Do executes a function with exponential backoff retry.
// The last error is returned unchanged so callers can inspect it.
func Do(ctx context.Context, cfg Config, fn func() error) error {
	attempts := cfg.MaxAttempts
	if attempts == 0 {
		// retry-go treats 0 as "forever"
		attempts = 1
	}
	isRetryable := cfg.IsRetryable
	if isRetryable == nil {
		isRetryable = func(error) bool { return true }
	}

	return retry.Do(
		fn,
		retry.Context(ctx),
		retry.Attempts(attempts),
		retry.RetryIf(isRetryable),
		retry.DelayType(func(n uint, _ error, _ *retry.Config) time.Duration {
			return Delay(cfg.InitialDelay, cfg.MaxDelay, n)
		}),
		retry.LastErrorOnly(true),
		retry.OnRetry(func(n uint, err error) {
			if cfg.OnRetry != nil {
				cfg.OnRetry(n+1, err)
			}
		}),
	)
}

// DoWithResult executes a function with exponential backoff retry and returns a result
func DoWithResult[T any](ctx context.Context, cfg Config, fn func() (T, error)) (T, error) {
	var result T
	err := Do(ctx, cfg, func() error {
		var err error
		result, err = fn()
		return err
	})
	return result, err
}
