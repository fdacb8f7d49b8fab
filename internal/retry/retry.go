// Package retry provides utilities for retrying operations with configurable
// backoff strategies.
package retry

import (
	"context"
	"errors"
	"math/rand"
	"time"
)

// Config configures retry behavior.
type Config struct {
	// MaxAttempts is the maximum number of attempts (including the first).
	MaxAttempts int
	// MinDelay is the lower bound of the randomized delay between attempts.
	MinDelay time.Duration
	// MaxDelay is the upper bound of the randomized delay between attempts.
	MaxDelay time.Duration
}

// Uniform creates a config whose delay is drawn uniformly from [min, max]
// before every retry.
func Uniform(maxAttempts int, min, max time.Duration) Config {
	return Config{MaxAttempts: maxAttempts, MinDelay: min, MaxDelay: max}
}

// Result contains the outcome of a retry operation.
type Result struct {
	// Attempts is the number of attempts made.
	Attempts int
	// Err is the last error (nil if successful).
	Err error
	// Duration is the total time spent retrying.
	Duration time.Duration
}

// Op is a retried operation. attempt starts at 1; retryCount is the number
// of prior failures (attempt-1), which operations may use to escalate
// per-attempt parameters.
type Op func(retryCount int) error

// Do executes the operation with retries. Errors wrapped with Permanent stop
// the loop immediately; everything else retries until MaxAttempts.
func Do(ctx context.Context, config Config, op Op) Result {
	start := time.Now()
	result := Result{}

	if config.MaxAttempts <= 0 {
		config.MaxAttempts = 1
	}
	if config.MinDelay <= 0 {
		config.MinDelay = time.Second
	}
	if config.MaxDelay < config.MinDelay {
		config.MaxDelay = config.MinDelay
	}

	for attempt := 1; attempt <= config.MaxAttempts; attempt++ {
		result.Attempts = attempt

		if ctx.Err() != nil {
			result.Err = ctx.Err()
			result.Duration = time.Since(start)
			return result
		}

		err := op(attempt - 1)
		if err == nil {
			result.Err = nil
			result.Duration = time.Since(start)
			return result
		}
		result.Err = err

		if IsPermanent(err) {
			result.Duration = time.Since(start)
			return result
		}
		if attempt >= config.MaxAttempts {
			break
		}

		span := config.MaxDelay - config.MinDelay
		sleep := config.MinDelay
		if span > 0 {
			sleep += time.Duration(rand.Int63n(int64(span))) // #nosec G404 -- jitter does not require cryptographic randomness
		}

		select {
		case <-ctx.Done():
			result.Err = ctx.Err()
			result.Duration = time.Since(start)
			return result
		case <-time.After(sleep):
		}
	}

	result.Duration = time.Since(start)
	return result
}

// DoWithValue executes an operation that returns a value with retries.
func DoWithValue[T any](ctx context.Context, config Config, op func(retryCount int) (T, error)) (T, Result) {
	var value T
	result := Do(ctx, config, func(retryCount int) error {
		var err error
		value, err = op(retryCount)
		return err
	})
	return value, result
}

// PermanentError is an error that should not be retried.
type PermanentError struct {
	Err error
}

func (e *PermanentError) Error() string {
	return e.Err.Error()
}

func (e *PermanentError) Unwrap() error {
	return e.Err
}

// Permanent wraps an error to indicate it should not be retried.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &PermanentError{Err: err}
}

// IsPermanent checks if an error is permanent (shouldn't retry).
func IsPermanent(err error) bool {
	var permanent *PermanentError
	return errors.As(err, &permanent)
}

// IsRetryable checks if an error is retryable (not permanent and not nil).
func IsRetryable(err error) bool {
	return err != nil && !IsPermanent(err)
}
