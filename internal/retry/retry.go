// Package retry executes operations with exponential backoff. The
// final error is always the last attempt's error, tagged with the
// attempt count, never an aggregate.
package retry

import (
	"context"
	"errors"
	"fmt"
	"time"
)

const (
	defaultMaxAttempts  = 3
	defaultInitialDelay = time.Second
	defaultMaxDelay     = 30 * time.Second
	defaultMultiplier   = 2.0
)

// Executor wraps an operation with bounded retries. The zero value is
// usable and applies the defaults above.
type Executor struct {
	MaxAttempts  int
	InitialDelay time.Duration
	MaxDelay     time.Duration
	Multiplier   float64

	// RetryOn, when non-empty, restricts retries to errors matching one
	// of these sentinels (errors.Is). Empty means every error retries.
	RetryOn []error

	// OnRetry is invoked before each backoff sleep with the failed
	// attempt's error and number. Optional.
	OnRetry func(err error, attempt int)
}

func (e Executor) normalized() Executor {
	if e.MaxAttempts <= 0 {
		e.MaxAttempts = defaultMaxAttempts
	}
	if e.InitialDelay <= 0 {
		e.InitialDelay = defaultInitialDelay
	}
	if e.MaxDelay <= 0 {
		e.MaxDelay = defaultMaxDelay
	}
	if e.Multiplier <= 0 {
		e.Multiplier = defaultMultiplier
	}
	return e
}

// Do runs op until it succeeds, a non-retryable error occurs, or
// MaxAttempts is exhausted. The inter-attempt sleep honors ctx.
func (e Executor) Do(ctx context.Context, op func(context.Context) error) error {
	e = e.normalized()

	var lastErr error
	for attempt := 1; attempt <= e.MaxAttempts; attempt++ {
		lastErr = op(ctx)
		if lastErr == nil {
			return nil
		}

		if !e.retryable(lastErr) {
			return lastErr
		}
		if attempt == e.MaxAttempts {
			break
		}

		if e.OnRetry != nil {
			e.OnRetry(lastErr, attempt)
		}

		timer := time.NewTimer(e.Delay(attempt))
		select {
		case <-ctx.Done():
			timer.Stop()
			return errors.Join(ctx.Err(), lastErr)
		case <-timer.C:
		}
	}

	return fmt.Errorf("after %d attempts: %w", e.MaxAttempts, lastErr)
}

// Delay returns the backoff before the attempt following the given one:
// min(InitialDelay × Multiplier^(attempt-1), MaxDelay). Deterministic,
// no jitter.
func (e Executor) Delay(attempt int) time.Duration {
	e = e.normalized()
	d := e.InitialDelay
	for i := 1; i < attempt; i++ {
		d = time.Duration(float64(d) * e.Multiplier)
		if d >= e.MaxDelay {
			return e.MaxDelay
		}
	}
	return min(d, e.MaxDelay)
}

func (e Executor) retryable(err error) bool {
	if len(e.RetryOn) == 0 {
		return true
	}
	for _, target := range e.RetryOn {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}

// Do runs op through the executor and returns its value on success.
func Do[T any](ctx context.Context, e Executor, op func(context.Context) (T, error)) (T, error) {
	var result T
	err := e.Do(ctx, func(ctx context.Context) error {
		var opErr error
		result, opErr = op(ctx)
		return opErr
	})
	if err != nil {
		var zero T
		return zero, err
	}
	return result, nil
}
