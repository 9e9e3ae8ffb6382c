// Package retry drives exponential-backoff retries over effectful
// operations. The driver is stateless and safe for concurrent use.
package retry

import (
	"context"
	"time"

	"github.com/packsmith/backend/internal/core"
)

// Policy controls attempt count and backoff shape.
type Policy struct {
	// Attempts is the total number of tries, including the first.
	Attempts int
	// InitialDelay is slept after the first retry-worthy failure.
	InitialDelay time.Duration
	// MaxDelay clamps the growing delay.
	MaxDelay time.Duration
	// Factor multiplies the delay after each failed attempt.
	Factor float64
	// Retryable decides whether a failure is worth another attempt.
	// Nil means core.IsTransient.
	Retryable func(error) bool
}

// DefaultPolicy mirrors the remote-call defaults: 5 attempts, 1s initial
// delay doubling up to 10s.
func DefaultPolicy() Policy {
	return Policy{
		Attempts:     5,
		InitialDelay: time.Second,
		MaxDelay:     10 * time.Second,
		Factor:       2.0,
	}
}

// Do invokes op until it succeeds, fails with a non-retryable error, or the
// attempt budget is exhausted. The last failure is returned as-is.
func Do[T any](ctx context.Context, p Policy, op func(context.Context) (T, error)) (T, error) {
	var zero T
	if p.Attempts < 1 {
		p.Attempts = 1
	}
	retryable := p.Retryable
	if retryable == nil {
		retryable = core.IsTransient
	}

	delay := p.InitialDelay
	var lastErr error
	for attempt := 1; attempt <= p.Attempts; attempt++ {
		result, err := op(ctx)
		if err == nil {
			return result, nil
		}
		if !retryable(err) {
			return zero, err
		}
		lastErr = err
		if attempt == p.Attempts {
			break
		}
		if err := sleep(ctx, delay); err != nil {
			return zero, err
		}
		delay = time.Duration(float64(delay) * p.Factor)
		if delay > p.MaxDelay {
			delay = p.MaxDelay
		}
	}
	return zero, lastErr
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
