// Package resilience implements the retry state machine used for outbound
// API calls.
package resilience

import (
	"context"
	"errors"
	"math"
	"time"

	"go.uber.org/zap"
)

// Policy controls retry behavior for a single outbound call. Each attempt
// moves Sending -> {Success, Retryable, Fatal}; Retryable attempts wait
// Backoff(attempt) and try again until MaxAttempts is reached.
type Policy struct {
	// MaxAttempts is the total number of attempts including the first.
	MaxAttempts int

	// BaseDelay is the wait before the first retry.
	BaseDelay time.Duration

	// Multiplier scales the wait after each attempt.
	Multiplier float64

	// MaxDelay caps the wait.
	MaxDelay time.Duration

	// Timeout bounds the first attempt. Zero disables per-attempt timeouts.
	Timeout time.Duration

	// TimeoutGrowth scales the per-attempt timeout after an attempt times out.
	TimeoutGrowth float64

	// MaxTimeout caps the grown timeout.
	MaxTimeout time.Duration

	// Classify optionally overrides the default classification.
	Classify func(err error) Outcome

	// OnRetry is called before each retry sleep.
	OnRetry func(attempt int, wait time.Duration, err error)

	// Sleep waits d or until ctx is done. Tests replace it to avoid real waits.
	Sleep func(ctx context.Context, d time.Duration) error
}

// DefaultPolicy returns the policy used for enrichment API calls.
func DefaultPolicy() Policy {
	return Policy{
		MaxAttempts:   5,
		BaseDelay:     time.Second,
		Multiplier:    2.0,
		MaxDelay:      60 * time.Second,
		Timeout:       30 * time.Second,
		TimeoutGrowth: 1.5,
		MaxTimeout:    120 * time.Second,
	}
}

// Backoff returns the wait before retrying after the zero-based attempt:
// min(MaxDelay, BaseDelay * Multiplier^attempt).
func (p Policy) Backoff(attempt int) time.Duration {
	p = p.withDefaults()
	delay := float64(p.BaseDelay) * math.Pow(p.Multiplier, float64(attempt))
	if delay > float64(p.MaxDelay) || math.IsInf(delay, 0) {
		return p.MaxDelay
	}
	return time.Duration(delay)
}

// NextTimeout returns the timeout for the attempt following one that timed
// out with cur.
func (p Policy) NextTimeout(cur time.Duration) time.Duration {
	p = p.withDefaults()
	next := time.Duration(float64(cur) * p.TimeoutGrowth)
	if p.MaxTimeout > 0 && next > p.MaxTimeout {
		return p.MaxTimeout
	}
	return next
}

func (p Policy) withDefaults() Policy {
	d := DefaultPolicy()
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = d.MaxAttempts
	}
	if p.BaseDelay <= 0 {
		p.BaseDelay = d.BaseDelay
	}
	if p.Multiplier <= 0 {
		p.Multiplier = d.Multiplier
	}
	if p.MaxDelay <= 0 {
		p.MaxDelay = d.MaxDelay
	}
	if p.TimeoutGrowth < 1 {
		p.TimeoutGrowth = d.TimeoutGrowth
	}
	if p.Classify == nil {
		p.Classify = Classify
	}
	if p.Sleep == nil {
		p.Sleep = sleepCtx
	}
	return p
}

// Do runs fn under the policy.
func Do(ctx context.Context, p Policy, fn func(ctx context.Context) error) error {
	_, err := Execute(ctx, p, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, fn(ctx)
	})
	return err
}

// Execute runs fn under the policy and returns the value of the first
// successful attempt. A Fatal attempt returns its error immediately; running
// out of attempts returns an *ExhaustedError wrapping the last error.
// Cancellation of ctx stops the machine between attempts.
func Execute[T any](ctx context.Context, p Policy, fn func(ctx context.Context) (T, error)) (T, error) {
	p = p.withDefaults()

	var zero T
	var lastErr error
	timeout := p.Timeout

	for attempt := 0; attempt < p.MaxAttempts; attempt++ {
		val, timedOut, err := runAttempt(ctx, timeout, fn)
		if err == nil {
			return val, nil
		}
		lastErr = err

		if ctx.Err() != nil {
			return zero, lastErr
		}

		outcome := Retryable
		if !timedOut {
			outcome = p.Classify(err)
		}
		if outcome != Retryable {
			return zero, lastErr
		}

		if attempt >= p.MaxAttempts-1 {
			break
		}

		if timedOut && timeout > 0 {
			timeout = p.NextTimeout(timeout)
		}

		wait := p.Backoff(attempt)
		if p.OnRetry != nil {
			p.OnRetry(attempt+1, wait, err)
		}
		if err := p.Sleep(ctx, wait); err != nil {
			return zero, lastErr
		}
	}

	return zero, &ExhaustedError{Attempts: p.MaxAttempts, Err: lastErr}
}

// runAttempt executes one attempt, bounding it by timeout when set.
func runAttempt[T any](ctx context.Context, timeout time.Duration, fn func(ctx context.Context) (T, error)) (T, bool, error) {
	if timeout <= 0 {
		val, err := fn(ctx)
		return val, false, err
	}

	attemptCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	val, err := fn(attemptCtx)
	timedOut := err != nil && ctx.Err() == nil && errors.Is(attemptCtx.Err(), context.DeadlineExceeded)
	return val, timedOut, err
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// RetryLogger returns an OnRetry callback that logs each retry attempt.
func RetryLogger(service, operation string) func(int, time.Duration, error) {
	return func(attempt int, wait time.Duration, err error) {
		zap.L().Warn("retrying operation",
			zap.String("service", service),
			zap.String("operation", operation),
			zap.Int("attempt", attempt),
			zap.Duration("wait", wait),
			zap.Error(err),
		)
	}
}
