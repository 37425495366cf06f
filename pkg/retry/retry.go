// Package retry wraps a single external call in a bounded retry policy with
// linear backoff and a terminal fallback.
//
// Execute never returns an error: when every attempt fails it hands back the
// caller's degraded value together with the last failure, so batch callers
// can record the fallback and move on. No failure class is fatal here.
package retry

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/maia-bench/maia/pkg/debug"
	"github.com/maia-bench/maia/pkg/observability"
)

// Sleeper waits for d or until ctx is done.
type Sleeper func(ctx context.Context, d time.Duration) error

// Policy parameterizes one call site.
type Policy struct {
	// Name labels logs and metrics (e.g., "model", "capability", "rewrite").
	Name string

	// MaxAttempts bounds the number of attempts. Values below 1 mean 1.
	MaxAttempts int

	// BaseDelay scales the linear backoff: the wait after failed attempt n
	// (1-based) is BaseDelay*n.
	BaseDelay time.Duration

	// Timeout bounds each attempt. Zero means no per-attempt timeout.
	Timeout time.Duration

	// Sleep replaces the real timer, mainly for tests.
	Sleep Sleeper

	// Logger defaults to slog.Default().
	Logger *slog.Logger
}

// Backoff returns the wait applied after failed attempt n (1-based).
func (p Policy) Backoff(attempt int) time.Duration {
	return p.BaseDelay * time.Duration(attempt)
}

func (p Policy) attempts() int {
	if p.MaxAttempts < 1 {
		return 1
	}
	return p.MaxAttempts
}

func (p Policy) name() string {
	if p.Name == "" {
		return "default"
	}
	return p.Name
}

// Outcome is the result of Execute. When Fallback is set, Value holds the
// caller's degraded value and Err the last attempt's *TransientCallError.
type Outcome[T any] struct {
	Value    T
	Attempts int
	Delays   []time.Duration
	Fallback bool
	Err      error
}

// Execute runs op until it succeeds or the policy's attempts are used up.
// Parent-context cancellation ends retrying early and also yields a fallback.
func Execute[T any](ctx context.Context, p Policy, op func(ctx context.Context) (T, error), fallback T) Outcome[T] {
	logger := p.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "retry", "policy", p.name())
	sleep := p.Sleep
	if sleep == nil {
		sleep = sleepContext
	}
	maxAttempts := p.attempts()

	var out Outcome[T]
	var lastErr error

	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			lastErr = &TransientCallError{Attempt: attempt, Class: ClassCanceled, Err: err}
			break
		}

		out.Attempts = attempt
		value, err := runAttempt(ctx, p.Timeout, op)
		if err == nil {
			observability.RetryAttemptsTotal.WithLabelValues(p.name(), "ok").Inc()
			if attempt > 1 {
				logger.Info("call succeeded after retry", "attempt", attempt)
			}
			out.Value = value
			return out
		}

		class := Classify(err)
		lastErr = &TransientCallError{Attempt: attempt, Class: class, Err: err}
		observability.RetryAttemptsTotal.WithLabelValues(p.name(), string(class)).Inc()

		if class == ClassMalformed {
			logger.Warn("request rejected as malformed", "attempt", attempt, "max_attempts", maxAttempts, "error", err)
		} else {
			logger.Warn("attempt failed", "attempt", attempt, "max_attempts", maxAttempts, "class", class, "error", err)
		}

		// No backoff after the final attempt.
		if attempt == maxAttempts {
			break
		}

		delay := p.Backoff(attempt)
		debug.Log("retry", "backing off", "policy", p.name(), "attempt", attempt, "delay", delay)
		if err := sleep(ctx, delay); err != nil {
			lastErr = &TransientCallError{Attempt: attempt, Class: ClassCanceled, Err: fmt.Errorf("waiting to retry: %w", err)}
			break
		}
		out.Delays = append(out.Delays, delay)
	}

	observability.RetryFallbacksTotal.WithLabelValues(p.name()).Inc()
	logger.Warn("attempts exhausted, using fallback", "attempts", out.Attempts, "error", lastErr)

	out.Value = fallback
	out.Fallback = true
	out.Err = lastErr
	return out
}

func runAttempt[T any](ctx context.Context, timeout time.Duration, op func(ctx context.Context) (T, error)) (T, error) {
	if timeout <= 0 {
		return op(ctx)
	}
	attemptCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	value, err := op(attemptCtx)
	if err != nil && ctx.Err() == nil && errors.Is(attemptCtx.Err(), context.DeadlineExceeded) && !errors.Is(err, context.DeadlineExceeded) {
		err = fmt.Errorf("attempt timed out after %s: %w: %w", timeout, context.DeadlineExceeded, err)
	}
	return value, err
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
