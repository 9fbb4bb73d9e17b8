// Package retry implements the bounded-retry policy used for tool calls and
// server connection attempts. Every attempt races against a deadline timer;
// whichever settles first determines the attempt's outcome and the loser is
// discarded. Between attempts an exponential backoff avoids hot-looping
// against a failing dependency.
package retry

import (
	"context"
	"fmt"
	"time"

	"github.com/chartmesh/chartmesh/core"
)

// Defaults applied by Do when the corresponding Config field is zero.
const (
	DefaultBaseDelay = 150 * time.Millisecond
	DefaultMaxDelay  = 2 * time.Second
)

// Config controls retry behavior for a wrapped operation.
type Config struct {
	// MaxAttempts bounds the total number of attempts. Values below 1 are
	// normalized to 1.
	MaxAttempts int

	// Timeout is the per-attempt deadline. Zero disables the race and lets
	// the operation run until the parent context cancels.
	Timeout time.Duration

	// ShouldRetry classifies errors; nil retries everything except context
	// cancellation.
	ShouldRetry func(error) bool

	// BaseDelay and MaxDelay shape the exponential backoff between attempts.
	BaseDelay time.Duration
	MaxDelay  time.Duration

	// sleep is overridable for tests.
	sleep func(ctx context.Context, d time.Duration) error
}

// Do runs op until it succeeds, the attempt budget is exhausted, the error is
// classified non-retryable or the parent context is cancelled. It returns the
// last result, the number of attempts actually made and the final error.
func Do[T any](ctx context.Context, cfg Config, op func(ctx context.Context) (T, error)) (T, int, error) {
	var zero T
	if err := ctx.Err(); err != nil {
		return zero, 0, err
	}

	attempts := cfg.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}
	base := cfg.BaseDelay
	if base <= 0 {
		base = DefaultBaseDelay
	}
	maxDelay := cfg.MaxDelay
	if maxDelay <= 0 {
		maxDelay = DefaultMaxDelay
	}
	sleep := cfg.sleep
	if sleep == nil {
		sleep = sleepContext
	}

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		result, err := runAttempt(ctx, cfg.Timeout, op)
		if err == nil {
			return result, attempt, nil
		}
		lastErr = err

		if ctx.Err() != nil {
			return zero, attempt, lastErr
		}
		if attempt == attempts || !shouldRetry(cfg, err) {
			return zero, attempt, lastErr
		}

		delay := base << (attempt - 1)
		if delay > maxDelay {
			delay = maxDelay
		}
		if err := sleep(ctx, delay); err != nil {
			return zero, attempt, lastErr
		}
	}
	return zero, attempts, lastErr
}

// runAttempt races op against the attempt deadline. The op goroutine writes
// into a buffered channel so a completion that arrives after the deadline is
// dropped without blocking the goroutine's send.
func runAttempt[T any](ctx context.Context, timeout time.Duration, op func(ctx context.Context) (T, error)) (T, error) {
	var zero T
	if timeout <= 0 {
		return op(ctx)
	}

	attemptCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	type outcome struct {
		value T
		err   error
	}
	done := make(chan outcome, 1)
	go func() {
		v, err := op(attemptCtx)
		done <- outcome{value: v, err: err}
	}()

	select {
	case o := <-done:
		return o.value, o.err
	case <-attemptCtx.Done():
		if ctx.Err() != nil {
			return zero, ctx.Err()
		}
		return zero, fmt.Errorf("attempt exceeded %s: %w", timeout, core.ErrTimeout)
	}
}

func shouldRetry(cfg Config, err error) bool {
	if cfg.ShouldRetry == nil {
		return !isCancellation(err)
	}
	return cfg.ShouldRetry(err)
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
