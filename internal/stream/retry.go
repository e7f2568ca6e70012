package stream

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"
)

// ErrRetriesExhausted is returned by Retry after the last failed attempt
var ErrRetriesExhausted = errors.New("stream: retries exhausted")

// RetryPolicy bounds how often an operation is attempted
type RetryPolicy struct {
	MaxAttempts int           // Total attempts including the first (default: 3)
	Delay       time.Duration // Delay after the first failure (default: 1 second)
	MaxDelay    time.Duration // Backoff cap; <= Delay gives a fixed delay
}

// DefaultRetryPolicy returns the camera probe policy: 3 attempts, fixed 1s delay
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts: 3,
		Delay:       1 * time.Second,
		MaxDelay:    1 * time.Second,
	}
}

// Backoff returns the delay after failed attempt n (1-based).
//
// Formula: delay = Delay * 2^(n-1), capped at MaxDelay.
// With MaxDelay <= Delay every wait is exactly Delay.
func (p RetryPolicy) Backoff(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	if p.MaxDelay <= p.Delay {
		return p.Delay
	}
	// avoid overflowing the shift for long retry chains
	if attempt > 31 {
		return p.MaxDelay
	}
	delay := p.Delay * time.Duration(1<<uint(attempt-1))
	if delay > p.MaxDelay || delay <= 0 {
		delay = p.MaxDelay
	}
	return delay
}

// Sleeper waits for d or until ctx is done
type Sleeper func(ctx context.Context, d time.Duration) error

// SleepContext is the real-time Sleeper
func SleepContext(ctx context.Context, d time.Duration) error {
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

// AttemptFunc performs one attempt (1-based)
type AttemptFunc func(ctx context.Context, attempt int) error

// Retry runs fn until it succeeds, the policy is exhausted or ctx is done.
//
// It returns the number of attempts made. On exhaustion the error wraps both
// ErrRetriesExhausted and the last attempt's error.
func Retry(ctx context.Context, p RetryPolicy, sleep Sleeper, fn AttemptFunc) (int, error) {
	if p.MaxAttempts < 1 {
		p.MaxAttempts = 1
	}
	if sleep == nil {
		sleep = SleepContext
	}

	var lastErr error
	for attempt := 1; attempt <= p.MaxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return attempt - 1, err
		}

		lastErr = fn(ctx, attempt)
		if lastErr == nil {
			return attempt, nil
		}

		if attempt == p.MaxAttempts {
			break
		}

		delay := p.Backoff(attempt)
		slog.Warn("stream: attempt failed, retrying",
			"attempt", attempt,
			"max_attempts", p.MaxAttempts,
			"delay", delay,
			"error", lastErr,
		)
		if err := sleep(ctx, delay); err != nil {
			return attempt, err
		}
	}

	return p.MaxAttempts, fmt.Errorf("%w after %d attempts: %w", ErrRetriesExhausted, p.MaxAttempts, lastErr)
}
