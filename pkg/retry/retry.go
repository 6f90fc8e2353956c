// Quill - Memory layer for a personal command assistant
// License: MIT
//
// Copyright (c) 2026 Quill contributors

package retry

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Policy is a reusable retry configuration shared by ingestion sub-batches
// and completion calls.
type Policy struct {
	MaxAttempts int
	Backoff     func(attempt int) time.Duration
	Retryable   func(err error) bool
}

// hinter is implemented by errors carrying a provider retry-after hint.
type hinter interface {
	RetryAfter() time.Duration
}

// Default mirrors the ingestion budget: 3 attempts, 2^attempt seconds.
func Default() Policy {
	return Policy{
		MaxAttempts: 3,
		Backoff:     Exponential(time.Second),
		Retryable:   func(error) bool { return true },
	}
}

// Exponential returns base * 2^attempt for attempt starting at 1.
func Exponential(base time.Duration) func(int) time.Duration {
	return func(attempt int) time.Duration {
		if attempt < 1 {
			attempt = 1
		}
		d := base
		for i := 1; i < attempt; i++ {
			d *= 2
		}
		return d * 2
	}
}

// Do runs op until it succeeds, the attempt budget is exhausted, or ctx is
// done. A retry-after hint on the error overrides the backoff schedule.
func (p Policy) Do(ctx context.Context, op func(ctx context.Context) error) error {
	attempts := p.MaxAttempts
	if attempts <= 0 {
		attempts = 1
	}

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		lastErr = op(ctx)
		if lastErr == nil {
			return nil
		}
		if p.Retryable != nil && !p.Retryable(lastErr) {
			return lastErr
		}
		if attempt == attempts {
			break
		}

		delay := time.Duration(0)
		if p.Backoff != nil {
			delay = p.Backoff(attempt)
		}
		var h hinter
		if errors.As(lastErr, &h) {
			if after := h.RetryAfter(); after > 0 {
				delay = after
			}
		}
		if delay > 0 {
			timer := time.NewTimer(delay)
			select {
			case <-ctx.Done():
				timer.Stop()
				return ctx.Err()
			case <-timer.C:
			}
		}
	}
	return fmt.Errorf("gave up after %d attempts: %w", attempts, lastErr)
}
