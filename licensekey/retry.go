package licensekey

import (
	"context"
	"fmt"
	"time"
)

// RetryPolicy bounds how often a transient key lookup is retried.
type RetryPolicy struct {
	MaxAttempts  int
	InitialDelay time.Duration
	MaxDelay     time.Duration
	Multiplier   float64
}

// DefaultRetryPolicy returns the policy used when none is configured.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts:  3,
		InitialDelay: 50 * time.Millisecond,
		MaxDelay:     time.Second,
		Multiplier:   2.0,
	}
}

// delay returns the pause after the given failed attempt, counting from 1.
func (p RetryPolicy) delay(attempt int) time.Duration {
	d := p.InitialDelay
	for i := 1; i < attempt; i++ {
		d = time.Duration(float64(d) * p.Multiplier)
		if p.MaxDelay > 0 && d >= p.MaxDelay {
			return p.MaxDelay
		}
	}
	if p.MaxDelay > 0 && d > p.MaxDelay {
		return p.MaxDelay
	}
	return d
}

// sleepFunc waits for d or until ctx is done.
type sleepFunc func(ctx context.Context, d time.Duration) error

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// retry runs fn until it succeeds, fails with a non-transient error, or the
// policy is exhausted. The last transient error is wrapped in ErrKeySourceExhausted.
func retry[T any](ctx context.Context, p RetryPolicy, sleep sleepFunc, fn func() (T, error)) (T, int, error) {
	attempts := max(p.MaxAttempts, 1)
	var zero T
	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		v, err := fn()
		if err == nil {
			return v, attempt, nil
		}
		if !IsTransient(err) {
			return zero, attempt, err
		}
		lastErr = err
		if attempt == attempts {
			break
		}
		if err := sleep(ctx, p.delay(attempt)); err != nil {
			return zero, attempt, err
		}
	}
	return zero, attempts, &exhaustedError{attempts: attempts, err: lastErr}
}

type exhaustedError struct {
	attempts int
	err      error
}

func (e *exhaustedError) Error() string {
	return fmt.Sprintf("%s after %d attempts: %v", ErrKeySourceExhausted, e.attempts, e.err)
}

func (e *exhaustedError) Is(target error) bool { return target == ErrKeySourceExhausted }

func (e *exhaustedError) Unwrap() error { return e.err }
