// Package retry runs an operation under a bounded exponential backoff policy.
package retry

import (
	"context"
	"time"
)

const (
	DefaultMaxAttempts = 5
	DefaultBaseDelay   = 200 * time.Millisecond
)

// SleepFunc waits for d or until ctx is done.
type SleepFunc func(ctx context.Context, d time.Duration) error

// Policy describes how many times to try and how long to wait in between.
// The delay before attempt n+1 is BaseDelay * 2^(n-1).
type Policy struct {
	MaxAttempts int
	BaseDelay   time.Duration

	// Sleep is injectable so tests do not wait on the wall clock.
	Sleep SleepFunc

	// OnRetry, when set, is called before each wait.
	OnRetry func(attempt int, delay time.Duration)
}

// DefaultPolicy returns 5 attempts with a 200ms base delay.
func DefaultPolicy() Policy {
	return Policy{MaxAttempts: DefaultMaxAttempts, BaseDelay: DefaultBaseDelay}
}

func (p Policy) attempts() int {
	if p.MaxAttempts < 1 {
		return 1
	}
	return p.MaxAttempts
}

// Delay returns the wait after the given 1-based attempt fails.
func (p Policy) Delay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	return p.BaseDelay << (attempt - 1)
}

// MaxTotalDelay is the worst-case cumulative wait across all attempts.
func (p Policy) MaxTotalDelay() time.Duration {
	var total time.Duration
	for attempt := 1; attempt < p.attempts(); attempt++ {
		total += p.Delay(attempt)
	}
	return total
}

// Run calls fn until done reports a terminal result or the attempts run out,
// and returns the last result unchanged. Cancelling ctx during a wait stops
// the loop early with the result already in hand.
func Run[T any](ctx context.Context, p Policy, fn func(context.Context) T, done func(T) bool) T {
	sleep := p.Sleep
	if sleep == nil {
		sleep = Wait
	}

	var last T
	n := p.attempts()
	for attempt := 1; attempt <= n; attempt++ {
		last = fn(ctx)
		if done(last) || attempt == n {
			return last
		}

		delay := p.Delay(attempt)
		if p.OnRetry != nil {
			p.OnRetry(attempt, delay)
		}
		if err := sleep(ctx, delay); err != nil {
			return last
		}
	}
	return last
}

// Wait blocks for d, returning early with ctx.Err() if ctx is done.
func Wait(ctx context.Context, d time.Duration) error {
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
