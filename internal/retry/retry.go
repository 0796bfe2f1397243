// Package retry applies a bounded retry policy to ledger-facing calls.
package retry

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/jonboulle/clockwork"
)

// Default policy values.
const (
	DefaultMaxAttempts = 3
	DefaultBackoff     = 2 * time.Second
	DefaultMaxBackoff  = 10 * time.Second
)

// Policy bounds how often and how fast a call is retried.
type Policy struct {
	MaxAttempts int
	Backoff     time.Duration // wait before the second attempt
	Multiplier  float64       // <= 1 keeps the back-off fixed
	MaxBackoff  time.Duration
	Clock       clockwork.Clock
}

// DefaultPolicy returns 3 attempts with a fixed 2s back-off.
func DefaultPolicy() Policy {
	return Fixed(DefaultMaxAttempts, DefaultBackoff)
}

// Fixed returns a policy with a constant back-off.
func Fixed(attempts int, backoff time.Duration) Policy {
	return Policy{
		MaxAttempts: attempts,
		Backoff:     backoff,
		Multiplier:  1,
		MaxBackoff:  DefaultMaxBackoff,
	}
}

// Exponential returns a policy whose back-off doubles up to maxBackoff.
func Exponential(attempts int, base, maxBackoff time.Duration) Policy {
	return Policy{
		MaxAttempts: attempts,
		Backoff:     base,
		Multiplier:  2,
		MaxBackoff:  maxBackoff,
	}
}

// NoDelay returns a policy suitable for tests: attempts with no waiting.
func NoDelay(attempts int) Policy {
	return Fixed(attempts, 0)
}

func (p Policy) clock() clockwork.Clock {
	if p.Clock == nil {
		return clockwork.NewRealClock()
	}
	return p.Clock
}

// delay returns the wait before attempt n (n >= 2).
func (p Policy) delay(n int) time.Duration {
	d := p.Backoff
	if p.Multiplier > 1 {
		for i := 2; i < n; i++ {
			d = time.Duration(float64(d) * p.Multiplier)
			if p.MaxBackoff > 0 && d > p.MaxBackoff {
				return p.MaxBackoff
			}
		}
	}
	if p.MaxBackoff > 0 && d > p.MaxBackoff {
		d = p.MaxBackoff
	}
	return d
}

// ExhaustedError is returned when every attempt failed with a transient error.
type ExhaustedError struct {
	Attempts int
	Last     error
}

func (e *ExhaustedError) Error() string {
	return fmt.Sprintf("failed after %d attempts: %v", e.Attempts, e.Last)
}

func (e *ExhaustedError) Unwrap() error {
	return e.Last
}

// Do calls fn until it succeeds, returns a non-transient error, the attempts
// run out, or ctx is done. It returns the number of attempts made.
func Do(ctx context.Context, p Policy, fn func(ctx context.Context, attempt int) error) (int, error) {
	attempts := p.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}
	clock := p.clock()

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		if attempt > 1 {
			if d := p.delay(attempt); d > 0 {
				select {
				case <-ctx.Done():
					return attempt - 1, ctx.Err()
				case <-clock.After(d):
				}
			}
		}
		if err := ctx.Err(); err != nil {
			return attempt - 1, err
		}

		lastErr = fn(ctx, attempt)
		if lastErr == nil {
			return attempt, nil
		}
		if ctx.Err() != nil {
			return attempt, lastErr
		}
		if !IsTransient(lastErr) {
			return attempt, lastErr
		}
	}

	return attempts, &ExhaustedError{Attempts: attempts, Last: lastErr}
}

// transient is implemented by errors that know whether they may succeed on retry.
type transient interface {
	Transient() bool
}

// IsTransient reports whether err is worth retrying. Per-call timeouts count
// as transient; cancellation does not.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) {
		return false
	}

	var t transient
	if errors.As(err, &t) {
		return t.Transient()
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}

	var netErr net.Error
	return errors.As(err, &netErr)
}
