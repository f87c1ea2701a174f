// Package retry defines how a failed fold is retried.
//
// A Policy caps the number of attempts and spaces them with exponential
// backoff. MaxAttempts == 0 leaves the number of attempts unbounded.
package retry

import (
	"context"
	"fmt"
	"math"
	"time"
)

// Policy controls retries of a failing operation.
type Policy struct {
	// MaxAttempts is the total number of attempts allowed, including the
	// first. Zero means unbounded.
	MaxAttempts int

	// InitialBackoff is the wait after the first failure. Zero disables waiting.
	InitialBackoff time.Duration

	// MaxBackoff caps the wait between attempts. Zero means uncapped.
	MaxBackoff time.Duration

	// Multiplier scales the wait after each further failure. Values below 1
	// are treated as 1.
	Multiplier float64
}

// Unbounded retries forever without waiting.
func Unbounded() Policy {
	return Policy{Multiplier: 1}
}

// Validate reports configuration errors.
func (p Policy) Validate() error {
	if p.MaxAttempts < 0 {
		return fmt.Errorf("max attempts must be >= 0, got %d", p.MaxAttempts)
	}
	if p.InitialBackoff < 0 || p.MaxBackoff < 0 {
		return fmt.Errorf("backoff durations must be >= 0")
	}
	if p.Multiplier != 0 && p.Multiplier < 1 {
		return fmt.Errorf("multiplier must be >= 1, got %v", p.Multiplier)
	}
	return nil
}

// Exhausted reports whether no attempt may follow the given number of
// failed attempts.
func (p Policy) Exhausted(failures int) bool {
	return p.MaxAttempts > 0 && failures >= p.MaxAttempts
}

// Delay returns the wait before the attempt that follows the given number of
// failures (failures >= 1).
func (p Policy) Delay(failures int) time.Duration {
	if p.InitialBackoff <= 0 || failures < 1 {
		return 0
	}

	mult := p.Multiplier
	if mult < 1 {
		mult = 1
	}

	d := float64(p.InitialBackoff) * math.Pow(mult, float64(failures-1))
	if p.MaxBackoff > 0 && d > float64(p.MaxBackoff) {
		return p.MaxBackoff
	}
	if d > math.MaxInt64 {
		return time.Duration(math.MaxInt64)
	}
	return time.Duration(d)
}

// Sleeper waits between attempts.
type Sleeper interface {
	Sleep(ctx context.Context, d time.Duration) error
}

// TimerSleeper waits on a real timer and returns early on cancellation.
type TimerSleeper struct{}

// Sleep blocks for d or until ctx is done.
func (TimerSleeper) Sleep(ctx context.Context, d time.Duration) error {
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
