package connection

import (
	"math/rand"
	"time"
)

// BackoffPolicy drives reconnect scheduling: a bounded run of exponential
// immediate attempts, then a single repeating long-delay background retry
// instead of giving up permanently.
type BackoffPolicy struct {
	Base        time.Duration // First retry delay
	Max         time.Duration // Cap for the exponential phase
	MaxAttempts int           // Attempts before falling back to LongRetry
	LongRetry   time.Duration // Background retry interval after MaxAttempts
	Jitter      float64       // Fraction of the delay randomized (0 disables)
}

// DefaultBackoffPolicy returns the production policy.
func DefaultBackoffPolicy() BackoffPolicy {
	return BackoffPolicy{
		Base:        time.Second,
		Max:         30 * time.Second,
		MaxAttempts: 6,
		LongRetry:   5 * time.Minute,
		Jitter:      0.2,
	}
}

// Delay returns the wait before the given zero-based attempt and whether
// the attempt is still in the exponential phase. Past MaxAttempts the
// delay is LongRetry and the phase flag is false.
func (p BackoffPolicy) Delay(attempt int) (time.Duration, bool) {
	if attempt >= p.MaxAttempts {
		return p.withJitter(p.LongRetry), false
	}
	d := p.Base << attempt
	if d > p.Max || d <= 0 {
		d = p.Max
	}
	return p.withJitter(d), true
}

func (p BackoffPolicy) withJitter(d time.Duration) time.Duration {
	if p.Jitter <= 0 {
		return d
	}
	spread := float64(d) * p.Jitter
	return d + time.Duration((rand.Float64()*2-1)*spread)
}
