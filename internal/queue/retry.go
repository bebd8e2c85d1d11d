package queue

import (
	"math"
	"time"
)

// RetryPolicy bounds replay of failing actions. MaxAttempts == 0 retries
// forever; InitialDelay == 0 retries on every pass without backoff.
type RetryPolicy struct {
	MaxAttempts   int
	InitialDelay  time.Duration
	MaxDelay      time.Duration
	BackoffFactor float64
}

// NextDelay returns the wait after the given failed attempt (1-based).
func (r RetryPolicy) NextDelay(attempt int) time.Duration {
	if r.InitialDelay <= 0 {
		return 0
	}
	if attempt < 1 {
		attempt = 1
	}
	if r.BackoffFactor <= 0 {
		r.BackoffFactor = 2
	}

	delay := float64(r.InitialDelay) * math.Pow(r.BackoffFactor, float64(attempt-1))
	if r.MaxDelay > 0 && delay > float64(r.MaxDelay) {
		return r.MaxDelay
	}
	// overflow guard for large attempt counts without MaxDelay
	if delay > float64(math.MaxInt64) {
		return time.Duration(math.MaxInt64)
	}
	return time.Duration(delay)
}

// Exhausted reports whether an action with this many failed attempts
// must leave the queue for the dead-letter list.
func (r RetryPolicy) Exhausted(attempts int) bool {
	return r.MaxAttempts > 0 && attempts >= r.MaxAttempts
}
