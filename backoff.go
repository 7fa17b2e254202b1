package actionqueue

import "time"

// Backoff computes the wait before replaying an entry that already failed retryCount times.
type Backoff interface {
	Delay(retryCount int) time.Duration
}

// ExponentialBackoff doubles the wait for every failure.
// Delay = min(Base * 2^retryCount, Max); zero retries wait nothing.
type ExponentialBackoff struct {
	Base time.Duration
	Max  time.Duration
}

// NewExponentialBackoff creates an exponential backoff.
func NewExponentialBackoff(base, maxDelay time.Duration) ExponentialBackoff {
	return ExponentialBackoff{Base: base, Max: maxDelay}
}

// Delay implements Backoff.
func (b ExponentialBackoff) Delay(retryCount int) time.Duration {
	if retryCount <= 0 || b.Base <= 0 {
		return 0
	}

	d := b.Base
	for i := 0; i < retryCount; i++ {
		if b.Max > 0 && d >= b.Max {
			return b.Max
		}
		// stop before the shift overflows
		if d >= time.Duration(1<<62) {
			break
		}
		d *= 2
	}
	if b.Max > 0 && d > b.Max {
		return b.Max
	}

	return d
}

// BackoffFunc adapts a function to Backoff.
type BackoffFunc func(retryCount int) time.Duration

// Delay implements Backoff.
func (fn BackoffFunc) Delay(retryCount int) time.Duration {
	return fn(retryCount)
}
