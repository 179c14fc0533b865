package retry

import (
	"math"
	"time"
)

// Delay computes the wait before the given attempt is retried:
//
//	delay = min(initialDelay * backoffFactor^(attempts-1), maxDelay)
//
// The result is deterministic for a given attempt count (no jitter), so
// callers can assert exact schedules. Attempts below 1 are treated as 1.
func (c Config) Delay(attempts int) time.Duration {
	if attempts < 1 {
		attempts = 1
	}

	delay := float64(c.InitialDelay) * math.Pow(c.BackoffFactor, float64(attempts-1))
	if delay > float64(c.MaxDelay) {
		return c.MaxDelay
	}
	return time.Duration(delay)
}
