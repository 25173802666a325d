package jobstore

import "time"

// RetryPolicy defines the exponential backoff parameters applied between
// attempts of one job occurrence.
type RetryPolicy struct {
	MaxAttempts   int
	BaseDelay     time.Duration
	BackoffFactor float64
}

// DefaultRetryPolicy matches the pipeline contract: up to 3 attempts with
// exponential backoff starting at 1s and doubling each attempt.
var DefaultRetryPolicy = RetryPolicy{
	MaxAttempts:   3,
	BaseDelay:     1 * time.Second,
	BackoffFactor: 2.0,
}

// NextBackoff computes the delay before the next attempt. attempt is the
// 1-based attempt number that just failed, so the delay after attempt 1 is
// BaseDelay, after attempt 2 is BaseDelay*BackoffFactor, and so on.
func (p RetryPolicy) NextBackoff(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}

	delay := float64(p.BaseDelay)
	for i := 1; i < attempt; i++ {
		delay *= p.BackoffFactor
	}

	d := time.Duration(delay)
	if d < 0 {
		// Overflow guard for absurd attempt counts.
		d = p.BaseDelay
	}
	return d
}

// Exhausted reports whether the given 1-based attempt number was the last
// one allowed by the policy.
func (p RetryPolicy) Exhausted(attempt int) bool {
	return attempt >= p.MaxAttempts
}
