package jobstore

import (
	"testing"
	"time"
)

func TestNextBackoffDoublesPerAttempt(t *testing.T) {
	policy := DefaultRetryPolicy

	cases := []struct {
		attempt int
		want    time.Duration
	}{
		{1, 1 * time.Second},
		{2, 2 * time.Second},
		{3, 4 * time.Second},
	}
	for _, tc := range cases {
		if got := policy.NextBackoff(tc.attempt); got != tc.want {
			t.Errorf("attempt %d: expected %v, got %v", tc.attempt, tc.want, got)
		}
	}
}

func TestNextBackoffClampsBadAttempt(t *testing.T) {
	policy := DefaultRetryPolicy

	if got := policy.NextBackoff(0); got != policy.BaseDelay {
		t.Errorf("expected base delay for attempt 0, got %v", got)
	}
	if got := policy.NextBackoff(-3); got != policy.BaseDelay {
		t.Errorf("expected base delay for negative attempt, got %v", got)
	}
}

func TestExhausted(t *testing.T) {
	policy := RetryPolicy{MaxAttempts: 3, BaseDelay: time.Second, BackoffFactor: 2}

	if policy.Exhausted(1) {
		t.Error("attempt 1 of 3 should not be exhausted")
	}
	if policy.Exhausted(2) {
		t.Error("attempt 2 of 3 should not be exhausted")
	}
	if !policy.Exhausted(3) {
		t.Error("attempt 3 of 3 should be exhausted")
	}
	if !policy.Exhausted(4) {
		t.Error("attempt past the budget should be exhausted")
	}
}
