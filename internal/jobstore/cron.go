package jobstore

import (
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
)

// ParseCron validates a standard 5-field cron expression. It is used at the
// API boundary so malformed expressions are rejected before they ever reach
// the store.
func ParseCron(expr string) (cron.Schedule, error) {
	sched, err := cron.ParseStandard(expr)
	if err != nil {
		return nil, fmt.Errorf("parsing cron expression %q: %w", expr, err)
	}
	return sched, nil
}

// NextFire computes the next occurrence of the cron expression strictly
// after the given instant, evaluated in the named timezone. The result is
// returned in UTC.
func NextFire(expr, timezone string, after time.Time) (time.Time, error) {
	sched, err := ParseCron(expr)
	if err != nil {
		return time.Time{}, err
	}

	loc, err := loadLocation(timezone)
	if err != nil {
		return time.Time{}, err
	}

	next := sched.Next(after.In(loc))
	if next.IsZero() {
		return time.Time{}, fmt.Errorf("cron expression %q has no future occurrence", expr)
	}
	return next.UTC(), nil
}

// GenerationFireAt computes when a report's generation job should fire:
// the next delivery occurrence minus the lead time, clamped to now so a
// lead time larger than the interval to the next occurrence fires
// immediately rather than in the past.
func GenerationFireAt(expr, timezone string, leadTime time.Duration, now time.Time) (time.Time, error) {
	next, err := NextFire(expr, timezone, now)
	if err != nil {
		return time.Time{}, err
	}

	fireAt := next.Add(-leadTime)
	if fireAt.Before(now) {
		return now.UTC(), nil
	}
	return fireAt, nil
}

// loadLocation resolves an IANA timezone name, treating the empty string
// as UTC.
func loadLocation(timezone string) (*time.Location, error) {
	if timezone == "" {
		return time.UTC, nil
	}
	loc, err := time.LoadLocation(timezone)
	if err != nil {
		return nil, fmt.Errorf("loading timezone %q: %w", timezone, err)
	}
	return loc, nil
}
