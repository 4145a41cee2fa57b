// Package schedule turns job schedules into trigger cadences.
package schedule

import (
	"errors"
	"fmt"
	"time"

	"github.com/djlord-it/ynab-sync/internal/cron"
	"github.com/djlord-it/ynab-sync/internal/domain"
)

const minutesPerDay = 24 * 60

// ErrInvalidQuota is returned for quotas that cannot yield a positive interval.
var ErrInvalidQuota = errors.New("calls per day must be greater than 1")

// IntervalFromQuota converts a daily call quota into a trigger interval in
// minutes. One call is held back as margin against scheduler jitter, and the
// result is rounded up so a whole-minute rate never exceeds the quota.
func IntervalFromQuota(callsPerDay int) (int, error) {
	if callsPerDay <= 1 {
		return 0, fmt.Errorf("%w, got %d", ErrInvalidQuota, callsPerDay)
	}
	slots := callsPerDay - 1
	return (minutesPerDay + slots - 1) / slots, nil
}

// Resolved is a schedule reduced to either a fixed rate or a cron expression.
type Resolved struct {
	RateMinutes int
	Cron        string
}

// Resolve reduces s to a concrete cadence. quota is the resolved value of
// CallsPerDayKey and is ignored unless that key is set.
func Resolve(s domain.Schedule, quota int) (Resolved, error) {
	switch s.Kind() {
	case domain.ScheduleKindRate:
		if s.RateMinutes <= 0 {
			return Resolved{}, fmt.Errorf("rate_minutes must be positive, got %d", s.RateMinutes)
		}
		return Resolved{RateMinutes: s.RateMinutes}, nil
	case domain.ScheduleKindQuota:
		calls := s.CallsPerDay
		if s.CallsPerDayKey != "" {
			calls = quota
		}
		minutes, err := IntervalFromQuota(calls)
		if err != nil {
			return Resolved{}, err
		}
		return Resolved{RateMinutes: minutes}, nil
	case domain.ScheduleKindCron:
		if _, err := cron.ToEventBridge(s.Cron); err != nil {
			return Resolved{}, err
		}
		return Resolved{Cron: s.Cron}, nil
	default:
		return Resolved{}, errors.New("exactly one of rate_minutes, calls_per_day, calls_per_day_key or cron must be set")
	}
}

// Expression renders the platform schedule expression.
func (r Resolved) Expression() (string, error) {
	if r.Cron != "" {
		return cron.ToEventBridge(r.Cron)
	}
	if r.RateMinutes == 1 {
		return "rate(1 minute)", nil
	}
	return fmt.Sprintf("rate(%d minutes)", r.RateMinutes), nil
}

// Schedule returns the firing schedule for local previews and runtimes.
func (r Resolved) Schedule() (cron.Schedule, error) {
	if r.Cron != "" {
		return cron.NewParser().Parse(r.Cron, "")
	}
	return cron.Every(time.Duration(r.RateMinutes) * time.Minute), nil
}
