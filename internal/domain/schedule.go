package domain

type ScheduleKind string

const (
	ScheduleKindRate  ScheduleKind = "rate"
	ScheduleKindQuota ScheduleKind = "quota"
	ScheduleKindCron  ScheduleKind = "cron"
)

// Schedule is the cadence of one job. Exactly one field must be set.
type Schedule struct {
	RateMinutes int `yaml:"rate_minutes,omitempty" json:"rate_minutes,omitempty"`

	// CallsPerDay is the external API quota; the interval is derived from it.
	CallsPerDay int `yaml:"calls_per_day,omitempty" json:"calls_per_day,omitempty"`

	// CallsPerDayKey names a configuration value holding the quota.
	CallsPerDayKey string `yaml:"calls_per_day_key,omitempty" json:"calls_per_day_key,omitempty"`

	// Cron is a 5-field expression evaluated in UTC.
	Cron string `yaml:"cron,omitempty" json:"cron,omitempty"`
}

// Kind reports which cadence is configured. It returns "" when none or
// more than one field is set.
func (s Schedule) Kind() ScheduleKind {
	var kind ScheduleKind
	n := 0
	if s.RateMinutes != 0 {
		kind = ScheduleKindRate
		n++
	}
	if s.CallsPerDay != 0 || s.CallsPerDayKey != "" {
		kind = ScheduleKindQuota
		n++
	}
	if s.Cron != "" {
		kind = ScheduleKindCron
		n++
	}
	if n != 1 {
		return ""
	}
	return kind
}
