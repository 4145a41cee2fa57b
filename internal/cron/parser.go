package cron

import (
	"fmt"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
)

type Parser struct {
	parser cron.Parser
}

func NewParser() *Parser {
	return &Parser{
		parser: cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow),
	}
}

// Parse parses a 5-field expression. An empty timezone means UTC, which is
// the only zone the hosting platform's schedule expressions support.
//
// Expressions carrying their own zone (a TZ= or CRON_TZ= prefix) are
// rejected: the zone is chosen by the caller, never by the expression.
func (p *Parser) Parse(expression string, timezone string) (Schedule, error) {
	fields := strings.Fields(expression)
	if len(fields) > 0 && (strings.HasPrefix(fields[0], "TZ=") || strings.HasPrefix(fields[0], "CRON_TZ=")) {
		return nil, fmt.Errorf("parse cron: time zone prefix %q not supported, expressions are UTC", fields[0])
	}
	if len(fields) != 5 {
		return nil, fmt.Errorf("parse cron: expected 5 fields, got %d", len(fields))
	}

	sched, err := p.parser.Parse(expression)
	if err != nil {
		return nil, fmt.Errorf("parse cron: %w", err)
	}

	if timezone == "" {
		timezone = "UTC"
	}
	loc, err := time.LoadLocation(timezone)
	if err != nil {
		return nil, fmt.Errorf("load timezone: %w", err)
	}

	return &schedule{sched: sched, loc: loc}, nil
}

// Every returns a fixed-rate schedule. Firings are aligned to multiples of
// the interval since the Unix epoch so that every process computes the
// same due times.
func Every(interval time.Duration) Schedule {
	return &rateSchedule{interval: interval.Truncate(time.Minute)}
}

type Schedule interface {
	Next(after time.Time) time.Time
}

type schedule struct {
	sched cron.Schedule
	loc   *time.Location
}

func (s *schedule) Next(after time.Time) time.Time {
	return s.sched.Next(after.In(s.loc))
}

type rateSchedule struct {
	interval time.Duration
}

func (s *rateSchedule) Next(after time.Time) time.Time {
	if s.interval <= 0 {
		return time.Time{}
	}
	step := s.interval.Nanoseconds()
	n := after.UnixNano()
	aligned := n - n%step
	if n < 0 && n%step != 0 {
		aligned -= step
	}
	return time.Unix(0, aligned+step).UTC()
}

// Upcoming returns the next n firing times after from.
func Upcoming(s Schedule, from time.Time, n int) []time.Time {
	out := make([]time.Time, 0, n)
	t := from
	for i := 0; i < n; i++ {
		t = s.Next(t)
		if t.IsZero() {
			break
		}
		out = append(out, t)
	}
	return out
}
