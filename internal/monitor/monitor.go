// Package monitor evaluates function error alarms the way the hosting
// platform does and notifies on every transition into ALARM.
package monitor

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/djlord-it/ynab-sync/internal/domain"
)

// Counter stores error counts per function and window.
type Counter interface {
	Add(ctx context.Context, function string, at time.Time, window time.Duration) error
	Sum(ctx context.Context, function string, windowStart time.Time, window time.Duration) (float64, error)
}

// Notifier delivers an alert through the notification channel.
type Notifier interface {
	Notify(ctx context.Context, alert domain.Alert) error
}

// MetricsSink records alarm transitions and alert deliveries. Methods must
// not block.
type MetricsSink interface {
	AlarmStateChanged(alarm, state string)
	AlertDelivered(outcome string)
}

var ErrUnknownFunction = errors.New("no alarm watches function")

type alarmState struct {
	alarm     domain.Alarm
	state     domain.AlarmState
	evaluated time.Time // start of the last evaluated window
}

type Monitor struct {
	counter  Counter
	notifier Notifier
	metrics  MetricsSink // optional, nil = disabled

	evalMu sync.Mutex // serializes Evaluate

	mu     sync.Mutex
	alarms map[string]*alarmState // keyed by function name
}

// New returns a monitor for alarms. Every alarm starts in OK.
func New(alarms []domain.Alarm, counter Counter, notifier Notifier) *Monitor {
	m := &Monitor{
		counter:  counter,
		notifier: notifier,
		alarms:   make(map[string]*alarmState, len(alarms)),
	}
	for _, a := range alarms {
		m.alarms[a.Function] = &alarmState{alarm: a, state: domain.AlarmStateOK}
	}
	return m
}

// WithMetrics attaches a metrics sink to the monitor.
func (m *Monitor) WithMetrics(sink MetricsSink) *Monitor {
	m.metrics = sink
	return m
}

// RecordError counts one failed execution of function at the given time.
func (m *Monitor) RecordError(ctx context.Context, function string, at time.Time) error {
	m.mu.Lock()
	st, ok := m.alarms[function]
	m.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w %q", ErrUnknownFunction, function)
	}
	return m.counter.Add(ctx, function, at, st.alarm.Period)
}

// State returns the current state of the alarm watching function.
func (m *Monitor) State(function string) (domain.AlarmState, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	st, ok := m.alarms[function]
	if !ok {
		return "", false
	}
	return st.state, true
}

// Evaluate checks every alarm against its most recently completed window.
// A window is evaluated at most once. An alarm moving from OK to ALARM
// produces one alert; staying in ALARM or returning to OK produces none.
//
// Counter reads and alert delivery happen without holding the state lock,
// so RecordError and State never wait on them.
func (m *Monitor) Evaluate(ctx context.Context, now time.Time) ([]domain.Alert, error) {
	m.evalMu.Lock()
	defer m.evalMu.Unlock()

	var alerts []domain.Alert
	var errs []error

	for _, w := range m.dueWindows(now) {
		sum, err := m.counter.Sum(ctx, w.function, w.start, w.alarm.Period)
		if err != nil {
			errs = append(errs, fmt.Errorf("alarm %s: %w", w.alarm.Name, err))
			continue
		}
		if alert, ok := m.transition(w, sum, now); ok {
			alerts = append(alerts, alert)
		}
	}

	for _, alert := range alerts {
		if err := m.notify(ctx, alert); err != nil {
			errs = append(errs, err)
		}
	}

	return alerts, errors.Join(errs...)
}

type window struct {
	function string
	alarm    domain.Alarm
	start    time.Time
}

// dueWindows returns the alarms whose most recently completed window has
// not been evaluated yet.
func (m *Monitor) dueWindows(now time.Time) []window {
	m.mu.Lock()
	defer m.mu.Unlock()

	var due []window
	for function, st := range m.alarms {
		period := st.alarm.Period
		if period <= 0 {
			continue
		}
		start := now.UTC().Truncate(period).Add(-period)
		if !start.After(st.evaluated) && !st.evaluated.IsZero() {
			continue
		}
		due = append(due, window{function: function, alarm: st.alarm, start: start})
	}
	return due
}

// transition applies one window's sum and returns the alert to deliver,
// if the alarm moved into ALARM.
func (m *Monitor) transition(w window, sum float64, now time.Time) (domain.Alert, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	st := m.alarms[w.function]
	st.evaluated = w.start

	next := domain.AlarmStateOK
	if st.alarm.Breaching(sum) {
		next = domain.AlarmStateAlarm
	}
	if next == st.state {
		return domain.Alert{}, false
	}

	prev := st.state
	st.state = next
	if m.metrics != nil {
		m.metrics.AlarmStateChanged(st.alarm.Name, string(next))
	}
	log.Info().
		Str("component", "monitor").
		Str("alarm", st.alarm.Name).
		Str("from", string(prev)).
		Str("to", string(next)).
		Float64("value", sum).
		Time("window_start", w.start).
		Msg("alarm state changed")

	if next != domain.AlarmStateAlarm {
		return domain.Alert{}, false
	}
	period := st.alarm.Period
	return domain.Alert{
		Alarm:    st.alarm.Name,
		Function: w.function,
		Topic:    firstAction(st.alarm),
		State:    next,
		Value:    sum,
		Reason: fmt.Sprintf("%s %s %g over %s (%s %g)",
			st.alarm.Metric, st.alarm.Statistic, sum, period, st.alarm.Comparison, st.alarm.Threshold),
		WindowStart: w.start,
		At:          now,
	}, true
}

func (m *Monitor) notify(ctx context.Context, alert domain.Alert) error {
	err := m.notifier.Notify(ctx, alert)
	if m.metrics != nil {
		outcome := "success"
		if err != nil {
			outcome = "failed"
		}
		m.metrics.AlertDelivered(outcome)
	}
	if err != nil {
		log.Error().Str("component", "monitor").Str("alarm", alert.Alarm).Err(err).Msg("alert delivery failed")
		return fmt.Errorf("notify %s: %w", alert.Alarm, err)
	}
	return nil
}

// Run evaluates alarms every interval until ctx is cancelled.
func (m *Monitor) Run(ctx context.Context, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case now := <-ticker.C:
			if _, err := m.Evaluate(ctx, now); err != nil {
				log.Error().Str("component", "monitor").Err(err).Msg("evaluation failed")
			}
		}
	}
}

func firstAction(a domain.Alarm) string {
	if len(a.Actions) == 0 {
		return ""
	}
	return a.Actions[0]
}
