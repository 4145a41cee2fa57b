// Package scheduler fires trigger rules on the local runtime.
package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/djlord-it/ynab-sync/internal/domain"
	"github.com/djlord-it/ynab-sync/internal/schedule"
)

type RuleSource interface {
	Rules(ctx context.Context) ([]domain.Rule, error)
}

// ScheduleSource maps a rule to its firing times.
type ScheduleSource interface {
	ScheduleFor(rule domain.Rule) (CronSchedule, error)
}

type CronSchedule interface {
	Next(after time.Time) time.Time
}

type EventEmitter interface {
	Emit(ctx context.Context, event domain.TriggerEvent) error
}

// MetricsSink records tick metrics. Methods must not block.
type MetricsSink interface {
	TickStarted()
	TickCompleted(duration time.Duration, fired int, err error)
}

type Config struct {
	TickInterval time.Duration
}

type Scheduler struct {
	config    Config
	rules     RuleSource
	schedules ScheduleSource
	emitter   EventEmitter
	metrics   MetricsSink // optional, nil = disabled
	clock     func() time.Time
	lastTick  time.Time

	// last emitted firing per rule
	fired map[string]time.Time
}

func New(config Config, rules RuleSource, emitter EventEmitter) *Scheduler {
	return &Scheduler{
		config:    config,
		rules:     rules,
		schedules: RuleSchedules{},
		emitter:   emitter,
		clock:     time.Now,
		fired:     make(map[string]time.Time),
	}
}

// WithMetrics attaches a metrics sink to the scheduler.
func (s *Scheduler) WithMetrics(sink MetricsSink) *Scheduler {
	s.metrics = sink
	return s
}

func (s *Scheduler) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.config.TickInterval)
	defer ticker.Stop()

	log.Info().Str("component", "scheduler").Dur("tick", s.config.TickInterval).Msg("started")
	s.lastTick = s.clock().UTC()

	for {
		select {
		case <-ctx.Done():
			log.Info().Str("component", "scheduler").Msg("stopped")
			return ctx.Err()
		case <-ticker.C:
			if err := s.processTick(ctx); err != nil {
				log.Error().Str("component", "scheduler").Err(err).Msg("tick error")
			}
		}
	}
}

func (s *Scheduler) processTick(ctx context.Context) (err error) {
	start := time.Now()
	fired := 0
	if s.metrics != nil {
		s.metrics.TickStarted()
		defer func() { s.metrics.TickCompleted(time.Since(start), fired, err) }()
	}

	now := s.clock().UTC()

	rules, err := s.rules.Rules(ctx)
	if err != nil {
		return fmt.Errorf("get rules: %w", err)
	}

	for _, rule := range rules {
		n, err := s.processRule(ctx, rule, s.lastTick, now)
		fired += n
		if err != nil {
			log.Error().Str("component", "scheduler").Str("rule", rule.Name).Err(err).Msg("rule error")
		}
	}

	s.lastTick = now
	return nil
}

func (s *Scheduler) processRule(ctx context.Context, rule domain.Rule, lastTick, now time.Time) (int, error) {
	sched, err := s.schedules.ScheduleFor(rule)
	if err != nil {
		return 0, fmt.Errorf("schedule: %w", err)
	}

	// Loop through all due times since last tick
	const maxIterations = 1000
	fired := 0
	t := sched.Next(lastTick)

	for i := 0; i < maxIterations && !t.IsZero() && !t.After(now); i++ {
		scheduledAt := t.UTC().Truncate(time.Minute)

		if last, ok := s.fired[rule.Name]; ok && !scheduledAt.After(last) {
			t = sched.Next(t)
			continue
		}

		if err := s.emit(ctx, rule, scheduledAt, now); err != nil {
			log.Error().
				Str("component", "scheduler").
				Str("rule", rule.Name).
				Time("scheduled_at", scheduledAt).
				Err(err).
				Msg("emit failed")
		} else {
			fired++
		}
		s.fired[rule.Name] = scheduledAt

		t = sched.Next(t)
	}

	return fired, nil
}

func (s *Scheduler) emit(ctx context.Context, rule domain.Rule, scheduledAt, now time.Time) error {
	event := domain.TriggerEvent{
		ExecutionID: uuid.New(),
		Rule:        rule.Name,
		Function:    rule.Target,
		ScheduledAt: scheduledAt,
		FiredAt:     now,
	}

	if err := s.emitter.Emit(ctx, event); err != nil {
		return fmt.Errorf("emit: %w", err)
	}

	log.Info().
		Str("component", "scheduler").
		Str("rule", rule.Name).
		Str("function", rule.Target).
		Time("scheduled_at", scheduledAt).
		Msg("fired")
	return nil
}

// RuleSchedules builds schedules from the rate or cron a rule carries.
type RuleSchedules struct{}

func (RuleSchedules) ScheduleFor(rule domain.Rule) (CronSchedule, error) {
	if rule.Cron == "" && rule.RateMinutes <= 0 {
		return nil, fmt.Errorf("rule %s has neither rate nor cron", rule.Name)
	}
	sched, err := schedule.Resolved{RateMinutes: rule.RateMinutes, Cron: rule.Cron}.Schedule()
	if err != nil {
		return nil, err
	}
	return sched, nil
}
