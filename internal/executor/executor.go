// Package executor runs functions for rule firings on the local runtime.
// Each firing runs exactly once: failures and timeouts are recorded and
// counted towards the function's alarm, never retried.
package executor

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/djlord-it/ynab-sync/internal/domain"
)

type FunctionSource interface {
	Function(ctx context.Context, name string) (domain.Function, error)
}

// Runner runs one invocation of a function. It must return once ctx is done.
type Runner interface {
	Run(ctx context.Context, fn domain.Function, event domain.TriggerEvent) error
}

type ExecutionStore interface {
	RecordExecution(ctx context.Context, exec domain.Execution) error
}

// ErrorRecorder counts failed executions towards a function's alarm.
type ErrorRecorder interface {
	RecordError(ctx context.Context, function string, at time.Time) error
}

// MetricsSink defines the interface for recording executor metrics.
// All methods must be non-blocking and fire-and-forget.
type MetricsSink interface {
	ExecutionCompleted(function, status string, duration time.Duration)
	ExecutionsInFlightIncr()
	ExecutionsInFlightDecr()
}

type Executor struct {
	functions FunctionSource
	runner    Runner
	store     ExecutionStore
	errors    ErrorRecorder // optional, nil = disabled
	metrics   MetricsSink   // optional, nil = disabled
	clock     func() time.Time
}

func New(functions FunctionSource, runner Runner, store ExecutionStore) *Executor {
	return &Executor{
		functions: functions,
		runner:    runner,
		store:     store,
		clock:     time.Now,
	}
}

// WithErrorRecorder attaches the alarm monitor that failed runs are reported to.
func (e *Executor) WithErrorRecorder(rec ErrorRecorder) *Executor {
	e.errors = rec
	return e
}

// WithMetrics attaches a metrics sink to the executor.
func (e *Executor) WithMetrics(sink MetricsSink) *Executor {
	e.metrics = sink
	return e
}

// Run processes events from the channel until context is cancelled.
// After cancellation, it drains remaining buffered events with a timeout.
func (e *Executor) Run(ctx context.Context, ch <-chan domain.TriggerEvent) {
	for {
		select {
		case <-ctx.Done():
			e.drain(ch)
			return
		case event, ok := <-ch:
			if !ok {
				return
			}
			if _, err := e.Execute(ctx, event); err != nil {
				log.Error().Str("component", "executor").Str("function", event.Function).Err(err).Msg("execute failed")
			}
		}
	}
}

// DrainTimeout is the maximum time to wait for buffered events during shutdown.
const DrainTimeout = 30 * time.Second

// drain processes remaining events in the channel buffer after shutdown signal.
// Uses a background context since the main context is already cancelled.
func (e *Executor) drain(ch <-chan domain.TriggerEvent) {
	drainCtx, cancel := context.WithTimeout(context.Background(), DrainTimeout)
	defer cancel()

	count := 0
	for {
		select {
		case <-drainCtx.Done():
			if count > 0 {
				log.Warn().Str("component", "executor").Int("processed", count).Msg("drain timeout")
			}
			return
		case event, ok := <-ch:
			if !ok {
				log.Info().Str("component", "executor").Int("processed", count).Msg("drain complete")
				return
			}
			if _, err := e.Execute(drainCtx, event); err != nil {
				log.Error().Str("component", "executor").Str("function", event.Function).Err(err).Msg("drain execute failed")
			}
			count++
		default:
			// No more buffered events
			if count > 0 {
				log.Info().Str("component", "executor").Int("processed", count).Msg("drain complete")
			}
			return
		}
	}
}

// Execute runs the function targeted by event once, bounded by the
// function's timeout. The returned error reports problems recording the
// run; a failed run is reported through the execution status.
func (e *Executor) Execute(ctx context.Context, event domain.TriggerEvent) (domain.Execution, error) {
	if e.metrics != nil {
		e.metrics.ExecutionsInFlightIncr()
		defer e.metrics.ExecutionsInFlightDecr()
	}

	fn, err := e.functions.Function(ctx, event.Function)
	if err != nil {
		return domain.Execution{}, fmt.Errorf("get function: %w", err)
	}

	runCtx := ctx
	if fn.Timeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, fn.Timeout)
		defer cancel()
	}

	exec := domain.Execution{
		ID:          event.ExecutionID,
		Function:    fn.Name,
		ScheduledAt: event.ScheduledAt,
		StartedAt:   e.clock().UTC(),
	}
	runErr := e.runner.Run(runCtx, fn, event)
	exec.FinishedAt = e.clock().UTC()
	exec.Status = classify(runCtx, runErr)
	if runErr != nil {
		exec.Error = runErr.Error()
	}

	if e.metrics != nil {
		e.metrics.ExecutionCompleted(fn.Name, string(exec.Status), exec.FinishedAt.Sub(exec.StartedAt))
	}

	logEvent := log.Info()
	if exec.Failed() {
		logEvent = log.Error().Str("error", exec.Error)
	}
	logEvent.
		Str("component", "executor").
		Str("function", fn.Name).
		Str("execution_id", exec.ID.String()).
		Str("status", string(exec.Status)).
		Dur("duration", exec.FinishedAt.Sub(exec.StartedAt)).
		Msg("execution finished")

	var errs []error
	if err := e.store.RecordExecution(ctx, exec); err != nil {
		errs = append(errs, fmt.Errorf("record execution: %w", err))
	}
	if exec.Failed() && e.errors != nil {
		if err := e.errors.RecordError(ctx, fn.Name, exec.FinishedAt); err != nil {
			errs = append(errs, fmt.Errorf("record error: %w", err))
		}
	}
	return exec, errors.Join(errs...)
}

func classify(runCtx context.Context, err error) domain.ExecutionStatus {
	switch {
	case err == nil:
		return domain.ExecutionStatusSucceeded
	case errors.Is(runCtx.Err(), context.DeadlineExceeded):
		return domain.ExecutionStatusTimedOut
	default:
		return domain.ExecutionStatusFailed
	}
}
