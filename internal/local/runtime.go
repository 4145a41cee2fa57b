package local

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/djlord-it/ynab-sync/internal/executor"
	"github.com/djlord-it/ynab-sync/internal/metrics"
	"github.com/djlord-it/ynab-sync/internal/monitor"
	"github.com/djlord-it/ynab-sync/internal/scheduler"
	"github.com/djlord-it/ynab-sync/internal/transport/channel"
)

const (
	defaultBufferSize       = 100
	defaultEvaluateInterval = 30 * time.Second
)

type Options struct {
	TickInterval     time.Duration
	EvaluateInterval time.Duration
	BufferSize       int

	Runner   executor.Runner
	Counter  monitor.Counter
	Notifier monitor.Notifier
	Metrics  metrics.Sink // nil = disabled
}

// Runtime runs the scheduler, executor and alarm monitor for the resources
// registered on a Platform.
type Runtime struct {
	platform *Platform
	opts     Options

	bus       *channel.EventBus
	scheduler *scheduler.Scheduler
	executor  *executor.Executor
	monitor   *monitor.Monitor

	cancelScheduler context.CancelFunc
	cancelExecutor  context.CancelFunc
	cancelMonitor   context.CancelFunc
	schedulerWg     sync.WaitGroup
	executorWg      sync.WaitGroup
	monitorWg       sync.WaitGroup
}

// NewRuntime wires the runtime. Alarms must be registered on p before the
// call; the monitor watches the alarms present at construction.
func NewRuntime(p *Platform, opts Options) *Runtime {
	if opts.Metrics == nil {
		opts.Metrics = metrics.NewNoopSink()
	}
	if opts.BufferSize <= 0 {
		opts.BufferSize = defaultBufferSize
	}
	if opts.EvaluateInterval <= 0 {
		opts.EvaluateInterval = defaultEvaluateInterval
	}
	if opts.Notifier == nil {
		opts.Notifier = monitor.LogNotifier{}
	}

	bus := channel.NewEventBus(opts.BufferSize, channel.WithMetrics(opts.Metrics))
	mon := monitor.New(p.Alarms(), opts.Counter, opts.Notifier).WithMetrics(opts.Metrics)

	return &Runtime{
		platform: p,
		opts:     opts,
		bus:      bus,
		scheduler: scheduler.New(scheduler.Config{TickInterval: opts.TickInterval}, p, bus).
			WithMetrics(opts.Metrics),
		executor: executor.New(p, opts.Runner, p).
			WithErrorRecorder(mon).
			WithMetrics(opts.Metrics),
		monitor: mon,
	}
}

func (r *Runtime) Monitor() *monitor.Monitor {
	return r.monitor
}

func (r *Runtime) Executor() *executor.Executor {
	return r.executor
}

// Start launches the runtime goroutines. Each stage gets its own context
// so Stop can shut them down in order.
func (r *Runtime) Start() {
	var schedulerCtx, executorCtx, monitorCtx context.Context
	schedulerCtx, r.cancelScheduler = context.WithCancel(context.Background())
	executorCtx, r.cancelExecutor = context.WithCancel(context.Background())
	monitorCtx, r.cancelMonitor = context.WithCancel(context.Background())

	r.schedulerWg.Add(1)
	go func() {
		defer r.schedulerWg.Done()
		r.scheduler.Run(schedulerCtx)
	}()

	r.executorWg.Add(1)
	go func() {
		defer r.executorWg.Done()
		r.executor.Run(executorCtx, r.bus.Channel())
	}()

	r.monitorWg.Add(1)
	go func() {
		defer r.monitorWg.Done()
		r.monitor.Run(monitorCtx, r.opts.EvaluateInterval)
	}()

	log.Info().
		Str("component", "local").
		Dur("tick", r.opts.TickInterval).
		Dur("evaluate", r.opts.EvaluateInterval).
		Int("alarms", len(r.platform.Alarms())).
		Msg("runtime started")
}

// Stop shuts down the scheduler first so no new firings are emitted, then
// lets the executor drain buffered firings, then stops the monitor.
func (r *Runtime) Stop() {
	log.Info().Str("component", "local").Msg("stopping scheduler")
	r.cancelScheduler()
	r.schedulerWg.Wait()

	log.Info().Str("component", "local").Msg("stopping executor (draining firings)")
	r.cancelExecutor()
	r.executorWg.Wait()

	log.Info().Str("component", "local").Msg("stopping monitor")
	r.cancelMonitor()
	r.monitorWg.Wait()

	log.Info().Str("component", "local").Msg("runtime stopped")
}
