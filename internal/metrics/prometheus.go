package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog/log"
)

// PrometheusSink implements Sink using Prometheus client library.
// All methods are non-blocking and fire-and-forget.
// Registration errors are logged but never propagated.
type PrometheusSink struct {
	// Provisioner metrics
	jobsRenderedTotal      *prometheus.CounterVec
	resourcesRenderedTotal *prometheus.CounterVec

	// Applier metrics
	resourcesAppliedTotal *prometheus.CounterVec
	applyDuration         *prometheus.HistogramVec

	// Scheduler metrics
	ticksTotal      prometheus.Counter
	tickErrorsTotal prometheus.Counter
	rulesFiredTotal prometheus.Counter
	tickDuration    prometheus.Histogram

	// Executor metrics
	executionsTotal    *prometheus.CounterVec
	executionDuration  prometheus.Histogram
	executionsInFlight prometheus.Gauge

	// EventBus metrics
	bufferSize      prometheus.Gauge
	emitErrorsTotal prometheus.Counter

	// Monitor metrics
	alarmState  *prometheus.GaugeVec
	alertsTotal *prometheus.CounterVec
}

// NewPrometheusSink creates a new Prometheus metrics sink.
// If registration fails, it logs a warning and returns a functional sink.
func NewPrometheusSink(reg prometheus.Registerer) *PrometheusSink {
	s := &PrometheusSink{}
	s.initProvisionerMetrics(reg)
	s.initRuntimeMetrics(reg)
	return s
}

func (s *PrometheusSink) initProvisionerMetrics(reg prometheus.Registerer) {
	s.jobsRenderedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "ynabsync_provisioner_jobs_total",
		Help: "Job definitions processed by the provisioner, by outcome.",
	}, []string{"outcome"})
	s.resourcesRenderedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "ynabsync_provisioner_resources_rendered_total",
		Help: "Resource descriptions rendered, by kind.",
	}, []string{"kind"})
	s.resourcesAppliedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "ynabsync_apply_resources_total",
		Help: "Resources applied to the hosting platform, by kind and result.",
	}, []string{"kind", "result"})
	s.applyDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "ynabsync_apply_duration_seconds",
		Help:    "Duration of each platform call in seconds.",
		Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
	}, []string{"kind"})

	s.register(reg, s.jobsRenderedTotal, "ynabsync_provisioner_jobs_total")
	s.register(reg, s.resourcesRenderedTotal, "ynabsync_provisioner_resources_rendered_total")
	s.register(reg, s.resourcesAppliedTotal, "ynabsync_apply_resources_total")
	s.register(reg, s.applyDuration, "ynabsync_apply_duration_seconds")
}

func (s *PrometheusSink) initRuntimeMetrics(reg prometheus.Registerer) {
	s.ticksTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "ynabsync_scheduler_ticks_total",
		Help: "Total number of scheduler ticks processed.",
	})
	s.tickErrorsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "ynabsync_scheduler_tick_errors_total",
		Help: "Total number of scheduler tick errors.",
	})
	s.rulesFiredTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "ynabsync_scheduler_rules_fired_total",
		Help: "Total number of rule firings emitted.",
	})
	s.tickDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "ynabsync_scheduler_tick_duration_seconds",
		Help:    "Duration of each scheduler tick in seconds.",
		Buckets: []float64{0.001, 0.01, 0.05, 0.1, 0.5, 1},
	})

	s.executionsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "ynabsync_executor_executions_total",
		Help: "Function executions, by function and status. Executions are never retried.",
	}, []string{"function", "status"})
	s.executionDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "ynabsync_executor_execution_duration_seconds",
		Help:    "Wall-clock duration of function executions in seconds.",
		Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 900},
	})
	s.executionsInFlight = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "ynabsync_executor_executions_in_flight",
		Help: "Number of function executions currently running.",
	})

	s.bufferSize = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "ynabsync_eventbus_buffer_size",
		Help: "Current number of firings in the event bus buffer.",
	})
	s.emitErrorsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "ynabsync_eventbus_emit_errors_total",
		Help: "Total number of emit errors.",
	})

	s.alarmState = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "ynabsync_monitor_alarm_state",
		Help: "1 while the alarm is in ALARM, 0 while OK.",
	}, []string{"alarm"})
	s.alertsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "ynabsync_monitor_alerts_total",
		Help: "Alerts delivered through the notification channel, by outcome.",
	}, []string{"outcome"})

	s.register(reg, s.ticksTotal, "ynabsync_scheduler_ticks_total")
	s.register(reg, s.tickErrorsTotal, "ynabsync_scheduler_tick_errors_total")
	s.register(reg, s.rulesFiredTotal, "ynabsync_scheduler_rules_fired_total")
	s.register(reg, s.tickDuration, "ynabsync_scheduler_tick_duration_seconds")
	s.register(reg, s.executionsTotal, "ynabsync_executor_executions_total")
	s.register(reg, s.executionDuration, "ynabsync_executor_execution_duration_seconds")
	s.register(reg, s.executionsInFlight, "ynabsync_executor_executions_in_flight")
	s.register(reg, s.bufferSize, "ynabsync_eventbus_buffer_size")
	s.register(reg, s.emitErrorsTotal, "ynabsync_eventbus_emit_errors_total")
	s.register(reg, s.alarmState, "ynabsync_monitor_alarm_state")
	s.register(reg, s.alertsTotal, "ynabsync_monitor_alerts_total")
}

// register attempts to register a collector, logging any errors without propagating them.
func (s *PrometheusSink) register(reg prometheus.Registerer, c prometheus.Collector, name string) {
	if err := reg.Register(c); err != nil {
		log.Warn().Str("component", "metrics").Str("metric", name).Err(err).Msg("failed to register")
	}
}

// WriteTextfile writes every metric gathered by g in the text exposition
// format, for collection by a node exporter textfile collector.
func WriteTextfile(path string, g prometheus.Gatherer) error {
	return prometheus.WriteToTextfile(path, g)
}

func (s *PrometheusSink) JobRendered(outcome string) {
	s.jobsRenderedTotal.WithLabelValues(outcome).Inc()
}

func (s *PrometheusSink) ResourcesRendered(kind string, n int) {
	s.resourcesRenderedTotal.WithLabelValues(kind).Add(float64(n))
}

func (s *PrometheusSink) ResourceApplied(kind string, duration time.Duration, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	s.resourcesAppliedTotal.WithLabelValues(kind, result).Inc()
	s.applyDuration.WithLabelValues(kind).Observe(duration.Seconds())
}

func (s *PrometheusSink) TickStarted() {
	s.ticksTotal.Inc()
}

func (s *PrometheusSink) TickCompleted(duration time.Duration, fired int, err error) {
	s.tickDuration.Observe(duration.Seconds())
	s.rulesFiredTotal.Add(float64(fired))
	if err != nil {
		s.tickErrorsTotal.Inc()
	}
}

func (s *PrometheusSink) ExecutionCompleted(function, status string, duration time.Duration) {
	s.executionsTotal.WithLabelValues(function, status).Inc()
	s.executionDuration.Observe(duration.Seconds())
}

func (s *PrometheusSink) ExecutionsInFlightIncr() {
	s.executionsInFlight.Inc()
}

func (s *PrometheusSink) ExecutionsInFlightDecr() {
	s.executionsInFlight.Dec()
}

func (s *PrometheusSink) BufferSizeUpdate(size int) {
	s.bufferSize.Set(float64(size))
}

func (s *PrometheusSink) EmitError() {
	s.emitErrorsTotal.Inc()
}

func (s *PrometheusSink) AlarmStateChanged(alarm, state string) {
	v := 0.0
	if state == "ALARM" {
		v = 1
	}
	s.alarmState.WithLabelValues(alarm).Set(v)
}

func (s *PrometheusSink) AlertDelivered(outcome string) {
	s.alertsTotal.WithLabelValues(outcome).Inc()
}
