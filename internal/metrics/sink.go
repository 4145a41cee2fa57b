package metrics

import "time"

// Sink defines the interface for recording metrics.
// All methods are fire-and-forget: implementations MUST NOT block or propagate errors.
type Sink interface {
	// Provisioner metrics
	JobRendered(outcome string)
	ResourcesRendered(kind string, n int)

	// Applier metrics
	ResourceApplied(kind string, duration time.Duration, err error)

	// Local runtime: scheduler
	TickStarted()
	TickCompleted(duration time.Duration, fired int, err error)

	// Local runtime: executor
	ExecutionCompleted(function, status string, duration time.Duration)
	ExecutionsInFlightIncr()
	ExecutionsInFlightDecr()

	// Local runtime: event bus
	BufferSizeUpdate(size int)
	EmitError()

	// Local runtime: monitor
	AlarmStateChanged(alarm, state string)
	AlertDelivered(outcome string)
}

// Outcome constants for AlertDelivered.
const (
	OutcomeSuccess = "success"
	OutcomeFailed  = "failed"
)
