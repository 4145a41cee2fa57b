package metrics

import "time"

// NoopSink is a no-op implementation of Sink.
// Used when metrics are disabled to avoid nil checks.
type NoopSink struct{}

// NewNoopSink returns a no-op metrics sink.
func NewNoopSink() *NoopSink {
	return &NoopSink{}
}

func (n *NoopSink) JobRendered(outcome string)                                  {}
func (n *NoopSink) ResourcesRendered(kind string, count int)                    {}
func (n *NoopSink) ResourceApplied(kind string, d time.Duration, err error)     {}
func (n *NoopSink) TickStarted()                                                {}
func (n *NoopSink) TickCompleted(d time.Duration, fired int, err error)         {}
func (n *NoopSink) ExecutionCompleted(function, status string, d time.Duration) {}
func (n *NoopSink) ExecutionsInFlightIncr()                                     {}
func (n *NoopSink) ExecutionsInFlightDecr()                                     {}
func (n *NoopSink) BufferSizeUpdate(size int)                                   {}
func (n *NoopSink) EmitError()                                                  {}
func (n *NoopSink) AlarmStateChanged(alarm, state string)                       {}
func (n *NoopSink) AlertDelivered(outcome string)                               {}
