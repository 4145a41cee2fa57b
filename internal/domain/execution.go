package domain

import (
	"time"

	"github.com/google/uuid"
)

type ExecutionStatus string

const (
	ExecutionStatusSucceeded ExecutionStatus = "succeeded"
	ExecutionStatusFailed    ExecutionStatus = "failed"
	ExecutionStatusTimedOut  ExecutionStatus = "timed_out"
)

// Execution records one run of a compute unit. Runs are never retried.
type Execution struct {
	ID       uuid.UUID
	Function string

	ScheduledAt time.Time
	StartedAt   time.Time
	FinishedAt  time.Time
	Status      ExecutionStatus
	Error       string
}

// Failed reports whether the run counts towards the function's error metric.
func (e Execution) Failed() bool {
	return e.Status == ExecutionStatusFailed || e.Status == ExecutionStatusTimedOut
}
