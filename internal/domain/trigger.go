package domain

import (
	"time"

	"github.com/google/uuid"
)

// TriggerEvent is emitted by the local scheduler when a rule fires.
type TriggerEvent struct {
	ExecutionID uuid.UUID
	Rule        string
	Function    string

	ScheduledAt time.Time // intended fire time (UTC)
	FiredAt     time.Time // actual emission time
}
