package api

import (
	"time"

	"github.com/djlord-it/ynab-sync/internal/domain"
)

type FunctionResponse struct {
	Name           string `json:"name"`
	Job            string `json:"job"`
	Schedule       string `json:"schedule,omitempty"`
	TimeoutSeconds int    `json:"timeout_seconds"`
	AlarmState     string `json:"alarm_state,omitempty"`
}

type ExecutionResponse struct {
	ID          string `json:"id"`
	Function    string `json:"function"`
	ScheduledAt string `json:"scheduled_at"`
	StartedAt   string `json:"started_at"`
	FinishedAt  string `json:"finished_at"`
	Status      string `json:"status"`
	Error       string `json:"error,omitempty"`
}

type ListFunctionsResponse struct {
	Functions []FunctionResponse `json:"functions"`
}

type ListExecutionsResponse struct {
	Executions []ExecutionResponse `json:"executions"`
}

type ErrorResponse struct {
	Error string `json:"error"`
}

func toExecutionResponse(exec domain.Execution) ExecutionResponse {
	return ExecutionResponse{
		ID:          exec.ID.String(),
		Function:    exec.Function,
		ScheduledAt: formatTime(exec.ScheduledAt),
		StartedAt:   formatTime(exec.StartedAt),
		FinishedAt:  formatTime(exec.FinishedAt),
		Status:      string(exec.Status),
		Error:       exec.Error,
	}
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}
