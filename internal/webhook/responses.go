package webhook

import (
	"time"

	"auditagent/internal/jobs"
)

// AcceptedResponse acknowledges a notification before the audit runs.
type AcceptedResponse struct {
	Status string `json:"status"`
	TaskID string `json:"task_id"`
}

// HealthResponse is the liveness body.
type HealthResponse struct {
	Status string `json:"status"`
}

// TaskResponse reports a tracked job.
type TaskResponse struct {
	TaskID     string      `json:"task_id"`
	JobID      string      `json:"job_id"`
	Status     jobs.Status `json:"status"`
	Error      string      `json:"error,omitempty"`
	Findings   int         `json:"findings"`
	Iterations int         `json:"iterations"`
	Delivered  bool        `json:"delivered"`
	AcceptedAt time.Time   `json:"accepted_at"`
	StartedAt  time.Time   `json:"started_at,omitzero"`
	FinishedAt time.Time   `json:"finished_at,omitzero"`
}

func toTaskResponse(r jobs.Record) TaskResponse {
	return TaskResponse{
		TaskID:     r.TaskID,
		JobID:      r.ID,
		Status:     r.Status,
		Error:      r.Error,
		Findings:   r.Findings,
		Iterations: r.Iterations,
		Delivered:  r.Delivered,
		AcceptedAt: r.AcceptedAt,
		StartedAt:  r.StartedAt,
		FinishedAt: r.FinishedAt,
	}
}
