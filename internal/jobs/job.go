// Package jobs schedules audit sessions as background units of work: a
// Queue of accepted notifications, a Dispatcher running a fixed worker pool
// over it, and a Tracker making each job's lifecycle observable.
package jobs

import (
	"context"
	"errors"
	"time"

	"auditagent/internal/contracts"
	"auditagent/internal/report"
)

// Job is one accepted notification, serializable so it can cross a
// Redis-backed queue.
type Job struct {
	ID           string        `json:"id"`
	TaskID       string        `json:"task_id"`
	ContractsURL string        `json:"contracts_url,omitempty"`
	RepoURL      string        `json:"repo_url,omitempty"`
	Files        []string      `json:"files,omitempty"`
	CallbackURL  string        `json:"callback_url"`
	Format       report.Format `json:"format"`
	AcceptedAt   time.Time     `json:"accepted_at"`
}

// Source is where the job's contracts come from.
func (j Job) Source() contracts.Source {
	return contracts.Source{URL: j.ContractsURL, RepoURL: j.RepoURL, Files: j.Files}
}

// Result summarizes a finished job for status tracking.
type Result struct {
	Findings   int
	Iterations int
	Delivered  bool
}

// Handler runs one job to completion.
type Handler interface {
	Process(ctx context.Context, job Job) (Result, error)
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(ctx context.Context, job Job) (Result, error)

// Process implements Handler.
func (f HandlerFunc) Process(ctx context.Context, job Job) (Result, error) {
	return f(ctx, job)
}

var (
	// ErrQueueFull is returned by Enqueue when the queue is at capacity.
	ErrQueueFull = errors.New("job queue is full")
	// ErrQueueClosed is returned after Close.
	ErrQueueClosed = errors.New("job queue is closed")
	// ErrNotFound means no job is tracked for the task.
	ErrNotFound = errors.New("job not found")
	// ErrFinished means the job can no longer be cancelled.
	ErrFinished = errors.New("job already finished")
)
