package jobs

import (
	"context"
	"sync"
	"time"
)

// Status is a job's lifecycle position.
type Status string

const (
	StatusQueued    Status = "queued"
	StatusRunning   Status = "running"
	StatusSucceeded Status = "succeeded"
	StatusFailed    Status = "failed"
	StatusCancelled Status = "cancelled"
)

// Terminal reports whether the status is final.
func (s Status) Terminal() bool {
	return s == StatusSucceeded || s == StatusFailed || s == StatusCancelled
}

// Record is the tracked state of the latest job for a task.
type Record struct {
	ID         string    `json:"id"`
	TaskID     string    `json:"task_id"`
	Status     Status    `json:"status"`
	Error      string    `json:"error,omitempty"`
	Findings   int       `json:"findings"`
	Iterations int       `json:"iterations"`
	Delivered  bool      `json:"delivered"`
	AcceptedAt time.Time `json:"accepted_at"`
	StartedAt  time.Time `json:"started_at,omitzero"`
	FinishedAt time.Time `json:"finished_at,omitzero"`
}

type entry struct {
	record          Record
	cancel          context.CancelFunc
	cancelRequested bool
}

// Tracker holds in-memory job state for this process, keyed by task ID.
// Finished records older than the retention window are pruned.
type Tracker struct {
	mu        sync.Mutex
	entries   map[string]*entry
	retention time.Duration
	now       func() time.Time
}

// DefaultRetention keeps finished records for a day.
const DefaultRetention = 24 * time.Hour

// NewTracker creates an empty tracker.
func NewTracker(retention time.Duration) *Tracker {
	if retention <= 0 {
		retention = DefaultRetention
	}
	return &Tracker{entries: make(map[string]*entry), retention: retention, now: time.Now}
}

// Queued registers a newly accepted job, replacing any earlier run for the
// same task. An earlier run that has not finished is cancelled so only the
// newest run delivers a result.
func (t *Tracker) Queued(job Job) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.pruneLocked()
	if prev, ok := t.entries[job.TaskID]; ok && !prev.record.Status.Terminal() {
		prev.cancelRequested = true
		if prev.cancel != nil {
			prev.cancel()
		}
	}
	t.entries[job.TaskID] = &entry{record: Record{
		ID:         job.ID,
		TaskID:     job.TaskID,
		Status:     StatusQueued,
		AcceptedAt: job.AcceptedAt,
	}}
}

// Forget drops a job that never made it onto the queue.
func (t *Tracker) Forget(job Job) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if e, ok := t.entries[job.TaskID]; ok && e.record.ID == job.ID {
		delete(t.entries, job.TaskID)
	}
}

// Get returns a copy of the record for taskID.
func (t *Tracker) Get(taskID string) (Record, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	e, ok := t.entries[taskID]
	if !ok {
		return Record{}, false
	}
	return e.record, true
}

// Cancel requests cancellation. Queued jobs are cancelled before they run;
// running jobs have their context cancelled.
func (t *Tracker) Cancel(taskID string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	e, ok := t.entries[taskID]
	if !ok {
		return ErrNotFound
	}
	if e.record.Status.Terminal() {
		return ErrFinished
	}
	e.cancelRequested = true
	if e.record.Status == StatusQueued {
		e.record.Status = StatusCancelled
		e.record.FinishedAt = t.now()
		return nil
	}
	if e.cancel != nil {
		e.cancel()
	}
	return nil
}

// start marks job running. It returns false when the job was cancelled
// while queued or superseded by a newer run of the same task.
func (t *Tracker) start(job Job, cancel context.CancelFunc) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	e, ok := t.entries[job.TaskID]
	if !ok {
		// Accepted by another process sharing the queue.
		e = &entry{record: Record{ID: job.ID, TaskID: job.TaskID, AcceptedAt: job.AcceptedAt}}
		t.entries[job.TaskID] = e
	}
	if e.record.ID != job.ID || e.cancelRequested {
		return false
	}
	e.record.Status = StatusRunning
	e.record.StartedAt = t.now()
	e.cancel = cancel
	return true
}

// finish records the terminal state of a run.
func (t *Tracker) finish(job Job, res Result, status Status, err error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	e, ok := t.entries[job.TaskID]
	if !ok || e.record.ID != job.ID {
		return
	}
	if e.cancelRequested && status == StatusFailed {
		status = StatusCancelled
	}
	e.record.Status = status
	e.record.Findings = res.Findings
	e.record.Iterations = res.Iterations
	e.record.Delivered = res.Delivered
	e.record.FinishedAt = t.now()
	if err != nil {
		e.record.Error = err.Error()
	}
	e.cancel = nil
}

func (t *Tracker) pruneLocked() {
	cutoff := t.now().Add(-t.retention)
	for id, e := range t.entries {
		if e.record.Status.Terminal() && e.record.FinishedAt.Before(cutoff) {
			delete(t.entries, id)
		}
	}
}
