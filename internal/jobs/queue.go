package jobs

import (
	"context"
	"sync"
)

// Queue hands accepted jobs to workers.
type Queue interface {
	// Enqueue never blocks; it fails with ErrQueueFull at capacity.
	Enqueue(ctx context.Context, job Job) error
	// Dequeue blocks until a job is available or ctx is done.
	Dequeue(ctx context.Context) (Job, error)
	// Len is the number of jobs waiting.
	Len(ctx context.Context) int
	Close() error
}

// MemoryQueue is a bounded in-process queue.
type MemoryQueue struct {
	ch     chan Job
	done   chan struct{}
	closed sync.Once
}

// NewMemoryQueue holds up to size waiting jobs.
func NewMemoryQueue(size int) *MemoryQueue {
	if size <= 0 {
		size = 1
	}
	return &MemoryQueue{ch: make(chan Job, size), done: make(chan struct{})}
}

// Enqueue implements Queue.
func (q *MemoryQueue) Enqueue(ctx context.Context, job Job) error {
	select {
	case <-q.done:
		return ErrQueueClosed
	default:
	}
	select {
	case q.ch <- job:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	default:
		return ErrQueueFull
	}
}

// Dequeue implements Queue.
func (q *MemoryQueue) Dequeue(ctx context.Context) (Job, error) {
	select {
	case <-ctx.Done():
		return Job{}, ctx.Err()
	case <-q.done:
		return Job{}, ErrQueueClosed
	case job := <-q.ch:
		return job, nil
	}
}

// Len implements Queue.
func (q *MemoryQueue) Len(context.Context) int { return len(q.ch) }

// Close stops further Enqueue and wakes blocked Dequeue calls.
func (q *MemoryQueue) Close() error {
	q.closed.Do(func() { close(q.done) })
	return nil
}
