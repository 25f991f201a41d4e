package jobs

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"auditagent/internal/platform/metrics"
)

// DefaultWorkers is the worker pool size when none is configured.
const DefaultWorkers = 4

// dequeueBackoff is the pause after a failed Dequeue.
const dequeueBackoff = time.Second

// Dispatcher runs a fixed pool of workers over a Queue.
type Dispatcher struct {
	queue   Queue
	handler Handler
	tracker *Tracker
	workers int
	logger  *slog.Logger
	metrics *metrics.Metrics
	now     func() time.Time
}

// NewDispatcher wires a worker pool. A nil tracker gets a default one.
func NewDispatcher(queue Queue, handler Handler, tracker *Tracker, workers int, logger *slog.Logger, m *metrics.Metrics) *Dispatcher {
	if workers <= 0 {
		workers = DefaultWorkers
	}
	if tracker == nil {
		tracker = NewTracker(DefaultRetention)
	}
	return &Dispatcher{
		queue:   queue,
		handler: handler,
		tracker: tracker,
		workers: workers,
		logger:  logger,
		metrics: m,
		now:     time.Now,
	}
}

// Submit assigns the job an ID, tracks it as queued and enqueues it without
// blocking. The returned job carries the assigned ID.
func (d *Dispatcher) Submit(ctx context.Context, job Job) (Job, error) {
	if job.ID == "" {
		job.ID = uuid.NewString()
	}
	if job.AcceptedAt.IsZero() {
		job.AcceptedAt = d.now()
	}
	d.tracker.Queued(job)
	if err := d.queue.Enqueue(ctx, job); err != nil {
		d.tracker.Forget(job)
		return job, err
	}
	d.metrics.SetQueueDepth(d.queue.Len(ctx))
	d.logger.InfoContext(ctx, "job queued", "task_id", job.TaskID, "job_id", job.ID)
	return job, nil
}

// Status returns the tracked record for a task.
func (d *Dispatcher) Status(taskID string) (Record, bool) {
	return d.tracker.Get(taskID)
}

// Cancel cancels the queued or running job for a task.
func (d *Dispatcher) Cancel(taskID string) error {
	if err := d.tracker.Cancel(taskID); err != nil {
		return err
	}
	d.logger.Info("job cancellation requested", "task_id", taskID)
	return nil
}

// Run blocks until ctx is cancelled or the queue is closed. Cancelling ctx
// cancels every running job.
func (d *Dispatcher) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)
	for worker := range d.workers {
		g.Go(func() error {
			return d.work(gctx, worker)
		})
	}
	err := g.Wait()
	if errors.Is(err, context.Canceled) || errors.Is(err, ErrQueueClosed) {
		return nil
	}
	return err
}

func (d *Dispatcher) work(ctx context.Context, worker int) error {
	for {
		job, err := d.queue.Dequeue(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if errors.Is(err, ErrQueueClosed) {
				return err
			}
			d.logger.ErrorContext(ctx, "dequeue failed", "worker", worker, "error", err)
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(dequeueBackoff):
			}
			continue
		}
		d.metrics.SetQueueDepth(d.queue.Len(ctx))
		d.execute(ctx, worker, job)
	}
}

// execute runs one job. Panics are recovered and mark the job failed.
func (d *Dispatcher) execute(ctx context.Context, worker int, job Job) {
	jobCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	if !d.tracker.start(job, cancel) {
		d.logger.InfoContext(ctx, "skipping cancelled job", "task_id", job.TaskID, "job_id", job.ID)
		d.metrics.IncJobCompleted(string(StatusCancelled))
		return
	}

	d.metrics.JobStarted()
	start := d.now()
	var (
		res Result
		err error
	)
	func() {
		defer func() {
			if p := recover(); p != nil {
				err = fmt.Errorf("job panicked: %v", p)
				d.logger.ErrorContext(ctx, "job panicked",
					"task_id", job.TaskID,
					"job_id", job.ID,
					"panic", p,
					"stack", string(debug.Stack()),
				)
			}
		}()
		res, err = d.handler.Process(jobCtx, job)
	}()
	d.metrics.JobFinished()

	status := StatusSucceeded
	switch {
	case err == nil:
	case errors.Is(err, context.Canceled):
		status = StatusCancelled
	default:
		status = StatusFailed
	}
	d.tracker.finish(job, res, status, err)
	d.metrics.IncJobCompleted(string(status))

	attrs := []any{
		"task_id", job.TaskID,
		"job_id", job.ID,
		"worker", worker,
		"status", status,
		"findings", res.Findings,
		"duration", d.now().Sub(start),
	}
	if err != nil {
		attrs = append(attrs, "error", err)
		d.logger.WarnContext(ctx, "job finished", attrs...)
		return
	}
	d.logger.InfoContext(ctx, "job finished", attrs...)
}
