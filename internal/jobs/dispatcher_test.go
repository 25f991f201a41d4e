package jobs

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	promtest "github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"

	"auditagent/internal/platform/logger"
	"auditagent/internal/platform/metrics"
)

type DispatcherSuite struct {
	suite.Suite
	ctx     context.Context
	cancel  context.CancelFunc
	queue   *MemoryQueue
	tracker *Tracker
	metrics *metrics.Metrics
	done    chan error
}

func TestDispatcherSuite(t *testing.T) {
	suite.Run(t, new(DispatcherSuite))
}

func (s *DispatcherSuite) SetupTest() {
	s.ctx, s.cancel = context.WithCancel(context.Background())
	s.queue = NewMemoryQueue(8)
	s.tracker = NewTracker(time.Hour)
	s.metrics = metrics.New(prometheus.NewRegistry())
	s.done = nil
}

func (s *DispatcherSuite) TearDownTest() {
	s.cancel()
	if s.done != nil {
		select {
		case err := <-s.done:
			s.NoError(err)
		case <-time.After(5 * time.Second):
			s.Fail("dispatcher did not stop")
		}
	}
}

func (s *DispatcherSuite) start(h Handler, workers int) *Dispatcher {
	d := NewDispatcher(s.queue, h, s.tracker, workers, logger.Discard(), s.metrics)
	s.done = make(chan error, 1)
	go func() { s.done <- d.Run(s.ctx) }()
	return d
}

func (s *DispatcherSuite) waitFor(taskID string, want Status) Record {
	var rec Record
	s.Require().Eventually(func() bool {
		var ok bool
		rec, ok = s.tracker.Get(taskID)
		return ok && rec.Status == want
	}, 5*time.Second, 5*time.Millisecond, "task %s never reached %s", taskID, want)
	return rec
}

func (s *DispatcherSuite) TestSubmit_RunsJobToSuccess() {
	d := s.start(HandlerFunc(func(ctx context.Context, job Job) (Result, error) {
		return Result{Findings: 1, Iterations: 10, Delivered: true}, nil
	}), 2)

	job, err := d.Submit(s.ctx, Job{TaskID: "T1", ContractsURL: "http://u", CallbackURL: "http://v"})
	s.Require().NoError(err)
	s.NotEmpty(job.ID)
	s.False(job.AcceptedAt.IsZero())

	rec := s.waitFor("T1", StatusSucceeded)
	s.Equal(job.ID, rec.ID)
	s.Equal(1, rec.Findings)
	s.Equal(10, rec.Iterations)
	s.True(rec.Delivered)
	s.Empty(rec.Error)
	s.Equal(1.0, promtest.ToFloat64(s.metrics.JobsCompleted.WithLabelValues("succeeded")))
}

func (s *DispatcherSuite) TestFailureAndPanicAreContained() {
	d := s.start(HandlerFunc(func(ctx context.Context, job Job) (Result, error) {
		if job.TaskID == "panic" {
			panic("boom")
		}
		return Result{}, errors.New("nothing to audit")
	}), 1)

	_, err := d.Submit(s.ctx, Job{TaskID: "panic"})
	s.Require().NoError(err)
	_, err = d.Submit(s.ctx, Job{TaskID: "fail"})
	s.Require().NoError(err)

	rec := s.waitFor("panic", StatusFailed)
	s.Contains(rec.Error, "boom")
	rec = s.waitFor("fail", StatusFailed)
	s.Equal("nothing to audit", rec.Error)
}

func (s *DispatcherSuite) TestJobsRunConcurrently() {
	release := make(chan struct{})
	var started sync.WaitGroup
	started.Add(2)
	d := s.start(HandlerFunc(func(ctx context.Context, job Job) (Result, error) {
		started.Done()
		<-release
		return Result{}, nil
	}), 2)

	for _, id := range []string{"A", "B"} {
		_, err := d.Submit(s.ctx, Job{TaskID: id})
		s.Require().NoError(err)
	}

	waited := make(chan struct{})
	go func() { started.Wait(); close(waited) }()
	select {
	case <-waited:
	case <-time.After(5 * time.Second):
		s.FailNow("both jobs should be running at once")
	}
	close(release)
	s.waitFor("A", StatusSucceeded)
	s.waitFor("B", StatusSucceeded)
}

func (s *DispatcherSuite) TestCancelRunningJob() {
	running := make(chan struct{})
	d := s.start(HandlerFunc(func(ctx context.Context, job Job) (Result, error) {
		close(running)
		<-ctx.Done()
		return Result{Iterations: 3}, ctx.Err()
	}), 1)

	_, err := d.Submit(s.ctx, Job{TaskID: "T1"})
	s.Require().NoError(err)
	<-running

	s.Require().NoError(d.Cancel("T1"))
	rec := s.waitFor("T1", StatusCancelled)
	s.Equal(3, rec.Iterations)

	s.ErrorIs(d.Cancel("T1"), ErrFinished)
	s.ErrorIs(d.Cancel("unknown"), ErrNotFound)
}

func (s *DispatcherSuite) TestCancelQueuedJobNeverRuns() {
	block := make(chan struct{})
	var mu sync.Mutex
	var ran []string
	d := s.start(HandlerFunc(func(ctx context.Context, job Job) (Result, error) {
		mu.Lock()
		ran = append(ran, job.TaskID)
		mu.Unlock()
		if job.TaskID == "first" {
			<-block
		}
		return Result{}, nil
	}), 1)

	_, err := d.Submit(s.ctx, Job{TaskID: "first"})
	s.Require().NoError(err)
	s.waitFor("first", StatusRunning)
	_, err = d.Submit(s.ctx, Job{TaskID: "second"})
	s.Require().NoError(err)

	s.Require().NoError(d.Cancel("second"))
	close(block)
	s.waitFor("first", StatusSucceeded)
	s.Eventually(func() bool { return s.queue.Len(s.ctx) == 0 }, time.Second, 5*time.Millisecond)

	rec, ok := d.Status("second")
	s.Require().True(ok)
	s.Equal(StatusCancelled, rec.Status)
	mu.Lock()
	defer mu.Unlock()
	s.Equal([]string{"first"}, ran)
}

func (s *DispatcherSuite) TestSubmit_QueueFull() {
	q := NewMemoryQueue(1)
	d := NewDispatcher(q, HandlerFunc(func(context.Context, Job) (Result, error) { return Result{}, nil }), s.tracker, 1, logger.Discard(), nil)

	_, err := d.Submit(s.ctx, Job{TaskID: "A"})
	s.Require().NoError(err)
	_, err = d.Submit(s.ctx, Job{TaskID: "B"})

	s.ErrorIs(err, ErrQueueFull)
	_, tracked := d.Status("B")
	s.False(tracked)
}

func (s *DispatcherSuite) TestShutdownCancelsRunningJobs() {
	running := make(chan struct{})
	d := s.start(HandlerFunc(func(ctx context.Context, job Job) (Result, error) {
		close(running)
		<-ctx.Done()
		return Result{}, ctx.Err()
	}), 1)

	_, err := d.Submit(s.ctx, Job{TaskID: "T1"})
	s.Require().NoError(err)
	<-running
	s.cancel()

	s.waitFor("T1", StatusCancelled)
}

func TestMemoryQueue(t *testing.T) {
	ctx := context.Background()
	q := NewMemoryQueue(2)

	require.NoError(t, q.Enqueue(ctx, Job{TaskID: "A"}))
	require.NoError(t, q.Enqueue(ctx, Job{TaskID: "B"}))
	assert.ErrorIs(t, q.Enqueue(ctx, Job{TaskID: "C"}), ErrQueueFull)
	assert.Equal(t, 2, q.Len(ctx))

	job, err := q.Dequeue(ctx)
	require.NoError(t, err)
	assert.Equal(t, "A", job.TaskID)

	short, cancel := context.WithTimeout(ctx, 10*time.Millisecond)
	defer cancel()
	_, _ = q.Dequeue(short)
	_, err = q.Dequeue(short)
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	require.NoError(t, q.Close())
	assert.ErrorIs(t, q.Enqueue(ctx, Job{}), ErrQueueClosed)
	_, err = q.Dequeue(ctx)
	assert.ErrorIs(t, err, ErrQueueClosed)
}

func TestTracker_PrunesOldFinishedRecords(t *testing.T) {
	now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	tr := NewTracker(time.Hour)
	tr.now = func() time.Time { return now }

	old := Job{ID: "1", TaskID: "old"}
	tr.Queued(old)
	require.True(t, tr.start(old, func() {}))
	tr.finish(old, Result{}, StatusSucceeded, nil)

	now = now.Add(2 * time.Hour)
	tr.Queued(Job{ID: "2", TaskID: "new"})

	_, ok := tr.Get("old")
	assert.False(t, ok)
	rec, ok := tr.Get("new")
	assert.True(t, ok)
	assert.Equal(t, StatusQueued, rec.Status)
}

func TestTracker_NewerRunSupersedesOlder(t *testing.T) {
	tr := NewTracker(time.Hour)
	first := Job{ID: "1", TaskID: "T"}
	second := Job{ID: "2", TaskID: "T"}
	tr.Queued(first)
	tr.Queued(second)

	assert.False(t, tr.start(first, func() {}), "superseded run must not start")
	assert.True(t, tr.start(second, func() {}))
	rec, _ := tr.Get("T")
	assert.Equal(t, "2", rec.ID)
	assert.Equal(t, StatusRunning, rec.Status)
}

func TestTracker_NewerRunCancelsRunningOlder(t *testing.T) {
	tr := NewTracker(time.Hour)
	first := Job{ID: "1", TaskID: "T"}
	second := Job{ID: "2", TaskID: "T"}
	firstCtx, cancelFirst := context.WithCancel(context.Background())
	defer cancelFirst()

	tr.Queued(first)
	require.True(t, tr.start(first, cancelFirst))
	tr.Queued(second)

	assert.ErrorIs(t, firstCtx.Err(), context.Canceled)
	tr.finish(first, Result{Iterations: 2}, StatusCancelled, context.Canceled)
	rec, _ := tr.Get("T")
	assert.Equal(t, "2", rec.ID)
	assert.Equal(t, StatusQueued, rec.Status, "older run must not overwrite the newer record")
}

func (s *DispatcherSuite) TestResubmitCancelsRunningRun() {
	var mu sync.Mutex
	cancelled := make(map[string]bool)
	started := make(chan string, 2)
	d := s.start(HandlerFunc(func(ctx context.Context, job Job) (Result, error) {
		started <- job.ID
		<-ctx.Done()
		mu.Lock()
		cancelled[job.ID] = true
		mu.Unlock()
		return Result{}, ctx.Err()
	}), 2)

	first, err := d.Submit(s.ctx, Job{TaskID: "T1"})
	s.Require().NoError(err)
	s.Equal(first.ID, <-started)

	second, err := d.Submit(s.ctx, Job{TaskID: "T1"})
	s.Require().NoError(err)
	s.Equal(second.ID, <-started)

	s.Eventually(func() bool {
		mu.Lock()
		defer mu.Unlock()
		return cancelled[first.ID]
	}, 5*time.Second, 5*time.Millisecond, "older run was not cancelled")

	s.Require().NoError(d.Cancel("T1"))
	rec := s.waitFor("T1", StatusCancelled)
	s.Equal(second.ID, rec.ID)
}
