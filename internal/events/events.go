// Package events publishes task lifecycle events. Publishing is fail-open:
// a broker outage is logged and never affects the audit itself.
package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"auditagent/internal/jobs"
)

// Type names a lifecycle transition.
type Type string

const (
	TypeAccepted  Type = "task.accepted"
	TypeStarted   Type = "task.started"
	TypeCompleted Type = "task.completed"
	TypeFailed    Type = "task.failed"
	TypeCancelled Type = "task.cancelled"
)

// Event is one lifecycle record, keyed by task ID on the wire.
type Event struct {
	ID         string    `json:"id"`
	Type       Type      `json:"type"`
	TaskID     string    `json:"task_id"`
	JobID      string    `json:"job_id,omitempty"`
	Findings   int       `json:"findings,omitempty"`
	Iterations int       `json:"iterations,omitempty"`
	Delivered  bool      `json:"delivered,omitempty"`
	Error      string    `json:"error,omitempty"`
	OccurredAt time.Time `json:"occurred_at"`
}

// NewEvent stamps an event with a fresh ID and the current time.
func NewEvent(t Type, job jobs.Job) Event {
	return Event{
		ID:         uuid.NewString(),
		Type:       t,
		TaskID:     job.TaskID,
		JobID:      job.ID,
		OccurredAt: time.Now().UTC(),
	}
}

// Publisher sends lifecycle events.
type Publisher interface {
	Publish(ctx context.Context, e Event) error
	Close() error
}

// Producer is the keyed record sink KafkaPublisher writes through.
type Producer interface {
	Produce(ctx context.Context, key, value []byte) error
}

// KafkaPublisher writes events as JSON records keyed by task ID.
type KafkaPublisher struct {
	producer Producer
	closer   func()
	logger   *slog.Logger
}

// NewKafkaPublisher publishes through producer. closer, when non-nil, runs
// on Close.
func NewKafkaPublisher(producer Producer, closer func(), logger *slog.Logger) *KafkaPublisher {
	return &KafkaPublisher{producer: producer, closer: closer, logger: logger}
}

// Publish implements Publisher.
func (p *KafkaPublisher) Publish(ctx context.Context, e Event) error {
	value, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("encode event: %w", err)
	}
	if err := p.producer.Produce(ctx, []byte(e.TaskID), value); err != nil {
		return fmt.Errorf("publish %s: %w", e.Type, err)
	}
	return nil
}

// Close implements Publisher.
func (p *KafkaPublisher) Close() error {
	if p.closer != nil {
		p.closer()
	}
	return nil
}

// LogPublisher writes events to the structured log. Used when no broker is
// configured.
type LogPublisher struct {
	logger *slog.Logger
}

// NewLogPublisher logs at debug level.
func NewLogPublisher(logger *slog.Logger) *LogPublisher {
	return &LogPublisher{logger: logger}
}

// Publish implements Publisher.
func (p *LogPublisher) Publish(ctx context.Context, e Event) error {
	p.logger.DebugContext(ctx, "task event",
		"event_id", e.ID,
		"type", e.Type,
		"task_id", e.TaskID,
		"job_id", e.JobID,
	)
	return nil
}

// Close implements Publisher.
func (p *LogPublisher) Close() error { return nil }

// Emit publishes e and logs instead of returning failures.
func Emit(ctx context.Context, pub Publisher, logger *slog.Logger, e Event) {
	if pub == nil {
		return
	}
	if err := pub.Publish(ctx, e); err != nil {
		logger.WarnContext(ctx, "failed to publish task event",
			"type", e.Type,
			"task_id", e.TaskID,
			"error", err,
		)
	}
}

// Observe wraps a job handler so every run emits started and terminal
// events.
func Observe(next jobs.Handler, pub Publisher, logger *slog.Logger) jobs.Handler {
	return jobs.HandlerFunc(func(ctx context.Context, job jobs.Job) (jobs.Result, error) {
		Emit(ctx, pub, logger, NewEvent(TypeStarted, job))

		res, err := next.Process(ctx, job)

		// The job context may already be cancelled; terminal events still go out.
		pubCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()

		e := NewEvent(TypeCompleted, job)
		switch {
		case err == nil:
		case errors.Is(err, context.Canceled):
			e.Type = TypeCancelled
		default:
			e.Type = TypeFailed
		}
		if err != nil {
			e.Error = err.Error()
		}
		e.Findings = res.Findings
		e.Iterations = res.Iterations
		e.Delivered = res.Delivered
		Emit(pubCtx, pub, logger, e)
		return res, err
	})
}
