// Package pipeline runs one audit session end to end: fetch the contracts,
// audit them, deliver the result.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"auditagent/internal/audit"
	"auditagent/internal/contracts"
	"auditagent/internal/jobs"
	"auditagent/internal/platform/metrics"
	"auditagent/internal/report"
)

// ErrNothingToAudit ends a session before any generation call. No callback
// is sent.
var ErrNothingToAudit = errors.New("nothing to audit")

// Auditor runs the orchestrator over a file set.
type Auditor interface {
	Run(ctx context.Context, taskID string, files []contracts.File) (audit.Report, error)
}

// Service implements jobs.Handler.
type Service struct {
	fetcher contracts.Fetcher
	auditor Auditor
	sender  report.Sender
	logger  *slog.Logger
	metrics *metrics.Metrics
	tracer  trace.Tracer
}

// New wires a pipeline. sender may be nil for runs that never deliver.
func New(fetcher contracts.Fetcher, auditor Auditor, sender report.Sender, logger *slog.Logger, m *metrics.Metrics) *Service {
	return &Service{
		fetcher: fetcher,
		auditor: auditor,
		sender:  sender,
		logger:  logger,
		metrics: m,
		tracer:  otel.Tracer("auditagent/pipeline"),
	}
}

// Audit fetches src and audits whatever could be read. A wholly
// unreachable or empty source yields ErrNothingToAudit.
func (s *Service) Audit(ctx context.Context, taskID string, src contracts.Source) (audit.Report, error) {
	files, err := s.fetcher.Fetch(ctx, src)
	if err != nil || len(files) == 0 {
		s.logger.WarnContext(ctx, "no contracts to audit, ending session",
			"task_id", taskID,
			"source", src.String(),
			"error", err,
		)
		if err != nil {
			return audit.Report{TaskID: taskID}, fmt.Errorf("%w: %w", ErrNothingToAudit, err)
		}
		return audit.Report{TaskID: taskID}, ErrNothingToAudit
	}
	s.logger.InfoContext(ctx, "contracts fetched", "task_id", taskID, "files", len(files))
	return s.auditor.Run(ctx, taskID, files)
}

// Process runs the full session for job and delivers the result to its
// callback. Delivery failures are returned as *report.DeliveryError.
func (s *Service) Process(ctx context.Context, job jobs.Job) (res jobs.Result, err error) {
	ctx, span := s.tracer.Start(ctx, "pipeline.session", trace.WithAttributes(
		attribute.String("task_id", job.TaskID),
		attribute.String("job_id", job.ID),
		attribute.String("format", string(job.Format)),
	))
	start := time.Now()
	defer func() {
		if err != nil {
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
		s.metrics.ObserveSession(time.Since(start))
	}()

	rep, err := s.Audit(ctx, job.TaskID, job.Source())
	res = jobs.Result{Findings: len(rep.Findings), Iterations: rep.Iterations}
	if err != nil {
		return res, err
	}
	if rep.ParseErr != nil && job.Format == report.FormatStructured {
		s.logger.WarnContext(ctx, "delivering empty structured findings", "task_id", job.TaskID, "error", rep.ParseErr)
	}
	if s.sender == nil || job.CallbackURL == "" {
		return res, nil
	}

	err = s.sender.Send(ctx, report.Delivery{
		TaskID:      job.TaskID,
		CallbackURL: job.CallbackURL,
		Format:      job.Format,
		Report:      rep,
	})
	res.Delivered = err == nil
	return res, err
}
