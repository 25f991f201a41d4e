// Package webhook is the HTTP intake: it authenticates task notifications,
// acknowledges them immediately and schedules the audit as a background job.
package webhook

//go:generate mockgen -source=handler.go -destination=mocks/scheduler_mock.go -package=mocks Scheduler

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"auditagent/internal/events"
	"auditagent/internal/jobs"
	"auditagent/internal/platform/metrics"
	"auditagent/internal/platform/middleware"
	"auditagent/pkg/platform/httputil"
	"auditagent/pkg/requestcontext"
)

// maxBodyBytes bounds a notification body.
const maxBodyBytes = 1 << 20

// Scheduler accepts jobs and reports on them.
type Scheduler interface {
	Submit(ctx context.Context, job jobs.Job) (jobs.Job, error)
	Status(taskID string) (jobs.Record, bool)
	Cancel(taskID string) error
}

// Handler serves the intake routes.
type Handler struct {
	scheduler Scheduler
	secret    string
	publisher events.Publisher
	logger    *slog.Logger
	metrics   *metrics.Metrics
}

// Option configures a Handler.
type Option func(*Handler)

// WithSecret requires X-Webhook-Secret to match secret on POST /webhook.
func WithSecret(secret string) Option {
	return func(h *Handler) {
		h.secret = secret
	}
}

// WithPublisher emits a task.accepted event for every scheduled job.
func WithPublisher(pub events.Publisher) Option {
	return func(h *Handler) {
		h.publisher = pub
	}
}

// New creates a Handler. Without WithSecret every caller is accepted, which
// is logged once here.
func New(scheduler Scheduler, logger *slog.Logger, m *metrics.Metrics, opts ...Option) *Handler {
	h := &Handler{
		scheduler: scheduler,
		logger:    logger,
		metrics:   m,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(h)
		}
	}
	if h.secret == "" {
		logger.Warn("WEBHOOK_SECRET is not set; webhook requests are not authenticated")
	}
	return h
}

// Register mounts the routes on r.
func (h *Handler) Register(r chi.Router) {
	router := chi.NewRouter()
	router.Use(chimw.RequestID)
	router.Use(middleware.RequestMetadata)
	router.Use(chimw.Recoverer)

	router.Get("/health", h.handleHealth)
	router.With(middleware.RequireSecret(h.secret, h.logger, func() {
		h.metrics.IncNotification("unauthorized")
	})).Post("/webhook", h.handleWebhook)
	router.Get("/tasks/{taskID}", h.handleTaskStatus)
	router.Delete("/tasks/{taskID}", h.handleTaskCancel)

	r.Mount("/", router)
}

func (h *Handler) handleHealth(w http.ResponseWriter, _ *http.Request) {
	httputil.WriteJSON(w, http.StatusOK, HealthResponse{Status: "healthy"})
}

func (h *Handler) handleWebhook(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := requestcontext.RequestID(ctx)

	var req Notification
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&req); err != nil {
		h.logger.WarnContext(ctx, "invalid webhook body",
			"request_id", requestID,
			"error", err,
		)
		h.metrics.IncNotification("invalid")
		httputil.WriteError(w, httputil.NewError(httputil.CodeBadRequest, "invalid request body"))
		return
	}
	req.Normalize()
	if err := req.Validate(); err != nil {
		h.logger.WarnContext(ctx, "rejected webhook notification",
			"request_id", requestID,
			"task_id", req.TaskID,
			"error", err,
		)
		h.metrics.IncNotification("invalid")
		httputil.WriteError(w, err)
		return
	}

	job, err := h.scheduler.Submit(ctx, req.ToJob(requestcontext.Now(ctx)))
	if err != nil {
		h.metrics.IncNotification("rejected")
		if errors.Is(err, jobs.ErrQueueFull) || errors.Is(err, jobs.ErrQueueClosed) {
			h.logger.WarnContext(ctx, "job queue unavailable",
				"request_id", requestID,
				"task_id", req.TaskID,
				"error", err,
			)
			httputil.WriteError(w, httputil.NewError(httputil.CodeUnavailable, "audit queue is full, retry later"))
			return
		}
		h.logger.ErrorContext(ctx, "failed to schedule audit",
			"request_id", requestID,
			"task_id", req.TaskID,
			"error", err,
		)
		httputil.WriteError(w, err)
		return
	}

	events.Emit(ctx, h.publisher, h.logger, events.NewEvent(events.TypeAccepted, job))
	h.metrics.IncNotification("accepted")
	h.logger.InfoContext(ctx, "notification accepted",
		"request_id", requestID,
		"task_id", job.TaskID,
		"job_id", job.ID,
		"format", job.Format,
		"client_ip", requestcontext.ClientIP(ctx),
	)
	httputil.WriteJSON(w, http.StatusOK, AcceptedResponse{Status: "processing", TaskID: job.TaskID})
}

func (h *Handler) handleTaskStatus(w http.ResponseWriter, r *http.Request) {
	taskID := chi.URLParam(r, "taskID")
	rec, ok := h.scheduler.Status(taskID)
	if !ok {
		httputil.WriteError(w, httputil.NewError(httputil.CodeNotFound, "no job for task "+taskID))
		return
	}
	httputil.WriteJSON(w, http.StatusOK, toTaskResponse(rec))
}

func (h *Handler) handleTaskCancel(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	taskID := chi.URLParam(r, "taskID")
	err := h.scheduler.Cancel(taskID)
	switch {
	case errors.Is(err, jobs.ErrNotFound):
		httputil.WriteError(w, httputil.NewError(httputil.CodeNotFound, "no job for task "+taskID))
		return
	case errors.Is(err, jobs.ErrFinished):
		httputil.WriteError(w, httputil.NewError(httputil.CodeConflict, "job already finished"))
		return
	case err != nil:
		h.logger.ErrorContext(ctx, "failed to cancel job", "task_id", taskID, "error", err)
		httputil.WriteError(w, err)
		return
	}

	h.logger.InfoContext(ctx, "task cancellation requested",
		"request_id", requestcontext.RequestID(ctx),
		"task_id", taskID,
	)
	rec, _ := h.scheduler.Status(taskID)
	httputil.WriteJSON(w, http.StatusAccepted, toTaskResponse(rec))
}
