// Package generation wraps the text-generation backend. Callers get a
// Result for every call; backend failures never escape as errors or panics.
package generation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"auditagent/internal/platform/metrics"
)

// Role identifies which persona a prompt is addressed to.
type Role string

const (
	RoleSearcher  Role = "searcher"
	RoleEvaluator Role = "evaluator"
	RoleAuditor   Role = "auditor"
)

// SystemPrompt returns the system message sent with every call for the role.
func (r Role) SystemPrompt() string {
	switch r {
	case RoleSearcher:
		return "You are a solidity security expert searching for new vulnerabilities."
	case RoleEvaluator:
		return "You are a solidity security expert classifying vulnerabilities by threat level."
	default:
		return "You are an expert Solidity smart contract auditor."
	}
}

// Request is one backend call.
type Request struct {
	Role   Role
	Prompt string
	// JSON asks the backend for a JSON object response.
	JSON bool
}

//go:generate mockgen -source=generation.go -destination=mocks/backend_mock.go -package=mocks Backend

// Backend performs a single synchronous completion.
type Backend interface {
	Complete(ctx context.Context, req Request) (string, error)
}

// Status classifies a call outcome.
type Status string

const (
	StatusOK     Status = "ok"
	StatusEmpty  Status = "empty"
	StatusFailed Status = "failed"
)

// Result is the outcome of one Invoke. Text is empty unless Status is
// StatusOK. Empty text means "no signal from this call", not "no findings".
type Result struct {
	Text   string
	Status Status
	Err    error
}

// Failed reports whether the call failed.
func (r Result) Failed() bool { return r.Status == StatusFailed }

// ErrBackendUnavailable is returned in Result.Err while the breaker is open.
var ErrBackendUnavailable = errors.New("generation backend unavailable")

// Client is the synchronous request/response wrapper the orchestrator uses.
type Client struct {
	backend Backend
	breaker *Breaker
	logger  *slog.Logger
	metrics *metrics.Metrics
	tracer  trace.Tracer
}

// Option configures a Client.
type Option func(*Client)

// WithBreaker replaces the default circuit breaker.
func WithBreaker(b *Breaker) Option {
	return func(c *Client) { c.breaker = b }
}

// WithMetrics attaches Prometheus instrumentation.
func WithMetrics(m *metrics.Metrics) Option {
	return func(c *Client) { c.metrics = m }
}

// NewClient wraps backend. The default breaker opens after 5 consecutive
// failures and stays open for 30s.
func NewClient(backend Backend, logger *slog.Logger, opts ...Option) *Client {
	c := &Client{
		backend: backend,
		breaker: NewBreaker(5, 30*time.Second),
		logger:  logger,
		tracer:  otel.Tracer("auditagent/generation"),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(c)
		}
	}
	return c
}

// Invoke sends prompt to the backend in the given role.
func (c *Client) Invoke(ctx context.Context, role Role, prompt string) Result {
	return c.Do(ctx, Request{Role: role, Prompt: prompt})
}

// Do runs a full Request. It never panics past its boundary.
func (c *Client) Do(ctx context.Context, req Request) (res Result) {
	ctx, span := c.tracer.Start(ctx, "generation."+string(req.Role),
		trace.WithAttributes(attribute.Int("prompt.bytes", len(req.Prompt))))
	start := time.Now()
	called := false
	defer func() {
		if p := recover(); p != nil {
			res = Result{Status: StatusFailed, Err: fmt.Errorf("generation backend panic: %v", p)}
		}
		if res.Failed() {
			span.SetStatus(codes.Error, res.Err.Error())
			switch {
			case !called:
			case callerGaveUp(ctx, res.Err):
				// Not the backend's fault; other sessions keep going.
				c.breaker.Release()
			default:
				c.breaker.RecordFailure()
			}
			c.logger.ErrorContext(ctx, "generation call failed",
				"role", req.Role,
				"error", res.Err,
			)
		}
		span.SetAttributes(attribute.String("result.status", string(res.Status)))
		span.End()
		c.metrics.ObservePhase(string(req.Role), string(res.Status), time.Since(start))
	}()

	if !c.breaker.Allow() {
		return Result{Status: StatusFailed, Err: ErrBackendUnavailable}
	}

	called = true
	text, err := c.backend.Complete(ctx, req)
	if err != nil {
		return Result{Status: StatusFailed, Err: err}
	}
	c.breaker.RecordSuccess()

	if strings.TrimSpace(stripEmptyQuotes(text)) == "" {
		return Result{Status: StatusEmpty}
	}
	return Result{Text: text, Status: StatusOK}
}

// callerGaveUp reports whether err stems from the caller's own context
// rather than the backend.
func callerGaveUp(ctx context.Context, err error) bool {
	return ctx.Err() != nil || errors.Is(err, context.Canceled)
}

// stripEmptyQuotes treats a literal `""` answer (which the prompts ask for
// when nothing is found) as empty.
func stripEmptyQuotes(s string) string {
	t := strings.TrimSpace(s)
	t = strings.Trim(t, "`")
	if strings.TrimSpace(t) == `""` {
		return ""
	}
	return s
}
