// Package audit runs an audit session: a bounded loop of Search and
// Evaluate generation calls over a fixed contract set, accumulating a
// known-issues ledger, or a single structured pass.
package audit

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

	"auditagent/internal/contracts"
	"auditagent/internal/generation"
)

// DefaultMaxIterations is the Search/Evaluate pair budget per session.
const DefaultMaxIterations = 10

// ErrNoContracts is returned when a session is started without files.
var ErrNoContracts = errors.New("no contracts to audit")

// Generator is the slice of the generation client the orchestrator needs.
type Generator interface {
	Do(ctx context.Context, req generation.Request) generation.Result
}

// Mode selects the audit strategy.
type Mode string

const (
	ModeIterative  Mode = "iterative"
	ModeSinglePass Mode = "single-pass"
)

// ParseMode falls back to ModeIterative for unknown values.
func ParseMode(s string) Mode {
	if Mode(s) == ModeSinglePass {
		return ModeSinglePass
	}
	return ModeIterative
}

// Policy bounds the iterative loop.
type Policy struct {
	MaxIterations int
	// StopAfterEmptyIterations ends the loop after this many consecutive
	// iterations with empty Evaluate output. Zero disables early exit.
	StopAfterEmptyIterations int
}

// DefaultPolicy runs exactly DefaultMaxIterations iterations.
func DefaultPolicy() Policy {
	return Policy{MaxIterations: DefaultMaxIterations}
}

func (p Policy) normalized() Policy {
	if p.MaxIterations <= 0 {
		p.MaxIterations = DefaultMaxIterations
	}
	if p.StopAfterEmptyIterations < 0 {
		p.StopAfterEmptyIterations = 0
	}
	return p
}

// State is the orchestrator's position within a session.
type State string

const (
	StateIdle       State = "idle"
	StateSearching  State = "searching"
	StateEvaluating State = "evaluating"
	StateDone       State = "done"
)

// StateObserver is called on every state transition.
type StateObserver func(taskID string, iteration int, state State)

// Session is the state owned by one run. It is never shared.
type Session struct {
	TaskID     string
	Iterations int
	Contracts  []contracts.File
	Ledger     *Ledger
}

// Report is the outcome of a session.
type Report struct {
	TaskID          string
	Mode            Mode
	Ledger          string
	Iterations      int
	EmptyIterations int
	PhaseFailures   int
	Findings        []Finding
	// ParseErr is set when the output could not be turned into findings.
	ParseErr error
}

// Auditor drives sessions. It holds no per-session state and is safe for
// concurrent use.
type Auditor struct {
	gen      Generator
	policy   Policy
	mode     Mode
	logger   *slog.Logger
	observer StateObserver
	tracer   trace.Tracer
}

// Option configures an Auditor.
type Option func(*Auditor)

// WithPolicy sets the iteration policy.
func WithPolicy(p Policy) Option {
	return func(a *Auditor) { a.policy = p.normalized() }
}

// WithMode selects iterative or single-pass auditing.
func WithMode(m Mode) Option {
	return func(a *Auditor) { a.mode = m }
}

// WithObserver registers a state transition callback.
func WithObserver(o StateObserver) Option {
	return func(a *Auditor) { a.observer = o }
}

// New builds an Auditor with the default policy in iterative mode.
func New(gen Generator, logger *slog.Logger, opts ...Option) *Auditor {
	a := &Auditor{
		gen:    gen,
		policy: DefaultPolicy(),
		mode:   ModeIterative,
		logger: logger,
		tracer: otel.Tracer("auditagent/audit"),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(a)
		}
	}
	return a
}

// Run audits files for taskID. Generation failures never abort the run;
// the only errors are ErrNoContracts and context cancellation, in which
// case the partial report is still returned.
func (a *Auditor) Run(ctx context.Context, taskID string, files []contracts.File) (Report, error) {
	if len(files) == 0 {
		return Report{TaskID: taskID, Mode: a.mode}, ErrNoContracts
	}
	ctx, span := a.tracer.Start(ctx, "audit.session", trace.WithAttributes(
		attribute.String("task_id", taskID),
		attribute.String("mode", string(a.mode)),
		attribute.Int("contracts", len(files)),
	))
	defer span.End()

	start := time.Now()
	session := &Session{TaskID: taskID, Contracts: files, Ledger: &Ledger{}}
	a.transition(session, StateIdle)

	var (
		report Report
		err    error
	)
	if a.mode == ModeSinglePass {
		report, err = a.runSinglePass(ctx, session)
	} else {
		report, err = a.runIterative(ctx, session)
	}
	a.transition(session, StateDone)

	if err != nil {
		span.SetStatus(codes.Error, err.Error())
	}
	span.SetAttributes(
		attribute.Int("iterations", report.Iterations),
		attribute.Int("findings", len(report.Findings)),
	)
	a.logger.InfoContext(ctx, "audit session finished",
		"task_id", taskID,
		"mode", a.mode,
		"iterations", report.Iterations,
		"empty_iterations", report.EmptyIterations,
		"phase_failures", report.PhaseFailures,
		"findings", len(report.Findings),
		"duration", time.Since(start),
	)
	return report, err
}

func (a *Auditor) runIterative(ctx context.Context, s *Session) (Report, error) {
	auditContext := RenderContext(s.Contracts)
	report := Report{TaskID: s.TaskID, Mode: ModeIterative}
	consecutiveEmpty := 0

	for s.Iterations < a.policy.MaxIterations {
		if err := ctx.Err(); err != nil {
			return a.finish(ctx, report, s), err
		}

		a.transition(s, StateSearching)
		search := a.phase(ctx, generation.RoleSearcher, func() (string, error) {
			return SearchPrompt(auditContext, s.Ledger.Render())
		})
		if err := ctx.Err(); err != nil {
			return a.finish(ctx, report, s), err
		}
		if search.Failed() {
			// Nothing to evaluate; the ledger stays as it was for this round.
			report.PhaseFailures++
			report.EmptyIterations++
			consecutiveEmpty++
			s.Iterations++
			a.logger.DebugContext(ctx, "audit iteration skipped evaluation",
				"task_id", s.TaskID,
				"iteration", s.Iterations,
				"search_status", search.Status,
			)
			if a.stopEarly(ctx, s, consecutiveEmpty) {
				break
			}
			continue
		}

		a.transition(s, StateEvaluating)
		evaluate := a.phase(ctx, generation.RoleEvaluator, func() (string, error) {
			return EvaluatePrompt(search.Text, auditContext)
		})

		if evaluate.Failed() {
			report.PhaseFailures++
		}
		if s.Ledger.Append(evaluate.Text) {
			consecutiveEmpty = 0
		} else {
			report.EmptyIterations++
			consecutiveEmpty++
		}
		s.Iterations++

		a.logger.DebugContext(ctx, "audit iteration completed",
			"task_id", s.TaskID,
			"iteration", s.Iterations,
			"search_status", search.Status,
			"evaluate_status", evaluate.Status,
			"ledger_bytes", s.Ledger.Len(),
		)

		if a.stopEarly(ctx, s, consecutiveEmpty) {
			break
		}
	}
	return a.finish(ctx, report, s), nil
}

// stopEarly applies StopAfterEmptyIterations.
func (a *Auditor) stopEarly(ctx context.Context, s *Session, consecutiveEmpty int) bool {
	n := a.policy.StopAfterEmptyIterations
	if n <= 0 || consecutiveEmpty < n {
		return false
	}
	a.logger.InfoContext(ctx, "stopping after consecutive empty iterations",
		"task_id", s.TaskID,
		"iterations", s.Iterations,
		"empty_in_a_row", consecutiveEmpty,
	)
	return true
}

func (a *Auditor) finish(ctx context.Context, report Report, s *Session) Report {
	report.Iterations = s.Iterations
	report.Ledger = s.Ledger.String()
	findings, err := ParseFindings(report.Ledger, contracts.Paths(s.Contracts))
	if err != nil {
		a.logger.WarnContext(ctx, "could not parse findings from ledger", "task_id", s.TaskID, "error", err)
		findings = nil
	}
	report.Findings = findings
	report.ParseErr = err
	return report
}

func (a *Auditor) runSinglePass(ctx context.Context, s *Session) (Report, error) {
	report := Report{TaskID: s.TaskID, Mode: ModeSinglePass}
	if err := ctx.Err(); err != nil {
		return report, err
	}
	a.transition(s, StateSearching)
	res := a.call(ctx, generation.Request{Role: generation.RoleAuditor, JSON: true},
		func() (string, error) { return StructuredPrompt(RenderContext(s.Contracts)) })
	s.Iterations = 1
	report.Iterations = 1

	switch res.Status {
	case generation.StatusFailed:
		report.PhaseFailures = 1
		return report, nil
	case generation.StatusEmpty:
		report.EmptyIterations = 1
		return report, nil
	}

	findings, err := DecodeStructured(res.Text)
	if err != nil {
		a.logger.ErrorContext(ctx, "structured audit response rejected", "task_id", s.TaskID, "error", err)
		report.ParseErr = err
		return report, nil
	}
	report.Findings = findings
	report.Ledger = FormatFindings(findings)
	s.Ledger.Append(report.Ledger)
	return report, nil
}

func (a *Auditor) phase(ctx context.Context, role generation.Role, prompt func() (string, error)) generation.Result {
	return a.call(ctx, generation.Request{Role: role}, prompt)
}

func (a *Auditor) call(ctx context.Context, req generation.Request, prompt func() (string, error)) generation.Result {
	text, err := prompt()
	if err != nil {
		return generation.Result{Status: generation.StatusFailed, Err: fmt.Errorf("render %s prompt: %w", req.Role, err)}
	}
	req.Prompt = text
	return a.gen.Do(ctx, req)
}

func (a *Auditor) transition(s *Session, st State) {
	if a.observer != nil {
		a.observer(s.TaskID, s.Iterations, st)
	}
}
