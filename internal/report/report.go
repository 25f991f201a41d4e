// Package report delivers session results to the caller's callback endpoint
// and, for local runs, to a file.
package report

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"auditagent/internal/audit"
	"auditagent/internal/platform/metrics"
)

// DefaultTimeout bounds one callback request. Ledgers can be large.
const DefaultTimeout = 600 * time.Second

// Format is the callback payload shape.
type Format string

const (
	// FormatStructured posts {"task_id", "findings": [...]}.
	FormatStructured Format = "structured"
	// FormatRawText posts {"findings": "<ledger text>"}.
	FormatRawText Format = "raw"
)

// ParseFormat recognizes the two payload shapes. ok is false otherwise.
func ParseFormat(s string) (Format, bool) {
	switch Format(s) {
	case FormatStructured:
		return FormatStructured, true
	case FormatRawText, "text":
		return FormatRawText, true
	default:
		return "", false
	}
}

// Delivery is one callback to send.
type Delivery struct {
	TaskID      string
	CallbackURL string
	Format      Format
	Report      audit.Report
}

//go:generate mockgen -source=report.go -destination=mocks/sender_mock.go -package=mocks Sender

// Sender delivers a report.
type Sender interface {
	Send(ctx context.Context, d Delivery) error
}

// DeliveryError is a failed callback. It is never retried.
type DeliveryError struct {
	URL        string
	StatusCode int
	Err        error
}

func (e *DeliveryError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("deliver findings to %s: status %d", e.URL, e.StatusCode)
	}
	return fmt.Sprintf("deliver findings to %s: %v", e.URL, e.Err)
}

func (e *DeliveryError) Unwrap() error { return e.Err }

type structuredPayload struct {
	TaskID   string          `json:"task_id"`
	Findings []audit.Finding `json:"findings"`
}

type rawPayload struct {
	Findings string `json:"findings"`
}

// Payload builds the wire body for d.
func Payload(d Delivery) any {
	if d.Format == FormatRawText {
		return rawPayload{Findings: d.Report.Ledger}
	}
	findings := d.Report.Findings
	if findings == nil {
		findings = []audit.Finding{}
	}
	return structuredPayload{TaskID: d.TaskID, Findings: findings}
}

// HTTPReporter posts JSON payloads to callback URLs.
type HTTPReporter struct {
	client  *http.Client
	apiKey  string
	logger  *slog.Logger
	metrics *metrics.Metrics
}

// NewHTTPReporter sets X-API-Key on every callback when apiKey is set. A
// zero timeout selects DefaultTimeout.
func NewHTTPReporter(apiKey string, timeout time.Duration, logger *slog.Logger, m *metrics.Metrics) *HTTPReporter {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &HTTPReporter{
		client:  &http.Client{Timeout: timeout},
		apiKey:  apiKey,
		logger:  logger,
		metrics: m,
	}
}

// Send posts the report once. Failures are logged, counted and returned as
// *DeliveryError.
func (r *HTTPReporter) Send(ctx context.Context, d Delivery) (err error) {
	defer func() {
		if p := recover(); p != nil {
			err = &DeliveryError{URL: d.CallbackURL, Err: fmt.Errorf("panic: %v", p)}
		}
		outcome := "delivered"
		if err != nil {
			outcome = "failed"
			r.logger.ErrorContext(ctx, "failed to deliver findings",
				"task_id", d.TaskID,
				"callback_url", d.CallbackURL,
				"error", err,
			)
		}
		r.metrics.IncDelivery(outcome)
	}()

	body, err := json.Marshal(Payload(d))
	if err != nil {
		return &DeliveryError{URL: d.CallbackURL, Err: fmt.Errorf("marshal payload: %w", err)}
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.CallbackURL, bytes.NewReader(body))
	if err != nil {
		return &DeliveryError{URL: d.CallbackURL, Err: fmt.Errorf("new request: %w", err)}
	}
	req.Header.Set("Content-Type", "application/json")
	if r.apiKey != "" {
		req.Header.Set("X-API-Key", r.apiKey)
	}

	resp, err := r.client.Do(req)
	if err != nil {
		return &DeliveryError{URL: d.CallbackURL, Err: err}
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 1<<20))

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &DeliveryError{URL: d.CallbackURL, StatusCode: resp.StatusCode}
	}
	r.logger.InfoContext(ctx, "findings delivered",
		"task_id", d.TaskID,
		"callback_url", d.CallbackURL,
		"format", d.Format,
		"findings", len(d.Report.Findings),
	)
	return nil
}
