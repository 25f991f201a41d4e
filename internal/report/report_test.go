package report

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	promtest "github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"
	"gopkg.in/yaml.v3"

	"auditagent/internal/audit"
	"auditagent/internal/platform/logger"
	"auditagent/internal/platform/metrics"
)

var sampleReport = audit.Report{
	TaskID:     "T1",
	Mode:       audit.ModeIterative,
	Ledger:     "1. Reentrancy (THREAT LEVEL: HIGH)\n• Location: A.sol",
	Iterations: 10,
	Findings: []audit.Finding{{
		Title:       "Reentrancy",
		Description: "• Location: A.sol",
		Severity:    audit.SeverityHigh,
		FilePaths:   []string{"A.sol"},
	}},
}

type capturedRequest struct {
	method string
	apiKey string
	ctype  string
	body   []byte
}

type ReporterSuite struct {
	suite.Suite
	metrics  *metrics.Metrics
	reporter *HTTPReporter
	requests chan capturedRequest
	status   atomic.Int32
	server   *httptest.Server
}

func TestReporterSuite(t *testing.T) {
	suite.Run(t, new(ReporterSuite))
}

func (s *ReporterSuite) SetupTest() {
	s.metrics = metrics.New(prometheus.NewRegistry())
	s.reporter = NewHTTPReporter("arena-key", 5*time.Second, logger.Discard(), s.metrics)
	s.requests = make(chan capturedRequest, 4)
	s.status.Store(http.StatusOK)
	s.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		s.requests <- capturedRequest{
			method: r.Method,
			apiKey: r.Header.Get("X-API-Key"),
			ctype:  r.Header.Get("Content-Type"),
			body:   body,
		}
		w.WriteHeader(int(s.status.Load()))
	}))
}

func (s *ReporterSuite) TearDownTest() {
	s.server.Close()
}

func (s *ReporterSuite) TestSend_Structured() {
	err := s.reporter.Send(context.Background(), Delivery{
		TaskID:      "T1",
		CallbackURL: s.server.URL,
		Format:      FormatStructured,
		Report:      sampleReport,
	})
	s.Require().NoError(err)

	req := <-s.requests
	s.Equal(http.MethodPost, req.method)
	s.Equal("arena-key", req.apiKey)
	s.Equal("application/json", req.ctype)
	s.JSONEq(`{
		"task_id": "T1",
		"findings": [{
			"title": "Reentrancy",
			"description": "• Location: A.sol",
			"severity": "High",
			"file_paths": ["A.sol"]
		}]
	}`, string(req.body))
	s.Equal(1.0, promtest.ToFloat64(s.metrics.Deliveries.WithLabelValues("delivered")))
}

func (s *ReporterSuite) TestSend_RawText() {
	err := s.reporter.Send(context.Background(), Delivery{
		TaskID:      "T1",
		CallbackURL: s.server.URL,
		Format:      FormatRawText,
		Report:      sampleReport,
	})
	s.Require().NoError(err)

	req := <-s.requests
	var got map[string]any
	s.Require().NoError(json.Unmarshal(req.body, &got))
	s.Equal(map[string]any{"findings": sampleReport.Ledger}, got)
}

func (s *ReporterSuite) TestSend_EmptyStructuredFindingsIsArray() {
	err := s.reporter.Send(context.Background(), Delivery{TaskID: "T2", CallbackURL: s.server.URL, Format: FormatStructured})
	s.Require().NoError(err)

	req := <-s.requests
	s.JSONEq(`{"task_id":"T2","findings":[]}`, string(req.body))
}

func (s *ReporterSuite) TestSend_Rejected() {
	s.status.Store(http.StatusInternalServerError)

	err := s.reporter.Send(context.Background(), Delivery{TaskID: "T1", CallbackURL: s.server.URL, Format: FormatStructured})

	var derr *DeliveryError
	s.Require().ErrorAs(err, &derr)
	s.Equal(http.StatusInternalServerError, derr.StatusCode)
	s.Len(s.requests, 1, "no retry")
	s.Equal(1.0, promtest.ToFloat64(s.metrics.Deliveries.WithLabelValues("failed")))
}

func (s *ReporterSuite) TestSend_Unreachable() {
	url := s.server.URL
	s.server.Close()

	err := s.reporter.Send(context.Background(), Delivery{TaskID: "T1", CallbackURL: url})

	var derr *DeliveryError
	s.Require().ErrorAs(err, &derr)
	s.Zero(derr.StatusCode)
	s.Error(derr.Unwrap())
}

func TestParseFormat(t *testing.T) {
	f, ok := ParseFormat("structured")
	assert.True(t, ok)
	assert.Equal(t, FormatStructured, f)

	f, ok = ParseFormat("text")
	assert.True(t, ok)
	assert.Equal(t, FormatRawText, f)

	_, ok = ParseFormat("xml")
	assert.False(t, ok)
}

func TestOutputFormatFor(t *testing.T) {
	cases := []struct {
		path, explicit string
		want           OutputFormat
	}{
		{"out.txt", "", OutputText},
		{"out.json", "", OutputJSON},
		{"out.YML", "", OutputYAML},
		{"out.json", "yaml", OutputYAML},
		{"results", "", OutputText},
	}
	for _, tc := range cases {
		got, err := OutputFormatFor(tc.path, tc.explicit)
		require.NoError(t, err)
		assert.Equal(t, tc.want, got, tc.path)
	}
	_, err := OutputFormatFor("out.txt", "pdf")
	assert.Error(t, err)
}

func TestWriteFile(t *testing.T) {
	dir := t.TempDir()

	t.Run("text is the raw ledger", func(t *testing.T) {
		path := filepath.Join(dir, "results.txt")
		require.NoError(t, WriteFile(path, OutputText, sampleReport))
		data, err := os.ReadFile(path)
		require.NoError(t, err)
		assert.Equal(t, sampleReport.Ledger, string(data))
	})

	t.Run("json", func(t *testing.T) {
		path := filepath.Join(dir, "nested", "results.json")
		require.NoError(t, WriteFile(path, OutputJSON, sampleReport))
		data, err := os.ReadFile(path)
		require.NoError(t, err)
		var doc fileReport
		require.NoError(t, json.Unmarshal(data, &doc))
		assert.Equal(t, sampleReport.Findings, doc.Findings)
		assert.Equal(t, 10, doc.Iterations)
	})

	t.Run("yaml", func(t *testing.T) {
		path := filepath.Join(dir, "results.yaml")
		require.NoError(t, WriteFile(path, OutputYAML, sampleReport))
		data, err := os.ReadFile(path)
		require.NoError(t, err)
		var doc fileReport
		require.NoError(t, yaml.Unmarshal(data, &doc))
		assert.Equal(t, "T1", doc.TaskID)
		assert.Equal(t, sampleReport.Findings, doc.Findings)
	})

	t.Run("unwritable path", func(t *testing.T) {
		blocker := filepath.Join(dir, "blocker")
		require.NoError(t, os.WriteFile(blocker, nil, 0o644))
		err := WriteFile(filepath.Join(blocker, "out.txt"), OutputText, sampleReport)
		assert.Error(t, err)
	})
}
