package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for the agent. All methods are safe
// to call on a nil receiver so components can run without instrumentation.
type Metrics struct {
	// Webhook intake by outcome: accepted, unauthorized, invalid, rejected
	Notifications *prometheus.CounterVec

	// Jobs by terminal status
	JobsCompleted *prometheus.CounterVec
	JobsInFlight  prometheus.Gauge
	QueueDepth    prometheus.Gauge

	// Generation calls by role and status (ok, empty, failed)
	PhaseCalls   *prometheus.CounterVec
	PhaseLatency *prometheus.HistogramVec

	// Files fetched and skipped per session
	FilesFetched prometheus.Counter
	FilesSkipped prometheus.Counter

	// Callback deliveries by outcome
	Deliveries *prometheus.CounterVec

	SessionDuration prometheus.Histogram
}

// New creates and registers all agent metrics on reg. Pass
// prometheus.DefaultRegisterer in main and a fresh registry in tests.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		Notifications: f.NewCounterVec(prometheus.CounterOpts{
			Name: "auditagent_notifications_total",
			Help: "Webhook notifications received by outcome",
		}, []string{"outcome"}),

		JobsCompleted: f.NewCounterVec(prometheus.CounterOpts{
			Name: "auditagent_jobs_completed_total",
			Help: "Background audit jobs finished by terminal status",
		}, []string{"status"}),

		JobsInFlight: f.NewGauge(prometheus.GaugeOpts{
			Name: "auditagent_jobs_in_flight",
			Help: "Audit jobs currently executing",
		}),

		QueueDepth: f.NewGauge(prometheus.GaugeOpts{
			Name: "auditagent_queue_depth",
			Help: "Jobs waiting in the in-memory queue",
		}),

		PhaseCalls: f.NewCounterVec(prometheus.CounterOpts{
			Name: "auditagent_generation_calls_total",
			Help: "Generation backend calls by role and result status",
		}, []string{"role", "status"}),

		PhaseLatency: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "auditagent_generation_duration_seconds",
			Help:    "Duration of generation backend calls by role",
			Buckets: []float64{0.5, 1, 2.5, 5, 10, 30, 60, 120, 300},
		}, []string{"role"}),

		FilesFetched: f.NewCounter(prometheus.CounterOpts{
			Name: "auditagent_contract_files_fetched_total",
			Help: "Contract files fetched for audit",
		}),

		FilesSkipped: f.NewCounter(prometheus.CounterOpts{
			Name: "auditagent_contract_files_skipped_total",
			Help: "Requested contract files that could not be fetched",
		}),

		Deliveries: f.NewCounterVec(prometheus.CounterOpts{
			Name: "auditagent_callback_deliveries_total",
			Help: "Result callback deliveries by outcome",
		}, []string{"outcome"}),

		SessionDuration: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "auditagent_session_duration_seconds",
			Help:    "Wall time of a full fetch, audit and report session",
			Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600, 1200, 2400},
		}),
	}
}

// IncNotification records a webhook intake outcome.
func (m *Metrics) IncNotification(outcome string) {
	if m != nil {
		m.Notifications.WithLabelValues(outcome).Inc()
	}
}

// IncJobCompleted records a job reaching a terminal status.
func (m *Metrics) IncJobCompleted(status string) {
	if m != nil {
		m.JobsCompleted.WithLabelValues(status).Inc()
	}
}

// JobStarted and JobFinished track the in-flight gauge.
func (m *Metrics) JobStarted() {
	if m != nil {
		m.JobsInFlight.Inc()
	}
}

func (m *Metrics) JobFinished() {
	if m != nil {
		m.JobsInFlight.Dec()
	}
}

// SetQueueDepth reports the number of queued jobs.
func (m *Metrics) SetQueueDepth(n int) {
	if m != nil {
		m.QueueDepth.Set(float64(n))
	}
}

// ObservePhase records one generation call.
func (m *Metrics) ObservePhase(role, status string, d time.Duration) {
	if m != nil {
		m.PhaseCalls.WithLabelValues(role, status).Inc()
		m.PhaseLatency.WithLabelValues(role).Observe(d.Seconds())
	}
}

// AddFiles records fetched and skipped file counts for one session.
func (m *Metrics) AddFiles(fetched, skipped int) {
	if m != nil {
		m.FilesFetched.Add(float64(fetched))
		m.FilesSkipped.Add(float64(skipped))
	}
}

// IncDelivery records a callback delivery outcome.
func (m *Metrics) IncDelivery(outcome string) {
	if m != nil {
		m.Deliveries.WithLabelValues(outcome).Inc()
	}
}

// ObserveSession records the total session duration.
func (m *Metrics) ObserveSession(d time.Duration) {
	if m != nil {
		m.SessionDuration.Observe(d.Seconds())
	}
}
