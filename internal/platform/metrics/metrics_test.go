package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestNilMetricsAreSafe(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.IncNotification("accepted")
		m.IncJobCompleted("succeeded")
		m.JobStarted()
		m.JobFinished()
		m.SetQueueDepth(3)
		m.ObservePhase("searcher", "ok", time.Second)
		m.AddFiles(1, 1)
		m.IncDelivery("delivered")
		m.ObserveSession(time.Second)
	})
}

func TestCounters(t *testing.T) {
	m := New(prometheus.NewRegistry())

	m.IncNotification("accepted")
	m.IncNotification("accepted")
	m.IncNotification("unauthorized")
	m.AddFiles(2, 1)
	m.JobStarted()

	assert.Equal(t, 2.0, testutil.ToFloat64(m.Notifications.WithLabelValues("accepted")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Notifications.WithLabelValues("unauthorized")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.FilesFetched))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.FilesSkipped))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.JobsInFlight))
}
