package metrics

import (
	"errors"
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewCollector_IndependentRegistries(t *testing.T) {
	a := NewCollector()
	b := NewCollector()

	a.TaskScheduled("fibonacci:calculate")

	assert.Equal(t, float64(1), testutil.ToFloat64(a.tasksScheduled.WithLabelValues("fibonacci:calculate")))
	assert.Equal(t, float64(0), testutil.ToFloat64(b.tasksScheduled.WithLabelValues("fibonacci:calculate")))
}

func TestCollector_Recorders(t *testing.T) {
	c := NewCollector()

	c.ScheduleFailed("fibonacci:calculate", "publish")
	c.ExecutionFinished("fibonacci:calculate", "completed", 5*time.Millisecond)
	c.Delivery("complete", nil)
	c.Delivery("complete", errors.New("closed"))
	c.BrokerReconnected()
	c.ConnectionOpened()
	c.ConnectionOpened()
	c.ConnectionClosed()
	c.ReconcileConflict()

	assert.Equal(t, float64(1), testutil.ToFloat64(c.scheduleFailures.WithLabelValues("fibonacci:calculate", "publish")))
	assert.Equal(t, float64(1), testutil.ToFloat64(c.executionsTotal.WithLabelValues("fibonacci:calculate", "completed")))
	assert.Equal(t, float64(1), testutil.ToFloat64(c.deliveriesTotal.WithLabelValues("complete", "sent")))
	assert.Equal(t, float64(1), testutil.ToFloat64(c.deliveriesTotal.WithLabelValues("complete", "error")))
	assert.Equal(t, float64(1), testutil.ToFloat64(c.brokerReconnects))
	assert.Equal(t, float64(1), testutil.ToFloat64(c.activeConnections))
	assert.Equal(t, float64(1), testutil.ToFloat64(c.reconcileConflicts))
}

func TestCollector_TrackExecutions(t *testing.T) {
	c := NewCollector()
	running := 3
	c.TrackExecutions(func() int { return running })

	expected := `
# HELP taskrelay_executions_running Computations currently holding an executor slot
# TYPE taskrelay_executions_running gauge
taskrelay_executions_running 3
`
	require.NoError(t, testutil.GatherAndCompare(c.Registry(), strings.NewReader(expected), "taskrelay_executions_running"))

	running = 0
	require.NoError(t, testutil.GatherAndCompare(c.Registry(), strings.NewReader(
		strings.Replace(expected, "running 3", "running 0", 1)), "taskrelay_executions_running"))
}

func TestCollector_NilIsSafe(t *testing.T) {
	var c *Collector
	assert.NotPanics(t, func() {
		c.TrackExecutions(func() int { return 1 })
		c.TaskScheduled("x")
		c.Delivery("complete", nil)
		c.ExecutionFinished("x", "failed", time.Second)
	})
}

func TestCollector_Handler(t *testing.T) {
	c := NewCollector()
	c.TaskScheduled("fibonacci:calculate")

	rec := httptest.NewRecorder()
	c.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))

	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), "taskrelay_tasks_scheduled_total")
}
