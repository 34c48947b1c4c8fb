// Package metrics holds the Prometheus instruments of the task pipeline.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "taskrelay"

// Collector registers every instrument on its own registry so several containers can live
// in one process (tests) without duplicate registration panics.
type Collector struct {
	registry *prometheus.Registry

	tasksScheduled     *prometheus.CounterVec
	scheduleFailures   *prometheus.CounterVec
	executionsTotal    *prometheus.CounterVec
	executionDuration  *prometheus.HistogramVec
	deliveriesTotal    *prometheus.CounterVec
	brokerReconnects   prometheus.Counter
	activeConnections  prometheus.Gauge
	reconcileConflicts prometheus.Counter
}

func NewCollector() *Collector {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Collector{
		registry: reg,
		tasksScheduled: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tasks_scheduled_total",
			Help:      "Tasks accepted and published to the work queue",
		}, []string{"kind"}),
		scheduleFailures: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "schedule_failures_total",
			Help:      "Scheduling attempts that failed, by stage",
		}, []string{"kind", "stage"}),
		executionsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "executions_total",
			Help:      "Task executions by kind and outcome",
		}, []string{"kind", "outcome"}),
		executionDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "execution_duration_seconds",
			Help:      "Wall time of a single task execution",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5, 30},
		}, []string{"kind"}),
		deliveriesTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "deliveries_total",
			Help:      "Push events sent to client connections",
		}, []string{"event", "outcome"}),
		brokerReconnects: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "broker_reconnects_total",
			Help:      "Successful broker reconnections after an unexpected close",
		}),
		activeConnections: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_connections",
			Help:      "Open push connections in this process",
		}),
		reconcileConflicts: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reconcile_conflicts_total",
			Help:      "Reconciliations abandoned after repeated concurrent modification",
		}),
	}
}

// Handler exposes the registry in the Prometheus text format.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{Registry: c.registry})
}

func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}

func (c *Collector) TaskScheduled(kind string) {
	if c == nil {
		return
	}
	c.tasksScheduled.WithLabelValues(kind).Inc()
}

// ScheduleFailed records a failed scheduling attempt. stage is "store" or "publish".
func (c *Collector) ScheduleFailed(kind, stage string) {
	if c == nil {
		return
	}
	c.scheduleFailures.WithLabelValues(kind, stage).Inc()
}

func (c *Collector) ExecutionFinished(kind, outcome string, took time.Duration) {
	if c == nil {
		return
	}
	c.executionsTotal.WithLabelValues(kind, outcome).Inc()
	c.executionDuration.WithLabelValues(kind).Observe(took.Seconds())
}

func (c *Collector) Delivery(event string, err error) {
	if c == nil {
		return
	}
	outcome := "sent"
	if err != nil {
		outcome = "error"
	}
	c.deliveriesTotal.WithLabelValues(event, outcome).Inc()
}

func (c *Collector) BrokerReconnected() {
	if c == nil {
		return
	}
	c.brokerReconnects.Inc()
}

func (c *Collector) ConnectionOpened() {
	if c == nil {
		return
	}
	c.activeConnections.Inc()
}

func (c *Collector) ConnectionClosed() {
	if c == nil {
		return
	}
	c.activeConnections.Dec()
}

// TrackExecutions exposes running as a gauge read at scrape time. Call it once per collector.
func (c *Collector) TrackExecutions(running func() int) {
	if c == nil {
		return
	}
	promauto.With(c.registry).NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "executions_running",
		Help:      "Computations currently holding an executor slot",
	}, func() float64 { return float64(running()) })
}

func (c *Collector) ReconcileConflict() {
	if c == nil {
		return
	}
	c.reconcileConflicts.Inc()
}
