// Package metrics exports dispatcher and resource-pool metrics to Prometheus.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds every collector the orchestrator updates.
type Metrics struct {
	// Task outcome metrics
	TaskOutcomes *prometheus.CounterVec
	TaskDuration *prometheus.HistogramVec
	TaskStatus   *prometheus.GaugeVec

	// Dispatch metrics
	Dispatched     prometheus.Counter
	ResourceDenied *prometheus.CounterVec
	Cycles         prometheus.Counter
	CycleDuration  prometheus.Histogram
	ActiveWorkers  prometheus.Gauge

	// Resource pool metrics
	ResourceCapacity  *prometheus.GaugeVec
	ResourceAvailable *prometheus.GaugeVec

	// Feedback provider metrics
	FeedbackCalls *prometheus.CounterVec
}

// New creates the collectors and registers them on registry.
func New(registry prometheus.Registerer) *Metrics {
	factory := promauto.With(registry)

	return &Metrics{
		TaskOutcomes: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "taskcore_task_outcomes_total",
				Help: "Finalized tasks by terminal status",
			},
			[]string{"status"},
		),
		TaskDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "taskcore_task_duration_seconds",
				Help:    "Payload execution time in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"status"},
		),
		TaskStatus: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "taskcore_tasks",
				Help: "Registered tasks by current status",
			},
			[]string{"status"},
		),

		Dispatched: factory.NewCounter(prometheus.CounterOpts{
			Name: "taskcore_dispatched_total",
			Help: "Tasks handed to the worker pool",
		}),
		ResourceDenied: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "taskcore_resource_denials_total",
				Help: "Resource requests denied, by short resource type",
			},
			[]string{"resource"},
		),
		Cycles: factory.NewCounter(prometheus.CounterOpts{
			Name: "taskcore_cycles_total",
			Help: "Dispatch cycles run",
		}),
		CycleDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "taskcore_cycle_duration_seconds",
			Help:    "Dispatch cycle duration in seconds",
			Buckets: []float64{0.001, 0.01, 0.1, 0.5, 1, 5, 30, 120},
		}),
		ActiveWorkers: factory.NewGauge(prometheus.GaugeOpts{
			Name: "taskcore_active_workers",
			Help: "Payloads currently executing",
		}),

		ResourceCapacity: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "taskcore_resource_capacity",
				Help: "Configured capacity per resource type",
			},
			[]string{"resource"},
		),
		ResourceAvailable: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "taskcore_resource_available",
				Help: "Unreserved quantity per resource type",
			},
			[]string{"resource"},
		),

		FeedbackCalls: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "taskcore_feedback_calls_total",
				Help: "Feedback provider calls by result",
			},
			[]string{"result"},
		),
	}
}

// NewRegistry creates an isolated registry with metrics registered on it.
func NewRegistry() (*prometheus.Registry, *Metrics) {
	reg := prometheus.NewRegistry()
	return reg, New(reg)
}

// HandlerFor returns an HTTP handler exposing reg.
func HandlerFor(reg prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{})
}

// The methods below are nil-safe so callers can run without metrics.

// ObserveOutcome records a finalized task.
func (m *Metrics) ObserveOutcome(status string, d time.Duration) {
	if m == nil {
		return
	}
	m.TaskOutcomes.WithLabelValues(status).Inc()
	m.TaskDuration.WithLabelValues(status).Observe(d.Seconds())
}

// ObserveDispatch records a task handed to the pool.
func (m *Metrics) ObserveDispatch() {
	if m == nil {
		return
	}
	m.Dispatched.Inc()
	m.ActiveWorkers.Inc()
}

// ObserveWorkerDone records a worker slot freeing up.
func (m *Metrics) ObserveWorkerDone() {
	if m == nil {
		return
	}
	m.ActiveWorkers.Dec()
}

// ObserveDenial records one denied request, counting each short type.
func (m *Metrics) ObserveDenial(shortfall map[string]int) {
	if m == nil {
		return
	}
	for typ := range shortfall {
		m.ResourceDenied.WithLabelValues(typ).Inc()
	}
}

// ObserveCycle records a completed dispatch cycle.
func (m *Metrics) ObserveCycle(d time.Duration) {
	if m == nil {
		return
	}
	m.Cycles.Inc()
	m.CycleDuration.Observe(d.Seconds())
}

// SetResource publishes the capacity and availability of one type.
func (m *Metrics) SetResource(typ string, capacity, available int) {
	if m == nil {
		return
	}
	m.ResourceCapacity.WithLabelValues(typ).Set(float64(capacity))
	m.ResourceAvailable.WithLabelValues(typ).Set(float64(available))
}

// SetTaskCounts replaces the per-status task gauge values.
func (m *Metrics) SetTaskCounts(counts map[string]int) {
	if m == nil {
		return
	}
	m.TaskStatus.Reset()
	for status, n := range counts {
		m.TaskStatus.WithLabelValues(status).Set(float64(n))
	}
}

// ObserveFeedback records a feedback provider call result such as
// "ok", "error", or "open".
func (m *Metrics) ObserveFeedback(result string) {
	if m == nil {
		return
	}
	m.FeedbackCalls.WithLabelValues(result).Inc()
}
