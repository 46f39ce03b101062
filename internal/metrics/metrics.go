// Package metrics exposes portal's Prometheus collectors.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Outcome labels.
const (
	OutcomeSuccess   = "success"
	OutcomeFailure   = "failure"
	OutcomeCancelled = "cancelled"
	OutcomeStale     = "stale"
)

// Metrics holds the collectors. A nil *Metrics is valid and records nothing.
type Metrics struct {
	registry       *prometheus.Registry
	dispatchTotal  *prometheus.CounterVec
	reconcileTotal *prometheus.CounterVec
	queueDepth     prometheus.Gauge
	openScopes     prometheus.Gauge
}

// New creates a registry with portal's collectors plus the Go runtime and
// process collectors.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		dispatchTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "portal",
			Name:      "dispatch_total",
			Help:      "Prompt dispatches to the upstream agent by outcome.",
		}, []string{"outcome"}),
		reconcileTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "portal",
			Name:      "reconcile_total",
			Help:      "Message list reconciliations by outcome.",
		}, []string{"outcome"}),
		queueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "portal",
			Name:      "queue_depth",
			Help:      "Submissions waiting behind an in-flight dispatch, across all sessions.",
		}),
		openScopes: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "portal",
			Name:      "open_session_scopes",
			Help:      "Session scopes currently open.",
		}),
	}
	m.registry.MustRegister(
		m.dispatchTotal,
		m.reconcileTotal,
		m.queueDepth,
		m.openScopes,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// Registry returns the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

func (m *Metrics) ObserveDispatch(outcome string) {
	if m == nil {
		return
	}
	m.dispatchTotal.WithLabelValues(outcome).Inc()
}

func (m *Metrics) ObserveReconcile(outcome string) {
	if m == nil {
		return
	}
	m.reconcileTotal.WithLabelValues(outcome).Inc()
}

// AddQueueDepth adjusts the pending submission gauge by delta.
func (m *Metrics) AddQueueDepth(delta int) {
	if m == nil {
		return
	}
	m.queueDepth.Add(float64(delta))
}

// AddOpenScopes adjusts the open scope gauge by delta.
func (m *Metrics) AddOpenScopes(delta int) {
	if m == nil {
		return
	}
	m.openScopes.Add(float64(delta))
}
