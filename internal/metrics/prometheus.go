// Package metrics exposes Prometheus instrumentation for the rule engine.
package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	once     sync.Once
	registry *Registry
)

// Registry holds all rule engine metrics.
type Registry struct {
	// API metrics
	APIRequests *prometheus.CounterVec
	APILatency  *prometheus.HistogramVec

	// Rule engine metrics
	RulesTotal        prometheus.Gauge
	RulesActive       prometheus.Gauge
	ValidationRuns    *prometheus.CounterVec
	ValidationErrors  prometheus.Counter
	ValidationWarns   prometheus.Counter
	SimulationsTotal  *prometheus.CounterVec
	RuleChanges       *prometheus.CounterVec
	EventsPublished   prometheus.Gauge
	EventsDropped     prometheus.Gauge
	WebsocketClients  prometheus.Gauge
}

// Get returns the global metrics registry, creating it if necessary.
func Get() *Registry {
	once.Do(func() {
		registry = newRegistry()
	})
	return registry
}

func newRegistry() *Registry {
	r := &Registry{}

	r.APIRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "supernode_api_requests_total",
		Help: "API requests by action and status code",
	}, []string{"action", "status"})

	r.APILatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "supernode_api_latency_seconds",
		Help:    "API request latency by action",
		Buckets: prometheus.DefBuckets,
	}, []string{"action"})

	r.RulesTotal = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "supernode_rules_total",
		Help: "Total number of traffic rules",
	})

	r.RulesActive = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "supernode_rules_active",
		Help: "Number of enabled traffic rules",
	})

	r.ValidationRuns = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "supernode_validation_runs_total",
		Help: "Validation batches by mode and outcome",
	}, []string{"mode", "outcome"})

	r.ValidationErrors = promauto.NewCounter(prometheus.CounterOpts{
		Name: "supernode_validation_errors_total",
		Help: "Total validation errors reported",
	})

	r.ValidationWarns = promauto.NewCounter(prometheus.CounterOpts{
		Name: "supernode_validation_warnings_total",
		Help: "Total validation warnings reported",
	})

	r.SimulationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "supernode_simulations_total",
		Help: "Dry-run tests and routing simulations by kind",
	}, []string{"kind"})

	r.RuleChanges = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "supernode_rule_changes_total",
		Help: "Rule mutations by operation",
	}, []string{"op"})

	r.EventsPublished = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "supernode_events_published_total",
		Help: "Cumulative events published on the internal hub",
	})

	r.EventsDropped = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "supernode_events_dropped_total",
		Help: "Cumulative events dropped due to slow subscribers",
	})

	r.WebsocketClients = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "supernode_websocket_clients",
		Help: "Connected websocket clients",
	})

	return r
}
