// Package metrics holds the Prometheus collectors shared by the engine.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type Metrics struct {
	// Decisions by capability, outcome (grant/deny) and violation kind
	Decisions *prometheus.CounterVec

	// AuthorizeDuration covers boundary computation and gate check
	AuthorizeDuration prometheus.Histogram

	// ExpansionDuration and ScopeSize describe each scope expansion
	ExpansionDuration prometheus.Histogram
	ScopeSize         prometheus.Histogram

	// Dependency graph build
	GraphBuildDuration prometheus.Histogram
	GraphFiles         prometheus.Gauge
	DegradedFiles      prometheus.Counter

	// TemplateComputations counts uncached knapsack runs per goal
	TemplateComputations *prometheus.CounterVec

	// GraphEvents counts requirement-graph events by type
	GraphEvents *prometheus.CounterVec

	// PolicyReloads by result (ok/error)
	PolicyReloads *prometheus.CounterVec

	// RateLimited counts RPCs rejected by the limiter
	RateLimited prometheus.Counter
}

// NewMetrics registers all collectors on reg.
// A nil reg gets a private registry that is never exported.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	f := promauto.With(reg)

	return &Metrics{
		Decisions: f.NewCounterVec(prometheus.CounterOpts{
			Name: "safeboundary_decisions_total",
			Help: "Authorization decisions by capability, outcome and violation.",
		}, []string{"capability", "outcome", "violation"}),

		AuthorizeDuration: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "safeboundary_authorize_duration_seconds",
			Help:    "Latency of a single authorization call.",
			Buckets: []float64{.0005, .001, .0025, .005, .01, .025, .05, .1, .25, .5, 1},
		}),

		ExpansionDuration: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "safeboundary_scope_expansion_duration_seconds",
			Help:    "Latency of anchor expansion over the dependency graph.",
			Buckets: []float64{.0005, .001, .0025, .005, .01, .025, .05, .1, .25, .5, 1},
		}),

		ScopeSize: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "safeboundary_scope_patterns",
			Help:    "Number of patterns in an expanded scope.",
			Buckets: prometheus.ExponentialBuckets(1, 2, 12),
		}),

		GraphBuildDuration: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "safeboundary_depgraph_build_duration_seconds",
			Help:    "Time spent walking and parsing the source tree.",
			Buckets: []float64{.01, .05, .1, .25, .5, 1, 2.5, 5, 10},
		}),

		GraphFiles: f.NewGauge(prometheus.GaugeOpts{
			Name: "safeboundary_depgraph_files",
			Help: "Source files in the current dependency graph.",
		}),

		DegradedFiles: f.NewCounter(prometheus.CounterOpts{
			Name: "safeboundary_depgraph_degraded_files_total",
			Help: "Files whose imports could not be read or parsed.",
		}),

		TemplateComputations: f.NewCounterVec(prometheus.CounterOpts{
			Name: "safeboundary_template_computations_total",
			Help: "Uncached capability template computations by goal.",
		}, []string{"goal"}),

		GraphEvents: f.NewCounterVec(prometheus.CounterOpts{
			Name: "safeboundary_graph_events_total",
			Help: "Requirement graph events by type.",
		}, []string{"type"}),

		PolicyReloads: f.NewCounterVec(prometheus.CounterOpts{
			Name: "safeboundary_policy_reloads_total",
			Help: "Policy hot reloads by result.",
		}, []string{"result"}),

		RateLimited: f.NewCounter(prometheus.CounterOpts{
			Name: "safeboundary_rate_limited_total",
			Help: "RPCs rejected by the rate limiter.",
		}),
	}
}
