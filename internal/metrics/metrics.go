// Package metrics exposes engine counters and latency histograms as
// Prometheus collectors on a caller-supplied registry.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the engine's collectors. A nil *Metrics is a no-op sink so
// callers can run without observability wired up.
type Metrics struct {
	Evaluations       prometheus.Counter
	Approved          prometheus.Counter
	Rejections        *prometheus.CounterVec
	SizingFallbacks   prometheus.Counter
	MonitorViolations *prometheus.CounterVec
	EvaluationSeconds prometheus.Histogram
}

// New creates and registers the engine collectors. Pass
// prometheus.DefaultRegisterer for the process-global registry.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		Evaluations: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "decision_engine",
			Name:      "evaluations_total",
			Help:      "Signals evaluated by the decision pipeline.",
		}),
		Approved: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "decision_engine",
			Name:      "decisions_approved_total",
			Help:      "Evaluations that produced an approved trade decision.",
		}),
		Rejections: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "decision_engine",
			Name:      "rejections_total",
			Help:      "Rejected evaluations by pipeline stage.",
		}, []string{"stage"}),
		SizingFallbacks: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "decision_engine",
			Name:      "sizing_fallbacks_total",
			Help:      "Position sizes computed through an explicit model fallback.",
		}),
		MonitorViolations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "decision_engine",
			Name:      "monitor_violations_total",
			Help:      "Portfolio risk monitor violations by severity.",
		}, []string{"severity"}),
		EvaluationSeconds: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "decision_engine",
			Name:      "evaluation_duration_seconds",
			Help:      "End-to-end latency of one signal evaluation.",
			Buckets:   prometheus.ExponentialBuckets(0.0001, 2, 12),
		}),
	}

	reg.MustRegister(
		m.Evaluations, m.Approved, m.Rejections,
		m.SizingFallbacks, m.MonitorViolations, m.EvaluationSeconds,
	)
	return m
}

// IncEvaluation records one pipeline run.
func (m *Metrics) IncEvaluation() {
	if m != nil {
		m.Evaluations.Inc()
	}
}

// IncApproved records an approved decision.
func (m *Metrics) IncApproved() {
	if m != nil {
		m.Approved.Inc()
	}
}

// IncRejection records a rejection at the named pipeline stage.
func (m *Metrics) IncRejection(stage string) {
	if m != nil {
		m.Rejections.WithLabelValues(stage).Inc()
	}
}

// IncSizingFallback records an explicit sizing-model fallback.
func (m *Metrics) IncSizingFallback() {
	if m != nil {
		m.SizingFallbacks.Inc()
	}
}

// IncViolation records a monitor violation by severity.
func (m *Metrics) IncViolation(severity string) {
	if m != nil {
		m.MonitorViolations.WithLabelValues(severity).Inc()
	}
}

// ObserveEvaluation records an evaluation latency in seconds.
func (m *Metrics) ObserveEvaluation(seconds float64) {
	if m != nil {
		m.EvaluationSeconds.Observe(seconds)
	}
}
