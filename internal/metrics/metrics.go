// Package metrics exposes the agent's Prometheus instrumentation.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const (
	// OutcomeSuccess labels analyses that produced a report.
	OutcomeSuccess = "success"
	// OutcomeError labels analyses that produced no report.
	OutcomeError = "error"
)

var (
	analysesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "rca_agent",
			Name:      "analyses_total",
			Help:      "Total number of failure analyses, partitioned by outcome.",
		},
		[]string{"outcome"},
	)

	analysisDurationSeconds = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "rca_agent",
			Name:      "analysis_seconds",
			Help:      "End-to-end analysis latency in seconds.",
			Buckets:   []float64{0.5, 1, 2, 5, 10, 20, 30, 60, 90, 120},
		},
	)

	collectorFailuresTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "rca_agent",
			Name:      "collector_failures_total",
			Help:      "Evidence collector failures, partitioned by collector name.",
		},
		[]string{"collector"},
	)

	fallbackActivationsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "rca_agent",
			Name:      "fallback_activations_total",
			Help:      "Diagnoses served by the deterministic fallback after a capability failure.",
		},
	)
)

// Register attaches the agent's collectors to the supplied Prometheus registerer.
func Register(reg prometheus.Registerer) error {
	collectors := []prometheus.Collector{
		analysesTotal,
		analysisDurationSeconds,
		collectorFailuresTotal,
		fallbackActivationsTotal,
	}

	for _, collector := range collectors {
		if err := reg.Register(collector); err != nil {
			if _, ok := err.(prometheus.AlreadyRegisteredError); ok {
				continue
			}
			return err
		}
	}
	return nil
}

// ObserveAnalysis records one analysis run's duration and outcome.
func ObserveAnalysis(duration time.Duration, outcome string) {
	label := outcome
	if label != OutcomeError {
		label = OutcomeSuccess
	}
	analysesTotal.WithLabelValues(label).Inc()
	if duration < 0 {
		duration = 0
	}
	analysisDurationSeconds.Observe(duration.Seconds())
}

// RecordCollectorFailure counts one collector failure.
func RecordCollectorFailure(collector string) {
	collectorFailuresTotal.WithLabelValues(collector).Inc()
}

// RecordFallback counts one deterministic-fallback activation.
func RecordFallback() {
	fallbackActivationsTotal.Inc()
}
