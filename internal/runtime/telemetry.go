package runtime

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics groups the Prometheus collectors exported on /metrics. A nil
// *Metrics is valid and records nothing.
type Metrics struct {
	SerpRequests      *prometheus.CounterVec
	SerpCredits       prometheus.Counter
	ExecutionDuration prometheus.Histogram
	ResultsProcessed  *prometheus.CounterVec
	Exports           *prometheus.CounterVec
}

// NewMetrics creates and registers the collectors on reg. Passing nil uses
// a private registry (useful in tests).
func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	m := &Metrics{
		SerpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "thesisgrey",
			Name:      "serp_requests_total",
			Help:      "Outbound search provider requests by provider and outcome.",
		}, []string{"provider", "status"}),
		SerpCredits: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "thesisgrey",
			Name:      "serp_credits_total",
			Help:      "Search provider credits consumed.",
		}),
		ExecutionDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "thesisgrey",
			Name:      "execution_duration_seconds",
			Help:      "Wall time of a full session execution.",
			Buckets:   prometheus.ExponentialBuckets(0.5, 2, 10),
		}),
		ResultsProcessed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "thesisgrey",
			Name:      "results_processed_total",
			Help:      "Raw results handled by the processor, by outcome.",
		}, []string{"outcome"}),
		Exports: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "thesisgrey",
			Name:      "exports_total",
			Help:      "Generated export files by format.",
		}, []string{"format"}),
	}
	reg.MustRegister(m.SerpRequests, m.SerpCredits, m.ExecutionDuration, m.ResultsProcessed, m.Exports)
	return m
}

func (m *Metrics) ObserveSerpRequest(provider, status string, credits int) {
	if m == nil {
		return
	}
	m.SerpRequests.WithLabelValues(provider, status).Inc()
	if credits > 0 {
		m.SerpCredits.Add(float64(credits))
	}
}

func (m *Metrics) ObserveExecution(d time.Duration) {
	if m == nil {
		return
	}
	m.ExecutionDuration.Observe(d.Seconds())
}

func (m *Metrics) ObserveProcessing(processed, duplicates, failed int) {
	if m == nil {
		return
	}
	m.ResultsProcessed.WithLabelValues("processed").Add(float64(processed))
	m.ResultsProcessed.WithLabelValues("duplicate").Add(float64(duplicates))
	m.ResultsProcessed.WithLabelValues("error").Add(float64(failed))
}

func (m *Metrics) ObserveExport(format string) {
	if m == nil {
		return
	}
	m.Exports.WithLabelValues(format).Inc()
}
