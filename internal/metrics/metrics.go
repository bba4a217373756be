// Package metrics exposes Prometheus instrumentation for the verification pipeline.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics provides observability for the verification pipeline. A nil
// *Metrics is valid and records nothing.
type Metrics struct {
	registry *prometheus.Registry

	// Evidence gathering latencies by path ("biometric", "document").
	EvidenceLatency *prometheus.HistogramVec

	// Evidence path failures by path and reason.
	EvidenceFailures *prometheus.CounterVec

	// Verdicts by outcome ("accepted", "rejected") and the paths exercised.
	Verdicts *prometheus.CounterVec

	// Requests that ended without a verdict, by error kind.
	Errors *prometheus.CounterVec

	// Best similarity observed per attempt.
	Similarity prometheus.Histogram

	// End-to-end verification latency.
	VerifyLatency prometheus.Histogram
}

// New registers all metrics on a fresh registry that also carries the Go and
// process collectors.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,
		EvidenceLatency: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "idassure_evidence_duration_seconds",
			Help:    "Duration of evidence gathering by path",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 20},
		}, []string{"path"}),

		EvidenceFailures: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "idassure_evidence_failures_total",
			Help: "Evidence paths that degraded to no evidence",
		}, []string{"path", "reason"}),

		Verdicts: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "idassure_verdicts_total",
			Help: "Verification verdicts by outcome and exercised paths",
		}, []string{"outcome", "paths"}),

		Errors: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "idassure_verification_errors_total",
			Help: "Verification requests that ended without a verdict",
		}, []string{"kind"}),

		Similarity: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "idassure_max_similarity",
			Help:    "Best face similarity per attempt",
			Buckets: []float64{10, 25, 50, 70, 80, 85, 90, 95, 99},
		}),

		VerifyLatency: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "idassure_verify_duration_seconds",
			Help:    "Duration of a verification including evidence gathering",
			Buckets: []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		}),
	}
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// Gatherer exposes the registry to tests.
func (m *Metrics) Gatherer() prometheus.Gatherer {
	return m.registry
}

// ObserveEvidenceLatency records how long an evidence path took.
func (m *Metrics) ObserveEvidenceLatency(path string, d time.Duration) {
	if m != nil {
		m.EvidenceLatency.WithLabelValues(path).Observe(d.Seconds())
	}
}

// IncrementEvidenceFailure records a degraded evidence path.
func (m *Metrics) IncrementEvidenceFailure(path, reason string) {
	if m != nil {
		m.EvidenceFailures.WithLabelValues(path, reason).Inc()
	}
}

// IncrementVerdict records a decided attempt.
func (m *Metrics) IncrementVerdict(success bool, paths string) {
	if m == nil {
		return
	}
	outcome := "rejected"
	if success {
		outcome = "accepted"
	}
	m.Verdicts.WithLabelValues(outcome, paths).Inc()
}

// IncrementError records a request that produced no verdict.
func (m *Metrics) IncrementError(kind string) {
	if m != nil {
		m.Errors.WithLabelValues(kind).Inc()
	}
}

// ObserveSimilarity records the best similarity of an attempt.
func (m *Metrics) ObserveSimilarity(v float64) {
	if m != nil {
		m.Similarity.Observe(v)
	}
}

// ObserveVerifyLatency records the total verification duration.
func (m *Metrics) ObserveVerifyLatency(d time.Duration) {
	if m != nil {
		m.VerifyLatency.Observe(d.Seconds())
	}
}
