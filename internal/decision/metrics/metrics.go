package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics provides observability for the decision engine.
type Metrics struct {
	// Evidence call latencies by source
	EvidenceLatency *prometheus.HistogramVec

	// Evidence calls that failed, by source and provider error category
	ExtractorFailures *prometheus.CounterVec

	// Decision outcomes by status and risk level
	DecisionOutcome *prometheus.CounterVec

	// Runs that ended on the forced-rejection path
	FatalErrors prometheus.Counter

	// Full decide run latency
	DecideLatency prometheus.Histogram
}

// New creates a new Metrics instance with all decision metrics registered.
func New() *Metrics {
	return &Metrics{
		EvidenceLatency: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "idverify_decision_evidence_duration_seconds",
			Help:    "Duration of evidence extractor calls by source",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 20},
		}, []string{"source"}), // source: "ocr", "face_compare", "face_detect", "video", "frame", "spoof", "signals", "media"

		ExtractorFailures: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "idverify_decision_extractor_failures_total",
			Help: "Evidence extractor failures by source and category",
		}, []string{"source", "category"}),

		DecisionOutcome: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "idverify_decision_outcomes_total",
			Help: "Total decision outcomes by status and risk level",
		}, []string{"status", "risk_level"}),

		FatalErrors: promauto.NewCounter(prometheus.CounterOpts{
			Name: "idverify_decision_fatal_errors_total",
			Help: "Decide runs that failed and forced the verification to rejected",
		}),

		DecideLatency: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "idverify_decision_decide_duration_seconds",
			Help:    "Duration of a full decide run including evidence extraction",
			Buckets: []float64{0.25, 0.5, 1, 2.5, 5, 10, 20, 40, 60},
		}),
	}
}

// ObserveEvidenceLatency records the duration of one evidence call.
func (m *Metrics) ObserveEvidenceLatency(source string, d time.Duration) {
	if m != nil {
		m.EvidenceLatency.WithLabelValues(source).Observe(d.Seconds())
	}
}

// IncrementExtractorFailure records a failed evidence call.
func (m *Metrics) IncrementExtractorFailure(source, category string) {
	if m != nil {
		m.ExtractorFailures.WithLabelValues(source, category).Inc()
	}
}

// IncrementOutcome records a decision outcome.
func (m *Metrics) IncrementOutcome(status, riskLevel string) {
	if m != nil {
		m.DecisionOutcome.WithLabelValues(status, riskLevel).Inc()
	}
}

func (m *Metrics) IncrementFatal() {
	if m != nil {
		m.FatalErrors.Inc()
	}
}

// ObserveDecideLatency records the total decide duration.
func (m *Metrics) ObserveDecideLatency(d time.Duration) {
	if m != nil {
		m.DecideLatency.Observe(d.Seconds())
	}
}
