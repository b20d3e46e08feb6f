package jobqueue

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics provides observability for the job queue.
type Metrics struct {
	Enqueued  *prometheus.CounterVec
	Completed *prometheus.CounterVec
	Failed    *prometheus.CounterVec
	Retried   *prometheus.CounterVec
	InFlight  prometheus.Gauge
}

// NewMetrics creates and registers the job queue metrics.
func NewMetrics() *Metrics {
	return &Metrics{
		Enqueued: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "idverify_jobqueue_enqueued_total",
			Help: "Jobs accepted by the queue by type",
		}, []string{"type"}),
		Completed: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "idverify_jobqueue_completed_total",
			Help: "Jobs that finished successfully by type",
		}, []string{"type"}),
		Failed: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "idverify_jobqueue_failed_total",
			Help: "Jobs that exhausted their attempts by type",
		}, []string{"type"}),
		Retried: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "idverify_jobqueue_retried_total",
			Help: "Job attempts that failed and were scheduled again by type",
		}, []string{"type"}),
		InFlight: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "idverify_jobqueue_in_flight",
			Help: "Jobs currently executing",
		}),
	}
}

func (m *Metrics) incEnqueued(jobType string) {
	if m != nil {
		m.Enqueued.WithLabelValues(jobType).Inc()
	}
}

func (m *Metrics) incCompleted(jobType string) {
	if m != nil {
		m.Completed.WithLabelValues(jobType).Inc()
	}
}

func (m *Metrics) incFailed(jobType string) {
	if m != nil {
		m.Failed.WithLabelValues(jobType).Inc()
	}
}

func (m *Metrics) incRetried(jobType string) {
	if m != nil {
		m.Retried.WithLabelValues(jobType).Inc()
	}
}

func (m *Metrics) addInFlight(delta float64) {
	if m != nil {
		m.InFlight.Add(delta)
	}
}
