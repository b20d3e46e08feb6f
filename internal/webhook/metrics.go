package webhook

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics provides observability for webhook delivery.
type Metrics struct {
	// Deliveries by event and result (delivered, skipped, failed)
	Deliveries *prometheus.CounterVec

	// Round-trip latency of attempted deliveries
	Latency prometheus.Histogram
}

func NewMetrics() *Metrics {
	return &Metrics{
		Deliveries: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "idverify_webhook_deliveries_total",
			Help: "Webhook deliveries by event and result",
		}, []string{"event", "result"}),
		Latency: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "idverify_webhook_delivery_duration_seconds",
			Help:    "Duration of webhook delivery attempts",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 4, 8},
		}),
	}
}

func (m *Metrics) incDelivery(event, result string) {
	if m != nil {
		m.Deliveries.WithLabelValues(event, result).Inc()
	}
}

func (m *Metrics) observeLatency(d time.Duration) {
	if m != nil {
		m.Latency.Observe(d.Seconds())
	}
}
