// Package events publishes verification outcomes to the outcome stream.
// Publishing is best effort: failures are logged and never reach callers.
package events

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/twmb/franz-go/pkg/kgo"
)

// TypeDecided is the event type of a committed decision.
const TypeDecided = "verification.decided"

// DefaultTopic carries verification outcome events.
const DefaultTopic = "verification-outcomes"

const eventTypeHeader = "event_type"

// Decided is the record value published after a decision commits.
type Decided struct {
	Type           string    `json:"type"`
	VerificationID string    `json:"verification_id"`
	OrganizationID string    `json:"organization_id"`
	Status         string    `json:"status"`
	MatchScore     *int      `json:"match_score,omitempty"`
	RiskLevel      *string   `json:"risk_level,omitempty"`
	FailureReason  *string   `json:"failure_reason,omitempty"`
	Flags          []string  `json:"flags"`
	DecidedAt      time.Time `json:"decided_at"`
}

// Producer is the produce side of a franz-go client.
type Producer interface {
	Produce(ctx context.Context, r *kgo.Record, promise func(*kgo.Record, error))
}

// Metrics counts published records by result.
type Metrics struct {
	Published *prometheus.CounterVec
}

func NewMetrics() *Metrics {
	return &Metrics{
		Published: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "idverify_events_published_total",
			Help: "Outcome events handed to the broker by result",
		}, []string{"result"}), // result: "ok", "error"
	}
}

func (m *Metrics) observe(err error) {
	if m == nil {
		return
	}
	if err != nil {
		m.Published.WithLabelValues("error").Inc()
		return
	}
	m.Published.WithLabelValues("ok").Inc()
}

// Publisher produces outcome events asynchronously.
type Publisher struct {
	producer Producer
	topic    string
	logger   *slog.Logger
	metrics  *Metrics
}

// Option configures a Publisher.
type Option func(*Publisher)

func WithLogger(logger *slog.Logger) Option {
	return func(p *Publisher) {
		if logger != nil {
			p.logger = logger
		}
	}
}

func WithMetrics(m *Metrics) Option {
	return func(p *Publisher) { p.metrics = m }
}

func WithTopic(topic string) Option {
	return func(p *Publisher) {
		if topic != "" {
			p.topic = topic
		}
	}
}

func NewPublisher(producer Producer, opts ...Option) *Publisher {
	p := &Publisher{
		producer: producer,
		topic:    DefaultTopic,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// PublishDecided hands e to the producer keyed by verification id, so all
// events of one verification stay ordered on one partition.
func (p *Publisher) PublishDecided(ctx context.Context, e Decided) {
	e.Type = TypeDecided
	if e.Flags == nil {
		e.Flags = []string{}
	}
	value, err := json.Marshal(e)
	if err != nil {
		p.logger.ErrorContext(ctx, "failed to encode outcome event",
			"verification_id", e.VerificationID,
			"error", err,
		)
		return
	}

	record := &kgo.Record{
		Topic:   p.topic,
		Key:     []byte(e.VerificationID),
		Value:   value,
		Headers: []kgo.RecordHeader{{Key: eventTypeHeader, Value: []byte(TypeDecided)}},
	}
	p.producer.Produce(context.WithoutCancel(ctx), record, func(r *kgo.Record, err error) {
		p.metrics.observe(err)
		if err != nil {
			p.logger.Warn("failed to publish outcome event",
				"verification_id", e.VerificationID,
				"topic", r.Topic,
				"error", err,
			)
		}
	})
}
