// Package webhook delivers verification outcome events to the callback URL
// an organization subscribed with.
//
// Delivery is best effort: one attempt, no retry, and failures are only
// logged. Nothing here can fail the caller.
package webhook

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"

	orgmodels "idverify/internal/organization/models"
)

const (
	// DefaultTimeout caps one delivery attempt.
	DefaultTimeout = 8 * time.Second

	// maxErrorBodySize limits how much of a failed response is logged.
	maxErrorBodySize = 1024

	userAgent   = "idverify-webhook/1.0"
	eventHeader = "X-Idverify-Event"
)

// Delivery results, used as metric labels.
const (
	resultDelivered = "delivered"
	resultSkipped   = "skipped"
	resultFailed    = "failed"
)

// Subscriptions resolves an organization's webhook subscription. It returns
// nil, nil when none is configured.
type Subscriptions interface {
	Subscription(ctx context.Context, orgID uuid.UUID) (*orgmodels.WebhookSubscription, error)
}

// Notifier posts outcome events to organization webhooks.
type Notifier struct {
	subs    Subscriptions
	client  *http.Client
	timeout time.Duration
	logger  *slog.Logger
	metrics *Metrics
	now     func() time.Time

	inflight sync.WaitGroup
}

// Option configures a Notifier.
type Option func(*Notifier)

func WithHTTPClient(c *http.Client) Option {
	return func(n *Notifier) {
		if c != nil {
			n.client = c
		}
	}
}

func WithTimeout(d time.Duration) Option {
	return func(n *Notifier) {
		if d > 0 {
			n.timeout = d
		}
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(n *Notifier) {
		if logger != nil {
			n.logger = logger
		}
	}
}

func WithMetrics(m *Metrics) Option {
	return func(n *Notifier) { n.metrics = m }
}

// WithClock overrides the timestamp source of payloads.
func WithClock(now func() time.Time) Option {
	return func(n *Notifier) {
		if now != nil {
			n.now = now
		}
	}
}

func New(subs Subscriptions, opts ...Option) *Notifier {
	n := &Notifier{
		subs:    subs,
		client:  &http.Client{},
		timeout: DefaultTimeout,
		logger:  slog.Default(),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(n)
	}
	return n
}

// Dispatch delivers in the background and returns immediately. The delivery
// outlives ctx's cancellation; Wait drains outstanding deliveries.
func (n *Notifier) Dispatch(ctx context.Context, orgID uuid.UUID, event string, payload map[string]any) {
	n.inflight.Add(1)
	go func() {
		defer n.inflight.Done()
		n.Deliver(context.WithoutCancel(ctx), orgID, event, payload)
	}()
}

// Wait blocks until every dispatched delivery has finished or ctx is done.
func (n *Notifier) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		n.inflight.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("waiting for webhook deliveries: %w", ctx.Err())
	}
}

// Deliver posts one event synchronously. It never returns an error and never
// panics; every outcome is logged and counted.
func (n *Notifier) Deliver(ctx context.Context, orgID uuid.UUID, event string, payload map[string]any) {
	defer func() {
		if r := recover(); r != nil {
			n.metrics.incDelivery(event, resultFailed)
			n.logger.ErrorContext(ctx, "webhook delivery panicked",
				"organization_id", orgID,
				"event", event,
				"panic", fmt.Sprint(r),
			)
		}
	}()

	// The timeout covers the subscription lookup as well as the POST.
	ctx, cancel := context.WithTimeout(ctx, n.timeout)
	defer cancel()

	sub, err := n.subs.Subscription(ctx, orgID)
	if err != nil {
		n.metrics.incDelivery(event, resultFailed)
		n.logger.ErrorContext(ctx, "failed to load webhook subscription",
			"organization_id", orgID,
			"event", event,
			"error", err,
		)
		return
	}
	if !sub.Wants(event) {
		n.metrics.incDelivery(event, resultSkipped)
		n.logger.DebugContext(ctx, "webhook skipped",
			"organization_id", orgID,
			"event", event,
			"reason", skipReason(sub),
		)
		return
	}

	start := time.Now()
	err = n.post(ctx, sub.URL, event, payload)
	n.metrics.observeLatency(time.Since(start))
	if err != nil {
		n.metrics.incDelivery(event, resultFailed)
		n.logger.WarnContext(ctx, "webhook delivery failed",
			"organization_id", orgID,
			"event", event,
			"error", err,
		)
		return
	}
	n.metrics.incDelivery(event, resultDelivered)
	n.logger.InfoContext(ctx, "webhook delivered",
		"organization_id", orgID,
		"event", event,
		"duration_ms", time.Since(start).Milliseconds(),
	)
}

func skipReason(sub *orgmodels.WebhookSubscription) string {
	switch {
	case sub == nil:
		return "no subscription"
	case sub.URL == "":
		return "empty url"
	default:
		return "event disabled"
	}
}

// Body builds the JSON document posted for an event. The event and
// timestamp envelope always wins over payload keys of the same name.
func Body(event string, timestamp time.Time, payload map[string]any) map[string]any {
	body := make(map[string]any, len(payload)+2)
	for k, v := range payload {
		body[k] = v
	}
	body["event"] = event
	body["timestamp"] = timestamp.UTC().Format(time.RFC3339)
	return body
}

func (n *Notifier) post(ctx context.Context, url, event string, payload map[string]any) error {
	data, err := json.Marshal(Body(event, n.now(), payload))
	if err != nil {
		return fmt.Errorf("encode payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set(eventHeader, event)

	resp, err := n.client.Do(req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return fmt.Errorf("request timed out after %s: %w", n.timeout, err)
		}
		return fmt.Errorf("request failed: %w", err)
	}
	defer func() {
		_, _ = io.Copy(io.Discard, resp.Body)
		_ = resp.Body.Close()
	}()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodySize))
		return fmt.Errorf("webhook returned status %d: %s", resp.StatusCode, string(body))
	}
	return nil
}
