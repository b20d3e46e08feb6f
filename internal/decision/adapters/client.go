package adapters

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"idverify/internal/decision/ports"
	"idverify/pkg/platform/circuit"
)

const (
	defaultTimeout    = 20 * time.Second
	maxResponseBytes  = 16 << 20
	defaultRatePerSec = 10
	defaultRateBurst  = 10
	apiKeyHeader      = "X-API-Key"
	contentTypeJSON   = "application/json"
	breakerFailures   = 5
	breakerCooldown   = 30 * time.Second
)

// Client is a JSON-over-HTTP client for one evidence provider. Calls go
// through a rate limiter and a circuit breaker; every failure is returned as
// a *ports.ProviderError.
type Client struct {
	providerID string
	baseURL    string
	apiKey     string
	http       *http.Client
	limiter    *rate.Limiter
	breaker    *circuit.Breaker
	logger     *slog.Logger
}

// Option configures a Client.
type Option func(*Client)

func WithAPIKey(key string) Option {
	return func(c *Client) { c.apiKey = key }
}

// WithTimeout sets the client-level timeout of each provider call.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.http.Timeout = d
		}
	}
}

func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc != nil {
			c.http = hc
		}
	}
}

// WithRateLimit caps outbound calls per second.
func WithRateLimit(perSecond float64, burst int) Option {
	return func(c *Client) {
		if perSecond > 0 && burst > 0 {
			c.limiter = rate.NewLimiter(rate.Limit(perSecond), burst)
		}
	}
}

func WithBreaker(b *circuit.Breaker) Option {
	return func(c *Client) {
		if b != nil {
			c.breaker = b
		}
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(c *Client) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// NewClient creates a provider client rooted at baseURL.
func NewClient(providerID, baseURL string, opts ...Option) *Client {
	c := &Client{
		providerID: providerID,
		baseURL:    strings.TrimRight(baseURL, "/"),
		http:       &http.Client{Timeout: defaultTimeout},
		limiter:    rate.NewLimiter(rate.Limit(defaultRatePerSec), defaultRateBurst),
		breaker: circuit.New(providerID,
			circuit.WithFailureThreshold(breakerFailures),
			circuit.WithCooldown(breakerCooldown),
		),
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Client) ProviderID() string { return c.providerID }

// postJSON sends body to path and decodes the JSON response into out.
func (c *Client) postJSON(ctx context.Context, path string, body, out any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return ports.NewProviderError(ports.ErrorInternal, c.providerID, "encode request", err)
	}
	data, err := c.do(ctx, http.MethodPost, path, payload)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(data, out); err != nil {
		return ports.NewProviderError(ports.ErrorBadData, c.providerID, "decode response", err)
	}
	return nil
}

// get fetches path and returns the raw body.
func (c *Client) get(ctx context.Context, path string) ([]byte, error) {
	return c.do(ctx, http.MethodGet, path, nil)
}

func (c *Client) do(ctx context.Context, method, path string, payload []byte) ([]byte, error) {
	if !c.breaker.Allow() {
		return nil, ports.NewProviderError(ports.ErrorCircuitOpen, c.providerID, "circuit open", nil)
	}
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, ports.NewProviderError(ports.ErrorRateLimited, c.providerID, "rate limiter wait", err)
	}

	data, err := c.roundTrip(ctx, method, path, payload)
	c.record(ctx, err)
	return data, err
}

func (c *Client) roundTrip(ctx context.Context, method, path string, payload []byte) ([]byte, error) {
	var body io.Reader
	if payload != nil {
		body = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return nil, ports.NewProviderError(ports.ErrorInternal, c.providerID, "build request", err)
	}
	if payload != nil {
		req.Header.Set("Content-Type", contentTypeJSON)
	}
	req.Header.Set("Accept", contentTypeJSON)
	if c.apiKey != "" {
		req.Header.Set(apiKeyHeader, c.apiKey)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		if isTimeout(err) {
			return nil, ports.NewProviderError(ports.ErrorTimeout, c.providerID, "request timed out", err)
		}
		return nil, ports.NewProviderError(ports.ErrorProviderOutage, c.providerID, "request failed", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, ports.NewProviderError(ports.ErrorProviderOutage, c.providerID, "read response", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, ports.NewProviderError(categoryForStatus(resp.StatusCode), c.providerID,
			fmt.Sprintf("unexpected status %d", resp.StatusCode), nil)
	}
	return data, nil
}

// record feeds the breaker. Bad input does not say anything about provider
// health and leaves the breaker alone.
func (c *Client) record(ctx context.Context, err error) {
	if err == nil {
		if _, change := c.breaker.RecordSuccess(); change.Closed {
			c.logger.InfoContext(ctx, "provider circuit closed", "provider", c.providerID)
		}
		return
	}
	if !ports.CountsAsOutage(err) {
		return
	}
	if _, change := c.breaker.RecordFailure(); change.Opened {
		c.logger.WarnContext(ctx, "provider circuit opened", "provider", c.providerID, "error", err)
	}
}

func categoryForStatus(status int) ports.ErrorCategory {
	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return ports.ErrorAuthentication
	case status == http.StatusNotFound:
		return ports.ErrorNotFound
	case status == http.StatusTooManyRequests:
		return ports.ErrorRateLimited
	case status == http.StatusRequestTimeout || status == http.StatusGatewayTimeout:
		return ports.ErrorTimeout
	case status >= 500:
		return ports.ErrorProviderOutage
	default:
		return ports.ErrorBadData
	}
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}
