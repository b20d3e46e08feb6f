// Package config reads process configuration from the environment. A .env
// file in the working directory is loaded first when present; variables
// already set in the environment win.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config is the full process configuration.
type Config struct {
	Server    Server
	Postgres  PostgresConfig
	Redis     RedisConfig
	Kafka     KafkaConfig
	Providers ProvidersConfig
	Queue     QueueConfig
	Webhook   WebhookConfig
	LogLevel  string
}

// Server captures HTTP server level configuration.
type Server struct {
	Addr            string
	ShutdownTimeout time.Duration
	// AdminToken guards the organization settings endpoints. Empty disables them.
	AdminToken string
}

// PostgresConfig selects the verification store. An empty DSN keeps all
// state in memory.
type PostgresConfig struct {
	DSN          string
	MaxOpenConns int
}

// RedisConfig backs processing claims and behavioral signals. An empty URL
// falls back to in-process stores.
type RedisConfig struct {
	URL          string
	PoolSize     int
	MinIdleConns int
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// KafkaConfig configures the outcome stream. No brokers disables it.
type KafkaConfig struct {
	Brokers  []string
	Topic    string
	ClientID string
}

// ProvidersConfig holds the evidence provider endpoints. An empty URL leaves
// that extractor unconfigured, which the engine treats as a failing source.
type ProvidersConfig struct {
	DocumentURL   string
	LLMURL        string
	FaceURL       string
	SpoofURL      string
	MediaURL      string
	APIKey        string
	Timeout       time.Duration
	RatePerSecond float64
}

// QueueConfig sizes the decision job queue.
type QueueConfig struct {
	Concurrency int
}

// WebhookConfig bounds outbound webhook calls.
type WebhookConfig struct {
	Timeout time.Duration
}

// FromEnv builds the configuration from environment variables so main stays lean.
func FromEnv() (Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return Config{}, fmt.Errorf("load .env: %w", err)
	}

	r := reader{}
	cfg := Config{
		Server: Server{
			Addr:            r.str("IDVERIFY_ADDR", ":8080"),
			ShutdownTimeout: r.duration("IDVERIFY_SHUTDOWN_TIMEOUT", 30*time.Second),
			AdminToken:      r.str("IDVERIFY_ADMIN_TOKEN", ""),
		},
		Postgres: PostgresConfig{
			DSN:          r.str("DATABASE_URL", ""),
			MaxOpenConns: r.integer("DATABASE_MAX_OPEN_CONNS", 10),
		},
		Redis: RedisConfig{
			URL:          r.str("REDIS_URL", ""),
			PoolSize:     r.integer("REDIS_POOL_SIZE", 10),
			MinIdleConns: r.integer("REDIS_MIN_IDLE_CONNS", 2),
			DialTimeout:  r.duration("REDIS_DIAL_TIMEOUT", 5*time.Second),
			ReadTimeout:  r.duration("REDIS_READ_TIMEOUT", 3*time.Second),
			WriteTimeout: r.duration("REDIS_WRITE_TIMEOUT", 3*time.Second),
		},
		Kafka: KafkaConfig{
			Brokers:  r.list("KAFKA_BROKERS"),
			Topic:    r.str("KAFKA_OUTCOME_TOPIC", "verification-outcomes"),
			ClientID: r.str("KAFKA_CLIENT_ID", "idverify"),
		},
		Providers: ProvidersConfig{
			DocumentURL:   r.str("PROVIDER_DOCUMENT_URL", ""),
			LLMURL:        r.str("PROVIDER_LLM_URL", ""),
			FaceURL:       r.str("PROVIDER_FACE_URL", ""),
			SpoofURL:      r.str("PROVIDER_SPOOF_URL", ""),
			MediaURL:      r.str("PROVIDER_MEDIA_URL", ""),
			APIKey:        r.str("PROVIDER_API_KEY", ""),
			Timeout:       r.duration("PROVIDER_TIMEOUT", 20*time.Second),
			RatePerSecond: r.float("PROVIDER_RATE_PER_SECOND", 10),
		},
		Queue: QueueConfig{
			Concurrency: r.integer("QUEUE_CONCURRENCY", 3),
		},
		Webhook: WebhookConfig{
			Timeout: r.duration("WEBHOOK_TIMEOUT", 8*time.Second),
		},
		LogLevel: r.str("LOG_LEVEL", "info"),
	}
	if err := errors.Join(r.errs...); err != nil {
		return Config{}, err
	}
	if cfg.Queue.Concurrency < 1 {
		return Config{}, fmt.Errorf("QUEUE_CONCURRENCY must be at least 1, got %d", cfg.Queue.Concurrency)
	}
	return cfg, nil
}

// reader collects parse errors so every bad variable is reported at once.
type reader struct {
	errs []error
}

func (r *reader) str(key, def string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return def
}

func (r *reader) list(key string) []string {
	var out []string
	for _, part := range strings.Split(os.Getenv(key), ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func (r *reader) integer(key string, def int) int {
	raw := r.str(key, "")
	if raw == "" {
		return def
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		r.errs = append(r.errs, fmt.Errorf("%s: invalid integer %q", key, raw))
		return def
	}
	return v
}

func (r *reader) float(key string, def float64) float64 {
	raw := r.str(key, "")
	if raw == "" {
		return def
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		r.errs = append(r.errs, fmt.Errorf("%s: invalid number %q", key, raw))
		return def
	}
	return v
}

func (r *reader) duration(key string, def time.Duration) time.Duration {
	raw := r.str(key, "")
	if raw == "" {
		return def
	}
	v, err := time.ParseDuration(raw)
	if err != nil {
		r.errs = append(r.errs, fmt.Errorf("%s: invalid duration %q", key, raw))
		return def
	}
	return v
}
