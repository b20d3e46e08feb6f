// Package app assembles the verification pipeline from configuration. Every
// optional backend falls back to an in-process implementation when it is not
// configured, so a bare environment runs a complete single-instance service.
package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/twmb/franz-go/pkg/kgo"

	"idverify/internal/behavior"
	behaviorhandler "idverify/internal/behavior/handler"
	"idverify/internal/decision"
	"idverify/internal/decision/adapters"
	"idverify/internal/decision/extraction"
	decisionhandler "idverify/internal/decision/handler"
	decisionmetrics "idverify/internal/decision/metrics"
	"idverify/internal/decision/ports"
	"idverify/internal/events"
	httpapi "idverify/internal/http"
	"idverify/internal/jobqueue"
	orghandler "idverify/internal/organization/handler"
	orgservice "idverify/internal/organization/service"
	orgstore "idverify/internal/organization/store"
	"idverify/internal/platform/config"
	"idverify/internal/platform/kafka"
	"idverify/internal/platform/metrics"
	"idverify/internal/platform/postgres"
	platformredis "idverify/internal/platform/redis"
	vstore "idverify/internal/verification/store"
	"idverify/internal/webhook"
)

// Provider ids, used as breaker names and metric labels.
const (
	providerDocument = "document"
	providerLLM      = "llm"
	providerFace     = "face"
	providerSpoof    = "spoof"
	providerMedia    = "media"
)

const (
	// outcomeTopicPartitions is used when the outcome topic has to be created.
	outcomeTopicPartitions = 6
	flushTimeout           = 5 * time.Second
)

// App holds the assembled components.
type App struct {
	Config        config.Config
	Logger        *slog.Logger
	Verifications vstore.Store
	Organizations *orgservice.Service
	Decisions     *decision.Service
	Processor     *decision.Processor
	Queue         *jobqueue.Queue
	Notifier      *webhook.Notifier

	signalService *behavior.Service
	httpMetrics   *metrics.Metrics
	health        map[string]httpapi.HealthCheck
	closers       []func() error
}

// New connects the configured backends and wires the pipeline. Close
// releases what New opened, also when New fails part way.
func New(ctx context.Context, cfg config.Config, logger *slog.Logger) (_ *App, err error) {
	a := &App{
		Config: cfg,
		Logger: logger,
		health: make(map[string]httpapi.HealthCheck),
	}
	defer func() {
		if err != nil {
			_ = a.Close()
		}
	}()

	db, err := postgres.Open(ctx, cfg.Postgres)
	if err != nil {
		return nil, err
	}
	if db != nil {
		a.closers = append(a.closers, db.Close)
		a.health["postgres"] = db.PingContext
	}
	redisClient, err := platformredis.New(ctx, cfg.Redis)
	if err != nil {
		return nil, err
	}
	publisher, err := a.outcomePublisher(ctx)
	if err != nil {
		return nil, err
	}

	orgStore := a.organizationStore(db)
	a.Verifications = a.verificationStore(db)
	a.Organizations = orgservice.New(orgStore, orgservice.WithLogger(logger))

	var (
		claimer decision.Claimer = adapters.NewMemoryClaimer()
		signals behavior.Store   = behavior.NewMemoryStore()
	)
	if redisClient != nil {
		a.closers = append(a.closers, redisClient.Close)
		a.health["redis"] = redisClient.Health
		claimer = adapters.NewRedisClaimer(redisClient.Client)
		signals = behavior.NewRedisStore(redisClient.Client)
	} else {
		logger.Warn("redis not configured, claims and signals are process local")
	}

	a.Notifier = webhook.New(a.Organizations,
		webhook.WithTimeout(cfg.Webhook.Timeout),
		webhook.WithLogger(logger),
		webhook.WithMetrics(webhook.NewMetrics()),
	)

	opts := []decision.Option{
		decision.WithLogger(logger),
		decision.WithMetrics(decisionmetrics.New()),
		decision.WithNotifier(a.Notifier),
	}
	if publisher != nil {
		opts = append(opts, decision.WithEventPublisher(publisher))
	}
	a.Decisions = decision.New(a.Verifications, a.Organizations, a.evidence(signals), opts...)

	a.Queue = jobqueue.New(
		jobqueue.WithConcurrency(cfg.Queue.Concurrency),
		jobqueue.WithLogger(logger),
		jobqueue.WithMetrics(jobqueue.NewMetrics()),
	)
	a.Processor = decision.NewProcessor(a.Verifications, claimer, a.Queue, a.Decisions, logger)
	if err := a.Queue.RegisterHandler(decision.JobTypeDecide, a.Processor.HandleDecideJob); err != nil {
		return nil, fmt.Errorf("register decide handler: %w", err)
	}

	a.signalService = behavior.NewService(a.Verifications, signals, behavior.WithLogger(logger))
	a.httpMetrics = metrics.New()
	return a, nil
}

// Router builds the HTTP surface over the assembled services.
func (a *App) Router() http.Handler {
	return httpapi.NewRouter(httpapi.Deps{
		Logger:       a.Logger,
		Metrics:      a.httpMetrics,
		Process:      decisionhandler.New(a.Processor, a.Logger),
		Signals:      behaviorhandler.New(a.signalService, a.Logger),
		Organization: orghandler.New(a.Organizations, a.Logger),
		AdminToken:   a.Config.Server.AdminToken,
		Health:       a.health,
	})
}

// Close releases backend connections in reverse order of opening.
func (a *App) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		errs = append(errs, a.closers[i]())
	}
	a.closers = nil
	return errors.Join(errs...)
}

func (a *App) verificationStore(db *sql.DB) vstore.Store {
	if db == nil {
		a.Logger.Warn("postgres not configured, verifications are kept in memory")
		return vstore.NewInMemory()
	}
	return vstore.NewPostgres(db)
}

func (a *App) organizationStore(db *sql.DB) orgservice.Store {
	if db == nil {
		return orgstore.NewInMemory()
	}
	return orgstore.NewPostgres(db)
}

func (a *App) outcomePublisher(ctx context.Context) (*events.Publisher, error) {
	cfg := a.Config.Kafka
	if len(cfg.Brokers) == 0 {
		a.Logger.Info("kafka not configured, outcome events disabled")
		return nil, nil
	}
	client, err := kafka.NewClient(kafka.Config{Brokers: cfg.Brokers, ClientID: cfg.ClientID})
	if err != nil {
		return nil, err
	}
	a.closers = append(a.closers, func() error {
		flushAndClose(client)
		return nil
	})
	if err := kafka.EnsureTopic(ctx, client, cfg.Topic, outcomeTopicPartitions, -1); err != nil {
		return nil, err
	}
	a.health["kafka"] = func(ctx context.Context) error { return kafka.Health(ctx, client) }
	return events.NewPublisher(client,
		events.WithTopic(cfg.Topic),
		events.WithLogger(a.Logger),
		events.WithMetrics(events.NewMetrics()),
	), nil
}

func flushAndClose(client *kgo.Client) {
	ctx, cancel := context.WithTimeout(context.Background(), flushTimeout)
	defer cancel()
	_ = client.Flush(ctx)
	client.Close()
}

// evidence builds the extractor ports. Providers without a URL stay nil,
// which the engine treats as a failing source.
func (a *App) evidence(signals behavior.Store) decision.Evidence {
	p := a.Config.Providers
	ev := decision.Evidence{Signals: signals}

	var tiers []extraction.Tier
	if c := a.providerClient(providerDocument, p.DocumentURL); c != nil {
		tiers = append(tiers, extraction.Tier{Name: ports.TierStructured, Extractor: adapters.NewStructuredExtractor(c)})
	}
	if c := a.providerClient(providerLLM, p.LLMURL); c != nil {
		tiers = append(tiers, extraction.Tier{Name: ports.TierLLM, Extractor: adapters.NewLLMExtractor(c)})
	}
	if len(tiers) > 0 {
		ev.Documents = extraction.New(tiers, extraction.WithLogger(a.Logger))
	}
	if c := a.providerClient(providerFace, p.FaceURL); c != nil {
		faces := adapters.NewFaceClient(c)
		ev.Faces, ev.Detector, ev.Video, ev.Frames = faces, faces, faces, faces
	}
	if c := a.providerClient(providerSpoof, p.SpoofURL); c != nil {
		ev.Spoof = adapters.NewSpoofClient(c)
	}
	if c := a.providerClient(providerMedia, p.MediaURL); c != nil {
		ev.Media = adapters.NewMediaClient(c)
	}
	return ev
}

func (a *App) providerClient(id, baseURL string) *adapters.Client {
	if baseURL == "" {
		a.Logger.Warn("evidence provider not configured", "provider", id)
		return nil
	}
	p := a.Config.Providers
	return adapters.NewClient(id, baseURL,
		adapters.WithAPIKey(p.APIKey),
		adapters.WithTimeout(p.Timeout),
		adapters.WithRateLimit(p.RatePerSecond, max(1, int(p.RatePerSecond))),
		adapters.WithLogger(a.Logger),
	)
}
