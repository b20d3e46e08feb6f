// Package service resolves organization verification rules and webhook
// subscriptions with a short-lived in-process cache.
package service

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/patrickmn/go-cache"

	"idverify/internal/organization/models"
	dErrors "idverify/pkg/domain-errors"
	"idverify/pkg/platform/sentinel"
	"idverify/pkg/requestcontext"
)

// DefaultCacheTTL bounds how stale a rule change can be in a running process.
const DefaultCacheTTL = time.Minute

type Store interface {
	FindRules(ctx context.Context, orgID uuid.UUID) (*models.VerificationRules, error)
	SaveRules(ctx context.Context, r *models.VerificationRules) error
	FindSubscription(ctx context.Context, orgID uuid.UUID) (*models.WebhookSubscription, error)
	SaveSubscription(ctx context.Context, sub *models.WebhookSubscription) error
}

// Service reads organization settings for the decision engine and notifier.
type Service struct {
	store  Store
	cache  *cache.Cache
	ttl    time.Duration
	logger *slog.Logger
}

type Option func(*Service)

func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) {
		s.logger = logger
	}
}

func WithCacheTTL(ttl time.Duration) Option {
	return func(s *Service) {
		s.ttl = ttl
	}
}

func New(store Store, opts ...Option) *Service {
	s := &Service{store: store, ttl: DefaultCacheTTL, logger: slog.Default()}
	for _, opt := range opts {
		opt(s)
	}
	s.cache = cache.New(s.ttl, 2*s.ttl)
	return s
}

func rulesKey(orgID uuid.UUID) string        { return "rules:" + orgID.String() }
func subscriptionKey(orgID uuid.UUID) string { return "webhook:" + orgID.String() }

// Rules returns the effective rule set, applying defaults for anything the
// organization has not configured.
func (s *Service) Rules(ctx context.Context, orgID uuid.UUID) (models.EffectiveRules, error) {
	if cached, ok := s.cache.Get(rulesKey(orgID)); ok {
		return cached.(models.EffectiveRules), nil
	}

	stored, err := s.store.FindRules(ctx, orgID)
	if err != nil && !errors.Is(err, sentinel.ErrNotFound) {
		return models.EffectiveRules{}, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load organization rules")
	}
	effective := stored.Effective()
	s.cache.Set(rulesKey(orgID), effective, cache.DefaultExpiration)
	return effective, nil
}

// Subscription returns the organization's webhook subscription, or nil when
// none is configured.
func (s *Service) Subscription(ctx context.Context, orgID uuid.UUID) (*models.WebhookSubscription, error) {
	if cached, ok := s.cache.Get(subscriptionKey(orgID)); ok {
		return cached.(*models.WebhookSubscription), nil
	}

	sub, err := s.store.FindSubscription(ctx, orgID)
	if err != nil {
		if !errors.Is(err, sentinel.ErrNotFound) {
			return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load webhook subscription")
		}
		sub = nil
	}
	s.cache.Set(subscriptionKey(orgID), sub, cache.DefaultExpiration)
	return sub, nil
}

// SaveRules stores a rule configuration and drops the cached copy.
func (s *Service) SaveRules(ctx context.Context, r *models.VerificationRules) error {
	if r.OrganizationID == uuid.Nil {
		return dErrors.New(dErrors.CodeValidation, "organization_id is required")
	}
	if r.FaceMatchThreshold != nil && (*r.FaceMatchThreshold < 0 || *r.FaceMatchThreshold > 100) {
		return dErrors.New(dErrors.CodeValidation, "face_match_threshold must be between 0 and 100")
	}
	r.UpdatedAt = requestcontext.Now(ctx)
	if err := s.store.SaveRules(ctx, r); err != nil {
		return dErrors.Wrap(err, dErrors.CodeInternal, "failed to save organization rules")
	}
	s.cache.Delete(rulesKey(r.OrganizationID))
	s.logger.InfoContext(ctx, "organization rules updated", "organization_id", r.OrganizationID)
	return nil
}

// SaveSubscription stores a webhook subscription and drops the cached copy.
func (s *Service) SaveSubscription(ctx context.Context, sub *models.WebhookSubscription) error {
	if sub.OrganizationID == uuid.Nil {
		return dErrors.New(dErrors.CodeValidation, "organization_id is required")
	}
	sub.UpdatedAt = requestcontext.Now(ctx)
	if err := s.store.SaveSubscription(ctx, sub); err != nil {
		return dErrors.Wrap(err, dErrors.CodeInternal, "failed to save webhook subscription")
	}
	s.cache.Delete(subscriptionKey(sub.OrganizationID))
	return nil
}
