package behavior

import (
	"context"
	"errors"
	"log/slog"

	"github.com/google/uuid"

	"idverify/internal/verification/models"
	dErrors "idverify/pkg/domain-errors"
	"idverify/pkg/platform/sentinel"
	"idverify/pkg/requestcontext"
)

// VerificationLookup is the read side of the verification store the
// service needs for ownership checks.
type VerificationLookup interface {
	FindByID(ctx context.Context, id uuid.UUID) (*models.Verification, error)
}

// Service records capture telemetry for verifications still being captured.
type Service struct {
	verifications VerificationLookup
	store         Store
	logger        *slog.Logger
}

// Option configures a Service.
type Option func(*Service)

func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) {
		if logger != nil {
			s.logger = logger
		}
	}
}

func NewService(verifications VerificationLookup, store Store, opts ...Option) *Service {
	s := &Service{
		verifications: verifications,
		store:         store,
		logger:        slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// RecordSignals stores sig for its verification, replacing earlier
// telemetry. The device is derived from userAgent. Telemetry is refused
// once the verification has entered processing.
func (s *Service) RecordSignals(ctx context.Context, orgID uuid.UUID, sig *models.BehavioralSignals, userAgent string) error {
	v, err := s.verifications.FindByID(ctx, sig.VerificationID)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return dErrors.New(dErrors.CodeNotFound, "verification not found")
		}
		return dErrors.Wrap(err, dErrors.CodeInternal, "failed to load verification")
	}
	if !v.BelongsTo(orgID) {
		return dErrors.New(dErrors.CodeForbidden, "verification belongs to another organization")
	}
	if v.Status == models.StatusProcessing || v.Status.IsTerminal() {
		return dErrors.New(dErrors.CodeInvalidState, "signals cannot be recorded in status "+string(v.Status))
	}

	sig.Device = ClassifyDevice(userAgent)
	sig.RecordedAt = requestcontext.Now(ctx)
	if err := s.store.Save(ctx, sig); err != nil {
		return dErrors.Wrap(err, dErrors.CodeInternal, "failed to save signals")
	}

	s.logger.InfoContext(ctx, "behavioral signals recorded",
		"verification_id", sig.VerificationID,
		"organization_id", orgID,
		"device", DisplayName(sig.Device),
		"bot", sig.Device.Bot,
	)
	return nil
}
