package decision

import (
	"context"
	"time"

	"github.com/google/uuid"

	"idverify/internal/events"
	orgmodels "idverify/internal/organization/models"
	"idverify/internal/verification/models"
)

// Store is the slice of the verification store the engine reads and writes.
// Error contract: sentinel.ErrNotFound for missing rows.
type Store interface {
	FindByID(ctx context.Context, id uuid.UUID) (*models.Verification, error)
	FindIdentity(ctx context.Context, verificationID uuid.UUID) (*models.ExtractedIdentity, error)
	Update(ctx context.Context, v *models.Verification) error
	CoalesceIdentity(ctx context.Context, verificationID uuid.UUID, in models.IdentityFields, now time.Time) error
	AddLivenessFrame(ctx context.Context, verificationID uuid.UUID, frameRef string, now time.Time) error
	UpsertDecision(ctx context.Context, d *models.DecisionResult) error
	RunInTx(ctx context.Context, fn func(ctx context.Context) error) error
}

// RulesSource resolves an organization's effective rule set.
type RulesSource interface {
	Rules(ctx context.Context, orgID uuid.UUID) (orgmodels.EffectiveRules, error)
}

// Notifier hands an outcome event to the webhook notifier without waiting.
type Notifier interface {
	Dispatch(ctx context.Context, orgID uuid.UUID, event string, payload map[string]any)
}

// EventPublisher announces committed decisions on the outcome stream.
type EventPublisher interface {
	PublishDecided(ctx context.Context, e events.Decided)
}
