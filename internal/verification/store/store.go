// Package store persists verifications, their PII records and decision results.
//
// Error contract for every implementation:
//   - sentinel.ErrNotFound when the verification (or its PII record) does not exist
//   - sentinel.ErrConflict when a conditional status transition lost
//   - wrapped infrastructure errors otherwise
package store

import (
	"context"
	"time"

	"github.com/google/uuid"

	"idverify/internal/verification/models"
)

// Store is the persistence port for the verification aggregate.
type Store interface {
	Create(ctx context.Context, v *models.Verification) error
	FindByID(ctx context.Context, id uuid.UUID) (*models.Verification, error)
	ListIDsByStatus(ctx context.Context, status models.Status) ([]uuid.UUID, error)
	Update(ctx context.Context, v *models.Verification) error
	TransitionStatus(ctx context.Context, id uuid.UUID, from []models.Status, to models.Status, now time.Time) error

	PutIdentity(ctx context.Context, p *models.ExtractedIdentity) error
	FindIdentity(ctx context.Context, verificationID uuid.UUID) (*models.ExtractedIdentity, error)
	CoalesceIdentity(ctx context.Context, verificationID uuid.UUID, in models.IdentityFields, now time.Time) error
	AddLivenessFrame(ctx context.Context, verificationID uuid.UUID, frameRef string, now time.Time) error

	UpsertDecision(ctx context.Context, d *models.DecisionResult) error
	FindDecision(ctx context.Context, verificationID uuid.UUID) (*models.DecisionResult, error)

	RunInTx(ctx context.Context, fn func(ctx context.Context) error) error
}
