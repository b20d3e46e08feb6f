package behavior

import (
	"context"
	"time"

	"github.com/google/uuid"

	"idverify/internal/verification/models"
)

// SignalTTL bounds how long telemetry is kept. Capture sessions are decided
// well within a day.
const SignalTTL = 24 * time.Hour

// Store persists the latest telemetry per verification. Save overwrites;
// Get returns (nil, nil) when nothing was recorded or it expired.
type Store interface {
	Save(ctx context.Context, sig *models.BehavioralSignals) error
	Get(ctx context.Context, verificationID uuid.UUID) (*models.BehavioralSignals, error)
}
