package behavior

import (
	"context"
	"maps"
	"time"

	"github.com/google/uuid"
	"github.com/patrickmn/go-cache"

	"idverify/internal/verification/models"
)

// MemoryStore is the single-instance store used when Redis is not configured.
type MemoryStore struct {
	signals *cache.Cache
}

func NewMemoryStore() *MemoryStore {
	return NewMemoryStoreWithTTL(SignalTTL)
}

func NewMemoryStoreWithTTL(ttl time.Duration) *MemoryStore {
	return &MemoryStore{signals: cache.New(ttl, 10*time.Minute)}
}

func (s *MemoryStore) Save(_ context.Context, sig *models.BehavioralSignals) error {
	s.signals.SetDefault(sig.VerificationID.String(), clone(sig))
	return nil
}

func (s *MemoryStore) Get(_ context.Context, verificationID uuid.UUID) (*models.BehavioralSignals, error) {
	v, ok := s.signals.Get(verificationID.String())
	if !ok {
		return nil, nil
	}
	return clone(v.(*models.BehavioralSignals)), nil
}

func clone(sig *models.BehavioralSignals) *models.BehavioralSignals {
	out := *sig
	out.StepRevisits = maps.Clone(sig.StepRevisits)
	out.StepDurationsMs = maps.Clone(sig.StepDurationsMs)
	return &out
}
