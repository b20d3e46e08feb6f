package store

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"

	"idverify/internal/verification/models"
	"idverify/pkg/platform/sentinel"
)

// InMemory is a Store for tests and local development. Writes made inside
// RunInTx are buffered and become visible to other callers only on commit.
type InMemory struct {
	mu            sync.RWMutex
	txMu          sync.Mutex
	verifications map[uuid.UUID]models.Verification
	identities    map[uuid.UUID]models.ExtractedIdentity
	decisions     map[uuid.UUID]models.DecisionResult
}

type memTx struct {
	verifications map[uuid.UUID]models.Verification
	identities    map[uuid.UUID]models.ExtractedIdentity
	decisions     map[uuid.UUID]models.DecisionResult
}

type memTxKey struct{}

// NewInMemory constructs an empty in-memory store.
func NewInMemory() *InMemory {
	return &InMemory{
		verifications: make(map[uuid.UUID]models.Verification),
		identities:    make(map[uuid.UUID]models.ExtractedIdentity),
		decisions:     make(map[uuid.UUID]models.DecisionResult),
	}
}

func txFrom(ctx context.Context) *memTx {
	t, _ := ctx.Value(memTxKey{}).(*memTx)
	return t
}

// RunInTx runs fn with buffered writes. Transactions are serialized.
func (s *InMemory) RunInTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if txFrom(ctx) != nil {
		return fn(ctx)
	}
	s.txMu.Lock()
	defer s.txMu.Unlock()

	t := &memTx{
		verifications: make(map[uuid.UUID]models.Verification),
		identities:    make(map[uuid.UUID]models.ExtractedIdentity),
		decisions:     make(map[uuid.UUID]models.DecisionResult),
	}
	if err := fn(context.WithValue(ctx, memTxKey{}, t)); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for k, v := range t.verifications {
		s.verifications[k] = v
	}
	for k, v := range t.identities {
		s.identities[k] = v
	}
	for k, v := range t.decisions {
		s.decisions[k] = v
	}
	return nil
}

func (s *InMemory) Create(ctx context.Context, v *models.Verification) error {
	if _, err := s.FindByID(ctx, v.ID); err == nil {
		return fmt.Errorf("verification %s already exists: %w", v.ID, sentinel.ErrConflict)
	}
	s.putVerification(ctx, *v)
	return nil
}

func (s *InMemory) FindByID(ctx context.Context, id uuid.UUID) (*models.Verification, error) {
	if t := txFrom(ctx); t != nil {
		if v, ok := t.verifications[id]; ok {
			return &v, nil
		}
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.verifications[id]
	if !ok {
		return nil, fmt.Errorf("verification %s: %w", id, sentinel.ErrNotFound)
	}
	return &v, nil
}

func (s *InMemory) ListIDsByStatus(_ context.Context, status models.Status) ([]uuid.UUID, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var ids []uuid.UUID
	for id, v := range s.verifications {
		if v.Status == status {
			ids = append(ids, id)
		}
	}
	return ids, nil
}

func (s *InMemory) Update(ctx context.Context, v *models.Verification) error {
	if _, err := s.FindByID(ctx, v.ID); err != nil {
		return err
	}
	s.putVerification(ctx, *v)
	return nil
}

func (s *InMemory) TransitionStatus(ctx context.Context, id uuid.UUID, from []models.Status, to models.Status, now time.Time) error {
	// Check and set must be atomic with respect to other transitions.
	if txFrom(ctx) == nil {
		s.mu.Lock()
		defer s.mu.Unlock()
		v, ok := s.verifications[id]
		if !ok {
			return fmt.Errorf("verification %s: %w", id, sentinel.ErrNotFound)
		}
		if !slices.Contains(from, v.Status) {
			return fmt.Errorf("verification %s in status %s: %w", id, v.Status, sentinel.ErrConflict)
		}
		v.Status = to
		v.UpdatedAt = now
		s.verifications[id] = v
		return nil
	}

	v, err := s.FindByID(ctx, id)
	if err != nil {
		return err
	}
	if !slices.Contains(from, v.Status) {
		return fmt.Errorf("verification %s in status %s: %w", id, v.Status, sentinel.ErrConflict)
	}
	v.Status = to
	v.UpdatedAt = now
	s.putVerification(ctx, *v)
	return nil
}

func (s *InMemory) PutIdentity(ctx context.Context, p *models.ExtractedIdentity) error {
	cp := cloneIdentity(*p)
	if t := txFrom(ctx); t != nil {
		t.identities[p.VerificationID] = cp
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.identities[p.VerificationID] = cp
	return nil
}

func (s *InMemory) FindIdentity(ctx context.Context, verificationID uuid.UUID) (*models.ExtractedIdentity, error) {
	if t := txFrom(ctx); t != nil {
		if p, ok := t.identities[verificationID]; ok {
			cp := cloneIdentity(p)
			return &cp, nil
		}
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.identities[verificationID]
	if !ok {
		return nil, fmt.Errorf("identity for %s: %w", verificationID, sentinel.ErrNotFound)
	}
	cp := cloneIdentity(p)
	return &cp, nil
}

func (s *InMemory) CoalesceIdentity(ctx context.Context, verificationID uuid.UUID, in models.IdentityFields, now time.Time) error {
	p, err := s.FindIdentity(ctx, verificationID)
	if err != nil {
		return err
	}
	p.Coalesce(in, now)
	return s.PutIdentity(ctx, p)
}

func (s *InMemory) AddLivenessFrame(ctx context.Context, verificationID uuid.UUID, frameRef string, now time.Time) error {
	p, err := s.FindIdentity(ctx, verificationID)
	if err != nil {
		return err
	}
	if slices.Contains(p.LivenessFrameRefs, frameRef) {
		return nil
	}
	p.LivenessFrameRefs = append(p.LivenessFrameRefs, frameRef)
	p.UpdatedAt = now
	return s.PutIdentity(ctx, p)
}

func (s *InMemory) UpsertDecision(ctx context.Context, d *models.DecisionResult) error {
	row := *d
	if prev, err := s.FindDecision(ctx, d.VerificationID); err == nil {
		row.CreatedAt = prev.CreatedAt
	}
	if t := txFrom(ctx); t != nil {
		t.decisions[d.VerificationID] = row
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.decisions[d.VerificationID] = row
	return nil
}

func (s *InMemory) FindDecision(ctx context.Context, verificationID uuid.UUID) (*models.DecisionResult, error) {
	if t := txFrom(ctx); t != nil {
		if d, ok := t.decisions[verificationID]; ok {
			return &d, nil
		}
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	d, ok := s.decisions[verificationID]
	if !ok {
		return nil, fmt.Errorf("decision for %s: %w", verificationID, sentinel.ErrNotFound)
	}
	return &d, nil
}

func (s *InMemory) putVerification(ctx context.Context, v models.Verification) {
	if t := txFrom(ctx); t != nil {
		t.verifications[v.ID] = v
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.verifications[v.ID] = v
}

func cloneIdentity(p models.ExtractedIdentity) models.ExtractedIdentity {
	p.LivenessFrameRefs = slices.Clone(p.LivenessFrameRefs)
	if p.ExtractedFields != nil {
		fields := make(map[string]string, len(p.ExtractedFields))
		for k, v := range p.ExtractedFields {
			fields[k] = v
		}
		p.ExtractedFields = fields
	}
	if p.ConfirmedFields != nil {
		confirmed := make(map[models.Field]bool, len(p.ConfirmedFields))
		for k, v := range p.ConfirmedFields {
			confirmed[k] = v
		}
		p.ConfirmedFields = confirmed
	}
	return p
}
