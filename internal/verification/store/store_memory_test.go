package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/suite"

	"idverify/internal/verification/models"
	"idverify/pkg/platform/sentinel"
)

type InMemoryStoreSuite struct {
	suite.Suite
	store *InMemory
	ctx   context.Context
	now   time.Time
}

func TestInMemoryStoreSuite(t *testing.T) {
	suite.Run(t, new(InMemoryStoreSuite))
}

func (s *InMemoryStoreSuite) SetupTest() {
	s.store = NewInMemory()
	s.ctx = context.Background()
	s.now = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
}

func (s *InMemoryStoreSuite) seed(status models.Status) *models.Verification {
	v := &models.Verification{
		ID:             uuid.New(),
		OrganizationID: uuid.New(),
		DocumentType:   models.DocumentTypePassport,
		Status:         status,
		CreatedAt:      s.now,
		UpdatedAt:      s.now,
	}
	s.Require().NoError(s.store.Create(s.ctx, v))
	s.Require().NoError(s.store.PutIdentity(s.ctx, &models.ExtractedIdentity{
		VerificationID:   v.ID,
		DocumentFrontRef: "doc/front.jpg",
	}))
	return v
}

func (s *InMemoryStoreSuite) TestLookups() {
	s.Run("finds created verification", func() {
		v := s.seed(models.StatusDocumentUploaded)
		found, err := s.store.FindByID(s.ctx, v.ID)
		s.Require().NoError(err)
		s.Equal(v.OrganizationID, found.OrganizationID)
	})

	s.Run("returns ErrNotFound for unknown ids", func() {
		_, err := s.store.FindByID(s.ctx, uuid.New())
		s.ErrorIs(err, sentinel.ErrNotFound)
		_, err = s.store.FindIdentity(s.ctx, uuid.New())
		s.ErrorIs(err, sentinel.ErrNotFound)
		_, err = s.store.FindDecision(s.ctx, uuid.New())
		s.ErrorIs(err, sentinel.ErrNotFound)
	})

	s.Run("rejects duplicate create", func() {
		v := s.seed(models.StatusPending)
		s.ErrorIs(s.store.Create(s.ctx, v), sentinel.ErrConflict)
	})
}

func (s *InMemoryStoreSuite) TestTransitionStatus() {
	s.Run("transitions from an allowed status once", func() {
		v := s.seed(models.StatusLivenessUploaded)
		from := []models.Status{models.StatusDocumentUploaded, models.StatusLivenessUploaded}

		s.Require().NoError(s.store.TransitionStatus(s.ctx, v.ID, from, models.StatusProcessing, s.now))
		err := s.store.TransitionStatus(s.ctx, v.ID, from, models.StatusProcessing, s.now)
		s.ErrorIs(err, sentinel.ErrConflict)

		found, err := s.store.FindByID(s.ctx, v.ID)
		s.Require().NoError(err)
		s.Equal(models.StatusProcessing, found.Status)
	})
}

func (s *InMemoryStoreSuite) TestTransactions() {
	s.Run("commit makes writes visible", func() {
		v := s.seed(models.StatusProcessing)
		err := s.store.RunInTx(s.ctx, func(ctx context.Context) error {
			v.ApplyDecision(models.Outcome{Verified: true, MatchScore: 90, RiskLevel: models.RiskLow}, s.now)
			if err := s.store.Update(ctx, v); err != nil {
				return err
			}
			// visible inside the transaction
			inTx, err := s.store.FindByID(ctx, v.ID)
			s.Require().NoError(err)
			s.Equal(models.StatusManualReview, inTx.Status)

			// not visible outside before commit
			outside, err := s.store.FindByID(s.ctx, v.ID)
			s.Require().NoError(err)
			s.Equal(models.StatusProcessing, outside.Status)

			return s.store.UpsertDecision(ctx, &models.DecisionResult{
				VerificationID: v.ID,
				RiskSignals:    models.RiskSignals{Verified: true, Flags: []models.Flag{}},
				CreatedAt:      s.now,
				UpdatedAt:      s.now,
			})
		})
		s.Require().NoError(err)

		found, err := s.store.FindByID(s.ctx, v.ID)
		s.Require().NoError(err)
		s.Equal(models.StatusManualReview, found.Status)
		_, err = s.store.FindDecision(s.ctx, v.ID)
		s.NoError(err)
	})

	s.Run("error discards all writes", func() {
		v := s.seed(models.StatusProcessing)
		boom := errors.New("boom")
		err := s.store.RunInTx(s.ctx, func(ctx context.Context) error {
			v.ApplyFatalRejection(s.now)
			s.Require().NoError(s.store.Update(ctx, v))
			s.Require().NoError(s.store.CoalesceIdentity(ctx, v.ID, models.IdentityFields{FullName: "JANE DOE"}, s.now))
			return boom
		})
		s.ErrorIs(err, boom)

		found, err := s.store.FindByID(s.ctx, v.ID)
		s.Require().NoError(err)
		s.Equal(models.StatusProcessing, found.Status)
		p, err := s.store.FindIdentity(s.ctx, v.ID)
		s.Require().NoError(err)
		s.Nil(p.FullName)
	})
}

func (s *InMemoryStoreSuite) TestCoalesceIdentity() {
	s.Run("keeps confirmed fields", func() {
		v := s.seed(models.StatusProcessing)
		name := "JANE DOE"
		s.Require().NoError(s.store.PutIdentity(s.ctx, &models.ExtractedIdentity{
			VerificationID:  v.ID,
			FullName:        &name,
			ConfirmedFields: map[models.Field]bool{models.FieldFullName: true},
		}))

		err := s.store.CoalesceIdentity(s.ctx, v.ID, models.IdentityFields{FullName: "JOHN ROE", ExpiryDate: "2031-05-01"}, s.now)
		s.Require().NoError(err)

		p, err := s.store.FindIdentity(s.ctx, v.ID)
		s.Require().NoError(err)
		s.Equal("JANE DOE", p.Value(models.FieldFullName))
		s.Equal("2031-05-01", p.Value(models.FieldExpiryDate))
	})
}

func (s *InMemoryStoreSuite) TestUpsertDecisionKeepsCreatedAt() {
	v := s.seed(models.StatusProcessing)
	first := &models.DecisionResult{VerificationID: v.ID, Provider: "a", CreatedAt: s.now, UpdatedAt: s.now}
	s.Require().NoError(s.store.UpsertDecision(s.ctx, first))

	later := s.now.Add(time.Hour)
	second := &models.DecisionResult{VerificationID: v.ID, Provider: "b", CreatedAt: later, UpdatedAt: later}
	s.Require().NoError(s.store.UpsertDecision(s.ctx, second))

	found, err := s.store.FindDecision(s.ctx, v.ID)
	s.Require().NoError(err)
	s.Equal("b", found.Provider)
	s.Equal(s.now, found.CreatedAt)
	s.Equal(later, found.UpdatedAt)
}

func (s *InMemoryStoreSuite) TestAddLivenessFrame() {
	v := s.seed(models.StatusProcessing)

	s.Require().NoError(s.store.AddLivenessFrame(s.ctx, v.ID, "frames/1.jpg", s.now))
	s.Require().NoError(s.store.AddLivenessFrame(s.ctx, v.ID, "frames/1.jpg", s.now))

	p, err := s.store.FindIdentity(s.ctx, v.ID)
	s.Require().NoError(err)
	s.Equal([]string{"frames/1.jpg"}, p.LivenessFrameRefs)
	s.ErrorIs(s.store.AddLivenessFrame(s.ctx, uuid.New(), "x", s.now), sentinel.ErrNotFound)
}
