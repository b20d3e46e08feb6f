//go:build integration

package store_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/suite"

	"idverify/internal/verification/models"
	"idverify/internal/verification/store"
	"idverify/pkg/platform/sentinel"
	"idverify/pkg/testutil/containers"
)

type PostgresStoreSuite struct {
	suite.Suite
	postgres *containers.PostgresContainer
	store    *store.PostgresStore
}

func TestPostgresStoreSuite(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	suite.Run(t, new(PostgresStoreSuite))
}

func (s *PostgresStoreSuite) SetupSuite() {
	s.postgres = containers.NewPostgresContainer(s.T(), "schema.sql")
	s.store = store.NewPostgres(s.postgres.DB)
}

func (s *PostgresStoreSuite) SetupTest() {
	err := s.postgres.TruncateTables(context.Background(), "decision_results", "extracted_identities", "verifications")
	s.Require().NoError(err)
}

func (s *PostgresStoreSuite) seed(ctx context.Context, status models.Status) *models.Verification {
	now := time.Now().UTC().Truncate(time.Microsecond)
	v := &models.Verification{
		ID:             uuid.New(),
		OrganizationID: uuid.New(),
		DocumentType:   models.DocumentTypeNationalID,
		Status:         status,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	s.Require().NoError(s.store.Create(ctx, v))
	s.Require().NoError(s.store.PutIdentity(ctx, &models.ExtractedIdentity{
		VerificationID:   v.ID,
		DocumentFrontRef: "doc/front.jpg",
		UpdatedAt:        now,
	}))
	return v
}

// TestConcurrentClaim verifies that only one of many concurrent
// transitions into processing succeeds.
func (s *PostgresStoreSuite) TestConcurrentClaim() {
	ctx := context.Background()
	v := s.seed(ctx, models.StatusLivenessUploaded)
	from := []models.Status{models.StatusDocumentUploaded, models.StatusLivenessUploaded}

	var wg sync.WaitGroup
	var wins, conflicts atomic.Int32
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := s.store.TransitionStatus(ctx, v.ID, from, models.StatusProcessing, time.Now())
			switch {
			case err == nil:
				wins.Add(1)
			case errors.Is(err, sentinel.ErrConflict):
				conflicts.Add(1)
			}
		}()
	}
	wg.Wait()

	s.Equal(int32(1), wins.Load())
	s.Equal(int32(19), conflicts.Load())
}

// TestDecisionTransaction verifies all decision writes commit or roll back together.
func (s *PostgresStoreSuite) TestDecisionTransaction() {
	ctx := context.Background()

	s.Run("rollback leaves nothing behind", func() {
		v := s.seed(ctx, models.StatusProcessing)
		err := s.store.RunInTx(ctx, func(ctx context.Context) error {
			v.ApplyFatalRejection(time.Now())
			s.Require().NoError(s.store.Update(ctx, v))
			s.Require().NoError(s.store.UpsertDecision(ctx, &models.DecisionResult{
				VerificationID: v.ID,
				Provider:       "test",
				Checks:         map[string]models.Check{},
				RiskSignals:    models.RiskSignals{Flags: []models.Flag{models.FlagLivenessFailed}},
				CreatedAt:      time.Now(),
				UpdatedAt:      time.Now(),
			}))
			return errors.New("abort")
		})
		s.Require().Error(err)

		found, err := s.store.FindByID(ctx, v.ID)
		s.Require().NoError(err)
		s.Equal(models.StatusProcessing, found.Status)
		_, err = s.store.FindDecision(ctx, v.ID)
		s.ErrorIs(err, sentinel.ErrNotFound)
	})

	s.Run("commit persists decision fields", func() {
		v := s.seed(ctx, models.StatusProcessing)
		err := s.store.RunInTx(ctx, func(ctx context.Context) error {
			s.Require().NoError(s.store.CoalesceIdentity(ctx, v.ID, models.IdentityFields{
				FullName:   "JANE DOE",
				ExpiryDate: "2031-01-01",
				Extra:      map[string]string{"nationality": "NLD"},
			}, time.Now()))
			v.ApplyDecision(models.Outcome{MatchScore: 40, RiskLevel: models.RiskHigh, FailureReason: "face_match_too_low"}, time.Now())
			s.Require().NoError(s.store.Update(ctx, v))
			return s.store.UpsertDecision(ctx, &models.DecisionResult{
				VerificationID: v.ID,
				Provider:       "test",
				RawResponses:   map[string]any{"face": map[string]any{"similarity": 40.0}},
				Checks: map[string]models.Check{
					"face_match": {Status: models.CheckFail, Value: 40.0},
				},
				RiskSignals: models.RiskSignals{
					Flags: []models.Flag{models.FlagLivenessFailed, models.FlagFaceMatchBelowThreshold},
				},
				CreatedAt: time.Now(),
				UpdatedAt: time.Now(),
			})
		})
		s.Require().NoError(err)

		found, err := s.store.FindByID(ctx, v.ID)
		s.Require().NoError(err)
		s.Equal(models.StatusRejected, found.Status)
		s.Equal(40, *found.MatchScore)
		s.Equal("face_match_too_low", *found.FailureReason)

		d, err := s.store.FindDecision(ctx, v.ID)
		s.Require().NoError(err)
		s.Equal([]models.Flag{models.FlagLivenessFailed, models.FlagFaceMatchBelowThreshold}, d.RiskSignals.Flags)
		s.Equal(models.CheckFail, d.Checks["face_match"].Status)

		p, err := s.store.FindIdentity(ctx, v.ID)
		s.Require().NoError(err)
		s.Equal("JANE DOE", p.Value(models.FieldFullName))
		s.Equal("NLD", p.ExtractedFields["nationality"])
	})

	s.Run("coalesce honors confirmed fields", func() {
		v := s.seed(ctx, models.StatusProcessing)
		name := "CONFIRMED NAME"
		s.Require().NoError(s.store.PutIdentity(ctx, &models.ExtractedIdentity{
			VerificationID:  v.ID,
			FullName:        &name,
			ConfirmedFields: map[models.Field]bool{models.FieldFullName: true},
			UpdatedAt:       time.Now(),
		}))
		s.Require().NoError(s.store.CoalesceIdentity(ctx, v.ID, models.IdentityFields{FullName: "OCR NAME"}, time.Now()))

		p, err := s.store.FindIdentity(ctx, v.ID)
		s.Require().NoError(err)
		s.Equal("CONFIRMED NAME", p.Value(models.FieldFullName))
	})
}
