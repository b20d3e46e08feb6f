package decision

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/suite"

	"idverify/internal/decision/adapters"
	"idverify/internal/jobqueue"
	"idverify/internal/verification/models"
	vstore "idverify/internal/verification/store"
	dErrors "idverify/pkg/domain-errors"
)

type enqueued struct {
	jobType     string
	payload     any
	maxAttempts int
}

type recordingQueue struct {
	jobs []enqueued
	err  error
}

func (q *recordingQueue) Enqueue(jobType string, payload any, maxAttempts int) (string, error) {
	if q.err != nil {
		return "", q.err
	}
	q.jobs = append(q.jobs, enqueued{jobType: jobType, payload: payload, maxAttempts: maxAttempts})
	return "job-1", nil
}

type stubDecider struct {
	err   error
	calls []uuid.UUID
}

func (d *stubDecider) Decide(_ context.Context, id uuid.UUID) error {
	d.calls = append(d.calls, id)
	return d.err
}

type ProcessorSuite struct {
	suite.Suite
	ctx       context.Context
	store     *vstore.InMemory
	claimer   *adapters.MemoryClaimer
	queue     *recordingQueue
	decider   *stubDecider
	processor *Processor
	orgID     uuid.UUID
}

func TestProcessorSuite(t *testing.T) {
	suite.Run(t, new(ProcessorSuite))
}

func (s *ProcessorSuite) SetupTest() {
	s.ctx = context.Background()
	s.store = vstore.NewInMemory()
	s.claimer = adapters.NewMemoryClaimer()
	s.queue = &recordingQueue{}
	s.decider = &stubDecider{}
	s.orgID = uuid.New()
	s.processor = NewProcessor(s.store, s.claimer, s.queue, s.decider,
		slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func (s *ProcessorSuite) seed(status models.Status) uuid.UUID {
	id := uuid.New()
	s.Require().NoError(s.store.Create(s.ctx, &models.Verification{
		ID:             id,
		OrganizationID: s.orgID,
		DocumentType:   models.DocumentTypeNationalID,
		Status:         status,
		CreatedAt:      time.Now(),
		UpdatedAt:      time.Now(),
	}))
	return id
}

func (s *ProcessorSuite) status(id uuid.UUID) models.Status {
	v, err := s.store.FindByID(s.ctx, id)
	s.Require().NoError(err)
	return v.Status
}

// =============================================================================
// StartProcessing Tests
// =============================================================================

func (s *ProcessorSuite) TestStartProcessing() {
	s.Run("uploaded verification moves to processing and is enqueued", func() {
		s.SetupTest()
		id := s.seed(models.StatusLivenessUploaded)

		s.Require().NoError(s.processor.StartProcessing(s.ctx, s.orgID, id))

		s.Equal(models.StatusProcessing, s.status(id))
		s.Require().Len(s.queue.jobs, 1)
		s.Equal(JobTypeDecide, s.queue.jobs[0].jobType)
		s.Equal(id, s.queue.jobs[0].payload)
		s.Equal(decideMaxAttempts, s.queue.jobs[0].maxAttempts)
	})

	s.Run("document-only verification can be processed", func() {
		s.SetupTest()
		id := s.seed(models.StatusDocumentUploaded)
		s.Require().NoError(s.processor.StartProcessing(s.ctx, s.orgID, id))
		s.Equal(models.StatusProcessing, s.status(id))
	})

	s.Run("unknown verification is not found", func() {
		s.SetupTest()
		err := s.processor.StartProcessing(s.ctx, s.orgID, uuid.New())
		s.True(dErrors.HasCode(err, dErrors.CodeNotFound))
	})

	s.Run("another organization's verification is forbidden", func() {
		s.SetupTest()
		id := s.seed(models.StatusLivenessUploaded)
		err := s.processor.StartProcessing(s.ctx, uuid.New(), id)
		s.True(dErrors.HasCode(err, dErrors.CodeForbidden))
		s.Equal(models.StatusLivenessUploaded, s.status(id))
	})

	s.Run("pending verification cannot be processed", func() {
		s.SetupTest()
		id := s.seed(models.StatusPending)
		err := s.processor.StartProcessing(s.ctx, s.orgID, id)
		s.True(dErrors.HasCode(err, dErrors.CodeInvalidState))
		s.Empty(s.queue.jobs)
	})

	s.Run("second request while processing conflicts", func() {
		s.SetupTest()
		id := s.seed(models.StatusLivenessUploaded)
		s.Require().NoError(s.processor.StartProcessing(s.ctx, s.orgID, id))

		err := s.processor.StartProcessing(s.ctx, s.orgID, id)
		s.Require().Error(err)
		s.Equal(409, dErrors.ToHTTPStatus(dErrors.CodeOf(err)))
		s.Len(s.queue.jobs, 1)
	})

	s.Run("held claim conflicts", func() {
		s.SetupTest()
		id := s.seed(models.StatusLivenessUploaded)
		ok, err := s.claimer.Claim(s.ctx, id, time.Minute)
		s.Require().NoError(err)
		s.Require().True(ok)

		err = s.processor.StartProcessing(s.ctx, s.orgID, id)
		s.True(dErrors.HasCode(err, dErrors.CodeConflict))
		s.Equal(models.StatusLivenessUploaded, s.status(id))
	})

	s.Run("enqueue failure releases the claim", func() {
		s.SetupTest()
		s.queue.err = jobqueue.ErrQueueStopped
		id := s.seed(models.StatusLivenessUploaded)

		err := s.processor.StartProcessing(s.ctx, s.orgID, id)
		s.True(dErrors.HasCode(err, dErrors.CodeInternal))

		ok, err := s.claimer.Claim(s.ctx, id, time.Minute)
		s.Require().NoError(err)
		s.True(ok)
	})
}

// =============================================================================
// HandleDecideJob Tests
// =============================================================================

func (s *ProcessorSuite) TestHandleDecideJob() {
	claimed := func(id uuid.UUID) bool {
		ok, err := s.claimer.Claim(s.ctx, id, time.Minute)
		s.Require().NoError(err)
		if ok {
			s.Require().NoError(s.claimer.Release(s.ctx, id))
		}
		return !ok
	}

	s.Run("success releases the claim", func() {
		s.SetupTest()
		id := s.seed(models.StatusProcessing)
		_, _ = s.claimer.Claim(s.ctx, id, time.Minute)

		err := s.processor.HandleDecideJob(s.ctx, jobqueue.Job{Payload: id, Attempts: 1, MaxAttempts: 3})
		s.NoError(err)
		s.Equal([]uuid.UUID{id}, s.decider.calls)
		s.False(claimed(id))
	})

	s.Run("transient failure keeps the claim for the retry", func() {
		s.SetupTest()
		s.decider.err = errors.New("db down")
		id := s.seed(models.StatusProcessing)
		_, _ = s.claimer.Claim(s.ctx, id, time.Minute)

		err := s.processor.HandleDecideJob(s.ctx, jobqueue.Job{Payload: id, Attempts: 1, MaxAttempts: 3})
		s.Error(err)
		s.True(claimed(id))
	})

	s.Run("last attempt releases the claim", func() {
		s.SetupTest()
		s.decider.err = errors.New("db down")
		id := s.seed(models.StatusProcessing)
		_, _ = s.claimer.Claim(s.ctx, id, time.Minute)

		err := s.processor.HandleDecideJob(s.ctx, jobqueue.Job{Payload: id, Attempts: 3, MaxAttempts: 3})
		s.Error(err)
		s.False(claimed(id))
	})

	s.Run("permanent domain errors are not retried", func() {
		s.SetupTest()
		s.decider.err = dErrors.New(dErrors.CodeInvalidState, "verification was already reviewed")
		err := s.processor.HandleDecideJob(s.ctx, jobqueue.Job{Payload: uuid.New(), Attempts: 1, MaxAttempts: 3})
		s.NoError(err)
	})

	s.Run("malformed payload is dropped", func() {
		s.SetupTest()
		err := s.processor.HandleDecideJob(s.ctx, jobqueue.Job{Payload: "not-a-uuid", Attempts: 1, MaxAttempts: 3})
		s.NoError(err)
		s.Empty(s.decider.calls)
	})
}

func (s *ProcessorSuite) TestRecover() {
	stuck := s.seed(models.StatusProcessing)
	s.seed(models.StatusManualReview)
	s.seed(models.StatusLivenessUploaded)

	n, err := s.processor.Recover(s.ctx)
	s.Require().NoError(err)
	s.Equal(1, n)
	s.Require().Len(s.queue.jobs, 1)
	s.Equal(stuck, s.queue.jobs[0].payload)
}

func (s *ProcessorSuite) TestRecoverSkipsLiveClaims() {
	running := s.seed(models.StatusProcessing)
	orphaned := s.seed(models.StatusProcessing)
	ok, err := s.claimer.Claim(s.ctx, running, time.Minute)
	s.Require().NoError(err)
	s.Require().True(ok)

	n, err := s.processor.Recover(s.ctx)
	s.Require().NoError(err)
	s.Equal(1, n)
	s.Require().Len(s.queue.jobs, 1)
	s.Equal(orphaned, s.queue.jobs[0].payload)
}
