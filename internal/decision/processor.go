package decision

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"idverify/internal/jobqueue"
	"idverify/internal/verification/models"
	dErrors "idverify/pkg/domain-errors"
	"idverify/pkg/platform/sentinel"
	"idverify/pkg/requestcontext"
)

// JobTypeDecide is the queue job type carrying a verification id to decide.
const JobTypeDecide = "verification.decide"

const (
	// ClaimTTL bounds how long a crashed run can block reprocessing.
	ClaimTTL = 15 * time.Minute

	decideMaxAttempts = 3
)

// ProcessStore is the slice of the verification store used to start processing.
type ProcessStore interface {
	FindByID(ctx context.Context, id uuid.UUID) (*models.Verification, error)
	TransitionStatus(ctx context.Context, id uuid.UUID, from []models.Status, to models.Status, now time.Time) error
	ListIDsByStatus(ctx context.Context, status models.Status) ([]uuid.UUID, error)
}

// Claimer grants at most one in-flight decide run per verification.
type Claimer interface {
	Claim(ctx context.Context, verificationID uuid.UUID, ttl time.Duration) (bool, error)
	Release(ctx context.Context, verificationID uuid.UUID) error
}

// Enqueuer hands work to the background job queue.
type Enqueuer interface {
	Enqueue(jobType string, payload any, maxAttempts int) (string, error)
}

// Decider renders a decision for one verification.
type Decider interface {
	Decide(ctx context.Context, verificationID uuid.UUID) error
}

// Processor owns the "ready to process" use case: it moves a verification
// into processing, makes sure only one decide run is in flight and runs the
// queued decide jobs.
type Processor struct {
	store   ProcessStore
	claimer Claimer
	queue   Enqueuer
	decider Decider
	logger  *slog.Logger
}

// NewProcessor creates a Processor.
func NewProcessor(store ProcessStore, claimer Claimer, queue Enqueuer, decider Decider, logger *slog.Logger) *Processor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Processor{
		store:   store,
		claimer: claimer,
		queue:   queue,
		decider: decider,
		logger:  logger,
	}
}

// StartProcessing claims the verification for orgID, moves it to processing
// and enqueues the decide job.
func (p *Processor) StartProcessing(ctx context.Context, orgID, verificationID uuid.UUID) error {
	v, err := p.store.FindByID(ctx, verificationID)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return dErrors.New(dErrors.CodeNotFound, "verification not found")
		}
		return dErrors.Wrap(err, dErrors.CodeInternal, "failed to load verification")
	}
	if !v.BelongsTo(orgID) {
		return dErrors.New(dErrors.CodeForbidden, "verification belongs to another organization")
	}
	if err := v.CanStartProcessing(); err != nil {
		return err
	}

	claimed, err := p.claimer.Claim(ctx, verificationID, ClaimTTL)
	if err != nil {
		return dErrors.Wrap(err, dErrors.CodeInternal, "failed to claim verification")
	}
	if !claimed {
		return dErrors.New(dErrors.CodeConflict, "verification is already being processed")
	}

	err = p.store.TransitionStatus(ctx, verificationID,
		[]models.Status{models.StatusLivenessUploaded, models.StatusDocumentUploaded},
		models.StatusProcessing, requestcontext.Now(ctx))
	if err != nil {
		p.release(ctx, verificationID)
		if errors.Is(err, sentinel.ErrConflict) {
			return dErrors.New(dErrors.CodeConflict, "verification status changed concurrently")
		}
		return dErrors.Wrap(err, dErrors.CodeInternal, "failed to start processing")
	}

	if err := p.enqueue(ctx, verificationID); err != nil {
		// The verification stays in processing; startup recovery re-enqueues it.
		p.release(ctx, verificationID)
		return dErrors.Wrap(err, dErrors.CodeInternal, "failed to enqueue decision")
	}
	return nil
}

// HandleDecideJob is the queue handler for JobTypeDecide. The claim is
// released once the job succeeds or runs out of attempts.
func (p *Processor) HandleDecideJob(ctx context.Context, job jobqueue.Job) error {
	verificationID, ok := job.Payload.(uuid.UUID)
	if !ok {
		p.logger.ErrorContext(ctx, "decide job has unexpected payload",
			"job_id", job.ID,
			"payload_type", fmt.Sprintf("%T", job.Payload),
		)
		return nil
	}

	err := p.decider.Decide(ctx, verificationID)
	switch {
	case err == nil:
	case dErrors.HasCode(err, dErrors.CodeNotFound), dErrors.HasCode(err, dErrors.CodeInvalidState):
		p.logger.WarnContext(ctx, "decide job dropped",
			"job_id", job.ID,
			"verification_id", verificationID,
			"error", err,
		)
		err = nil
	case job.Attempts < job.MaxAttempts:
		return err
	}

	p.release(ctx, verificationID)
	return err
}

// Recover re-enqueues verifications left in processing by a previous
// process. The queue is in-memory, so anything pending at shutdown is lost.
// Verifications whose claim is still held belong to a live run on another
// instance and are left alone; a claim orphaned by a crash expires after
// ClaimTTL and is picked up by the next recovery.
func (p *Processor) Recover(ctx context.Context) (int, error) {
	ids, err := p.store.ListIDsByStatus(ctx, models.StatusProcessing)
	if err != nil {
		return 0, fmt.Errorf("list processing verifications: %w", err)
	}

	recovered := 0
	for _, id := range ids {
		claimed, err := p.claimer.Claim(ctx, id, ClaimTTL)
		if err != nil {
			p.logger.WarnContext(ctx, "failed to claim verification during recovery",
				"verification_id", id,
				"error", err,
			)
		} else if !claimed {
			p.logger.InfoContext(ctx, "verification claimed elsewhere, not recovering",
				"verification_id", id,
			)
			continue
		}
		if err := p.enqueue(ctx, id); err != nil {
			return recovered, err
		}
		recovered++
	}
	if recovered > 0 {
		p.logger.InfoContext(ctx, "re-enqueued processing verifications", "count", recovered)
	}
	return recovered, nil
}

func (p *Processor) enqueue(ctx context.Context, verificationID uuid.UUID) error {
	jobID, err := p.queue.Enqueue(JobTypeDecide, verificationID, decideMaxAttempts)
	if err != nil {
		return fmt.Errorf("enqueue decide job: %w", err)
	}
	p.logger.InfoContext(ctx, "decide job enqueued",
		"job_id", jobID,
		"verification_id", verificationID,
	)
	return nil
}

func (p *Processor) release(ctx context.Context, verificationID uuid.UUID) {
	if err := p.claimer.Release(ctx, verificationID); err != nil {
		p.logger.WarnContext(ctx, "failed to release verification claim",
			"verification_id", verificationID,
			"error", err,
		)
	}
}
