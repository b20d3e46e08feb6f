package decision

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"idverify/internal/decision/metrics"
	"idverify/internal/decision/ports"
	"idverify/internal/events"
	orgmodels "idverify/internal/organization/models"
	"idverify/internal/verification/models"
	dErrors "idverify/pkg/domain-errors"
	"idverify/pkg/platform/sentinel"
	"idverify/pkg/requestcontext"
)

// DefaultProvider tags decision results produced by this engine.
const DefaultProvider = "idverify"

// Service is the decision engine. It fuses extractor evidence and
// organization rules into a terminal verification outcome, persists it in
// one transaction and announces it after commit.
//
// Decide runs sequentially; callers guarantee at most one run per
// verification at a time.
type Service struct {
	store    Store
	rules    RulesSource
	evidence Evidence
	notifier Notifier
	events   EventPublisher
	logger   *slog.Logger
	metrics  *metrics.Metrics
	tracer   trace.Tracer
	provider string
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

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) { s.metrics = m }
}

// WithNotifier sets the webhook notifier outcomes are dispatched to.
func WithNotifier(n Notifier) Option {
	return func(s *Service) { s.notifier = n }
}

// WithEventPublisher sets the outcome stream publisher.
func WithEventPublisher(p EventPublisher) Option {
	return func(s *Service) { s.events = p }
}

func WithTracer(t trace.Tracer) Option {
	return func(s *Service) {
		if t != nil {
			s.tracer = t
		}
	}
}

func WithProvider(tag string) Option {
	return func(s *Service) {
		if tag != "" {
			s.provider = tag
		}
	}
}

// New creates a decision engine.
func New(store Store, rules RulesSource, evidence Evidence, opts ...Option) *Service {
	s := &Service{
		store:    store,
		rules:    rules,
		evidence: evidence,
		logger:   slog.Default(),
		tracer:   otel.Tracer("idverify/decision"),
		provider: DefaultProvider,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Decide renders and persists the outcome of one verification.
//
// Extractor failures never abort the run; they become failing or unknown
// checks. Any other failure after the verification is loaded forces it to
// rejected with score 0 and high risk, and the outcome is still announced.
// Decide only returns an error when the verification cannot be loaded, was
// already reviewed by a human, or the forced rejection itself could not be
// written.
func (s *Service) Decide(ctx context.Context, verificationID uuid.UUID) error {
	start := time.Now()
	ctx, span := s.tracer.Start(ctx, "decision.Decide",
		trace.WithAttributes(attribute.String("verification.id", verificationID.String())))
	defer span.End()
	defer func() { s.metrics.ObserveDecideLatency(time.Since(start)) }()

	v, err := s.store.FindByID(ctx, verificationID)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return dErrors.New(dErrors.CodeNotFound, "verification not found")
		}
		return dErrors.Wrap(err, dErrors.CodeInternal, "failed to load verification")
	}
	if err := v.CanApplyDecision(); err != nil {
		return err
	}
	span.SetAttributes(attribute.String("organization.id", v.OrganizationID.String()))

	result, err := s.decide(ctx, v)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "decide failed")
		return s.rejectAfterFailure(ctx, v, err)
	}

	span.SetAttributes(
		attribute.String("verification.status", string(v.Status)),
		attribute.Bool("decision.verified", result.RiskSignals.Verified),
	)
	s.announce(ctx, v, result)
	return nil
}

// decide gathers evidence, aggregates it and commits the outcome. v is
// updated only after a successful commit.
func (s *Service) decide(ctx context.Context, v *models.Verification) (result *models.DecisionResult, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("decide panicked: %v", rec)
		}
	}()

	r, err := s.load(ctx, v)
	if err != nil {
		return nil, err
	}

	s.loadSignals(ctx, r)
	s.extractDocument(ctx, r)
	s.runInformationalChecks(ctx, r)
	s.assessLiveness(ctx, r)
	s.checkSpoof(ctx, r)
	s.checkBehavior(r)
	s.checkExpiry(r)

	verdict := Aggregate(r.assessment)
	result = r.result(verdict, s.provider)
	decided := *v
	decided.ApplyDecision(verdict.Outcome(), r.now)

	err = s.store.RunInTx(ctx, func(ctx context.Context) error {
		if r.doc != nil {
			if err := s.store.CoalesceIdentity(ctx, v.ID, identityFields(r.doc), r.now); err != nil {
				return fmt.Errorf("coalesce identity: %w", err)
			}
		}
		if r.frameRef != "" {
			if err := s.store.AddLivenessFrame(ctx, v.ID, r.frameRef, r.now); err != nil {
				return fmt.Errorf("record liveness frame: %w", err)
			}
		}
		if err := s.store.UpsertDecision(ctx, result); err != nil {
			return fmt.Errorf("upsert decision: %w", err)
		}
		if err := s.store.Update(ctx, &decided); err != nil {
			return fmt.Errorf("update verification: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to persist decision")
	}

	*v = decided
	return result, nil
}

// load reads the PII record and rules. A missing PII record is treated as
// a verification without media.
func (s *Service) load(ctx context.Context, v *models.Verification) (*run, error) {
	identity, err := s.store.FindIdentity(ctx, v.ID)
	if err != nil {
		if !errors.Is(err, sentinel.ErrNotFound) {
			return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load identity")
		}
		identity = &models.ExtractedIdentity{VerificationID: v.ID}
	}

	rules, err := s.rules.Rules(ctx, v.OrganizationID)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load organization rules")
	}
	return newRun(v, identity, rules, requestcontext.Now(ctx)), nil
}

// rejectAfterFailure is the catch-all path: the verification must never be
// left in processing.
func (s *Service) rejectAfterFailure(ctx context.Context, v *models.Verification, cause error) error {
	s.metrics.IncrementFatal()
	s.logger.ErrorContext(ctx, "decision failed, forcing rejection",
		"verification_id", v.ID,
		"organization_id", v.OrganizationID,
		"error", cause,
	)

	v.ApplyFatalRejection(requestcontext.Now(ctx))
	if err := s.store.Update(ctx, v); err != nil {
		s.logger.ErrorContext(ctx, "failed to persist forced rejection",
			"verification_id", v.ID,
			"error", err,
		)
		return dErrors.Wrap(errors.Join(cause, err), dErrors.CodeInternal, "failed to persist forced rejection")
	}
	s.announce(ctx, v, nil)
	return nil
}

// announce dispatches the outcome webhook and event. Neither can fail the
// decision; both run after the commit.
func (s *Service) announce(ctx context.Context, v *models.Verification, result *models.DecisionResult) {
	event := orgmodels.EventVerificationRejected
	if v.Status == models.StatusManualReview {
		event = orgmodels.EventManualReviewRequired
	}

	risk := ""
	if v.RiskLevel != nil {
		risk = string(*v.RiskLevel)
	}
	s.metrics.IncrementOutcome(string(v.Status), risk)
	s.logger.InfoContext(ctx, "verification decided",
		"verification_id", v.ID,
		"organization_id", v.OrganizationID,
		"status", v.Status,
		"risk_level", risk,
		"event", event,
	)

	if s.notifier != nil {
		s.notifier.Dispatch(ctx, v.OrganizationID, event, webhookPayload(v, result))
	}
	if s.events != nil {
		s.events.PublishDecided(ctx, decidedEvent(v, result))
	}
}

func webhookPayload(v *models.Verification, result *models.DecisionResult) map[string]any {
	payload := map[string]any{
		"verificationId":     v.ID.String(),
		"verificationStatus": string(v.Status),
	}
	if v.MatchScore != nil {
		payload["matchScore"] = *v.MatchScore
	}
	if v.RiskLevel != nil {
		payload["riskLevel"] = string(*v.RiskLevel)
	}
	if v.FailureReason != nil {
		payload["failureReason"] = *v.FailureReason
	}
	if result != nil {
		payload["checks"] = result.Checks
		payload["riskSignals"] = result.RiskSignals
	}
	return payload
}

func decidedEvent(v *models.Verification, result *models.DecisionResult) events.Decided {
	e := events.Decided{
		VerificationID: v.ID.String(),
		OrganizationID: v.OrganizationID.String(),
		Status:         string(v.Status),
		MatchScore:     v.MatchScore,
		FailureReason:  v.FailureReason,
		DecidedAt:      v.UpdatedAt,
	}
	if v.RiskLevel != nil {
		risk := string(*v.RiskLevel)
		e.RiskLevel = &risk
	}
	if result != nil {
		for _, f := range result.RiskSignals.Flags {
			e.Flags = append(e.Flags, string(f))
		}
	}
	return e
}

// identityFields maps an extraction onto the PII coalesce input. The
// issue date has no column of its own and goes to the free-form fields.
func identityFields(doc *ports.ExtractedDocument) models.IdentityFields {
	extra := make(map[string]string, len(doc.Fields)+1)
	for k, v := range doc.Fields {
		extra[k] = v
	}
	if doc.IssueDate != "" {
		extra["issue_date"] = doc.IssueDate
	}
	return models.IdentityFields{
		FullName:    doc.FullName,
		DateOfBirth: doc.DateOfBirth,
		IDNumber:    doc.IDNumber,
		Address:     doc.Address,
		ExpiryDate:  doc.ExpiryDate,
		Extra:       extra,
	}
}

// result builds the decision record of a run.
func (r *run) result(v Verdict, provider string) *models.DecisionResult {
	signals := r.detail
	signals["match_score"] = v.MatchScore
	signals["failed_informational_checks"] = r.assessment.FailedInformational
	return &models.DecisionResult{
		VerificationID: r.v.ID,
		Provider:       provider,
		RawResponses:   r.raw,
		Checks:         r.checks,
		RiskSignals: models.RiskSignals{
			Verified: v.Verified,
			Flags:    v.Flags,
			Signals:  signals,
		},
		CreatedAt: r.now,
		UpdatedAt: r.now,
	}
}
