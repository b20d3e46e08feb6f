package decision

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/suite"

	"idverify/internal/decision/ports"
	"idverify/internal/decision/validation"
	"idverify/internal/events"
	orgmodels "idverify/internal/organization/models"
	"idverify/internal/verification/models"
	vstore "idverify/internal/verification/store"
	dErrors "idverify/pkg/domain-errors"
	"idverify/pkg/requestcontext"
)

// =============================================================================
// Test doubles
// =============================================================================

type stubDocuments struct {
	doc *ports.ExtractedDocument
	err error
}

func (s *stubDocuments) Extract(context.Context, string, models.DocumentType) (*ports.ExtractedDocument, error) {
	if s.err != nil {
		return nil, s.err
	}
	cp := *s.doc
	return &cp, nil
}

type stubFaces struct {
	similarity float64
	err        error
	refs       []string
}

func (s *stubFaces) Compare(_ context.Context, refA, refB string, threshold int) (*ports.FaceComparison, error) {
	s.refs = append(s.refs, refB)
	if s.err != nil {
		return nil, s.err
	}
	return &ports.FaceComparison{
		Similarity: s.similarity,
		IsMatch:    s.similarity >= float64(threshold),
		Confidence: 0.9,
	}, nil
}

type stubDetector struct {
	faces int
	err   error
}

func (s *stubDetector) DetectFaces(context.Context, string) (int, error) { return s.faces, s.err }

type stubVideo struct {
	samples []ports.FaceSample
	err     error
}

func (s *stubVideo) SampleFaces(context.Context, string) ([]ports.FaceSample, error) {
	return s.samples, s.err
}

type stubFrames struct {
	ref string
	err error
}

func (s *stubFrames) ExtractFrame(context.Context, string) (string, error) { return s.ref, s.err }

type stubSpoof struct {
	score int
	err   error
}

func (s *stubSpoof) Analyze(context.Context, []string) (*ports.SpoofAnalysis, error) {
	if s.err != nil {
		return nil, s.err
	}
	return &ports.SpoofAnalysis{RiskScore: s.score, Signals: []string{"moire_pattern"}}, nil
}

type stubSignals struct {
	sig *models.BehavioralSignals
	err error
}

func (s *stubSignals) Get(context.Context, uuid.UUID) (*models.BehavioralSignals, error) {
	return s.sig, s.err
}

type stubRules struct {
	rules orgmodels.EffectiveRules
	err   error
}

func (s *stubRules) Rules(context.Context, uuid.UUID) (orgmodels.EffectiveRules, error) {
	return s.rules, s.err
}

type dispatch struct {
	orgID   uuid.UUID
	event   string
	payload map[string]any
}

type recordingNotifier struct {
	mu    sync.Mutex
	calls []dispatch
}

func (n *recordingNotifier) Dispatch(_ context.Context, orgID uuid.UUID, event string, payload map[string]any) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.calls = append(n.calls, dispatch{orgID: orgID, event: event, payload: payload})
}

type recordingEvents struct {
	published []events.Decided
}

func (p *recordingEvents) PublishDecided(_ context.Context, e events.Decided) {
	p.published = append(p.published, e)
}

// failingStore fails the decision upsert inside the transaction.
type failingStore struct {
	*vstore.InMemory
	upsertErr error
}

func (s *failingStore) UpsertDecision(ctx context.Context, d *models.DecisionResult) error {
	if s.upsertErr != nil {
		return s.upsertErr
	}
	return s.InMemory.UpsertDecision(ctx, d)
}

type panickingDocuments struct{}

func (panickingDocuments) Extract(context.Context, string, models.DocumentType) (*ports.ExtractedDocument, error) {
	panic("extractor bug")
}

// =============================================================================
// Decide Test Suite
// =============================================================================

type DecideSuite struct {
	suite.Suite
	ctx      context.Context
	now      time.Time
	store    *failingStore
	rules    *stubRules
	docs     *stubDocuments
	faces    *stubFaces
	detector *stubDetector
	video    *stubVideo
	frames   *stubFrames
	spoof    *stubSpoof
	signals  *stubSignals
	notifier *recordingNotifier
	events   *recordingEvents
	orgID    uuid.UUID
}

func TestDecideSuite(t *testing.T) {
	suite.Run(t, new(DecideSuite))
}

func (s *DecideSuite) SetupTest() {
	s.now = time.Date(2026, 3, 14, 9, 30, 0, 0, time.UTC)
	s.ctx = requestcontext.WithTime(context.Background(), s.now)
	s.store = &failingStore{InMemory: vstore.NewInMemory()}
	s.orgID = uuid.New()

	rules := orgmodels.DefaultRules()
	rules.EnableTemplateCheck = false
	rules.EnableTamperCheck = false
	rules.EnableQualityCheck = false
	rules.EnableOCRFieldCheck = false
	rules.EnableConsistencyCheck = false
	rules.EnableMRZCrossCheck = false
	rules.EnableChecksumCheck = false
	s.rules = &stubRules{rules: rules}

	s.docs = &stubDocuments{doc: &ports.ExtractedDocument{
		FullName:    "Anna Maria Eriksson",
		DateOfBirth: "1974-08-12",
		IDNumber:    "L898902C3",
		ExpiryDate:  "2030-04-15",
		Tier:        ports.TierStructured,
	}}
	s.faces = &stubFaces{similarity: 95}
	s.detector = &stubDetector{faces: 1}
	s.video = &stubVideo{}
	s.frames = &stubFrames{ref: "frames/representative.jpg"}
	s.spoof = &stubSpoof{score: 10}
	s.signals = &stubSignals{}
	s.notifier = &recordingNotifier{}
	s.events = &recordingEvents{}
}

func (s *DecideSuite) service(opts ...Option) *Service {
	evidence := Evidence{
		Documents: s.docs,
		Faces:     s.faces,
		Detector:  s.detector,
		Video:     s.video,
		Frames:    s.frames,
		Spoof:     s.spoof,
		Signals:   s.signals,
	}
	base := []Option{
		WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
		WithNotifier(s.notifier),
		WithEventPublisher(s.events),
	}
	return New(s.store, s.rules, evidence, append(base, opts...)...)
}

// seed stores a verification ready for processing with the given media.
func (s *DecideSuite) seed(identity models.ExtractedIdentity) uuid.UUID {
	id := uuid.New()
	s.Require().NoError(s.store.Create(s.ctx, &models.Verification{
		ID:             id,
		OrganizationID: s.orgID,
		DocumentType:   models.DocumentTypePassport,
		Status:         models.StatusProcessing,
		CreatedAt:      s.now.Add(-time.Hour),
		UpdatedAt:      s.now.Add(-time.Minute),
	}))
	identity.VerificationID = id
	s.Require().NoError(s.store.PutIdentity(s.ctx, &identity))
	return id
}

func withImage() models.ExtractedIdentity {
	return models.ExtractedIdentity{
		DocumentFrontRef: "docs/front.jpg",
		LivenessImageRef: "liveness/selfie.jpg",
	}
}

func (s *DecideSuite) decided(id uuid.UUID) (*models.Verification, *models.DecisionResult) {
	v, err := s.store.FindByID(s.ctx, id)
	s.Require().NoError(err)
	d, err := s.store.FindDecision(s.ctx, id)
	if err != nil {
		return v, nil
	}
	return v, d
}

// assertTerminal checks the invariants every decided verification holds.
func (s *DecideSuite) assertTerminal(v *models.Verification) {
	s.Contains([]models.Status{models.StatusManualReview, models.StatusRejected}, v.Status)
	s.Require().NotNil(v.MatchScore)
	s.Require().NotNil(v.RiskLevel)
	s.GreaterOrEqual(*v.MatchScore, 0)
	s.LessOrEqual(*v.MatchScore, 100)
	s.False(v.AutoApproved)
	if v.Status == models.StatusRejected {
		s.NotNil(v.FailureReason)
	} else {
		s.Nil(v.FailureReason)
	}
}

// =============================================================================
// Outcome Tests
// =============================================================================

func (s *DecideSuite) TestMatchingSelfieGoesToManualReview() {
	id := s.seed(withImage())

	s.Require().NoError(s.service().Decide(s.ctx, id))

	v, d := s.decided(id)
	s.assertTerminal(v)
	s.Equal(models.StatusManualReview, v.Status)
	s.Equal(95, *v.MatchScore)
	s.Equal(models.RiskLow, *v.RiskLevel)
	s.Require().NotNil(v.VerifiedAt)
	s.Equal(s.now, *v.VerifiedAt)

	s.Require().NotNil(d)
	s.True(d.RiskSignals.Verified)
	s.Empty(d.RiskSignals.Flags)
	s.Equal(DefaultProvider, d.Provider)
	s.Equal(models.CheckPass, d.Checks[CheckDocumentValid].Status)
	s.Equal(models.CheckPass, d.Checks[CheckOCRMatch].Status)
	s.Equal(models.CheckPass, d.Checks[CheckLiveness].Status)
	s.Equal(models.CheckPass, d.Checks[CheckFaceMatch].Status)
	s.NotContains(d.Checks, CheckSpoof)
	s.NotContains(d.Checks, CheckDocumentExpiry)

	s.Require().Len(s.notifier.calls, 1)
	call := s.notifier.calls[0]
	s.Equal(s.orgID, call.orgID)
	s.Equal(orgmodels.EventManualReviewRequired, call.event)
	s.Equal(id.String(), call.payload["verificationId"])
	s.Equal("manual_review", call.payload["verificationStatus"])
	s.Equal(95, call.payload["matchScore"])
	s.Contains(call.payload, "checks")

	s.Require().Len(s.events.published, 1)
	s.Equal("manual_review", s.events.published[0].Status)
}

func (s *DecideSuite) TestExtractedFieldsAreCoalesced() {
	id := s.seed(withImage())
	s.docs.doc.IssueDate = "2020-04-16"

	s.Require().NoError(s.service().Decide(s.ctx, id))

	p, err := s.store.FindIdentity(s.ctx, id)
	s.Require().NoError(err)
	s.Equal("Anna Maria Eriksson", p.Value(models.FieldFullName))
	s.Equal("L898902C3", p.Value(models.FieldIDNumber))
	s.Equal("2020-04-16", p.ExtractedFields["issue_date"])
}

func (s *DecideSuite) TestLowSimilarityIsRejectedHighRisk() {
	id := s.seed(withImage())
	s.faces.similarity = 40

	s.Require().NoError(s.service().Decide(s.ctx, id))

	v, d := s.decided(id)
	s.assertTerminal(v)
	s.Equal(models.StatusRejected, v.Status)
	s.Equal(models.RiskHigh, *v.RiskLevel)
	s.Equal(models.FailureReasonFaceMatchTooLow, *v.FailureReason)
	s.Equal(40, *v.MatchScore)
	s.Contains(d.RiskSignals.Flags, models.FlagFaceMatchBelowThreshold)
	s.Equal(models.CheckFail, d.Checks[CheckFaceMatch].Status)

	s.Require().Len(s.notifier.calls, 1)
	s.Equal(orgmodels.EventVerificationRejected, s.notifier.calls[0].event)
	s.Equal(models.FailureReasonFaceMatchTooLow, s.notifier.calls[0].payload["failureReason"])
}

func (s *DecideSuite) TestDocumentOnly() {
	s.Run("no face on the document fails liveness", func() {
		s.SetupTest()
		id := s.seed(models.ExtractedIdentity{DocumentFrontRef: "docs/front.jpg"})
		s.detector.faces = 0

		s.Require().NoError(s.service().Decide(s.ctx, id))

		v, d := s.decided(id)
		s.assertTerminal(v)
		s.Equal(models.StatusRejected, v.Status)
		s.Equal(models.FailureReasonLivenessFailed, *v.FailureReason)
		s.Equal(models.CheckFail, d.Checks[CheckLiveness].Status)
		s.Equal(models.CheckUnknown, d.Checks[CheckFaceMatch].Status)
		s.Equal(60, *v.MatchScore)
	})

	s.Run("face on the document passes with the weighted score", func() {
		s.SetupTest()
		id := s.seed(models.ExtractedIdentity{DocumentFrontRef: "docs/front.jpg"})

		s.Require().NoError(s.service().Decide(s.ctx, id))

		v, _ := s.decided(id)
		s.Equal(models.StatusManualReview, v.Status)
		s.Equal(80, *v.MatchScore)
	})
}

func (s *DecideSuite) TestNoMedia() {
	id := s.seed(models.ExtractedIdentity{})

	s.Require().NoError(s.service().Decide(s.ctx, id))

	v, d := s.decided(id)
	s.assertTerminal(v)
	s.Equal(models.StatusRejected, v.Status)
	s.Equal(models.FailureReasonDocumentValidationFailed, *v.FailureReason)
	s.Equal(models.CheckFail, d.Checks[CheckDocumentValid].Status)
	s.Equal(models.CheckUnknown, d.Checks[CheckLiveness].Status)
}

func (s *DecideSuite) TestVideoLiveness() {
	moving := []ports.FaceSample{
		{OffsetSeconds: 0, Faces: 1, CenterX: 0.45, CenterY: 0.5},
		{OffsetSeconds: 1.5, Faces: 1, CenterX: 0.55, CenterY: 0.5},
	}

	s.Run("moving face compares a new frame and records it", func() {
		s.SetupTest()
		id := s.seed(models.ExtractedIdentity{
			DocumentFrontRef: "docs/front.jpg",
			LivenessVideoRef: "liveness/video.mp4",
		})
		s.video.samples = moving

		s.Require().NoError(s.service().Decide(s.ctx, id))

		v, d := s.decided(id)
		s.Equal(models.StatusManualReview, v.Status)
		s.Equal(models.CheckPass, d.Checks[CheckLiveness].Status)
		s.Equal([]string{"frames/representative.jpg"}, s.faces.refs)

		p, err := s.store.FindIdentity(s.ctx, id)
		s.Require().NoError(err)
		s.Equal([]string{"frames/representative.jpg"}, p.LivenessFrameRefs)
	})

	s.Run("stored frame is reused", func() {
		s.SetupTest()
		id := s.seed(models.ExtractedIdentity{
			DocumentFrontRef:  "docs/front.jpg",
			LivenessVideoRef:  "liveness/video.mp4",
			LivenessFrameRefs: []string{"frames/stored.jpg"},
		})
		s.video.samples = moving
		s.frames.err = errors.New("must not be called")

		s.Require().NoError(s.service().Decide(s.ctx, id))

		v, _ := s.decided(id)
		s.Equal(models.StatusManualReview, v.Status)
		s.Equal([]string{"frames/stored.jpg"}, s.faces.refs)
	})

	s.Run("static face fails liveness without comparing", func() {
		s.SetupTest()
		id := s.seed(models.ExtractedIdentity{
			DocumentFrontRef: "docs/front.jpg",
			LivenessVideoRef: "liveness/video.mp4",
		})
		s.video.samples = []ports.FaceSample{
			{OffsetSeconds: 0, Faces: 1, CenterX: 0.5, CenterY: 0.5},
			{OffsetSeconds: 2, Faces: 1, CenterX: 0.5, CenterY: 0.5},
		}

		s.Require().NoError(s.service().Decide(s.ctx, id))

		v, d := s.decided(id)
		s.Equal(models.StatusRejected, v.Status)
		s.Equal(models.FailureReasonLivenessFailed, *v.FailureReason)
		s.Equal(models.CheckFail, d.Checks[CheckLiveness].Status)
		s.Empty(s.faces.refs)
	})
}

func (s *DecideSuite) TestBlockingChecks() {
	s.Run("spoofed capture is rejected", func() {
		s.SetupTest()
		s.rules.rules.EnableSpoofDetection = true
		s.spoof.score = 85
		id := s.seed(withImage())

		s.Require().NoError(s.service().Decide(s.ctx, id))

		v, d := s.decided(id)
		s.assertTerminal(v)
		s.Equal(models.StatusRejected, v.Status)
		s.Equal(models.FailureReasonSpoofDetected, *v.FailureReason)
		s.Equal(models.CheckFail, d.Checks[CheckSpoof].Status)
		s.Equal(85, d.Checks[CheckSpoof].Value)
	})

	s.Run("expired document is rejected", func() {
		s.SetupTest()
		s.rules.rules.RequireDocumentExpiryCheck = true
		s.docs.doc.ExpiryDate = "2025-01-31"
		id := s.seed(withImage())

		s.Require().NoError(s.service().Decide(s.ctx, id))

		v, d := s.decided(id)
		s.Equal(models.StatusRejected, v.Status)
		s.Equal(models.FailureReasonDocumentExpired, *v.FailureReason)
		s.Equal(models.CheckFail, d.Checks[CheckDocumentExpiry].Status)
	})

	s.Run("fraudulent behavior is rejected high risk", func() {
		s.SetupTest()
		s.rules.rules.EnableBehavioralChecks = true
		s.signals.sig = &models.BehavioralSignals{
			StepRevisits:    map[models.Step]int{models.StepSelfie: 6},
			TotalDurationMs: 8_000,
		}
		id := s.seed(withImage())

		s.Require().NoError(s.service().Decide(s.ctx, id))

		v, _ := s.decided(id)
		s.Equal(models.StatusRejected, v.Status)
		s.Equal(models.FailureReasonBehavioralFraud, *v.FailureReason)
		s.Equal(models.RiskHigh, *v.RiskLevel)
	})

	s.Run("missing signals skip the behavioral check", func() {
		s.SetupTest()
		s.rules.rules.EnableBehavioralChecks = true
		id := s.seed(withImage())

		s.Require().NoError(s.service().Decide(s.ctx, id))

		v, d := s.decided(id)
		s.Equal(models.StatusManualReview, v.Status)
		s.Equal(models.CheckSkipped, d.Checks[CheckBehavioral].Status)
	})
}

func (s *DecideSuite) TestInformationalChecksDeduct() {
	s.rules.rules.EnableOCRFieldCheck = true
	s.docs.doc.DateOfBirth = ""
	id := s.seed(withImage())

	s.Require().NoError(s.service().Decide(s.ctx, id))

	v, d := s.decided(id)
	s.Equal(models.StatusManualReview, v.Status)
	s.Equal(90, *v.MatchScore)
	s.Equal(models.RiskMedium, *v.RiskLevel)
	s.Equal(models.CheckFail, d.Checks[validation.RuleOCRFields].Status)
}

// =============================================================================
// Partial Failure Tests
// =============================================================================

func (s *DecideSuite) TestExtractorFailuresAreNotFatal() {
	s.Run("ocr outage invalidates the document", func() {
		s.SetupTest()
		s.docs.err = ports.NewProviderError(ports.ErrorProviderOutage, "ocr", "503", nil)
		id := s.seed(withImage())

		s.Require().NoError(s.service().Decide(s.ctx, id))

		v, d := s.decided(id)
		s.assertTerminal(v)
		s.Equal(models.StatusRejected, v.Status)
		s.Equal(models.FailureReasonDocumentValidationFailed, *v.FailureReason)
		s.Equal(models.CheckFail, d.Checks[CheckDocumentValid].Status)
		raw, ok := d.RawResponses[sourceOCR].(map[string]any)
		s.Require().True(ok)
		s.Equal(string(ports.ErrorProviderOutage), raw["category"])
	})

	s.Run("face comparison timeout leaves liveness unknown", func() {
		s.SetupTest()
		s.faces.err = ports.NewProviderError(ports.ErrorTimeout, "face", "deadline", nil)
		id := s.seed(withImage())

		s.Require().NoError(s.service().Decide(s.ctx, id))

		v, d := s.decided(id)
		s.Equal(models.StatusRejected, v.Status)
		s.Equal(models.CheckUnknown, d.Checks[CheckLiveness].Status)
		s.Equal(models.CheckUnknown, d.Checks[CheckFaceMatch].Status)
	})

	s.Run("spoof outage does not block", func() {
		s.SetupTest()
		s.rules.rules.EnableSpoofDetection = true
		s.spoof.err = ports.NewProviderError(ports.ErrorProviderOutage, "spoof", "down", nil)
		id := s.seed(withImage())

		s.Require().NoError(s.service().Decide(s.ctx, id))

		v, d := s.decided(id)
		s.Equal(models.StatusManualReview, v.Status)
		s.Equal(models.CheckUnknown, d.Checks[CheckSpoof].Status)
	})
}

func (s *DecideSuite) TestFatalFailureForcesRejection() {
	cases := []struct {
		name  string
		setup func()
	}{
		{"persisting the decision fails", func() { s.store.upsertErr = errors.New("disk full") }},
		{"rules cannot be loaded", func() { s.rules.err = errors.New("connection reset") }},
	}
	for _, tc := range cases {
		s.Run(tc.name, func() {
			s.SetupTest()
			tc.setup()
			id := s.seed(withImage())

			s.Require().NoError(s.service().Decide(s.ctx, id))

			v, d := s.decided(id)
			s.assertTerminal(v)
			s.Equal(models.StatusRejected, v.Status)
			s.Equal(0, *v.MatchScore)
			s.Equal(models.RiskHigh, *v.RiskLevel)
			s.Equal(models.FailureReasonProcessingError, *v.FailureReason)
			s.Nil(d)

			s.Require().Len(s.notifier.calls, 1)
			s.Equal(orgmodels.EventVerificationRejected, s.notifier.calls[0].event)
			s.NotContains(s.notifier.calls[0].payload, "checks")
		})
	}

	s.Run("panicking extractor", func() {
		s.SetupTest()
		id := s.seed(withImage())
		svc := s.service()
		svc.evidence.Documents = panickingDocuments{}

		s.Require().NoError(svc.Decide(s.ctx, id))

		v, _ := s.decided(id)
		s.Equal(models.FailureReasonProcessingError, *v.FailureReason)
	})
}

// =============================================================================
// Idempotence and Guard Tests
// =============================================================================

func (s *DecideSuite) TestRerunIsIdempotent() {
	id := s.seed(withImage())
	svc := s.service()

	s.Require().NoError(svc.Decide(s.ctx, id))
	first, firstDecision := s.decided(id)

	later := requestcontext.WithTime(context.Background(), s.now.Add(time.Minute))
	s.Require().NoError(svc.Decide(later, id))
	second, secondDecision := s.decided(id)

	s.Equal(first.Status, second.Status)
	s.Equal(*first.MatchScore, *second.MatchScore)
	s.Equal(*first.RiskLevel, *second.RiskLevel)
	s.Equal(firstDecision.Checks, secondDecision.Checks)
	s.Equal(firstDecision.RiskSignals.Flags, secondDecision.RiskSignals.Flags)
	s.Equal(firstDecision.CreatedAt, secondDecision.CreatedAt)
}

func (s *DecideSuite) TestGuards() {
	s.Run("unknown verification", func() {
		err := s.service().Decide(s.ctx, uuid.New())
		s.True(dErrors.HasCode(err, dErrors.CodeNotFound))
	})

	s.Run("human-reviewed verification is left alone", func() {
		s.SetupTest()
		id := s.seed(withImage())
		v, err := s.store.FindByID(s.ctx, id)
		s.Require().NoError(err)
		v.Status = models.StatusApproved
		s.Require().NoError(s.store.Update(s.ctx, v))

		err = s.service().Decide(s.ctx, id)
		s.True(dErrors.HasCode(err, dErrors.CodeInvalidState))
		s.Empty(s.notifier.calls)

		after, _ := s.decided(id)
		s.Equal(models.StatusApproved, after.Status)
	})
}
