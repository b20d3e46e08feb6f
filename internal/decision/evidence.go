package decision

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel/codes"

	"idverify/internal/decision/ports"
	"idverify/internal/decision/validation"
	orgmodels "idverify/internal/organization/models"
	"idverify/internal/verification/models"
	"idverify/pkg/platform/sentinel"
	pstrings "idverify/pkg/platform/strings"
)

// Evidence bundles the extractor ports. A nil port behaves like an
// extractor that always fails.
type Evidence struct {
	Documents ports.DocumentExtractor
	Faces     ports.FaceComparer
	Detector  ports.FaceDetector
	Video     ports.VideoSampler
	Frames    ports.FrameExtractor
	Spoof     ports.SpoofAnalyzer
	Signals   ports.SignalStore
	Media     ports.MediaFetcher
}

// Evidence sources, used as metric labels and raw response keys.
const (
	sourceOCR         = "ocr"
	sourceFaceCompare = "face_compare"
	sourceFaceDetect  = "face_detect"
	sourceVideo       = "video"
	sourceFrame       = "frame"
	sourceSpoof       = "spoof"
	sourceSignals     = "signals"
	sourceMedia       = "media"
)

// Check keys of the blocking checks. Informational checks use the
// validation rule names.
const (
	CheckDocumentValid  = "document_valid"
	CheckOCRMatch       = "ocr_match"
	CheckLiveness       = "liveness"
	CheckFaceMatch      = "face_match"
	CheckDocumentExpiry = "document_expiry"
	CheckSpoof          = "spoof_detection"
	CheckBehavioral     = "behavioral"
)

// SpoofRiskThreshold is the spoof score at which a capture is flagged.
const SpoofRiskThreshold = 70

var errNotConfigured = fmt.Errorf("extractor not configured: %w", sentinel.ErrUnavailable)

// run accumulates the evidence of one decide run.
type run struct {
	v          *models.Verification
	identity   *models.ExtractedIdentity
	rules      orgmodels.EffectiveRules
	signals    *models.BehavioralSignals
	signalsErr error
	now        time.Time

	doc        *ports.ExtractedDocument
	frameRef   string
	assessment Assessment
	checks     map[string]models.Check
	raw        map[string]any
	detail     map[string]any
}

func newRun(v *models.Verification, identity *models.ExtractedIdentity, rules orgmodels.EffectiveRules, now time.Time) *run {
	return &run{
		v:        v,
		identity: identity,
		rules:    rules,
		now:      now,
		assessment: Assessment{
			Liveness:  models.CheckUnknown,
			Threshold: rules.FaceMatchThreshold,
		},
		checks: make(map[string]models.Check),
		raw:    make(map[string]any),
		detail: make(map[string]any),
	}
}

// call wraps one evidence call with a span, latency metric and failure
// accounting. Failures are recorded in the raw responses.
func (s *Service) call(ctx context.Context, r *run, source string, fn func(ctx context.Context) error) error {
	ctx, span := s.tracer.Start(ctx, "decision.evidence."+source)
	defer span.End()

	start := time.Now()
	err := fn(ctx)
	s.metrics.ObserveEvidenceLatency(source, time.Since(start))
	if err != nil {
		category := ports.CategoryOf(err)
		span.RecordError(err)
		span.SetStatus(codes.Error, string(category))
		s.metrics.IncrementExtractorFailure(source, string(category))
		s.logger.WarnContext(ctx, "evidence extractor failed",
			"verification_id", r.v.ID,
			"source", source,
			"category", category,
			"error", err,
		)
		r.raw[source] = map[string]any{"error": err.Error(), "category": string(category)}
	}
	return err
}

// extractDocument runs tiered OCR. Failure marks the document invalid and
// the pipeline continues.
func (s *Service) extractDocument(ctx context.Context, r *run) {
	if !r.identity.HasDocument() {
		r.checks[CheckDocumentValid] = models.Check{Status: models.CheckFail, Detail: "no document image"}
		r.checks[CheckOCRMatch] = models.Check{Status: models.CheckFail, Detail: "no document image"}
		return
	}

	var doc *ports.ExtractedDocument
	err := s.call(ctx, r, sourceOCR, func(ctx context.Context) error {
		if s.evidence.Documents == nil {
			return errNotConfigured
		}
		var err error
		doc, err = s.evidence.Documents.Extract(ctx, r.identity.DocumentFrontRef, r.v.DocumentType)
		return err
	})
	if err != nil || !doc.Usable() {
		detail := "extraction lacked name or id number"
		if err != nil {
			detail = "extraction failed"
		}
		r.checks[CheckDocumentValid] = models.Check{Status: models.CheckFail, Detail: detail}
		r.checks[CheckOCRMatch] = models.Check{Status: models.CheckFail, Detail: detail}
		return
	}

	r.doc = doc
	r.raw[sourceOCR] = map[string]any{"tier": string(doc.Tier), "fields": presentFields(doc)}
	r.assessment.DocumentValid = true
	r.checks[CheckDocumentValid] = models.Check{Status: models.CheckPass, Value: string(doc.Tier)}

	mismatches := confirmedMismatches(r.identity, doc)
	r.assessment.OCRMatch = len(mismatches) == 0
	if r.assessment.OCRMatch {
		r.checks[CheckOCRMatch] = models.Check{Status: models.CheckPass}
	} else {
		r.checks[CheckOCRMatch] = models.Check{
			Status: models.CheckFail,
			Detail: "differs from confirmed " + strings.Join(mismatches, ", "),
		}
	}
}

// confirmedMismatches lists confirmed fields the extraction contradicts.
func confirmedMismatches(p *models.ExtractedIdentity, doc *ports.ExtractedDocument) []string {
	var out []string
	if p.IsConfirmed(models.FieldFullName) && !pstrings.SameName(p.Value(models.FieldFullName), doc.FullName) {
		out = append(out, string(models.FieldFullName))
	}
	if p.IsConfirmed(models.FieldIDNumber) &&
		pstrings.NormalizeIdentifier(p.Value(models.FieldIDNumber)) != pstrings.NormalizeIdentifier(doc.IDNumber) {
		out = append(out, string(models.FieldIDNumber))
	}
	if p.IsConfirmed(models.FieldDateOfBirth) && doc.DateOfBirth != "" && !sameDate(p.Value(models.FieldDateOfBirth), doc.DateOfBirth) {
		out = append(out, string(models.FieldDateOfBirth))
	}
	return out
}

func sameDate(a, b string) bool {
	ta, errA := validation.ParseDate(a)
	tb, errB := validation.ParseDate(b)
	if errA != nil || errB != nil {
		return strings.EqualFold(strings.TrimSpace(a), strings.TrimSpace(b))
	}
	return ta.Equal(tb)
}

// presentFields names the extracted fields without their values.
func presentFields(doc *ports.ExtractedDocument) []string {
	var out []string
	for _, f := range []struct {
		name  models.Field
		value string
	}{
		{models.FieldFullName, doc.FullName},
		{models.FieldDateOfBirth, doc.DateOfBirth},
		{models.FieldIDNumber, doc.IDNumber},
		{models.FieldAddress, doc.Address},
		{models.FieldExpiryDate, doc.ExpiryDate},
	} {
		if f.value != "" {
			out = append(out, string(f.name))
		}
	}
	return out
}

// runInformationalChecks evaluates the enabled validation rules. Failures
// only deduct from the score.
func (s *Service) runInformationalChecks(ctx context.Context, r *run) {
	enabled := informationalRules(r.rules)
	if len(enabled) == 0 {
		return
	}

	in := validation.Input{
		DocumentType: string(r.v.DocumentType),
		Document:     r.validationDocument(),
		Now:          r.now,
	}
	if needsImage(enabled) && r.identity.HasDocument() {
		var data []byte
		err := s.call(ctx, r, sourceMedia, func(ctx context.Context) error {
			if s.evidence.Media == nil {
				return errNotConfigured
			}
			var err error
			data, err = s.evidence.Media.Fetch(ctx, r.identity.DocumentFrontRef)
			return err
		})
		if err != nil {
			in.ImageErr = err
		} else {
			in.Image, in.ImageErr = validation.DecodeImage(data)
		}
	}

	report := validation.Evaluate(in, func(rule string) bool { return enabled[rule] })
	for name, res := range report.Results {
		r.checks[name] = checkFromResult(res)
	}
	r.assessment.FailedInformational = report.Failed
}

func informationalRules(rules orgmodels.EffectiveRules) map[string]bool {
	all := map[string]bool{
		validation.RuleTemplate:    rules.EnableTemplateCheck,
		validation.RuleTamper:      rules.EnableTamperCheck,
		validation.RuleQuality:     rules.EnableQualityCheck,
		validation.RuleOCRFields:   rules.EnableOCRFieldCheck,
		validation.RuleConsistency: rules.EnableConsistencyCheck,
		validation.RuleMRZCross:    rules.EnableMRZCrossCheck,
		validation.RuleChecksum:    rules.EnableChecksumCheck,
	}
	enabled := make(map[string]bool, len(all))
	for name, on := range all {
		if on {
			enabled[name] = true
		}
	}
	return enabled
}

func needsImage(enabled map[string]bool) bool {
	return enabled[validation.RuleTemplate] || enabled[validation.RuleTamper] || enabled[validation.RuleQuality]
}

// validationDocument prefers fresh extraction values over stored ones.
func (r *run) validationDocument() validation.Document {
	doc := validation.Document{
		FullName:    r.identity.Value(models.FieldFullName),
		DateOfBirth: r.identity.Value(models.FieldDateOfBirth),
		IDNumber:    r.identity.Value(models.FieldIDNumber),
		ExpiryDate:  r.identity.Value(models.FieldExpiryDate),
	}
	if r.doc == nil {
		return doc
	}
	overlay := func(dst *string, src string) {
		if src != "" {
			*dst = src
		}
	}
	overlay(&doc.FullName, r.doc.FullName)
	overlay(&doc.DateOfBirth, r.doc.DateOfBirth)
	overlay(&doc.IDNumber, r.doc.IDNumber)
	overlay(&doc.ExpiryDate, r.doc.ExpiryDate)
	doc.IssueDate = r.doc.IssueDate
	doc.MRZ = r.doc.MRZ
	return doc
}

func checkFromResult(res validation.Result) models.Check {
	switch res.Outcome {
	case validation.Failed:
		return models.Check{Status: models.CheckFail, Detail: res.Detail}
	case validation.Skipped:
		return models.Check{Status: models.CheckSkipped, Detail: res.Detail}
	default:
		return models.Check{Status: models.CheckPass, Detail: res.Detail}
	}
}

// assessLiveness picks the liveness branch from the media present.
func (s *Service) assessLiveness(ctx context.Context, r *run) {
	switch {
	case !r.identity.HasDocument():
		r.setLiveness(models.CheckUnknown, "no document image to compare against")
	case r.identity.HasLivenessVideo():
		s.videoLiveness(ctx, r)
	case r.identity.HasLivenessImage():
		s.imageLiveness(ctx, r)
	default:
		s.documentOnlyLiveness(ctx, r)
	}

	if sim := r.assessment.Similarity; sim != nil {
		status := models.CheckPass
		if faceBelowThreshold(r.assessment) {
			status = models.CheckFail
		}
		r.checks[CheckFaceMatch] = models.Check{
			Status: status,
			Value:  *sim,
			Detail: fmt.Sprintf("threshold %d", r.assessment.Threshold),
		}
	} else {
		r.checks[CheckFaceMatch] = models.Check{Status: models.CheckUnknown}
	}
}

func (r *run) setLiveness(status models.CheckStatus, detail string) {
	r.assessment.Liveness = status
	r.checks[CheckLiveness] = models.Check{Status: status, Detail: detail}
}

// videoLiveness requires a present, moving face and then compares a
// representative frame against the document photo.
func (s *Service) videoLiveness(ctx context.Context, r *run) {
	var samples []ports.FaceSample
	err := s.call(ctx, r, sourceVideo, func(ctx context.Context) error {
		if s.evidence.Video == nil {
			return errNotConfigured
		}
		var err error
		samples, err = s.evidence.Video.SampleFaces(ctx, r.identity.LivenessVideoRef)
		return err
	})
	if err != nil {
		r.setLiveness(models.CheckUnknown, "video analysis failed")
		return
	}

	analysis := AnalyzeSamples(samples)
	r.raw[sourceVideo] = analysis
	r.detail["video_liveness"] = analysis
	if !analysis.Passed() {
		r.setLiveness(models.CheckFail, fmt.Sprintf("face_present=%t movement_detected=%t",
			analysis.FacePresent, analysis.MovementDetected))
		return
	}

	frame := ""
	if len(r.identity.LivenessFrameRefs) > 0 {
		frame = r.identity.LivenessFrameRefs[0]
	} else {
		err := s.call(ctx, r, sourceFrame, func(ctx context.Context) error {
			if s.evidence.Frames == nil {
				return errNotConfigured
			}
			var err error
			frame, err = s.evidence.Frames.ExtractFrame(ctx, r.identity.LivenessVideoRef)
			return err
		})
		if err != nil {
			r.setLiveness(models.CheckUnknown, "frame extraction failed")
			return
		}
		r.frameRef = frame
	}

	if !s.compareFaces(ctx, r, frame) {
		r.setLiveness(models.CheckUnknown, "face comparison failed")
		return
	}
	if faceBelowThreshold(r.assessment) {
		r.setLiveness(models.CheckFail, "face similarity below threshold")
		return
	}
	r.setLiveness(models.CheckPass, "face present and moving")
}

// imageLiveness passes iff the still capture matches the document photo.
func (s *Service) imageLiveness(ctx context.Context, r *run) {
	if !s.compareFaces(ctx, r, r.identity.LivenessImageRef) {
		r.setLiveness(models.CheckUnknown, "face comparison failed")
		return
	}
	if faceBelowThreshold(r.assessment) {
		r.setLiveness(models.CheckFail, "face similarity below threshold")
		return
	}
	r.setLiveness(models.CheckPass, "liveness image matches document")
}

// documentOnlyLiveness only checks that the document shows a face. It is a
// weaker signal than a real liveness capture.
func (s *Service) documentOnlyLiveness(ctx context.Context, r *run) {
	var faces int
	err := s.call(ctx, r, sourceFaceDetect, func(ctx context.Context) error {
		if s.evidence.Detector == nil {
			return errNotConfigured
		}
		var err error
		faces, err = s.evidence.Detector.DetectFaces(ctx, r.identity.DocumentFrontRef)
		return err
	})
	if err != nil {
		r.setLiveness(models.CheckUnknown, "face detection failed")
		return
	}
	r.raw[sourceFaceDetect] = map[string]any{"face_count": faces}
	if faces > 0 {
		r.setLiveness(models.CheckPass, "document-only: face detected on document")
		return
	}
	r.setLiveness(models.CheckFail, "document-only: no face detected on document")
}

// compareFaces compares the document photo with ref and records the
// similarity. It reports whether a similarity was obtained.
func (s *Service) compareFaces(ctx context.Context, r *run, ref string) bool {
	var cmp *ports.FaceComparison
	err := s.call(ctx, r, sourceFaceCompare, func(ctx context.Context) error {
		if s.evidence.Faces == nil {
			return errNotConfigured
		}
		var err error
		cmp, err = s.evidence.Faces.Compare(ctx, r.identity.DocumentFrontRef, ref, r.assessment.Threshold)
		return err
	})
	if err != nil {
		return false
	}
	similarity := cmp.Similarity
	r.assessment.Similarity = &similarity
	r.raw[sourceFaceCompare] = map[string]any{
		"similarity": cmp.Similarity,
		"is_match":   cmp.IsMatch,
		"confidence": cmp.Confidence,
	}
	return true
}

// checkSpoof flags captures of a screen or print when enabled.
func (s *Service) checkSpoof(ctx context.Context, r *run) {
	if !r.rules.EnableSpoofDetection {
		return
	}
	refs := r.imageRefs()
	if len(refs) == 0 {
		r.checks[CheckSpoof] = models.Check{Status: models.CheckSkipped, Detail: "no images"}
		return
	}

	var analysis *ports.SpoofAnalysis
	err := s.call(ctx, r, sourceSpoof, func(ctx context.Context) error {
		if s.evidence.Spoof == nil {
			return errNotConfigured
		}
		var err error
		analysis, err = s.evidence.Spoof.Analyze(ctx, refs)
		return err
	})
	if err != nil {
		r.checks[CheckSpoof] = models.Check{Status: models.CheckUnknown, Detail: "spoof analysis failed"}
		return
	}

	spoof := map[string]any{"risk_score": analysis.RiskScore, "signals": analysis.Signals}
	r.raw[sourceSpoof] = spoof
	r.detail["spoof"] = spoof
	r.assessment.Spoofed = analysis.RiskScore >= SpoofRiskThreshold
	status := models.CheckPass
	if r.assessment.Spoofed {
		status = models.CheckFail
	}
	r.checks[CheckSpoof] = models.Check{
		Status: status,
		Value:  analysis.RiskScore,
		Detail: strings.Join(analysis.Signals, ", "),
	}
}

func (r *run) imageRefs() []string {
	var refs []string
	for _, ref := range []string{r.identity.DocumentFrontRef, r.identity.DocumentBackRef, r.identity.LivenessImageRef} {
		if ref != "" {
			refs = append(refs, ref)
		}
	}
	refs = append(refs, r.identity.LivenessFrameRefs...)
	if r.frameRef != "" {
		refs = append(refs, r.frameRef)
	}
	return refs
}

// loadSignals reads behavioral telemetry when behavioral checks are enabled.
func (s *Service) loadSignals(ctx context.Context, r *run) {
	if !r.rules.EnableBehavioralChecks {
		return
	}
	r.signalsErr = s.call(ctx, r, sourceSignals, func(ctx context.Context) error {
		if s.evidence.Signals == nil {
			return errNotConfigured
		}
		var err error
		r.signals, err = s.evidence.Signals.Get(ctx, r.v.ID)
		return err
	})
}

// checkBehavior scores client timing telemetry when enabled.
func (s *Service) checkBehavior(r *run) {
	if !r.rules.EnableBehavioralChecks {
		return
	}
	switch {
	case r.signalsErr != nil:
		r.checks[CheckBehavioral] = models.Check{Status: models.CheckUnknown, Detail: "signal lookup failed"}
		return
	case r.signals == nil:
		r.checks[CheckBehavioral] = models.Check{Status: models.CheckSkipped, Detail: "no signals recorded"}
		return
	}

	score := ScoreBehavior(r.signals)
	r.detail["behavioral"] = score
	r.assessment.BehavioralFraud = score.Fraudulent()
	status := models.CheckPass
	if r.assessment.BehavioralFraud {
		status = models.CheckFail
	}
	r.checks[CheckBehavioral] = models.Check{
		Status: status,
		Value:  score.Score,
		Detail: strings.Join(score.Reasons, ", "),
	}
}

// checkExpiry flags documents whose extracted expiry date has passed.
func (s *Service) checkExpiry(r *run) {
	if !r.rules.RequireDocumentExpiryCheck {
		return
	}
	raw := r.identity.Value(models.FieldExpiryDate)
	if r.doc != nil && r.doc.ExpiryDate != "" {
		raw = r.doc.ExpiryDate
	}
	if raw == "" {
		r.checks[CheckDocumentExpiry] = models.Check{Status: models.CheckUnknown, Detail: "no expiry date extracted"}
		return
	}
	expiry, err := validation.ParseDate(raw)
	if err != nil {
		r.checks[CheckDocumentExpiry] = models.Check{Status: models.CheckUnknown, Detail: err.Error()}
		return
	}

	today := time.Date(r.now.Year(), r.now.Month(), r.now.Day(), 0, 0, 0, 0, time.UTC)
	r.assessment.Expired = expiry.Before(today)
	status := models.CheckPass
	if r.assessment.Expired {
		status = models.CheckFail
	}
	r.checks[CheckDocumentExpiry] = models.Check{Status: status, Value: expiry.Format(time.DateOnly)}
}
