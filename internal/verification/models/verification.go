package models

import (
	"time"

	"github.com/google/uuid"

	dErrors "idverify/pkg/domain-errors"
)

// DocumentType is the declared kind of identity document.
type DocumentType string

const (
	DocumentTypePassport        DocumentType = "passport"
	DocumentTypeNationalID      DocumentType = "national_id"
	DocumentTypeDriversLicense  DocumentType = "drivers_license"
	DocumentTypeResidencePermit DocumentType = "residence_permit"
)

// RiskLevel classifies a decided verification.
type RiskLevel string

const (
	RiskLow    RiskLevel = "low"
	RiskMedium RiskLevel = "medium"
	RiskHigh   RiskLevel = "high"
)

// Failure reasons recorded on rejected verifications.
const (
	FailureReasonDocumentExpired          = "document_expired"
	FailureReasonSpoofDetected            = "document_spoof_detected"
	FailureReasonBehavioralFraud          = "behavioral_fraud_detected"
	FailureReasonDocumentValidationFailed = "document_validation_failed"
	FailureReasonFaceMatchTooLow          = "face_match_too_low"
	FailureReasonLivenessFailed           = "liveness_failed"
	FailureReasonMatchScoreTooLow         = "match_score_too_low"

	// FailureReasonProcessingError is recorded when the pipeline itself failed.
	FailureReasonProcessingError = "processing_error"
)

// Verification is one document-verification attempt.
//
// Invariants:
//   - MatchScore and RiskLevel are nil until a decision is applied
//   - FailureReason is set only when Status is rejected
//   - AutoApproved is always false; a passing decision goes to manual review
type Verification struct {
	ID             uuid.UUID    `json:"id"`
	OrganizationID uuid.UUID    `json:"organization_id"`
	DocumentType   DocumentType `json:"document_type"`
	Status         Status       `json:"status"`
	MatchScore     *int         `json:"match_score,omitempty"`
	RiskLevel      *RiskLevel   `json:"risk_level,omitempty"`
	FailureReason  *string      `json:"failure_reason,omitempty"`
	AutoApproved   bool         `json:"auto_approved"`
	CreatedAt      time.Time    `json:"created_at"`
	UpdatedAt      time.Time    `json:"updated_at"`
	VerifiedAt     *time.Time   `json:"verified_at,omitempty"`
}

// Outcome is the terminal result the decision engine applies to a verification.
type Outcome struct {
	Verified      bool
	MatchScore    int
	RiskLevel     RiskLevel
	FailureReason string
}

// BelongsTo reports whether the verification is owned by orgID.
func (v *Verification) BelongsTo(orgID uuid.UUID) bool {
	return v.OrganizationID == orgID
}

// CanStartProcessing checks the verification has its uploads and is not
// already being decided.
func (v *Verification) CanStartProcessing() error {
	if !v.Status.CanTransitionTo(StatusProcessing) {
		return dErrors.New(dErrors.CodeInvalidState, "verification cannot be processed in status "+string(v.Status))
	}
	return nil
}

// ApplyProcessing moves the verification into processing.
// Call CanStartProcessing first.
func (v *Verification) ApplyProcessing(now time.Time) {
	v.Status = StatusProcessing
	v.UpdatedAt = now
}

// CanApplyDecision rejects decisions on verifications a human has already reviewed.
func (v *Verification) CanApplyDecision() error {
	if v.Status.IsHumanReviewed() {
		return dErrors.New(dErrors.CodeInvalidState, "verification was already reviewed")
	}
	return nil
}

// ApplyDecision records an engine outcome. A verified outcome goes to manual
// review; anything else is rejected with a failure reason.
func (v *Verification) ApplyDecision(o Outcome, now time.Time) {
	score := clampScore(o.MatchScore)
	risk := o.RiskLevel
	v.MatchScore = &score
	v.RiskLevel = &risk
	v.AutoApproved = false
	v.UpdatedAt = now

	if o.Verified {
		v.Status = StatusManualReview
		v.FailureReason = nil
		v.VerifiedAt = &now
		return
	}
	reason := o.FailureReason
	v.Status = StatusRejected
	v.FailureReason = &reason
	v.VerifiedAt = nil
}

// ApplyFatalRejection forces the verification into a terminal rejected state
// after the pipeline failed.
func (v *Verification) ApplyFatalRejection(now time.Time) {
	v.ApplyDecision(Outcome{
		Verified:      false,
		MatchScore:    0,
		RiskLevel:     RiskHigh,
		FailureReason: FailureReasonProcessingError,
	}, now)
}

func clampScore(score int) int {
	if score < 0 {
		return 0
	}
	if score > 100 {
		return 100
	}
	return score
}
