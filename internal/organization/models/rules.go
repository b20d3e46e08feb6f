package models

import (
	"time"

	"github.com/google/uuid"
)

// DefaultFaceMatchThreshold is the similarity (0-100) a face comparison must reach.
const DefaultFaceMatchThreshold = 60

// VerificationRules is the stored per-organization configuration. A nil
// toggle means "not configured" and resolves to its default in Effective.
type VerificationRules struct {
	OrganizationID uuid.UUID `json:"organization_id"`

	// Blocking checks, off by default.
	RequireDocumentExpiryCheck *bool `json:"require_document_expiry_check,omitempty"`
	EnableSpoofDetection       *bool `json:"enable_spoof_detection,omitempty"`
	EnableBehavioralChecks     *bool `json:"enable_behavioral_checks,omitempty"`

	// Informational checks, on by default.
	EnableTemplateCheck    *bool `json:"enable_template_check,omitempty"`
	EnableTamperCheck      *bool `json:"enable_tamper_check,omitempty"`
	EnableQualityCheck     *bool `json:"enable_quality_check,omitempty"`
	EnableOCRFieldCheck    *bool `json:"enable_ocr_field_check,omitempty"`
	EnableConsistencyCheck *bool `json:"enable_consistency_check,omitempty"`
	EnableMRZCrossCheck    *bool `json:"enable_mrz_cross_check,omitempty"`
	EnableChecksumCheck    *bool `json:"enable_checksum_check,omitempty"`

	FaceMatchThreshold *int      `json:"face_match_threshold,omitempty"`
	UpdatedAt          time.Time `json:"updated_at"`
}

// EffectiveRules is the resolved rule set the decision engine consumes.
type EffectiveRules struct {
	RequireDocumentExpiryCheck bool `json:"require_document_expiry_check"`
	EnableSpoofDetection       bool `json:"enable_spoof_detection"`
	EnableBehavioralChecks     bool `json:"enable_behavioral_checks"`

	EnableTemplateCheck    bool `json:"enable_template_check"`
	EnableTamperCheck      bool `json:"enable_tamper_check"`
	EnableQualityCheck     bool `json:"enable_quality_check"`
	EnableOCRFieldCheck    bool `json:"enable_ocr_field_check"`
	EnableConsistencyCheck bool `json:"enable_consistency_check"`
	EnableMRZCrossCheck    bool `json:"enable_mrz_cross_check"`
	EnableChecksumCheck    bool `json:"enable_checksum_check"`

	FaceMatchThreshold int `json:"face_match_threshold"`
}

// DefaultRules returns the rule set of an organization that configured nothing.
func DefaultRules() EffectiveRules {
	return EffectiveRules{
		EnableTemplateCheck:    true,
		EnableTamperCheck:      true,
		EnableQualityCheck:     true,
		EnableOCRFieldCheck:    true,
		EnableConsistencyCheck: true,
		EnableMRZCrossCheck:    true,
		EnableChecksumCheck:    true,
		FaceMatchThreshold:     DefaultFaceMatchThreshold,
	}
}

// Effective resolves unset toggles to their defaults. A nil receiver yields
// DefaultRules.
func (r *VerificationRules) Effective() EffectiveRules {
	out := DefaultRules()
	if r == nil {
		return out
	}
	apply := func(dst *bool, src *bool) {
		if src != nil {
			*dst = *src
		}
	}
	apply(&out.RequireDocumentExpiryCheck, r.RequireDocumentExpiryCheck)
	apply(&out.EnableSpoofDetection, r.EnableSpoofDetection)
	apply(&out.EnableBehavioralChecks, r.EnableBehavioralChecks)
	apply(&out.EnableTemplateCheck, r.EnableTemplateCheck)
	apply(&out.EnableTamperCheck, r.EnableTamperCheck)
	apply(&out.EnableQualityCheck, r.EnableQualityCheck)
	apply(&out.EnableOCRFieldCheck, r.EnableOCRFieldCheck)
	apply(&out.EnableConsistencyCheck, r.EnableConsistencyCheck)
	apply(&out.EnableMRZCrossCheck, r.EnableMRZCrossCheck)
	apply(&out.EnableChecksumCheck, r.EnableChecksumCheck)
	if r.FaceMatchThreshold != nil && *r.FaceMatchThreshold >= 0 && *r.FaceMatchThreshold <= 100 {
		out.FaceMatchThreshold = *r.FaceMatchThreshold
	}
	return out
}
