package handler

import (
	"maps"
	"net/url"
	"strings"

	"github.com/google/uuid"

	"idverify/internal/organization/models"
	dErrors "idverify/pkg/domain-errors"
)

// UpdateRulesRequest carries the rule toggles. Omitted fields fall back to
// their defaults.
type UpdateRulesRequest struct {
	RequireDocumentExpiryCheck *bool `json:"require_document_expiry_check"`
	EnableSpoofDetection       *bool `json:"enable_spoof_detection"`
	EnableBehavioralChecks     *bool `json:"enable_behavioral_checks"`
	EnableTemplateCheck        *bool `json:"enable_template_check"`
	EnableTamperCheck          *bool `json:"enable_tamper_check"`
	EnableQualityCheck         *bool `json:"enable_quality_check"`
	EnableOCRFieldCheck        *bool `json:"enable_ocr_field_check"`
	EnableConsistencyCheck     *bool `json:"enable_consistency_check"`
	EnableMRZCrossCheck        *bool `json:"enable_mrz_cross_check"`
	EnableChecksumCheck        *bool `json:"enable_checksum_check"`
	FaceMatchThreshold         *int  `json:"face_match_threshold"`
}

func (r *UpdateRulesRequest) Validate() error {
	if r.FaceMatchThreshold != nil && (*r.FaceMatchThreshold < 0 || *r.FaceMatchThreshold > 100) {
		return dErrors.New(dErrors.CodeValidation, "face_match_threshold must be between 0 and 100")
	}
	return nil
}

func (r *UpdateRulesRequest) ToRules(orgID uuid.UUID) *models.VerificationRules {
	return &models.VerificationRules{
		OrganizationID:             orgID,
		RequireDocumentExpiryCheck: r.RequireDocumentExpiryCheck,
		EnableSpoofDetection:       r.EnableSpoofDetection,
		EnableBehavioralChecks:     r.EnableBehavioralChecks,
		EnableTemplateCheck:        r.EnableTemplateCheck,
		EnableTamperCheck:          r.EnableTamperCheck,
		EnableQualityCheck:         r.EnableQualityCheck,
		EnableOCRFieldCheck:        r.EnableOCRFieldCheck,
		EnableConsistencyCheck:     r.EnableConsistencyCheck,
		EnableMRZCrossCheck:        r.EnableMRZCrossCheck,
		EnableChecksumCheck:        r.EnableChecksumCheck,
		FaceMatchThreshold:         r.FaceMatchThreshold,
	}
}

// UpdateWebhookRequest sets the webhook target. An empty URL disables
// delivery without losing the event preferences.
type UpdateWebhookRequest struct {
	URL    string          `json:"url"`
	Events map[string]bool `json:"events"`
}

func (r *UpdateWebhookRequest) Validate() error {
	r.URL = strings.TrimSpace(r.URL)
	if r.URL != "" {
		u, err := url.Parse(r.URL)
		if err != nil || (u.Scheme != "https" && u.Scheme != "http") || u.Host == "" {
			return dErrors.New(dErrors.CodeValidation, "url must be an absolute http(s) URL")
		}
	}
	for event := range r.Events {
		if event != models.EventManualReviewRequired && event != models.EventVerificationRejected {
			return dErrors.New(dErrors.CodeValidation, "unknown webhook event: "+event)
		}
	}
	return nil
}

func (r *UpdateWebhookRequest) ToSubscription(orgID uuid.UUID) *models.WebhookSubscription {
	events := maps.Clone(r.Events)
	if events == nil {
		events = map[string]bool{}
	}
	return &models.WebhookSubscription{
		OrganizationID: orgID,
		URL:            r.URL,
		Events:         events,
	}
}

// ParseOrganizationID validates the {orgID} path parameter.
func ParseOrganizationID(raw string) (uuid.UUID, error) {
	id, err := uuid.Parse(strings.TrimSpace(raw))
	if err != nil || id == uuid.Nil {
		return uuid.Nil, dErrors.New(dErrors.CodeValidation, "organization id must be a UUID")
	}
	return id, nil
}
