package models

import (
	"time"

	"github.com/google/uuid"
)

// Webhook event names.
const (
	EventManualReviewRequired = "manual_review_required"
	EventVerificationRejected = "verification_rejected"
)

// WebhookSubscription is an organization's outbound notification target.
type WebhookSubscription struct {
	OrganizationID uuid.UUID `json:"organization_id"`
	URL            string    `json:"url"`
	// Events maps event name to enabled. Events missing from the map are enabled.
	Events    map[string]bool `json:"events"`
	UpdatedAt time.Time       `json:"updated_at"`
}

// Wants reports whether event should be delivered to this subscription.
func (s *WebhookSubscription) Wants(event string) bool {
	if s == nil || s.URL == "" {
		return false
	}
	enabled, ok := s.Events[event]
	return !ok || enabled
}
