package models

import (
	"strings"

	dErrors "idverify/pkg/domain-errors"
)

// Status is the lifecycle state of a verification.
//
//	pending -> document_uploaded -> liveness_uploaded -> processing -> manual_review | rejected
//
// approved and flagged are set by human review outside this service.
type Status string

const (
	StatusPending          Status = "pending"
	StatusDocumentUploaded Status = "document_uploaded"
	StatusLivenessUploaded Status = "liveness_uploaded"
	StatusProcessing       Status = "processing"
	StatusManualReview     Status = "manual_review"
	StatusRejected         Status = "rejected"
	StatusApproved         Status = "approved"
	StatusFlagged          Status = "flagged"
)

var transitions = map[Status][]Status{
	StatusPending:          {StatusDocumentUploaded},
	StatusDocumentUploaded: {StatusDocumentUploaded, StatusLivenessUploaded, StatusProcessing},
	StatusLivenessUploaded: {StatusLivenessUploaded, StatusProcessing},
	StatusProcessing:       {StatusManualReview, StatusRejected},
	StatusManualReview:     {StatusApproved, StatusRejected, StatusFlagged},
	StatusFlagged:          {StatusApproved, StatusRejected},
}

func (s Status) IsValid() bool {
	switch s {
	case StatusPending, StatusDocumentUploaded, StatusLivenessUploaded, StatusProcessing,
		StatusManualReview, StatusRejected, StatusApproved, StatusFlagged:
		return true
	}
	return false
}

// IsTerminal reports whether no further automated transition happens from s.
func (s Status) IsTerminal() bool {
	switch s {
	case StatusManualReview, StatusRejected, StatusApproved, StatusFlagged:
		return true
	}
	return false
}

// IsHumanReviewed reports whether a reviewer has already ruled on the verification.
func (s Status) IsHumanReviewed() bool {
	return s == StatusApproved || s == StatusFlagged
}

// CanTransitionTo reports whether next is a legal successor of s.
func (s Status) CanTransitionTo(next Status) bool {
	for _, candidate := range transitions[s] {
		if candidate == next {
			return true
		}
	}
	return false
}

// ParseStatus parses a canonical status string.
func ParseStatus(raw string) (Status, error) {
	s := Status(raw)
	if !s.IsValid() {
		return "", dErrors.New(dErrors.CodeInvalidInput, "unknown verification status: "+raw)
	}
	return s, nil
}

// legacyStatuses maps status strings written by older subsystems onto the
// canonical vocabulary. "completed" is ambiguous in the old data (it was used
// both for "decision rendered" and "approved"); it maps to manual_review
// because automated approval is disabled.
var legacyStatuses = map[string]Status{
	"pending":           StatusPending,
	"document_uploaded": StatusDocumentUploaded,
	"liveness_uploaded": StatusLivenessUploaded,
	"processing":        StatusProcessing,
	"completed":         StatusManualReview,
	"manual_review":     StatusManualReview,
	"rejected":          StatusRejected,
	"failed":            StatusRejected,
	"approved":          StatusApproved,
	"verified":          StatusApproved,
	"flagged":           StatusFlagged,
}

// ParseLegacyStatus maps a status in any historical spelling onto the
// canonical state machine. Matching is case-insensitive.
func ParseLegacyStatus(raw string) (Status, error) {
	key := strings.ToLower(strings.TrimSpace(raw))
	if s, ok := legacyStatuses[key]; ok {
		return s, nil
	}
	return "", dErrors.New(dErrors.CodeInvalidInput, "unknown legacy verification status: "+raw)
}
