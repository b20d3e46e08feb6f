package models

import (
	"time"

	"github.com/google/uuid"
)

// Flag names a blocking check that failed.
type Flag string

// Flags in the order the engine records them.
const (
	FlagDocumentValidationFailed Flag = "document_validation_failed"
	FlagDocumentExpired          Flag = "document_expired"
	FlagSpoofDetected            Flag = "spoof_detected"
	FlagBehavioralFraud          Flag = "behavioral_fraud"
	FlagLivenessFailed           Flag = "liveness_failed"
	FlagFaceMatchBelowThreshold  Flag = "face_match_below_threshold"
)

// CheckStatus is the outcome of a single check.
type CheckStatus string

const (
	CheckPass    CheckStatus = "pass"
	CheckFail    CheckStatus = "fail"
	CheckUnknown CheckStatus = "unknown"
	// CheckSkipped means the check could not run; it never counts as a failure.
	CheckSkipped CheckStatus = "skipped"
)

// Check is one entry of the decision checks map.
type Check struct {
	Status CheckStatus `json:"status"`
	Value  any         `json:"value,omitempty"`
	Detail string      `json:"detail,omitempty"`
}

func (c Check) Passed() bool { return c.Status == CheckPass }
func (c Check) Failed() bool { return c.Status == CheckFail }

// RiskSignals summarizes blocking outcomes.
//
// Invariant: Verified is true iff Flags is empty.
type RiskSignals struct {
	Verified bool           `json:"verified"`
	Flags    []Flag         `json:"flags"`
	Signals  map[string]any `json:"signals,omitempty"`
}

// HasFlag reports whether f was raised.
func (r RiskSignals) HasFlag(f Flag) bool {
	for _, flag := range r.Flags {
		if flag == f {
			return true
		}
	}
	return false
}

// DecisionResult is the diagnostic record of the last decision for a
// verification. Reprocessing replaces it wholesale.
type DecisionResult struct {
	VerificationID uuid.UUID        `json:"verification_id"`
	Provider       string           `json:"provider"`
	RawResponses   map[string]any   `json:"raw_responses"`
	Checks         map[string]Check `json:"checks"`
	RiskSignals    RiskSignals      `json:"risk_signals"`
	CreatedAt      time.Time        `json:"created_at"`
	UpdatedAt      time.Time        `json:"updated_at"`
}
