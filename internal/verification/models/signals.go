package models

import (
	"time"

	"github.com/google/uuid"
)

// Step names a client-side capture step.
type Step string

const (
	StepDocument Step = "document"
	StepSelfie   Step = "selfie"
	StepLiveness Step = "liveness"
	StepReview   Step = "review"
)

// IsValid reports whether s is a known capture step.
func (s Step) IsValid() bool {
	switch s {
	case StepDocument, StepSelfie, StepLiveness, StepReview:
		return true
	}
	return false
}

// Device is the client device derived from the submitting User-Agent.
type Device struct {
	Type    string `json:"type"`
	OS      string `json:"os,omitempty"`
	Browser string `json:"browser,omitempty"`
	Bot     bool   `json:"bot"`
}

// BehavioralSignals is the client timing telemetry recorded for a verification.
type BehavioralSignals struct {
	VerificationID  uuid.UUID      `json:"verification_id"`
	StepRevisits    map[Step]int   `json:"step_revisits"`
	StepDurationsMs map[Step]int64 `json:"step_durations_ms"`
	TotalDurationMs int64          `json:"total_duration_ms"`
	Device          Device         `json:"device"`
	RecordedAt      time.Time      `json:"recorded_at"`
}

// TotalRevisits sums revisits across all steps.
func (b *BehavioralSignals) TotalRevisits() int {
	if b == nil {
		return 0
	}
	total := 0
	for _, n := range b.StepRevisits {
		total += n
	}
	return total
}

// StepDuration returns the recorded duration of step, or zero.
func (b *BehavioralSignals) StepDuration(step Step) time.Duration {
	if b == nil {
		return 0
	}
	return time.Duration(b.StepDurationsMs[step]) * time.Millisecond
}

// TotalDuration returns the end-to-end session duration.
func (b *BehavioralSignals) TotalDuration() time.Duration {
	if b == nil {
		return 0
	}
	return time.Duration(b.TotalDurationMs) * time.Millisecond
}
