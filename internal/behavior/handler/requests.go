package handler

import (
	"maps"
	"strings"

	"github.com/google/uuid"

	"idverify/internal/verification/models"
	dErrors "idverify/pkg/domain-errors"
)

// RecordSignalsRequest is the telemetry a capture client submits.
type RecordSignalsRequest struct {
	StepRevisits    map[models.Step]int   `json:"step_revisits"`
	StepDurationsMs map[models.Step]int64 `json:"step_durations_ms"`
	TotalDurationMs int64                 `json:"total_duration_ms"`
}

func (r *RecordSignalsRequest) Validate() error {
	for step, n := range r.StepRevisits {
		if !step.IsValid() {
			return dErrors.New(dErrors.CodeValidation, "unknown step in step_revisits: "+string(step))
		}
		if n < 0 {
			return dErrors.New(dErrors.CodeValidation, "step_revisits must not be negative")
		}
	}
	for step, ms := range r.StepDurationsMs {
		if !step.IsValid() {
			return dErrors.New(dErrors.CodeValidation, "unknown step in step_durations_ms: "+string(step))
		}
		if ms < 0 {
			return dErrors.New(dErrors.CodeValidation, "step_durations_ms must not be negative")
		}
	}
	if r.TotalDurationMs < 0 {
		return dErrors.New(dErrors.CodeValidation, "total_duration_ms must not be negative")
	}
	return nil
}

// ToSignals converts the request into the stored model.
func (r *RecordSignalsRequest) ToSignals(verificationID uuid.UUID) *models.BehavioralSignals {
	sig := &models.BehavioralSignals{
		VerificationID:  verificationID,
		StepRevisits:    maps.Clone(r.StepRevisits),
		StepDurationsMs: maps.Clone(r.StepDurationsMs),
		TotalDurationMs: r.TotalDurationMs,
	}
	if sig.StepRevisits == nil {
		sig.StepRevisits = map[models.Step]int{}
	}
	if sig.StepDurationsMs == nil {
		sig.StepDurationsMs = map[models.Step]int64{}
	}
	return sig
}

// ParseVerificationID validates the {id} path parameter.
func ParseVerificationID(raw string) (uuid.UUID, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return uuid.Nil, dErrors.New(dErrors.CodeValidation, "verification id is required")
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, dErrors.New(dErrors.CodeValidation, "verification id must be a UUID")
	}
	return id, nil
}
