package decision

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"idverify/internal/decision/ports"
	"idverify/internal/verification/models"
)

func TestAnalyzeSamples(t *testing.T) {
	tests := []struct {
		name     string
		samples  []ports.FaceSample
		present  bool
		movement bool
	}{
		{
			name:    "no samples",
			samples: nil,
		},
		{
			name: "single detection is not enough",
			samples: []ports.FaceSample{
				{OffsetSeconds: 0, Faces: 1, CenterX: 0.5, CenterY: 0.5},
				{OffsetSeconds: 1, Faces: 0},
			},
		},
		{
			name: "detections too close together",
			samples: []ports.FaceSample{
				{OffsetSeconds: 1.0, Faces: 1, CenterX: 0.4, CenterY: 0.5},
				{OffsetSeconds: 1.3, Faces: 1, CenterX: 0.6, CenterY: 0.5},
			},
			movement: true,
		},
		{
			name: "present but static",
			samples: []ports.FaceSample{
				{OffsetSeconds: 0, Faces: 1, CenterX: 0.50, CenterY: 0.50},
				{OffsetSeconds: 1, Faces: 1, CenterX: 0.51, CenterY: 0.50},
				{OffsetSeconds: 2, Faces: 1, CenterX: 0.52, CenterY: 0.51},
			},
			present: true,
		},
		{
			name: "present and moving in any sample order",
			samples: []ports.FaceSample{
				{OffsetSeconds: 2, Faces: 1, CenterX: 0.60, CenterY: 0.55},
				{OffsetSeconds: 0, Faces: 1, CenterX: 0.50, CenterY: 0.50},
				{OffsetSeconds: 1, Faces: 0},
			},
			present:  true,
			movement: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := AnalyzeSamples(tt.samples)
			assert.Equal(t, tt.present, got.FacePresent)
			assert.Equal(t, tt.movement, got.MovementDetected)
			assert.Equal(t, tt.present && tt.movement, got.Passed())
		})
	}
}

func TestScoreBehavior(t *testing.T) {
	tests := []struct {
		name       string
		signals    *models.BehavioralSignals
		score      int
		reasons    []string
		fraudulent bool
	}{
		{
			name:    "no signals",
			signals: nil,
			reasons: []string{},
		},
		{
			name: "ordinary session",
			signals: &models.BehavioralSignals{
				StepRevisits:    map[models.Step]int{models.StepDocument: 1},
				StepDurationsMs: map[models.Step]int64{models.StepLiveness: 20_000},
				TotalDurationMs: 120_000,
			},
			reasons: []string{},
		},
		{
			name: "many retries alone stay below threshold",
			signals: &models.BehavioralSignals{
				StepRevisits:    map[models.Step]int{models.StepDocument: 3, models.StepSelfie: 2},
				TotalDurationMs: 120_000,
			},
			score:   40,
			reasons: []string{ReasonManyRetries},
		},
		{
			name: "fast completion with retries is fraudulent",
			signals: &models.BehavioralSignals{
				StepRevisits:    map[models.Step]int{models.StepDocument: 5},
				TotalDurationMs: 9_000,
			},
			score:      80,
			reasons:    []string{ReasonManyRetries, ReasonFastCompletion},
			fraudulent: true,
		},
		{
			name: "slow liveness and bot client",
			signals: &models.BehavioralSignals{
				StepDurationsMs: map[models.Step]int64{models.StepLiveness: 95_000},
				TotalDurationMs: 200_000,
				Device:          models.Device{Bot: true},
			},
			score:      70,
			reasons:    []string{ReasonSlowLiveness, ReasonAutomatedClient},
			fraudulent: true,
		},
		{
			name: "score is capped",
			signals: &models.BehavioralSignals{
				StepRevisits:    map[models.Step]int{models.StepReview: 9},
				StepDurationsMs: map[models.Step]int64{models.StepLiveness: 100_000},
				TotalDurationMs: 10_000,
				Device:          models.Device{Bot: true},
			},
			score:      100,
			reasons:    []string{ReasonManyRetries, ReasonFastCompletion, ReasonSlowLiveness, ReasonAutomatedClient},
			fraudulent: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ScoreBehavior(tt.signals)
			assert.Equal(t, tt.score, got.Score)
			assert.Equal(t, tt.reasons, got.Reasons)
			assert.Equal(t, tt.fraudulent, got.Fraudulent())
		})
	}
}
