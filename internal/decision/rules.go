package decision

import (
	"math"

	"idverify/internal/verification/models"
)

// Score weights used when no face similarity is available. Without a
// similarity the face-match share of the weighted score is zero.
const (
	weightDocument = 40
	weightOCR      = 20
	weightLiveness = 20

	informationalCost = 5
	perfectFaceMatch  = 100
)

// Assessment is the evidence gathered for one verification, reduced to the
// values aggregation needs.
type Assessment struct {
	DocumentValid bool
	OCRMatch      bool
	Liveness      models.CheckStatus
	// Similarity is nil when no face comparison produced a value.
	Similarity          *float64
	Threshold           int
	Expired             bool
	Spoofed             bool
	BehavioralFraud     bool
	FailedInformational int
}

// Verdict is the aggregated outcome of an Assessment.
type Verdict struct {
	Verified      bool
	Flags         []models.Flag
	MatchScore    int
	RiskLevel     models.RiskLevel
	FailureReason string
}

// Outcome converts the verdict for Verification.ApplyDecision.
func (v Verdict) Outcome() models.Outcome {
	return models.Outcome{
		Verified:      v.Verified,
		MatchScore:    v.MatchScore,
		RiskLevel:     v.RiskLevel,
		FailureReason: v.FailureReason,
	}
}

// Aggregate fuses an assessment into a verdict.
// This is pure domain logic - no I/O, no side effects.
func Aggregate(a Assessment) Verdict {
	flags := collectFlags(a)
	v := Verdict{
		Verified:   len(flags) == 0,
		Flags:      flags,
		MatchScore: matchScore(a),
	}
	v.RiskLevel = riskLevel(v, a.FailedInformational)
	if !v.Verified {
		v.FailureReason = failureReason(flags)
	}
	return v
}

// faceBelowThreshold is true only for a known similarity under the threshold.
// A perfect match always passes, whatever the threshold.
func faceBelowThreshold(a Assessment) bool {
	if a.Similarity == nil {
		return false
	}
	s := *a.Similarity
	return s < float64(a.Threshold) && s != perfectFaceMatch
}

// collectFlags lists every failed blocking condition, in reporting order:
//  1. Document validation
//  2. Document expiry
//  3. Spoof detection
//  4. Behavioral fraud
//  5. Liveness
//  6. Face match threshold
func collectFlags(a Assessment) []models.Flag {
	flags := []models.Flag{}
	if !a.DocumentValid {
		flags = append(flags, models.FlagDocumentValidationFailed)
	}
	if a.Expired {
		flags = append(flags, models.FlagDocumentExpired)
	}
	if a.Spoofed {
		flags = append(flags, models.FlagSpoofDetected)
	}
	if a.BehavioralFraud {
		flags = append(flags, models.FlagBehavioralFraud)
	}
	if a.Liveness != models.CheckPass {
		flags = append(flags, models.FlagLivenessFailed)
	}
	if faceBelowThreshold(a) {
		flags = append(flags, models.FlagFaceMatchBelowThreshold)
	}
	return flags
}

func matchScore(a Assessment) int {
	deduction := a.FailedInformational * informationalCost
	if a.Similarity != nil {
		return clamp(int(math.Round(*a.Similarity)) - deduction)
	}

	score := 0
	if a.DocumentValid {
		score += weightDocument
	}
	if a.OCRMatch {
		score += weightOCR
	}
	if a.Liveness == models.CheckPass {
		score += weightLiveness
	}
	return clamp(score - deduction)
}

func riskLevel(v Verdict, failedInformational int) models.RiskLevel {
	switch {
	case len(v.Flags) == 0 && v.Verified && failedInformational == 0:
		return models.RiskLow
	case len(v.Flags) >= 2 || hasFlag(v.Flags, models.FlagFaceMatchBelowThreshold) || hasFlag(v.Flags, models.FlagBehavioralFraud):
		return models.RiskHigh
	default:
		return models.RiskMedium
	}
}

// failureReason picks the reason of a rejected verdict. Rule priority,
// first match wins:
//  1. Expired document
//  2. Spoof detected
//  3. Behavioral fraud
//  4. Document validation failed
//  5. Face match too low
//  6. Liveness failed
//  7. Generic low score
func failureReason(flags []models.Flag) string {
	priority := []struct {
		flag   models.Flag
		reason string
	}{
		{models.FlagDocumentExpired, models.FailureReasonDocumentExpired},
		{models.FlagSpoofDetected, models.FailureReasonSpoofDetected},
		{models.FlagBehavioralFraud, models.FailureReasonBehavioralFraud},
		{models.FlagDocumentValidationFailed, models.FailureReasonDocumentValidationFailed},
		{models.FlagFaceMatchBelowThreshold, models.FailureReasonFaceMatchTooLow},
		{models.FlagLivenessFailed, models.FailureReasonLivenessFailed},
	}
	for _, p := range priority {
		if hasFlag(flags, p.flag) {
			return p.reason
		}
	}
	return models.FailureReasonMatchScoreTooLow
}

func hasFlag(flags []models.Flag, f models.Flag) bool {
	for _, flag := range flags {
		if flag == f {
			return true
		}
	}
	return false
}

func clamp(score int) int {
	return max(0, min(100, score))
}
