package decision

import (
	"time"

	"idverify/internal/verification/models"
)

// Behavioral scoring weights. A session scoring at or above
// BehavioralRiskThreshold is treated as fraudulent.
const (
	BehavioralRiskThreshold = 70

	retryRevisitThreshold = 5
	retryWeight           = 40

	fastCompletionLimit  = 15 * time.Second
	fastCompletionWeight = 40

	slowLivenessLimit  = 90 * time.Second
	slowLivenessWeight = 30

	automatedClientWeight = 40

	maxBehavioralScore = 100
)

// Behavioral risk reasons.
const (
	ReasonManyRetries     = "many_retries"
	ReasonFastCompletion  = "fast_completion"
	ReasonSlowLiveness    = "slow_liveness"
	ReasonAutomatedClient = "automated_client"
)

// BehaviorScore is the weighted risk of a capture session.
type BehaviorScore struct {
	Score   int      `json:"score"`
	Reasons []string `json:"reasons"`
}

// Fraudulent reports whether the score reaches the blocking threshold.
func (b BehaviorScore) Fraudulent() bool {
	return b.Score >= BehavioralRiskThreshold
}

// ScoreBehavior computes a 0-100 risk score from recorded timing signals.
// Pure function. Unrecorded durations never contribute.
func ScoreBehavior(sig *models.BehavioralSignals) BehaviorScore {
	out := BehaviorScore{Reasons: []string{}}
	if sig == nil {
		return out
	}

	if sig.TotalRevisits() >= retryRevisitThreshold {
		out.add(retryWeight, ReasonManyRetries)
	}
	if total := sig.TotalDuration(); total > 0 && total < fastCompletionLimit {
		out.add(fastCompletionWeight, ReasonFastCompletion)
	}
	if sig.StepDuration(models.StepLiveness) > slowLivenessLimit {
		out.add(slowLivenessWeight, ReasonSlowLiveness)
	}
	if sig.Device.Bot {
		out.add(automatedClientWeight, ReasonAutomatedClient)
	}
	return out
}

func (b *BehaviorScore) add(weight int, reason string) {
	b.Score = min(b.Score+weight, maxBehavioralScore)
	b.Reasons = append(b.Reasons, reason)
}
