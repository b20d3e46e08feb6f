package decision

import (
	"math"

	"idverify/internal/decision/ports"
)

const (
	// minSampleGapSeconds is the minimum spacing of two face detections for
	// them to count as distinct moments of the video.
	minSampleGapSeconds = 0.5
	// movementThreshold is the centroid displacement, in normalized frame
	// units, between first and last detection that counts as movement.
	movementThreshold = 0.05
)

// VideoLiveness is the outcome of analyzing the face samples of a video.
type VideoLiveness struct {
	FacePresent      bool    `json:"face_present"`
	MovementDetected bool    `json:"movement_detected"`
	FaceCount        int     `json:"face_count"`
	Movement         float64 `json:"movement"`
}

// Passed reports whether the video shows a present, moving face.
func (v VideoLiveness) Passed() bool {
	return v.FacePresent && v.MovementDetected
}

// AnalyzeSamples decides face presence and movement from video face samples.
// Pure function: samples are expected in any order of offset.
func AnalyzeSamples(samples []ports.FaceSample) VideoLiveness {
	var (
		out           VideoLiveness
		first, last   *ports.FaceSample
		detectedCount int
	)
	for i := range samples {
		s := &samples[i]
		if s.Faces > out.FaceCount {
			out.FaceCount = s.Faces
		}
		if s.Faces <= 0 {
			continue
		}
		detectedCount++
		if first == nil || s.OffsetSeconds < first.OffsetSeconds {
			first = s
		}
		if last == nil || s.OffsetSeconds > last.OffsetSeconds {
			last = s
		}
	}
	if detectedCount < 2 || first == nil || last == nil {
		return out
	}

	out.FacePresent = last.OffsetSeconds-first.OffsetSeconds >= minSampleGapSeconds
	out.Movement = math.Hypot(last.CenterX-first.CenterX, last.CenterY-first.CenterY)
	out.MovementDetected = out.Movement > movementThreshold
	return out
}
