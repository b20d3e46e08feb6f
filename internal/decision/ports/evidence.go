package ports

import (
	"context"

	"github.com/google/uuid"

	"idverify/internal/verification/models"
)

// ExtractionTier names the OCR strategy that produced an ExtractedDocument.
type ExtractionTier string

const (
	TierStructured ExtractionTier = "structured"
	TierLLM        ExtractionTier = "llm"
	TierRegex      ExtractionTier = "regex"
)

// ExtractedDocument holds the identity fields read from a document image.
// Empty strings mean the field was not found.
type ExtractedDocument struct {
	FullName    string
	DateOfBirth string
	IDNumber    string
	Address     string
	ExpiryDate  string
	IssueDate   string
	MRZ         []string
	// RawText is the unstructured OCR text, when the provider returns it.
	RawText string
	Fields  map[string]string
	Tier    ExtractionTier
}

// Usable reports whether the extraction found the name and id number pair
// needed to stop trying further tiers.
func (d *ExtractedDocument) Usable() bool {
	return d != nil && d.FullName != "" && d.IDNumber != ""
}

// DocumentExtractor reads identity fields from a document image.
type DocumentExtractor interface {
	Extract(ctx context.Context, imageRef string, docType models.DocumentType) (*ExtractedDocument, error)
}

// FaceComparison is the result of comparing two face images.
type FaceComparison struct {
	// Similarity is in [0, 100].
	Similarity float64
	IsMatch    bool
	Confidence float64
}

// FaceComparer compares the faces in two images.
type FaceComparer interface {
	Compare(ctx context.Context, refA, refB string, threshold int) (*FaceComparison, error)
}

// FaceDetector counts the faces in an image.
type FaceDetector interface {
	DetectFaces(ctx context.Context, imageRef string) (int, error)
}

// FaceSample is one face detection taken from a video. Center coordinates
// are normalized to the frame, in [0, 1].
type FaceSample struct {
	OffsetSeconds float64
	Faces         int
	CenterX       float64
	CenterY       float64
}

// VideoSampler detects faces at several offsets of a liveness video.
type VideoSampler interface {
	SampleFaces(ctx context.Context, videoRef string) ([]FaceSample, error)
}

// FrameExtractor stores a representative frame of a video and returns its ref.
type FrameExtractor interface {
	ExtractFrame(ctx context.Context, videoRef string) (string, error)
}

// SpoofAnalysis reports screen or print capture signals.
type SpoofAnalysis struct {
	// RiskScore is in [0, 100].
	RiskScore int
	Signals   []string
}

// SpoofAnalyzer looks for signs that images were captured from a screen or print.
type SpoofAnalyzer interface {
	Analyze(ctx context.Context, imageRefs []string) (*SpoofAnalysis, error)
}

// SignalStore returns behavioral telemetry recorded by the client.
// It returns nil, nil when nothing was recorded.
type SignalStore interface {
	Get(ctx context.Context, verificationID uuid.UUID) (*models.BehavioralSignals, error)
}

// MediaFetcher loads the bytes behind a media reference.
type MediaFetcher interface {
	Fetch(ctx context.Context, ref string) ([]byte, error)
}
