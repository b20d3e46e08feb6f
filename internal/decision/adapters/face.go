package adapters

import (
	"context"

	"idverify/internal/decision/ports"
)

const (
	compareFacesPath = "/v1/faces/compare"
	detectFacesPath  = "/v1/faces/detect"
	sampleVideoPath  = "/v1/videos/faces"
	extractFramePath = "/v1/videos/frame"
)

type compareRequest struct {
	SourceRef string `json:"source_ref"`
	TargetRef string `json:"target_ref"`
	Threshold int    `json:"threshold"`
}

type compareResponse struct {
	Similarity float64 `json:"similarity"`
	IsMatch    bool    `json:"is_match"`
	Confidence float64 `json:"confidence"`
}

type imageRequest struct {
	ImageRef string `json:"image_ref"`
}

type detectResponse struct {
	FaceCount int `json:"face_count"`
}

type videoRequest struct {
	VideoRef string `json:"video_ref"`
}

type sampleResponse struct {
	Samples []struct {
		OffsetSeconds float64 `json:"offset_seconds"`
		FaceCount     int     `json:"face_count"`
		CenterX       float64 `json:"center_x"`
		CenterY       float64 `json:"center_y"`
	} `json:"samples"`
}

type frameResponse struct {
	FrameRef string `json:"frame_ref"`
}

// FaceClient implements the face and video ports against one vision provider.
type FaceClient struct {
	client *Client
}

func NewFaceClient(client *Client) *FaceClient {
	return &FaceClient{client: client}
}

func (f *FaceClient) Compare(ctx context.Context, refA, refB string, threshold int) (*ports.FaceComparison, error) {
	var resp compareResponse
	if err := f.client.postJSON(ctx, compareFacesPath, compareRequest{
		SourceRef: refA,
		TargetRef: refB,
		Threshold: threshold,
	}, &resp); err != nil {
		return nil, err
	}
	if resp.Similarity < 0 || resp.Similarity > 100 {
		return nil, ports.NewProviderError(ports.ErrorBadData, f.client.ProviderID(), "similarity out of range", nil)
	}
	return &ports.FaceComparison{
		Similarity: resp.Similarity,
		IsMatch:    resp.IsMatch,
		Confidence: resp.Confidence,
	}, nil
}

func (f *FaceClient) DetectFaces(ctx context.Context, imageRef string) (int, error) {
	var resp detectResponse
	if err := f.client.postJSON(ctx, detectFacesPath, imageRequest{ImageRef: imageRef}, &resp); err != nil {
		return 0, err
	}
	return resp.FaceCount, nil
}

func (f *FaceClient) SampleFaces(ctx context.Context, videoRef string) ([]ports.FaceSample, error) {
	var resp sampleResponse
	if err := f.client.postJSON(ctx, sampleVideoPath, videoRequest{VideoRef: videoRef}, &resp); err != nil {
		return nil, err
	}
	samples := make([]ports.FaceSample, 0, len(resp.Samples))
	for _, s := range resp.Samples {
		samples = append(samples, ports.FaceSample{
			OffsetSeconds: s.OffsetSeconds,
			Faces:         s.FaceCount,
			CenterX:       s.CenterX,
			CenterY:       s.CenterY,
		})
	}
	return samples, nil
}

func (f *FaceClient) ExtractFrame(ctx context.Context, videoRef string) (string, error) {
	var resp frameResponse
	if err := f.client.postJSON(ctx, extractFramePath, videoRequest{VideoRef: videoRef}, &resp); err != nil {
		return "", err
	}
	if resp.FrameRef == "" {
		return "", ports.NewProviderError(ports.ErrorBadData, f.client.ProviderID(), "empty frame ref", nil)
	}
	return resp.FrameRef, nil
}
