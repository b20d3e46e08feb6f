package adapters

import (
	"context"

	"idverify/internal/decision/ports"
)

const spoofAnalyzePath = "/v1/spoof/analyze"

type spoofRequest struct {
	ImageRefs []string `json:"image_refs"`
}

type spoofResponse struct {
	RiskScore int      `json:"risk_score"`
	Signals   []string `json:"signals"`
}

// SpoofClient implements ports.SpoofAnalyzer.
type SpoofClient struct {
	client *Client
}

func NewSpoofClient(client *Client) *SpoofClient {
	return &SpoofClient{client: client}
}

func (s *SpoofClient) Analyze(ctx context.Context, imageRefs []string) (*ports.SpoofAnalysis, error) {
	var resp spoofResponse
	if err := s.client.postJSON(ctx, spoofAnalyzePath, spoofRequest{ImageRefs: imageRefs}, &resp); err != nil {
		return nil, err
	}
	if resp.RiskScore < 0 || resp.RiskScore > 100 {
		return nil, ports.NewProviderError(ports.ErrorBadData, s.client.ProviderID(), "risk score out of range", nil)
	}
	return &ports.SpoofAnalysis{RiskScore: resp.RiskScore, Signals: resp.Signals}, nil
}
