package adapters

import (
	"context"

	"idverify/internal/decision/ports"
	"idverify/internal/verification/models"
)

const (
	structuredExtractPath = "/v1/documents/extract"
	llmExtractPath        = "/v1/documents/extract/llm"
)

type extractRequest struct {
	ImageRef     string `json:"image_ref"`
	DocumentType string `json:"document_type"`
}

type extractResponse struct {
	FullName    string            `json:"full_name"`
	DateOfBirth string            `json:"date_of_birth"`
	IDNumber    string            `json:"id_number"`
	Address     string            `json:"address"`
	ExpiryDate  string            `json:"expiry_date"`
	IssueDate   string            `json:"issue_date"`
	MRZ         []string          `json:"mrz"`
	RawText     string            `json:"raw_text"`
	Fields      map[string]string `json:"fields"`
}

// DocumentClient implements ports.DocumentExtractor against an OCR provider.
// The same provider API serves the structured and the LLM tier on different paths.
type DocumentClient struct {
	client *Client
	path   string
	tier   ports.ExtractionTier
}

// NewStructuredExtractor returns the structured-extraction tier.
func NewStructuredExtractor(client *Client) *DocumentClient {
	return &DocumentClient{client: client, path: structuredExtractPath, tier: ports.TierStructured}
}

// NewLLMExtractor returns the LLM-extraction tier.
func NewLLMExtractor(client *Client) *DocumentClient {
	return &DocumentClient{client: client, path: llmExtractPath, tier: ports.TierLLM}
}

func (d *DocumentClient) Extract(ctx context.Context, imageRef string, docType models.DocumentType) (*ports.ExtractedDocument, error) {
	var resp extractResponse
	err := d.client.postJSON(ctx, d.path, extractRequest{
		ImageRef:     imageRef,
		DocumentType: string(docType),
	}, &resp)
	if err != nil {
		return nil, err
	}
	return &ports.ExtractedDocument{
		FullName:    resp.FullName,
		DateOfBirth: resp.DateOfBirth,
		IDNumber:    resp.IDNumber,
		Address:     resp.Address,
		ExpiryDate:  resp.ExpiryDate,
		IssueDate:   resp.IssueDate,
		MRZ:         resp.MRZ,
		RawText:     resp.RawText,
		Fields:      resp.Fields,
		Tier:        d.tier,
	}, nil
}
