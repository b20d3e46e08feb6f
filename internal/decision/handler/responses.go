package handler

import (
	"github.com/google/uuid"

	"idverify/internal/verification/models"
)

// ProcessResponse is the HTTP response for POST /verifications/{id}/process.
type ProcessResponse struct {
	VerificationID string `json:"verification_id"`
	Status         string `json:"status"`
}

func NewProcessResponse(verificationID uuid.UUID) *ProcessResponse {
	return &ProcessResponse{
		VerificationID: verificationID.String(),
		Status:         string(models.StatusProcessing),
	}
}
