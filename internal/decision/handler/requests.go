package handler

import (
	"strings"

	"github.com/google/uuid"

	dErrors "idverify/pkg/domain-errors"
)

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
