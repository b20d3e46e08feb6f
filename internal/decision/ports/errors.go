package ports

import (
	"errors"
	"fmt"
)

// ErrorCategory is the normalized failure taxonomy of evidence providers.
type ErrorCategory string

const (
	ErrorTimeout        ErrorCategory = "timeout"
	ErrorBadData        ErrorCategory = "bad_data"
	ErrorAuthentication ErrorCategory = "authentication"
	ErrorProviderOutage ErrorCategory = "provider_outage"
	ErrorNotFound       ErrorCategory = "not_found"
	ErrorRateLimited    ErrorCategory = "rate_limited"
	// ErrorCircuitOpen means the call was refused without reaching the provider.
	ErrorCircuitOpen ErrorCategory = "circuit_open"
	ErrorInternal    ErrorCategory = "internal"
)

// ProviderError wraps an evidence provider failure with its category.
type ProviderError struct {
	Category   ErrorCategory
	ProviderID string
	Message    string
	Underlying error
}

func (e *ProviderError) Error() string {
	if e.Underlying != nil {
		return fmt.Sprintf("provider %s [%s]: %s: %v", e.ProviderID, e.Category, e.Message, e.Underlying)
	}
	return fmt.Sprintf("provider %s [%s]: %s", e.ProviderID, e.Category, e.Message)
}

func (e *ProviderError) Unwrap() error {
	return e.Underlying
}

// NewProviderError creates a categorized provider error.
func NewProviderError(category ErrorCategory, providerID, message string, underlying error) *ProviderError {
	return &ProviderError{
		Category:   category,
		ProviderID: providerID,
		Message:    message,
		Underlying: underlying,
	}
}

// CategoryOf extracts the category of err, defaulting to ErrorInternal.
func CategoryOf(err error) ErrorCategory {
	var pe *ProviderError
	if errors.As(err, &pe) {
		return pe.Category
	}
	return ErrorInternal
}

// CountsAsOutage reports whether err says something about provider health,
// as opposed to the input being bad.
func CountsAsOutage(err error) bool {
	switch CategoryOf(err) {
	case ErrorTimeout, ErrorProviderOutage, ErrorRateLimited, ErrorInternal:
		return true
	}
	return false
}
