package models

import (
	"time"

	"github.com/google/uuid"
)

// Field names an OCR-derived identity attribute.
type Field string

const (
	FieldFullName    Field = "full_name"
	FieldDateOfBirth Field = "date_of_birth"
	FieldIDNumber    Field = "id_number"
	FieldAddress     Field = "address"
	FieldExpiryDate  Field = "expiry_date"
)

// ExtractedIdentity is the PII record of a verification: captured media
// references plus the identity fields read from the document.
type ExtractedIdentity struct {
	VerificationID    uuid.UUID
	DocumentFrontRef  string
	DocumentBackRef   string
	LivenessImageRef  string
	LivenessVideoRef  string
	LivenessFrameRefs []string

	FullName    *string
	DateOfBirth *string
	IDNumber    *string
	Address     *string
	ExpiryDate  *string

	ExtractedFields map[string]string
	// ConfirmedFields were confirmed by the user and are never overwritten.
	ConfirmedFields map[Field]bool
	UpdatedAt       time.Time
}

// IdentityFields are values read from a document by OCR.
type IdentityFields struct {
	FullName    string
	DateOfBirth string
	IDNumber    string
	Address     string
	ExpiryDate  string
	Extra       map[string]string
}

func (p *ExtractedIdentity) HasDocument() bool {
	return p != nil && p.DocumentFrontRef != ""
}

func (p *ExtractedIdentity) HasLivenessVideo() bool {
	return p != nil && p.LivenessVideoRef != ""
}

func (p *ExtractedIdentity) HasLivenessImage() bool {
	return p != nil && p.LivenessImageRef != ""
}

// IsConfirmed reports whether the user confirmed field f.
func (p *ExtractedIdentity) IsConfirmed(f Field) bool {
	return p != nil && p.ConfirmedFields[f]
}

// Value returns the current value of f, or "" when unset.
func (p *ExtractedIdentity) Value(f Field) string {
	if p == nil {
		return ""
	}
	if ptr := p.fieldPtr(f); ptr != nil && *ptr != nil {
		return **ptr
	}
	return ""
}

func (p *ExtractedIdentity) fieldPtr(f Field) **string {
	switch f {
	case FieldFullName:
		return &p.FullName
	case FieldDateOfBirth:
		return &p.DateOfBirth
	case FieldIDNumber:
		return &p.IDNumber
	case FieldAddress:
		return &p.Address
	case FieldExpiryDate:
		return &p.ExpiryDate
	}
	return nil
}

// Coalesce merges freshly extracted values into the record. Empty values
// never clear a field and confirmed fields are left untouched. It returns the
// fields that changed.
func (p *ExtractedIdentity) Coalesce(in IdentityFields, now time.Time) []Field {
	updates := []struct {
		field Field
		value string
	}{
		{FieldFullName, in.FullName},
		{FieldDateOfBirth, in.DateOfBirth},
		{FieldIDNumber, in.IDNumber},
		{FieldAddress, in.Address},
		{FieldExpiryDate, in.ExpiryDate},
	}

	var changed []Field
	for _, u := range updates {
		if u.value == "" || p.IsConfirmed(u.field) {
			continue
		}
		ptr := p.fieldPtr(u.field)
		if *ptr != nil && **ptr == u.value {
			continue
		}
		v := u.value
		*ptr = &v
		changed = append(changed, u.field)
	}

	if len(in.Extra) > 0 {
		if p.ExtractedFields == nil {
			p.ExtractedFields = make(map[string]string, len(in.Extra))
		}
		for k, v := range in.Extra {
			if v != "" {
				p.ExtractedFields[k] = v
			}
		}
	}
	if len(changed) > 0 {
		p.UpdatedAt = now
	}
	return changed
}
