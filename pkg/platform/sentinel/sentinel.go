package sentinel

import "errors"

// Sentinel errors for infrastructure facts. Stores and provider adapters return
// these (optionally wrapped) so services can translate them into domain errors.
//
//   - ErrNotFound: row or key does not exist
//   - ErrConflict: a conditional write lost against concurrent state
//   - ErrInvalidState: entity is in the wrong lifecycle state for the operation
//   - ErrUnavailable: dependency temporarily unavailable (circuit open, outage)
var (
	ErrNotFound     = errors.New("not found")
	ErrConflict     = errors.New("conflict")
	ErrInvalidState = errors.New("invalid state")
	ErrUnavailable  = errors.New("unavailable")
)
