package sentinel

import "errors"

// Sentinel errors for infrastructure facts. Stores return these (optionally
// wrapped) and services translate them into domain errors.
//
//   - ErrNotFound: record does not exist
//   - ErrConflict: a compare-and-swap or optimistic version check lost a race
//   - ErrAlreadyUsed: a unique key (case code, slot code, signed act) is taken
//   - ErrInvalidState: record is in the wrong state for the requested write
//   - ErrUnavailable: backing service temporarily unavailable
var (
	ErrNotFound     = errors.New("not found")
	ErrConflict     = errors.New("conflict")
	ErrAlreadyUsed  = errors.New("already used")
	ErrInvalidState = errors.New("invalid state")
	ErrUnavailable  = errors.New("unavailable")
)
