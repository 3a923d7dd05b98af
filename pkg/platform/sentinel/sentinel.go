package sentinel

import "errors"

// Sentinel errors for infrastructure facts. Stores return these (optionally
// wrapped) and services translate them into coded domain errors.
//
//   - ErrNotFound: the record does not exist in the store
//   - ErrConflict: a record with the same identity already exists
//   - ErrAlreadyUsed: a single-use resource (key request, ticket) was consumed
//   - ErrInvalidState: the record is in the wrong state for the operation
//   - ErrUnavailable: the backing store could not be reached
var (
	ErrNotFound     = errors.New("not found")
	ErrConflict     = errors.New("conflict")
	ErrAlreadyUsed  = errors.New("already used")
	ErrInvalidState = errors.New("invalid state")
	ErrUnavailable  = errors.New("unavailable")
)
