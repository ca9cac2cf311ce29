package storage

import "errors"

var (
	// ErrNotFound is returned by lookups that find no matching row.
	ErrNotFound = errors.New("storage: not found")
	// ErrPreconditionFailed is returned by WriteEntity when an If-Match or
	// If-None-Match precondition does not hold.
	ErrPreconditionFailed = errors.New("storage: precondition failed")
	// ErrSlugConflict is returned when a create collides with an existing
	// live slug in the same scope.
	ErrSlugConflict = errors.New("storage: slug conflict")
)
