package ports

import "errors"

var (
	ErrNotFound = errors.New("not found")
	// ErrStatusConflict means the record was not in the expected state for the
	// requested transition, usually because another worker got there first.
	ErrStatusConflict = errors.New("status conflict")
)
