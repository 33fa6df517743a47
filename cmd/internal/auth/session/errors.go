package session

import "errors"

var (
	// ErrSessionNotFound is returned when no live record matches.
	ErrSessionNotFound = errors.New("session not found")

	// ErrRotationConflict is returned when the stored token hash no longer
	// matches the one the caller observed (another rotation won).
	ErrRotationConflict = errors.New("session rotation conflict")

	// ErrInvalidRecord is returned when a record is missing required fields.
	ErrInvalidRecord = errors.New("invalid session record")
)
