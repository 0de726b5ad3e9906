package domain

import (
	"errors"
	"fmt"
)

// Domain errors represent business logic failures.
// These are distinct from infrastructure errors.
var (
	// ErrNotFound indicates a requested entity does not exist.
	ErrNotFound = errors.New("not found")

	// ErrInvalidInput indicates malformed or invalid input.
	// It is never retried.
	ErrInvalidInput = errors.New("invalid input")

	// ErrConflict indicates an optimistic version token was stale.
	// Callers re-read the record and reapply their change.
	ErrConflict = errors.New("version conflict")

	// ErrTransientStorage indicates the store or index timed out or was
	// unavailable. Callers retry with bounded backoff.
	ErrTransientStorage = errors.New("transient storage failure")

	// ErrDetectorUnavailable indicates no detector is configured.
	ErrDetectorUnavailable = errors.New("detector unavailable")
)

// ValidationError describes a malformed required field.
// It matches ErrInvalidInput under errors.Is.
type ValidationError struct {
	Field  string
	Reason string
}

// NewValidationError creates a ValidationError for the given field.
func NewValidationError(field, reason string) *ValidationError {
	return &ValidationError{Field: field, Reason: reason}
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// Is reports whether target is ErrInvalidInput.
func (e *ValidationError) Is(target error) bool {
	return target == ErrInvalidInput
}

// IsRetryable reports whether err is worth retrying after backoff.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrTransientStorage) || errors.Is(err, ErrConflict)
}
