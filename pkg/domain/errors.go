package domain

import (
	"errors"
	"fmt"
	"strings"
)

// Sentinel errors matched with errors.Is.
var (
	ErrNotFound            = errors.New("record not found")
	ErrPersistenceConflict = errors.New("stale lock token")
	ErrValidation          = errors.New("change set is invalid")
	ErrExternalService     = errors.New("external service failure")
	ErrDeleteBlocked       = errors.New("delete blocked")
)

// NotFoundError reports a dangling reference or missing record.
type NotFoundError struct {
	ID ID
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("record %s not found", e.ID)
}

// Unwrap allows errors.Is(err, ErrNotFound).
func (e *NotFoundError) Unwrap() error { return ErrNotFound }

// PersistenceConflict is returned when a write carries a stale lock token.
type PersistenceConflict struct {
	ID       ID
	Expected LockToken
	Actual   LockToken
}

func (e *PersistenceConflict) Error() string {
	return fmt.Sprintf("record %s: lock token %d does not match stored token %d", e.ID, e.Expected, e.Actual)
}

// Unwrap allows errors.Is(err, ErrPersistenceConflict).
func (e *PersistenceConflict) Unwrap() error { return ErrPersistenceConflict }

// FieldError describes one failed validation.
type FieldError struct {
	Field   string
	Message string
}

func (f FieldError) String() string {
	return f.Field + " " + f.Message
}

// ValidationError carries the change set's field errors.
type ValidationError struct {
	Type   RecordType
	Fields []FieldError
}

func (e *ValidationError) Error() string {
	parts := make([]string, 0, len(e.Fields))
	for _, f := range e.Fields {
		parts = append(parts, f.String())
	}
	if len(parts) == 0 {
		return fmt.Sprintf("%s change set is invalid", e.Type)
	}
	return fmt.Sprintf("%s change set is invalid: %s", e.Type, strings.Join(parts, "; "))
}

// Unwrap allows errors.Is(err, ErrValidation).
func (e *ValidationError) Unwrap() error { return ErrValidation }

// ExternalServiceError wraps failures of remote collaborators (metadata
// fetchers, identifier minters). Handlers absorb it.
type ExternalServiceError struct {
	Service string
	Err     error
}

func (e *ExternalServiceError) Error() string {
	return fmt.Sprintf("%s: %v", e.Service, e.Err)
}

// Is matches ErrExternalService.
func (e *ExternalServiceError) Is(target error) bool { return target == ErrExternalService }

// Unwrap returns the underlying cause.
func (e *ExternalServiceError) Unwrap() error { return e.Err }

// DeleteBlockedError is raised by pre-delete guards.
type DeleteBlockedError struct {
	ID     ID
	Reason string
}

func (e *DeleteBlockedError) Error() string {
	return fmt.Sprintf("cannot delete %s: %s", e.ID, e.Reason)
}

// Unwrap allows errors.Is(err, ErrDeleteBlocked).
func (e *DeleteBlockedError) Unwrap() error { return ErrDeleteBlocked }

// IsNotFound reports whether err signals a missing record.
func IsNotFound(err error) bool { return errors.Is(err, ErrNotFound) }

// IsConflict reports whether err signals a stale lock token.
func IsConflict(err error) bool { return errors.Is(err, ErrPersistenceConflict) }
