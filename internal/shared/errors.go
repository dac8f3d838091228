package shared

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrValidation marks input or business rule violations. Never retried.
	ErrValidation = errors.New("validation failed")
	// ErrConflict marks a lost optimistic or transactional race.
	ErrConflict = errors.New("write conflict")
	// ErrNotFound indicates resource not found.
	ErrNotFound = errors.New("not found")
	// ErrDependency marks an unreachable store or collaborator.
	ErrDependency = errors.New("dependency unavailable")
	// ErrForbidden indicates the actor may not perform the operation.
	ErrForbidden = errors.New("forbidden")
)

// ValidationError describes a single actionable validation failure.
type ValidationError struct {
	Field   string `json:"field,omitempty"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// NewValidationError builds a ValidationError.
func NewValidationError(field, code, message string) *ValidationError {
	return &ValidationError{Field: field, Code: code, Message: message}
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("%s: %s", e.Code, e.Message)
	}
	return fmt.Sprintf("%s: %s: %s", e.Field, e.Code, e.Message)
}

// Unwrap exposes ErrValidation to errors.Is.
func (e *ValidationError) Unwrap() error { return ErrValidation }

// ValidationErrors aggregates several validation failures.
type ValidationErrors []*ValidationError

func (v ValidationErrors) Error() string {
	parts := make([]string, 0, len(v))
	for _, e := range v {
		parts = append(parts, e.Error())
	}
	return strings.Join(parts, "; ")
}

// Unwrap exposes ErrValidation to errors.Is.
func (v ValidationErrors) Unwrap() error { return ErrValidation }

// Err returns nil for an empty list.
func (v ValidationErrors) Err() error {
	if len(v) == 0 {
		return nil
	}
	return v
}

// AsValidation extracts validation failures from err.
func AsValidation(err error) []*ValidationError {
	var many ValidationErrors
	if errors.As(err, &many) {
		return many
	}
	var one *ValidationError
	if errors.As(err, &one) {
		return []*ValidationError{one}
	}
	return nil
}

// IsRetryable reports whether err is a conflict worth retrying.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrConflict)
}
