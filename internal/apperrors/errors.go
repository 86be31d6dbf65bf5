// Package apperrors holds the error taxonomy shared by the server and the
// client packages. Callers match with errors.Is; messages are wrapped with
// fmt.Errorf("...: %w") on the way up.
package apperrors

import (
	"errors"
	"strings"
)

var (
	ErrNotFound   = errors.New("not found")
	ErrForbidden  = errors.New("forbidden")
	ErrConflict   = errors.New("conflict")
	ErrValidation = errors.New("validation failed")

	ErrUnauthorized = errors.New("unauthorized")
	ErrRateLimited  = errors.New("rate limit exceeded")
)

// FieldError is used to indicate an error with a specific request field.
type FieldError struct {
	Field string `json:"field"`
	Error string `json:"error"`
}

// ValidationError wraps ErrValidation with per-field detail.
type ValidationError struct {
	Fields []FieldError
}

// NewValidationError returns a *ValidationError for the given fields.
func NewValidationError(flds ...FieldError) error {
	return &ValidationError{Fields: flds}
}

func (e *ValidationError) Error() string {
	if len(e.Fields) == 0 {
		return ErrValidation.Error()
	}
	parts := make([]string, 0, len(e.Fields))
	for _, f := range e.Fields {
		parts = append(parts, f.Field+": "+f.Error)
	}
	return ErrValidation.Error() + ": " + strings.Join(parts, "; ")
}

func (e *ValidationError) Unwrap() error { return ErrValidation }
