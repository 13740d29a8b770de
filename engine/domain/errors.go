package domain

import (
	"errors"
	"fmt"
)

// Sentinel errors for validation and workflow failures.
var (
	ErrNotFound                = errors.New("not found")
	ErrRequired                = errors.New("required field missing")
	ErrInvalidEmail            = errors.New("invalid email")
	ErrInvalidUserType         = errors.New("invalid user type")
	ErrInvalidStatus           = errors.New("invalid vendor status")
	ErrInvalidStatusTransition = errors.New("invalid status transition")
	ErrInvalidCredentials      = errors.New("invalid credentials")
	ErrInvalidLocation         = errors.New("invalid coordinates")
	ErrDuplicateUser           = errors.New("user already registered")
	ErrUnknownUser             = errors.New("unknown user")
	ErrForbidden               = errors.New("forbidden")
	ErrSelfRegisterAdmin       = errors.New("admin accounts cannot be self-registered")
)

// ValidationError wraps a sentinel with context.
type ValidationError struct {
	Field   string
	Value   string
	Wrapped error
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation: %s: %s (value=%q)", e.Wrapped, e.Field, e.Value)
}

func (e *ValidationError) Unwrap() error { return e.Wrapped }

// NewValidationError creates a ValidationError.
func NewValidationError(field, value string, wrapped error) *ValidationError {
	return &ValidationError{Field: field, Value: value, Wrapped: wrapped}
}

// IsValidation reports whether err came from input validation.
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}
