package services

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound is returned when an installed provider is not found for
	// the tenant.
	ErrNotFound = errors.New("provider not found")

	// ErrAlreadyExists is returned when the provider name is already
	// installed for the tenant.
	ErrAlreadyExists = errors.New("provider already exists")
)

// ValidationError wraps field-specific validation errors on request input.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation error on field '%s': %s", e.Field, e.Message)
}

// NewValidationError creates a new validation error
func NewValidationError(field, message string) error {
	return &ValidationError{
		Field:   field,
		Message: message,
	}
}
