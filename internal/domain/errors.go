// Package domain defines the core business entities and errors.
package domain

import (
	"errors"
	"fmt"
)

// Common domain errors used across the application.
var (
	// ErrValidation is returned when a domain entity fails validation.
	// This is often wrapped with a more specific error message.
	ErrValidation = errors.New("validation failed")

	// ErrInvalidID is returned when an ID is malformed or invalid.
	ErrInvalidID = errors.New("invalid ID")

	// ErrInvalidJobStatus is returned when a job status is not valid.
	ErrInvalidJobStatus = errors.New("invalid job status")

	// ErrInvalidItemStatus is returned when a job item status is not valid.
	ErrInvalidItemStatus = errors.New("invalid job item status")

	// ErrUnknownCategory is returned when no producer is registered for a category.
	ErrUnknownCategory = errors.New("unknown category")

	// ErrDuplicateItemName is returned when a submitted item list repeats a name.
	// Item names are the resume identity inside a job and must be unique.
	ErrDuplicateItemName = errors.New("duplicate item name")

	// ErrAlreadyExists is the benign producer outcome for output that already exists.
	// Its message is persisted verbatim on skipped items.
	ErrAlreadyExists = errors.New("Already exists")

	// ErrUnauthorized is returned when an operation is not permitted.
	ErrUnauthorized = errors.New("unauthorized operation")
)

// ValidationError describes a validation failure on a single field.
type ValidationError struct {
	Field   string
	Message string
	Err     error
}

// Error implements the error interface.
func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s %s", e.Field, e.Message)
}

// Unwrap returns the wrapped error to support errors.Is/errors.As.
func (e *ValidationError) Unwrap() error {
	return e.Err
}

// NewValidationError creates a ValidationError for the given field.
func NewValidationError(field, message string, err error) *ValidationError {
	if err == nil {
		err = ErrValidation
	}
	return &ValidationError{Field: field, Message: message, Err: err}
}
