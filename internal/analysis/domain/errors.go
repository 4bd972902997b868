package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrJobNotFound is returned when a job cannot be found in the store
	ErrJobNotFound = errors.New("job not found")

	// ErrNoJobAvailable is returned when no job is eligible for lease
	ErrNoJobAvailable = errors.New("no job available")

	// ErrLeaseLost is returned when the caller no longer holds the lease it is acting on
	ErrLeaseLost = errors.New("lease lost or job not leased by this owner")

	// ErrInvalidStateTransition is returned when a job is not in a state that allows the operation
	ErrInvalidStateTransition = errors.New("invalid job state transition")

	// ErrQueueUnavailable is returned when the job cannot be persisted or enqueued
	ErrQueueUnavailable = errors.New("queue unavailable")
)

// ValidationError describes bad submission input
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Message)
}

// NewValidationError creates a new validation error
func NewValidationError(field, message string) error {
	return &ValidationError{Field: field, Message: message}
}

// TransientError wraps execution failures that are worth retrying
type TransientError struct {
	Err error
}

func (e *TransientError) Error() string {
	return "transient error: " + e.Err.Error()
}

func (e *TransientError) Unwrap() error {
	return e.Err
}

// NewTransientError creates a new transient execution error
func NewTransientError(err error) error {
	return &TransientError{Err: err}
}

// PermanentError wraps execution failures that retrying cannot fix
type PermanentError struct {
	Err error
}

func (e *PermanentError) Error() string {
	return "permanent error: " + e.Err.Error()
}

func (e *PermanentError) Unwrap() error {
	return e.Err
}

// NewPermanentError creates a new permanent execution error
func NewPermanentError(err error) error {
	return &PermanentError{Err: err}
}

// IsPermanent reports whether err short-circuits to dead-letter.
// Anything not explicitly permanent is treated as transient.
func IsPermanent(err error) bool {
	var permanentErr *PermanentError
	return errors.As(err, &permanentErr)
}

// IsValidation reports whether err is a ValidationError
func IsValidation(err error) bool {
	var validationErr *ValidationError
	return errors.As(err, &validationErr)
}
