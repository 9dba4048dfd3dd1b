package errors

import (
	"context"
	"errors"
	"fmt"
)

// Generic error types

var (
	// ErrNotFound indicates a resource was not found
	ErrNotFound = errors.New("resource not found")

	// ErrInvalidInput indicates invalid input parameters
	ErrInvalidInput = errors.New("invalid input")

	// ErrInternal indicates an internal error
	ErrInternal = errors.New("internal error")

	// ErrTimeout indicates an operation timeout
	ErrTimeout = errors.New("operation timeout")

	// ErrUnavailable indicates a dependency is unavailable
	ErrUnavailable = errors.New("service unavailable")
)

// Cost analysis errors

var (
	// ErrInvalidRange indicates to_date <= from_date or a window shorter than one granularity step.
	// Rejected synchronously, never queued as a job.
	ErrInvalidRange = errors.New("invalid date range")

	// ErrUpstreamUnavailable indicates the consumption or estimate provider failed.
	// This is the retryable error class.
	ErrUpstreamUnavailable = errors.New("upstream unavailable")

	// ErrProjectionOverflow indicates the projection cap was reached before the target date
	ErrProjectionOverflow = errors.New("projection period cap exceeded")

	// ErrBudgetNotFound indicates the requested budget does not exist
	ErrBudgetNotFound = errors.New("budget not found")

	// ErrCurrencyMismatch indicates records with different currencies in one query
	ErrCurrencyMismatch = errors.New("currency mismatch")
)

// Job errors

var (
	// ErrJobNotFound indicates the job id is unknown, evicted, or owned by another session
	ErrJobNotFound = errors.New("job not found")

	// ErrJobTimeout indicates a job exceeded its wall-clock deadline
	ErrJobTimeout = errors.New("job timed out")

	// ErrQueueFull indicates the job queue cannot accept more submissions
	ErrQueueFull = errors.New("job queue full")

	// ErrInvalidTransition indicates a backward or repeated job status transition
	ErrInvalidTransition = errors.New("invalid job status transition")

	// ErrJobAbandoned indicates no worker will ever finish the job: it was queued at
	// shutdown or outlived its deadline without an outcome
	ErrJobAbandoned = errors.New("job abandoned")
)

// Error codes recorded on failed jobs
const (
	CodeInvalidRange        = "invalid_range"
	CodeUpstreamUnavailable = "upstream_unavailable"
	CodeProjectionOverflow  = "projection_overflow"
	CodeBudgetNotFound      = "budget_not_found"
	CodeCurrencyMismatch    = "currency_mismatch"
	CodeTimeout             = "timeout"
	CodeAbandoned           = "abandoned"
	CodeInternal            = "internal"
)

// Code classifies an error into a stable machine-readable code
func Code(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrInvalidRange):
		return CodeInvalidRange
	case errors.Is(err, ErrUpstreamUnavailable):
		return CodeUpstreamUnavailable
	case errors.Is(err, ErrProjectionOverflow):
		return CodeProjectionOverflow
	case errors.Is(err, ErrBudgetNotFound):
		return CodeBudgetNotFound
	case errors.Is(err, ErrCurrencyMismatch):
		return CodeCurrencyMismatch
	case errors.Is(err, ErrJobTimeout), errors.Is(err, context.DeadlineExceeded):
		return CodeTimeout
	case errors.Is(err, ErrJobAbandoned):
		return CodeAbandoned
	default:
		return CodeInternal
	}
}

// IsRetryable reports whether err belongs to the retryable upstream class
func IsRetryable(err error) bool {
	return errors.Is(err, ErrUpstreamUnavailable)
}

// DomainError wraps an error with additional context
type DomainError struct {
	Code    string
	Message string
	Err     error
}

// Error implements the error interface
func (e *DomainError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the wrapped error
func (e *DomainError) Unwrap() error {
	return e.Err
}

// NewDomainError creates a new domain error
func NewDomainError(code, message string, err error) *DomainError {
	return &DomainError{
		Code:    code,
		Message: message,
		Err:     err,
	}
}

// ValidationError represents a validation error with field-specific details
type ValidationError struct {
	Field   string
	Message string
	Value   interface{}
	Err     error
}

// Error implements the error interface
func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation error: field '%s': %s (value: %v)", e.Field, e.Message, e.Value)
}

// Unwrap returns the error class of the validation failure
func (e *ValidationError) Unwrap() error {
	if e.Err != nil {
		return e.Err
	}
	return ErrInvalidInput
}

// NewValidationError creates a new validation error
func NewValidationError(field, message string, value interface{}) *ValidationError {
	return &ValidationError{
		Field:   field,
		Message: message,
		Value:   value,
	}
}

// NewRangeError creates a validation error classified as ErrInvalidRange
func NewRangeError(field, message string, value interface{}) *ValidationError {
	return &ValidationError{
		Field:   field,
		Message: message,
		Value:   value,
		Err:     ErrInvalidRange,
	}
}

// MultiError wraps multiple errors
type MultiError struct {
	Errors []error
}

// Error implements the error interface
func (m *MultiError) Error() string {
	if len(m.Errors) == 0 {
		return "no errors"
	}
	if len(m.Errors) == 1 {
		return m.Errors[0].Error()
	}
	return fmt.Sprintf("multiple errors (%d): %v", len(m.Errors), m.Errors[0])
}

// Unwrap exposes all wrapped errors to errors.Is / errors.As
func (m *MultiError) Unwrap() []error {
	return m.Errors
}

// Add adds an error to the list
func (m *MultiError) Add(err error) {
	if err != nil {
		m.Errors = append(m.Errors, err)
	}
}

// HasErrors returns true if there are any errors
func (m *MultiError) HasErrors() bool {
	return len(m.Errors) > 0
}

// ToError returns the MultiError as an error, or nil if no errors
func (m *MultiError) ToError() error {
	if !m.HasErrors() {
		return nil
	}
	return m
}

// Helper functions

// Is checks if err is or wraps target
func Is(err, target error) bool {
	return errors.Is(err, target)
}

// As finds the first error in err's chain that matches target type
func As(err error, target interface{}) bool {
	return errors.As(err, target)
}

// Wrap wraps an error with context
func Wrap(err error, message string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", message, err)
}

// Wrapf wraps an error with formatted context
func Wrapf(err error, format string, args ...interface{}) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", fmt.Sprintf(format, args...), err)
}

// Join combines errors so both remain matchable with Is
func Join(errs ...error) error {
	return errors.Join(errs...)
}

func New(message string) error {
	return errors.New(message)
}

func Newf(format string, args ...interface{}) error {
	return fmt.Errorf(format, args...)
}
