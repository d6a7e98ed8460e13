// Package errors defines the structured error taxonomy surfaced to callers.
package errors

import (
	"fmt"
	"time"
)

// ErrorCode identifies a class of failure.
type ErrorCode string

const (
	ErrValidation ErrorCode = "VALIDATION" // malformed entry, missing patient id, unparsable date
	ErrNotFound   ErrorCode = "NOT_FOUND"
	ErrTimeout    ErrorCode = "TIMEOUT" // drafting capability exceeded its deadline
	ErrInternal   ErrorCode = "INTERNAL"
)

// Error is a structured error with a code and optional details.
type Error struct {
	Code    ErrorCode
	Message string
	Details map[string]any
	cause   error
}

// Error implements the error interface.
func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap exposes the underlying cause, if any.
func (e *Error) Unwrap() error {
	return e.cause
}

// NewValidation creates a validation error for a single offending field.
func NewValidation(field, msg string) *Error {
	return &Error{
		Code:    ErrValidation,
		Message: fmt.Sprintf("%s: %s", field, msg),
		Details: map[string]any{"field": field},
	}
}

// NewNotFound creates an error for an unknown identifier.
func NewNotFound(identifier string) *Error {
	return &Error{
		Code:    ErrNotFound,
		Message: fmt.Sprintf("not found: %s", identifier),
		Details: map[string]any{"identifier": identifier},
	}
}

// NewTimeout creates an error for an external call that exceeded its deadline.
func NewTimeout(operation string, limit time.Duration, cause error) *Error {
	return &Error{
		Code:    ErrTimeout,
		Message: fmt.Sprintf("%s exceeded deadline of %s", operation, limit),
		Details: map[string]any{"operation": operation, "timeout": limit.String()},
		cause:   cause,
	}
}

// NewInternal wraps an unexpected error.
func NewInternal(err error) *Error {
	msg := "internal error"
	if err != nil {
		msg = err.Error()
	}
	return &Error{
		Code:    ErrInternal,
		Message: msg,
		cause:   err,
	}
}

// Is reports whether err is an *Error with the given code.
// Wrapped errors are unwrapped until one matches.
func Is(err error, code ErrorCode) bool {
	for err != nil {
		if e, ok := err.(*Error); ok && e.Code == code {
			return true
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return false
		}
		err = u.Unwrap()
	}
	return false
}
