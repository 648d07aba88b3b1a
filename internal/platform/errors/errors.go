// Package errors provides coded errors shared across all service layers.
// Handlers map codes to HTTP statuses; repositories and services attach
// enough context (ids, attempted transitions) for precise user-facing
// messages.
package errors

import (
	"errors"
	"fmt"
)

// Code classifies an error for transport mapping and caller branching.
type Code string

const (
	ErrCodeInvalidDefinition Code = "INVALID_DEFINITION"
	ErrCodeNotFound          Code = "NOT_FOUND"
	ErrCodeInvalidTransition Code = "INVALID_TRANSITION"
	ErrCodeUnauthorized      Code = "UNAUTHORIZED"
	ErrCodeConflict          Code = "CONFLICT"
	ErrCodeInvalidInput      Code = "INVALID_INPUT"
	ErrCodeUnavailable       Code = "UNAVAILABLE"
	ErrCodeInternal          Code = "INTERNAL"
)

// Error is a coded error with an optional wrapped cause.
type Error struct {
	Code    Code
	Message string
	cause   error
}

func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error { return e.cause }

// New creates a coded error.
func New(code Code, message string) *Error {
	return &Error{Code: code, Message: message}
}

// Newf creates a coded error with a formatted message.
func Newf(code Code, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// Wrap attaches a code and message to an underlying error. Returns nil when
// err is nil so it can be used directly on return values.
func Wrap(err error, code Code, message string) error {
	if err == nil {
		return nil
	}
	return &Error{Code: code, Message: message, cause: err}
}

// NotFound reports a missing record of the given kind.
func NotFound(kind, id string) *Error {
	return Newf(ErrCodeNotFound, "%s %s not found", kind, id)
}

// InvalidInput reports a rejected request field.
func InvalidInput(field, message string) *Error {
	return Newf(ErrCodeInvalidInput, "%s: %s", field, message)
}

// InvalidTransition reports an illegal assignment status change.
func InvalidTransition(assignmentID, from, to string) *Error {
	return Newf(ErrCodeInvalidTransition,
		"assignment %s cannot move from %s to %s", assignmentID, from, to)
}

// CodeOf extracts the code from an error chain, defaulting to INTERNAL.
func CodeOf(err error) Code {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ErrCodeInternal
}

// HasCode reports whether any error in the chain carries the given code.
func HasCode(err error, code Code) bool {
	var e *Error
	return errors.As(err, &e) && e.Code == code
}
