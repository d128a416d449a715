// Package apperr defines the error taxonomy shared by the engine, the store
// and the HTTP surface.
package apperr

import (
	"errors"
	"fmt"
	"net/http"
)

// Code is a machine-readable error kind.
type Code string

const (
	// CodeInvalidTransition: operation not valid in the room's current phase.
	CodeInvalidTransition Code = "INVALID_TRANSITION"
	// CodeUnauthorized: caller is not the host, not a member, or not the owner.
	CodeUnauthorized Code = "UNAUTHORIZED"
	// CodeUnauthenticated: no caller identity could be established.
	CodeUnauthenticated Code = "UNAUTHENTICATED"
	CodeNotFound        Code = "NOT_FOUND"
	// CodeConflict: a concurrent write won the version race. Retryable.
	CodeConflict Code = "CONFLICT"
	// CodeResourceExhausted: deck, seats or petition used up.
	CodeResourceExhausted Code = "RESOURCE_EXHAUSTED"
	// CodeRateLimited: too many requests from one caller.
	CodeRateLimited     Code = "RATE_LIMITED"
	CodeExternalFailure Code = "EXTERNAL_FAILURE"
	CodeInvalidArgument Code = "INVALID_ARGUMENT"
	CodeInternal        Code = "INTERNAL"
)

// Error is the domain error type.
type Error struct {
	Code     Code
	Message  string
	Metadata map[string]string
	Cause    error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

// Unwrap returns the underlying cause for error chain traversal.
func (e *Error) Unwrap() error {
	return e.Cause
}

// Is reports whether target carries the same code.
func (e *Error) Is(target error) bool {
	if t, ok := target.(*Error); ok {
		return e.Code == t.Code
	}
	return false
}

// New creates a domain error with a code and message.
func New(code Code, message string) *Error {
	return &Error{Code: code, Message: message}
}

// Newf is New with a format string.
func Newf(code Code, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// WithMetadata creates a domain error carrying key/value context.
func WithMetadata(code Code, message string, metadata map[string]string) *Error {
	return &Error{Code: code, Message: message, Metadata: metadata}
}

// Wrap creates a domain error around an underlying cause.
func Wrap(code Code, message string, cause error) *Error {
	return &Error{Code: code, Message: message, Cause: cause}
}

// Sentinels for errors.Is comparisons by code.
var (
	ErrInvalidTransition = New(CodeInvalidTransition, "invalid transition")
	ErrUnauthorized      = New(CodeUnauthorized, "unauthorized")
	ErrNotFound          = New(CodeNotFound, "not found")
	ErrConflict          = New(CodeConflict, "conflict")
	ErrResourceExhausted = New(CodeResourceExhausted, "resource exhausted")
	ErrExternalFailure   = New(CodeExternalFailure, "external failure")
	ErrInvalidArgument   = New(CodeInvalidArgument, "invalid argument")
)

// InvalidTransition reports an operation attempted in the wrong phase.
func InvalidTransition(op, phase string) *Error {
	return WithMetadata(CodeInvalidTransition,
		fmt.Sprintf("cannot %s while room is %s", op, phase),
		map[string]string{"operation": op, "phase": phase})
}

// CodeOf extracts the code from err, or CodeInternal if err is not a domain error.
func CodeOf(err error) Code {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return CodeInternal
}

// IsRetryable reports whether the caller should retry with backoff.
func IsRetryable(err error) bool {
	return CodeOf(err) == CodeConflict
}

// HTTPStatus maps a code to the response status used by the API.
func HTTPStatus(code Code) int {
	switch code {
	case CodeInvalidTransition, CodeConflict, CodeResourceExhausted:
		return http.StatusConflict
	case CodeUnauthorized:
		return http.StatusForbidden
	case CodeUnauthenticated:
		return http.StatusUnauthorized
	case CodeNotFound:
		return http.StatusNotFound
	case CodeRateLimited:
		return http.StatusTooManyRequests
	case CodeExternalFailure:
		return http.StatusBadGateway
	case CodeInvalidArgument:
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}
