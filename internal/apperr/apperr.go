// Package apperr defines the transport-agnostic error taxonomy the
// assessment core raises. Every component returns one of these instead of a
// bare error so the HTTP layer can map it without re-deriving a status code
// from string-matching.
package apperr

import (
	"errors"
	"fmt"
	"net/http"
)

// Code is a closed taxonomy of error kinds.
type Code string

const (
	CodeResourceNotFound   Code = "ResourceNotFound"
	CodeInvalidState       Code = "InvalidState"
	CodeInvalidArgument    Code = "InvalidArgument"
	CodeConflict           Code = "Conflict"
	CodePreconditionFailed Code = "PreconditionFailed"
	CodeUnauthenticated    Code = "Unauthenticated"
	CodePermissionDenied   Code = "PermissionDenied"
	CodeRateLimited        Code = "RateLimited"
	CodeDeadlineExceeded   Code = "DeadlineExceeded"
	CodeInternal           Code = "Internal"
)

// httpStatus maps each Code to the HTTP status the server layer returns.
var httpStatus = map[Code]int{
	CodeResourceNotFound:   http.StatusNotFound,
	CodeInvalidState:       http.StatusBadRequest,
	CodeInvalidArgument:    http.StatusBadRequest,
	CodeConflict:           http.StatusConflict,
	CodePreconditionFailed: http.StatusPreconditionFailed,
	CodeUnauthenticated:    http.StatusUnauthorized,
	CodePermissionDenied:   http.StatusForbidden,
	CodeRateLimited:        http.StatusTooManyRequests,
	CodeDeadlineExceeded:   http.StatusGatewayTimeout,
	CodeInternal:           http.StatusInternalServerError,
}

// Error is an apperr-taxonomy error. It wraps an optional underlying cause
// so %w-style unwrapping still works for logging.
type Error struct {
	Code    Code
	Message string
	Details any
	cause   error
}

func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error { return e.cause }

// HTTPStatus returns the status code this error maps to.
func (e *Error) HTTPStatus() int {
	if s, ok := httpStatus[e.Code]; ok {
		return s
	}
	return http.StatusInternalServerError
}

func new_(code Code, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// NotFound builds a ResourceNotFound error.
func NotFound(format string, args ...any) *Error { return new_(CodeResourceNotFound, format, args...) }

// InvalidState builds an InvalidState error.
func InvalidState(format string, args ...any) *Error { return new_(CodeInvalidState, format, args...) }

// InvalidArgument builds an InvalidArgument error.
func InvalidArgument(format string, args ...any) *Error {
	return new_(CodeInvalidArgument, format, args...)
}

// Conflict builds a Conflict error.
func Conflict(format string, args ...any) *Error { return new_(CodeConflict, format, args...) }

// PreconditionFailed builds a PreconditionFailed error.
func PreconditionFailed(format string, args ...any) *Error {
	return new_(CodePreconditionFailed, format, args...)
}

// Unauthenticated builds an Unauthenticated error.
func Unauthenticated(format string, args ...any) *Error {
	return new_(CodeUnauthenticated, format, args...)
}

// PermissionDenied builds a PermissionDenied error.
func PermissionDenied(format string, args ...any) *Error {
	return new_(CodePermissionDenied, format, args...)
}

// RateLimited builds a RateLimited error.
func RateLimited(format string, args ...any) *Error { return new_(CodeRateLimited, format, args...) }

// DeadlineExceeded builds a DeadlineExceeded error.
func DeadlineExceeded(format string, args ...any) *Error {
	return new_(CodeDeadlineExceeded, format, args...)
}

// Internal builds an Internal error wrapping cause for logging.
func Internal(cause error, format string, args ...any) *Error {
	e := new_(CodeInternal, format, args...)
	e.cause = cause
	return e
}

// WithDetails attaches a structured details payload (surfaced on the HTTP
// error envelope's "details" field) and returns the same error for chaining.
func (e *Error) WithDetails(details any) *Error {
	e.Details = details
	return e
}

// As reports whether err is (or wraps) an *Error and, if so, returns it.
func As(err error) (*Error, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}

// Is reports whether err is (or wraps) an *Error of the given code.
func Is(err error, code Code) bool {
	e, ok := As(err)
	return ok && e.Code == code
}
