// Package apperrors defines the user-facing error taxonomy. Every error that
// reaches an HTTP response is either an *Error or is rendered as Internal.
package apperrors

import (
	"errors"
	"net/http"
)

// Kind classifies an error for status mapping.
type Kind int

const (
	KindInternal Kind = iota
	KindValidation
	KindConflict
	KindUnauthorized
	KindForbidden
	KindInvalidOrExpired
	KindNotFound
	KindTooManyRequests
	KindTooLarge
)

func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "validation_failed"
	case KindConflict:
		return "conflict"
	case KindUnauthorized:
		return "unauthorized"
	case KindForbidden:
		return "forbidden"
	case KindInvalidOrExpired:
		return "invalid_or_expired"
	case KindNotFound:
		return "not_found"
	case KindTooManyRequests:
		return "too_many_requests"
	case KindTooLarge:
		return "too_large"
	default:
		return "internal"
	}
}

// Status returns the HTTP status code for the kind.
func (k Kind) Status() int {
	switch k {
	case KindValidation, KindInvalidOrExpired:
		return http.StatusBadRequest
	case KindConflict:
		return http.StatusConflict
	case KindUnauthorized:
		return http.StatusUnauthorized
	case KindForbidden:
		return http.StatusForbidden
	case KindNotFound:
		return http.StatusNotFound
	case KindTooManyRequests:
		return http.StatusTooManyRequests
	case KindTooLarge:
		return http.StatusRequestEntityTooLarge
	default:
		return http.StatusInternalServerError
	}
}

// Error is a classified error with a message that is safe to show to callers.
// Err holds the underlying cause for logs and is never rendered.
type Error struct {
	Kind    Kind
	Message string
	Details map[string]string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return e.Message + ": " + e.Err.Error()
	}
	return e.Message
}

func (e *Error) Unwrap() error { return e.Err }

func newError(kind Kind, msg string, details map[string]string, cause error) *Error {
	return &Error{Kind: kind, Message: msg, Details: details, Err: cause}
}

func Validation(msg string, details map[string]string) *Error {
	return newError(KindValidation, msg, details, nil)
}

// Conflict reports a duplicate resource. details maps field name to message.
func Conflict(msg string, details map[string]string) *Error {
	return newError(KindConflict, msg, details, nil)
}

func Unauthorized(msg string) *Error {
	return newError(KindUnauthorized, msg, nil, nil)
}

func Forbidden(msg string) *Error {
	return newError(KindForbidden, msg, nil, nil)
}

func InvalidOrExpired(msg string) *Error {
	return newError(KindInvalidOrExpired, msg, nil, nil)
}

func NotFound(msg string) *Error {
	return newError(KindNotFound, msg, nil, nil)
}

func TooManyRequests(msg string) *Error {
	return newError(KindTooManyRequests, msg, nil, nil)
}

func TooLarge(msg string) *Error {
	return newError(KindTooLarge, msg, nil, nil)
}

// Internal wraps an unexpected failure. msg is shown to callers, cause is not.
func Internal(msg string, cause error) *Error {
	return newError(KindInternal, msg, nil, cause)
}

// As extracts an *Error from err. Unclassified errors become a generic
// Internal error that carries err as its cause.
func As(err error) *Error {
	var appErr *Error
	if errors.As(err, &appErr) {
		return appErr
	}
	return Internal("Internal server error", err)
}

// KindOf reports the kind of err, KindInternal for unclassified errors.
func KindOf(err error) Kind {
	var appErr *Error
	if errors.As(err, &appErr) {
		return appErr.Kind
	}
	return KindInternal
}
