package apperror

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind classifies an error so the transport layer can map it to a status code.
type Kind string

const (
	KindValidation        Kind = "validation_error"
	KindNotFound          Kind = "not_found"
	KindUnauthorized      Kind = "unauthorized"
	KindForbidden         Kind = "forbidden"
	KindConflict          Kind = "conflict"
	KindIllegalTransition Kind = "illegal_transition"
	KindStorage           Kind = "storage_failure"
)

// Error is the error type returned by services.
type Error struct {
	Kind    Kind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

func New(kind Kind, msg string) *Error {
	return &Error{Kind: kind, Message: msg}
}

func Newf(kind Kind, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

func Wrap(kind Kind, msg string, err error) *Error {
	return &Error{Kind: kind, Message: msg, Err: err}
}

func Validation(msg string) *Error        { return New(KindValidation, msg) }
func NotFound(msg string) *Error          { return New(KindNotFound, msg) }
func Unauthorized(msg string) *Error      { return New(KindUnauthorized, msg) }
func Forbidden(msg string) *Error         { return New(KindForbidden, msg) }
func Conflict(msg string) *Error          { return New(KindConflict, msg) }
func IllegalTransition(msg string) *Error { return New(KindIllegalTransition, msg) }

// Storage wraps an unexpected persistence error. The cause is kept for logging only.
func Storage(msg string, err error) *Error {
	return Wrap(KindStorage, msg, err)
}

// KindOf returns the kind of err, or KindStorage for errors that were never classified.
func KindOf(err error) Kind {
	var appErr *Error
	if errors.As(err, &appErr) {
		return appErr.Kind
	}
	return KindStorage
}

// MessageOf returns the caller-facing message. Storage failures never leak their cause.
func MessageOf(err error) string {
	var appErr *Error
	if errors.As(err, &appErr) && appErr.Kind != KindStorage {
		return appErr.Message
	}
	return "internal server error"
}

// HTTPStatus maps the kind of err to a response status code.
func HTTPStatus(err error) int {
	switch KindOf(err) {
	case KindValidation:
		return http.StatusBadRequest
	case KindNotFound:
		return http.StatusNotFound
	case KindUnauthorized:
		return http.StatusUnauthorized
	case KindForbidden:
		return http.StatusForbidden
	case KindConflict, KindIllegalTransition:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}
