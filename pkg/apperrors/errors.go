// Package apperrors defines the error taxonomy shared by every layer.
// Services and storage adapters return *Error values; the HTTP layer is the
// only place a Kind is mapped to a status code.
package apperrors

import (
	"context"
	"errors"
	"fmt"
	"net/http"
)

// Kind classifies an error semantically, independent of transport.
type Kind string

const (
	KindValidation      Kind = "validation"
	KindBadRequest      Kind = "bad_request"
	KindUnauthenticated Kind = "unauthenticated"
	KindForbidden       Kind = "forbidden"
	KindNotFound        Kind = "not_found"
	KindDuplicate       Kind = "duplicate_key"
	KindTimeout         Kind = "timeout"
	KindInternal        Kind = "internal"
)

// FieldError is a single field-level validation failure. Field uses the wire
// name (camelCase), with dots for nested paths.
type FieldError struct {
	Field   string `json:"field,omitempty"`
	Message string `json:"message"`
}

// Error carries a Kind, a client-safe message, optional field details, and a
// wrapped cause for server-side logging. The cause is never serialized.
type Error struct {
	Kind    Kind
	Message string
	Fields  []FieldError
	cause   error
}

func (e *Error) Error() string {
	if e.Message != "" {
		return e.Message
	}
	if e.cause != nil {
		return e.cause.Error()
	}
	return string(e.Kind)
}

// Unwrap lets errors.Is and errors.As walk the cause chain.
func (e *Error) Unwrap() error { return e.cause }

func Validation(msg string, fields ...FieldError) *Error {
	return &Error{Kind: KindValidation, Message: msg, Fields: fields}
}

func BadRequest(format string, args ...any) *Error {
	return &Error{Kind: KindBadRequest, Message: fmt.Sprintf(format, args...)}
}

func Unauthenticated(msg string) *Error {
	return &Error{Kind: KindUnauthenticated, Message: msg}
}

func Forbidden(msg string) *Error {
	return &Error{Kind: KindForbidden, Message: msg}
}

// NotFound names the resource so the message reads "user not found".
func NotFound(resource string) *Error {
	return &Error{Kind: KindNotFound, Message: resource + " not found"}
}

func Duplicate(msg string) *Error {
	return &Error{Kind: KindDuplicate, Message: msg}
}

// Internal wraps an unexpected fault. The cause is kept for logging; clients
// see only a generic message.
func Internal(cause error) *Error {
	return &Error{Kind: KindInternal, Message: "an unexpected error occurred", cause: cause}
}

// Timeout marks a deadline overrun. It still maps to 500: callers cannot
// distinguish it on the wire, only in logs and metrics.
func Timeout(cause error) *Error {
	return &Error{Kind: KindTimeout, Message: "operation timed out", cause: cause}
}

// Classify normalizes any error into an *Error. Existing *Error values pass
// through; context deadline overruns become KindTimeout; everything else is
// KindInternal.
func Classify(err error) *Error {
	if err == nil {
		return nil
	}
	var ae *Error
	if errors.As(err, &ae) {
		return ae
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return Timeout(err)
	}
	return Internal(err)
}

// As extracts the *Error from err's chain, or nil.
func As(err error) *Error {
	var ae *Error
	if errors.As(err, &ae) {
		return ae
	}
	return nil
}

// IsKind reports whether err's chain contains an *Error of kind k.
func IsKind(err error, k Kind) bool {
	ae := As(err)
	return ae != nil && ae.Kind == k
}

// HTTPStatus maps a Kind to its response status. Unclassified errors are 500.
func HTTPStatus(err error) int {
	ae := As(err)
	if ae == nil {
		return http.StatusInternalServerError
	}
	switch ae.Kind {
	case KindValidation, KindBadRequest:
		return http.StatusBadRequest
	case KindUnauthenticated:
		return http.StatusUnauthorized
	case KindForbidden:
		return http.StatusForbidden
	case KindNotFound:
		return http.StatusNotFound
	case KindDuplicate:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}
