// Package common defines shared constants and sentinel errors used across
// the store, service and transport layers. Callers should use errors.Is to
// match these values.
package common

import (
	"errors"
	"fmt"
)

var (
	// Taxonomy kinds surfaced to callers.
	ErrorNotFound                = errors.New("not found")
	ErrorBadRequest              = errors.New("bad request")
	ErrorConflict                = errors.New("conflict")
	ErrorForbidden               = errors.New("forbidden")
	ErrorUnauthorized            = errors.New("unauthorized")
	ErrorConnectionLimitExceeded = errors.New("connection limit exceeded")
	ErrorInternal                = errors.New("internal error")

	// Repository-level errors, translated by the services.
	ErrVersionConflict = errors.New("version conflict")
	ErrOverlap         = errors.New("region overlap")

	// Auth errors (invalid or malformed token).
	ErrInvalidToken = errors.New("invalid token")
	ErrTokenExpired = errors.New("token expired")
)

// Machine-readable error codes carried next to the taxonomy kind.
const (
	CodeNotFound                = "NOT_FOUND"
	CodeVersionRequired         = "VERSION_REQUIRED"
	CodeVersionConflict         = "VERSION_CONFLICT"
	CodeRegionOverlap           = "REGION_OVERLAP"
	CodeInvalidGridBounds       = "INVALID_GRID_BOUNDS"
	CodeInvalidRequest          = "INVALID_REQUEST"
	CodeForbidden               = "FORBIDDEN"
	CodeUnauthorized            = "UNAUTHORIZED"
	CodeConnectionLimitExceeded = "CONNECTION_LIMIT_EXCEEDED"
	CodeLockHeld                = "LOCK_HELD"
	CodeNothingToUndo           = "NOTHING_TO_UNDO"
	CodeNothingToRedo           = "NOTHING_TO_REDO"
	CodeIdempotencyKeyReused    = "IDEMPOTENCY_KEY_REUSED"
	CodeIdempotencyInProgress   = "IDEMPOTENCY_IN_PROGRESS"
	CodeInternal                = "INTERNAL"
)

// Error is a taxonomy error with a stable code and optional details such as
// the expected and provided version of a conflicting update.
type Error struct {
	Kind    error
	Code    string
	Message string
	Details map[string]string
}

func (e *Error) Error() string {
	return e.Message
}

// Unwrap exposes the taxonomy kind to errors.Is.
func (e *Error) Unwrap() error {
	return e.Kind
}

// NewError builds an *Error. details are key-value pairs.
func NewError(kind error, code, message string, details ...string) *Error {
	e := &Error{Kind: kind, Code: code, Message: message}
	if len(details) > 0 {
		e.Details = make(map[string]string, len(details)/2)
		for i := 0; i+1 < len(details); i += 2 {
			e.Details[details[i]] = details[i+1]
		}
	}
	return e
}

func NotFound(what string) *Error {
	return NewError(ErrorNotFound, CodeNotFound, what+" not found")
}

func BadRequest(code, message string, details ...string) *Error {
	return NewError(ErrorBadRequest, code, message, details...)
}

func Conflict(code, message string, details ...string) *Error {
	return NewError(ErrorConflict, code, message, details...)
}

func Forbidden(message string) *Error {
	return NewError(ErrorForbidden, CodeForbidden, message)
}

// VersionMismatch reports an optimistic-lock failure with both versions so
// the client can decide whether to refresh and retry.
func VersionMismatch(expected, provided int64) *Error {
	return Conflict(CodeVersionConflict,
		fmt.Sprintf("version mismatch: expected %d, got %d", expected, provided),
		"expected", fmt.Sprint(expected), "provided", fmt.Sprint(provided))
}

// AsError extracts the *Error from err's chain, if any.
func AsError(err error) (*Error, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}

// CodeOf returns err's code, falling back to a code derived from its kind.
func CodeOf(err error) string {
	if e, ok := AsError(err); ok {
		return e.Code
	}
	switch {
	case errors.Is(err, ErrorNotFound):
		return CodeNotFound
	case errors.Is(err, ErrorUnauthorized), errors.Is(err, ErrInvalidToken), errors.Is(err, ErrTokenExpired):
		return CodeUnauthorized
	case errors.Is(err, ErrorForbidden):
		return CodeForbidden
	case errors.Is(err, ErrorConnectionLimitExceeded):
		return CodeConnectionLimitExceeded
	case errors.Is(err, ErrVersionConflict):
		return CodeVersionConflict
	case errors.Is(err, ErrOverlap):
		return CodeRegionOverlap
	}
	return CodeInternal
}
