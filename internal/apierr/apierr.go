// Package apierr defines the closed set of errors that may cross the HTTP
// boundary and the structured body used to report them.
package apierr

import (
	"errors"
	"fmt"
	"math"
	"net/http"
	"time"
)

// Kind identifies an error variant. Callers match on Kind, never on message.
type Kind int

const (
	KindInternal Kind = iota
	KindAuthentication
	KindForbidden
	KindTooManyRequests
	KindTooManyAttempts
	KindAuditWrite
	KindInvalidInput
	KindNotFound
	KindConflict
)

func (k Kind) String() string {
	switch k {
	case KindAuthentication:
		return "authentication"
	case KindForbidden:
		return "forbidden"
	case KindTooManyRequests:
		return "too_many_requests"
	case KindTooManyAttempts:
		return "too_many_attempts"
	case KindAuditWrite:
		return "audit_write"
	case KindInvalidInput:
		return "invalid_input"
	case KindNotFound:
		return "not_found"
	case KindConflict:
		return "conflict"
	default:
		return "internal"
	}
}

// Error is the single tagged error type used by the admission pipeline.
// cause is never serialized; it exists for logs only.
type Error struct {
	Kind    Kind
	Status  int
	Code    string
	Message string
	Details map[string]any

	cause error
}

func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.cause)
	}
	return e.Message
}

func (e *Error) Unwrap() error { return e.cause }

// Cause returns the internal cause, if any.
func (e *Error) Cause() error { return e.cause }

// RetryAfter returns the retry hint carried by 429 variants.
func (e *Error) RetryAfter() time.Duration {
	if e.Details == nil {
		return 0
	}
	secs, ok := e.Details["retryAfterSeconds"].(int)
	if !ok {
		return 0
	}
	return time.Duration(secs) * time.Second
}

// Authentication collapses every identity failure into one indistinguishable error.
func Authentication(cause error) *Error {
	return &Error{
		Kind:    KindAuthentication,
		Status:  http.StatusUnauthorized,
		Code:    "AUTHENTICATION_ERROR",
		Message: "Invalid token",
		cause:   cause,
	}
}

// InvalidCredentials is the login failure variant of Authentication.
func InvalidCredentials(cause error) *Error {
	e := Authentication(cause)
	e.Message = "Invalid credentials"
	return e
}

func Forbidden() *Error {
	return &Error{
		Kind:    KindForbidden,
		Status:  http.StatusForbidden,
		Code:    "FORBIDDEN_ERROR",
		Message: "Insufficient permissions",
	}
}

// IPNotAllowed is a Forbidden variant for the admin allow list.
func IPNotAllowed() *Error {
	e := Forbidden()
	e.Code = "IP_NOT_ALLOWED"
	e.Message = "Access denied from this IP address"
	return e
}

func TooManyRequests(retryAfter time.Duration) *Error {
	return &Error{
		Kind:    KindTooManyRequests,
		Status:  http.StatusTooManyRequests,
		Code:    "RATE_LIMIT_EXCEEDED",
		Message: "Too many requests",
		Details: map[string]any{"retryAfterSeconds": ceilSeconds(retryAfter)},
	}
}

func TooManyAttempts(retryAfter time.Duration, cause error) *Error {
	return &Error{
		Kind:    KindTooManyAttempts,
		Status:  http.StatusTooManyRequests,
		Code:    "TOO_MANY_ATTEMPTS",
		Message: "Too many failed attempts. Please try again later.",
		Details: map[string]any{"retryAfterSeconds": ceilSeconds(retryAfter)},
		cause:   cause,
	}
}

// AuditWrite never reaches clients under the fail-open audit policy.
func AuditWrite(cause error) *Error {
	return &Error{
		Kind:    KindAuditWrite,
		Status:  http.StatusInternalServerError,
		Code:    "AUDIT_WRITE_ERROR",
		Message: "Audit record could not be written",
		cause:   cause,
	}
}

func InvalidInput(message string, details map[string]any) *Error {
	return &Error{
		Kind:    KindInvalidInput,
		Status:  http.StatusBadRequest,
		Code:    "VALIDATION_ERROR",
		Message: message,
		Details: details,
	}
}

func NotFound(entity string) *Error {
	return &Error{
		Kind:    KindNotFound,
		Status:  http.StatusNotFound,
		Code:    "NOT_FOUND",
		Message: entity + " not found",
	}
}

func Conflict(message string) *Error {
	return &Error{
		Kind:    KindConflict,
		Status:  http.StatusConflict,
		Code:    "CONFLICT_ERROR",
		Message: message,
	}
}

func Internal(cause error) *Error {
	return &Error{
		Kind:    KindInternal,
		Status:  http.StatusInternalServerError,
		Code:    "INTERNAL_ERROR",
		Message: "Internal Server Error",
		cause:   cause,
	}
}

// From returns err as *Error, converting anything else to Internal.
func From(err error) *Error {
	if err == nil {
		return nil
	}
	var e *Error
	if errors.As(err, &e) {
		return e
	}
	return Internal(err)
}

// KindOf reports the Kind of err; unknown errors are KindInternal.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

// Is reports whether err carries the given kind.
func Is(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}

func ceilSeconds(d time.Duration) int {
	if d <= 0 {
		return 1
	}
	return int(math.Ceil(d.Seconds()))
}
