// Package apperrors defines the error taxonomy shared by services and handlers.
package apperrors

import (
	"context"
	"errors"
)

// Category is the stable, machine-checkable classification carried by every error response.
type Category string

const (
	CategoryAuthentication Category = "authentication"
	CategoryAuthorization  Category = "authorization"
	CategoryValidation     Category = "validation"
	CategoryTimeout        Category = "timeout"
	CategoryUpstream       Category = "upstream"
	CategoryNotFound       Category = "not_found"
	CategoryInternal       Category = "internal"
)

// Error is a categorised failure with a client-safe message and an optional remediation hint.
type Error struct {
	Category Category
	Message  string
	Hint     string
	Cause    error
}

func (e *Error) Error() string {
	if e.Cause != nil && e.Category != CategoryUpstream && e.Category != CategoryInternal {
		return e.Message + ": " + e.Cause.Error()
	}
	return e.Message
}

func (e *Error) Unwrap() error { return e.Cause }

// Unauthenticated reports a missing, invalid or expired claim.
func Unauthenticated(msg string) *Error {
	return &Error{Category: CategoryAuthentication, Message: msg}
}

// Forbidden reports a valid caller lacking the role for the operation.
func Forbidden(msg string) *Error {
	return &Error{Category: CategoryAuthorization, Message: msg}
}

// Validation reports a malformed request or a limit violation.
func Validation(msg, hint string) *Error {
	return &Error{Category: CategoryValidation, Message: msg, Hint: hint}
}

// Timeout reports a deadline exceeded by a query or a render.
func Timeout(msg, hint string) *Error {
	return &Error{Category: CategoryTimeout, Message: msg, Hint: hint}
}

// Upstream wraps an infrastructure failure; the cause is kept for logs only.
func Upstream(msg string, cause error) *Error {
	return &Error{Category: CategoryUpstream, Message: msg, Cause: cause}
}

// NotFound reports an unknown tenant, job or report.
func NotFound(msg string) *Error {
	return &Error{Category: CategoryNotFound, Message: msg}
}

// As returns the first *Error in err's chain.
func As(err error) (*Error, bool) {
	var appErr *Error
	if errors.As(err, &appErr) {
		return appErr, true
	}
	return nil, false
}

// CategoryOf classifies err. Context deadline errors count as timeouts; anything
// unrecognised is internal.
func CategoryOf(err error) Category {
	if err == nil {
		return ""
	}
	if appErr, ok := As(err); ok {
		return appErr.Category
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return CategoryTimeout
	}
	return CategoryInternal
}

// Is reports whether err carries the given category.
func Is(err error, category Category) bool {
	return CategoryOf(err) == category
}
