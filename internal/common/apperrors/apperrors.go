// Package apperrors provides the closed error taxonomy used across Maestro's
// services and HTTP layer.
package apperrors

import (
	"errors"
	"fmt"
	"net/http"
)

// Error codes as constants.
const (
	CodeValidation  = "VALIDATION"
	CodeNotFound    = "NOT_FOUND"
	CodeForbidden   = "FORBIDDEN"
	CodeConflict    = "CONFLICT"
	CodeRateLimited = "RATE_LIMITED"
	CodeTimeout     = "TIMEOUT"
	CodeInternal    = "INTERNAL"
)

// AppError is a structured, HTTP-status-carrying application error.
type AppError struct {
	Code       string `json:"code"`
	Message    string `json:"message"`
	Suggestion string `json:"suggestion,omitempty"`
	HTTPStatus int    `json:"-"`
	Err        error  `json:"-"`
}

func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap exposes the wrapped error for errors.Is / errors.As.
func (e *AppError) Unwrap() error {
	return e.Err
}

// Validation creates a malformed-input error (HTTP 400).
func Validation(message string) *AppError {
	return &AppError{Code: CodeValidation, Message: message, HTTPStatus: http.StatusBadRequest}
}

// NotFound creates a resource-not-found error (HTTP 404).
func NotFound(resource, id string) *AppError {
	return &AppError{
		Code:       CodeNotFound,
		Message:    fmt.Sprintf("%s %q not found", resource, id),
		HTTPStatus: http.StatusNotFound,
	}
}

// Forbidden creates a disallowed-operation error (HTTP 403).
func Forbidden(message string) *AppError {
	return &AppError{Code: CodeForbidden, Message: message, HTTPStatus: http.StatusForbidden}
}

// Conflict creates an invariant-violation error (HTTP 409).
func Conflict(message string) *AppError {
	return &AppError{Code: CodeConflict, Message: message, HTTPStatus: http.StatusConflict}
}

// RateLimited creates a rate-limit-exceeded error (HTTP 429).
func RateLimited(message string) *AppError {
	return &AppError{Code: CodeRateLimited, Message: message, HTTPStatus: http.StatusTooManyRequests}
}

// Timeout creates a deadline-exceeded error (HTTP 504).
func Timeout(message string) *AppError {
	return &AppError{Code: CodeTimeout, Message: message, HTTPStatus: http.StatusGatewayTimeout}
}

// Internal creates an unexpected-failure error (HTTP 500), wrapping the cause.
func Internal(message string, err error) *AppError {
	return &AppError{Code: CodeInternal, Message: message, HTTPStatus: http.StatusInternalServerError, Err: err}
}

// WithSuggestion attaches a human-readable suggestion to the error and returns it.
func (e *AppError) WithSuggestion(suggestion string) *AppError {
	e.Suggestion = suggestion
	return e
}

// Is reports whether err carries the given code.
func Is(err error, code string) bool {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Code == code
	}
	return false
}

// HTTPStatus returns the HTTP status for err, defaulting to 500 for
// non-AppError values.
func HTTPStatus(err error) int {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.HTTPStatus
	}
	return http.StatusInternalServerError
}

// Envelope is the canonical JSON error response shape (§7).
type Envelope struct {
	Error      bool   `json:"error"`
	Code       string `json:"code"`
	Message    string `json:"message"`
	Suggestion string `json:"suggestion,omitempty"`
}

// ToEnvelope converts any error into the wire envelope, mapping non-AppError
// values to an internal error.
func ToEnvelope(err error) (int, Envelope) {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.HTTPStatus, Envelope{
			Error:      true,
			Code:       appErr.Code,
			Message:    appErr.Message,
			Suggestion: appErr.Suggestion,
		}
	}
	return http.StatusInternalServerError, Envelope{
		Error:   true,
		Code:    CodeInternal,
		Message: err.Error(),
	}
}
