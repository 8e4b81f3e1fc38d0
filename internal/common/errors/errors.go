// Package errors provides classified error types for the Colloquy application.
package errors

import (
	"errors"
	"fmt"
	"net/http"
)

// Error codes as constants
const (
	ErrCodeNotFound        = "NOT_FOUND"
	ErrCodeInvalidState    = "INVALID_STATE"
	ErrCodePolicyViolation = "POLICY_VIOLATION"
	ErrCodeAuthFailure     = "AUTH_FAILURE"
	ErrCodeTransient       = "TRANSIENT_DEPENDENCY"
	ErrCodeValidation      = "VALIDATION_ERROR"
	ErrCodeInternal        = "INTERNAL_ERROR"
)

// AppError represents an application-specific error with a stable
// classification and human-readable message.
type AppError struct {
	Code       string `json:"code"`
	Message    string `json:"message"`
	HTTPStatus int    `json:"http_status"`
	Err        error  `json:"-"`
}

// Error implements the error interface.
func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the wrapped error for use with errors.Is and errors.As.
func (e *AppError) Unwrap() error {
	return e.Err
}

// NotFound creates a new not found error for a resource.
func NotFound(resource string, id string) *AppError {
	return &AppError{
		Code:       ErrCodeNotFound,
		Message:    fmt.Sprintf("%s with id '%s' not found", resource, id),
		HTTPStatus: http.StatusNotFound,
	}
}

// InvalidState creates an error for an operation incompatible with the
// current discussion status.
func InvalidState(message string) *AppError {
	return &AppError{
		Code:       ErrCodeInvalidState,
		Message:    message,
		HTTPStatus: http.StatusConflict,
	}
}

// PolicyViolation creates an error for rate limits, connection caps, turn
// ownership and strategy-config violations.
func PolicyViolation(message string) *AppError {
	return &AppError{
		Code:       ErrCodePolicyViolation,
		Message:    message,
		HTTPStatus: http.StatusForbidden,
	}
}

// AuthFailure creates an error for missing or invalid credentials.
func AuthFailure(message string) *AppError {
	return &AppError{
		Code:       ErrCodeAuthFailure,
		Message:    message,
		HTTPStatus: http.StatusUnauthorized,
	}
}

// Transient creates an error for a temporary repository or bus failure.
func Transient(message string, err error) *AppError {
	return &AppError{
		Code:       ErrCodeTransient,
		Message:    message,
		HTTPStatus: http.StatusServiceUnavailable,
		Err:        err,
	}
}

// ValidationError creates a new validation error for a specific field.
func ValidationError(field string, message string) *AppError {
	return &AppError{
		Code:       ErrCodeValidation,
		Message:    fmt.Sprintf("validation failed for field '%s': %s", field, message),
		HTTPStatus: http.StatusBadRequest,
	}
}

// InternalError creates a new internal error with a wrapped underlying error.
func InternalError(message string, err error) *AppError {
	return &AppError{
		Code:       ErrCodeInternal,
		Message:    message,
		HTTPStatus: http.StatusInternalServerError,
		Err:        err,
	}
}

// Wrap wraps an existing error with additional context, returning an AppError.
// Already-classified errors keep their classification.
func Wrap(err error, message string) *AppError {
	if err == nil {
		return nil
	}
	var appErr *AppError
	if errors.As(err, &appErr) {
		return &AppError{
			Code:       appErr.Code,
			Message:    message + ": " + appErr.Message,
			HTTPStatus: appErr.HTTPStatus,
			Err:        err,
		}
	}
	return InternalError(message, err)
}

// Code returns the classification code for an error, or ErrCodeInternal
// for unclassified errors.
func Code(err error) string {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Code
	}
	return ErrCodeInternal
}

// Is reports whether err carries the given classification code.
func Is(err error, code string) bool {
	return Code(err) == code
}

// HTTPStatus returns the HTTP status for an error, defaulting to 500.
func HTTPStatus(err error) int {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.HTTPStatus
	}
	return http.StatusInternalServerError
}
