// Package apierrors provides standardized API error types for the host agent.
package apierrors

import (
	"errors"
	"fmt"
	"net/http"
)

// APIError represents a standardized API error response.
type APIError struct {
	Code       string `json:"code"`
	Message    string `json:"message"`
	StatusCode int    `json:"-"`
	Details    any    `json:"details,omitempty"`
}

// Error implements the error interface.
func (e *APIError) Error() string {
	return e.Message
}

// WithMessage returns a copy of the error with a custom message.
func (e *APIError) WithMessage(message string) *APIError {
	return &APIError{
		Code:       e.Code,
		Message:    message,
		StatusCode: e.StatusCode,
		Details:    e.Details,
	}
}

// WithDetails returns a copy of the error with additional details.
func (e *APIError) WithDetails(details any) *APIError {
	return &APIError{
		Code:       e.Code,
		Message:    e.Message,
		StatusCode: e.StatusCode,
		Details:    details,
	}
}

// Error kinds named in the coordination engine's error taxonomy.
var (
	// ErrAlreadyCreated is returned when create_match targets an existing match_id.
	ErrAlreadyCreated = &APIError{
		Code:       "already_created",
		Message:    "match already created",
		StatusCode: http.StatusBadRequest,
	}

	// ErrMatchNotFound is returned when an operation targets an unknown match_id.
	ErrMatchNotFound = &APIError{
		Code:       "match_not_found",
		Message:    "match not found",
		StatusCode: http.StatusNotFound,
	}

	// ErrCapacityExceeded is returned when the host or the system-wide port pool is full.
	ErrCapacityExceeded = &APIError{
		Code:       "capacity_exceeded",
		Message:    "too many dedicated servers",
		StatusCode: http.StatusBadRequest,
	}

	// ErrSpawnFailure is returned when the process supervisor fails to launch a child.
	ErrSpawnFailure = &APIError{
		Code:       "spawn_failure",
		Message:    "failed to spawn dedicated server process",
		StatusCode: http.StatusInternalServerError,
	}

	// ErrRegistryUnavailable marks a transient failure talking to the state registry.
	// Never surfaced directly to an external caller; retried with backoff.
	ErrRegistryUnavailable = &APIError{
		Code:       "registry_unavailable",
		Message:    "state registry unavailable",
		StatusCode: http.StatusServiceUnavailable,
	}

	// ErrBackendUnreachable marks a failure invoking the game backend callback API.
	ErrBackendUnreachable = &APIError{
		Code:       "backend_unreachable",
		Message:    "game backend unreachable",
		StatusCode: http.StatusBadGateway,
	}

	// ErrAuthFailure marks an OAuth token refresh failure.
	ErrAuthFailure = &APIError{
		Code:       "auth_failure",
		Message:    "authentication failed",
		StatusCode: http.StatusUnauthorized,
	}

	// ErrInvalidRequest marks a malformed request body.
	ErrInvalidRequest = &APIError{
		Code:       "invalid_request",
		Message:    "invalid request",
		StatusCode: http.StatusBadRequest,
	}

	// ErrInternal is returned for unexpected internal failures; never leaks details externally.
	ErrInternal = &APIError{
		Code:       "internal_error",
		Message:    "an internal error occurred",
		StatusCode: http.StatusInternalServerError,
	}

	// ErrUnauthorized is returned when a backend-facing request lacks a valid bearer token.
	ErrUnauthorized = &APIError{
		Code:       "unauthorized",
		Message:    "authentication required",
		StatusCode: http.StatusUnauthorized,
	}

	// ErrForbidden is returned when a child-facing request does not originate from localhost.
	ErrForbidden = &APIError{
		Code:       "forbidden",
		Message:    "not allowed",
		StatusCode: http.StatusForbidden,
	}
)

// NewInternalError creates an internal error with a custom message, used sparingly
// for development; production code should prefer ErrInternal with details redacted.
func NewInternalError(message string) *APIError {
	return &APIError{
		Code:       "internal_error",
		Message:    message,
		StatusCode: http.StatusInternalServerError,
	}
}

// AsAPIError converts an error to an *APIError, falling back to ErrInternal.
func AsAPIError(err error) *APIError {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr
	}
	return ErrInternal
}

// IsAPIError reports whether err is an *APIError.
func IsAPIError(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr)
}

// Wrapf wraps a sentinel APIError with additional context while preserving its code/status.
func Wrapf(base *APIError, format string, args ...any) *APIError {
	return base.WithMessage(fmt.Sprintf(format, args...))
}
