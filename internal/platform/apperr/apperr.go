// Copyright (c) 2026 Gatehouse. All rights reserved.

/*
Package apperr defines the centralized error handling framework for Gatehouse.

It provides a rich error type that bridges the gap between low-level Domain/Storage
errors and high-level HTTP responses.

Architecture:

  - AppError: A struct containing machine-readable ErrorCode and user-friendly messages.
  - Taxonomy: One constructor per authentication failure kind, matched by Code.
  - Mapping: Explicit mapping from AppError to standard HTTP Status Codes.

Every error that leaves the service layer should be wrapped as an [AppError] to ensure
consistent API responses.
*/
package apperr

import (
	"errors"
	"net/http"
)

// # Error Codes

// Machine-readable error codes. Callers branch on these instead of
// inspecting messages or HTTP statuses.
const (
	CodeValidation           = "VALIDATION_ERROR"
	CodeInvalidState         = "INVALID_STATE"
	CodeInvalidCallback      = "CALLBACK_ERROR"
	CodeNotFound             = "NOT_FOUND"
	CodeConflict             = "CONFLICT"
	CodeTokenExchange        = "TOKEN_EXCHANGE_FAILED"
	CodeProfileFetch         = "PROFILE_FETCH_FAILED"
	CodeToken                = "TOKEN_ERROR"
	CodeProfile              = "PROFILE_ERROR"
	CodeAuthenticationFailed = "AUTHENTICATION_FAILED"
	CodeSessionExpired       = "SESSION_EXPIRED"
	CodeProvider             = "PROVIDER_ERROR"
	CodeUnsupportedProvider  = "UNSUPPORTED_PROVIDER"
	CodeUnauthorized         = "UNAUTHORIZED"
	CodeInternal             = "INTERNAL_ERROR"
)

// AppError is the canonical error type for the Gatehouse API.
//
// It carries an HTTP status code, a machine-readable code, a client-safe
// message, and an optional slice of field-level validation errors.
//
// # Security
//
// The Cause field is for server-side logging only and is never sent to clients
// to avoid leaking internal implementation details (e.g., SQL queries or raw
// identity-provider error bodies).
type AppError struct {
	// Code is a machine-readable error identifier (e.g. "NOT_FOUND", "CONFLICT").
	Code string `json:"code"`
	// Message is a human-readable description safe to return to the client.
	Message string `json:"error"`
	// HTTPStatus is the HTTP response status code.
	HTTPStatus int `json:"-"`
	// Cause is the underlying error, used for server-side logging only.
	Cause error `json:"-"`
	// Details holds per-field validation errors for VALIDATION_ERROR responses.
	Details []FieldError `json:"details,omitempty"`
}

// FieldError represents a single field-level validation failure.
type FieldError struct {
	// Field is the JSON field name that failed validation.
	Field string `json:"field"`
	// Message is the human-readable description of the failure.
	Message string `json:"message"`
}

// Error implements the error interface. It returns the client-safe message.
func (e *AppError) Error() string { return e.Message }

// Unwrap allows [errors.Is] and [errors.As] to traverse the cause chain.
func (e *AppError) Unwrap() error { return e.Cause }

// # Client Errors (4xx)

// NotFound creates a 404 [AppError] for a named resource.
//
// Example:
//
//	apperr.NotFound("User") // Returns "User not found"
func NotFound(resource string) *AppError {
	return &AppError{
		Code:       CodeNotFound,
		Message:    resource + " not found",
		HTTPStatus: http.StatusNotFound,
	}
}

// Unauthorized creates a 401 [AppError].
func Unauthorized(msg string) *AppError {
	return &AppError{
		Code:       CodeUnauthorized,
		Message:    msg,
		HTTPStatus: http.StatusUnauthorized,
	}
}

// SessionExpired creates a 401 [AppError] surfaced from explicit session
// validation checks.
func SessionExpired() *AppError {
	return &AppError{
		Code:       CodeSessionExpired,
		Message:    "Session has expired",
		HTTPStatus: http.StatusUnauthorized,
	}
}

// Conflict creates a 409 [AppError] for duplicate or unique-constraint violations.
func Conflict(msg string) *AppError {
	return &AppError{
		Code:       CodeConflict,
		Message:    msg,
		HTTPStatus: http.StatusConflict,
	}
}

// ValidationError creates a 400 [AppError] with optional per-field details.
func ValidationError(msg string, details ...FieldError) *AppError {
	return &AppError{
		Code:       CodeValidation,
		Message:    msg,
		HTTPStatus: http.StatusBadRequest,
		Details:    details,
	}
}

// InvalidState creates a 400 [AppError] for a CSRF state mismatch on the
// OAuth callback.
func InvalidState() *AppError {
	return &AppError{
		Code:       CodeInvalidState,
		Message:    "OAuth state validation failed",
		HTTPStatus: http.StatusBadRequest,
	}
}

// InvalidCallback creates a 400 [AppError] for a malformed OAuth callback
// (e.g. a missing authorization code).
func InvalidCallback(msg string) *AppError {
	return &AppError{
		Code:       CodeInvalidCallback,
		Message:    msg,
		HTTPStatus: http.StatusBadRequest,
	}
}

// UnsupportedProvider creates a 400 [AppError] for a provider tag outside the
// recognized set.
func UnsupportedProvider(provider string) *AppError {
	return &AppError{
		Code:       CodeUnsupportedProvider,
		Message:    "Unsupported identity provider: " + provider,
		HTTPStatus: http.StatusBadRequest,
	}
}

// # Server Errors (5xx)

// Internal creates a 500 [AppError] wrapping an unexpected server-side error.
// The cause is stored for logging but is never sent to the client.
func Internal(cause error) *AppError {
	return &AppError{
		Code:       CodeInternal,
		Message:    "An unexpected error occurred",
		HTTPStatus: http.StatusInternalServerError,
		Cause:      cause,
	}
}

// TokenExchange creates a 500 [AppError] for a failed authorization-code
// exchange. The provider's raw error body travels in Cause, never to clients.
func TokenExchange(cause error) *AppError {
	return &AppError{
		Code:       CodeTokenExchange,
		Message:    "Identity provider token exchange failed",
		HTTPStatus: http.StatusInternalServerError,
		Cause:      cause,
	}
}

// ProfileFetch creates a 500 [AppError] for a failed provider profile request.
func ProfileFetch(cause error) *AppError {
	return &AppError{
		Code:       CodeProfileFetch,
		Message:    "Identity provider profile fetch failed",
		HTTPStatus: http.StatusInternalServerError,
		Cause:      cause,
	}
}

// Token creates a 500 [AppError] wrapping any failure of the code-for-profile
// exchange as seen by the orchestrator.
func Token(cause error) *AppError {
	return &AppError{
		Code:       CodeToken,
		Message:    "Failed to authenticate with the identity provider",
		HTTPStatus: http.StatusInternalServerError,
		Cause:      cause,
	}
}

// Profile creates a 500 [AppError] for post-exchange processing failures
// (user upsert, profile persistence).
func Profile(cause error) *AppError {
	return &AppError{
		Code:       CodeProfile,
		Message:    "Failed to process the identity profile",
		HTTPStatus: http.StatusInternalServerError,
		Cause:      cause,
	}
}

// AuthenticationFailed creates a 500 [AppError] for generic session-lifecycle
// failures.
func AuthenticationFailed(cause error) *AppError {
	return &AppError{
		Code:       CodeAuthenticationFailed,
		Message:    "Authentication failed",
		HTTPStatus: http.StatusInternalServerError,
		Cause:      cause,
	}
}

// Provider creates a 500 [AppError] for orchestrator misconfiguration
// (operations invoked before initialization, unknown strategy wiring).
func Provider(msg string) *AppError {
	return &AppError{
		Code:       CodeProvider,
		Message:    msg,
		HTTPStatus: http.StatusInternalServerError,
	}
}

// # Helpers

// IsAppError reports whether err (or any error in its chain) is an [*AppError].
func IsAppError(err error) bool {
	var ae *AppError
	return errors.As(err, &ae)
}

// As extracts the [*AppError] from err's chain. It returns nil if not found.
func As(err error) *AppError {
	var ae *AppError
	if errors.As(err, &ae) {
		return ae
	}
	return nil
}

// IsCode reports whether err is an [*AppError] carrying the given code.
func IsCode(err error, code string) bool {
	ae := As(err)
	return ae != nil && ae.Code == code
}
