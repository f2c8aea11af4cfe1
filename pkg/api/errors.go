package api

import (
	"fmt"
	"net/http"
)

// Error defines a standard error shape for the API.
type Error struct {
	// HTTP Status Code (e.g., 404, 503, 500)
	Code int
	// Safe message for the client
	Message string
	// Machine-readable discriminator surfaced in the error body
	Type string
	// Per-field messages for validation failures
	Fields map[string]string
	// Original error for internal logging
	Log error
}

// Error implements standard error interface
func (e *Error) Error() string {
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Log
}

// NotFoundError creates a standard 404 error.
func NotFoundError(msg string) *Error {
	return &Error{Code: http.StatusNotFound, Message: msg, Type: "not_found"}
}

// MethodNotAllowedError creates a 405 for unsupported verbs.
func MethodNotAllowedError(method string) *Error {
	return &Error{
		Code:    http.StatusMethodNotAllowed,
		Message: fmt.Sprintf("method %s not allowed", method),
		Type:    "method_not_allowed",
	}
}

// UnavailableError creates a 503 for transport-level backend failures.
func UnavailableError(msg string, err error) *Error {
	return &Error{Code: http.StatusServiceUnavailable, Message: msg, Type: "backend_unreachable", Log: err}
}

// BadRequestError creates a standard 400 error.
func BadRequestError(msg string) *Error {
	return &Error{Code: http.StatusBadRequest, Message: msg, Type: "bad_request"}
}

// ConflictError creates a 409 for uniqueness violations.
func ConflictError(msg string) *Error {
	return &Error{Code: http.StatusConflict, Message: msg, Type: "conflict"}
}

// ValidationError creates a 400 carrying per-field messages.
func ValidationError(fields map[string]string) *Error {
	return &Error{
		Code:    http.StatusBadRequest,
		Message: "one or more fields failed validation",
		Type:    "validation_error",
		Fields:  fields,
	}
}

// InternalError creates a 500. The original failure text is operator-facing
// and deliberately not sanitized.
func InternalError(msg string, err error) *Error {
	if err != nil {
		msg = fmt.Sprintf("%s: %v", msg, err)
	}
	return &Error{Code: http.StatusInternalServerError, Message: msg, Type: "internal_error", Log: err}
}
