// SPDX-License-Identifier: Apache-2.0
// Package errors provides typed error handling with rich context for Vigil.
// Integration code reports failures as *VigilError so the telemetry engine
// can preserve their code and context instead of re-deriving them.
package errors

import (
	"encoding/json"
	"fmt"
)

// ErrorCode classifies Vigil errors for categorization and alerting.
type ErrorCode string

const (
	// CodeInternal indicates an internal system error.
	CodeInternal ErrorCode = "INTERNAL_ERROR"

	// CodeInvalidInput indicates the input failed validation.
	CodeInvalidInput ErrorCode = "INVALID_INPUT"

	// CodeTimeout indicates an operation exceeded its time limit.
	CodeTimeout ErrorCode = "TIMEOUT"

	// CodeRateLimit indicates upstream rate limiting was triggered.
	CodeRateLimit ErrorCode = "RATE_LIMITED"

	// CodeNotFound indicates a resource was not found.
	CodeNotFound ErrorCode = "NOT_FOUND"

	// CodeUnauthorized indicates authentication or authorization failed.
	CodeUnauthorized ErrorCode = "UNAUTHORIZED"

	// CodeNetwork indicates a connection-level failure to an upstream.
	CodeNetwork ErrorCode = "NETWORK_ERROR"

	// CodeAPI indicates an upstream API returned a failure response.
	CodeAPI ErrorCode = "API_ERROR"

	// CodeConfig indicates invalid or missing configuration.
	CodeConfig ErrorCode = "CONFIG_ERROR"
)

// VigilError is a typed error with rich context for observability.
// It implements the error interface and can be unwrapped with errors.As().
type VigilError struct {
	Code        ErrorCode
	Message     string
	Err         error
	Context     map[string]interface{}
	Attributes  map[string]string
	Recoverable bool
	StatusCode  int // For HTTP responses
}

// Error implements the error interface.
func (e *VigilError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap implements errors.Unwrap for error chain traversal.
func (e *VigilError) Unwrap() error {
	return e.Err
}

// MarshalJSON implements json.Marshaler for structured logging.
func (e *VigilError) MarshalJSON() ([]byte, error) {
	type Alias VigilError
	return json.Marshal(&struct {
		Message     string `json:"message"`
		Code        string `json:"code"`
		Err         string `json:"error,omitempty"`
		Recoverable bool   `json:"recoverable"`
		*Alias
	}{
		Message:     e.Error(),
		Code:        string(e.Code),
		Err:         fmt.Sprintf("%v", e.Err),
		Recoverable: e.Recoverable,
		Alias:       (*Alias)(e),
	})
}

// New creates a new VigilError with the given code, message, and cause.
func New(code ErrorCode, msg string, cause error) *VigilError {
	return &VigilError{
		Code:       code,
		Message:    msg,
		Err:        cause,
		Context:    make(map[string]interface{}),
		Attributes: make(map[string]string),
		StatusCode: codeToStatusCode(code),
	}
}

// WithContext adds a key-value pair to the error context.
// Returns the error for method chaining.
func (e *VigilError) WithContext(key string, value interface{}) *VigilError {
	if e.Context == nil {
		e.Context = make(map[string]interface{})
	}
	e.Context[key] = value
	return e
}

// WithAttribute adds a string attribute for OTEL traces.
// Returns the error for method chaining.
func (e *VigilError) WithAttribute(key, value string) *VigilError {
	if e.Attributes == nil {
		e.Attributes = make(map[string]string)
	}
	e.Attributes[key] = value
	return e
}

// WithRecoverable sets whether the error can be recovered from.
// Returns the error for method chaining.
func (e *VigilError) WithRecoverable(recoverable bool) *VigilError {
	e.Recoverable = recoverable
	return e
}

// AsVigilError attempts to convert an error to a VigilError.
// Returns the error as VigilError if it is one, or wraps it otherwise.
func AsVigilError(err error) *VigilError {
	if err == nil {
		return nil
	}
	if ve, ok := err.(*VigilError); ok {
		return ve
	}
	// Wrap unknown error as internal
	return New(CodeInternal, "wrapped error", err)
}

// RecoverableString returns "true" or "false" as a string for observability.
func (e *VigilError) RecoverableString() string {
	if e.Recoverable {
		return "true"
	}
	return "false"
}

// codeToStatusCode maps error codes to HTTP status codes.
func codeToStatusCode(code ErrorCode) int {
	switch code {
	case CodeNotFound:
		return 404 // NOT_FOUND
	case CodeUnauthorized:
		return 401 // UNAUTHENTICATED
	case CodeInvalidInput:
		return 400 // INVALID_ARGUMENT
	case CodeTimeout:
		return 408 // DEADLINE_EXCEEDED
	case CodeRateLimit:
		return 429 // RESOURCE_EXHAUSTED
	default:
		return 500 // INTERNAL
	}
}
