/*
Copyright 2025 Jordi Gil.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

// Package errors implements the taxonomy of spec.md §7: a closed set of
// error kinds, each mapped to an HTTP status code, the AppError type that
// carries one of them, and OperationError for a failed named operation.
// Subsystems (state transitions, coordinator, policy, arbitration,
// resource exhaustion) raise AppErrors with their own code strings; this
// package defines no subsystem-specific error types.
package errors

import (
	"errors"
	"fmt"
	"net/http"
)

// ErrorType is the closed set of error kinds callers across the HTTP
// boundary need to distinguish.
type ErrorType string

const (
	ErrorTypeValidation ErrorType = "validation"
	ErrorTypeAuth       ErrorType = "auth"
	ErrorTypeNotFound   ErrorType = "not_found"
	ErrorTypeConflict   ErrorType = "conflict"
	ErrorTypeTimeout    ErrorType = "timeout"
	ErrorTypeRateLimit  ErrorType = "rate_limit"
	ErrorTypeDatabase   ErrorType = "database"
	ErrorTypeNetwork    ErrorType = "network"
	ErrorTypeInternal   ErrorType = "internal"
)

var statusByType = map[ErrorType]int{
	ErrorTypeValidation: http.StatusBadRequest,
	ErrorTypeAuth:       http.StatusUnauthorized,
	ErrorTypeNotFound:   http.StatusNotFound,
	ErrorTypeConflict:   http.StatusConflict,
	ErrorTypeTimeout:    http.StatusRequestTimeout,
	ErrorTypeRateLimit:  http.StatusTooManyRequests,
	ErrorTypeDatabase:   http.StatusInternalServerError,
	ErrorTypeNetwork:    http.StatusInternalServerError,
	ErrorTypeInternal:   http.StatusInternalServerError,
}

// AppError is a structured error crossing an API boundary: a type, a
// message, optional details, an HTTP status, and an optional cause.
type AppError struct {
	Type       ErrorType
	Message    string
	Details    string
	StatusCode int
	Cause      error
}

// New creates an AppError of the given type.
func New(t ErrorType, message string) *AppError {
	return &AppError{
		Type:       t,
		Message:    message,
		StatusCode: statusByType[t],
	}
}

// Newf creates an AppError with a formatted message.
func Newf(t ErrorType, format string, args ...any) *AppError {
	return New(t, fmt.Sprintf(format, args...))
}

// Wrap creates an AppError of the given type wrapping cause.
func Wrap(cause error, t ErrorType, message string) *AppError {
	e := New(t, message)
	e.Cause = cause
	return e
}

// Wrapf creates an AppError wrapping cause with a formatted message.
func Wrapf(cause error, t ErrorType, format string, args ...any) *AppError {
	return Wrap(cause, t, fmt.Sprintf(format, args...))
}

// WithDetails sets Details in place and returns e for chaining.
func (e *AppError) WithDetails(details string) *AppError {
	e.Details = details
	return e
}

// WithDetailsf sets a formatted Details in place and returns e.
func (e *AppError) WithDetailsf(format string, args ...any) *AppError {
	e.Details = fmt.Sprintf(format, args...)
	return e
}

func (e *AppError) Error() string {
	s := string(e.Type) + ": " + e.Message
	if e.Details != "" {
		s += " (" + e.Details + ")"
	}
	if e.Cause != nil {
		s += ": " + e.Cause.Error()
	}
	return s
}

func (e *AppError) Unwrap() error {
	return e.Cause
}

// Predefined constructors for the common cases.

func Validation(message string) *AppError { return New(ErrorTypeValidation, message) }
func NotFound(message string) *AppError   { return New(ErrorTypeNotFound, message) }
func Conflict(message string) *AppError   { return New(ErrorTypeConflict, message) }
func Internal(message string) *AppError   { return New(ErrorTypeInternal, message) }

// OperationError describes a failed operation against a component and
// resource, independent of the HTTP-facing AppError taxonomy — used for
// internal diagnostics (e.g. recovery action failures) that never cross
// an API boundary.
type OperationError struct {
	Operation string
	Component string
	Resource  string
	Cause     error
}

func (e *OperationError) Error() string {
	s := "failed to " + e.Operation
	if e.Component != "" {
		s += ", component: " + e.Component
	}
	if e.Resource != "" {
		s += ", resource: " + e.Resource
	}
	if e.Cause != nil {
		s += ", cause: " + e.Cause.Error()
	}
	return s
}

func (e *OperationError) Unwrap() error {
	return e.Cause
}

// FailedTo is a shorthand for the common "failed to X: cause" shape.
func FailedTo(action string, cause error) error {
	return fmt.Errorf("failed to %s: %w", action, cause)
}

// Is reports whether err (or anything it wraps) is an *AppError of type t.
func Is(err error, t ErrorType) bool {
	var ae *AppError
	if errors.As(err, &ae) {
		return ae.Type == t
	}
	return false
}
