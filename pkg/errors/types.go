// Package errors defines the structured error taxonomy shared by every
// steward subsystem. Each error carries a code so callers can branch on the
// failure class without string matching.
package errors

import (
	"fmt"
	"strings"
)

// ErrorCode represents a structured error code
type ErrorCode string

const (
	// Input errors
	ErrCodeValidation ErrorCode = "VALIDATION"
	ErrCodeNotFound   ErrorCode = "NOT_FOUND"

	// Coordination errors
	ErrCodeConflict        ErrorCode = "CONFLICT"
	ErrCodeAlreadyResolved ErrorCode = "ALREADY_RESOLVED"

	// Collaborator errors
	ErrCodeExternalCapability ErrorCode = "EXTERNAL_CAPABILITY"
	ErrCodePersistence        ErrorCode = "PERSISTENCE"
	ErrCodeWorkerSpawn        ErrorCode = "WORKER_SPAWN"

	// Configuration errors
	ErrCodeConfigLoad    ErrorCode = "CONFIG_LOAD"
	ErrCodeConfigInvalid ErrorCode = "CONFIG_INVALID"

	// Generic errors
	ErrCodeInternal ErrorCode = "INTERNAL"
)

// Error represents a structured steward error
type Error struct {
	Code       ErrorCode
	Message    string
	Underlying error
	Context    map[string]any
	Retryable  bool
}

// New creates a new structured error
func New(code ErrorCode, message string) *Error {
	return &Error{
		Code:    code,
		Message: message,
		Context: make(map[string]any),
	}
}

// Newf creates a new structured error with a formatted message
func Newf(code ErrorCode, format string, args ...any) *Error {
	return New(code, fmt.Sprintf(format, args...))
}

// Wrap wraps an existing error with steward error context
func Wrap(err error, code ErrorCode, message string) *Error {
	if err == nil {
		return nil
	}
	return &Error{
		Code:       code,
		Message:    message,
		Underlying: err,
		Context:    make(map[string]any),
	}
}

// NotFound reports a missing record of the given kind.
func NotFound(kind, id string) *Error {
	return Newf(ErrCodeNotFound, "%s not found: %s", kind, id).
		WithContext("kind", kind).
		WithContext("id", id)
}

// Validation reports malformed input. The operation must not have mutated
// any state before returning it.
func Validation(message string) *Error {
	return New(ErrCodeValidation, message)
}

// Conflict reports a lost race against a concurrent writer. Callers should
// retry against a different record, never the same one.
func Conflict(message string) *Error {
	return &Error{
		Code:      ErrCodeConflict,
		Message:   message,
		Context:   make(map[string]any),
		Retryable: true,
	}
}

// WithContext adds context key-value pairs to the error
func (e *Error) WithContext(key string, value any) *Error {
	if e.Context == nil {
		e.Context = make(map[string]any)
	}
	e.Context[key] = value
	return e
}

// WithRetryable marks the error as retryable
func (e *Error) WithRetryable(retryable bool) *Error {
	e.Retryable = retryable
	return e
}

// Error implements the error interface
func (e *Error) Error() string {
	var sb strings.Builder

	sb.WriteString(fmt.Sprintf("[%s] %s", e.Code, e.Message))

	if len(e.Context) > 0 {
		sb.WriteString(" {")
		first := true
		for k, v := range e.Context {
			if !first {
				sb.WriteString(", ")
			}
			sb.WriteString(fmt.Sprintf("%s: %v", k, v))
			first = false
		}
		sb.WriteString("}")
	}

	if e.Underlying != nil {
		sb.WriteString(fmt.Sprintf(": %v", e.Underlying))
	}

	return sb.String()
}

// Unwrap returns the underlying error for errors.Is/As
func (e *Error) Unwrap() error {
	return e.Underlying
}

// IsCode checks if an error has a specific error code
func IsCode(err error, code ErrorCode) bool {
	if err == nil {
		return false
	}
	stewardErr, ok := err.(*Error)
	if !ok {
		return false
	}
	return stewardErr.Code == code
}

// IsValidation reports whether err is a malformed-input error.
func IsValidation(err error) bool { return IsCode(err, ErrCodeValidation) }

// IsNotFound reports whether err is an unknown-record error.
func IsNotFound(err error) bool { return IsCode(err, ErrCodeNotFound) }

// IsConflict reports whether err is a lost-race error.
func IsConflict(err error) bool { return IsCode(err, ErrCodeConflict) }

// IsAlreadyResolved reports whether err rejected a terminal-state transition.
func IsAlreadyResolved(err error) bool { return IsCode(err, ErrCodeAlreadyResolved) }

// IsExternalCapability reports whether err came from a pluggable judgment call.
func IsExternalCapability(err error) bool { return IsCode(err, ErrCodeExternalCapability) }

// GetCode extracts the error code from an error
func GetCode(err error) ErrorCode {
	if err == nil {
		return ""
	}
	stewardErr, ok := err.(*Error)
	if !ok {
		return ErrCodeInternal
	}
	return stewardErr.Code
}

// IsRetryable checks if an error is retryable
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	stewardErr, ok := err.(*Error)
	if !ok {
		return false
	}
	return stewardErr.Retryable
}
