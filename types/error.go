package types

import (
	"errors"
	"fmt"
)

// ErrorCode represents a unified error code across the engine.
type ErrorCode string

// Scheduler error codes
const (
	ErrValidation         ErrorCode = "VALIDATION"
	ErrExecution          ErrorCode = "EXECUTION"
	ErrInputData          ErrorCode = "INPUT_DATA"
	ErrComplexityOverflow ErrorCode = "COMPLEXITY_OVERFLOW"
	ErrStructural         ErrorCode = "STRUCTURAL"
	ErrInvalidTransition  ErrorCode = "INVALID_TRANSITION"
	ErrJobNotFound        ErrorCode = "JOB_NOT_FOUND"
	ErrExpertNotFound     ErrorCode = "EXPERT_NOT_FOUND"
)

// Command bus and store error codes
const (
	ErrHandlerNotFound ErrorCode = "HANDLER_NOT_FOUND"
	ErrMissingParam    ErrorCode = "MISSING_PARAM"
	ErrStoreClosed     ErrorCode = "STORE_CLOSED"
	ErrInternalError   ErrorCode = "INTERNAL_ERROR"
)

// Error represents a structured error with code, message, and cause.
type Error struct {
	Code      ErrorCode `json:"code"`
	Message   string    `json:"message"`
	Retryable bool      `json:"retryable"`
	Cause     error     `json:"-"`
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error {
	return e.Cause
}

// NewError creates a new Error with the given code and message.
func NewError(code ErrorCode, message string) *Error {
	return &Error{Code: code, Message: message}
}

// NewErrorf creates a new Error with a formatted message.
func NewErrorf(code ErrorCode, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// WithCause adds a cause to the error.
func (e *Error) WithCause(cause error) *Error {
	e.Cause = cause
	return e
}

// WithRetryable marks the error as retryable.
func (e *Error) WithRetryable(retryable bool) *Error {
	e.Retryable = retryable
	return e
}

// IsErrorCode checks whether err carries the given code anywhere in its chain.
func IsErrorCode(err error, code ErrorCode) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Code == code
	}
	return false
}

// GetErrorCode extracts the error code from an error.
func GetErrorCode(err error) ErrorCode {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}
