package errors

import (
	"errors"
	"fmt"
)

// ErrorCode classifies errors surfaced to the controlling application.
type ErrorCode string

const (
	ErrCodeInvalidInput     ErrorCode = "INVALID_INPUT"
	ErrCodeNotConnected     ErrorCode = "NOT_CONNECTED"
	ErrCodeConnectionFailed ErrorCode = "CONNECTION_FAILED"
	ErrCodeStreamError      ErrorCode = "STREAM_ERROR"
	ErrCodeDecodeFailed     ErrorCode = "DECODE_FAILED"
	ErrCodeInternal         ErrorCode = "INTERNAL_ERROR"
)

// AppError is an error with a stable code and optional cause.
type AppError struct {
	Code    ErrorCode
	Message string
	Cause   error
}

func (e *AppError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s (caused by: %v)", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *AppError) Unwrap() error {
	return e.Cause
}

// New creates an AppError without a cause.
func New(code ErrorCode, message string) *AppError {
	return &AppError{Code: code, Message: message}
}

// Wrap creates an AppError wrapping an underlying error.
func Wrap(err error, code ErrorCode, message string) *AppError {
	return &AppError{Code: code, Message: message, Cause: err}
}

// CodeOf returns the code of err if it is (or wraps) an AppError,
// ErrCodeInternal otherwise.
func CodeOf(err error) ErrorCode {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Code
	}
	return ErrCodeInternal
}
