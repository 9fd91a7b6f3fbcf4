package errors

import (
	"errors"
	"fmt"
	"time"
)

// ErrorCode is the machine-readable category of an AppError.
type ErrorCode string

const (
	ErrCodeInternal     ErrorCode = "INTERNAL_ERROR"
	ErrCodeBadRequest   ErrorCode = "BAD_REQUEST"
	ErrCodeNotFound     ErrorCode = "NOT_FOUND"
	ErrCodeUnauthorized ErrorCode = "UNAUTHORIZED"
	ErrCodeConflict     ErrorCode = "CONFLICT"

	// IP proof errors
	ErrCodeInvalidHash   ErrorCode = "INVALID_HASH"
	ErrCodeMissingFields ErrorCode = "MISSING_FIELDS"

	// Internal failures; the message returned to callers stays generic
	ErrCodeRenderFailure      ErrorCode = "RENDER_FAILURE"
	ErrCodePersistenceFailure ErrorCode = "PERSISTENCE_FAILURE"
)

// AppError is a typed application error carried from services to the HTTP layer.
type AppError struct {
	Code      ErrorCode              `json:"code"`
	Message   string                 `json:"message"`
	Details   map[string]interface{} `json:"details,omitempty"`
	Timestamp time.Time              `json:"timestamp"`
	Cause     error                  `json:"-"`
}

func (e *AppError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

func (e *AppError) Unwrap() error {
	return e.Cause
}

// IsInternal reports whether the error must be hidden from callers.
func (e *AppError) IsInternal() bool {
	switch e.Code {
	case ErrCodeInternal, ErrCodeRenderFailure, ErrCodePersistenceFailure:
		return true
	}
	return false
}

// WithDetail attaches a detail entry to the error.
func (e *AppError) WithDetail(key string, value interface{}) *AppError {
	if e.Details == nil {
		e.Details = make(map[string]interface{})
	}
	e.Details[key] = value
	return e
}

// New creates an AppError.
func New(code ErrorCode, message string) *AppError {
	return &AppError{
		Code:      code,
		Message:   message,
		Timestamp: time.Now(),
	}
}

// Wrap creates an AppError with an underlying cause.
func Wrap(err error, code ErrorCode, message string) *AppError {
	appErr := New(code, message)
	appErr.Cause = err
	return appErr
}

// Wrapf is Wrap with a formatted message.
func Wrapf(err error, code ErrorCode, format string, args ...interface{}) *AppError {
	return Wrap(err, code, fmt.Sprintf(format, args...))
}

func NewInvalidHashError(value string) *AppError {
	return New(ErrCodeInvalidHash, "Invalid file hash format. Expected 64-character SHA-256 hex string").
		WithDetail("length", len(value))
}

func NewMissingFieldsError(fields []string) *AppError {
	return New(ErrCodeMissingFields, "Missing required fields").
		WithDetail("fields", fields)
}

func NewNotFoundError(resource string) *AppError {
	return New(ErrCodeNotFound, fmt.Sprintf("%s not found", resource))
}

func NewUnauthorizedError(reason string) *AppError {
	return New(ErrCodeUnauthorized, fmt.Sprintf("Unauthorized: %s", reason))
}

func NewPersistenceError(operation string, err error) *AppError {
	return Wrap(err, ErrCodePersistenceFailure, fmt.Sprintf("Database operation failed: %s", operation)).
		WithDetail("operation", operation)
}

func NewRenderError(err error) *AppError {
	return Wrap(err, ErrCodeRenderFailure, "Certificate rendering failed")
}

// AsAppError extracts an AppError from an error chain.
func AsAppError(err error) (*AppError, bool) {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr, true
	}
	return nil, false
}

// HasCode reports whether err is an AppError with the given code.
func HasCode(err error, code ErrorCode) bool {
	appErr, ok := AsAppError(err)
	return ok && appErr.Code == code
}
