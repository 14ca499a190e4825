package errors

import (
	"errors"
	"fmt"
)

// ErrorCode represents a unique error identifier
type ErrorCode string

const (
	// Authorization
	ErrCodeUnauthorized ErrorCode = "UNAUTHORIZED"

	// Validation
	ErrCodeValidation      ErrorCode = "VALIDATION_ERROR"
	ErrCodeInvalidInput    ErrorCode = "INVALID_INPUT"
	ErrCodeMissingRequired ErrorCode = "MISSING_REQUIRED"

	// Resource
	ErrCodeNotFound ErrorCode = "NOT_FOUND"

	// Session lifecycle
	ErrCodeInvalidTransition  ErrorCode = "INVALID_TRANSITION"
	ErrCodeSessionNotJoinable ErrorCode = "SESSION_NOT_JOINABLE"
	ErrCodeCapacityExceeded   ErrorCode = "CAPACITY_EXCEEDED"

	// Item ledger
	ErrCodeVersionConflict       ErrorCode = "VERSION_CONFLICT"
	ErrCodeSpendingLimitExceeded ErrorCode = "SPENDING_LIMIT_EXCEEDED"

	// Payment
	ErrCodeInvalidSplitConfiguration ErrorCode = "INVALID_SPLIT_CONFIGURATION"
	ErrCodePaymentFailure            ErrorCode = "PAYMENT_FAILURE"

	// Join codes. Retried internally by the generator, never surfaced to callers.
	ErrCodeCodeCollision ErrorCode = "CODE_COLLISION"

	// Rate Limiting
	ErrCodeRateLimitExceeded ErrorCode = "RATE_LIMIT_EXCEEDED"

	// Internal
	ErrCodeInternal ErrorCode = "INTERNAL_ERROR"
	ErrCodeDatabase ErrorCode = "DATABASE_ERROR"
	ErrCodeExternal ErrorCode = "EXTERNAL_SERVICE_ERROR"
)

// AppError is a structured error that can be returned to clients
type AppError struct {
	Code    ErrorCode `json:"code"`
	Message string    `json:"message"`
	Details any       `json:"details,omitempty"`
	cause   error
}

// Error implements the error interface
func (e *AppError) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %s (cause: %v)", e.Code, e.Message, e.cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying error
func (e *AppError) Unwrap() error {
	return e.cause
}

// WithCause adds a cause to the error
func (e *AppError) WithCause(err error) *AppError {
	e.cause = err
	return e
}

// WithDetails adds details to the error
func (e *AppError) WithDetails(details any) *AppError {
	e.Details = details
	return e
}

// New creates a new AppError
func New(code ErrorCode, message string) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
	}
}

// Wrap wraps an existing error with an AppError
func Wrap(code ErrorCode, message string, cause error) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
		cause:   cause,
	}
}

// Common error constructors

func Unauthorized(message string) *AppError {
	return New(ErrCodeUnauthorized, message)
}

func NotFound(resource string) *AppError {
	return New(ErrCodeNotFound, fmt.Sprintf("%s not found", resource))
}

func InvalidTransition(status, event string) *AppError {
	return New(ErrCodeInvalidTransition,
		fmt.Sprintf("cannot apply %s while session is %s", event, status))
}

func SessionNotJoinable(status string) *AppError {
	return New(ErrCodeSessionNotJoinable,
		fmt.Sprintf("session is %s and no longer accepting participants", status))
}

func CapacityExceeded(message string) *AppError {
	return New(ErrCodeCapacityExceeded, message)
}

func VersionConflict(itemID string, expected, actual int64) *AppError {
	return New(ErrCodeVersionConflict,
		fmt.Sprintf("item %s is at version %d, expected %d", itemID, actual, expected))
}

func SpendingLimitExceeded(participantID string) *AppError {
	return New(ErrCodeSpendingLimitExceeded,
		fmt.Sprintf("spending limit exceeded for participant %s", participantID))
}

func InvalidSplitConfiguration(reason string) *AppError {
	return New(ErrCodeInvalidSplitConfiguration, reason)
}

func PaymentFailure(message string) *AppError {
	return New(ErrCodePaymentFailure, message)
}

func CodeCollision() *AppError {
	return New(ErrCodeCodeCollision, "join code space exhausted")
}

func ValidationError(message string) *AppError {
	return New(ErrCodeValidation, message)
}

func InvalidInput(field string, reason string) *AppError {
	return New(ErrCodeInvalidInput, fmt.Sprintf("Invalid %s: %s", field, reason))
}

func MissingRequired(field string) *AppError {
	return New(ErrCodeMissingRequired, fmt.Sprintf("%s is required", field))
}

func RateLimitExceeded() *AppError {
	return New(ErrCodeRateLimitExceeded, "Rate limit exceeded")
}

func Internal(message string) *AppError {
	return New(ErrCodeInternal, message)
}

func Database(cause error) *AppError {
	return Wrap(ErrCodeDatabase, "Database error", cause)
}

func External(service string, cause error) *AppError {
	return Wrap(ErrCodeExternal, fmt.Sprintf("External service error: %s", service), cause)
}

// IsAppError checks if an error is an AppError
func IsAppError(err error) bool {
	var appErr *AppError
	return errors.As(err, &appErr)
}

// AsAppError converts an error to an AppError if possible
func AsAppError(err error) (*AppError, bool) {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr, true
	}
	return nil, false
}

// GetCode returns the error code if the error is an AppError, otherwise returns ErrCodeInternal
func GetCode(err error) ErrorCode {
	if appErr, ok := AsAppError(err); ok {
		return appErr.Code
	}
	return ErrCodeInternal
}
