package errors

import (
	"errors"
	"fmt"
)

var (
	// ErrNotConnected indicates that the client is not connected to NATS
	ErrNotConnected = errors.New("not connected to NATS")

	// ErrInvalidSubject indicates that the provided subject is invalid
	ErrInvalidSubject = errors.New("invalid subject")

	// ErrInvalidMessage indicates that the message is invalid
	ErrInvalidMessage = errors.New("invalid message")

	// ErrTimeout indicates that an operation timed out
	ErrTimeout = errors.New("operation timed out")

	// ErrPublishFailed indicates that a message could not be published
	ErrPublishFailed = errors.New("publish failed")
)

// ErrorType classifies an AppError. The classification decides whether a
// failed message is redelivered (Internal) or acknowledged as permanently failed.
type ErrorType int

const (
	Internal ErrorType = iota
	NotFound
	BadRequest
	Unauthorized
	Conflict
	ValidationFailed
	PermissionDenied
)

// String returns the wire name of the error type.
func (t ErrorType) String() string {
	switch t {
	case NotFound:
		return "not_found"
	case BadRequest:
		return "bad_request"
	case Unauthorized:
		return "unauthorized"
	case Conflict:
		return "conflict"
	case ValidationFailed:
		return "validation_failed"
	case PermissionDenied:
		return "permission_denied"
	default:
		return "internal"
	}
}

// AppError represents a structured SDK error
type AppError struct {
	// Type classifies the error
	Type ErrorType

	// Code is a machine-readable error code
	Code string

	// Message is a human-readable error message
	Message string

	// Err is the underlying error, if any
	Err error
}

// Error implements the error interface
func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying error
func (e *AppError) Unwrap() error {
	return e.Err
}

func newAppError(t ErrorType, message, code string, err error) *AppError {
	return &AppError{Type: t, Code: code, Message: message, Err: err}
}

// NewInternalError creates a transient error; messages failing with it are redelivered.
func NewInternalError(message, code string, err error) *AppError {
	return newAppError(Internal, message, code, err)
}

// NewNotFoundError creates a not-found error.
func NewNotFoundError(message, code string, err error) *AppError {
	return newAppError(NotFound, message, code, err)
}

// NewBadRequestError creates a bad-request error.
func NewBadRequestError(message, code string, err error) *AppError {
	return newAppError(BadRequest, message, code, err)
}

// NewUnauthorizedError creates an unauthorized error.
func NewUnauthorizedError(message, code string, err error) *AppError {
	return newAppError(Unauthorized, message, code, err)
}

// NewConflictError creates a conflict error.
func NewConflictError(message, code string, err error) *AppError {
	return newAppError(Conflict, message, code, err)
}

// NewValidationError creates a validation error.
func NewValidationError(message, code string, err error) *AppError {
	return newAppError(ValidationFailed, message, code, err)
}

// NewPermissionDeniedError creates a permission-denied error.
func NewPermissionDeniedError(message, code string, err error) *AppError {
	return newAppError(PermissionDenied, message, code, err)
}

// IsTimeout checks if an error is a timeout error
func IsTimeout(err error) bool {
	return errors.Is(err, ErrTimeout)
}

// IsNotConnected checks if an error is a not connected error
func IsNotConnected(err error) bool {
	return errors.Is(err, ErrNotConnected)
}

// IsRetryable reports whether err should lead to redelivery. Errors that are
// not AppErrors are treated as transient.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Type == Internal
	}
	return true
}

// Classify returns the code and type name for err, defaulting to an internal error.
func Classify(err error) (code string, errType string) {
	var appErr *AppError
	if errors.As(err, &appErr) {
		code = appErr.Code
		if code == "" {
			code = "APP_ERROR"
		}
		return code, appErr.Type.String()
	}
	return "INTERNAL_ERROR", Internal.String()
}
