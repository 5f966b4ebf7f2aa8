package errors

import (
	"errors"
	"fmt"
)

// ErrorType classifies failures across the control loop
type ErrorType string

const (
	ErrorTypeValidation       ErrorType = "validation"
	ErrorTypeNotFound         ErrorType = "not_found"
	ErrorTypeConflict         ErrorType = "conflict"
	ErrorTypeUnauthorized     ErrorType = "unauthorized"
	ErrorTypeForbidden        ErrorType = "forbidden"
	ErrorTypeInternal         ErrorType = "internal"
	ErrorTypeInsufficientData ErrorType = "insufficient_data"
	ErrorTypeComputation      ErrorType = "computation"
	ErrorTypeExecution        ErrorType = "execution"
	ErrorTypeIntegration      ErrorType = "integration"
)

// AppError represents a structured application error
type AppError struct {
	Type       ErrorType              `json:"type"`
	Code       string                 `json:"code"`
	Message    string                 `json:"message"`
	Details    map[string]interface{} `json:"details,omitempty"`
	Cause      error                  `json:"-"`
	Retryable  bool                   `json:"retryable"`
	StatusCode int                    `json:"status_code"`
}

func (e *AppError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

func (e *AppError) Unwrap() error {
	return e.Cause
}

func (e *AppError) WithDetails(details map[string]interface{}) *AppError {
	e.Details = details
	return e
}

func (e *AppError) WithCause(cause error) *AppError {
	e.Cause = cause
	return e
}

// Error constructors
func NewValidationError(code, message string) *AppError {
	return &AppError{
		Type:       ErrorTypeValidation,
		Code:       code,
		Message:    message,
		StatusCode: 400,
	}
}

func NewNotFoundError(resource string) *AppError {
	return &AppError{
		Type:       ErrorTypeNotFound,
		Code:       "RESOURCE_NOT_FOUND",
		Message:    fmt.Sprintf("%s not found", resource),
		StatusCode: 404,
	}
}

func NewConflictError(message string) *AppError {
	return &AppError{
		Type:       ErrorTypeConflict,
		Code:       "CONFLICT",
		Message:    message,
		StatusCode: 409,
	}
}

func NewUnauthorizedError(message string) *AppError {
	return &AppError{
		Type:       ErrorTypeUnauthorized,
		Code:       "UNAUTHORIZED",
		Message:    message,
		StatusCode: 401,
	}
}

func NewForbiddenError(message string) *AppError {
	return &AppError{
		Type:       ErrorTypeForbidden,
		Code:       "FORBIDDEN",
		Message:    message,
		StatusCode: 403,
	}
}

func NewInternalError(message string) *AppError {
	return &AppError{
		Type:       ErrorTypeInternal,
		Code:       "INTERNAL_ERROR",
		Message:    message,
		Retryable:  true,
		StatusCode: 500,
	}
}

// NewInsufficientDataError reports a component asked to work below its
// minimum sample count. Analytic components log it and return placeholders.
func NewInsufficientDataError(component string, have, need int) *AppError {
	return &AppError{
		Type:       ErrorTypeInsufficientData,
		Code:       "INSUFFICIENT_DATA",
		Message:    fmt.Sprintf("%s requires %d samples, have %d", component, need, have),
		StatusCode: 422,
		Details:    map[string]interface{}{"component": component, "have": have, "need": need},
	}
}

func NewComputationError(component, message string) *AppError {
	return &AppError{
		Type:       ErrorTypeComputation,
		Code:       "COMPUTATION_ERROR",
		Message:    fmt.Sprintf("%s: %s", component, message),
		StatusCode: 500,
		Details:    map[string]interface{}{"component": component},
	}
}

func NewExecutionError(actionID, message string) *AppError {
	return &AppError{
		Type:       ErrorTypeExecution,
		Code:       "EXECUTION_FAILED",
		Message:    message,
		StatusCode: 500,
		Details:    map[string]interface{}{"action_id": actionID},
	}
}

// NewIntegrationError reports an upstream snapshot fetch failure. Stages that
// depend on the snapshot stop instead of acting on partial data.
func NewIntegrationError(source, message string) *AppError {
	return &AppError{
		Type:       ErrorTypeIntegration,
		Code:       "INTEGRATION_FAILURE",
		Message:    fmt.Sprintf("%s: %s", source, message),
		Retryable:  true,
		StatusCode: 502,
		Details:    map[string]interface{}{"source": source},
	}
}

var (
	ErrRuleNotFound   = NewNotFoundError("alert rule")
	ErrActionNotFound = NewNotFoundError("optimization action")
	ErrCycleInFlight  = NewConflictError("a cycle is already running on this engine")
)

// Wrap wraps an error with a message using fmt.Errorf with %w
func Wrap(err error, message string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", message, err)
}

// IsType checks if an error is of a specific type
func IsType(err error, errorType ErrorType) bool {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Type == errorType
	}
	return false
}

// IsRetryable checks if an error is retryable
func IsRetryable(err error) bool {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Retryable
	}
	return false
}

// GetStatusCode extracts HTTP status code from error
func GetStatusCode(err error) int {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.StatusCode
	}
	return 500
}
