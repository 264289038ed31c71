package domain

import (
	"errors"
	"fmt"
	"time"
)

// Sentinel errors shared by repositories and services
var (
	ErrNotFound         = errors.New("not found")
	ErrDuplicatePatient = errors.New("possible duplicate patient")
	ErrInvalidInput     = errors.New("invalid input")
	ErrRecordIncomplete = errors.New("medical record incomplete")
)

// AppError represents a standardized error response
type AppError struct {
	Code      string    `json:"code"`
	Message   string    `json:"message"`
	Details   string    `json:"details,omitempty"`
	Timestamp time.Time `json:"timestamp"`
	RequestID string    `json:"request_id"`
}

// Error implements the error interface
func (e *AppError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Error codes for different failure scenarios
const (
	ErrCodeInvalidInput   = "INVALID_INPUT"
	ErrCodeNotFound       = "NOT_FOUND"
	ErrCodeConflict       = "CONFLICT"
	ErrCodeDatabase       = "DATABASE_ERROR"
	ErrCodeExternalAPI    = "EXTERNAL_API_ERROR"
	ErrCodeLLM            = "LLM_ERROR"
	ErrCodeRateLimit      = "RATE_LIMIT_EXCEEDED"
	ErrCodeValidation     = "VALIDATION_ERROR"
	ErrCodeIncomplete     = "RECORD_INCOMPLETE"
	ErrCodeTimeout        = "REQUEST_TIMEOUT"
	ErrCodeInternalServer = "INTERNAL_SERVER_ERROR"
)

// ValidationError represents input validation errors
type ValidationError struct {
	Field   string      `json:"field"`
	Message string      `json:"message"`
	Value   interface{} `json:"value"`
}

// Error implements the error interface
func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation error for field '%s': %s", e.Field, e.Message)
}

// Unwrap lets errors.Is match ErrInvalidInput
func (e *ValidationError) Unwrap() error {
	return ErrInvalidInput
}

// DuplicatePatientError carries the existing patients that look like the one being created
type DuplicatePatientError struct {
	Duplicates []*Patient
}

func (e *DuplicatePatientError) Error() string {
	return fmt.Sprintf("%s: %d candidate(s)", ErrDuplicatePatient.Error(), len(e.Duplicates))
}

func (e *DuplicatePatientError) Unwrap() error {
	return ErrDuplicatePatient
}

// ExternalServiceError wraps a failure of a remote dependency
type ExternalServiceError struct {
	Service string
	Err     error
}

func (e *ExternalServiceError) Error() string {
	return fmt.Sprintf("%s: %v", e.Service, e.Err)
}

func (e *ExternalServiceError) Unwrap() error {
	return e.Err
}

// LLMError marks a model answer that could not be used
type LLMError struct {
	Stage string
	Err   error
}

func (e *LLMError) Error() string {
	return fmt.Sprintf("llm stage %s: %v", e.Stage, e.Err)
}

func (e *LLMError) Unwrap() error {
	return e.Err
}

// NewAppError creates a new AppError with timestamp
func NewAppError(code, message, details, requestID string) *AppError {
	return &AppError{
		Code:      code,
		Message:   message,
		Details:   details,
		Timestamp: time.Now().UTC(),
		RequestID: requestID,
	}
}

// NewValidationError creates a new ValidationError
func NewValidationError(field, message string, value interface{}) *ValidationError {
	return &ValidationError{
		Field:   field,
		Message: message,
		Value:   value,
	}
}
