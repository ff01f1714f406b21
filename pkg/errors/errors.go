package errors

import (
	"errors"
	"fmt"
	"net/http"
)

// AppErrorType enumerates the error taxonomy used across the ingest service
// and processing pipeline. Only ValidationError, RateLimitError and
// PayloadTooLargeError are surfaced directly at the HTTP boundary; the rest
// are pipeline-internal and
// are isolated to the stage that produced them.
type AppErrorType string

const (
	ValidationError        AppErrorType = "VALIDATION_ERROR"
	RateLimitError         AppErrorType = "RATE_LIMIT_ERROR"
	TransientStorageError  AppErrorType = "TRANSIENT_STORAGE_ERROR"
	PermanentStorageError  AppErrorType = "PERMANENT_STORAGE_ERROR"
	RuleParseError         AppErrorType = "RULE_PARSE_ERROR"
	ExtractorError         AppErrorType = "EXTRACTOR_ERROR"
	ClassificationError    AppErrorType = "CLASSIFICATION_ERROR"
	ConfigError            AppErrorType = "CONFIG_ERROR"
	NotFoundError          AppErrorType = "NOT_FOUND_ERROR"
	InternalError          AppErrorType = "INTERNAL_ERROR"
	PayloadTooLargeError   AppErrorType = "PAYLOAD_TOO_LARGE_ERROR"
	UnauthorizedError      AppErrorType = "UNAUTHORIZED_ERROR"
)

// AppError carries an internal error taxonomy name plus the HTTP status it
// maps to when surfaced at the ingest boundary.
type AppError struct {
	Err        error        `json:"-"`
	Type       AppErrorType `json:"type"`
	Message    string       `json:"message"`
	Details    string       `json:"details,omitempty"`
	StatusCode int          `json:"-"`
}

func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s - %v", e.Type, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Type, e.Message)
}

func (e *AppError) Unwrap() error {
	return e.Err
}

func NewAppError(errorType AppErrorType, message, details string, err error) *AppError {
	appErr := &AppError{
		Type:    errorType,
		Message: message,
		Details: details,
		Err:     err,
	}

	switch errorType {
	case ValidationError:
		appErr.StatusCode = http.StatusBadRequest
	case RateLimitError:
		appErr.StatusCode = http.StatusTooManyRequests
	case PayloadTooLargeError:
		appErr.StatusCode = http.StatusRequestEntityTooLarge
	case NotFoundError:
		appErr.StatusCode = http.StatusNotFound
	case UnauthorizedError:
		appErr.StatusCode = http.StatusUnauthorized
	case TransientStorageError, PermanentStorageError, RuleParseError,
		ExtractorError, ClassificationError, ConfigError, InternalError:
		appErr.StatusCode = http.StatusInternalServerError
	default:
		appErr.StatusCode = http.StatusInternalServerError
	}

	return appErr
}

func NewValidationError(message, details string) *AppError {
	return NewAppError(ValidationError, message, details, nil)
}

func NewRateLimitError(message string) *AppError {
	return NewAppError(RateLimitError, message, "", nil)
}

func NewPayloadTooLargeError(message string) *AppError {
	return NewAppError(PayloadTooLargeError, message, "", nil)
}

func NewNotFoundError(resource string) *AppError {
	return NewAppError(NotFoundError, resource+" not found", "", nil)
}

func NewUnauthorizedError(message string) *AppError {
	return NewAppError(UnauthorizedError, message, "", nil)
}

// NewTransientStorageError wraps a retriable storage failure; callers route
// the event to the spill log and let the background retrier drain it.
func NewTransientStorageError(message string, err error) *AppError {
	return NewAppError(TransientStorageError, message, "", err)
}

// NewPermanentStorageError wraps a non-retriable storage failure; the event
// remains in the spill log for operator intervention.
func NewPermanentStorageError(message string, err error) *AppError {
	return NewAppError(PermanentStorageError, message, "", err)
}

// NewRuleParseError marks a single offending rule as skipped; never fatal.
func NewRuleParseError(ruleID, message string) *AppError {
	return NewAppError(RuleParseError, message, ruleID, nil)
}

// NewExtractorError marks a single extractor as skipped for this input only.
func NewExtractorError(extractorName, message string, err error) *AppError {
	return NewAppError(ExtractorError, message, extractorName, err)
}

// NewClassificationError is never returned to callers; classification is
// declared infallible and instead returns the ERROR sentinel category.
func NewClassificationError(message string, err error) *AppError {
	return NewAppError(ClassificationError, message, "", err)
}

// NewConfigError is fatal on startup.
func NewConfigError(message string, err error) *AppError {
	return NewAppError(ConfigError, message, "", err)
}

func NewInternalError(message string, err error) *AppError {
	return NewAppError(InternalError, message, "", err)
}

func IsAppError(err error) (*AppError, bool) {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr, true
	}
	return nil, false
}

func GetStatusCode(err error) int {
	if appErr, ok := IsAppError(err); ok {
		return appErr.StatusCode
	}
	return http.StatusInternalServerError
}

func GetErrorType(err error) AppErrorType {
	if appErr, ok := IsAppError(err); ok {
		return appErr.Type
	}
	return InternalError
}

// IsValidation reports whether err is a client-visible validation failure.
func IsValidation(err error) bool {
	if appErr, ok := IsAppError(err); ok {
		return appErr.Type == ValidationError
	}
	return false
}

// IsTransientStorage reports whether err should be retried from the spill log.
func IsTransientStorage(err error) bool {
	if appErr, ok := IsAppError(err); ok {
		return appErr.Type == TransientStorageError
	}
	return false
}
