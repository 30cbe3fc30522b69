package types

import (
	"errors"
	"fmt"
	"net/http"
)

// ErrorCode represents a unified error code across the service.
type ErrorCode string

// Admission error codes. A batch carrying one of these is rejected before any worker runs.
const (
	ErrInvalidRequest    ErrorCode = "INVALID_REQUEST"
	ErrEmptyBatch        ErrorCode = "EMPTY_BATCH"
	ErrPageLimitExceeded ErrorCode = "PAGE_LIMIT_EXCEEDED"
	ErrQuotaExceeded     ErrorCode = "QUOTA_EXCEEDED"
)

// Per-file pipeline error codes.
const (
	ErrSchemaNotFound    ErrorCode = "SCHEMA_NOT_FOUND"
	ErrSchemaInvalid     ErrorCode = "SCHEMA_INVALID"
	ErrContentUnreadable ErrorCode = "CONTENT_UNREADABLE"
	ErrUnsupportedFile   ErrorCode = "UNSUPPORTED_FILE"
	ErrCapabilityFailed  ErrorCode = "CAPABILITY_FAILED"
	ErrRecordInvalid     ErrorCode = "RECORD_INVALID"
	ErrUpstreamTimeout   ErrorCode = "UPSTREAM_TIMEOUT"
	ErrUpstreamError     ErrorCode = "UPSTREAM_ERROR"
	ErrRateLimit         ErrorCode = "RATE_LIMIT"
	ErrContextTooLong    ErrorCode = "CONTEXT_TOO_LONG"
)

// Service error codes.
const (
	ErrAuthentication     ErrorCode = "AUTHENTICATION"
	ErrUnauthorized       ErrorCode = "UNAUTHORIZED"
	ErrNotFound           ErrorCode = "NOT_FOUND"
	ErrInternalError      ErrorCode = "INTERNAL_ERROR"
	ErrServiceUnavailable ErrorCode = "SERVICE_UNAVAILABLE"
)

// Error represents a structured error with code, message, and metadata.
type Error struct {
	Code       ErrorCode `json:"code"`
	Message    string    `json:"message"`
	HTTPStatus int       `json:"http_status,omitempty"`
	Retryable  bool      `json:"retryable"`
	Cause      error     `json:"-"`
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

// Errorf creates a new Error with a formatted message.
func Errorf(code ErrorCode, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// WithCause adds a cause to the error.
func (e *Error) WithCause(cause error) *Error {
	e.Cause = cause
	return e
}

// WithHTTPStatus sets the HTTP status code.
func (e *Error) WithHTTPStatus(status int) *Error {
	e.HTTPStatus = status
	return e
}

// WithRetryable marks the error as retryable.
func (e *Error) WithRetryable(retryable bool) *Error {
	e.Retryable = retryable
	return e
}

// AsError unwraps err into *Error when possible.
func AsError(err error) (*Error, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}

// IsRetryable checks if an error is retryable.
func IsRetryable(err error) bool {
	if e, ok := AsError(err); ok {
		return e.Retryable
	}
	return false
}

// GetErrorCode extracts the error code from an error.
func GetErrorCode(err error) ErrorCode {
	if e, ok := AsError(err); ok {
		return e.Code
	}
	return ""
}

// IsErrorCode reports whether err carries the given code anywhere in its chain.
func IsErrorCode(err error, code ErrorCode) bool {
	return GetErrorCode(err) == code
}

// IsAdmissionError 判断错误是否属于批次准入类错误（批次整体被拒绝）。
func IsAdmissionError(err error) bool {
	switch GetErrorCode(err) {
	case ErrInvalidRequest, ErrEmptyBatch, ErrPageLimitExceeded, ErrQuotaExceeded:
		return true
	}
	return false
}

// StatusFor 返回错误码对应的默认 HTTP 状态码。
func StatusFor(code ErrorCode) int {
	switch code {
	case ErrInvalidRequest, ErrEmptyBatch, ErrSchemaInvalid, ErrUnsupportedFile:
		return http.StatusBadRequest
	case ErrPageLimitExceeded:
		return http.StatusRequestEntityTooLarge
	case ErrQuotaExceeded, ErrRateLimit:
		return http.StatusTooManyRequests
	case ErrAuthentication, ErrUnauthorized:
		return http.StatusUnauthorized
	case ErrSchemaNotFound, ErrNotFound:
		return http.StatusNotFound
	case ErrUpstreamTimeout:
		return http.StatusGatewayTimeout
	case ErrUpstreamError, ErrCapabilityFailed:
		return http.StatusBadGateway
	case ErrServiceUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
