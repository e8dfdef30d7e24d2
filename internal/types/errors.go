package types

import (
	"fmt"
	"net/http"
)

// ErrorCode is a typed string for categorizing bridge errors.
type ErrorCode string

// Error code constants. Routing and handler code MUST use these constants
// instead of hardcoded strings.
const (
	// Local data-extraction failures; surfaced as a dismissible UI error,
	// never retried.
	ErrCodeChannelResolution   ErrorCode = "channel_resolution_failed"
	ErrCodeRecipientResolution ErrorCode = "recipient_resolution_failed"

	// Provider-level dispatch failure. Surfaced as a dismissible UI error
	// for widget-triggered sends; reported back to the relay as an
	// email-error event for relay-triggered sends.
	ErrCodeDispatchFailed ErrorCode = "dispatch_failed"

	// Transport-level failures; recovered by the relay's automatic
	// reconnect and only visible through the connection state indicator.
	ErrCodeConnectionUnavailable ErrorCode = "connection_unavailable"

	// Registration endpoint failures.
	ErrCodeRegistrationThrottled ErrorCode = "registration_throttled"
	ErrCodeRegistrationFailed    ErrorCode = "registration_failed"

	// Upstream HTTP failures mapped by the external client layer.
	ErrCodeUpstreamRateLimited ErrorCode = "upstream_rate_limited"
	ErrCodeUpstreamUnavailable ErrorCode = "upstream_unavailable"

	// Input validation.
	ErrCodeValidationMissingField ErrorCode = "validation_missing_required_field"
	ErrCodeValidationInvalidJSON  ErrorCode = "validation_invalid_json"

	// Catch-all for unexpected internal failures.
	ErrCodeInternalUnexpected ErrorCode = "internal_unexpected_error"
)

// AppError is the standard application error type used throughout the
// bridge. Every failure a caller might need to classify is expressed as an
// AppError so error codes, provider status, and structured details survive
// across package boundaries.
type AppError struct {
	Code    ErrorCode      `json:"code"`
	Message string         `json:"message"`
	Err     error          `json:"-"`
	Details map[string]any `json:"details,omitempty"`
}

// Error implements the error interface.
func (e *AppError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying error for errors.Is/errors.As support.
func (e *AppError) Unwrap() error {
	return e.Err
}

// StatusDetail returns the provider HTTP status recorded in Details, or 0
// when none was recorded. Used when reporting dispatch failures back over
// the relay.
func (e *AppError) StatusDetail() int {
	if e.Details == nil {
		return 0
	}
	if s, ok := e.Details["status"].(int); ok {
		return s
	}
	return 0
}

// HTTPStatus maps the error code to the HTTP status the status surface
// responds with.
func (e *AppError) HTTPStatus() int {
	switch e.Code {
	case ErrCodeValidationMissingField, ErrCodeValidationInvalidJSON:
		return http.StatusBadRequest
	case ErrCodeChannelResolution, ErrCodeRecipientResolution:
		return http.StatusUnprocessableEntity
	case ErrCodeRegistrationThrottled, ErrCodeUpstreamRateLimited:
		return http.StatusTooManyRequests
	case ErrCodeDispatchFailed, ErrCodeRegistrationFailed:
		return http.StatusBadGateway
	case ErrCodeConnectionUnavailable, ErrCodeUpstreamUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// NewAppError creates a new AppError with the given code, message, and
// optional underlying error.
func NewAppError(code ErrorCode, message string, err error) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
		Err:     err,
	}
}

// NewAppErrorWithDetails creates a new AppError carrying structured details
// alongside the code and message.
func NewAppErrorWithDetails(code ErrorCode, message string, err error, details map[string]any) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
		Err:     err,
		Details: details,
	}
}
