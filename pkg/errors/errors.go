package errors

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// ErrorType represents different types of errors that can occur
type ErrorType string

const (
	ErrorTypeNetwork     ErrorType = "network"
	ErrorTypeRateLimit   ErrorType = "rate_limit"
	ErrorTypeAuth        ErrorType = "auth"
	ErrorTypeParsing     ErrorType = "parsing"
	ErrorTypeNotFound    ErrorType = "not_found"
	ErrorTypeServerError ErrorType = "server_error"
	ErrorTypeUnknown     ErrorType = "unknown"

	// Extraction error types
	ErrorTypeUnsupportedURL      ErrorType = "unsupported_url"
	ErrorTypeShareUnresolved     ErrorType = "share_unresolved"
	ErrorTypeExtractionExhausted ErrorType = "extraction_exhausted"
	ErrorTypeEmptyMedia          ErrorType = "empty_media"
	ErrorTypeDownloadFailed      ErrorType = "download_failed"
)

// Error represents an API or extraction error with type information
type Error struct {
	Type    ErrorType
	Message string
	Code    int
	Cause   error
}

func (e *Error) Error() string {
	if e.Code != 0 {
		return fmt.Sprintf("%s error (code %d): %s", e.Type, e.Code, e.Message)
	}
	return fmt.Sprintf("%s error: %s", e.Type, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// New creates a typed error
func New(errorType ErrorType, message string) *Error {
	return &Error{Type: errorType, Message: message}
}

// Wrap creates a typed error wrapping an underlying cause
func Wrap(errorType ErrorType, message string, cause error) *Error {
	return &Error{Type: errorType, Message: message, Cause: cause}
}

// TypeOf returns the error type of err, or ErrorTypeUnknown for untyped errors
func TypeOf(err error) ErrorType {
	var e *Error
	if errors.As(err, &e) {
		return e.Type
	}
	return ErrorTypeUnknown
}

// IsType reports whether err carries the given error type
func IsType(err error, errorType ErrorType) bool {
	return TypeOf(err) == errorType
}

// IsAuthClass reports whether err is an authentication-class failure.
// Typed errors are checked first; text heuristics are a documented last
// resort for errors surfaced by external collaborators.
func IsAuthClass(err error) bool {
	if err == nil {
		return false
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Type == ErrorTypeAuth
	}
	msg := strings.ToLower(err.Error())
	for _, hint := range []string{"login_required", "login required", "authentication", "session expired", "unauthorized"} {
		if strings.Contains(msg, hint) {
			return true
		}
	}
	return false
}

// ClassifyStatus maps an HTTP status code to an error type
func ClassifyStatus(statusCode int) ErrorType {
	switch {
	case statusCode == 0:
		return ErrorTypeNetwork
	case statusCode == http.StatusUnauthorized || statusCode == http.StatusForbidden:
		return ErrorTypeAuth
	case statusCode == http.StatusNotFound:
		return ErrorTypeNotFound
	case statusCode == http.StatusTooManyRequests:
		return ErrorTypeRateLimit
	case statusCode >= 500:
		return ErrorTypeServerError
	default:
		return ErrorTypeUnknown
	}
}

// IsRetryable checks if an error type should be retried
func IsRetryable(errorType ErrorType) bool {
	switch errorType {
	case ErrorTypeNetwork, ErrorTypeRateLimit, ErrorTypeServerError:
		return true
	default:
		return false
	}
}

// IsRetryableStatusCode checks if an HTTP status code indicates a retryable error
func IsRetryableStatusCode(statusCode int) bool {
	switch statusCode {
	case 0:
		return true
	case http.StatusTooManyRequests:
		return true
	case 500, 502, 503, 504:
		return true
	case 401, 403, 404:
		return false
	default:
		return statusCode >= 500
	}
}

// Category is the coarse bucket the chat layer matches terminal errors into
type Category string

const (
	CategoryAuthExpired Category = "authentication expired"
	CategoryRateLimited Category = "rate limited"
	CategoryUnknown     Category = "unknown"
)

// CategoryOf maps a terminal error into the small set of user-facing
// categories, so callers never need the internal enum.
func CategoryOf(err error) Category {
	if err == nil {
		return CategoryUnknown
	}
	if IsAuthClass(err) {
		return CategoryAuthExpired
	}
	var e *Error
	if errors.As(err, &e) && e.Type == ErrorTypeRateLimit {
		return CategoryRateLimited
	}
	if strings.Contains(strings.ToLower(err.Error()), "rate limit") {
		return CategoryRateLimited
	}
	return CategoryUnknown
}
