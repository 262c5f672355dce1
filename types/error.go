package types

import (
	"context"
	"errors"
	"fmt"
	"net"
)

// ErrorCode represents a unified error code across the failover core.
type ErrorCode string

// Configuration error codes
const (
	ErrConfiguration    ErrorCode = "CONFIGURATION"
	ErrEmptyChain       ErrorCode = "EMPTY_CHAIN"
	ErrProviderNotFound ErrorCode = "PROVIDER_NOT_FOUND"
	ErrDuplicateEntry   ErrorCode = "DUPLICATE_ENTRY"
)

// Transient provider error codes — eligible for retry, counted by breakers.
const (
	ErrUpstreamTimeout    ErrorCode = "UPSTREAM_TIMEOUT"
	ErrConnectionFailed   ErrorCode = "CONNECTION_FAILED"
	ErrRateLimited        ErrorCode = "RATE_LIMITED"
	ErrUpstreamError      ErrorCode = "UPSTREAM_ERROR"
	ErrProviderOverloaded ErrorCode = "PROVIDER_OVERLOADED"
)

// Permanent provider error codes — never retried, still counted by breakers.
const (
	ErrAuthentication   ErrorCode = "AUTHENTICATION"
	ErrInvalidRequest   ErrorCode = "INVALID_REQUEST"
	ErrUnsupportedInput ErrorCode = "UNSUPPORTED_INPUT"
	ErrInvalidResponse  ErrorCode = "INVALID_RESPONSE"
)

// Chain-level error codes
const (
	ErrCircuitOpen        ErrorCode = "CIRCUIT_OPEN"
	ErrAllProvidersFailed ErrorCode = "ALL_PROVIDERS_FAILED"
)

// Error represents a structured error with code, message, and metadata.
type Error struct {
	Code        ErrorCode `json:"code"`
	Message     string    `json:"message"`
	HTTPStatus  int       `json:"http_status,omitempty"`
	Retryable   bool      `json:"retryable"`
	Provider    string    `json:"provider,omitempty"`
	Suggestions []string  `json:"suggestions,omitempty"`
	Cause       error     `json:"-"`
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

// WithProvider sets the provider name.
func (e *Error) WithProvider(provider string) *Error {
	e.Provider = provider
	return e
}

// WithSuggestions attaches actionable remediation hints.
func (e *Error) WithSuggestions(suggestions ...string) *Error {
	e.Suggestions = append(e.Suggestions, suggestions...)
	return e
}

// IsRetryable checks if an error is retryable.
func IsRetryable(err error) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Retryable
	}
	return false
}

// GetErrorCode extracts the error code from an error.
func GetErrorCode(err error) ErrorCode {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}

// IsConfiguration reports whether err is a configuration error.
func IsConfiguration(err error) bool {
	switch GetErrorCode(err) {
	case ErrConfiguration, ErrEmptyChain, ErrProviderNotFound, ErrDuplicateEntry:
		return true
	}
	return false
}

// Transient classifies an error as retryable or not.
//
// Typed errors carry their own Retryable flag. Context cancellation and
// deadline expiry are never retried — the caller has already given up.
// Network timeouts are transient. Anything unclassified defaults to
// transient, matching the optimistic posture of upstream integrations:
// a provider that keeps failing is contained by its circuit breaker.
func Transient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Retryable
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return netErr.Timeout()
	}
	return true
}

// FromHTTPStatus maps an upstream HTTP status to a classified Error with
// remediation suggestions. Used by provider integrations when translating
// vendor responses.
func FromHTTPStatus(provider string, status int, detail string) *Error {
	switch {
	case status == 401 || status == 403:
		return NewError(ErrAuthentication, detail).
			WithHTTPStatus(status).
			WithRetryable(false).
			WithProvider(provider).
			WithSuggestions(
				"Check that the API key is configured correctly",
				"Verify the key has not expired or been revoked",
			)
	case status == 429:
		return NewError(ErrRateLimited, detail).
			WithHTTPStatus(status).
			WithRetryable(true).
			WithProvider(provider).
			WithSuggestions(
				"Reduce request frequency",
				"Retry after the rate-limit window resets",
			)
	case status == 408 || status == 504:
		return NewError(ErrUpstreamTimeout, detail).
			WithHTTPStatus(status).
			WithRetryable(true).
			WithProvider(provider)
	case status >= 500:
		return NewError(ErrUpstreamError, detail).
			WithHTTPStatus(status).
			WithRetryable(true).
			WithProvider(provider).
			WithSuggestions("The provider is having a temporary problem; retry later")
	case status >= 400:
		return NewError(ErrInvalidRequest, detail).
			WithHTTPStatus(status).
			WithRetryable(false).
			WithProvider(provider)
	default:
		return NewError(ErrUpstreamError, detail).
			WithHTTPStatus(status).
			WithRetryable(true).
			WithProvider(provider)
	}
}
