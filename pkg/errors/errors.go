// Package errors defines the error taxonomy of the Discord OIDC bridge.
//
// Every failure that crosses a component boundary is classified with one of
// the Err* types so HTTP handlers can pick a status code without string
// matching. Errors are matched through wrapping, so callers are free to add
// context with fmt.Errorf("...: %w", err).
package errors

import (
	goerrors "errors"
	"fmt"
)

// Error types
const (
	// ErrConfigInvalid is returned when the configuration is malformed or ambiguous.
	// It is fatal at startup.
	ErrConfigInvalid = "config_invalid"

	// ErrBadRequest is returned when an inbound request is missing or has invalid parameters.
	ErrBadRequest = "bad_request"

	// ErrUpstreamExchangeFailed is returned when Discord rejects an authorization code exchange.
	ErrUpstreamExchangeFailed = "upstream_exchange_failed"

	// ErrUpstreamLookupFailed is returned when a Discord REST lookup returns a non-success status.
	ErrUpstreamLookupFailed = "upstream_lookup_failed"

	// ErrRateLimitExceeded is returned when Discord kept answering 429 past the retry bound.
	ErrRateLimitExceeded = "rate_limit_exceeded"

	// ErrInternal is returned when there is an internal error
	ErrInternal = "internal"
)

// Error represents a classified error.
type Error struct {
	// Type is the error type
	Type string

	// Message is the error message
	Message string

	// Cause is the underlying error
	Cause error
}

// Error returns the error message
func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %s", e.Type, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Type, e.Message)
}

// Unwrap returns the underlying error
func (e *Error) Unwrap() error {
	return e.Cause
}

// NewError creates a new error
func NewError(errorType, message string, cause error) *Error {
	return &Error{
		Type:    errorType,
		Message: message,
		Cause:   cause,
	}
}

// NewConfigInvalidError creates a new invalid configuration error
func NewConfigInvalidError(message string, cause error) *Error {
	return NewError(ErrConfigInvalid, message, cause)
}

// NewBadRequestError creates a new bad request error
func NewBadRequestError(message string, cause error) *Error {
	return NewError(ErrBadRequest, message, cause)
}

// NewUpstreamExchangeFailedError creates a new upstream exchange error
func NewUpstreamExchangeFailedError(message string, cause error) *Error {
	return NewError(ErrUpstreamExchangeFailed, message, cause)
}

// NewUpstreamLookupFailedError creates a new upstream lookup error
func NewUpstreamLookupFailedError(message string, cause error) *Error {
	return NewError(ErrUpstreamLookupFailed, message, cause)
}

// NewRateLimitExceededError creates a new rate limit error
func NewRateLimitExceededError(message string, cause error) *Error {
	return NewError(ErrRateLimitExceeded, message, cause)
}

// NewInternalError creates a new internal error
func NewInternalError(message string, cause error) *Error {
	return NewError(ErrInternal, message, cause)
}

// TypeOf returns the type of the outermost classified error in err's chain,
// or the empty string when err carries no classification.
func TypeOf(err error) string {
	var e *Error
	if goerrors.As(err, &e) {
		return e.Type
	}
	return ""
}

func isType(err error, errorType string) bool {
	var e *Error
	for err != nil {
		if !goerrors.As(err, &e) {
			return false
		}
		if e.Type == errorType {
			return true
		}
		err = e.Cause
	}
	return false
}

// IsConfigInvalid checks if the error is an invalid configuration error
func IsConfigInvalid(err error) bool {
	return isType(err, ErrConfigInvalid)
}

// IsBadRequest checks if the error is a bad request error
func IsBadRequest(err error) bool {
	return isType(err, ErrBadRequest)
}

// IsUpstreamExchangeFailed checks if the error is an upstream exchange error
func IsUpstreamExchangeFailed(err error) bool {
	return isType(err, ErrUpstreamExchangeFailed)
}

// IsUpstreamLookupFailed checks if the error is an upstream lookup error
func IsUpstreamLookupFailed(err error) bool {
	return isType(err, ErrUpstreamLookupFailed)
}

// IsRateLimitExceeded checks if the error is a rate limit error
func IsRateLimitExceeded(err error) bool {
	return isType(err, ErrRateLimitExceeded)
}

// IsInternal checks if the error is an internal error
func IsInternal(err error) bool {
	return isType(err, ErrInternal)
}
