// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package networking

import (
	"errors"
	"fmt"
	"net/http"
)

// HTTPError represents a non-success HTTP response.
type HTTPError struct {
	// StatusCode is the HTTP status code.
	StatusCode int

	// Message is the status line without the protocol, e.g. "429 Too Many Requests".
	Message string

	// Body is a preview of the response body (limited to DefaultErrorPreviewSize).
	// It is kept out of Error() so upstream payloads do not leak into logs by accident.
	Body string

	// URL is the requested URL.
	URL string
}

// Error implements the error interface.
func (e *HTTPError) Error() string {
	return fmt.Sprintf("%s: %s", e.URL, e.Message)
}

// NewHTTPError creates a new HTTP error with the standard status text for statusCode.
func NewHTTPError(statusCode int, url, body string) error {
	return &HTTPError{
		StatusCode: statusCode,
		Message:    statusMessage(statusCode),
		Body:       body,
		URL:        url,
	}
}

// IsHTTPError checks if an error is an HTTPError with the specified status code.
// If statusCode is 0, it matches any HTTPError.
func IsHTTPError(err error, statusCode int) bool {
	var httpErr *HTTPError
	if !errors.As(err, &httpErr) {
		return false
	}
	if statusCode == 0 {
		return true
	}
	return httpErr.StatusCode == statusCode
}

// AsHTTPError extracts the HTTPError from err's chain.
func AsHTTPError(err error) (*HTTPError, bool) {
	var httpErr *HTTPError
	if errors.As(err, &httpErr) {
		return httpErr, true
	}
	return nil, false
}

func statusMessage(statusCode int) string {
	return fmt.Sprintf("%d %s", statusCode, http.StatusText(statusCode))
}
