// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package networking

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
)

const (
	// DefaultMaxResponseSize is the default maximum response body size (1MB).
	DefaultMaxResponseSize = 1024 * 1024

	// DefaultErrorPreviewSize is the maximum size of error body preview in HTTPError.
	DefaultErrorPreviewSize = 1024

	// ContentTypeJSON is the JSON content type.
	ContentTypeJSON = "application/json"

	// ContentTypeFormURLEncoded is the form-urlencoded content type.
	ContentTypeFormURLEncoded = "application/x-www-form-urlencoded"
)

// HTTPClient is the subset of *http.Client used by outbound callers.
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// FetchResult contains the result of a successful JSON fetch operation.
type FetchResult[T any] struct {
	// Data is the parsed JSON response body.
	Data T

	// Raw is the unparsed response body, for callers that only need a few fields.
	Raw []byte

	// StatusCode is the HTTP status code of the response.
	StatusCode int

	// Headers are the response headers.
	Headers http.Header
}

// FetchOption configures a fetch request.
type FetchOption func(*fetchOptions)

type fetchOptions struct {
	method                    string
	headers                   http.Header
	body                      string
	maxResponseSize           int64
	skipContentTypeValidation bool
	errorHandler              func(*http.Response, []byte) error
}

func newFetchOptions() *fetchOptions {
	return &fetchOptions{
		method:          http.MethodGet,
		headers:         make(http.Header),
		maxResponseSize: DefaultMaxResponseSize,
	}
}

// WithMethod sets the HTTP method for the request.
func WithMethod(method string) FetchOption {
	return func(opts *fetchOptions) {
		opts.method = method
	}
}

// WithHeader sets a single header on the request.
func WithHeader(key, value string) FetchOption {
	return func(opts *fetchOptions) {
		opts.headers.Set(key, value)
	}
}

// WithBearerToken sets an Authorization: Bearer header.
func WithBearerToken(token string) FetchOption {
	return WithHeader("Authorization", "Bearer "+token)
}

// WithBody sets the request body. The body is replayed on every attempt,
// so FetchJSON may be retried with the same options.
func WithBody(body string) FetchOption {
	return func(opts *fetchOptions) {
		opts.body = body
	}
}

// WithMaxResponseSize sets the maximum response body size.
func WithMaxResponseSize(size int64) FetchOption {
	return func(opts *fetchOptions) {
		opts.maxResponseSize = size
	}
}

// WithoutContentTypeValidation disables Content-Type validation.
func WithoutContentTypeValidation() FetchOption {
	return func(opts *fetchOptions) {
		opts.skipContentTypeValidation = true
	}
}

// WithErrorHandler sets a custom error handler for non-2xx responses.
// If the handler returns nil, the default HTTPError is returned.
func WithErrorHandler(handler func(*http.Response, []byte) error) FetchOption {
	return func(opts *fetchOptions) {
		opts.errorHandler = handler
	}
}

// FetchJSON performs an HTTP request and parses the JSON response body.
// Non-2xx responses produce an *HTTPError unless a custom error handler
// returns something else.
func FetchJSON[T any](
	ctx context.Context,
	client HTTPClient,
	requestURL string,
	opts ...FetchOption,
) (*FetchResult[T], error) {
	options := newFetchOptions()
	for _, opt := range opts {
		opt(options)
	}

	if options.headers.Get("Accept") == "" {
		options.headers.Set("Accept", ContentTypeJSON)
	}

	var body io.Reader
	if options.body != "" {
		body = strings.NewReader(options.body)
	}

	req, err := http.NewRequestWithContext(ctx, options.method, requestURL, body)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	for key, values := range options.headers {
		for _, value := range values {
			req.Header.Add(key, value)
		}
	}

	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, options.maxResponseSize))
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		if options.errorHandler != nil {
			if customErr := options.errorHandler(resp, raw); customErr != nil {
				return nil, customErr
			}
		}

		preview := string(raw)
		if len(preview) > DefaultErrorPreviewSize {
			preview = preview[:DefaultErrorPreviewSize]
		}
		return nil, NewHTTPError(resp.StatusCode, requestURL, preview)
	}

	if !options.skipContentTypeValidation {
		contentType := resp.Header.Get("Content-Type")
		if !strings.Contains(strings.ToLower(contentType), ContentTypeJSON) {
			return nil, fmt.Errorf("unexpected content type: %s", contentType)
		}
	}

	var data T
	if err := json.Unmarshal(raw, &data); err != nil {
		return nil, fmt.Errorf("failed to parse JSON response: %w", err)
	}

	return &FetchResult[T]{
		Data:       data,
		Raw:        raw,
		StatusCode: resp.StatusCode,
		Headers:    resp.Header,
	}, nil
}

// FetchJSONWithForm performs a POST request with a form-urlencoded body and
// parses the JSON response.
func FetchJSONWithForm[T any](
	ctx context.Context,
	client HTTPClient,
	requestURL string,
	formData url.Values,
	opts ...FetchOption,
) (*FetchResult[T], error) {
	formOpts := []FetchOption{
		WithMethod(http.MethodPost),
		WithHeader("Content-Type", ContentTypeFormURLEncoded),
		WithBody(formData.Encode()),
	}
	return FetchJSON[T](ctx, client, requestURL, append(formOpts, opts...)...)
}
