// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package networking

import (
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/hashicorp/go-cleanhttp"
	"golang.org/x/time/rate"
)

// HttpTimeout is the timeout for outgoing HTTP requests
const HttpTimeout = 30 * time.Second

// DefaultUserAgent identifies the bridge to upstream APIs.
const DefaultUserAgent = "discord-oidc (https://github.com/TastyPi/discord-oidc)"

// rateLimitedTransport blocks each request until the limiter admits it.
type rateLimitedTransport struct {
	transport http.RoundTripper
	limiter   *rate.Limiter
}

// RoundTrip waits for a token, honouring request cancellation, then forwards.
func (t *rateLimitedTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	if err := t.limiter.Wait(req.Context()); err != nil {
		return nil, err
	}
	return t.transport.RoundTrip(req)
}

// userAgentTransport sets the User-Agent header when the caller left it empty.
type userAgentTransport struct {
	transport http.RoundTripper
	userAgent string
}

// RoundTrip adds the User-Agent header and forwards the request
func (t *userAgentTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	if req.Header.Get("User-Agent") != "" {
		return t.transport.RoundTrip(req)
	}
	newReq := req.Clone(req.Context())
	newReq.Header.Set("User-Agent", t.userAgent)
	return t.transport.RoundTrip(newReq)
}

// HttpClientBuilder provides a fluent interface for building HTTP clients
type HttpClientBuilder struct {
	clientTimeout     time.Duration
	caCertPath        string
	userAgent         string
	requestsPerSecond float64
	burst             int
}

// NewHttpClientBuilder returns a new HttpClientBuilder
func NewHttpClientBuilder() *HttpClientBuilder {
	return &HttpClientBuilder{
		clientTimeout: HttpTimeout,
		userAgent:     DefaultUserAgent,
	}
}

// WithTimeout overrides the overall request timeout.
func (b *HttpClientBuilder) WithTimeout(timeout time.Duration) *HttpClientBuilder {
	b.clientTimeout = timeout
	return b
}

// WithCABundle sets the CA certificate bundle path
func (b *HttpClientBuilder) WithCABundle(path string) *HttpClientBuilder {
	b.caCertPath = path
	return b
}

// WithUserAgent sets the User-Agent sent on every request.
func (b *HttpClientBuilder) WithUserAgent(userAgent string) *HttpClientBuilder {
	b.userAgent = userAgent
	return b
}

// WithRateLimit caps outbound requests per second. Zero disables the limit.
func (b *HttpClientBuilder) WithRateLimit(requestsPerSecond float64) *HttpClientBuilder {
	b.requestsPerSecond = requestsPerSecond
	b.burst = max(1, int(requestsPerSecond))
	return b
}

// Build creates the configured HTTP client
func (b *HttpClientBuilder) Build() (*http.Client, error) {
	transport := cleanhttp.DefaultPooledTransport()

	if b.caCertPath != "" {
		caCert, err := os.ReadFile(b.caCertPath) // #nosec G304 - path comes from operator config
		if err != nil {
			return nil, fmt.Errorf("failed to read CA certificate bundle: %w", err)
		}

		caCertPool := x509.NewCertPool()
		if !caCertPool.AppendCertsFromPEM(caCert) {
			return nil, fmt.Errorf("failed to parse CA certificate bundle")
		}

		if transport.TLSClientConfig == nil {
			transport.TLSClientConfig = &tls.Config{
				MinVersion: tls.VersionTLS12,
			}
		}
		transport.TLSClientConfig.RootCAs = caCertPool
	}

	var clientTransport http.RoundTripper = transport

	if b.requestsPerSecond > 0 {
		clientTransport = &rateLimitedTransport{
			transport: clientTransport,
			limiter:   rate.NewLimiter(rate.Limit(b.requestsPerSecond), b.burst),
		}
	}

	if b.userAgent != "" {
		clientTransport = &userAgentTransport{
			transport: clientTransport,
			userAgent: b.userAgent,
		}
	}

	return &http.Client{
		Transport: clientTransport,
		Timeout:   b.clientTimeout,
	}, nil
}
