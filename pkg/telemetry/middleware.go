// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package telemetry

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
)

const (
	// instrumentationName is the name of this instrumentation package
	instrumentationName = "github.com/TastyPi/discord-oidc/pkg/telemetry"

	metricRequestCounter  = "discord_oidc_http_requests"
	metricRequestDuration = "discord_oidc_http_request_duration"
	metricActiveRequests  = "discord_oidc_http_active_requests"

	// unmatchedRoute labels requests no route matched, keeping arbitrary
	// paths out of metric attributes.
	unmatchedRoute = "unmatched"
)

// HTTPMiddleware provides OpenTelemetry instrumentation for HTTP requests.
type HTTPMiddleware struct {
	tracer     trace.Tracer
	propagator propagation.TextMapPropagator

	requestCounter  metric.Int64Counter
	requestDuration metric.Float64Histogram
	activeRequests  metric.Int64UpDownCounter
}

// NewHTTPMiddleware creates a middleware that starts a server span per request
// and records request count, duration and in-flight requests. It must run
// inside a chi router so the matched route pattern can name the span.
func NewHTTPMiddleware(
	tracerProvider trace.TracerProvider,
	meterProvider metric.MeterProvider,
) func(http.Handler) http.Handler {
	meter := meterProvider.Meter(instrumentationName)

	requestCounter, _ := meter.Int64Counter(
		metricRequestCounter, // The exporter adds the _total suffix automatically
		metric.WithDescription("Total number of HTTP requests"),
	)
	requestDuration, _ := meter.Float64Histogram(
		metricRequestDuration,
		metric.WithDescription("Duration of HTTP requests in seconds"),
		metric.WithUnit("s"),
	)
	activeRequests, _ := meter.Int64UpDownCounter(
		metricActiveRequests,
		metric.WithDescription("Number of HTTP requests being served"),
	)

	m := &HTTPMiddleware{
		tracer:          tracerProvider.Tracer(instrumentationName),
		propagator:      defaultPropagator(),
		requestCounter:  requestCounter,
		requestDuration: requestDuration,
		activeRequests:  activeRequests,
	}
	return m.Handler
}

// Handler wraps next. Panic recovery is left to the router's Recoverer.
func (m *HTTPMiddleware) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := m.propagator.Extract(r.Context(), propagation.HeaderCarrier(r.Header))

		methodAttr := metric.WithAttributes(attribute.String("method", r.Method))
		m.activeRequests.Add(ctx, 1, methodAttr)
		defer m.activeRequests.Add(ctx, -1, methodAttr)

		ctx, span := m.tracer.Start(ctx, r.Method, trace.WithSpanKind(trace.SpanKindServer))
		defer span.End()

		// The query string carries authorization codes and is never recorded.
		span.SetAttributes(
			attribute.String("http.request.method", r.Method),
			attribute.String("url.path", r.URL.Path),
			attribute.String("server.address", r.Host),
			attribute.String("client.address", r.RemoteAddr),
			attribute.String("user_agent.original", r.UserAgent()),
		)

		rw := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}
		startTime := time.Now()

		next.ServeHTTP(rw, r.WithContext(ctx))

		duration := time.Since(startTime)
		route := routePattern(r)
		span.SetName(r.Method + " " + route)
		m.finalizeSpan(span, rw, route)
		m.recordMetrics(ctx, r, rw, route, duration)
	})
}

// routePattern returns the chi pattern that served r, such as
// "/interaction/{uid}/callback".
func routePattern(r *http.Request) string {
	if rctx := chi.RouteContext(r.Context()); rctx != nil {
		if pattern := rctx.RoutePattern(); pattern != "" {
			return pattern
		}
	}
	return unmatchedRoute
}

func (*HTTPMiddleware) finalizeSpan(span trace.Span, rw *responseWriter, route string) {
	span.SetAttributes(
		attribute.String("http.route", route),
		attribute.Int("http.response.status_code", rw.statusCode),
		attribute.Int64("http.response.body.size", rw.bytesWritten),
	)

	if rw.statusCode >= 400 {
		span.SetStatus(codes.Error, fmt.Sprintf("HTTP %d", rw.statusCode))
		span.SetAttributes(attribute.String("error.type", strconv.Itoa(rw.statusCode)))
	} else {
		span.SetStatus(codes.Ok, "")
	}
}

func (m *HTTPMiddleware) recordMetrics(
	ctx context.Context,
	r *http.Request,
	rw *responseWriter,
	route string,
	duration time.Duration,
) {
	status := "success"
	if rw.statusCode >= 400 {
		status = "error"
	}

	attrs := metric.WithAttributes(
		attribute.String("method", r.Method),
		attribute.String("route", route),
		attribute.String("status_code", strconv.Itoa(rw.statusCode)),
		attribute.String("status", status),
	)
	m.requestCounter.Add(ctx, 1, attrs)
	m.requestDuration.Record(ctx, duration.Seconds(), attrs)
}

// responseWriter captures the status code and body size.
type responseWriter struct {
	http.ResponseWriter
	statusCode    int
	bytesWritten  int64
	headerWritten bool
}

// WriteHeader records the first status code and ignores later calls.
func (rw *responseWriter) WriteHeader(statusCode int) {
	if rw.headerWritten {
		return
	}
	rw.headerWritten = true
	rw.statusCode = statusCode
	rw.ResponseWriter.WriteHeader(statusCode)
}

// Write records an implicit 200 when no status was written.
func (rw *responseWriter) Write(data []byte) (int, error) {
	if !rw.headerWritten {
		rw.headerWritten = true
		rw.statusCode = http.StatusOK
	}

	n, err := rw.ResponseWriter.Write(data)
	rw.bytesWritten += int64(n)
	return n, err
}

// Flush implements http.Flusher if the underlying ResponseWriter supports it.
func (rw *responseWriter) Flush() {
	if flusher, ok := rw.ResponseWriter.(http.Flusher); ok {
		flusher.Flush()
	}
}

// Unwrap lets http.ResponseController reach the underlying writer.
func (rw *responseWriter) Unwrap() http.ResponseWriter {
	return rw.ResponseWriter
}
