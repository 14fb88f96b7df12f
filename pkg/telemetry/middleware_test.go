// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package telemetry

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.opentelemetry.io/otel/trace"
)

type instrumented struct {
	router http.Handler
	spans  *tracetest.SpanRecorder
	reader *sdkmetric.ManualReader
}

func newInstrumented(t *testing.T) *instrumented {
	t.Helper()

	spans := tracetest.NewSpanRecorder()
	tracerProvider := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(spans))
	reader := sdkmetric.NewManualReader()
	meterProvider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	t.Cleanup(func() {
		_ = tracerProvider.Shutdown(context.Background())
		_ = meterProvider.Shutdown(context.Background())
	})

	router := chi.NewRouter()
	router.Use(NewHTTPMiddleware(tracerProvider, meterProvider))
	router.Route("/oidc", func(r chi.Router) {
		r.Get("/interaction/{uid}", func(w http.ResponseWriter, _ *http.Request) {
			_, _ = w.Write([]byte("login"))
		})
		r.Get("/discord/callback", func(w http.ResponseWriter, _ *http.Request) {
			http.Error(w, "code_invalid", http.StatusBadRequest)
		})
	})

	return &instrumented{router: router, spans: spans, reader: reader}
}

func (in *instrumented) do(req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	in.router.ServeHTTP(rec, req)
	return rec
}

func spanAttr(span sdktrace.ReadOnlySpan, key string) (attribute.Value, bool) {
	for _, kv := range span.Attributes() {
		if string(kv.Key) == key {
			return kv.Value, true
		}
	}
	return attribute.Value{}, false
}

func TestHTTPMiddleware_Spans(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name       string
		target     string
		wantName   string
		wantRoute  string
		wantStatus int
		wantCode   codes.Code
	}{
		{
			name:       "route pattern names the span",
			target:     "/oidc/interaction/abc123",
			wantName:   "GET /oidc/interaction/{uid}",
			wantRoute:  "/oidc/interaction/{uid}",
			wantStatus: http.StatusOK,
			wantCode:   codes.Ok,
		},
		{
			name:       "client error marks the span",
			target:     "/oidc/discord/callback?state=s",
			wantName:   "GET /oidc/discord/callback",
			wantRoute:  "/oidc/discord/callback",
			wantStatus: http.StatusBadRequest,
			wantCode:   codes.Error,
		},
		{
			name:       "unmatched path",
			target:     "/whatever",
			wantName:   "GET " + unmatchedRoute,
			wantRoute:  unmatchedRoute,
			wantStatus: http.StatusNotFound,
			wantCode:   codes.Error,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			in := newInstrumented(t)

			rec := in.do(httptest.NewRequest(http.MethodGet, tt.target, nil))
			assert.Equal(t, tt.wantStatus, rec.Code)

			ended := in.spans.Ended()
			require.Len(t, ended, 1)
			span := ended[0]
			assert.Equal(t, tt.wantName, span.Name())
			assert.Equal(t, trace.SpanKindServer, span.SpanKind())
			assert.Equal(t, tt.wantCode, span.Status().Code)

			route, ok := spanAttr(span, "http.route")
			require.True(t, ok)
			assert.Equal(t, tt.wantRoute, route.AsString())
			status, ok := spanAttr(span, "http.response.status_code")
			require.True(t, ok)
			assert.Equal(t, int64(tt.wantStatus), status.AsInt64())
		})
	}
}

func TestHTTPMiddleware_QueryIsNotRecorded(t *testing.T) {
	t.Parallel()
	in := newInstrumented(t)

	in.do(httptest.NewRequest(http.MethodGet, "/oidc/discord/callback?code=secret-code&state=s", nil))

	ended := in.spans.Ended()
	require.Len(t, ended, 1)
	for _, kv := range ended[0].Attributes() {
		assert.NotContains(t, kv.Value.Emit(), "secret-code", "attribute %s", kv.Key)
	}
}

func TestHTTPMiddleware_ContinuesIncomingTrace(t *testing.T) {
	t.Parallel()
	in := newInstrumented(t)

	const traceID = "4bf92f3577b34da6a3ce929d0e0e4736"
	req := httptest.NewRequest(http.MethodGet, "/oidc/interaction/abc", nil)
	req.Header.Set("traceparent", "00-"+traceID+"-00f067aa0ba902b7-01")
	in.do(req)

	ended := in.spans.Ended()
	require.Len(t, ended, 1)
	assert.Equal(t, traceID, ended[0].SpanContext().TraceID().String())
	assert.True(t, ended[0].Parent().IsRemote())
}

func TestHTTPMiddleware_Metrics(t *testing.T) {
	t.Parallel()
	in := newInstrumented(t)

	in.do(httptest.NewRequest(http.MethodGet, "/oidc/interaction/a", nil))
	in.do(httptest.NewRequest(http.MethodGet, "/oidc/interaction/b", nil))
	in.do(httptest.NewRequest(http.MethodGet, "/oidc/discord/callback", nil))

	var rm metricdata.ResourceMetrics
	require.NoError(t, in.reader.Collect(context.Background(), &rm))

	requests := map[string]int64{}
	var foundHistogram, foundActive bool
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			switch m.Name {
			case metricRequestCounter:
				sum, ok := m.Data.(metricdata.Sum[int64])
				require.True(t, ok)
				for _, dp := range sum.DataPoints {
					route, _ := dp.Attributes.Value("route")
					status, _ := dp.Attributes.Value("status_code")
					requests[route.AsString()+" "+status.AsString()] += dp.Value
				}
			case metricRequestDuration:
				foundHistogram = true
			case metricActiveRequests:
				foundActive = true
			}
		}
	}

	assert.Equal(t, map[string]int64{
		"/oidc/interaction/{uid} 200": 2,
		"/oidc/discord/callback 400":  1,
	}, requests)
	assert.True(t, foundHistogram, "request duration histogram should be recorded")
	assert.True(t, foundActive, "active requests counter should be recorded")
}

func TestResponseWriter(t *testing.T) {
	t.Parallel()

	t.Run("implicit status on write", func(t *testing.T) {
		t.Parallel()
		rec := httptest.NewRecorder()
		rw := &responseWriter{ResponseWriter: rec, statusCode: http.StatusOK}

		n, err := rw.Write([]byte("hello"))
		require.NoError(t, err)
		assert.Equal(t, 5, n)
		rw.WriteHeader(http.StatusInternalServerError)

		assert.Equal(t, http.StatusOK, rw.statusCode)
		assert.Equal(t, int64(5), rw.bytesWritten)
		assert.Equal(t, http.StatusOK, rec.Code)
	})

	t.Run("first status wins", func(t *testing.T) {
		t.Parallel()
		rec := httptest.NewRecorder()
		rw := &responseWriter{ResponseWriter: rec, statusCode: http.StatusOK}

		rw.WriteHeader(http.StatusSeeOther)
		rw.WriteHeader(http.StatusOK)

		assert.Equal(t, http.StatusSeeOther, rw.statusCode)
		assert.Equal(t, http.StatusSeeOther, rec.Code)
	})

	t.Run("unwrap", func(t *testing.T) {
		t.Parallel()
		rec := httptest.NewRecorder()
		rw := &responseWriter{ResponseWriter: rec}
		assert.Same(t, rec, rw.Unwrap())
	})
}
