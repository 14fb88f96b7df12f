// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package telemetry

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/metric/noop"
	tracenoop "go.opentelemetry.io/otel/trace/noop"
)

func TestDefaultConfig(t *testing.T) {
	t.Parallel()

	config := DefaultConfig()
	assert.Equal(t, "discord-oidc", config.ServiceName)
	assert.NotEmpty(t, config.ServiceVersion)
	assert.True(t, config.TracingEnabled)
	assert.True(t, config.MetricsEnabled)
	assert.InDelta(t, 0.05, config.SamplingRate, 0.0001)
	assert.Empty(t, config.Endpoint)
	assert.False(t, config.EnablePrometheusMetricsPath)
	assert.NoError(t, validateOtelConfig(config))
}

func TestValidateOtelConfig(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{
			name:   "defaults",
			mutate: func(*Config) {},
		},
		{
			name: "endpoint with tracing only",
			mutate: func(c *Config) {
				c.Endpoint = "collector:4318"
				c.MetricsEnabled = false
			},
		},
		{
			name: "endpoint with nothing enabled",
			mutate: func(c *Config) {
				c.Endpoint = "collector:4318"
				c.TracingEnabled = false
				c.MetricsEnabled = false
			},
			wantErr: "both tracing and metrics are disabled",
		},
		{
			name:    "sampling rate above one",
			mutate:  func(c *Config) { c.SamplingRate = 2 },
			wantErr: "outside 0.0-1.0",
		},
		{
			name:    "negative sampling rate",
			mutate:  func(c *Config) { c.SamplingRate = -0.1 },
			wantErr: "outside 0.0-1.0",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			config := DefaultConfig()
			tt.mutate(&config)

			err := validateOtelConfig(config)
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestNewProvider_NoOp(t *testing.T) {
	t.Parallel()

	provider, err := NewProvider(context.Background(), DefaultConfig())
	require.NoError(t, err)

	assert.IsType(t, tracenoop.NewTracerProvider(), provider.TracerProvider())
	assert.IsType(t, noop.NewMeterProvider(), provider.MeterProvider())
	assert.Nil(t, provider.PrometheusHandler())
	assert.NoError(t, provider.Shutdown(context.Background()))
}

func TestNewProvider_Prometheus(t *testing.T) {
	t.Parallel()

	config := DefaultConfig()
	config.EnablePrometheusMetricsPath = true
	provider, err := NewProvider(context.Background(), config)
	require.NoError(t, err)
	t.Cleanup(func() { _ = provider.Shutdown(context.Background()) })

	handler := provider.PrometheusHandler()
	require.NotNil(t, handler)

	app := provider.Middleware()(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))
	app.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/jwks", nil))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), metricRequestCounter)
	assert.Contains(t, rec.Body.String(), `service_name="discord-oidc"`)
}

func TestNewProvider_InvalidConfig(t *testing.T) {
	t.Parallel()

	config := DefaultConfig()
	config.Endpoint = "collector:4318"
	config.TracingEnabled = false
	config.MetricsEnabled = false

	_, err := NewProvider(context.Background(), config)
	require.Error(t, err)
}
