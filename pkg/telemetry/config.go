// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package telemetry

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"

	"github.com/TastyPi/discord-oidc/pkg/telemetry/providers"
	"github.com/TastyPi/discord-oidc/pkg/versions"
)

// Config holds the configuration for OpenTelemetry instrumentation.
type Config struct {
	// Endpoint is the OTLP/HTTP collector as host:port
	Endpoint string

	// ServiceName is the service.name resource attribute
	ServiceName string

	// ServiceVersion is the service.version resource attribute
	ServiceVersion string

	// TracingEnabled controls whether spans are exported to Endpoint
	TracingEnabled bool

	// MetricsEnabled controls whether metrics are exported to Endpoint.
	// This is independent of EnablePrometheusMetricsPath.
	MetricsEnabled bool

	// SamplingRate is the trace sampling rate (0.0-1.0)
	SamplingRate float64

	// Headers are sent with every OTLP request, typically for authentication
	Headers map[string]string

	// Insecure uses HTTP instead of HTTPS for the OTLP endpoint
	Insecure bool

	// EnablePrometheusMetricsPath exposes a Prometheus handler for /metrics
	EnablePrometheusMetricsPath bool

	// ResourceAttributes are added to every span and metric
	ResourceAttributes map[string]string
}

// DefaultConfig returns a configuration that exports nothing until an
// endpoint or the Prometheus path is enabled.
func DefaultConfig() Config {
	return Config{
		ServiceName:    "discord-oidc",
		ServiceVersion: versions.GetVersionInfo().Version,
		TracingEnabled: true,
		MetricsEnabled: true,
		SamplingRate:   0.05,
		Headers:        make(map[string]string),
	}
}

// Provider encapsulates OpenTelemetry providers and configuration.
type Provider struct {
	tracerProvider    trace.TracerProvider
	meterProvider     metric.MeterProvider
	prometheusHandler http.Handler
	shutdown          func(context.Context) error
}

// NewProvider creates the tracer and meter providers described by config and
// installs them as the OpenTelemetry globals.
func NewProvider(ctx context.Context, config Config) (*Provider, error) {
	if err := validateOtelConfig(config); err != nil {
		return nil, err
	}

	telemetryProviders, err := providers.NewCompositeProvider(ctx,
		providers.WithServiceName(config.ServiceName),
		providers.WithServiceVersion(config.ServiceVersion),
		providers.WithOTLPEndpoint(config.Endpoint),
		providers.WithHeaders(config.Headers),
		providers.WithInsecure(config.Insecure),
		providers.WithTracingEnabled(config.TracingEnabled),
		providers.WithMetricsEnabled(config.MetricsEnabled),
		providers.WithSamplingRate(config.SamplingRate),
		providers.WithEnablePrometheusMetricsPath(config.EnablePrometheusMetricsPath),
		providers.WithResourceAttributes(ConvertMapToAttributes(config.ResourceAttributes)),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to build telemetry providers: %w", err)
	}

	otel.SetTracerProvider(telemetryProviders.TracerProvider())
	otel.SetMeterProvider(telemetryProviders.MeterProvider())
	otel.SetTextMapPropagator(defaultPropagator())

	return &Provider{
		tracerProvider:    telemetryProviders.TracerProvider(),
		meterProvider:     telemetryProviders.MeterProvider(),
		prometheusHandler: telemetryProviders.PrometheusHandler(),
		shutdown:          telemetryProviders.Shutdown,
	}, nil
}

// Middleware returns an HTTP middleware that traces and measures requests.
func (p *Provider) Middleware() func(http.Handler) http.Handler {
	return NewHTTPMiddleware(p.tracerProvider, p.meterProvider)
}

// Shutdown flushes and stops the exporters.
func (p *Provider) Shutdown(ctx context.Context) error {
	if p.shutdown != nil {
		return p.shutdown(ctx)
	}
	return nil
}

// TracerProvider returns the configured tracer provider.
func (p *Provider) TracerProvider() trace.TracerProvider {
	return p.tracerProvider
}

// MeterProvider returns the configured meter provider.
func (p *Provider) MeterProvider() metric.MeterProvider {
	return p.meterProvider
}

// PrometheusHandler returns the /metrics handler, or nil when the
// Prometheus path is disabled.
func (p *Provider) PrometheusHandler() http.Handler {
	return p.prometheusHandler
}

func defaultPropagator() propagation.TextMapPropagator {
	return propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	)
}

func validateOtelConfig(config Config) error {
	if config.Endpoint != "" && !config.TracingEnabled && !config.MetricsEnabled {
		return errors.New("OTLP endpoint is configured but both tracing and metrics are disabled; " +
			"either enable tracing or metrics, or remove the endpoint")
	}
	if config.SamplingRate < 0 || config.SamplingRate > 1 {
		return fmt.Errorf("sampling rate %v is outside 0.0-1.0", config.SamplingRate)
	}
	return nil
}
