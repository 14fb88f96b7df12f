// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package providers builds the tracer and meter providers behind the
// telemetry package from OTLP and Prometheus exporters.
package providers

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	semconv "go.opentelemetry.io/otel/semconv/v1.21.0"
	"go.opentelemetry.io/otel/trace"
	tracenoop "go.opentelemetry.io/otel/trace/noop"

	"github.com/TastyPi/discord-oidc/pkg/logger"
	"github.com/TastyPi/discord-oidc/pkg/telemetry/providers/otlp"
	"github.com/TastyPi/discord-oidc/pkg/telemetry/providers/prometheus"
)

// shutdownTimeout bounds how long exporters may take to flush.
const shutdownTimeout = 5 * time.Second

// Config holds the telemetry configuration for all providers.
type Config struct {
	// Service information
	ServiceName        string
	ServiceVersion     string
	ResourceAttributes []attribute.KeyValue

	// OTLP configuration
	OTLPEndpoint   string            // OTLPEndpoint is the collector as host:port (e.g. "localhost:4318")
	Headers        map[string]string // Headers are sent with every OTLP request
	Insecure       bool              // Insecure disables TLS for OTLP
	TracingEnabled bool              // TracingEnabled exports spans to OTLPEndpoint
	MetricsEnabled bool              // MetricsEnabled exports metrics to OTLPEndpoint
	SamplingRate   float64           // SamplingRate controls trace sampling (0.0 to 1.0)

	// Prometheus configuration
	EnablePrometheusMetricsPath bool
}

func (c Config) otlpTracing() bool {
	return c.OTLPEndpoint != "" && c.TracingEnabled
}

func (c Config) otlpMetrics() bool {
	return c.OTLPEndpoint != "" && c.MetricsEnabled
}

func (c Config) otlpConfig() otlp.Config {
	return otlp.Config{
		Endpoint:     c.OTLPEndpoint,
		Headers:      c.Headers,
		Insecure:     c.Insecure,
		SamplingRate: c.SamplingRate,
	}
}

// ProviderOption is an option type used to configure the telemetry providers
type ProviderOption func(*Config) error

// WithServiceName sets the service name
func WithServiceName(serviceName string) ProviderOption {
	return func(config *Config) error {
		if serviceName == "" {
			return errors.New("service name cannot be empty")
		}
		config.ServiceName = serviceName
		return nil
	}
}

// WithServiceVersion sets the service version
func WithServiceVersion(serviceVersion string) ProviderOption {
	return func(config *Config) error {
		if serviceVersion == "" {
			return errors.New("service version cannot be empty")
		}
		config.ServiceVersion = serviceVersion
		return nil
	}
}

// WithResourceAttributes adds attributes to the telemetry resource
func WithResourceAttributes(attrs []attribute.KeyValue) ProviderOption {
	return func(config *Config) error {
		config.ResourceAttributes = attrs
		return nil
	}
}

// WithOTLPEndpoint sets the OTLP endpoint
func WithOTLPEndpoint(endpoint string) ProviderOption {
	return func(config *Config) error {
		config.OTLPEndpoint = endpoint
		return nil
	}
}

// WithHeaders sets the headers
func WithHeaders(headers map[string]string) ProviderOption {
	return func(config *Config) error {
		config.Headers = headers
		return nil
	}
}

// WithInsecure sets the insecure flag
func WithInsecure(insecure bool) ProviderOption {
	return func(config *Config) error {
		config.Insecure = insecure
		return nil
	}
}

// WithTracingEnabled sets the tracing enabled flag
func WithTracingEnabled(tracingEnabled bool) ProviderOption {
	return func(config *Config) error {
		config.TracingEnabled = tracingEnabled
		return nil
	}
}

// WithMetricsEnabled sets the metrics enabled flag
func WithMetricsEnabled(metricsEnabled bool) ProviderOption {
	return func(config *Config) error {
		config.MetricsEnabled = metricsEnabled
		return nil
	}
}

// WithSamplingRate sets the sampling rate
func WithSamplingRate(samplingRate float64) ProviderOption {
	return func(config *Config) error {
		config.SamplingRate = samplingRate
		return nil
	}
}

// WithEnablePrometheusMetricsPath sets the enable prometheus metrics path flag
func WithEnablePrometheusMetricsPath(enablePrometheusMetricsPath bool) ProviderOption {
	return func(config *Config) error {
		config.EnablePrometheusMetricsPath = enablePrometheusMetricsPath
		return nil
	}
}

// CompositeProvider combines telemetry providers into a single interface.
type CompositeProvider struct {
	tracerProvider    trace.TracerProvider
	meterProvider     metric.MeterProvider
	prometheusHandler http.Handler
	shutdownFuncs     []func(context.Context) error
}

// NewCompositeProvider creates the providers selected by options. With no
// OTLP endpoint and no Prometheus path it returns no-op providers.
func NewCompositeProvider(
	ctx context.Context,
	options ...ProviderOption,
) (*CompositeProvider, error) {
	config := Config{}
	for _, option := range options {
		if err := option(&config); err != nil {
			return nil, err
		}
	}

	if !config.otlpTracing() && !config.otlpMetrics() && !config.EnablePrometheusMetricsPath {
		logger.Debug("no telemetry configured, using no-op providers")
		return createNoOpProvider(), nil
	}

	attrs := append([]attribute.KeyValue{
		semconv.ServiceName(config.ServiceName),
		semconv.ServiceVersion(config.ServiceVersion),
	}, config.ResourceAttributes...)
	res, err := resource.New(ctx, resource.WithAttributes(attrs...))
	if err != nil {
		return nil, fmt.Errorf("failed to create resource with service name '%s' and version '%s': %w",
			config.ServiceName, config.ServiceVersion, err)
	}

	composite := &CompositeProvider{}
	if err := createMetricsProvider(ctx, config, composite, res); err != nil {
		return nil, err
	}
	if err := createTracingProvider(ctx, config, composite, res); err != nil {
		_ = composite.Shutdown(ctx)
		return nil, err
	}

	logger.Infow("telemetry providers created",
		"otlp_endpoint", config.OTLPEndpoint,
		"tracing", config.otlpTracing(),
		"metrics", config.otlpMetrics(),
		"prometheus", config.EnablePrometheusMetricsPath,
	)
	return composite, nil
}

func createNoOpProvider() *CompositeProvider {
	return &CompositeProvider{
		tracerProvider: tracenoop.NewTracerProvider(),
		meterProvider:  noop.NewMeterProvider(),
	}
}

// createMetricsProvider builds one SDK meter provider fed to every enabled reader.
func createMetricsProvider(
	ctx context.Context,
	config Config,
	composite *CompositeProvider,
	res *resource.Resource,
) error {
	var readers []sdkmetric.Option

	if config.EnablePrometheusMetricsPath {
		reader, handler, err := prometheus.NewReader(prometheus.Config{
			EnableMetricsPath:     true,
			IncludeRuntimeMetrics: true,
		})
		if err != nil {
			return fmt.Errorf("failed to create prometheus reader: %w", err)
		}
		readers = append(readers, sdkmetric.WithReader(reader))
		composite.prometheusHandler = handler
	}

	if config.otlpMetrics() {
		reader, err := otlp.NewMetricReader(ctx, config.otlpConfig())
		if err != nil {
			return fmt.Errorf("failed to create OTLP metric reader for %s: %w", config.OTLPEndpoint, err)
		}
		readers = append(readers, sdkmetric.WithReader(reader))
	}

	if len(readers) == 0 {
		composite.meterProvider = noop.NewMeterProvider()
		return nil
	}

	meterProvider := sdkmetric.NewMeterProvider(append(readers, sdkmetric.WithResource(res))...)
	composite.meterProvider = meterProvider
	composite.shutdownFuncs = append(composite.shutdownFuncs, meterProvider.Shutdown)
	return nil
}

func createTracingProvider(
	ctx context.Context,
	config Config,
	composite *CompositeProvider,
	res *resource.Resource,
) error {
	if !config.otlpTracing() {
		composite.tracerProvider = tracenoop.NewTracerProvider()
		return nil
	}

	tracerProvider, shutdown, err := otlp.NewTracerProviderWithShutdown(ctx, config.otlpConfig(), res)
	if err != nil {
		return fmt.Errorf("failed to create tracer provider with endpoint %s: %w", config.OTLPEndpoint, err)
	}
	composite.tracerProvider = tracerProvider
	if shutdown != nil {
		composite.shutdownFuncs = append(composite.shutdownFuncs, shutdown)
	}
	return nil
}

// TracerProvider returns the tracer provider
func (p *CompositeProvider) TracerProvider() trace.TracerProvider {
	return p.tracerProvider
}

// MeterProvider returns the meter provider
func (p *CompositeProvider) MeterProvider() metric.MeterProvider {
	return p.meterProvider
}

// PrometheusHandler returns the Prometheus metrics handler if configured
func (p *CompositeProvider) PrometheusHandler() http.Handler {
	return p.prometheusHandler
}

// Shutdown flushes and stops every provider.
func (p *CompositeProvider) Shutdown(ctx context.Context) error {
	shutdownCtx, cancel := context.WithTimeout(ctx, shutdownTimeout)
	defer cancel()

	var errs []error
	for i, shutdown := range p.shutdownFuncs {
		if err := shutdown(shutdownCtx); err != nil {
			errs = append(errs, fmt.Errorf("provider %d shutdown failed: %w", i, err))
		}
	}
	return errors.Join(errs...)
}
