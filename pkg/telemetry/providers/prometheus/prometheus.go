// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package prometheus exposes OpenTelemetry metrics in the Prometheus text format.
package prometheus

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	otelprom "go.opentelemetry.io/otel/exporters/prometheus"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
)

// Config configures the Prometheus reader.
type Config struct {
	// EnableMetricsPath must be set; the reader only exists to back /metrics.
	EnableMetricsPath bool

	// IncludeRuntimeMetrics adds the Go runtime and process collectors.
	IncludeRuntimeMetrics bool
}

// NewReader creates a metric reader on a private registry together with the
// handler that serves it.
func NewReader(config Config) (sdkmetric.Reader, http.Handler, error) {
	if !config.EnableMetricsPath {
		return nil, nil, errors.New("prometheus reader requires EnableMetricsPath")
	}

	registry := prometheus.NewRegistry()
	if config.IncludeRuntimeMetrics {
		registry.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
	}

	exporter, err := otelprom.New(otelprom.WithRegisterer(registry))
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create prometheus exporter: %w", err)
	}

	handler := promhttp.HandlerFor(registry, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
	})
	return exporter, handler, nil
}
