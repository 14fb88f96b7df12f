// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package telemetry provides OpenTelemetry tracing and metrics for the
// discord-oidc HTTP endpoints, exported over OTLP or scraped from a
// Prometheus /metrics endpoint.
package telemetry
