// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package telemetry

import (
	"slices"

	"go.opentelemetry.io/otel/attribute"
)

// ConvertMapToAttributes converts configured resource attributes to
// OpenTelemetry attributes, sorted by key.
func ConvertMapToAttributes(attrs map[string]string) []attribute.KeyValue {
	keys := make([]string, 0, len(attrs))
	for k := range attrs {
		keys = append(keys, k)
	}
	slices.Sort(keys)

	result := make([]attribute.KeyValue, 0, len(keys))
	for _, k := range keys {
		result = append(result, attribute.String(k, attrs[k]))
	}
	return result
}
