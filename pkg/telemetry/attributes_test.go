// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package telemetry

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"go.opentelemetry.io/otel/attribute"
)

func TestConvertMapToAttributes(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		input map[string]string
		want  []attribute.KeyValue
	}{
		{
			name:  "nil map",
			input: nil,
			want:  []attribute.KeyValue{},
		},
		{
			name: "sorted by key",
			input: map[string]string{
				"service.namespace":      "auth",
				"deployment.environment": "production",
			},
			want: []attribute.KeyValue{
				attribute.String("deployment.environment", "production"),
				attribute.String("service.namespace", "auth"),
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, ConvertMapToAttributes(tt.input))
		})
	}
}
