// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package logger

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"github.com/stacklok/toolhive-core/env/mocks"
	"github.com/stacklok/toolhive-core/logging"
)

func TestUnstructuredLogsCheck(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		envValue string
		expected bool
	}{
		{"Default Case", "", false},
		{"Explicitly True", "true", true},
		{"Explicitly False", "false", false},
		{"Invalid Value", "not-a-bool", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			ctrl := gomock.NewController(t)

			mockEnv := mocks.NewMockReader(ctrl)
			mockEnv.EXPECT().Getenv("UNSTRUCTURED_LOGS").Return(tt.envValue)

			assert.Equal(t, tt.expected, unstructuredLogsWithEnv(mockEnv))
		})
	}
}

// setSingletonForTest temporarily replaces the singleton logger and restores
// the original when the test completes.
func setSingletonForTest(t *testing.T, l *slog.Logger) {
	t.Helper()
	prev := singleton.Load()
	singleton.Store(l)
	t.Cleanup(func() { singleton.Store(prev) })
}

func TestLogLevels(t *testing.T) { //nolint:paralleltest // mutates singleton
	tests := []struct {
		name     string
		logFn    func()
		contains string
	}{
		{"Debug", func() { Debug("debug msg") }, "debug msg"},
		{"Debugf", func() { Debugf("debug %s", "formatted") }, "debug formatted"},
		{"Debugw", func() { Debugw("debug kv", "key", "val") }, "debug kv"},
		{"Info", func() { Info("info msg") }, "info msg"},
		{"Infof", func() { Infof("info %s", "formatted") }, "info formatted"},
		{"Infow", func() { Infow("info kv", "key", "val") }, "info kv"},
		{"Warn", func() { Warn("warn msg") }, "warn msg"},
		{"Warnf", func() { Warnf("warn %s", "formatted") }, "warn formatted"},
		{"Warnw", func() { Warnw("warn kv", "key", "val") }, "warn kv"},
		{"Error", func() { Error("error msg") }, "error msg"},
		{"Errorf", func() { Errorf("error %s", "formatted") }, "error formatted"},
		{"Errorw", func() { Errorw("error kv", "key", "val") }, "error kv"},
	}

	for _, tc := range tests { //nolint:paralleltest // mutates singleton
		t.Run(tc.name, func(t *testing.T) {
			var buf bytes.Buffer
			l := logging.New(
				logging.WithOutput(&buf),
				logging.WithLevel(slog.LevelDebug),
			)
			setSingletonForTest(t, l)

			tc.logFn()

			assert.Contains(t, buf.String(), tc.contains)
		})
	}
}

func TestWith(t *testing.T) { //nolint:paralleltest // mutates singleton
	var buf bytes.Buffer
	setSingletonForTest(t, slog.New(slog.NewJSONHandler(&buf, nil)))

	With("uid", "abc").Info("child logger")

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "abc", entry["uid"])
	assert.Equal(t, "child logger", entry["msg"])
}

func TestGetAndSet(t *testing.T) { //nolint:paralleltest // mutates singleton
	prev := Get()
	t.Cleanup(func() { Set(prev) })

	var buf bytes.Buffer
	Set(logging.New(logging.WithOutput(&buf)))

	got := Get()
	require.NotNil(t, got)

	got.Info("get test")
	assert.Contains(t, buf.String(), "get test")
}

func TestInitializeWithEnv(t *testing.T) { //nolint:paralleltest // mutates singleton
	tests := []struct {
		name            string
		unstructuredEnv string
	}{
		{"Default (structured)", ""},
		{"Explicit unstructured", "true"},
		{"Structured JSON", "false"},
	}

	for _, tc := range tests { //nolint:paralleltest // mutates singleton
		t.Run(tc.name, func(t *testing.T) {
			prev := singleton.Load()
			t.Cleanup(func() { singleton.Store(prev) })

			ctrl := gomock.NewController(t)
			mockEnv := mocks.NewMockReader(ctrl)
			mockEnv.EXPECT().Getenv("UNSTRUCTURED_LOGS").Return(tc.unstructuredEnv)

			InitializeWithEnv(mockEnv)

			got := singleton.Load()
			require.NotNil(t, got)
			got.Info("test after initialize")
		})
	}
}
