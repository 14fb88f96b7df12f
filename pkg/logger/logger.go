// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package logger provides the process-wide logger for discord-oidc.
//
// It is a thin shim over toolhive-core/logging. Call sites use the package
// level helpers; code that prefers injection can obtain the underlying
// *slog.Logger with [Get].
package logger

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"sync/atomic"

	"github.com/spf13/viper"

	"github.com/stacklok/toolhive-core/env"
	"github.com/stacklok/toolhive-core/logging"
)

// singleton is the package-level logger created by Initialize.
var singleton atomic.Pointer[slog.Logger]

func init() {
	// Callers that skip Initialize() still get a usable logger.
	singleton.Store(logging.New())
}

func get() *slog.Logger {
	return singleton.Load()
}

// Get returns the underlying *slog.Logger for injection into structs.
func Get() *slog.Logger {
	return get()
}

// Set replaces the singleton logger. Intended for tests that capture output.
func Set(l *slog.Logger) {
	singleton.Store(l)
}

// With returns a child logger carrying the given key-value pairs.
func With(keysAndValues ...any) *slog.Logger {
	return get().With(keysAndValues...)
}

// Debug logs a message at debug level.
func Debug(msg string) {
	get().Debug(msg)
}

// Debugf logs a formatted message at debug level.
func Debugf(msg string, args ...any) {
	get().Debug(fmt.Sprintf(msg, args...))
}

// Debugw logs a message at debug level with additional key-value pairs.
func Debugw(msg string, keysAndValues ...any) {
	get().Debug(msg, keysAndValues...)
}

// Info logs a message at info level.
func Info(msg string) {
	get().Info(msg)
}

// Infof logs a formatted message at info level.
func Infof(msg string, args ...any) {
	get().Info(fmt.Sprintf(msg, args...))
}

// Infow logs a message at info level with additional key-value pairs.
func Infow(msg string, keysAndValues ...any) {
	get().Info(msg, keysAndValues...)
}

// Warn logs a message at warning level.
func Warn(msg string) {
	get().Warn(msg)
}

// Warnf logs a formatted message at warning level.
func Warnf(msg string, args ...any) {
	get().Warn(fmt.Sprintf(msg, args...))
}

// Warnw logs a message at warning level with additional key-value pairs.
func Warnw(msg string, keysAndValues ...any) {
	get().Warn(msg, keysAndValues...)
}

// Error logs a message at error level.
func Error(msg string) {
	get().Error(msg)
}

// Errorf logs a formatted message at error level.
func Errorf(msg string, args ...any) {
	get().Error(fmt.Sprintf(msg, args...))
}

// Errorw logs a message at error level with additional key-value pairs.
func Errorw(msg string, keysAndValues ...any) {
	get().Error(msg, keysAndValues...)
}

// Fatal logs a message at error level and exits the program.
func Fatal(msg string) {
	get().Error(msg)
	os.Exit(1)
}

// Fatalf logs a formatted message at error level and exits the program.
func Fatalf(msg string, args ...any) {
	get().Error(fmt.Sprintf(msg, args...))
	os.Exit(1)
}

// Fatalw logs a message at error level with additional key-value pairs and exits the program.
func Fatalw(msg string, keysAndValues ...any) {
	get().Error(msg, keysAndValues...)
	os.Exit(1)
}

// Initialize creates and configures the process logger.
// If the UNSTRUCTURED_LOGS env var is set to true, it will output plain text.
// Otherwise it will create a standard structured JSON logger.
func Initialize() {
	InitializeWithEnv(&env.OSReader{})
}

// InitializeWithEnv creates and configures the logger with a custom environment reader.
func InitializeWithEnv(envReader env.Reader) {
	var opts []logging.Option

	if unstructuredLogsWithEnv(envReader) {
		opts = append(opts, logging.WithFormat(logging.FormatText))
	}

	if viper.GetBool("debug") {
		opts = append(opts, logging.WithLevel(slog.LevelDebug))
	}

	singleton.Store(logging.New(opts...))
}

// unstructuredLogsWithEnv reports whether text output was requested.
// A deployed bridge runs behind a log collector, so JSON is the default.
func unstructuredLogsWithEnv(envReader env.Reader) bool {
	unstructuredLogs, err := strconv.ParseBool(envReader.Getenv("UNSTRUCTURED_LOGS"))
	if err != nil {
		return false
	}
	return unstructuredLogs
}
