// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package main is the entry point for the discord-oidc server.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/TastyPi/discord-oidc/cmd/discord-oidc/app"
	"github.com/TastyPi/discord-oidc/pkg/logger"
)

func main() {
	// Create a context that will be canceled on signal
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := app.NewRootCmd().ExecuteContext(ctx); err != nil {
		logger.Errorf("Error executing command: %v", err)
		cancel()
		os.Exit(1) //nolint:gocritic // cancel is called above
	}
}
