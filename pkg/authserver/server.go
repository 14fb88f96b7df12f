// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package authserver

import (
	"context"
	"net/http"

	"github.com/TastyPi/discord-oidc/pkg/authserver/storage"
	"github.com/TastyPi/discord-oidc/pkg/authserver/upstream"
	"github.com/TastyPi/discord-oidc/pkg/config"
	"github.com/TastyPi/discord-oidc/pkg/logger"
	"github.com/TastyPi/discord-oidc/pkg/networking"
	"github.com/TastyPi/discord-oidc/pkg/telemetry"
)

// Server is the Discord OIDC bridge.
type Server interface {
	// Handler serves every endpoint below the issuer path.
	Handler() http.Handler

	// Issuer is the normalized issuer URL, without a trailing slash.
	Issuer() string

	// UpstreamTokenStorage returns the store of Discord access tokens.
	UpstreamTokenStorage() storage.UpstreamTokenStorage

	// Close releases storage connections and background goroutines, and
	// flushes telemetry the server created itself.
	Close() error
}

// Option customizes New.
type Option func(*options)

type options struct {
	hmacSecret []byte
	httpClient networking.HTTPClient
	discord    upstream.Discord
	bcryptCost int
	telemetry  *telemetry.Provider
}

// WithHMACSecret sets the secret for opaque codes and access tokens. Without
// it a random secret is generated, and issued tokens do not survive a restart.
func WithHMACSecret(secret []byte) Option {
	return func(o *options) {
		o.hmacSecret = secret
	}
}

// WithHTTPClient sets the HTTP client used to reach Discord.
func WithHTTPClient(client networking.HTTPClient) Option {
	return func(o *options) {
		o.httpClient = client
	}
}

// WithTelemetry instruments the server with an existing provider instead of
// building one from the telemetry section of the config. The caller keeps
// ownership and shuts it down.
func WithTelemetry(p *telemetry.Provider) Option {
	return func(o *options) {
		o.telemetry = p
	}
}

// withDiscord replaces the Discord client. Tests only.
func withDiscord(d upstream.Discord) Option {
	return func(o *options) {
		o.discord = d
	}
}

// withBCryptCost lowers the client secret hashing cost. Tests only.
func withBCryptCost(cost int) Option {
	return func(o *options) {
		o.bcryptCost = cost
	}
}

// New creates the server described by cfg. cfg must come from config.Load or
// config.Parse so that defaults are applied and secrets resolved.
func New(ctx context.Context, cfg *config.Config, opts ...Option) (Server, error) {
	logger.Debugw("creating discord-oidc server", "url", cfg.URL)
	return newServer(ctx, cfg, opts...)
}
