// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package authserver

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/hashicorp/go-multierror"
	"golang.org/x/crypto/bcrypt"

	"github.com/TastyPi/discord-oidc/pkg/authserver/claims"
	"github.com/TastyPi/discord-oidc/pkg/authserver/interaction"
	oidcserver "github.com/TastyPi/discord-oidc/pkg/authserver/server"
	servercrypto "github.com/TastyPi/discord-oidc/pkg/authserver/server/crypto"
	"github.com/TastyPi/discord-oidc/pkg/authserver/server/handlers"
	"github.com/TastyPi/discord-oidc/pkg/authserver/server/keys"
	"github.com/TastyPi/discord-oidc/pkg/authserver/storage"
	"github.com/TastyPi/discord-oidc/pkg/authserver/upstream"
	"github.com/TastyPi/discord-oidc/pkg/config"
	"github.com/TastyPi/discord-oidc/pkg/logger"
	"github.com/TastyPi/discord-oidc/pkg/networking"
	"github.com/TastyPi/discord-oidc/pkg/telemetry"
	"github.com/TastyPi/discord-oidc/pkg/versions"
)

type server struct {
	issuer    string
	handler   http.Handler
	storage   *storage.MemoryStorage
	tokens    storage.UpstreamTokenStorage
	telemetry *telemetry.Provider // nil when the caller owns it
}

func newServer(ctx context.Context, cfg *config.Config, opts ...Option) (_ *server, retErr error) {
	if cfg == nil {
		return nil, errors.New("config is required")
	}

	o := &options{bcryptCost: bcrypt.DefaultCost}
	for _, opt := range opts {
		opt(o)
	}

	issuer := strings.TrimSuffix(cfg.URL, "/")

	stor := storage.NewMemoryStorage(storage.WithUpstreamTokenTTL(cfg.Storage.TTL()))
	tokens, err := newUpstreamTokenStorage(ctx, cfg, stor)
	if err != nil {
		_ = stor.Close()
		return nil, err
	}
	defer func() {
		if retErr != nil {
			_ = closeStorage(stor, tokens)
		}
	}()

	authServerConfig, err := newAuthorizationServerConfig(ctx, cfg, issuer, o.hmacSecret)
	if err != nil {
		return nil, err
	}

	tel, ownTelemetry := o.telemetry, false
	if tel == nil {
		tel, err = telemetry.NewProvider(ctx, telemetryConfig(cfg.Telemetry))
		if err != nil {
			return nil, fmt.Errorf("failed to create telemetry provider: %w", err)
		}
		ownTelemetry = true
		defer func() {
			if retErr != nil {
				_ = tel.Shutdown(context.WithoutCancel(ctx))
			}
		}()
	}

	registry := claims.DefaultRegistry()
	if err := registerClients(ctx, stor, cfg.Clients, registry.Scopes(), o.bcryptCost); err != nil {
		return nil, err
	}

	discord := o.discord
	if discord == nil {
		discord, err = newDiscordClient(cfg, o.httpClient, tel)
		if err != nil {
			return nil, err
		}
	}

	interactions, err := oidcserver.NewInteractions(stor, issuer)
	if err != nil {
		return nil, err
	}

	provider := oidcserver.NewProvider(authServerConfig, stor)
	claimsProvider := claims.NewProvider(claims.NewResolver(registry, discord), tokens)
	h := handlers.NewHandler(provider, authServerConfig, interactions, registry, claimsProvider)

	controller, err := interaction.NewController(interactions, discord, tokens, registry, issuer)
	if err != nil {
		return nil, err
	}

	router := chi.NewRouter()
	router.Use(middleware.RequestID)
	router.Use(middleware.RealIP)
	router.Use(tel.Middleware())
	router.Use(middleware.Recoverer)

	routes := func(r chi.Router) {
		h.OIDCRoutes(r)
		h.WellKnownRoutes(r)
		controller.Routes(r)
	}
	if basePath := interactions.BasePath(); basePath == "" {
		routes(router)
	} else {
		router.Route(basePath, routes)
	}
	if metrics := tel.PrometheusHandler(); metrics != nil {
		router.Handle("/metrics", metrics)
	}

	logger.Infow("discord-oidc server initialized",
		"issuer", issuer,
		"clients", len(cfg.Clients),
		"storage", cfg.Storage.Type,
		"discord_redirect_uri", controller.RedirectURI(),
		"signing_key_id", authServerConfig.SigningKey.KeyID,
	)

	srv := &server{
		issuer:  issuer,
		handler: router,
		storage: stor,
		tokens:  tokens,
	}
	if ownTelemetry {
		srv.telemetry = tel
	}
	return srv, nil
}

// Handler returns the router serving every endpoint.
func (s *server) Handler() http.Handler {
	return s.handler
}

// Issuer returns the issuer URL.
func (s *server) Issuer() string {
	return s.issuer
}

// UpstreamTokenStorage returns the Discord token store.
func (s *server) UpstreamTokenStorage() storage.UpstreamTokenStorage {
	return s.tokens
}

// Close releases the storage backends and flushes owned telemetry.
func (s *server) Close() error {
	logger.Debug("closing discord-oidc server")
	var result *multierror.Error
	if err := closeStorage(s.storage, s.tokens); err != nil {
		result = multierror.Append(result, err)
	}
	if s.telemetry != nil {
		if err := s.telemetry.Shutdown(context.Background()); err != nil {
			result = multierror.Append(result, fmt.Errorf("telemetry shutdown: %w", err))
		}
	}
	return result.ErrorOrNil()
}

func closeStorage(stor *storage.MemoryStorage, tokens storage.UpstreamTokenStorage) error {
	var result *multierror.Error
	if err := stor.Close(); err != nil {
		result = multierror.Append(result, err)
	}
	if tokens != storage.UpstreamTokenStorage(stor) {
		if err := tokens.Close(); err != nil {
			result = multierror.Append(result, err)
		}
	}
	return result.ErrorOrNil()
}

// newUpstreamTokenStorage picks the Discord token store. The memory backend
// shares the engine's storage.
func newUpstreamTokenStorage(
	ctx context.Context,
	cfg *config.Config,
	stor *storage.MemoryStorage,
) (storage.UpstreamTokenStorage, error) {
	switch cfg.Storage.Type {
	case "", config.StorageTypeMemory:
		return stor, nil
	case config.StorageTypeRedis:
		r := cfg.Storage.Redis
		if r == nil {
			return nil, errors.New("redis storage requires a redis section")
		}
		return storage.NewRedisUpstreamTokenStorage(ctx, storage.RedisConfig{
			Addr:      r.Addr,
			Username:  r.Username,
			Password:  r.Password,
			DB:        r.DB,
			KeyPrefix: r.KeyPrefix,
			TokenTTL:  cfg.Storage.TTL(),
		})
	default:
		return nil, fmt.Errorf("unsupported storage type %q", cfg.Storage.Type)
	}
}

func newAuthorizationServerConfig(
	ctx context.Context,
	cfg *config.Config,
	issuer string,
	hmacSecret []byte,
) (*oidcserver.AuthorizationServerConfig, error) {
	keyProvider, err := keys.NewProviderFromConfig(keys.Config{SigningKeyFile: cfg.SigningKeyFile})
	if err != nil {
		return nil, fmt.Errorf("failed to create key provider: %w", err)
	}
	signingKey, err := keyProvider.SigningKey(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get signing key: %w", err)
	}

	if hmacSecret == nil {
		logger.Warn("no HMAC secret configured, issued codes and tokens will not survive a restart")
		hmacSecret = make([]byte, servercrypto.MinSecretLength)
		if _, err := rand.Read(hmacSecret); err != nil {
			return nil, fmt.Errorf("failed to generate HMAC secret: %w", err)
		}
	}

	authServerConfig, err := oidcserver.NewAuthorizationServerConfig(&oidcserver.AuthorizationServerParams{
		Issuer:              issuer,
		HMACSecret:          hmacSecret,
		SigningKeyID:        signingKey.KeyID,
		SigningKeyAlgorithm: signingKey.Algorithm,
		SigningKey:          signingKey.Key,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create OIDC configuration: %w", err)
	}
	return authServerConfig, nil
}

// telemetryConfig maps the telemetry section of the config file.
func telemetryConfig(t config.TelemetryConfig) telemetry.Config {
	tc := telemetry.DefaultConfig()
	tc.Endpoint = t.Endpoint
	tc.Headers = t.Headers
	tc.Insecure = t.Insecure
	tc.TracingEnabled = t.Tracing()
	tc.MetricsEnabled = t.Metrics()
	tc.SamplingRate = t.Sampling()
	tc.EnablePrometheusMetricsPath = t.PrometheusMetrics
	tc.ResourceAttributes = t.ResourceAttributes
	if t.ServiceName != "" {
		tc.ServiceName = t.ServiceName
	}
	return tc
}

func newDiscordClient(
	cfg *config.Config,
	httpClient networking.HTTPClient,
	tel *telemetry.Provider,
) (*upstream.Client, error) {
	if httpClient == nil {
		c, err := networking.NewHttpClientBuilder().
			WithUserAgent(versions.UserAgent()).
			WithRateLimit(cfg.DiscordAPI.RequestsPerSecond).
			Build()
		if err != nil {
			return nil, fmt.Errorf("failed to create discord http client: %w", err)
		}
		httpClient = c
	}

	return upstream.NewClient(&upstream.Config{
		ClientID:        cfg.Discord.ClientID,
		ClientSecret:    cfg.Discord.ClientSecret,
		BaseURL:         cfg.DiscordAPI.BaseURL,
		MaxRetries:      cfg.DiscordAPI.Retries(),
		MaxRetryElapsed: cfg.DiscordAPI.RetryElapsed(),
	}, upstream.WithHTTPClient(httpClient), upstream.WithMeterProvider(tel.MeterProvider()))
}
