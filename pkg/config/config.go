// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package config loads and validates the discord-oidc configuration file.
//
// The file is YAML and is decoded strictly: unknown keys are rejected at
// every level. Secrets may be given inline or as a path to a file whose
// contents (trailing whitespace trimmed) become the secret. After Load
// returns, every secret has been resolved and the *_file fields are empty.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	derrors "github.com/TastyPi/discord-oidc/pkg/errors"
	"github.com/TastyPi/discord-oidc/pkg/logger"
)

// Storage backends for the upstream token store.
const (
	StorageTypeMemory = "memory"
	StorageTypeRedis  = "redis"
)

const (
	// DefaultDiscordBaseURL is the origin of Discord's OAuth2 and REST API.
	DefaultDiscordBaseURL = "https://discord.com"

	// DefaultMaxRetries bounds how many times a rate limited Discord call is retried.
	DefaultMaxRetries = 5

	// DefaultMaxRetryElapsed bounds the total time spent waiting on Retry-After.
	DefaultMaxRetryElapsed = 30 * time.Second

	// DefaultTokenTTL matches the lifetime of a Discord access token.
	DefaultTokenTTL = 7 * 24 * time.Hour

	// DefaultRedisKeyPrefix namespaces upstream tokens in a shared Redis.
	DefaultRedisKeyPrefix = "discord-oidc:"

	// DefaultServiceName is the OpenTelemetry service.name resource attribute.
	DefaultServiceName = "discord-oidc"

	// DefaultSamplingRate is the fraction of traces exported to OTLP.
	DefaultSamplingRate = 0.05
)

// Config is the root of the configuration file.
type Config struct {
	// URL is the externally visible base URL of the service. It is used
	// verbatim as the OIDC issuer.
	URL string `yaml:"url"`

	// Clients are the relying parties allowed to authenticate users.
	Clients []ClientConfig `yaml:"clients"`

	// Discord holds the credentials of the Discord application.
	Discord DiscordConfig `yaml:"discord"`

	// SigningKeyFile is a PEM private key used to sign ID tokens.
	// An ephemeral key is generated when empty.
	SigningKeyFile string `yaml:"signing_key_file,omitempty"`

	Storage    StorageConfig    `yaml:"storage,omitempty"`
	DiscordAPI DiscordAPIConfig `yaml:"discord_api,omitempty"`
	Telemetry  TelemetryConfig  `yaml:"telemetry,omitempty"`
}

// ClientConfig registers one OIDC relying party.
type ClientConfig struct {
	ClientID         string   `yaml:"client_id"`
	ClientSecret     string   `yaml:"client_secret,omitempty"`
	ClientSecretFile string   `yaml:"client_secret_file,omitempty"`
	RedirectURIs     []string `yaml:"redirect_uris"`
}

// DiscordConfig holds the Discord application credentials.
type DiscordConfig struct {
	ClientID         string `yaml:"client_id"`
	ClientSecret     string `yaml:"client_secret,omitempty"`
	ClientSecretFile string `yaml:"client_secret_file,omitempty"`
}

// StorageConfig selects the upstream token store.
type StorageConfig struct {
	// Type is "memory" (default) or "redis".
	Type string `yaml:"type,omitempty"`

	// TokenTTL is how long an upstream token is kept after it was stored.
	// Nil means DefaultTokenTTL and zero keeps tokens until they are replaced.
	TokenTTL *time.Duration `yaml:"token_ttl,omitempty"`

	Redis *RedisConfig `yaml:"redis,omitempty"`
}

// RedisConfig configures the Redis upstream token store.
type RedisConfig struct {
	Addr         string `yaml:"addr"`
	Username     string `yaml:"username,omitempty"`
	Password     string `yaml:"password,omitempty"`
	PasswordFile string `yaml:"password_file,omitempty"`
	DB           int    `yaml:"db,omitempty"`
	KeyPrefix    string `yaml:"key_prefix,omitempty"`
}

// DiscordAPIConfig tunes the outbound Discord client.
type DiscordAPIConfig struct {
	// BaseURL overrides https://discord.com, mostly for tests.
	BaseURL string `yaml:"base_url,omitempty"`

	// MaxRetries is the number of retries after HTTP 429. Nil means DefaultMaxRetries.
	MaxRetries *int `yaml:"max_retries,omitempty"`

	// MaxRetryElapsed bounds the total time spent in 429 retries.
	// Nil means DefaultMaxRetryElapsed and zero leaves only MaxRetries as a bound.
	MaxRetryElapsed *time.Duration `yaml:"max_retry_elapsed,omitempty"`

	// RequestsPerSecond limits outbound calls client-side. Zero disables it.
	RequestsPerSecond float64 `yaml:"requests_per_second,omitempty"`
}

// TelemetryConfig controls tracing and metrics export.
type TelemetryConfig struct {
	// Endpoint is an OTLP/HTTP collector as host:port. Empty disables OTLP.
	Endpoint string            `yaml:"endpoint,omitempty"`
	Headers  map[string]string `yaml:"headers,omitempty"`
	Insecure bool              `yaml:"insecure,omitempty"`

	// TracingEnabled and MetricsEnabled pick what is sent to Endpoint. Nil means true.
	TracingEnabled *bool `yaml:"tracing_enabled,omitempty"`
	MetricsEnabled *bool `yaml:"metrics_enabled,omitempty"`

	// SamplingRate is the fraction of traces kept. Nil means DefaultSamplingRate.
	SamplingRate *float64 `yaml:"sampling_rate,omitempty"`

	// PrometheusMetrics serves /metrics on the main listener.
	PrometheusMetrics bool `yaml:"prometheus_metrics,omitempty"`

	ServiceName        string            `yaml:"service_name,omitempty"`
	ResourceAttributes map[string]string `yaml:"resource_attributes,omitempty"`
}

// Load reads, validates and normalizes the configuration file at path.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path) // #nosec G304 - path is chosen by the operator
	if err != nil {
		return nil, derrors.NewConfigInvalidError(fmt.Sprintf("failed to read config file %s", path), err)
	}

	cfg, err := Parse(data)
	if err != nil {
		return nil, err
	}

	logger.Debugw("loaded configuration", "path", path, "clients", len(cfg.Clients), "storage", cfg.Storage.Type)
	return cfg, nil
}

// Parse decodes, validates and normalizes a YAML document.
func Parse(data []byte) (*Config, error) {
	cfg := &Config{}

	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(cfg); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, derrors.NewConfigInvalidError("config file is empty", nil)
		}
		return nil, derrors.NewConfigInvalidError("failed to parse config", err)
	}

	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	if err := cfg.resolveSecrets(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Storage.Type == "" {
		c.Storage.Type = StorageTypeMemory
	}
	if c.Storage.TokenTTL == nil {
		ttl := DefaultTokenTTL
		c.Storage.TokenTTL = &ttl
	}
	if c.Storage.Redis != nil && c.Storage.Redis.KeyPrefix == "" {
		c.Storage.Redis.KeyPrefix = DefaultRedisKeyPrefix
	}
	if c.DiscordAPI.BaseURL == "" {
		c.DiscordAPI.BaseURL = DefaultDiscordBaseURL
	}
	if c.DiscordAPI.MaxRetries == nil {
		retries := DefaultMaxRetries
		c.DiscordAPI.MaxRetries = &retries
	}
	if c.DiscordAPI.MaxRetryElapsed == nil {
		elapsed := DefaultMaxRetryElapsed
		c.DiscordAPI.MaxRetryElapsed = &elapsed
	}
	if c.Telemetry.ServiceName == "" {
		c.Telemetry.ServiceName = DefaultServiceName
	}
}

// Retries returns the configured 429 retry bound.
func (d DiscordAPIConfig) Retries() int {
	if d.MaxRetries == nil {
		return DefaultMaxRetries
	}
	return *d.MaxRetries
}

// RetryElapsed returns the configured bound on time spent in 429 retries.
func (d DiscordAPIConfig) RetryElapsed() time.Duration {
	if d.MaxRetryElapsed == nil {
		return DefaultMaxRetryElapsed
	}
	return *d.MaxRetryElapsed
}

// TTL returns the upstream token lifetime. Zero means no expiry.
func (s StorageConfig) TTL() time.Duration {
	if s.TokenTTL == nil {
		return DefaultTokenTTL
	}
	return *s.TokenTTL
}

// Tracing reports whether spans are exported to the OTLP endpoint.
func (t TelemetryConfig) Tracing() bool {
	return t.Endpoint != "" && (t.TracingEnabled == nil || *t.TracingEnabled)
}

// Metrics reports whether metrics are exported to the OTLP endpoint.
func (t TelemetryConfig) Metrics() bool {
	return t.Endpoint != "" && (t.MetricsEnabled == nil || *t.MetricsEnabled)
}

// Sampling returns the trace sampling rate.
func (t TelemetryConfig) Sampling() float64 {
	if t.SamplingRate == nil {
		return DefaultSamplingRate
	}
	return *t.SamplingRate
}
