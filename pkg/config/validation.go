// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/hashicorp/go-multierror"

	derrors "github.com/TastyPi/discord-oidc/pkg/errors"
)

// Validate checks the configuration and reports every problem at once.
func (c *Config) Validate() error {
	var result *multierror.Error

	if err := validateAbsoluteURL("url", c.URL); err != nil {
		result = multierror.Append(result, err)
	}

	seen := make(map[string]struct{}, len(c.Clients))
	for i, client := range c.Clients {
		prefix := fmt.Sprintf("clients[%d]", i)
		if client.ClientID == "" {
			result = multierror.Append(result, fmt.Errorf("%s: client_id is required", prefix))
		} else if _, dup := seen[client.ClientID]; dup {
			result = multierror.Append(result, fmt.Errorf("%s: duplicate client_id %q", prefix, client.ClientID))
		}
		seen[client.ClientID] = struct{}{}

		if err := exactlyOne("client_secret", client.ClientSecret, "client_secret_file", client.ClientSecretFile); err != nil {
			result = multierror.Append(result, fmt.Errorf("%s: %w", prefix, err))
		}
		if len(client.RedirectURIs) == 0 {
			result = multierror.Append(result, fmt.Errorf("%s: at least one redirect_uri is required", prefix))
		}
		for j, uri := range client.RedirectURIs {
			if uri == "" {
				result = multierror.Append(result, fmt.Errorf("%s: redirect_uris[%d] is empty", prefix, j))
			}
		}
	}

	if c.Discord.ClientID == "" {
		result = multierror.Append(result, errors.New("discord: client_id is required"))
	}
	if err := exactlyOne("client_secret", c.Discord.ClientSecret, "client_secret_file", c.Discord.ClientSecretFile); err != nil {
		result = multierror.Append(result, fmt.Errorf("discord: %w", err))
	}

	if err := c.Storage.validate(); err != nil {
		result = multierror.Append(result, err)
	}
	if err := c.DiscordAPI.validate(); err != nil {
		result = multierror.Append(result, err)
	}
	if err := c.Telemetry.validate(); err != nil {
		result = multierror.Append(result, err)
	}

	if err := result.ErrorOrNil(); err != nil {
		return derrors.NewConfigInvalidError("invalid configuration", err)
	}
	return nil
}

func (s StorageConfig) validate() error {
	var result *multierror.Error

	switch s.Type {
	case "", StorageTypeMemory:
	case StorageTypeRedis:
		if s.Redis == nil || s.Redis.Addr == "" {
			result = multierror.Append(result, errors.New("storage.redis.addr is required when storage.type is redis"))
		}
	default:
		result = multierror.Append(result, fmt.Errorf("storage.type %q is not one of memory, redis", s.Type))
	}

	if s.TokenTTL != nil && *s.TokenTTL < 0 {
		result = multierror.Append(result, errors.New("storage.token_ttl must not be negative"))
	}

	if s.Redis != nil {
		if s.Redis.Password != "" && s.Redis.PasswordFile != "" {
			result = multierror.Append(result, errors.New("storage.redis: only one of password and password_file may be set"))
		}
		if s.Redis.DB < 0 {
			result = multierror.Append(result, errors.New("storage.redis.db must not be negative"))
		}
	}

	return result.ErrorOrNil()
}

func (d DiscordAPIConfig) validate() error {
	var result *multierror.Error

	if d.BaseURL != "" {
		if err := validateAbsoluteURL("discord_api.base_url", d.BaseURL); err != nil {
			result = multierror.Append(result, err)
		}
	}
	if d.MaxRetries != nil && *d.MaxRetries < 0 {
		result = multierror.Append(result, errors.New("discord_api.max_retries must not be negative"))
	}
	if d.MaxRetryElapsed != nil && *d.MaxRetryElapsed < 0 {
		result = multierror.Append(result, errors.New("discord_api.max_retry_elapsed must not be negative"))
	}
	if d.RequestsPerSecond < 0 {
		result = multierror.Append(result, errors.New("discord_api.requests_per_second must not be negative"))
	}

	return result.ErrorOrNil()
}

// exactlyOne enforces that one and only one of two mutually exclusive secret sources is set.
func exactlyOne(name, value, fileName, fileValue string) error {
	switch {
	case value != "" && fileValue != "":
		return fmt.Errorf("only one of %s and %s may be set", name, fileName)
	case value == "" && fileValue == "":
		return fmt.Errorf("one of %s or %s is required", name, fileName)
	}
	return nil
}

func validateAbsoluteURL(field, raw string) error {
	if raw == "" {
		return fmt.Errorf("%s is required", field)
	}
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("%s is not a valid URL: %w", field, err)
	}
	if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("%s must be an absolute http(s) URL, got %q", field, raw)
	}
	return nil
}

func (t TelemetryConfig) validate() error {
	var result *multierror.Error

	if strings.Contains(t.Endpoint, "://") {
		result = multierror.Append(result, errors.New("telemetry.endpoint must be host:port without a scheme"))
	}
	disabled := func(b *bool) bool { return b != nil && !*b }
	if t.Endpoint != "" && disabled(t.TracingEnabled) && disabled(t.MetricsEnabled) {
		result = multierror.Append(result, errors.New(
			"telemetry.endpoint is set but tracing and metrics are both disabled"))
	}
	if t.SamplingRate != nil && (*t.SamplingRate < 0 || *t.SamplingRate > 1) {
		result = multierror.Append(result, errors.New("telemetry.sampling_rate must be between 0 and 1"))
	}
	for k := range t.ResourceAttributes {
		if k == "" {
			result = multierror.Append(result, errors.New("telemetry.resource_attributes has an empty key"))
		}
	}

	return result.ErrorOrNil()
}
