// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package upstream

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/tidwall/gjson"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"

	oidcerrors "github.com/TastyPi/discord-oidc/pkg/errors"
	"github.com/TastyPi/discord-oidc/pkg/logger"
	"github.com/TastyPi/discord-oidc/pkg/networking"
)

const (
	authorizePath = "/oauth2/authorize"
	tokenPath     = "/api/oauth2/token"
	userPath      = "/api/v10/users/@me"
	guildsPath    = "/api/v10/users/@me/guilds"

	instrumentationName = "github.com/TastyPi/discord-oidc/pkg/authserver/upstream"

	// metricRateLimited counts HTTP 429 responses from Discord by endpoint and outcome.
	metricRateLimited = "discord_oidc_discord_rate_limited"
)

// Compile-time interface compliance check.
var _ Discord = (*Client)(nil)

// Client implements Discord against the Discord HTTP API.
type Client struct {
	config        Config
	httpClient    networking.HTTPClient
	meterProvider metric.MeterProvider
	rateLimited   metric.Int64Counter
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(client networking.HTTPClient) ClientOption {
	return func(c *Client) {
		c.httpClient = client
	}
}

// WithMeterProvider records Discord rate limiting on the given meter provider.
func WithMeterProvider(mp metric.MeterProvider) ClientOption {
	return func(c *Client) {
		c.meterProvider = mp
	}
}

// NewClient creates a Discord client. An empty BaseURL means DefaultBaseURL.
func NewClient(config *Config, opts ...ClientOption) (*Client, error) {
	if config == nil {
		return nil, errors.New("config is required")
	}
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid discord config: %w", err)
	}

	c := &Client{
		config:        *config,
		httpClient:    http.DefaultClient,
		meterProvider: noop.NewMeterProvider(),
	}
	c.config.BaseURL = strings.TrimSuffix(c.config.BaseURL, "/")
	if c.config.BaseURL == "" {
		c.config.BaseURL = DefaultBaseURL
	}

	for _, opt := range opts {
		opt(c)
	}

	rateLimited, err := c.meterProvider.Meter(instrumentationName).Int64Counter(
		metricRateLimited, // The exporter adds the _total suffix automatically
		metric.WithDescription("Number of Discord API responses with HTTP 429"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create rate limit counter: %w", err)
	}
	c.rateLimited = rateLimited

	logger.Debugw("discord client created",
		"base_url", c.config.BaseURL,
		"client_id", c.config.ClientID,
		"max_retries", c.config.MaxRetries,
	)
	return c, nil
}

// AuthorizationURL builds the URL that sends the user to Discord's consent screen.
func (c *Client) AuthorizationURL(redirectURI, state string, scopes []string) string {
	params := url.Values{
		"client_id":     {c.config.ClientID},
		"redirect_uri":  {redirectURI},
		"response_type": {"code"},
		"scope":         {strings.Join(scopes, " ")},
		"state":         {state},
	}
	return c.config.BaseURL + authorizePath + "?" + params.Encode()
}

// ExchangeCode exchanges an authorization code for a Discord access token.
// Failures are returned as upstream_exchange_failed errors wrapping the
// *networking.HTTPError, and are not retried unless Discord rate limits.
func (c *Client) ExchangeCode(ctx context.Context, code, redirectURI string) (*Token, error) {
	if code == "" {
		return nil, errors.New("authorization code is required")
	}

	tokenURL := c.config.BaseURL + tokenPath
	form := url.Values{
		"client_id":     {c.config.ClientID},
		"client_secret": {c.config.ClientSecret},
		"code":          {code},
		"grant_type":    {"authorization_code"},
		"redirect_uri":  {redirectURI},
	}

	logger.Debugw("exchanging discord authorization code", "token_endpoint", tokenURL)

	result, err := withRateLimitRetry(ctx, c, tokenURL,
		func(opts ...networking.FetchOption) (*networking.FetchResult[Token], error) {
			return networking.FetchJSONWithForm[Token](ctx, c.httpClient, tokenURL, form, opts...)
		})
	if err != nil {
		if oidcerrors.IsRateLimitExceeded(err) {
			return nil, err
		}
		return nil, oidcerrors.NewUpstreamExchangeFailedError("discord token exchange failed", err)
	}
	if result.Data.AccessToken == "" {
		return nil, oidcerrors.NewUpstreamExchangeFailedError("discord token response has no access_token", nil)
	}

	return &result.Data, nil
}

// FetchUser returns the Discord user the access token belongs to.
func (c *Client) FetchUser(ctx context.Context, accessToken string) (*User, error) {
	userURL := c.config.BaseURL + userPath

	result, err := withRateLimitRetry(ctx, c, userURL,
		func(opts ...networking.FetchOption) (*networking.FetchResult[User], error) {
			return networking.FetchJSON[User](ctx, c.httpClient, userURL,
				append(opts, networking.WithBearerToken(accessToken))...)
		})
	if err != nil {
		if oidcerrors.IsRateLimitExceeded(err) {
			return nil, err
		}
		return nil, oidcerrors.NewUpstreamLookupFailedError("discord user lookup failed", err)
	}
	if result.Data.ID == "" {
		return nil, oidcerrors.NewUpstreamLookupFailedError("discord user response has no id", nil)
	}

	return &result.Data, nil
}

// FetchGuilds returns the ids of the user's guilds, in the order Discord lists them.
func (c *Client) FetchGuilds(ctx context.Context, accessToken string) ([]string, error) {
	guildsURL := c.config.BaseURL + guildsPath

	result, err := withRateLimitRetry(ctx, c, guildsURL,
		func(opts ...networking.FetchOption) (*networking.FetchResult[json.RawMessage], error) {
			return networking.FetchJSON[json.RawMessage](ctx, c.httpClient, guildsURL,
				append(opts, networking.WithBearerToken(accessToken))...)
		})
	if err != nil {
		if oidcerrors.IsRateLimitExceeded(err) {
			return nil, err
		}
		return nil, oidcerrors.NewUpstreamLookupFailedError("discord guild lookup failed", err)
	}

	parsed := gjson.ParseBytes(result.Raw)
	if !parsed.IsArray() {
		return nil, oidcerrors.NewUpstreamLookupFailedError("discord guild response is not a list", nil)
	}

	ids := parsed.Get("#.id").Array()
	guilds := make([]string, 0, len(ids))
	for _, id := range ids {
		guilds = append(guilds, id.String())
	}
	return guilds, nil
}
