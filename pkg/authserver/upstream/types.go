// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package upstream

//go:generate mockgen -destination=mocks/mock_discord.go -package=mocks -source=types.go Discord

import (
	"context"
	"errors"
	"net/url"
	"time"
)

const (
	// DefaultBaseURL is Discord's public origin.
	DefaultBaseURL = "https://discord.com"

	// DefaultMaxRetries bounds retries after HTTP 429.
	DefaultMaxRetries = 5

	// DefaultMaxRetryElapsed bounds the total time spent in 429 retries.
	DefaultMaxRetryElapsed = 30 * time.Second

	// DefaultRetryAfter is used when a 429 response has no usable Retry-After header.
	DefaultRetryAfter = time.Second

	// AvatarBaseURL is the CDN prefix for user avatars.
	AvatarBaseURL = "https://cdn.discordapp.com/avatars/"
)

// Discord OAuth2 scopes requested by the bridge.
const (
	ScopeOpenID   = "openid"
	ScopeIdentify = "identify"
	ScopeGuilds   = "guilds"
)

// Discord is the upstream identity provider as seen by the bridge.
type Discord interface {
	// AuthorizationURL builds the Discord consent URL for the given state.
	AuthorizationURL(redirectURI, state string, scopes []string) string

	// ExchangeCode trades an authorization code for an access token.
	ExchangeCode(ctx context.Context, code, redirectURI string) (*Token, error)

	// FetchUser returns the user the access token belongs to.
	FetchUser(ctx context.Context, accessToken string) (*User, error)

	// FetchGuilds returns the ids of the user's guilds in the order Discord lists them.
	FetchGuilds(ctx context.Context, accessToken string) ([]string, error)
}

// Config configures the Discord client.
type Config struct {
	// ClientID and ClientSecret are the bridge's own Discord application credentials.
	ClientID     string
	ClientSecret string

	// BaseURL overrides https://discord.com, mostly for tests.
	BaseURL string

	// MaxRetries is the number of retries after HTTP 429. Zero disables retrying.
	MaxRetries int

	// MaxRetryElapsed bounds the total time spent in 429 retries. Zero means no bound.
	MaxRetryElapsed time.Duration
}

// Validate checks that the configuration is usable.
func (c *Config) Validate() error {
	if c.ClientID == "" {
		return errors.New("client_id is required")
	}
	if c.ClientSecret == "" {
		return errors.New("client_secret is required")
	}
	if c.BaseURL != "" {
		u, err := url.Parse(c.BaseURL)
		if err != nil || u.Scheme == "" || u.Host == "" {
			return errors.New("base_url must be an absolute URL")
		}
	}
	if c.MaxRetries < 0 {
		return errors.New("max_retries must not be negative")
	}
	if c.MaxRetryElapsed < 0 {
		return errors.New("max_retry_elapsed must not be negative")
	}
	return nil
}

// Token is Discord's token endpoint response.
type Token struct {
	AccessToken  string `json:"access_token"`
	TokenType    string `json:"token_type"`
	ExpiresIn    int    `json:"expires_in"`
	RefreshToken string `json:"refresh_token,omitempty"`
	Scope        string `json:"scope"`
}

// User is the subset of Discord's user object the bridge uses.
type User struct {
	ID       string `json:"id"`
	Username string `json:"username"`

	// GlobalName is the display name; nil when the user never set one.
	GlobalName *string `json:"global_name"`

	// Avatar is the avatar hash; nil for the default avatar.
	Avatar *string `json:"avatar"`

	Locale string `json:"locale,omitempty"`
}

// AvatarURL returns the CDN URL of the user's avatar, or "" without one.
func (u *User) AvatarURL() string {
	if u.Avatar == nil || *u.Avatar == "" {
		return ""
	}
	return AvatarBaseURL + u.ID + "/" + *u.Avatar
}
