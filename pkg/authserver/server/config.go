// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package server configures the fosite OpenID Connect provider and the
// interaction layer that hands login and consent to the Discord bridge.
package server

import (
	"crypto"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/go-jose/go-jose/v4"
	"github.com/ory/fosite"

	servercrypto "github.com/TastyPi/discord-oidc/pkg/authserver/server/crypto"
)

// Default token lifespans.
const (
	DefaultAccessTokenLifespan = time.Hour
	DefaultAuthCodeLifespan    = 10 * time.Minute
	DefaultIDTokenLifespan     = time.Hour
)

// AuthorizationServerParams are the inputs to NewAuthorizationServerConfig.
type AuthorizationServerParams struct {
	// Issuer is the externally visible base URL, used as "iss".
	Issuer string

	AccessTokenLifespan time.Duration
	AuthCodeLifespan    time.Duration
	IDTokenLifespan     time.Duration

	// HMACSecret signs opaque authorization codes and access tokens.
	HMACSecret []byte

	SigningKeyID        string
	SigningKeyAlgorithm string
	SigningKey          crypto.Signer
}

// AuthorizationServerConfig is the fosite configuration plus the ID token
// signing key.
type AuthorizationServerConfig struct {
	*fosite.Config

	// SigningKey is the private JWK used to sign ID tokens.
	SigningKey *jose.JSONWebKey

	// PublicJWKS is served at the JWKS endpoint.
	PublicJWKS *jose.JSONWebKeySet
}

// NewAuthorizationServerConfig validates params and builds the fosite configuration.
func NewAuthorizationServerConfig(params *AuthorizationServerParams) (*AuthorizationServerConfig, error) {
	if params == nil {
		return nil, errors.New("config is required")
	}
	if err := validateIssuer(params.Issuer); err != nil {
		return nil, err
	}
	if len(params.HMACSecret) < servercrypto.MinSecretLength {
		return nil, fmt.Errorf("HMAC secret must be at least %d bytes", servercrypto.MinSecretLength)
	}
	if params.SigningKey == nil {
		return nil, errors.New("signing key is required")
	}
	if params.SigningKeyID == "" {
		return nil, errors.New("signing key ID is required")
	}
	if params.SigningKeyAlgorithm == "" {
		return nil, errors.New("signing key algorithm is required")
	}
	if err := servercrypto.ValidateAlgorithmForKey(params.SigningKeyAlgorithm, params.SigningKey); err != nil {
		return nil, err
	}

	cfg := &fosite.Config{
		AccessTokenLifespan:   orDefault(params.AccessTokenLifespan, DefaultAccessTokenLifespan),
		AuthorizeCodeLifespan: orDefault(params.AuthCodeLifespan, DefaultAuthCodeLifespan),
		IDTokenLifespan:       orDefault(params.IDTokenLifespan, DefaultIDTokenLifespan),
		AccessTokenIssuer:     params.Issuer,
		IDTokenIssuer:         params.Issuer,
		TokenURL:              params.Issuer + "/token",
		GlobalSecret:          params.HMACSecret,
		// Unknown scopes reach the prompt policy, which never grants them.
		ScopeStrategy:                  PermissiveScopeStrategy,
		AudienceMatchingStrategy:       fosite.DefaultAudienceMatchingStrategy,
		EnforcePKCEForPublicClients:    true,
		EnablePKCEPlainChallengeMethod: false,
		SendDebugMessagesToClients:     false,
	}

	signingKey := &jose.JSONWebKey{
		Key:       params.SigningKey,
		KeyID:     params.SigningKeyID,
		Algorithm: params.SigningKeyAlgorithm,
		Use:       "sig",
	}
	publicKey := signingKey.Public()

	return &AuthorizationServerConfig{
		Config:     cfg,
		SigningKey: signingKey,
		PublicJWKS: &jose.JSONWebKeySet{Keys: []jose.JSONWebKey{publicKey}},
	}, nil
}

// Issuer returns the configured issuer URL.
func (c *AuthorizationServerConfig) Issuer() string {
	return c.IDTokenIssuer
}

// PermissiveScopeStrategy accepts every scope. Scope filtering happens when
// the engine grants scopes after consent.
func PermissiveScopeStrategy(_ []string, _ string) bool {
	return true
}

func validateIssuer(issuer string) error {
	if issuer == "" {
		return errors.New("issuer is required")
	}
	u, err := url.Parse(issuer)
	if err != nil {
		return fmt.Errorf("issuer is not a valid URL: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return errors.New("issuer must use http or https scheme")
	}
	if u.Host == "" {
		return errors.New("issuer must have a host")
	}
	if strings.HasSuffix(issuer, "/") {
		return errors.New("issuer must not have a trailing slash")
	}
	if u.RawQuery != "" || u.Fragment != "" {
		return errors.New("issuer must not have a query or fragment")
	}
	return nil
}

func orDefault(d, def time.Duration) time.Duration {
	if d <= 0 {
		return def
	}
	return d
}
