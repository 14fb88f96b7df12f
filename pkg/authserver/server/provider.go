// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package server

import (
	"context"

	josev3 "github.com/go-jose/go-jose/v3"
	"github.com/ory/fosite"
	"github.com/ory/fosite/compose"
	"github.com/ory/fosite/token/jwt"

	"github.com/TastyPi/discord-oidc/pkg/authserver/storage"
	"github.com/TastyPi/discord-oidc/pkg/logger"
)

// NewProvider composes the fosite provider: authorization code grant with
// OpenID Connect, PKCE, and introspection of the opaque access tokens for
// the userinfo endpoint.
func NewProvider(cfg *AuthorizationServerConfig, stor storage.Storage) fosite.OAuth2Provider {
	logger.Debugw("configuring fosite OpenID Connect provider",
		"issuer", cfg.Issuer(),
		"keyID", cfg.SigningKey.KeyID,
		"algorithm", cfg.SigningKey.Algorithm,
	)

	// fosite v0.49 signs with go-jose/v3 keys. Passing a JWK rather than the
	// bare key puts "kid" into the ID token header.
	signingKey := &josev3.JSONWebKey{
		Key:       cfg.SigningKey.Key,
		KeyID:     cfg.SigningKey.KeyID,
		Algorithm: cfg.SigningKey.Algorithm,
		Use:       cfg.SigningKey.Use,
	}
	keyGetter := func(context.Context) (interface{}, error) { return signingKey, nil }

	strategy := &compose.CommonStrategy{
		CoreStrategy:               compose.NewOAuth2HMACStrategy(cfg.Config),
		OpenIDConnectTokenStrategy: compose.NewOpenIDConnectStrategy(keyGetter, cfg.Config),
		Signer:                     &jwt.DefaultSigner{GetPrivateKey: keyGetter},
	}

	return compose.Compose(
		cfg.Config,
		stor,
		strategy,
		compose.OAuth2AuthorizeExplicitFactory,
		compose.OpenIDConnectExplicitFactory,
		compose.OAuth2PKCEFactory,
		compose.OAuth2TokenIntrospectionFactory,
	)
}
