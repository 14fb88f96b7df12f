// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package handlers

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/ory/fosite"

	"github.com/TastyPi/discord-oidc/pkg/authserver/server/crypto"
	"github.com/TastyPi/discord-oidc/pkg/logger"
)

// These are not exposed to users but extracted as constants for documentation and maintainability.
const (
	// DefaultJWKSCacheMaxAge is the Cache-Control max-age for the JWKS endpoint (1 hour).
	DefaultJWKSCacheMaxAge = 3600

	// DefaultDiscoveryCacheMaxAge is the Cache-Control max-age for the discovery endpoint (1 hour).
	DefaultDiscoveryCacheMaxAge = 3600
)

// OIDCDiscoveryDocument is the OpenID Provider Metadata (OIDC Discovery 1.0).
type OIDCDiscoveryDocument struct {
	// REQUIRED
	Issuer                           string   `json:"issuer"`
	AuthorizationEndpoint            string   `json:"authorization_endpoint"`
	TokenEndpoint                    string   `json:"token_endpoint"`
	JWKSURI                          string   `json:"jwks_uri"`
	ResponseTypesSupported           []string `json:"response_types_supported"`
	SubjectTypesSupported            []string `json:"subject_types_supported"`
	IDTokenSigningAlgValuesSupported []string `json:"id_token_signing_alg_values_supported"`

	// RECOMMENDED
	UserinfoEndpoint string   `json:"userinfo_endpoint"`
	ScopesSupported  []string `json:"scopes_supported"`
	ClaimsSupported  []string `json:"claims_supported"`

	// OPTIONAL
	GrantTypesSupported               []string `json:"grant_types_supported,omitempty"`
	TokenEndpointAuthMethodsSupported []string `json:"token_endpoint_auth_methods_supported,omitempty"`
	CodeChallengeMethodsSupported     []string `json:"code_challenge_methods_supported,omitempty"`
}

// getSigningAlgorithms extracts the signing algorithms from the JWKS keys.
// If no keys are available, it falls back to RS256 per OIDC Core Section 15.1.
func (h *Handler) getSigningAlgorithms() []string {
	if h.config.PublicJWKS == nil {
		return []string{"RS256"}
	}

	seen := make(map[string]bool)
	var algs []string
	for _, key := range h.config.PublicJWKS.Keys {
		if key.Algorithm != "" && !seen[key.Algorithm] {
			seen[key.Algorithm] = true
			algs = append(algs, key.Algorithm)
		}
	}
	if len(algs) == 0 {
		return []string{"RS256"}
	}
	return algs
}

// JWKSHandler handles GET /jwks requests.
// It returns the public keys used for verifying ID tokens.
func (h *Handler) JWKSHandler(w http.ResponseWriter, _ *http.Request) {
	if h.config.PublicJWKS == nil {
		logger.Error("no public JWKS available")
		http.Error(w, "internal server error", http.StatusInternalServerError)
		return
	}

	data, err := json.Marshal(h.config.PublicJWKS)
	if err != nil {
		logger.Errorw("failed to encode JWKS",
			"error", err.Error(),
		)
		http.Error(w, "internal server error", http.StatusInternalServerError)
		return
	}

	writeCacheableJSON(w, data, DefaultJWKSCacheMaxAge)
}

// OIDCDiscoveryHandler handles GET /.well-known/openid-configuration requests.
func (h *Handler) OIDCDiscoveryHandler(w http.ResponseWriter, _ *http.Request) {
	issuer := h.config.Issuer()

	discovery := OIDCDiscoveryDocument{
		Issuer:                           issuer,
		AuthorizationEndpoint:            issuer + "/auth",
		TokenEndpoint:                    issuer + "/token",
		JWKSURI:                          issuer + "/jwks",
		ResponseTypesSupported:           []string{"code"},
		SubjectTypesSupported:            []string{"public"},
		IDTokenSigningAlgValuesSupported: h.getSigningAlgorithms(),

		UserinfoEndpoint: issuer + "/me",
		ScopesSupported:  h.registry.Scopes(),
		ClaimsSupported:  h.registry.ClaimNames(),

		GrantTypesSupported:               []string{string(fosite.GrantTypeAuthorizationCode)},
		TokenEndpointAuthMethodsSupported: []string{"client_secret_basic", "client_secret_post"},
		CodeChallengeMethodsSupported:     []string{crypto.PKCEChallengeMethodS256},
	}

	data, err := json.Marshal(discovery)
	if err != nil {
		logger.Errorw("failed to encode discovery document",
			"error", err.Error(),
		)
		http.Error(w, "internal server error", http.StatusInternalServerError)
		return
	}

	writeCacheableJSON(w, data, DefaultDiscoveryCacheMaxAge)
}

func writeCacheableJSON(w http.ResponseWriter, data []byte, maxAge int) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", fmt.Sprintf("public, max-age=%d", maxAge))
	w.Header().Set("X-Content-Type-Options", "nosniff")
	_, _ = w.Write(data)
}
