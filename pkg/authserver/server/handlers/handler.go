// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package handlers

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/ory/fosite"

	"github.com/TastyPi/discord-oidc/pkg/authserver/claims"
	"github.com/TastyPi/discord-oidc/pkg/authserver/server"
)

// Handler provides HTTP handlers for the OpenID Connect endpoints.
type Handler struct {
	provider     fosite.OAuth2Provider
	config       *server.AuthorizationServerConfig
	interactions *server.Interactions
	registry     *claims.Registry
	claims       claims.AccountClaimsProvider
}

// NewHandler creates a new Handler with the given dependencies.
func NewHandler(
	provider fosite.OAuth2Provider,
	config *server.AuthorizationServerConfig,
	interactions *server.Interactions,
	registry *claims.Registry,
	claimsProvider claims.AccountClaimsProvider,
) *Handler {
	return &Handler{
		provider:     provider,
		config:       config,
		interactions: interactions,
		registry:     registry,
		claims:       claimsProvider,
	}
}

// Routes returns a router with all OIDC endpoints registered.
// Paths are relative to the issuer.
func (h *Handler) Routes() http.Handler {
	r := chi.NewRouter()
	h.OIDCRoutes(r)
	h.WellKnownRoutes(r)
	return r
}

// OIDCRoutes registers the authorization, token and userinfo endpoints.
func (h *Handler) OIDCRoutes(r chi.Router) {
	r.Get("/auth", h.AuthorizeHandler)
	r.Post("/auth", h.AuthorizeHandler)
	r.Get("/auth/{uid}", h.ResumeHandler)
	r.Post("/token", h.TokenHandler)
	r.Get("/me", h.UserInfoHandler)
	r.Post("/me", h.UserInfoHandler)
}

// WellKnownRoutes registers discovery and the key set.
func (h *Handler) WellKnownRoutes(r chi.Router) {
	r.Get("/.well-known/openid-configuration", h.OIDCDiscoveryHandler)
	r.Get("/jwks", h.JWKSHandler)
}
