// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package handlers

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/ory/fosite"

	"github.com/TastyPi/discord-oidc/pkg/authserver/claims"
	"github.com/TastyPi/discord-oidc/pkg/authserver/server/session"
	"github.com/TastyPi/discord-oidc/pkg/logger"
)

// UserInfoHandler handles GET and POST /me requests.
// The claims are resolved from Discord on every call using the scopes
// granted to the access token.
func (h *Handler) UserInfoHandler(w http.ResponseWriter, req *http.Request) {
	ctx := req.Context()

	token := fosite.AccessTokenFromRequest(req)
	if token == "" {
		writeBearerError(w, http.StatusUnauthorized, "", "")
		return
	}

	_, ar, err := h.provider.IntrospectToken(ctx, token, fosite.AccessToken, session.New())
	if err != nil {
		logger.Debugw("userinfo token rejected", "error", err.Error())
		writeBearerError(w, http.StatusUnauthorized, "invalid_token", "The access token is invalid or has expired.")
		return
	}

	granted := ar.GetGrantedScopes()
	if !granted.Has(claims.ScopeOpenID) {
		writeBearerError(w, http.StatusForbidden, "insufficient_scope", "The access token was not granted the openid scope.")
		return
	}

	subject := ar.GetSession().GetSubject()
	claimSet, err := h.claims.Claims(ctx, subject, "userinfo", strings.Join(granted, " "))
	if err != nil {
		logger.Errorw("failed to resolve userinfo claims",
			"sub", subject,
			"error", err.Error(),
		)
		writeJSONError(w, http.StatusInternalServerError, "server_error", "Failed to resolve claims.")
		return
	}

	for k, v := range claimSet {
		if v == nil {
			delete(claimSet, k)
		}
	}

	data, err := json.Marshal(claimSet)
	if err != nil {
		logger.Errorw("failed to encode userinfo", "error", err.Error())
		writeJSONError(w, http.StatusInternalServerError, "server_error", "Failed to encode claims.")
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	_, _ = w.Write(data)
}

// writeBearerError writes an RFC 6750 error. An empty code means the request
// carried no token at all.
func writeBearerError(w http.ResponseWriter, status int, code, description string) {
	if code == "" {
		w.Header().Set("WWW-Authenticate", "Bearer")
		w.WriteHeader(status)
		return
	}
	w.Header().Set("WWW-Authenticate", fmt.Sprintf("Bearer error=%q, error_description=%q", code, description))
	writeJSONError(w, status, code, description)
}

func writeJSONError(w http.ResponseWriter, status int, code, description string) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{
		"error":             code,
		"error_description": description,
	})
}
