// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package handlers

import (
	"net/http"

	"github.com/TastyPi/discord-oidc/pkg/authserver/server/session"
	"github.com/TastyPi/discord-oidc/pkg/logger"
)

// TokenHandler handles POST /token requests.
// It exchanges an authorization code for an access token and an ID token.
func (h *Handler) TokenHandler(w http.ResponseWriter, req *http.Request) {
	ctx := req.Context()

	// fosite loads the session stored with the authorization code into this
	// template, so it starts empty.
	accessRequest, err := h.provider.NewAccessRequest(ctx, req, session.New())
	if err != nil {
		logger.Debugw("rejected token request", "error", err.Error())
		h.provider.WriteAccessError(ctx, w, accessRequest, err)
		return
	}

	response, err := h.provider.NewAccessResponse(ctx, accessRequest)
	if err != nil {
		logger.Errorw("failed to create access response", "error", err.Error())
		h.provider.WriteAccessError(ctx, w, accessRequest, err)
		return
	}

	h.provider.WriteAccessResponse(ctx, w, accessRequest, response)
}
