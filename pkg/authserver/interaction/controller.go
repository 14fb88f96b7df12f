// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package interaction implements the bridge between the OIDC engine's login
// and consent interactions and Discord's OAuth2 flow.
//
// A login interaction sends the user agent to Discord with the interaction
// uid as state. Discord returns to /discord/callback, which relays to
// /interaction/{uid}/callback so the path-scoped interaction cookie is sent.
// That handler exchanges the code, records the Discord access token for the
// user and finishes the interaction with the Discord user id as account.
// A consent interaction is answered immediately with a grant of every
// missing scope the claims registry recognizes.
package interaction

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"

	"github.com/go-chi/chi/v5"

	"github.com/TastyPi/discord-oidc/pkg/authserver/claims"
	"github.com/TastyPi/discord-oidc/pkg/authserver/server"
	"github.com/TastyPi/discord-oidc/pkg/authserver/storage"
	"github.com/TastyPi/discord-oidc/pkg/authserver/upstream"
	derrors "github.com/TastyPi/discord-oidc/pkg/errors"
	"github.com/TastyPi/discord-oidc/pkg/logger"
	"github.com/TastyPi/discord-oidc/pkg/networking"
)

// Error bodies for malformed Discord callbacks.
const (
	ErrCodeInvalid  = "code_invalid"
	ErrStateInvalid = "state_invalid"
)

// Engine is the part of the OIDC engine the bridge drives.
// *server.Interactions implements it.
type Engine interface {
	Details(r *http.Request, uid string) (*server.InteractionDetails, error)
	Finished(w http.ResponseWriter, r *http.Request, uid string, result *storage.InteractionResult, opts server.FinishOptions) error
	NewGrant(accountID, clientID string) *server.Grant
	LoadGrant(ctx context.Context, id string) (*server.Grant, error)
}

var _ Engine = (*server.Interactions)(nil)

// Controller serves the bridge endpoints.
type Controller struct {
	engine   Engine
	discord  upstream.Discord
	tokens   storage.UpstreamTokenStorage
	registry *claims.Registry

	issuer   string
	basePath string
}

// NewController creates the bridge for issuer.
func NewController(
	engine Engine,
	discord upstream.Discord,
	tokens storage.UpstreamTokenStorage,
	registry *claims.Registry,
	issuer string,
) (*Controller, error) {
	u, err := url.Parse(issuer)
	if err != nil {
		return nil, fmt.Errorf("invalid issuer: %w", err)
	}
	return &Controller{
		engine:   engine,
		discord:  discord,
		tokens:   tokens,
		registry: registry,
		issuer:   issuer,
		basePath: u.Path,
	}, nil
}

// Routes registers the bridge endpoints on r. Paths are relative to the issuer.
func (c *Controller) Routes(r chi.Router) {
	r.Get("/interaction/{uid}", c.InteractionHandler)
	r.Get("/interaction/{uid}/callback", c.CallbackHandler)
	r.Get("/discord/callback", c.DiscordCallbackHandler)
}

// RedirectURI is the redirect_uri registered with Discord.
func (c *Controller) RedirectURI() string {
	return c.issuer + "/discord/callback"
}

// InteractionHandler handles GET /interaction/{uid} and dispatches on the
// prompt the engine is waiting for.
func (c *Controller) InteractionHandler(w http.ResponseWriter, r *http.Request) {
	uid := chi.URLParam(r, "uid")

	details, err := c.engine.Details(r, uid)
	if err != nil {
		writeError(w, err)
		return
	}

	switch details.Prompt.Name {
	case storage.PromptLogin:
		logger.Debugw("redirecting to discord for login",
			"uid", uid,
			"client_id", details.ClientID,
			"reasons", details.Prompt.Reasons,
		)
		authURL := c.discord.AuthorizationURL(c.RedirectURI(), uid, c.registry.UpstreamScopes())
		http.Redirect(w, r, authURL, http.StatusSeeOther)
	case storage.PromptConsent:
		c.consent(w, r, details)
	default:
		writeError(w, derrors.NewBadRequestError(fmt.Sprintf("unsupported prompt %q", details.Prompt.Name), nil))
	}
}

// consent grants the recognized missing scopes. Unrecognized scopes are
// never granted.
func (c *Controller) consent(w http.ResponseWriter, r *http.Request, details *server.InteractionDetails) {
	ctx := r.Context()

	var grant *server.Grant
	if details.GrantID != "" {
		g, err := c.engine.LoadGrant(ctx, details.GrantID)
		switch {
		case err == nil:
			grant = g
		case errors.Is(err, storage.ErrNotFound), errors.Is(err, storage.ErrExpired):
		default:
			writeError(w, err)
			return
		}
	}
	if grant == nil {
		grant = c.engine.NewGrant(details.AccountID, details.ClientID)
	}

	for _, scope := range details.Prompt.Details.MissingOIDCScope {
		if c.registry.Recognized(scope) {
			grant.AddOIDCScope(scope)
		}
	}

	grantID, err := grant.Save(ctx)
	if err != nil {
		writeError(w, err)
		return
	}

	logger.Debugw("consent granted",
		"uid", details.UID,
		"client_id", details.ClientID,
		"scopes", grant.OIDCScopes(),
	)

	result := &storage.InteractionResult{Consent: &storage.ConsentResult{GrantID: grantID}}
	if err := c.engine.Finished(w, r, details.UID, result, server.FinishOptions{MergeWithLastSubmission: true}); err != nil {
		writeError(w, err)
	}
}

// DiscordCallbackHandler handles GET /discord/callback. It only relays to
// the interaction callback, whose path carries the interaction cookie.
func (c *Controller) DiscordCallbackHandler(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	if len(q["code"]) != 1 {
		http.Error(w, ErrCodeInvalid, http.StatusBadRequest)
		return
	}
	if len(q["state"]) != 1 {
		http.Error(w, ErrStateInvalid, http.StatusBadRequest)
		return
	}

	target := c.basePath + "/interaction/" + url.PathEscape(q.Get("state")) + "/callback?" +
		url.Values{"code": {q.Get("code")}}.Encode()
	http.Redirect(w, r, target, http.StatusSeeOther)
}

// CallbackHandler handles GET /interaction/{uid}/callback. It exchanges the
// Discord code and finishes the login with the Discord user id.
func (c *Controller) CallbackHandler(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	uid := chi.URLParam(r, "uid")

	q := r.URL.Query()
	if len(q["code"]) != 1 {
		http.Error(w, ErrCodeInvalid, http.StatusBadRequest)
		return
	}

	// Check the interaction before spending the code.
	if _, err := c.engine.Details(r, uid); err != nil {
		writeError(w, err)
		return
	}

	token, err := c.discord.ExchangeCode(ctx, q.Get("code"), c.RedirectURI())
	if err != nil {
		logger.Warnw("discord token exchange failed", "uid", uid, "error", err.Error())
		http.Error(w, "Discord token exchange failed: "+upstreamDetail(err), http.StatusBadGateway)
		return
	}

	user, err := c.discord.FetchUser(ctx, token.AccessToken)
	if err != nil {
		logger.Warnw("discord user lookup failed", "uid", uid, "error", err.Error())
		http.Error(w, "Discord user lookup failed: "+upstreamDetail(err), http.StatusBadGateway)
		return
	}

	if err := c.tokens.SetUpstreamToken(ctx, user.ID, token.AccessToken); err != nil {
		writeError(w, fmt.Errorf("failed to store discord token: %w", err))
		return
	}

	logger.Debugw("discord login completed", "uid", uid, "account_id", user.ID)

	result := &storage.InteractionResult{Login: &storage.LoginResult{AccountID: user.ID}}
	if err := c.engine.Finished(w, r, uid, result, server.FinishOptions{}); err != nil {
		writeError(w, err)
	}
}

// upstreamDetail returns the Discord response body when there is one.
func upstreamDetail(err error) string {
	if httpErr, ok := networking.AsHTTPError(err); ok && httpErr.Body != "" {
		return httpErr.Body
	}
	return err.Error()
}

func writeError(w http.ResponseWriter, err error) {
	if derrors.IsBadRequest(err) {
		logger.Debugw("bad interaction request", "error", err.Error())
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	logger.Errorw("interaction failed", "error", err.Error())
	http.Error(w, "internal server error", http.StatusInternalServerError)
}
