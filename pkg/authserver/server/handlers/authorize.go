// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package handlers

import (
	"net/http"
	"net/url"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/ory/fosite"

	"github.com/TastyPi/discord-oidc/pkg/authserver/server/session"
	"github.com/TastyPi/discord-oidc/pkg/authserver/storage"
	derrors "github.com/TastyPi/discord-oidc/pkg/errors"
	"github.com/TastyPi/discord-oidc/pkg/logger"
)

// Prompt values of the authorization request.
const (
	promptNone    = "none"
	promptLogin   = "login"
	promptConsent = "consent"
)

// Reasons recorded on an interaction prompt.
const (
	reasonNoSession     = "no_session"
	reasonLoginPrompt   = "login_prompt"
	reasonMaxAge        = "max_age"
	reasonScopesMissing = "op_scopes_missing"
	reasonConsentPrompt = "consent_prompt"
)

// AuthorizeHandler handles GET and POST /auth requests.
// It issues a code when the end user is logged in and has consented to the
// requested scopes; otherwise it starts a login or consent interaction.
func (h *Handler) AuthorizeHandler(w http.ResponseWriter, req *http.Request) {
	ctx := req.Context()

	// Let fosite validate everything: client_id, redirect_uri, response_type, PKCE, state
	ar, err := h.provider.NewAuthorizeRequest(ctx, req)
	if err != nil {
		logger.Debugw("rejected authorization request", "error", err.Error())
		h.provider.WriteAuthorizeError(ctx, w, ar, err)
		return
	}

	endUser, err := h.interactions.CurrentSession(req)
	if err != nil {
		logger.Errorw("failed to load end-user session", "error", err.Error())
		h.provider.WriteAuthorizeError(ctx, w, ar, fosite.ErrServerError.WithHint("Failed to load the session."))
		return
	}

	h.authorize(w, req, ar, endUser, nil)
}

// ResumeHandler handles GET /auth/{uid}, where the bridge sends the user
// agent after finishing an interaction. The original authorization request
// is replayed with the interaction result applied.
func (h *Handler) ResumeHandler(w http.ResponseWriter, req *http.Request) {
	ctx := req.Context()
	uid := chi.URLParam(req, "uid")

	in, err := h.interactions.Resume(req, uid)
	if err != nil {
		writeInteractionError(w, err)
		return
	}

	ar, err := h.provider.NewAuthorizeRequest(ctx, replayRequest(req, in.Params))
	if err != nil {
		logger.Debugw("replayed authorization request rejected", "uid", uid, "error", err.Error())
		h.consume(w, req, uid)
		h.provider.WriteAuthorizeError(ctx, w, ar, err)
		return
	}

	endUser, err := h.interactions.CurrentSession(req)
	if err != nil {
		logger.Errorw("failed to load end-user session", "error", err.Error())
		h.provider.WriteAuthorizeError(ctx, w, ar, fosite.ErrServerError.WithHint("Failed to load the session."))
		return
	}

	endUser, err = h.applyResult(w, req, ar.GetClient().GetID(), endUser, in.Result)
	if err != nil {
		logger.Warnw("failed to apply interaction result", "uid", uid, "error", err.Error())
		h.consume(w, req, uid)
		h.provider.WriteAuthorizeError(ctx, w, ar, fosite.ErrAccessDenied.WithHint(err.Error()))
		return
	}

	h.consume(w, req, uid)
	h.authorize(w, req, ar, endUser, in)
}

func (h *Handler) consume(w http.ResponseWriter, req *http.Request, uid string) {
	if err := h.interactions.Consume(req.Context(), w, uid); err != nil {
		logger.Warnw("failed to consume interaction", "uid", uid, "error", err.Error())
	}
}

// applyResult logs the end user in and attaches the consent grant reported
// by the bridge. It returns the session to continue with.
func (h *Handler) applyResult(
	w http.ResponseWriter,
	req *http.Request,
	clientID string,
	endUser *storage.EndUserSession,
	result *storage.InteractionResult,
) (*storage.EndUserSession, error) {
	if result.Login != nil {
		if result.Login.AccountID == "" {
			return nil, derrors.NewBadRequestError("login result has no account", nil)
		}
		var err error
		endUser, err = h.interactions.Login(w, req, endUser, result.Login)
		if err != nil {
			return nil, err
		}
	}

	if result.Consent != nil && endUser != nil {
		if err := h.interactions.AttachGrant(w, req, endUser, clientID, result.Consent.GrantID); err != nil {
			return nil, err
		}
	}
	return endUser, nil
}

// authorize decides between issuing a code and asking the end user.
// prev is the interaction being resumed, nil for a fresh request.
func (h *Handler) authorize(
	w http.ResponseWriter,
	req *http.Request,
	ar fosite.AuthorizeRequester,
	endUser *storage.EndUserSession,
	prev *storage.Interaction,
) {
	ctx := req.Context()
	clientID := ar.GetClient().GetID()

	grant, err := h.interactions.SessionGrant(ctx, endUser, clientID)
	if err != nil {
		logger.Errorw("failed to load grant", "client_id", clientID, "error", err.Error())
		h.provider.WriteAuthorizeError(ctx, w, ar, fosite.ErrServerError.WithHint("Failed to load the consent grant."))
		return
	}

	prompts := strings.Fields(ar.GetRequestForm().Get("prompt"))
	prompt := h.requiredPrompt(promptState{
		requested: ar.GetRequestedScopes(),
		prompts:   prompts,
		maxAge:    parseMaxAge(ar.GetRequestForm()),
		session:   endUser,
		grant:     grant,
		prev:      prev,
	}, time.Now())

	if prompt == nil {
		requestedAt := ar.GetRequestedAt()
		if prev != nil {
			requestedAt = prev.CreatedAt
		}
		h.issue(w, req, ar, endUser, grant, requestedAt)
		return
	}

	if slices.Contains(prompts, promptNone) {
		logger.Debugw("interaction required but prompt=none",
			"client_id", clientID,
			"prompt", prompt.Name,
			"reasons", prompt.Reasons,
		)
		if prompt.Name == storage.PromptLogin {
			h.provider.WriteAuthorizeError(ctx, w, ar, fosite.ErrLoginRequired)
		} else {
			h.provider.WriteAuthorizeError(ctx, w, ar, fosite.ErrConsentRequired)
		}
		return
	}

	in := &storage.Interaction{
		Prompt:    *prompt,
		ClientID:  clientID,
		CreatedAt: ar.GetRequestedAt(),
	}
	if prev != nil {
		in.Params = cloneValues(prev.Params)
		in.CreatedAt = prev.CreatedAt
		in.LastSubmission = prev.LastSubmission.Merge(prev.Result)
	} else {
		in.Params = cloneValues(ar.GetRequestForm())
	}
	if endUser != nil {
		in.SessionID = endUser.ID
		in.AccountID = endUser.AccountID
	}

	if err := h.interactions.Start(w, req, in); err != nil {
		logger.Errorw("failed to start interaction", "client_id", clientID, "error", err.Error())
		h.provider.WriteAuthorizeError(ctx, w, ar, fosite.ErrServerError.WithHint("Failed to start the interaction."))
	}
}

// issue grants the consented scopes and writes the authorization response.
func (h *Handler) issue(
	w http.ResponseWriter,
	req *http.Request,
	ar fosite.AuthorizeRequester,
	endUser *storage.EndUserSession,
	grant *storage.Grant,
	requestedAt time.Time,
) {
	ctx := req.Context()

	if grant != nil {
		for _, scope := range ar.GetRequestedScopes() {
			if grant.HasOIDCScope(scope) {
				ar.GrantScope(scope)
			}
		}
	}

	sess := session.NewAuthenticated(session.Params{
		Subject:     endUser.AccountID,
		Issuer:      h.config.Issuer(),
		KeyID:       h.config.SigningKey.KeyID,
		AuthTime:    endUser.AuthTime,
		RequestedAt: requestedAt,
	})

	resp, err := h.provider.NewAuthorizeResponse(ctx, ar, sess)
	if err != nil {
		logger.Debugw("failed to create authorize response", "error", err.Error())
		h.provider.WriteAuthorizeError(ctx, w, ar, err)
		return
	}

	logger.Debugw("issued authorization code",
		"client_id", ar.GetClient().GetID(),
		"scopes", []string(ar.GetGrantedScopes()),
	)
	h.provider.WriteAuthorizeResponse(ctx, w, ar, resp)
}

// promptState is the input to the prompt policy.
type promptState struct {
	requested []string
	prompts   []string

	// maxAge is the max_age parameter, negative when absent.
	maxAge time.Duration

	session *storage.EndUserSession
	grant   *storage.Grant
	prev    *storage.Interaction
}

// loginSatisfied reports whether the end user logged in during this
// authorization request.
func (s promptState) loginSatisfied() bool {
	if s.prev == nil || s.prev.Result == nil || s.prev.Result.Login == nil {
		return false
	}
	return !s.prev.Result.Login.AuthTime.Before(s.prev.CreatedAt)
}

func (s promptState) consentSatisfied() bool {
	return s.prev != nil && s.prev.Result != nil && s.prev.Result.Consent != nil
}

// requiredPrompt returns the interaction the request still needs, or nil
// when a code can be issued.
func (h *Handler) requiredPrompt(s promptState, now time.Time) *storage.Prompt {
	if s.session == nil {
		return &storage.Prompt{Name: storage.PromptLogin, Reasons: []string{reasonNoSession}}
	}

	if !s.loginSatisfied() {
		var reasons []string
		if slices.Contains(s.prompts, promptLogin) {
			reasons = append(reasons, reasonLoginPrompt)
		}
		if s.maxAge >= 0 && now.Sub(s.session.AuthTime) > s.maxAge {
			reasons = append(reasons, reasonMaxAge)
		}
		if len(reasons) > 0 {
			return &storage.Prompt{Name: storage.PromptLogin, Reasons: reasons}
		}
	}

	if s.consentSatisfied() {
		return nil
	}

	// Unrecognized scopes are listed but never force consent on their own.
	// They can never be granted, so they would otherwise prompt forever.
	var missing []string
	needsConsent := false
	for _, scope := range s.requested {
		if slices.Contains(missing, scope) || (s.grant != nil && s.grant.HasOIDCScope(scope)) {
			continue
		}
		missing = append(missing, scope)
		if h.registry.Recognized(scope) {
			needsConsent = true
		}
	}

	var reasons []string
	if needsConsent {
		reasons = append(reasons, reasonScopesMissing)
	}
	if slices.Contains(s.prompts, promptConsent) {
		reasons = append(reasons, reasonConsentPrompt)
	}
	if len(reasons) == 0 {
		return nil
	}
	return &storage.Prompt{
		Name:    storage.PromptConsent,
		Reasons: reasons,
		Details: storage.PromptDetails{MissingOIDCScope: missing},
	}
}

// parseMaxAge returns max_age as a duration, or -1 when absent or invalid.
func parseMaxAge(form url.Values) time.Duration {
	if !form.Has("max_age") {
		return -1
	}
	seconds, err := strconv.ParseInt(form.Get("max_age"), 10, 64)
	if err != nil || seconds < 0 {
		return -1
	}
	return time.Duration(seconds) * time.Second
}

// replayRequest rebuilds the original authorization request from params.
func replayRequest(req *http.Request, params url.Values) *http.Request {
	r := req.Clone(req.Context())
	r.Method = http.MethodGet
	r.URL = &url.URL{Path: req.URL.Path, RawQuery: params.Encode()}
	r.RequestURI = ""
	r.Body = http.NoBody
	r.ContentLength = 0
	r.Header.Del("Content-Type")
	r.Form = nil
	r.PostForm = nil
	r.MultipartForm = nil
	return r
}

func cloneValues(v url.Values) url.Values {
	if v == nil {
		return nil
	}
	c := make(url.Values, len(v))
	for k, vs := range v {
		c[k] = slices.Clone(vs)
	}
	return c
}

// writeInteractionError renders errors from the interaction layer, which
// happen before there is a validated client to redirect to.
func writeInteractionError(w http.ResponseWriter, err error) {
	if derrors.IsBadRequest(err) {
		logger.Debugw("invalid interaction request", "error", err.Error())
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	logger.Errorw("interaction failed", "error", err.Error())
	http.Error(w, "internal server error", http.StatusInternalServerError)
}
