// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/google/uuid"

	"github.com/TastyPi/discord-oidc/pkg/authserver/storage"
	derrors "github.com/TastyPi/discord-oidc/pkg/errors"
	"github.com/TastyPi/discord-oidc/pkg/logger"
)

// Cookie names.
const (
	InteractionCookie = "_interaction"
	ResumeCookie      = "_interaction_resume"
	SessionCookie     = "_session"
)

// InteractionStore is the persistence the interaction layer needs.
type InteractionStore interface {
	storage.InteractionStorage
	storage.SessionStorage
	storage.GrantStorage
}

// InteractionDetails is what the bridge sees of a pending interaction.
type InteractionDetails struct {
	UID    string
	Prompt storage.Prompt

	// Params are the original authorize request parameters.
	Params url.Values

	ClientID string

	// AccountID is the logged in account, empty when there is no session.
	AccountID string

	// GrantID is the client's existing grant in the session, if any.
	GrantID string

	LastSubmission *storage.InteractionResult
}

// FinishOptions controls InteractionFinished.
type FinishOptions struct {
	// MergeWithLastSubmission overlays the result onto the result of the
	// previous interaction of the same authorization request.
	MergeWithLastSubmission bool
}

// Interactions tracks login and consent interactions, end-user sessions and
// consent grants, and the cookies that bind them to a browser.
type Interactions struct {
	store    InteractionStore
	issuer   string
	basePath string
	secure   bool

	interactionTTL time.Duration
	sessionTTL     time.Duration
	grantTTL       time.Duration
}

// NewInteractions creates the interaction layer for issuer.
func NewInteractions(store InteractionStore, issuer string) (*Interactions, error) {
	u, err := url.Parse(issuer)
	if err != nil {
		return nil, fmt.Errorf("invalid issuer: %w", err)
	}
	return &Interactions{
		store:          store,
		issuer:         issuer,
		basePath:       u.Path,
		secure:         u.Scheme == "https",
		interactionTTL: storage.DefaultInteractionTTL,
		sessionTTL:     storage.DefaultSessionTTL,
		grantTTL:       storage.DefaultGrantTTL,
	}, nil
}

// BasePath is the path component of the issuer, "" for a bare origin.
func (i *Interactions) BasePath() string {
	return i.basePath
}

func (i *Interactions) interactionPath(uid string) string {
	return i.basePath + "/interaction/" + uid
}

func (i *Interactions) resumePath(uid string) string {
	return i.basePath + "/auth/" + uid
}

// Start persists a new interaction, binds it to the browser and redirects
// the user agent to the bridge.
func (i *Interactions) Start(w http.ResponseWriter, r *http.Request, in *storage.Interaction) error {
	now := time.Now()
	if in.UID == "" {
		in.UID = uuid.NewString()
	}
	if in.CreatedAt.IsZero() {
		in.CreatedAt = now
	}
	in.ExpiresAt = now.Add(i.interactionTTL)

	if err := i.store.SaveInteraction(r.Context(), in); err != nil {
		return fmt.Errorf("failed to save interaction: %w", err)
	}

	i.setCookie(w, InteractionCookie, in.UID, i.interactionPath(in.UID), i.interactionTTL)
	logger.Debugw("interaction started",
		"uid", in.UID,
		"prompt", in.Prompt.Name,
		"reasons", in.Prompt.Reasons,
		"client_id", in.ClientID,
	)
	http.Redirect(w, r, i.issuer+"/interaction/"+in.UID, http.StatusSeeOther)
	return nil
}

// Details returns the pending interaction uid. The request must carry the
// interaction cookie issued for that uid.
func (i *Interactions) Details(r *http.Request, uid string) (*InteractionDetails, error) {
	in, err := i.load(r, InteractionCookie, uid)
	if err != nil {
		return nil, err
	}

	details := &InteractionDetails{
		UID:            in.UID,
		Prompt:         in.Prompt,
		Params:         in.Params,
		ClientID:       in.ClientID,
		AccountID:      in.AccountID,
		LastSubmission: in.LastSubmission,
	}
	if in.SessionID != "" {
		if sess, err := i.store.GetSession(r.Context(), in.SessionID); err == nil {
			details.GrantID = sess.Grants[in.ClientID]
		}
	}
	return details, nil
}

// Finished records result for interaction uid and redirects the user agent
// back to the authorization endpoint to resume the request.
func (i *Interactions) Finished(
	w http.ResponseWriter, r *http.Request, uid string, result *storage.InteractionResult, opts FinishOptions,
) error {
	in, err := i.load(r, InteractionCookie, uid)
	if err != nil {
		return err
	}

	res := result.Clone()
	if opts.MergeWithLastSubmission {
		res = in.LastSubmission.Merge(res)
	}
	if res == nil {
		res = &storage.InteractionResult{}
	}
	if res.Login != nil && res.Login.AuthTime.IsZero() {
		res.Login.AuthTime = time.Now()
	}
	in.Result = res

	if err := i.store.SaveInteraction(r.Context(), in); err != nil {
		return fmt.Errorf("failed to save interaction result: %w", err)
	}

	i.setCookie(w, ResumeCookie, uid, i.resumePath(uid), time.Until(in.ExpiresAt))
	logger.Debugw("interaction finished",
		"uid", uid,
		"login", res.Login != nil,
		"consent", res.Consent != nil,
	)
	http.Redirect(w, r, i.issuer+"/auth/"+uid, http.StatusSeeOther)
	return nil
}

// Resume returns the finished interaction uid. The request must carry the
// resume cookie issued by Finished.
func (i *Interactions) Resume(r *http.Request, uid string) (*storage.Interaction, error) {
	in, err := i.load(r, ResumeCookie, uid)
	if err != nil {
		return nil, err
	}
	if in.Result == nil {
		return nil, derrors.NewBadRequestError("interaction has not finished", nil)
	}
	return in, nil
}

// Consume deletes interaction uid and clears its cookies.
func (i *Interactions) Consume(ctx context.Context, w http.ResponseWriter, uid string) error {
	if err := i.store.DeleteInteraction(ctx, uid); err != nil {
		return fmt.Errorf("failed to delete interaction: %w", err)
	}
	i.clearCookie(w, InteractionCookie, i.interactionPath(uid))
	i.clearCookie(w, ResumeCookie, i.resumePath(uid))
	return nil
}

func (i *Interactions) load(r *http.Request, cookieName, uid string) (*storage.Interaction, error) {
	cookie, err := r.Cookie(cookieName)
	if err != nil || cookie.Value == "" {
		return nil, derrors.NewBadRequestError("interaction session not found", err)
	}
	if cookie.Value != uid {
		return nil, derrors.NewBadRequestError("interaction session and uid mismatch", nil)
	}

	in, err := i.store.GetInteraction(r.Context(), uid)
	switch {
	case errors.Is(err, storage.ErrNotFound), errors.Is(err, storage.ErrExpired):
		return nil, derrors.NewBadRequestError("interaction expired or not found", err)
	case err != nil:
		return nil, fmt.Errorf("failed to load interaction: %w", err)
	}
	return in, nil
}

// CurrentSession returns the end-user session bound to the request, or nil
// when there is none or it has expired.
func (i *Interactions) CurrentSession(r *http.Request) (*storage.EndUserSession, error) {
	cookie, err := r.Cookie(SessionCookie)
	if err != nil || cookie.Value == "" {
		return nil, nil
	}

	sess, err := i.store.GetSession(r.Context(), cookie.Value)
	switch {
	case errors.Is(err, storage.ErrNotFound), errors.Is(err, storage.ErrExpired):
		return nil, nil
	case err != nil:
		return nil, fmt.Errorf("failed to load session: %w", err)
	}
	return sess, nil
}

// Login records a successful login. The existing session is reused when it
// belongs to the same account; otherwise a new session replaces it.
func (i *Interactions) Login(
	w http.ResponseWriter, r *http.Request, current *storage.EndUserSession, login *storage.LoginResult,
) (*storage.EndUserSession, error) {
	sess := current
	if sess == nil || sess.AccountID != login.AccountID {
		sess = &storage.EndUserSession{
			ID:        uuid.NewString(),
			AccountID: login.AccountID,
			Grants:    map[string]string{},
		}
	}
	sess.AuthTime = login.AuthTime

	if err := i.SaveSession(w, r, sess); err != nil {
		return nil, err
	}
	if current != nil && current.ID != sess.ID {
		if err := i.store.DeleteSession(r.Context(), current.ID); err != nil {
			logger.Warnw("failed to delete replaced session", "error", err.Error())
		}
	}
	return sess, nil
}

// SaveSession persists sess, extends its lifetime and refreshes the cookie.
func (i *Interactions) SaveSession(w http.ResponseWriter, r *http.Request, sess *storage.EndUserSession) error {
	sess.ExpiresAt = time.Now().Add(i.sessionTTL)
	if sess.Grants == nil {
		sess.Grants = map[string]string{}
	}
	if err := i.store.SaveSession(r.Context(), sess); err != nil {
		return fmt.Errorf("failed to save session: %w", err)
	}
	i.setCookie(w, SessionCookie, sess.ID, "/", i.sessionTTL)
	return nil
}

// NewGrant returns an unsaved grant for accountID and clientID.
func (i *Interactions) NewGrant(accountID, clientID string) *Grant {
	return &Grant{
		store: i.store,
		ttl:   i.grantTTL,
		grant: &storage.Grant{AccountID: accountID, ClientID: clientID},
	}
}

// LoadGrant returns the saved grant id.
func (i *Interactions) LoadGrant(ctx context.Context, id string) (*Grant, error) {
	g, err := i.store.GetGrant(ctx, id)
	if err != nil {
		return nil, err
	}
	return &Grant{store: i.store, ttl: i.grantTTL, grant: g}, nil
}

// SessionGrant returns the grant sess holds for clientID, or nil.
func (i *Interactions) SessionGrant(ctx context.Context, sess *storage.EndUserSession, clientID string) (*storage.Grant, error) {
	if sess == nil {
		return nil, nil
	}
	id, ok := sess.Grants[clientID]
	if !ok {
		return nil, nil
	}

	g, err := i.store.GetGrant(ctx, id)
	switch {
	case errors.Is(err, storage.ErrNotFound), errors.Is(err, storage.ErrExpired):
		return nil, nil
	case err != nil:
		return nil, fmt.Errorf("failed to load grant: %w", err)
	}
	if g.AccountID != sess.AccountID || g.ClientID != clientID {
		return nil, nil
	}
	return g, nil
}

// AttachGrant makes grantID the grant sess holds for clientID. The grant
// must have been issued to the session's account for that client.
func (i *Interactions) AttachGrant(
	w http.ResponseWriter, r *http.Request, sess *storage.EndUserSession, clientID, grantID string,
) error {
	g, err := i.store.GetGrant(r.Context(), grantID)
	switch {
	case errors.Is(err, storage.ErrNotFound), errors.Is(err, storage.ErrExpired):
		return derrors.NewBadRequestError("grant expired or not found", err)
	case err != nil:
		return fmt.Errorf("failed to load grant: %w", err)
	}
	if g.AccountID != sess.AccountID || g.ClientID != clientID {
		return derrors.NewBadRequestError("grant does not belong to this session", nil)
	}

	if sess.Grants == nil {
		sess.Grants = map[string]string{}
	}
	sess.Grants[clientID] = grantID
	return i.SaveSession(w, r, sess)
}

func (i *Interactions) setCookie(w http.ResponseWriter, name, value, path string, maxAge time.Duration) {
	http.SetCookie(w, &http.Cookie{
		Name:     name,
		Value:    value,
		Path:     path,
		MaxAge:   int(maxAge.Seconds()),
		HttpOnly: true,
		Secure:   i.secure,
		SameSite: http.SameSiteLaxMode,
	})
}

func (i *Interactions) clearCookie(w http.ResponseWriter, name, path string) {
	http.SetCookie(w, &http.Cookie{
		Name:     name,
		Value:    "",
		Path:     path,
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   i.secure,
		SameSite: http.SameSiteLaxMode,
	})
}

// Grant is a consent grant being built by the bridge.
type Grant struct {
	store storage.GrantStorage
	ttl   time.Duration
	grant *storage.Grant
}

// AddOIDCScope adds scope to the grant.
func (g *Grant) AddOIDCScope(scope string) {
	g.grant.AddOIDCScope(scope)
}

// OIDCScopes returns the granted scopes.
func (g *Grant) OIDCScopes() []string {
	return g.grant.Clone().OIDCScopes
}

// Save persists the grant and returns its id.
func (g *Grant) Save(ctx context.Context) (string, error) {
	if g.grant.ID == "" {
		g.grant.ID = uuid.NewString()
	}
	g.grant.ExpiresAt = time.Now().Add(g.ttl)
	if err := g.store.SaveGrant(ctx, g.grant); err != nil {
		return "", fmt.Errorf("failed to save grant: %w", err)
	}
	return g.grant.ID, nil
}
