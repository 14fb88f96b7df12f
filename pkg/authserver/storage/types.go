// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package storage provides storage interfaces and implementations for the
// OIDC bridge: fosite protocol state, login interactions, end-user sessions,
// consent grants and the upstream Discord access tokens.
package storage

//go:generate mockgen -destination=mocks/mock_upstream_token_storage.go -package=mocks github.com/TastyPi/discord-oidc/pkg/authserver/storage UpstreamTokenStorage

import (
	"context"
	"errors"
	"net/url"
	"slices"
	"time"

	"github.com/ory/fosite"
	"github.com/ory/fosite/handler/oauth2"
	"github.com/ory/fosite/handler/openid"
	"github.com/ory/fosite/handler/pkce"
)

var (
	// ErrNotFound is returned when a record does not exist.
	ErrNotFound = errors.New("storage: not found")

	// ErrExpired is returned when a record exists but its lifetime has passed.
	ErrExpired = errors.New("storage: expired")
)

// Prompt names an interaction is waiting on.
const (
	PromptLogin   = "login"
	PromptConsent = "consent"
)

// Interaction is one in-progress authorization request that needs the end
// user before the engine can issue a code.
type Interaction struct {
	// UID is the opaque identifier used in /interaction/{uid} and /auth/{uid}.
	UID string

	// Prompt is what the interaction is waiting for.
	Prompt Prompt

	// Params are the original authorize request parameters, replayed on resume.
	Params url.Values

	// ClientID is the relying party that started the flow.
	ClientID string

	// SessionID and AccountID describe the end-user session, if any, at the
	// time the interaction was created.
	SessionID string
	AccountID string

	// LastSubmission is the result of the previous interaction in the same
	// authorization request, used when a result is merged.
	LastSubmission *InteractionResult

	// Result is set by InteractionFinished and consumed on resume.
	Result *InteractionResult

	CreatedAt time.Time
	ExpiresAt time.Time
}

// Prompt describes why an interaction is required.
type Prompt struct {
	// Name is PromptLogin or PromptConsent.
	Name string

	// Reasons are machine readable causes, e.g. "no_session" or "op_scopes_missing".
	Reasons []string

	Details PromptDetails
}

// PromptDetails carries prompt specific data.
type PromptDetails struct {
	// MissingOIDCScope lists requested scopes the client has no grant for.
	MissingOIDCScope []string
}

// InteractionResult is what the bridge reports back to the engine.
type InteractionResult struct {
	Login   *LoginResult
	Consent *ConsentResult
}

// LoginResult identifies the authenticated account.
type LoginResult struct {
	AccountID string
	AuthTime  time.Time
}

// ConsentResult references a saved Grant.
type ConsentResult struct {
	GrantID string
}

// Clone returns a deep copy of the interaction.
func (i *Interaction) Clone() *Interaction {
	if i == nil {
		return nil
	}
	c := *i
	c.Params = cloneValues(i.Params)
	c.Prompt.Reasons = slices.Clone(i.Prompt.Reasons)
	c.Prompt.Details.MissingOIDCScope = slices.Clone(i.Prompt.Details.MissingOIDCScope)
	c.LastSubmission = i.LastSubmission.Clone()
	c.Result = i.Result.Clone()
	return &c
}

// Clone returns a deep copy of the result.
func (r *InteractionResult) Clone() *InteractionResult {
	if r == nil {
		return nil
	}
	c := &InteractionResult{}
	if r.Login != nil {
		login := *r.Login
		c.Login = &login
	}
	if r.Consent != nil {
		consent := *r.Consent
		c.Consent = &consent
	}
	return c
}

// Merge overlays other onto r and returns the combined result.
// Fields that are nil in other keep their value from r.
func (r *InteractionResult) Merge(other *InteractionResult) *InteractionResult {
	merged := r.Clone()
	if merged == nil {
		return other.Clone()
	}
	if other == nil {
		return merged
	}
	o := other.Clone()
	if o.Login != nil {
		merged.Login = o.Login
	}
	if o.Consent != nil {
		merged.Consent = o.Consent
	}
	return merged
}

// Grant records the scopes an account consented to for one client.
type Grant struct {
	ID         string
	AccountID  string
	ClientID   string
	OIDCScopes []string
	ExpiresAt  time.Time
}

// AddOIDCScope adds scope to the grant unless it is already present.
func (g *Grant) AddOIDCScope(scope string) {
	if !slices.Contains(g.OIDCScopes, scope) {
		g.OIDCScopes = append(g.OIDCScopes, scope)
	}
}

// HasOIDCScope reports whether scope has been granted.
func (g *Grant) HasOIDCScope(scope string) bool {
	return slices.Contains(g.OIDCScopes, scope)
}

// Clone returns a deep copy of the grant.
func (g *Grant) Clone() *Grant {
	if g == nil {
		return nil
	}
	c := *g
	c.OIDCScopes = slices.Clone(g.OIDCScopes)
	return &c
}

// EndUserSession is the browser session of an authenticated end user.
type EndUserSession struct {
	ID        string
	AccountID string
	AuthTime  time.Time

	// Grants maps client_id to the id of the grant saved for that client.
	Grants map[string]string

	ExpiresAt time.Time
}

// Clone returns a deep copy of the session.
func (s *EndUserSession) Clone() *EndUserSession {
	if s == nil {
		return nil
	}
	c := *s
	c.Grants = make(map[string]string, len(s.Grants))
	for k, v := range s.Grants {
		c.Grants[k] = v
	}
	return &c
}

// Storage combines the fosite storage interfaces with the engine's own
// interaction, session and grant persistence.
type Storage interface {
	fosite.ClientManager
	oauth2.AuthorizeCodeStorage
	oauth2.AccessTokenStorage
	oauth2.RefreshTokenStorage
	oauth2.TokenRevocationStorage
	pkce.PKCERequestStorage
	openid.OpenIDConnectRequestStorage

	InteractionStorage
	SessionStorage
	GrantStorage

	// RegisterClient adds or replaces a relying party.
	RegisterClient(ctx context.Context, client fosite.Client) error

	// Close releases background resources.
	Close() error
}

// InteractionStorage persists login and consent interactions.
type InteractionStorage interface {
	// SaveInteraction creates or replaces the interaction with the same UID.
	SaveInteraction(ctx context.Context, interaction *Interaction) error

	// GetInteraction returns ErrNotFound for unknown and ErrExpired for stale UIDs.
	GetInteraction(ctx context.Context, uid string) (*Interaction, error)

	// DeleteInteraction consumes the interaction. Deleting an unknown UID is not an error.
	DeleteInteraction(ctx context.Context, uid string) error
}

// SessionStorage persists end-user sessions.
type SessionStorage interface {
	SaveSession(ctx context.Context, session *EndUserSession) error
	GetSession(ctx context.Context, id string) (*EndUserSession, error)
	DeleteSession(ctx context.Context, id string) error
}

// GrantStorage persists consent grants.
type GrantStorage interface {
	SaveGrant(ctx context.Context, grant *Grant) error
	GetGrant(ctx context.Context, id string) (*Grant, error)
}

// UpstreamTokenStorage associates a subject (the Discord user id) with the
// most recently obtained Discord access token. Set always overwrites.
type UpstreamTokenStorage interface {
	// GetUpstreamToken returns ErrNotFound when the subject never logged in
	// or its token has expired from the store.
	GetUpstreamToken(ctx context.Context, subject string) (string, error)

	// SetUpstreamToken stores token for subject, replacing any previous value.
	SetUpstreamToken(ctx context.Context, subject, token string) error

	// Close releases the backend connection.
	Close() error
}

func cloneValues(v url.Values) url.Values {
	if v == nil {
		return nil
	}
	c := make(url.Values, len(v))
	for k, vals := range v {
		c[k] = slices.Clone(vals)
	}
	return c
}
