// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package claims maps OIDC scopes to claims about a Discord user.
//
// A Registry is built once at startup and lists every scope the bridge
// understands, the claim names each scope owns, the Discord scopes it needs
// and the function that resolves its claims. The Resolver fans out to the
// resolvers of the requested scopes concurrently and merges their results.
package claims

import (
	"context"
	"errors"
	"fmt"
	"slices"

	"github.com/TastyPi/discord-oidc/pkg/authserver/upstream"
)

// ScopeOpenID identifies the subject and contributes no claims.
const ScopeOpenID = "openid"

// Scopes provided by DefaultRegistry.
const (
	ScopeProfile = "profile"
	ScopeGroups  = "groups"
)

// Claim names provided by DefaultRegistry.
const (
	ClaimSubject           = "sub"
	ClaimLocale            = "locale"
	ClaimNickname          = "nickname"
	ClaimPicture           = "picture"
	ClaimPreferredUsername = "preferred_username"
	ClaimGroups            = "groups"
)

// ResolveFunc produces the claims of one scope from a Discord access token.
// Claims that have no value are left out of the result.
type ResolveFunc func(ctx context.Context, discord upstream.Discord, accessToken string) (map[string]any, error)

// Scope is one registry entry.
type Scope struct {
	// Name is the OIDC scope value, e.g. "profile".
	Name string

	// Claims are the claim names this scope owns. No two scopes share a claim.
	Claims []string

	// UpstreamScopes are the Discord OAuth2 scopes Resolve needs beyond identify.
	UpstreamScopes []string

	Resolve ResolveFunc
}

// Registry is a closed set of scopes. It is safe for concurrent reads.
type Registry struct {
	scopes map[string]Scope
	order  []string
}

// NewRegistry builds a registry. Scope names must be unique, must not be
// "openid", and claim names must not be owned by more than one scope.
func NewRegistry(scopes ...Scope) (*Registry, error) {
	r := &Registry{scopes: make(map[string]Scope, len(scopes))}
	owners := map[string]string{ClaimSubject: ScopeOpenID}

	for _, s := range scopes {
		switch {
		case s.Name == "":
			return nil, errors.New("scope name is required")
		case s.Name == ScopeOpenID:
			return nil, errors.New("openid is implicit and cannot be registered")
		case s.Resolve == nil:
			return nil, fmt.Errorf("scope %q has no resolver", s.Name)
		}
		if _, dup := r.scopes[s.Name]; dup {
			return nil, fmt.Errorf("scope %q registered twice", s.Name)
		}
		for _, claim := range s.Claims {
			if owner, taken := owners[claim]; taken {
				return nil, fmt.Errorf("claim %q of scope %q is already owned by %q", claim, s.Name, owner)
			}
			owners[claim] = s.Name
		}
		s.Claims = slices.Clone(s.Claims)
		s.UpstreamScopes = slices.Clone(s.UpstreamScopes)
		r.scopes[s.Name] = s
		r.order = append(r.order, s.Name)
	}
	return r, nil
}

// DefaultRegistry returns the profile and groups scopes backed by Discord.
func DefaultRegistry() *Registry {
	r, err := NewRegistry(
		Scope{
			Name:    ScopeProfile,
			Claims:  []string{ClaimLocale, ClaimNickname, ClaimPicture, ClaimPreferredUsername},
			Resolve: resolveProfile,
		},
		Scope{
			Name:           ScopeGroups,
			Claims:         []string{ClaimGroups},
			UpstreamScopes: []string{upstream.ScopeGuilds},
			Resolve:        resolveGroups,
		},
	)
	if err != nil {
		panic(fmt.Sprintf("invalid default claims registry: %v", err))
	}
	return r
}

// Lookup returns the entry for a scope.
func (r *Registry) Lookup(name string) (Scope, bool) {
	s, ok := r.scopes[name]
	return s, ok
}

// Recognized reports whether scope is openid or a registered scope.
func (r *Registry) Recognized(scope string) bool {
	if scope == ScopeOpenID {
		return true
	}
	_, ok := r.scopes[scope]
	return ok
}

// Scopes returns every supported scope, openid first, then in registration order.
func (r *Registry) Scopes() []string {
	return append([]string{ScopeOpenID}, r.order...)
}

// ClaimNames returns sub followed by every registered claim name.
func (r *Registry) ClaimNames() []string {
	names := []string{ClaimSubject}
	for _, name := range r.order {
		names = append(names, r.scopes[name].Claims...)
	}
	return names
}

// ClaimsByScope returns the scope to claim names mapping.
func (r *Registry) ClaimsByScope() map[string][]string {
	m := map[string][]string{ScopeOpenID: {ClaimSubject}}
	for name, s := range r.scopes {
		m[name] = slices.Clone(s.Claims)
	}
	return m
}

// UpstreamScopes returns the Discord scopes to request at login: openid and
// identify, plus whatever the registered scopes need.
func (r *Registry) UpstreamScopes() []string {
	scopes := []string{upstream.ScopeOpenID, upstream.ScopeIdentify}
	for _, name := range r.order {
		for _, us := range r.scopes[name].UpstreamScopes {
			if !slices.Contains(scopes, us) {
				scopes = append(scopes, us)
			}
		}
	}
	return scopes
}

func resolveProfile(ctx context.Context, discord upstream.Discord, accessToken string) (map[string]any, error) {
	user, err := discord.FetchUser(ctx, accessToken)
	if err != nil {
		return nil, err
	}

	claims := map[string]any{
		ClaimPreferredUsername: user.Username,
	}
	if user.Locale != "" {
		claims[ClaimLocale] = user.Locale
	}
	if user.GlobalName != nil {
		claims[ClaimNickname] = *user.GlobalName
	}
	if picture := user.AvatarURL(); picture != "" {
		claims[ClaimPicture] = picture
	}
	return claims, nil
}

func resolveGroups(ctx context.Context, discord upstream.Discord, accessToken string) (map[string]any, error) {
	guilds, err := discord.FetchGuilds(ctx, accessToken)
	if err != nil {
		return nil, err
	}
	return map[string]any{ClaimGroups: guilds}, nil
}
