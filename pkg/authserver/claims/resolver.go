// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package claims

//go:generate mockgen -destination=mocks/mock_provider.go -package=mocks -source=resolver.go AccountClaimsProvider

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/TastyPi/discord-oidc/pkg/authserver/storage"
	"github.com/TastyPi/discord-oidc/pkg/authserver/upstream"
	"github.com/TastyPi/discord-oidc/pkg/logger"
)

// AccountClaimsProvider produces the claims of an account for a scope string.
// The OIDC engine calls it when it needs claims, e.g. at the userinfo endpoint.
type AccountClaimsProvider interface {
	// Claims returns the claims for subject. use is "userinfo" or "id_token".
	// The result always contains sub.
	Claims(ctx context.Context, subject, use, scope string) (map[string]any, error)
}

// Resolver turns a scope string and a Discord access token into claims.
type Resolver struct {
	registry *Registry
	discord  upstream.Discord
}

// NewResolver creates a resolver over registry.
func NewResolver(registry *Registry, discord upstream.Discord) *Resolver {
	return &Resolver{registry: registry, discord: discord}
}

// Resolve splits scope on whitespace, ignores unknown scopes and runs the
// resolver of each recognized scope concurrently. Results are merged in the
// order the scopes appear in the string, later scopes winning on collision.
// An empty accessToken resolves to an empty map without calling Discord.
// The first resolver error is returned as is.
func (r *Resolver) Resolve(ctx context.Context, scope, accessToken string) (map[string]any, error) {
	claims := map[string]any{}
	if accessToken == "" {
		return claims, nil
	}

	var entries []Scope
	seen := map[string]bool{}
	for _, name := range strings.Fields(scope) {
		if seen[name] {
			continue
		}
		seen[name] = true
		if s, ok := r.registry.Lookup(name); ok {
			entries = append(entries, s)
		}
	}
	if len(entries) == 0 {
		return claims, nil
	}

	results := make([]map[string]any, len(entries))
	g, gctx := errgroup.WithContext(ctx)
	for i, s := range entries {
		g.Go(func() error {
			res, err := s.Resolve(gctx, r.discord, accessToken)
			if err != nil {
				return fmt.Errorf("failed to resolve %s claims: %w", s.Name, err)
			}
			results[i] = res
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	for _, res := range results {
		maps.Copy(claims, res)
	}
	return claims, nil
}

// Provider implements AccountClaimsProvider with the upstream token store.
type Provider struct {
	resolver *Resolver
	tokens   storage.UpstreamTokenStorage
}

// NewProvider creates a Provider.
func NewProvider(resolver *Resolver, tokens storage.UpstreamTokenStorage) *Provider {
	return &Provider{resolver: resolver, tokens: tokens}
}

// Claims looks up the subject's Discord token and resolves scope with it.
// A subject without a stored token gets only sub.
func (p *Provider) Claims(ctx context.Context, subject, use, scope string) (map[string]any, error) {
	token, err := p.tokens.GetUpstreamToken(ctx, subject)
	switch {
	case errors.Is(err, storage.ErrNotFound):
		logger.Debugw("no upstream token for subject, returning sub only", "use", use)
		token = ""
	case err != nil:
		return nil, fmt.Errorf("failed to load upstream token: %w", err)
	}

	claims, err := p.resolver.Resolve(ctx, scope, token)
	if err != nil {
		logger.Errorw("claims resolution failed", "use", use, "scope", scope, "error", err.Error())
		return nil, err
	}
	claims[ClaimSubject] = subject
	return claims, nil
}

var _ AccountClaimsProvider = (*Provider)(nil)
