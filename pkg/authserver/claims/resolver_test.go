// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package claims

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"github.com/TastyPi/discord-oidc/pkg/authserver/storage"
	storagemocks "github.com/TastyPi/discord-oidc/pkg/authserver/storage/mocks"
	"github.com/TastyPi/discord-oidc/pkg/authserver/upstream"
	upstreammocks "github.com/TastyPi/discord-oidc/pkg/authserver/upstream/mocks"
	oidcerrors "github.com/TastyPi/discord-oidc/pkg/errors"
)

func ptr[T any](v T) *T { return &v }

func testUser() *upstream.User {
	return &upstream.User{
		ID:         "80351110224678912",
		Username:   "nelly",
		GlobalName: ptr("Nelly"),
		Avatar:     ptr("8342729096ea3675442027381ff50dfe"),
		Locale:     "en-GB",
	}
}

func TestResolver_Resolve(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		scope string
		setup func(m *upstreammocks.MockDiscordMockRecorder)
		want  map[string]any
	}{
		{
			name:  "openid only",
			scope: "openid",
			setup: func(*upstreammocks.MockDiscordMockRecorder) {},
			want:  map[string]any{},
		},
		{
			name:  "profile",
			scope: "openid profile",
			setup: func(m *upstreammocks.MockDiscordMockRecorder) {
				m.FetchUser(gomock.Any(), "tok").Return(testUser(), nil)
			},
			want: map[string]any{
				"locale":             "en-GB",
				"nickname":           "Nelly",
				"picture":            "https://cdn.discordapp.com/avatars/80351110224678912/8342729096ea3675442027381ff50dfe",
				"preferred_username": "nelly",
			},
		},
		{
			name:  "profile without optional fields",
			scope: "profile",
			setup: func(m *upstreammocks.MockDiscordMockRecorder) {
				m.FetchUser(gomock.Any(), "tok").Return(&upstream.User{ID: "1", Username: "u"}, nil)
			},
			want: map[string]any{"preferred_username": "u"},
		},
		{
			name:  "groups order preserved",
			scope: "openid groups",
			setup: func(m *upstreammocks.MockDiscordMockRecorder) {
				m.FetchGuilds(gomock.Any(), "tok").Return([]string{"g1", "g2"}, nil)
			},
			want: map[string]any{"groups": []string{"g1", "g2"}},
		},
		{
			name:  "unknown scopes ignored",
			scope: "openid email offline_access  groups",
			setup: func(m *upstreammocks.MockDiscordMockRecorder) {
				m.FetchGuilds(gomock.Any(), "tok").Return([]string{}, nil)
			},
			want: map[string]any{"groups": []string{}},
		},
		{
			name:  "repeated scope resolved once",
			scope: "groups groups",
			setup: func(m *upstreammocks.MockDiscordMockRecorder) {
				m.FetchGuilds(gomock.Any(), "tok").Return([]string{"g"}, nil).Times(1)
			},
			want: map[string]any{"groups": []string{"g"}},
		},
		{
			name:  "everything",
			scope: "groups profile openid",
			setup: func(m *upstreammocks.MockDiscordMockRecorder) {
				m.FetchUser(gomock.Any(), "tok").Return(&upstream.User{ID: "1", Username: "u"}, nil)
				m.FetchGuilds(gomock.Any(), "tok").Return([]string{"g"}, nil)
			},
			want: map[string]any{"preferred_username": "u", "groups": []string{"g"}},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			ctrl := gomock.NewController(t)
			discord := upstreammocks.NewMockDiscord(ctrl)
			tt.setup(discord.EXPECT())

			got, err := NewResolver(DefaultRegistry(), discord).Resolve(context.Background(), tt.scope, "tok")
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestResolver_NoTokenMakesNoCalls(t *testing.T) {
	t.Parallel()
	ctrl := gomock.NewController(t)
	discord := upstreammocks.NewMockDiscord(ctrl)

	got, err := NewResolver(DefaultRegistry(), discord).Resolve(context.Background(), "openid profile groups", "")
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestResolver_ErrorPropagates(t *testing.T) {
	t.Parallel()
	ctrl := gomock.NewController(t)
	discord := upstreammocks.NewMockDiscord(ctrl)

	lookupErr := oidcerrors.NewUpstreamLookupFailedError("discord guild lookup failed", errors.New("boom"))
	discord.EXPECT().FetchGuilds(gomock.Any(), "tok").Return(nil, lookupErr)
	discord.EXPECT().FetchUser(gomock.Any(), "tok").Return(testUser(), nil).AnyTimes()

	_, err := NewResolver(DefaultRegistry(), discord).Resolve(context.Background(), "profile groups", "tok")
	require.Error(t, err)
	assert.True(t, oidcerrors.IsUpstreamLookupFailed(err))
	assert.Contains(t, err.Error(), "groups")
}

func TestResolver_MergeOrderFollowsScopeString(t *testing.T) {
	t.Parallel()

	value := func(v string) ResolveFunc {
		return func(context.Context, upstream.Discord, string) (map[string]any, error) {
			return map[string]any{"shared": v}, nil
		}
	}
	// NewRegistry rejects shared claim names, so the collision only
	// happens at resolve time.
	r, err := NewRegistry(
		Scope{Name: "a", Resolve: value("a")},
		Scope{Name: "b", Resolve: value("b")},
	)
	require.NoError(t, err)
	resolver := NewResolver(r, nil)

	got, err := resolver.Resolve(context.Background(), "a b", "tok")
	require.NoError(t, err)
	assert.Equal(t, "b", got["shared"])

	got, err = resolver.Resolve(context.Background(), "b a", "tok")
	require.NoError(t, err)
	assert.Equal(t, "a", got["shared"])
}

func TestResolver_KeysOnlyFromRequestedScopes(t *testing.T) {
	t.Parallel()

	registry := DefaultRegistry()
	owned := registry.ClaimsByScope()
	candidates := []string{"openid", "profile", "groups", "email", "phone"}

	for mask := range 1 << len(candidates) {
		var scopes []string
		for i, s := range candidates {
			if mask&(1<<i) != 0 {
				scopes = append(scopes, s)
			}
		}
		scope := strings.Join(scopes, " ")

		t.Run(fmt.Sprintf("scope=%q", scope), func(t *testing.T) {
			t.Parallel()
			ctrl := gomock.NewController(t)
			discord := upstreammocks.NewMockDiscord(ctrl)
			discord.EXPECT().FetchUser(gomock.Any(), gomock.Any()).Return(testUser(), nil).AnyTimes()
			discord.EXPECT().FetchGuilds(gomock.Any(), gomock.Any()).Return([]string{"g"}, nil).AnyTimes()

			got, err := NewResolver(registry, discord).Resolve(context.Background(), scope, "tok")
			require.NoError(t, err)

			allowed := map[string]bool{}
			for _, s := range scopes {
				for _, c := range owned[s] {
					allowed[c] = true
				}
			}
			for k := range got {
				assert.True(t, allowed[k], "claim %q not owned by any requested scope", k)
			}
		})
	}
}

func TestProvider_Claims(t *testing.T) {
	t.Parallel()

	t.Run("resolves with stored token", func(t *testing.T) {
		t.Parallel()
		ctrl := gomock.NewController(t)
		discord := upstreammocks.NewMockDiscord(ctrl)
		tokens := storagemocks.NewMockUpstreamTokenStorage(ctrl)

		tokens.EXPECT().GetUpstreamToken(gomock.Any(), "U").Return("discord-token", nil)
		discord.EXPECT().FetchGuilds(gomock.Any(), "discord-token").Return([]string{"g1", "g2"}, nil)

		p := NewProvider(NewResolver(DefaultRegistry(), discord), tokens)
		got, err := p.Claims(context.Background(), "U", "userinfo", "openid groups")
		require.NoError(t, err)
		assert.Equal(t, map[string]any{"sub": "U", "groups": []string{"g1", "g2"}}, got)
	})

	t.Run("unknown subject gets sub only", func(t *testing.T) {
		t.Parallel()
		ctrl := gomock.NewController(t)
		discord := upstreammocks.NewMockDiscord(ctrl)
		tokens := storagemocks.NewMockUpstreamTokenStorage(ctrl)

		tokens.EXPECT().GetUpstreamToken(gomock.Any(), "U").Return("", fmt.Errorf("%w: upstream token", storage.ErrNotFound))

		p := NewProvider(NewResolver(DefaultRegistry(), discord), tokens)
		got, err := p.Claims(context.Background(), "U", "userinfo", "openid profile groups")
		require.NoError(t, err)
		assert.Equal(t, map[string]any{"sub": "U"}, got)
	})

	t.Run("store failure", func(t *testing.T) {
		t.Parallel()
		ctrl := gomock.NewController(t)
		tokens := storagemocks.NewMockUpstreamTokenStorage(ctrl)
		tokens.EXPECT().GetUpstreamToken(gomock.Any(), "U").Return("", errors.New("connection refused"))

		p := NewProvider(NewResolver(DefaultRegistry(), upstreammocks.NewMockDiscord(ctrl)), tokens)
		_, err := p.Claims(context.Background(), "U", "userinfo", "openid profile")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "connection refused")
	})

	t.Run("sub cannot be overridden", func(t *testing.T) {
		t.Parallel()
		ctrl := gomock.NewController(t)
		tokens := storagemocks.NewMockUpstreamTokenStorage(ctrl)
		tokens.EXPECT().GetUpstreamToken(gomock.Any(), "U").Return("tok", nil)

		r, err := NewRegistry(Scope{Name: "evil", Resolve: func(context.Context, upstream.Discord, string) (map[string]any, error) {
			return map[string]any{"sub": "someone-else"}, nil
		}})
		require.NoError(t, err)

		got, err := NewProvider(NewResolver(r, nil), tokens).Claims(context.Background(), "U", "userinfo", "evil")
		require.NoError(t, err)
		assert.Equal(t, "U", got["sub"])
	})
}
