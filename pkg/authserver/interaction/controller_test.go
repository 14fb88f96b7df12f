// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package interaction

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"github.com/TastyPi/discord-oidc/pkg/authserver/claims"
	"github.com/TastyPi/discord-oidc/pkg/authserver/server"
	"github.com/TastyPi/discord-oidc/pkg/authserver/storage"
	"github.com/TastyPi/discord-oidc/pkg/authserver/upstream"
	upstreammocks "github.com/TastyPi/discord-oidc/pkg/authserver/upstream/mocks"
	oidcerrors "github.com/TastyPi/discord-oidc/pkg/errors"
	"github.com/TastyPi/discord-oidc/pkg/networking"
)

const testIssuer = "https://auth.example.com/oidc"

type testEnv struct {
	router       http.Handler
	controller   *Controller
	storage      *storage.MemoryStorage
	interactions *server.Interactions
	discord      *upstreammocks.MockDiscord
}

func setup(t *testing.T) *testEnv {
	t.Helper()

	stor := storage.NewMemoryStorage()
	t.Cleanup(func() { _ = stor.Close() })

	interactions, err := server.NewInteractions(stor, testIssuer)
	require.NoError(t, err)

	ctrl := gomock.NewController(t)
	discord := upstreammocks.NewMockDiscord(ctrl)

	c, err := NewController(interactions, discord, stor, claims.DefaultRegistry(), testIssuer)
	require.NoError(t, err)

	r := chi.NewRouter()
	r.Route(interactions.BasePath(), c.Routes)

	return &testEnv{
		router:       r,
		controller:   c,
		storage:      stor,
		interactions: interactions,
		discord:      discord,
	}
}

// start creates a pending interaction and returns its uid and cookie.
func (e *testEnv) start(t *testing.T, in *storage.Interaction) (string, *http.Cookie) {
	t.Helper()
	rec := httptest.NewRecorder()
	require.NoError(t, e.interactions.Start(rec, httptest.NewRequest(http.MethodGet, testIssuer+"/auth", nil), in))
	for _, c := range rec.Result().Cookies() {
		if c.Name == server.InteractionCookie {
			return in.UID, c
		}
	}
	t.Fatal("interaction cookie not set")
	return "", nil
}

func (e *testEnv) get(target string, cookies ...*http.Cookie) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, target, nil)
	for _, c := range cookies {
		req.AddCookie(c)
	}
	rec := httptest.NewRecorder()
	e.router.ServeHTTP(rec, req)
	return rec
}

func loginInteraction() *storage.Interaction {
	return &storage.Interaction{
		Prompt:   storage.Prompt{Name: storage.PromptLogin, Reasons: []string{"no_session"}},
		Params:   url.Values{"client_id": {"app"}},
		ClientID: "app",
	}
}

func TestInteractionHandler_Login(t *testing.T) {
	t.Parallel()
	env := setup(t)

	uid, cookie := env.start(t, loginInteraction())

	env.discord.EXPECT().
		AuthorizationURL(testIssuer+"/discord/callback", uid, []string{"openid", "identify", "guilds"}).
		Return("https://discord.com/oauth2/authorize?state=" + uid)

	rec := env.get(testIssuer+"/interaction/"+uid, cookie)
	assert.Equal(t, http.StatusSeeOther, rec.Code)
	assert.Equal(t, "https://discord.com/oauth2/authorize?state="+uid, rec.Header().Get("Location"))
}

func TestInteractionHandler_RequiresCookie(t *testing.T) {
	t.Parallel()
	env := setup(t)

	uid, _ := env.start(t, loginInteraction())
	otherUID, otherCookie := env.start(t, loginInteraction())
	require.NotEqual(t, uid, otherUID)

	t.Run("no cookie", func(t *testing.T) {
		t.Parallel()
		rec := env.get(testIssuer + "/interaction/" + uid)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("cookie of another interaction", func(t *testing.T) {
		t.Parallel()
		rec := env.get(testIssuer+"/interaction/"+uid, otherCookie)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("unknown uid", func(t *testing.T) {
		t.Parallel()
		rec := env.get(testIssuer+"/interaction/nope", &http.Cookie{Name: server.InteractionCookie, Value: "nope"})
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})
}

func TestInteractionHandler_Consent(t *testing.T) {
	t.Parallel()
	env := setup(t)

	loginAt := time.Now().Add(-time.Second)
	uid, cookie := env.start(t, &storage.Interaction{
		Prompt: storage.Prompt{
			Name:    storage.PromptConsent,
			Reasons: []string{"op_scopes_missing"},
			Details: storage.PromptDetails{MissingOIDCScope: []string{"openid", "email", "profile", "offline_access"}},
		},
		ClientID:       "app",
		AccountID:      "U1",
		LastSubmission: &storage.InteractionResult{Login: &storage.LoginResult{AccountID: "U1", AuthTime: loginAt}},
	})

	rec := env.get(testIssuer+"/interaction/"+uid, cookie)
	require.Equal(t, http.StatusSeeOther, rec.Code)
	assert.Equal(t, testIssuer+"/auth/"+uid, rec.Header().Get("Location"))

	in, err := env.storage.GetInteraction(t.Context(), uid)
	require.NoError(t, err)
	require.NotNil(t, in.Result)
	require.NotNil(t, in.Result.Consent)

	// Merged with the login of the same request.
	require.NotNil(t, in.Result.Login)
	assert.Equal(t, "U1", in.Result.Login.AccountID)

	grant, err := env.storage.GetGrant(t.Context(), in.Result.Consent.GrantID)
	require.NoError(t, err)
	assert.Equal(t, "U1", grant.AccountID)
	assert.Equal(t, "app", grant.ClientID)
	assert.Equal(t, []string{"openid", "profile"}, grant.OIDCScopes)
}

func TestInteractionHandler_ConsentExtendsExistingGrant(t *testing.T) {
	t.Parallel()
	env := setup(t)
	ctx := t.Context()

	existing := env.interactions.NewGrant("U1", "app")
	existing.AddOIDCScope("openid")
	grantID, err := existing.Save(ctx)
	require.NoError(t, err)

	require.NoError(t, env.storage.SaveSession(ctx, &storage.EndUserSession{
		ID:        "sess",
		AccountID: "U1",
		AuthTime:  time.Now(),
		Grants:    map[string]string{"app": grantID},
		ExpiresAt: time.Now().Add(time.Hour),
	}))

	uid, cookie := env.start(t, &storage.Interaction{
		Prompt: storage.Prompt{
			Name:    storage.PromptConsent,
			Details: storage.PromptDetails{MissingOIDCScope: []string{"groups"}},
		},
		ClientID:  "app",
		SessionID: "sess",
		AccountID: "U1",
	})

	rec := env.get(testIssuer+"/interaction/"+uid, cookie)
	require.Equal(t, http.StatusSeeOther, rec.Code)

	in, err := env.storage.GetInteraction(ctx, uid)
	require.NoError(t, err)
	assert.Equal(t, grantID, in.Result.Consent.GrantID)

	grant, err := env.storage.GetGrant(ctx, grantID)
	require.NoError(t, err)
	assert.Equal(t, []string{"openid", "groups"}, grant.OIDCScopes)
}

func TestInteractionHandler_UnknownScopesNeverGranted(t *testing.T) {
	t.Parallel()
	env := setup(t)

	uid, cookie := env.start(t, &storage.Interaction{
		Prompt: storage.Prompt{
			Name:    storage.PromptConsent,
			Details: storage.PromptDetails{MissingOIDCScope: []string{"email", "phone", "address"}},
		},
		ClientID:  "app",
		AccountID: "U1",
	})

	rec := env.get(testIssuer+"/interaction/"+uid, cookie)
	require.Equal(t, http.StatusSeeOther, rec.Code)

	in, err := env.storage.GetInteraction(t.Context(), uid)
	require.NoError(t, err)
	grant, err := env.storage.GetGrant(t.Context(), in.Result.Consent.GrantID)
	require.NoError(t, err)
	assert.Empty(t, grant.OIDCScopes)
}

func TestDiscordCallbackHandler(t *testing.T) {
	t.Parallel()
	env := setup(t)

	tests := []struct {
		name         string
		query        string
		wantStatus   int
		wantBody     string
		wantLocation string
	}{
		{
			name:       "missing code",
			query:      "state=abc",
			wantStatus: http.StatusBadRequest,
			wantBody:   "code_invalid\n",
		},
		{
			name:       "missing state",
			query:      "code=xyz",
			wantStatus: http.StatusBadRequest,
			wantBody:   "state_invalid\n",
		},
		{
			name:       "discord error without code",
			query:      "error=access_denied&state=abc",
			wantStatus: http.StatusBadRequest,
			wantBody:   "code_invalid\n",
		},
		{
			name:       "repeated code",
			query:      "code=a&code=b&state=s",
			wantStatus: http.StatusBadRequest,
			wantBody:   "code_invalid\n",
		},
		{
			name:       "repeated state",
			query:      "code=a&state=s1&state=s2",
			wantStatus: http.StatusBadRequest,
			wantBody:   "state_invalid\n",
		},
		{
			name:         "relays to interaction callback",
			query:        "code=xyz&state=abc",
			wantStatus:   http.StatusSeeOther,
			wantLocation: "/oidc/interaction/abc/callback?code=xyz",
		},
		{
			name:         "state is path escaped",
			query:        "code=a%2Bb&state=" + url.QueryEscape("x/y"),
			wantStatus:   http.StatusSeeOther,
			wantLocation: "/oidc/interaction/x%2Fy/callback?code=a%2Bb",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			rec := env.get(testIssuer + "/discord/callback?" + tt.query)
			assert.Equal(t, tt.wantStatus, rec.Code)
			if tt.wantBody != "" {
				assert.Equal(t, tt.wantBody, rec.Body.String())
			}
			if tt.wantLocation != "" {
				assert.Equal(t, tt.wantLocation, rec.Header().Get("Location"))
			}
		})
	}
}

func TestCallbackHandler_Success(t *testing.T) {
	t.Parallel()
	env := setup(t)

	uid, cookie := env.start(t, loginInteraction())

	gomock.InOrder(
		env.discord.EXPECT().
			ExchangeCode(gomock.Any(), "the-code", testIssuer+"/discord/callback").
			Return(&upstream.Token{AccessToken: "discord-token", TokenType: "Bearer"}, nil),
		env.discord.EXPECT().
			FetchUser(gomock.Any(), "discord-token").
			Return(&upstream.User{ID: "80351110224678912", Username: "nelly"}, nil),
	)

	rec := env.get(testIssuer+"/interaction/"+uid+"/callback?code=the-code", cookie)
	require.Equal(t, http.StatusSeeOther, rec.Code)
	assert.Equal(t, testIssuer+"/auth/"+uid, rec.Header().Get("Location"))

	token, err := env.storage.GetUpstreamToken(t.Context(), "80351110224678912")
	require.NoError(t, err)
	assert.Equal(t, "discord-token", token)

	in, err := env.storage.GetInteraction(t.Context(), uid)
	require.NoError(t, err)
	require.NotNil(t, in.Result)
	require.NotNil(t, in.Result.Login)
	assert.Equal(t, "80351110224678912", in.Result.Login.AccountID)
	assert.Nil(t, in.Result.Consent)

	var resume *http.Cookie
	for _, c := range rec.Result().Cookies() {
		if c.Name == server.ResumeCookie {
			resume = c
		}
	}
	require.NotNil(t, resume)
	assert.Equal(t, "/oidc/auth/"+uid, resume.Path)
}

func TestCallbackHandler_LaterLoginOverwritesToken(t *testing.T) {
	t.Parallel()
	env := setup(t)

	for _, tok := range []string{"first", "second"} {
		uid, cookie := env.start(t, loginInteraction())
		env.discord.EXPECT().ExchangeCode(gomock.Any(), "c", gomock.Any()).
			Return(&upstream.Token{AccessToken: tok}, nil)
		env.discord.EXPECT().FetchUser(gomock.Any(), tok).
			Return(&upstream.User{ID: "U"}, nil)

		rec := env.get(testIssuer+"/interaction/"+uid+"/callback?code=c", cookie)
		require.Equal(t, http.StatusSeeOther, rec.Code)
	}

	token, err := env.storage.GetUpstreamToken(t.Context(), "U")
	require.NoError(t, err)
	assert.Equal(t, "second", token)
}

func TestCallbackHandler_Errors(t *testing.T) {
	t.Parallel()

	exchangeErr := oidcerrors.NewUpstreamExchangeFailedError("discord token exchange failed",
		networking.NewHTTPError(http.StatusBadRequest, "https://discord.com/api/oauth2/token", `{"error":"invalid_grant"}`))
	lookupErr := oidcerrors.NewUpstreamLookupFailedError("discord user lookup failed",
		networking.NewHTTPError(http.StatusUnauthorized, "https://discord.com/api/v10/users/@me", `{"message":"401: Unauthorized"}`))

	tests := []struct {
		name       string
		query      string
		noCookie   bool
		setup      func(m *upstreammocks.MockDiscordMockRecorder)
		wantStatus int
		wantBody   string
	}{
		{
			name:       "missing code",
			query:      "",
			setup:      func(*upstreammocks.MockDiscordMockRecorder) {},
			wantStatus: http.StatusBadRequest,
			wantBody:   "code_invalid\n",
		},
		{
			name:       "repeated code",
			query:      "code=a&code=b",
			setup:      func(*upstreammocks.MockDiscordMockRecorder) {},
			wantStatus: http.StatusBadRequest,
			wantBody:   "code_invalid\n",
		},
		{
			name:       "no interaction cookie",
			query:      "code=c",
			noCookie:   true,
			setup:      func(*upstreammocks.MockDiscordMockRecorder) {},
			wantStatus: http.StatusBadRequest,
		},
		{
			name:  "exchange failure",
			query: "code=c",
			setup: func(m *upstreammocks.MockDiscordMockRecorder) {
				m.ExchangeCode(gomock.Any(), "c", gomock.Any()).Return(nil, exchangeErr)
			},
			wantStatus: http.StatusBadGateway,
			wantBody:   "Discord token exchange failed: {\"error\":\"invalid_grant\"}\n",
		},
		{
			name:  "rate limited exchange",
			query: "code=c",
			setup: func(m *upstreammocks.MockDiscordMockRecorder) {
				m.ExchangeCode(gomock.Any(), "c", gomock.Any()).
					Return(nil, oidcerrors.NewRateLimitExceededError("discord rate limit retries exhausted", nil))
			},
			wantStatus: http.StatusBadGateway,
			wantBody:   "Discord token exchange failed: rate_limit_exceeded: discord rate limit retries exhausted\n",
		},
		{
			name:  "user lookup failure",
			query: "code=c",
			setup: func(m *upstreammocks.MockDiscordMockRecorder) {
				m.ExchangeCode(gomock.Any(), "c", gomock.Any()).Return(&upstream.Token{AccessToken: "t"}, nil)
				m.FetchUser(gomock.Any(), "t").Return(nil, lookupErr)
			},
			wantStatus: http.StatusBadGateway,
			wantBody:   "Discord user lookup failed: {\"message\":\"401: Unauthorized\"}\n",
		},
		{
			name:  "error without upstream body",
			query: "code=c",
			setup: func(m *upstreammocks.MockDiscordMockRecorder) {
				m.ExchangeCode(gomock.Any(), "c", gomock.Any()).Return(&upstream.Token{AccessToken: "t"}, nil)
				m.FetchUser(gomock.Any(), "t").Return(nil, errors.New("connection reset"))
			},
			wantStatus: http.StatusBadGateway,
			wantBody:   "Discord user lookup failed: connection reset\n",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			env := setup(t)
			uid, cookie := env.start(t, loginInteraction())
			tt.setup(env.discord.EXPECT())

			target := testIssuer + "/interaction/" + uid + "/callback"
			if tt.query != "" {
				target += "?" + tt.query
			}
			var rec *httptest.ResponseRecorder
			if tt.noCookie {
				rec = env.get(target)
			} else {
				rec = env.get(target, cookie)
			}

			assert.Equal(t, tt.wantStatus, rec.Code)
			if tt.wantBody != "" {
				assert.Equal(t, tt.wantBody, rec.Body.String())
			}

			// The interaction is left unfinished.
			in, err := env.storage.GetInteraction(t.Context(), uid)
			require.NoError(t, err)
			assert.Nil(t, in.Result)
		})
	}
}
