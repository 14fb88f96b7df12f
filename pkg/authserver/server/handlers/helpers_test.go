// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package handlers

import (
	"crypto/rand"
	"crypto/rsa"
	"net/http"
	"net/http/cookiejar"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/ory/fosite"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"
	"golang.org/x/crypto/bcrypt"

	"github.com/TastyPi/discord-oidc/pkg/authserver/claims"
	claimsmocks "github.com/TastyPi/discord-oidc/pkg/authserver/claims/mocks"
	"github.com/TastyPi/discord-oidc/pkg/authserver/server"
	"github.com/TastyPi/discord-oidc/pkg/authserver/storage"
)

const (
	testIssuer       = "https://auth.example.com/oidc"
	testClientID     = "test-client"
	testClientSecret = "test-client-secret"
	testRedirectURI  = "https://app.example.com/callback"
	testState        = "state-12345678"
	testNonce        = "nonce-12345678"
)

// testEnv is a handler backed by real fosite, storage and interactions.
type testEnv struct {
	handler      *Handler
	router       http.Handler
	config       *server.AuthorizationServerConfig
	storage      *storage.MemoryStorage
	interactions *server.Interactions
	claims       *claimsmocks.MockAccountClaimsProvider
}

func handlerTestSetup(t *testing.T) *testEnv {
	t.Helper()

	rsaKey, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)

	cfg, err := server.NewAuthorizationServerConfig(&server.AuthorizationServerParams{
		Issuer:              testIssuer,
		HMACSecret:          []byte(strings.Repeat("s", 32)),
		SigningKeyID:        "test-key-1",
		SigningKeyAlgorithm: "RS256",
		SigningKey:          rsaKey,
	})
	require.NoError(t, err)

	stor := storage.NewMemoryStorage()
	t.Cleanup(func() { _ = stor.Close() })

	secret, err := bcrypt.GenerateFromPassword([]byte(testClientSecret), bcrypt.MinCost)
	require.NoError(t, err)
	require.NoError(t, stor.RegisterClient(t.Context(), &fosite.DefaultClient{
		ID:            testClientID,
		Secret:        secret,
		RedirectURIs:  []string{testRedirectURI},
		GrantTypes:    []string{"authorization_code"},
		ResponseTypes: []string{"code"},
		Scopes:        []string{"openid", "profile", "groups"},
	}))

	interactions, err := server.NewInteractions(stor, testIssuer)
	require.NoError(t, err)

	ctrl := gomock.NewController(t)
	claimsProvider := claimsmocks.NewMockAccountClaimsProvider(ctrl)

	h := NewHandler(server.NewProvider(cfg, stor), cfg, interactions, claims.DefaultRegistry(), claimsProvider)

	router := chi.NewRouter()
	router.Mount(interactions.BasePath(), h.Routes())

	return &testEnv{
		handler:      h,
		router:       router,
		config:       cfg,
		storage:      stor,
		interactions: interactions,
		claims:       claimsProvider,
	}
}

// authorizeURL returns an authorization request URL. extra replaces the
// defaults for the keys it sets.
func authorizeURL(extra url.Values) string {
	q := url.Values{
		"client_id":     {testClientID},
		"redirect_uri":  {testRedirectURI},
		"response_type": {"code"},
		"scope":         {"openid profile"},
		"state":         {testState},
		"nonce":         {testNonce},
	}
	for k, v := range extra {
		q[k] = v
	}
	return testIssuer + "/auth?" + q.Encode()
}

// loggedIn stores a session for accountID that authenticated at authTime and
// has granted scopes to the test client. It returns the session cookie.
func (e *testEnv) loggedIn(t *testing.T, accountID string, authTime time.Time, scopes ...string) *http.Cookie {
	t.Helper()
	sess := &storage.EndUserSession{
		ID:        uuid.NewString(),
		AccountID: accountID,
		AuthTime:  authTime,
		Grants:    map[string]string{},
		ExpiresAt: time.Now().Add(time.Hour),
	}
	if len(scopes) > 0 {
		g := e.interactions.NewGrant(accountID, testClientID)
		for _, s := range scopes {
			g.AddOIDCScope(s)
		}
		id, err := g.Save(t.Context())
		require.NoError(t, err)
		sess.Grants[testClientID] = id
	}
	require.NoError(t, e.storage.SaveSession(t.Context(), sess))
	return &http.Cookie{Name: server.SessionCookie, Value: sess.ID}
}

// serve sends a GET for target through the router.
func (e *testEnv) serve(target string, cookies ...*http.Cookie) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, target, nil)
	for _, c := range cookies {
		req.AddCookie(c)
	}
	rec := httptest.NewRecorder()
	e.router.ServeHTTP(rec, req)
	return rec
}

// browser carries cookies between requests the way a user agent would.
type browser struct {
	t   *testing.T
	env *testEnv
	jar *cookiejar.Jar
}

func newBrowser(t *testing.T, env *testEnv) *browser {
	t.Helper()
	jar, err := cookiejar.New(nil)
	require.NoError(t, err)
	return &browser{t: t, env: env, jar: jar}
}

func (b *browser) request(method, target string) *http.Request {
	req := httptest.NewRequest(method, target, nil)
	for _, c := range b.jar.Cookies(req.URL) {
		req.AddCookie(c)
	}
	return req
}

func (b *browser) store(req *http.Request, rec *httptest.ResponseRecorder) {
	b.jar.SetCookies(req.URL, rec.Result().Cookies())
}

func (b *browser) get(target string) *httptest.ResponseRecorder {
	req := b.request(http.MethodGet, target)
	rec := httptest.NewRecorder()
	b.env.router.ServeHTTP(rec, req)
	b.store(req, rec)
	return rec
}

// finish completes interaction uid the way the bridge does and returns the
// resume URL.
func (b *browser) finish(uid string, result *storage.InteractionResult, merge bool) string {
	b.t.Helper()
	req := b.request(http.MethodGet, testIssuer+"/interaction/"+uid)
	rec := httptest.NewRecorder()
	require.NoError(b.t, b.env.interactions.Finished(rec, req, uid, result,
		server.FinishOptions{MergeWithLastSubmission: merge}))
	b.store(req, rec)
	return rec.Header().Get("Location")
}

// interactionUID extracts the uid from a redirect to the bridge.
func interactionUID(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	require.Equal(t, http.StatusSeeOther, rec.Code)
	location := rec.Header().Get("Location")
	prefix := testIssuer + "/interaction/"
	require.True(t, strings.HasPrefix(location, prefix), "unexpected redirect %q", location)
	return strings.TrimPrefix(location, prefix)
}

// redirectParams parses the query of a redirect to the client.
func redirectParams(t *testing.T, rec *httptest.ResponseRecorder) url.Values {
	t.Helper()
	location := rec.Header().Get("Location")
	require.True(t, strings.HasPrefix(location, testRedirectURI), "unexpected redirect %q", location)
	u, err := url.Parse(location)
	require.NoError(t, err)
	return u.Query()
}

// issueCode runs an authorization request for an account that has already
// consented to scopes and returns the code.
func (e *testEnv) issueCode(t *testing.T, accountID, scope string, extra url.Values) string {
	t.Helper()
	cookie := e.loggedIn(t, accountID, time.Now().Add(-time.Minute), strings.Fields(scope)...)

	params := url.Values{"scope": {scope}}
	for k, v := range extra {
		params[k] = v
	}
	rec := e.serve(authorizeURL(params), cookie)
	require.Equal(t, http.StatusSeeOther, rec.Code)
	code := redirectParams(t, rec).Get("code")
	require.NotEmpty(t, code)
	return code
}

// exchange posts form to the token endpoint with client_secret_basic.
func (e *testEnv) exchange(form url.Values) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, testIssuer+"/token", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.SetBasicAuth(testClientID, testClientSecret)
	rec := httptest.NewRecorder()
	e.router.ServeHTTP(rec, req)
	return rec
}
