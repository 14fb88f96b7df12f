// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package app

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"

	servercrypto "github.com/TastyPi/discord-oidc/pkg/authserver/server/crypto"
)

const validConfig = `
url: https://auth.example.com
clients:
  - client_id: app
    client_secret: s3cret
    redirect_uris: [https://app.example.com/callback]
discord:
  client_id: "1234"
  client_secret: discord-secret
`

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	cmd := NewRootCmd()
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func TestVersionCmd(t *testing.T) {
	out, err := execute(t, "version")
	require.NoError(t, err)
	assert.Contains(t, out, "Version:")
	assert.Contains(t, out, "Go version:")
}

func TestValidateCmd(t *testing.T) {
	t.Setenv("DISCORD_OIDC_CONFIG", "")

	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(validConfig), 0o600))

	out, err := execute(t, "validate", "--config", path)
	require.NoError(t, err)
	assert.Contains(t, out, "Configuration is valid")
	assert.Contains(t, out, "URL: https://auth.example.com")
	assert.Contains(t, out, "- app (1 redirect URIs)")
	assert.Contains(t, out, "Storage: memory")
	assert.Contains(t, out, "Signing key: ephemeral")
	assert.NotContains(t, out, "Telemetry:")
}

func TestValidateCmd_Telemetry(t *testing.T) {
	t.Setenv("DISCORD_OIDC_CONFIG", "")

	path := filepath.Join(t.TempDir(), "config.yaml")
	cfg := validConfig + "telemetry:\n  endpoint: collector:4318\n  metrics_enabled: false\n  prometheus_metrics: true\n"
	require.NoError(t, os.WriteFile(path, []byte(cfg), 0o600))

	out, err := execute(t, "validate", "--config", path)
	require.NoError(t, err)
	assert.Contains(t, out, "Telemetry: collector:4318 (tracing true, metrics false)")
	assert.Contains(t, out, "Prometheus: /metrics")
}

func TestValidateCmd_FromEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(validConfig), 0o600))
	t.Setenv("DISCORD_OIDC_CONFIG", path)

	out, err := execute(t, "validate")
	require.NoError(t, err)
	assert.Contains(t, out, "Configuration is valid")
}

// setDefaultConfigPath replaces the XDG lookup for the duration of the test.
func setDefaultConfigPath(t *testing.T, path string, err error) {
	t.Helper()
	orig := defaultConfigPath
	defaultConfigPath = func() (string, error) { return path, err }
	t.Cleanup(func() { defaultConfigPath = orig })
}

func TestValidateCmd_FromXDG(t *testing.T) {
	t.Setenv("DISCORD_OIDC_CONFIG", "")

	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(validConfig), 0o600))
	setDefaultConfigPath(t, path, nil)

	out, err := execute(t, "validate")
	require.NoError(t, err)
	assert.Contains(t, out, "Configuration is valid")
}

func TestValidateCmd_Errors(t *testing.T) {
	t.Setenv("DISCORD_OIDC_CONFIG", "")
	setDefaultConfigPath(t, "", errors.New("could not locate discord-oidc/config.yaml"))

	t.Run("no config", func(t *testing.T) {
		_, err := execute(t, "validate")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "no configuration file")
	})

	t.Run("unknown key", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "config.yaml")
		require.NoError(t, os.WriteFile(path, []byte(validConfig+"extra: true\n"), 0o600))

		_, err := execute(t, "validate", "--config", path)
		require.Error(t, err)
	})
}

func TestIssueTokenCmd_RequiresFlags(t *testing.T) {
	_, err := execute(t, "issue-token", "--issuer", "https://auth.example.com")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "client-id")
}

func TestAuthorizationURL(t *testing.T) {
	t.Parallel()

	rp := &oauth2.Config{
		ClientID:    "app",
		Endpoint:    oauth2.Endpoint{AuthURL: "https://auth.example.com/auth"},
		RedirectURL: "https://app.example.com/callback",
		Scopes:      []string{"openid", "profile"},
	}
	pkce := servercrypto.NewPKCE()

	u, err := url.Parse(authorizationURL(rp, "st", "nonce-1", pkce))
	require.NoError(t, err)
	q := u.Query()
	assert.Equal(t, "st", q.Get("state"))
	assert.Equal(t, "nonce-1", q.Get("nonce"))
	assert.Equal(t, servercrypto.ComputePKCEChallenge(pkce.Verifier), q.Get("code_challenge"))
	assert.Equal(t, servercrypto.PKCEChallengeMethodS256, q.Get("code_challenge_method"))
	assert.Equal(t, "openid profile", q.Get("scope"))
}

func TestReadCode(t *testing.T) {
	t.Parallel()

	const state = "st"
	tests := []struct {
		name    string
		input   string
		want    string
		wantErr string
	}{
		{name: "bare code", input: "abc\n", want: "abc"},
		{name: "surrounding whitespace", input: "  abc  \n", want: "abc"},
		{name: "redirect url", input: "https://app/cb?code=abc&state=st\n", want: "abc"},
		{name: "state mismatch", input: "https://app/cb?code=abc&state=other\n", wantErr: "state"},
		{name: "error response", input: "https://app/cb?error=access_denied&error_description=nope&state=st", wantErr: "access_denied: nope"},
		{name: "url without code", input: "https://app/cb?state=st", wantErr: "no code"},
		{name: "empty line", input: "\n", wantErr: "no code entered"},
		{name: "eof", input: "", wantErr: "no code entered"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got, err := readCode(strings.NewReader(tt.input), state)
			if tt.wantErr != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestServe_ShutsDownOnCancel(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	httpServer := &http.Server{
		Addr:              "127.0.0.1:0",
		Handler:           http.NotFoundHandler(),
		ReadHeaderTimeout: time.Second,
	}

	done := make(chan error, 1)
	go func() { done <- serve(ctx, httpServer, "https://auth.example.com") }()

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("serve did not return after cancellation")
	}
}

func TestServe_ListenError(t *testing.T) {
	t.Parallel()

	httpServer := &http.Server{
		Addr:              "not-an-address",
		Handler:           http.NotFoundHandler(),
		ReadHeaderTimeout: time.Second,
	}
	err := serve(context.Background(), httpServer, "https://auth.example.com")
	require.Error(t, err)
}
