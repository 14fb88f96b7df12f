// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package app

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/url"
	"strings"

	"github.com/coreos/go-oidc/v3/oidc"
	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"golang.org/x/oauth2"

	servercrypto "github.com/TastyPi/discord-oidc/pkg/authserver/server/crypto"
)

type issueTokenOptions struct {
	issuer       string
	clientID     string
	clientSecret string
	redirectURI  string
	scope        string
}

func newIssueTokenCmd() *cobra.Command {
	opts := &issueTokenOptions{}
	cmd := &cobra.Command{
		Use:   "issue-token",
		Short: "Run the authorization code flow by hand",
		Long: `Act as a relying party against a running discord-oidc.

The command prints an authorization URL. Open it in a browser, sign in, and
paste the URL you are redirected to (or just its code parameter). The code is
exchanged, the ID token verified against the provider's keys, and the ID token
and userinfo claims are printed.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runIssueToken(cmd, opts)
		},
	}

	cmd.Flags().StringVar(&opts.issuer, "issuer", "", "Issuer URL of the provider")
	cmd.Flags().StringVar(&opts.clientID, "client-id", "", "Client ID registered with the provider")
	cmd.Flags().StringVar(&opts.clientSecret, "client-secret", "", "Client secret")
	cmd.Flags().StringVar(&opts.redirectURI, "redirect-uri", "", "Redirect URI registered for the client")
	cmd.Flags().StringVar(&opts.scope, "scope", "openid profile groups", "Space separated scopes to request")
	for _, name := range []string{"issuer", "client-id", "client-secret", "redirect-uri"} {
		_ = cmd.MarkFlagRequired(name)
	}
	return cmd
}

func runIssueToken(cmd *cobra.Command, opts *issueTokenOptions) error {
	ctx := cmd.Context()
	out := cmd.OutOrStdout()

	provider, err := oidc.NewProvider(ctx, opts.issuer)
	if err != nil {
		return fmt.Errorf("discovery failed: %w", err)
	}

	rp := &oauth2.Config{
		ClientID:     opts.clientID,
		ClientSecret: opts.clientSecret,
		Endpoint:     provider.Endpoint(),
		RedirectURL:  opts.redirectURI,
		Scopes:       strings.Fields(opts.scope),
	}

	state := uuid.NewString()
	nonce := uuid.NewString()
	pkce := servercrypto.NewPKCE()

	_, _ = fmt.Fprintf(out, "Open this URL in a browser:\n\n%s\n\n", authorizationURL(rp, state, nonce, pkce))
	_, _ = fmt.Fprint(out, "Paste the redirect URL or code: ")

	code, err := readCode(cmd.InOrStdin(), state)
	if err != nil {
		return err
	}

	tok, err := rp.Exchange(ctx, code, pkce.ExchangeOption())
	if err != nil {
		return fmt.Errorf("code exchange failed: %w", err)
	}

	rawIDToken, ok := tok.Extra("id_token").(string)
	if !ok {
		return errors.New("token response has no id_token")
	}
	idToken, err := provider.Verifier(&oidc.Config{ClientID: opts.clientID}).Verify(ctx, rawIDToken)
	if err != nil {
		return fmt.Errorf("ID token verification failed: %w", err)
	}
	if idToken.Nonce != nonce {
		return errors.New("ID token nonce does not match")
	}

	var idClaims map[string]any
	if err := idToken.Claims(&idClaims); err != nil {
		return err
	}
	_, _ = fmt.Fprintln(out, "\nID token claims:")
	if err := printJSON(out, idClaims); err != nil {
		return err
	}

	userInfo, err := provider.UserInfo(ctx, oauth2.StaticTokenSource(tok))
	if err != nil {
		return fmt.Errorf("userinfo request failed: %w", err)
	}
	var userClaims map[string]any
	if err := userInfo.Claims(&userClaims); err != nil {
		return err
	}
	_, _ = fmt.Fprintln(out, "\nUserinfo claims:")
	return printJSON(out, userClaims)
}

// authorizationURL builds the authorization request with a nonce and an S256 challenge.
func authorizationURL(rp *oauth2.Config, state, nonce string, pkce servercrypto.PKCE) string {
	opts := append([]oauth2.AuthCodeOption{oidc.Nonce(nonce)}, pkce.AuthCodeOptions()...)
	return rp.AuthCodeURL(state, opts...)
}

// readCode reads one line and extracts the authorization code from it. The
// line is either the bare code or the full redirect URL, in which case the
// state must match and an error response is reported.
func readCode(in io.Reader, state string) (string, error) {
	scanner := bufio.NewScanner(in)
	if !scanner.Scan() {
		if err := scanner.Err(); err != nil {
			return "", err
		}
		return "", errors.New("no code entered")
	}
	line := strings.TrimSpace(scanner.Text())
	if line == "" {
		return "", errors.New("no code entered")
	}

	u, err := url.Parse(line)
	if err != nil || u.Scheme == "" {
		return line, nil
	}

	q := u.Query()
	if e := q.Get("error"); e != "" {
		return "", fmt.Errorf("authorization failed: %s: %s", e, q.Get("error_description"))
	}
	if q.Get("state") != state {
		return "", errors.New("state does not match")
	}
	if code := q.Get("code"); code != "" {
		return code, nil
	}
	return "", errors.New("redirect URL has no code")
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
