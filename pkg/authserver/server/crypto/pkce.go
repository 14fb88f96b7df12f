// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package crypto

import (
	"golang.org/x/oauth2"
)

// PKCEChallengeMethodS256 is the only code_challenge_method advertised in discovery.
const PKCEChallengeMethodS256 = "S256"

// PKCE is the code_verifier a relying party keeps between the authorization
// request and the code exchange, together with the challenge it sends first.
type PKCE struct {
	Verifier  string
	Challenge string
}

// NewPKCE generates a fresh verifier and its S256 challenge.
func NewPKCE() PKCE {
	verifier := GeneratePKCEVerifier()
	return PKCE{Verifier: verifier, Challenge: ComputePKCEChallenge(verifier)}
}

// GeneratePKCEVerifier returns a 43 character base64url code_verifier.
// It panics if crypto/rand fails.
func GeneratePKCEVerifier() string {
	return oauth2.GenerateVerifier()
}

// ComputePKCEChallenge returns BASE64URL(SHA256(verifier)).
func ComputePKCEChallenge(verifier string) string {
	return oauth2.S256ChallengeFromVerifier(verifier)
}

// AuthCodeOptions add code_challenge and code_challenge_method to an
// authorization URL built with oauth2.Config.AuthCodeURL.
func (p PKCE) AuthCodeOptions() []oauth2.AuthCodeOption {
	return []oauth2.AuthCodeOption{
		oauth2.SetAuthURLParam("code_challenge", p.Challenge),
		oauth2.SetAuthURLParam("code_challenge_method", PKCEChallengeMethodS256),
	}
}

// ExchangeOption sends the verifier with the token request.
func (p PKCE) ExchangeOption() oauth2.AuthCodeOption {
	return oauth2.VerifierOption(p.Verifier)
}
