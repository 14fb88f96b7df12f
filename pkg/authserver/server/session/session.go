// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package session builds the fosite sessions carried by authorization codes,
// access tokens and ID tokens.
package session

import (
	"time"

	"github.com/ory/fosite/handler/openid"
	"github.com/ory/fosite/token/jwt"
)

// New returns an empty session. fosite uses it as a template when loading a
// stored request at the token and userinfo endpoints.
func New() *openid.DefaultSession {
	return &openid.DefaultSession{
		Claims:  &jwt.IDTokenClaims{},
		Headers: &jwt.Headers{},
	}
}

// Params describe an authenticated end user for one authorization request.
type Params struct {
	// Subject is the account id, i.e. the Discord user id.
	Subject string

	Issuer string

	// KeyID is written to the ID token "kid" header.
	KeyID string

	// AuthTime is when the end user last logged in.
	AuthTime time.Time

	// RequestedAt is when the authorization request was first received.
	RequestedAt time.Time
}

// NewAuthenticated returns the session for issuing a code to p.Subject.
// Times are truncated to whole seconds, the precision of the ID token.
func NewAuthenticated(p Params) *openid.DefaultSession {
	return &openid.DefaultSession{
		Claims: &jwt.IDTokenClaims{
			Subject:     p.Subject,
			Issuer:      p.Issuer,
			AuthTime:    p.AuthTime.UTC().Truncate(time.Second),
			RequestedAt: p.RequestedAt.UTC().Truncate(time.Second),
		},
		Headers: &jwt.Headers{Extra: map[string]any{"kid": p.KeyID}},
		Subject: p.Subject,
	}
}
