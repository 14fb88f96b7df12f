// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package handlers provides the HTTP endpoints of the OpenID Connect engine.
//
// This package implements the protocol surface on top of fosite:
//   - OIDC Discovery endpoint (/.well-known/openid-configuration)
//   - JWKS endpoint (/jwks)
//   - Authorization endpoint (/auth) and interaction resume (/auth/{uid})
//   - Token endpoint (/token)
//   - UserInfo endpoint (/me)
//
// Login and consent are not handled here. When the authorization endpoint
// needs the end user it starts an interaction and redirects to the bridge,
// which returns to /auth/{uid} once it has a result.
package handlers
