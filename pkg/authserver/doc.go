// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package authserver assembles the discord-oidc server: an OpenID Connect
// provider built on ory/fosite whose logins are delegated to Discord.
//
// Relying parties talk standard OIDC to the issuer URL. When a user has to
// log in, the interaction controller sends the browser to Discord, exchanges
// the returned code for a Discord access token, remembers that token under the
// user's Discord id and hands the id back to the engine as the account. Claims
// for the profile and groups scopes are fetched from Discord when the relying
// party calls the userinfo endpoint.
//
// # Usage
//
//	cfg, err := config.Load(path)
//	if err != nil {
//	    return err
//	}
//	srv, err := authserver.New(ctx, cfg)
//	if err != nil {
//	    return err
//	}
//	defer srv.Close()
//	http.ListenAndServe(":3000", srv.Handler())
//
// # Endpoints
//
// All paths are relative to the configured url:
//   - GET  /.well-known/openid-configuration
//   - GET  /jwks
//   - GET  /auth and GET /auth/{uid}
//   - POST /token
//   - GET|POST /me
//   - GET  /interaction/{uid} and /interaction/{uid}/callback
//   - GET  /discord/callback
package authserver
