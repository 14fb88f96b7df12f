// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package upstream talks to Discord, the identity source behind the bridge.
//
// # Architecture
//
// The Discord interface captures the four upstream operations the bridge
// needs and nothing else:
//
//   - AuthorizationURL: where to send the browser for Discord consent
//   - ExchangeCode: trade the callback code for a Discord access token
//   - FetchUser: the current user (GET /api/v10/users/@me)
//   - FetchGuilds: ids of the guilds the user belongs to, in Discord's order
//
// Client is the only implementation. Tests use the gomock mock in mocks/.
//
// # Rate limits
//
// Every call that receives HTTP 429 waits for the Retry-After header (whole
// seconds, 1 when missing or malformed) and then repeats the identical
// request. Retries are bounded by Config.MaxRetries and Config.MaxRetryElapsed;
// past either bound the call fails with a rate_limit_exceeded error. Waits
// end early when the request context is cancelled.
//
// Other non-2xx responses fail at once with an *networking.HTTPError that
// carries the status, URL and response body.
//
// # Usage
//
//	client, err := upstream.NewClient(&upstream.Config{
//	    ClientID:     "1234",
//	    ClientSecret: "secret",
//	})
//	if err != nil {
//	    return err
//	}
//
//	token, err := client.ExchangeCode(ctx, code, redirectURI)
//	user, err := client.FetchUser(ctx, token.AccessToken)
package upstream
