// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package upstream

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v5"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	oidcerrors "github.com/TastyPi/discord-oidc/pkg/errors"
	"github.com/TastyPi/discord-oidc/pkg/logger"
	"github.com/TastyPi/discord-oidc/pkg/networking"
)

// retryAfterSeconds reads the Retry-After header as whole seconds.
// A missing, negative or non-integer value yields DefaultRetryAfter.
func retryAfterSeconds(header http.Header) int {
	v := strings.TrimSpace(header.Get("Retry-After"))
	if v == "" {
		return int(DefaultRetryAfter / time.Second)
	}
	secs, err := strconv.Atoi(v)
	if err != nil || secs < 0 {
		return int(DefaultRetryAfter / time.Second)
	}
	return secs
}

// rateLimitHandler turns a 429 response into an error carrying both the
// HTTPError and the backoff.RetryAfterError, so the retry loop can honour
// Retry-After while callers still see the upstream response.
func rateLimitHandler(requestURL string) networking.FetchOption {
	return networking.WithErrorHandler(func(resp *http.Response, body []byte) error {
		if resp.StatusCode != http.StatusTooManyRequests {
			return nil
		}
		return fmt.Errorf("%w: %w",
			networking.NewHTTPError(resp.StatusCode, requestURL, string(body)),
			backoff.RetryAfter(retryAfterSeconds(resp.Header)))
	})
}

// Outcomes recorded on the rate limit counter.
const (
	rateLimitRetried   = "retried"
	rateLimitExhausted = "exhausted"
)

// recordRateLimited counts one 429 against the endpoint path of requestURL.
func (c *Client) recordRateLimited(ctx context.Context, requestURL, outcome string) {
	endpoint := requestURL
	if u, err := url.Parse(requestURL); err == nil {
		endpoint = u.Path
	}
	c.rateLimited.Add(ctx, 1, metric.WithAttributes(
		attribute.String("endpoint", endpoint),
		attribute.String("outcome", outcome),
	))
}

// withRateLimitRetry runs fetch until it returns something other than a
// rate limit response, or the retry bounds are reached.
func withRateLimitRetry[T any](
	ctx context.Context,
	c *Client,
	requestURL string,
	fetch func(opts ...networking.FetchOption) (T, error),
) (T, error) {
	attempts := 0
	operation := func() (T, error) {
		attempts++
		res, err := fetch(rateLimitHandler(requestURL))
		if err == nil {
			return res, nil
		}
		var retryAfter *backoff.RetryAfterError
		if errors.As(err, &retryAfter) {
			return res, err
		}
		return res, backoff.Permanent(err)
	}

	res, err := backoff.Retry(ctx, operation,
		backoff.WithBackOff(backoff.NewConstantBackOff(DefaultRetryAfter)),
		backoff.WithMaxTries(uint(c.config.MaxRetries+1)), // #nosec G115 -- MaxRetries is validated non-negative
		backoff.WithMaxElapsedTime(c.config.MaxRetryElapsed),
		backoff.WithNotify(func(_ error, wait time.Duration) {
			c.recordRateLimited(ctx, requestURL, rateLimitRetried)
			logger.Debugw("discord rate limited, retrying",
				"url", requestURL,
				"attempt", attempts,
				"wait", wait.String(),
			)
		}),
	)
	if err == nil {
		return res, nil
	}
	var permanent *backoff.PermanentError
	if errors.As(err, &permanent) {
		err = permanent.Unwrap()
	}

	var retryAfter *backoff.RetryAfterError
	if errors.As(err, &retryAfter) {
		c.recordRateLimited(ctx, requestURL, rateLimitExhausted)
		logger.Warnw("discord rate limit retries exhausted", "url", requestURL, "attempts", attempts)
		return res, oidcerrors.NewRateLimitExceededError(
			fmt.Sprintf("discord still rate limited after %d attempts", attempts),
			err,
		)
	}
	if ctxErr := ctx.Err(); ctxErr != nil && errors.Is(err, ctxErr) {
		return res, fmt.Errorf("discord request cancelled: %w", err)
	}
	return res, err
}
