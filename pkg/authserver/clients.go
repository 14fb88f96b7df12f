// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package authserver

import (
	"context"
	"fmt"

	"github.com/ory/fosite"
	"golang.org/x/crypto/bcrypt"

	"github.com/TastyPi/discord-oidc/pkg/config"
	"github.com/TastyPi/discord-oidc/pkg/logger"
)

// ClientRegistrar stores relying parties.
type ClientRegistrar interface {
	RegisterClient(ctx context.Context, client fosite.Client) error
}

// NewClient builds the fosite client for a configured relying party. The
// secret is bcrypt-hashed, since fosite compares client secrets with bcrypt.
// Redirect URIs are matched exactly.
func NewClient(cfg config.ClientConfig, scopes []string, cost int) (*fosite.DefaultClient, error) {
	hashed, err := bcrypt.GenerateFromPassword([]byte(cfg.ClientSecret), cost)
	if err != nil {
		return nil, fmt.Errorf("failed to hash secret of client %s: %w", cfg.ClientID, err)
	}

	return &fosite.DefaultClient{
		ID:            cfg.ClientID,
		Secret:        hashed,
		RedirectURIs:  append([]string(nil), cfg.RedirectURIs...),
		GrantTypes:    fosite.Arguments{"authorization_code"},
		ResponseTypes: fosite.Arguments{"code"},
		Scopes:        append(fosite.Arguments(nil), scopes...),
	}, nil
}

func registerClients(
	ctx context.Context,
	registrar ClientRegistrar,
	clients []config.ClientConfig,
	scopes []string,
	cost int,
) error {
	for _, c := range clients {
		client, err := NewClient(c, scopes, cost)
		if err != nil {
			return err
		}
		if err := registrar.RegisterClient(ctx, client); err != nil {
			return fmt.Errorf("failed to register client %s: %w", c.ClientID, err)
		}
		logger.Debugw("registered client", "client_id", c.ClientID, "redirect_uris", c.RedirectURIs)
	}
	return nil
}
