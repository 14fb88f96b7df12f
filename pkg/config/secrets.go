// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/hashicorp/go-multierror"

	derrors "github.com/TastyPi/discord-oidc/pkg/errors"
)

// ReadSecretFile returns the contents of path with surrounding whitespace removed.
func ReadSecretFile(path string) (string, error) {
	data, err := os.ReadFile(path) // #nosec G304 - path is chosen by the operator
	if err != nil {
		return "", fmt.Errorf("failed to read secret file %s: %w", path, err)
	}
	secret := strings.TrimSpace(string(data))
	if secret == "" {
		return "", fmt.Errorf("secret file %s is empty", path)
	}
	return secret, nil
}

// resolveSecrets replaces every *_file reference with the file's contents.
// Validate must have run first so exactly one source is set.
func (c *Config) resolveSecrets() error {
	var result *multierror.Error

	for i := range c.Clients {
		client := &c.Clients[i]
		if err := resolveInto(&client.ClientSecret, &client.ClientSecretFile); err != nil {
			result = multierror.Append(result, fmt.Errorf("clients[%d] (%s): %w", i, client.ClientID, err))
		}
	}

	if err := resolveInto(&c.Discord.ClientSecret, &c.Discord.ClientSecretFile); err != nil {
		result = multierror.Append(result, fmt.Errorf("discord: %w", err))
	}

	if r := c.Storage.Redis; r != nil {
		if err := resolveInto(&r.Password, &r.PasswordFile); err != nil {
			result = multierror.Append(result, fmt.Errorf("storage.redis: %w", err))
		}
	}

	if err := result.ErrorOrNil(); err != nil {
		return derrors.NewConfigInvalidError("failed to resolve secrets", err)
	}
	return nil
}

func resolveInto(secret, file *string) error {
	if *file == "" {
		return nil
	}
	value, err := ReadSecretFile(*file)
	if err != nil {
		return err
	}
	*secret = value
	*file = ""
	return nil
}
