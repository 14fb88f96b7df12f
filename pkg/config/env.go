// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"fmt"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

// DefaultListenAddr is where the server listens when nothing else is configured.
const DefaultListenAddr = ":3000"

// Env holds process settings read from the environment.
type Env struct {
	// ConfigPath is the location of the YAML configuration file.
	ConfigPath string `env:"DISCORD_OIDC_CONFIG"`

	// ListenAddr is the address the HTTP server binds to.
	ListenAddr string `env:"DISCORD_OIDC_LISTEN" envDefault:":3000"`

	// HMACSecretFile holds the secret for opaque tokens. A random secret is
	// used when unset, which invalidates issued tokens on restart.
	HMACSecretFile string `env:"DISCORD_OIDC_HMAC_SECRET_FILE"`
}

// LoadEnv reads process settings, loading a .env file first when present.
func LoadEnv() (*Env, error) {
	_ = godotenv.Load()
	return parseEnv(env.Options{})
}

func parseEnv(opts env.Options) (*Env, error) {
	e := &Env{}
	if err := env.ParseWithOptions(e, opts); err != nil {
		return nil, fmt.Errorf("parsing environment: %w", err)
	}
	return e, nil
}
