// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package keys

// Config selects where the signing key comes from.
type Config struct {
	// SigningKeyFile is the path of a PEM-encoded private key. When empty an
	// ephemeral key is generated, and ID tokens stop verifying after a restart.
	SigningKeyFile string
}

// NewProviderFromConfig returns a FileProvider when a key file is configured
// and a GeneratingProvider otherwise.
func NewProviderFromConfig(cfg Config) (KeyProvider, error) {
	if cfg.SigningKeyFile != "" {
		return NewFileProvider(cfg)
	}
	return NewGeneratingProvider(DefaultAlgorithm), nil
}
