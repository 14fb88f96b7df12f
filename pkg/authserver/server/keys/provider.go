// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package keys

import (
	"context"
	"crypto"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"fmt"
	"sync"
	"time"

	servercrypto "github.com/TastyPi/discord-oidc/pkg/authserver/server/crypto"
	"github.com/TastyPi/discord-oidc/pkg/logger"
)

// KeyProvider supplies the signing key and the keys published in the JWKS.
type KeyProvider interface {
	// SigningKey returns the key used for new ID tokens.
	SigningKey(ctx context.Context) (*SigningKeyData, error)

	// PublicKeys returns every key a relying party may see in a valid token.
	PublicKeys(ctx context.Context) ([]*PublicKeyData, error)
}

// FileProvider serves a key loaded once from a PEM file.
type FileProvider struct {
	signingKey *SigningKeyData
}

// NewFileProvider loads cfg.SigningKeyFile and derives its key id and algorithm.
func NewFileProvider(cfg Config) (*FileProvider, error) {
	if cfg.SigningKeyFile == "" {
		return nil, fmt.Errorf("signing key file is required")
	}

	signer, err := servercrypto.LoadSigningKey(cfg.SigningKeyFile)
	if err != nil {
		return nil, fmt.Errorf("failed to load signing key: %w", err)
	}

	params, err := servercrypto.DeriveSigningKeyParams(signer, "", "")
	if err != nil {
		return nil, fmt.Errorf("failed to derive key parameters: %w", err)
	}

	logger.Debugw("loaded signing key", "key_id", params.KeyID, "algorithm", params.Algorithm)
	return &FileProvider{signingKey: &SigningKeyData{
		KeyID:     params.KeyID,
		Algorithm: params.Algorithm,
		Key:       params.Key,
		CreatedAt: time.Now(),
	}}, nil
}

// SigningKey returns the loaded key.
func (p *FileProvider) SigningKey(_ context.Context) (*SigningKeyData, error) {
	return p.signingKey.clone(), nil
}

// PublicKeys returns the public half of the loaded key.
func (p *FileProvider) PublicKeys(_ context.Context) ([]*PublicKeyData, error) {
	return []*PublicKeyData{p.signingKey.public()}, nil
}

// GeneratingProvider creates an EC key on first use and keeps it in memory.
type GeneratingProvider struct {
	algorithm string
	mu        sync.Mutex
	key       *SigningKeyData
}

// NewGeneratingProvider creates a provider for algorithm ("ES256", "ES384"
// or "ES512"). An empty algorithm means DefaultAlgorithm.
func NewGeneratingProvider(algorithm string) *GeneratingProvider {
	if algorithm == "" {
		algorithm = DefaultAlgorithm
	}
	return &GeneratingProvider{algorithm: algorithm}
}

// SigningKey returns the generated key, creating it on the first call.
func (p *GeneratingProvider) SigningKey(_ context.Context) (*SigningKeyData, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.key == nil {
		key, err := p.generateKey()
		if err != nil {
			return nil, err
		}
		logger.Warnw("generated ephemeral signing key, ID tokens will not verify after restart",
			"algorithm", key.Algorithm,
			"key_id", key.KeyID,
		)
		p.key = key
	}
	return p.key.clone(), nil
}

// PublicKeys returns the public half of the generated key.
func (p *GeneratingProvider) PublicKeys(ctx context.Context) ([]*PublicKeyData, error) {
	key, err := p.SigningKey(ctx)
	if err != nil {
		return nil, err
	}
	return []*PublicKeyData{key.public()}, nil
}

func (p *GeneratingProvider) generateKey() (*SigningKeyData, error) {
	privateKey, err := generatePrivateKey(p.algorithm)
	if err != nil {
		return nil, fmt.Errorf("failed to generate signing key: %w", err)
	}

	keyID, err := servercrypto.DeriveKeyID(privateKey)
	if err != nil {
		return nil, fmt.Errorf("failed to derive key ID: %w", err)
	}

	return &SigningKeyData{
		KeyID:     keyID,
		Algorithm: p.algorithm,
		Key:       privateKey,
		CreatedAt: time.Now(),
	}, nil
}

func generatePrivateKey(algorithm string) (crypto.Signer, error) {
	switch algorithm {
	case "ES256":
		return ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	case "ES384":
		return ecdsa.GenerateKey(elliptic.P384(), rand.Reader)
	case "ES512":
		return ecdsa.GenerateKey(elliptic.P521(), rand.Reader)
	default:
		return nil, fmt.Errorf("unsupported algorithm for key generation: %s", algorithm)
	}
}

var (
	_ KeyProvider = (*FileProvider)(nil)
	_ KeyProvider = (*GeneratingProvider)(nil)
)
