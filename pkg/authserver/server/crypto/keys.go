// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package crypto loads and describes the keys used by the authorization server.
package crypto

import (
	"crypto"
	"crypto/ecdsa"
	"crypto/ed25519"
	"crypto/elliptic"
	"crypto/rsa"
	"crypto/x509"
	"encoding/base64"
	"encoding/pem"
	"fmt"
	"os"
	"strings"

	"github.com/go-jose/go-jose/v4"
)

const (
	// MinRSAKeyBits is the smallest RSA modulus accepted for signing.
	MinRSAKeyBits = 2048

	// MinSecretLength is the minimum HMAC secret length in bytes.
	MinSecretLength = 32
)

// LoadSigningKey loads a private key from a PEM file.
// RSA (PKCS1, PKCS8), ECDSA (SEC1, PKCS8) and Ed25519 (PKCS8) keys are accepted.
func LoadSigningKey(keyPath string) (crypto.Signer, error) {
	keyPEM, err := os.ReadFile(keyPath) // #nosec G304 - keyPath comes from the operator's config
	if err != nil {
		return nil, fmt.Errorf("failed to read signing key: %w", err)
	}

	block, _ := pem.Decode(keyPEM)
	if block == nil {
		return nil, fmt.Errorf("failed to decode PEM block from signing key")
	}

	signer, err := parsePrivateKey(block.Bytes)
	if err != nil {
		return nil, err
	}

	if rsaKey, ok := signer.(*rsa.PrivateKey); ok && rsaKey.N.BitLen() < MinRSAKeyBits {
		return nil, fmt.Errorf("RSA key size %d bits is below minimum required %d bits",
			rsaKey.N.BitLen(), MinRSAKeyBits)
	}
	return signer, nil
}

func parsePrivateKey(der []byte) (crypto.Signer, error) {
	if rsaKey, err := x509.ParsePKCS1PrivateKey(der); err == nil {
		return rsaKey, nil
	}
	if ecKey, err := x509.ParseECPrivateKey(der); err == nil {
		return ecKey, nil
	}

	key, err := x509.ParsePKCS8PrivateKey(der)
	if err != nil {
		return nil, fmt.Errorf("failed to parse signing key: %w", err)
	}
	signer, ok := key.(crypto.Signer)
	if !ok {
		return nil, fmt.Errorf("signing key does not implement crypto.Signer")
	}
	return signer, nil
}

// DeriveKeyID computes the RFC 7638 JWK thumbprint of the public key,
// base64url encoded without padding.
func DeriveKeyID(key crypto.Signer) (string, error) {
	jwk := jose.JSONWebKey{Key: key.Public()}
	thumbprint, err := jwk.Thumbprint(crypto.SHA256)
	if err != nil {
		return "", fmt.Errorf("failed to compute key thumbprint: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(thumbprint), nil
}

// DeriveAlgorithm returns the JWS algorithm matching the key type.
func DeriveAlgorithm(key crypto.Signer) (string, error) {
	switch k := key.(type) {
	case *rsa.PrivateKey:
		return "RS256", nil
	case *ecdsa.PrivateKey:
		return deriveECAlgorithm(k.Curve)
	case ed25519.PrivateKey:
		return "EdDSA", nil
	default:
		return "", fmt.Errorf("unsupported key type: %T", key)
	}
}

func deriveECAlgorithm(curve elliptic.Curve) (string, error) {
	switch curve {
	case elliptic.P256():
		return "ES256", nil
	case elliptic.P384():
		return "ES384", nil
	case elliptic.P521():
		return "ES512", nil
	default:
		return "", fmt.Errorf("unsupported EC curve: %s", curve.Params().Name)
	}
}

// ValidateAlgorithmForKey checks that alg can be used with key.
func ValidateAlgorithmForKey(alg string, key crypto.Signer) error {
	switch k := key.(type) {
	case *rsa.PrivateKey:
		switch alg {
		case "RS256", "RS384", "RS512":
			return nil
		default:
			return fmt.Errorf("algorithm %s is not compatible with RSA key", alg)
		}
	case *ecdsa.PrivateKey:
		expected, err := deriveECAlgorithm(k.Curve)
		if err != nil {
			return err
		}
		if alg != expected {
			return fmt.Errorf("algorithm %s is not compatible with EC key using curve %s (expected %s)",
				alg, k.Curve.Params().Name, expected)
		}
		return nil
	case ed25519.PrivateKey:
		if alg != "EdDSA" {
			return fmt.Errorf("algorithm %s is not compatible with Ed25519 key", alg)
		}
		return nil
	default:
		return fmt.Errorf("unsupported key type: %T", key)
	}
}

// SigningKeyParams is a private key with its key id and algorithm.
type SigningKeyParams struct {
	Key       crypto.Signer
	KeyID     string
	Algorithm string
}

// DeriveSigningKeyParams fills in keyID and algorithm from the key when they
// are empty, and validates them against the key otherwise.
func DeriveSigningKeyParams(key crypto.Signer, keyID, algorithm string) (*SigningKeyParams, error) {
	params := &SigningKeyParams{Key: key, KeyID: keyID, Algorithm: algorithm}

	if params.KeyID == "" {
		derived, err := DeriveKeyID(key)
		if err != nil {
			return nil, fmt.Errorf("failed to derive key ID: %w", err)
		}
		params.KeyID = derived
	}

	if params.Algorithm == "" {
		derived, err := DeriveAlgorithm(key)
		if err != nil {
			return nil, fmt.Errorf("failed to derive algorithm: %w", err)
		}
		params.Algorithm = derived
	} else if err := ValidateAlgorithmForKey(params.Algorithm, key); err != nil {
		return nil, err
	}

	return params, nil
}

// LoadHMACSecret reads the secret used for opaque authorization codes and
// access tokens. An empty path returns nil, which makes the server generate
// a random secret. Surrounding whitespace is trimmed.
func LoadHMACSecret(secretPath string) ([]byte, error) {
	if secretPath == "" {
		return nil, nil
	}

	data, err := os.ReadFile(secretPath) // #nosec G304 - secretPath comes from the process environment
	if err != nil {
		return nil, fmt.Errorf("failed to read HMAC secret file: %w", err)
	}

	secret := []byte(strings.TrimSpace(string(data)))
	if len(secret) < MinSecretLength {
		return nil, fmt.Errorf("HMAC secret must be at least %d bytes, got %d bytes", MinSecretLength, len(secret))
	}
	return secret, nil
}
