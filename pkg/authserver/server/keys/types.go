// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package keys provides the key that signs ID tokens and its public half
// for the JWKS endpoint.
package keys

import (
	"crypto"
	"time"
)

// DefaultAlgorithm is used for generated keys.
const DefaultAlgorithm = "ES256"

// SigningKeyData is a private signing key and its metadata.
type SigningKeyData struct {
	// KeyID is the RFC 7638 thumbprint, published as "kid".
	KeyID string

	// Algorithm is the JWS algorithm, e.g. "ES256" or "RS256".
	Algorithm string

	Key crypto.Signer

	// CreatedAt is when the key was generated or loaded.
	CreatedAt time.Time
}

// PublicKeyData is the verification half of a signing key.
type PublicKeyData struct {
	KeyID     string
	Algorithm string
	PublicKey crypto.PublicKey
	CreatedAt time.Time
}

func (k *SigningKeyData) clone() *SigningKeyData {
	c := *k
	return &c
}

func (k *SigningKeyData) public() *PublicKeyData {
	return &PublicKeyData{
		KeyID:     k.KeyID,
		Algorithm: k.Algorithm,
		PublicKey: k.Key.Public(),
		CreatedAt: k.CreatedAt,
	}
}
