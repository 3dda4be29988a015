// Package crypto implements the cryptographic primitives the swap engine
// composes: hash-locks, Ed25519 adaptor signatures, and Monero-style
// subaddress derivation. It does not invent new cryptography; it wires
// filippo.io/edwards25519's scalar and point arithmetic into the specific
// constructions the swap protocol needs.
package crypto

import (
	"crypto/rand"
	"crypto/sha256"
	"fmt"

	"filippo.io/edwards25519"
)

// SecretSize is the width of the adaptor secret scalar, in bytes.
const SecretSize = 32

// Secret is a 32-byte uniformly-random scalar. Callers that hold one
// outside the vault are expected to zero it via Wipe as soon as possible.
type Secret [SecretSize]byte

// Hash is a hash-lock commitment H = SHA-256(s).
type Hash [sha256.Size]byte

// GenerateSecret draws a fresh secret from a cryptographically secure
// source. It is reduced modulo the curve order so it is always usable as
// an edwards25519 scalar.
func GenerateSecret() (Secret, error) {
	var raw [64]byte
	if _, err := rand.Read(raw[:]); err != nil {
		return Secret{}, fmt.Errorf("generate secret: %w", err)
	}
	scalar, err := edwards25519.NewScalar().SetUniformBytes(raw[:])
	if err != nil {
		return Secret{}, fmt.Errorf("generate secret: reduce scalar: %w", err)
	}
	var s Secret
	copy(s[:], scalar.Bytes())
	return s, nil
}

// HashSecret computes the hash-lock H = SHA-256(s).
func HashSecret(s Secret) Hash {
	return Hash(sha256.Sum256(s[:]))
}

// Wipe zeroes a secret's backing bytes in place.
func Wipe(s *Secret) {
	for i := range s {
		s[i] = 0
	}
}

func scalarFromSecret(s Secret) (*edwards25519.Scalar, error) {
	sc, err := edwards25519.NewScalar().SetCanonicalBytes(s[:])
	if err != nil {
		return nil, fmt.Errorf("secret is not a canonical scalar: %w", err)
	}
	return sc, nil
}
