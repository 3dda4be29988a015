package crypto

import (
	"crypto/rand"
	"crypto/sha512"
	"fmt"

	"filippo.io/edwards25519"
)

// AdaptorPoint is the public commitment T = s*G to an adaptor secret s.
// It parameterizes presigning; anyone who later sees a completed signature
// against this point can recover s.
type AdaptorPoint [32]byte

// PreSignature is a Schnorr-style pre-signature: a nonce commitment plus a
// response scalar that is short by exactly the adaptor secret s. Completing
// it with s yields a valid signature; observing both the pre-signature and
// the completed signature lets anyone extract s.
type PreSignature struct {
	R [32]byte // nonce commitment r*G + T, T the adaptor point
	S [32]byte // response scalar, missing the adaptor offset
}

// Signature is a standard two-scalar Schnorr signature over edwards25519.
type Signature struct {
	R [32]byte
	S [32]byte
}

// ComputeAdaptorPoint derives T = s*G for a secret s.
func ComputeAdaptorPoint(s Secret) (AdaptorPoint, error) {
	sc, err := scalarFromSecret(s)
	if err != nil {
		return AdaptorPoint{}, fmt.Errorf("compute adaptor point: %w", err)
	}
	p := new(edwards25519.Point).ScalarBaseMult(sc)
	var out AdaptorPoint
	copy(out[:], p.Bytes())
	return out, nil
}

// Presign produces a pre-signature over message under signingKey, encrypted
// under the adaptor point T. The signing key is a 32-byte edwards25519
// scalar (not a seed — callers derive it the same way they would any
// Ed25519 private scalar).
func Presign(message []byte, signingKey [32]byte, t AdaptorPoint) (PreSignature, error) {
	x, err := edwards25519.NewScalar().SetCanonicalBytes(signingKey[:])
	if err != nil {
		return PreSignature{}, fmt.Errorf("presign: invalid signing key: %w", err)
	}
	T, err := new(edwards25519.Point).SetBytes(t[:])
	if err != nil {
		return PreSignature{}, fmt.Errorf("presign: invalid adaptor point: %w", err)
	}

	r, err := randomScalar()
	if err != nil {
		return PreSignature{}, fmt.Errorf("presign: nonce: %w", err)
	}

	// Public nonce commitment is R' = r*G + T; the verifier-visible R is
	// offset by the adaptor point until completion reveals s.
	Rprime := new(edwards25519.Point).ScalarBaseMult(r)
	Rpub := new(edwards25519.Point).Add(Rprime, T)

	e := challenge(Rpub.Bytes(), message)
	s := edwards25519.NewScalar().MultiplyAdd(e, x, r) // s = e*x + r

	var pre PreSignature
	copy(pre.R[:], Rpub.Bytes())
	copy(pre.S[:], s.Bytes())
	return pre, nil
}

// Complete turns a pre-signature into a valid signature by adding the
// adaptor secret's scalar to the response.
func Complete(pre PreSignature, s Secret) (Signature, error) {
	resp, err := edwards25519.NewScalar().SetCanonicalBytes(pre.S[:])
	if err != nil {
		return Signature{}, fmt.Errorf("complete: invalid pre-signature: %w", err)
	}
	sc, err := scalarFromSecret(s)
	if err != nil {
		return Signature{}, fmt.Errorf("complete: %w", err)
	}
	full := edwards25519.NewScalar().Add(resp, sc)

	var sig Signature
	copy(sig.R[:], pre.R[:])
	copy(sig.S[:], full.Bytes())
	return sig, nil
}

// ExtractSecret recovers s from a pre-signature and its completion: since
// sig.S = pre.S + s, s = sig.S - pre.S (mod the group order).
func ExtractSecret(pre PreSignature, sig Signature) (Secret, error) {
	if pre.R != sig.R {
		return Secret{}, fmt.Errorf("extract secret: nonce mismatch, not a completion of this pre-signature")
	}
	full, err := edwards25519.NewScalar().SetCanonicalBytes(sig.S[:])
	if err != nil {
		return Secret{}, fmt.Errorf("extract secret: invalid signature: %w", err)
	}
	resp, err := edwards25519.NewScalar().SetCanonicalBytes(pre.S[:])
	if err != nil {
		return Secret{}, fmt.Errorf("extract secret: invalid pre-signature: %w", err)
	}
	diff := edwards25519.NewScalar().Subtract(full, resp)

	var s Secret
	copy(s[:], diff.Bytes())
	return s, nil
}

// Verify checks a completed signature against message and pubkey.
func Verify(sig Signature, message []byte, pubkey [32]byte) (bool, error) {
	A, err := new(edwards25519.Point).SetBytes(pubkey[:])
	if err != nil {
		return false, fmt.Errorf("verify: invalid pubkey: %w", err)
	}
	sc, err := edwards25519.NewScalar().SetCanonicalBytes(sig.S[:])
	if err != nil {
		return false, fmt.Errorf("verify: invalid signature scalar: %w", err)
	}
	e := challenge(sig.R[:], message)

	// Check s*G == R + e*A.
	sG := new(edwards25519.Point).ScalarBaseMult(sc)
	eA := new(edwards25519.Point).ScalarMult(e, A)
	R, err := new(edwards25519.Point).SetBytes(sig.R[:])
	if err != nil {
		return false, fmt.Errorf("verify: invalid R: %w", err)
	}
	rhs := new(edwards25519.Point).Add(R, eA)

	return sG.Equal(rhs) == 1, nil
}

func randomScalar() (*edwards25519.Scalar, error) {
	var raw [64]byte
	if _, err := rand.Read(raw[:]); err != nil {
		return nil, err
	}
	return edwards25519.NewScalar().SetUniformBytes(raw[:])
}

// challenge computes a Fiat-Shamir challenge scalar e = H(R || message).
func challenge(r, message []byte) *edwards25519.Scalar {
	h := sha512.New()
	h.Write(r)
	h.Write(message)
	digest := h.Sum(nil)
	e, err := edwards25519.NewScalar().SetUniformBytes(digest)
	if err != nil {
		// sha512 output is always exactly 64 bytes, which SetUniformBytes
		// always accepts; this branch is unreachable.
		panic(fmt.Sprintf("challenge: unreachable: %v", err))
	}
	return e
}
