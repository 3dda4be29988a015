package crypto

import (
	"crypto/sha256"
	"fmt"
	"math/big"

	"filippo.io/edwards25519"
)

// SubaddressSize is the width of a compressed edwards25519 point, used for
// both the wallet's base address and its derived subaddresses.
const SubaddressSize = 32

// groupOrder is the order l of the edwards25519 base point's subgroup.
var groupOrder, _ = new(big.Int).SetString("1000000000000000000000000000000014def9dea2f79cd65812631a5cf5d3ed", 16)

// reduceScalar performs a full reduction of a 32-byte hash modulo the
// group order and returns it as a canonical little-endian scalar.
func reduceScalar(digest []byte) (*edwards25519.Scalar, error) {
	// digest is big-endian from sha256.Sum; interpret as a big integer,
	// reduce mod the group order, re-encode little-endian.
	n := new(big.Int).SetBytes(digest)
	n.Mod(n, groupOrder)

	be := n.Bytes()
	var le [32]byte
	for i, b := range be {
		le[len(be)-1-i] = b
	}

	return edwards25519.NewScalar().SetCanonicalBytes(le[:])
}

// DeriveSubaddress computes A_sub = A + H(A || swap_id) * G, the same
// construction Monero uses to derive a one-time subaddress under a shared
// wallet seed without requiring the seed holder to import anything.
//
// base must be a valid compressed edwards25519 point (the wallet's public
// spend key); swapID is the 32-byte swap identifier.
func DeriveSubaddress(base [SubaddressSize]byte, swapID [32]byte) ([SubaddressSize]byte, error) {
	A, err := new(edwards25519.Point).SetBytes(base[:])
	if err != nil {
		return [SubaddressSize]byte{}, fmt.Errorf("derive subaddress: invalid base point: %w", err)
	}

	h := sha256.New()
	h.Write(base[:])
	h.Write(swapID[:])
	digest := h.Sum(nil)

	tweak, err := reduceScalar(digest)
	if err != nil {
		return [SubaddressSize]byte{}, fmt.Errorf("derive subaddress: reduce tweak: %w", err)
	}

	tweakPoint := new(edwards25519.Point).ScalarBaseMult(tweak)
	sub := new(edwards25519.Point).Add(A, tweakPoint)

	var out [SubaddressSize]byte
	copy(out[:], sub.Bytes())
	return out, nil
}
