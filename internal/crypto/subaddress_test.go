package crypto

import (
	"crypto/rand"
	"testing"

	"filippo.io/edwards25519"
	"github.com/stretchr/testify/require"
)

// randomBasePoint produces a valid compressed edwards25519 point by
// multiplying the base point with a random scalar, standing in for a
// wallet's public spend key A = a*G.
func randomBasePoint(t *testing.T) [SubaddressSize]byte {
	var seed [64]byte
	_, err := rand.Read(seed[:])
	require.NoError(t, err)
	sc, err := edwards25519.NewScalar().SetUniformBytes(seed[:])
	require.NoError(t, err)
	p := new(edwards25519.Point).ScalarBaseMult(sc)

	var out [SubaddressSize]byte
	copy(out[:], p.Bytes())
	return out
}

func TestDeriveSubaddressIsDeterministic(t *testing.T) {
	base := randomBasePoint(t)
	var swapID [32]byte
	_, err := rand.Read(swapID[:])
	require.NoError(t, err)

	sub1, err := DeriveSubaddress(base, swapID)
	require.NoError(t, err)
	sub2, err := DeriveSubaddress(base, swapID)
	require.NoError(t, err)

	require.Equal(t, sub1, sub2, "derivation must be reproducible bit-for-bit")
	require.NotEqual(t, base, sub1, "a derived subaddress must differ from the base address")
}

func TestDeriveSubaddressVariesWithSwapID(t *testing.T) {
	base := randomBasePoint(t)
	var idOne, idTwo [32]byte
	idOne[0] = 1
	idTwo[0] = 2

	subOne, err := DeriveSubaddress(base, idOne)
	require.NoError(t, err)
	subTwo, err := DeriveSubaddress(base, idTwo)
	require.NoError(t, err)

	require.NotEqual(t, subOne, subTwo)
}

func TestDeriveSubaddressRejectsInvalidBase(t *testing.T) {
	// y = 2 has no matching x on the curve, so this encoding is not a point.
	// (All-0xff bytes would not do: the decoder reduces that y to 18, which
	// is on the curve.)
	var bogus [SubaddressSize]byte
	bogus[0] = 0x02
	var swapID [32]byte

	_, err := DeriveSubaddress(bogus, swapID)
	require.Error(t, err)
}
