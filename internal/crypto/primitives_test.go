package crypto

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestGenerateSecretIsUniqueAndCanonical(t *testing.T) {
	a, err := GenerateSecret()
	require.NoError(t, err)
	b, err := GenerateSecret()
	require.NoError(t, err)
	require.NotEqual(t, a, b)

	_, err = scalarFromSecret(a)
	require.NoError(t, err, "generated secret must be a canonical scalar")
}

func TestHashSecretIsDeterministic(t *testing.T) {
	s, err := GenerateSecret()
	require.NoError(t, err)

	h1 := HashSecret(s)
	h2 := HashSecret(s)
	require.Equal(t, h1, h2)

	other, err := GenerateSecret()
	require.NoError(t, err)
	require.NotEqual(t, HashSecret(s), HashSecret(other))
}

func TestWipeZeroesSecret(t *testing.T) {
	s, err := GenerateSecret()
	require.NoError(t, err)

	Wipe(&s)
	var zero Secret
	require.Equal(t, zero, s)
}
