package vault

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/catalogfi/stealthswapd/internal/crypto"
)

func openTestVault(t *testing.T) Vault {
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	require.NoError(t, err)

	v, err := New(db, "test-passphrase")
	require.NoError(t, err)
	return v
}

func TestPutGetRoundTrips(t *testing.T) {
	v := openTestVault(t)
	secret, err := crypto.GenerateSecret()
	require.NoError(t, err)

	require.NoError(t, v.Put("swap-1", secret))

	handle, err := v.Get("swap-1")
	require.NoError(t, err)
	require.Equal(t, secret, handle.Secret())
	handle.Release()

	var zero crypto.Secret
	require.Equal(t, zero, handle.Secret(), "release must zeroize the handle")
}

func TestGetMissingReturnsNotFound(t *testing.T) {
	v := openTestVault(t)
	_, err := v.Get("does-not-exist")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestEraseRemovesEntry(t *testing.T) {
	v := openTestVault(t)
	secret, err := crypto.GenerateSecret()
	require.NoError(t, err)
	require.NoError(t, v.Put("swap-2", secret))

	require.NoError(t, v.Erase("swap-2"))

	_, err = v.Get("swap-2")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestRejectsEmptyPassphrase(t *testing.T) {
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	require.NoError(t, err)

	_, err = New(db, "")
	require.ErrorIs(t, err, ErrKeyUnavailable)
}
