package daemon

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestPIDFileWriteThenRemove(t *testing.T) {
	path := filepath.Join(t.TempDir(), "stealthswapd.pid")
	p := NewPIDFile(path)

	require.False(t, p.Active())
	require.NoError(t, p.Write())
	require.True(t, p.Active())
	require.NoError(t, p.Remove())
	require.False(t, p.Active())
}

func TestPIDFileWriteRejectsWhenAlreadyActive(t *testing.T) {
	path := filepath.Join(t.TempDir(), "stealthswapd.pid")
	p := NewPIDFile(path)

	require.NoError(t, p.Write())
	require.Error(t, p.Write())
}

func TestPIDFileRemoveIsIdempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "stealthswapd.pid")
	p := NewPIDFile(path)
	require.NoError(t, p.Remove())
}
