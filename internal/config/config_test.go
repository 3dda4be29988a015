package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLoadFallsBackToDefaultsWhenFileAbsent(t *testing.T) {
	t.Setenv(EnvVar, filepath.Join(t.TempDir(), "does-not-exist.yaml"))
	t.Setenv(VaultPassphraseEnvVar, "correct-horse-battery-staple")

	cfg, err := Load()
	require.NoError(t, err)
	require.Equal(t, Default().Quoting.MinUSDC, cfg.Quoting.MinUSDC)
	require.Equal(t, "sqlite", cfg.Database.Driver)
}

func TestLoadReadsYAMLFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
quoting:
  min_usdc: 5000000
  max_usdc: 20000000000
  spread_bps: 75
database:
  driver: postgres
  dsn: "postgres://localhost/stealthswapd"
`), 0o600))

	t.Setenv(EnvVar, path)
	t.Setenv(VaultPassphraseEnvVar, "correct-horse-battery-staple")

	cfg, err := Load()
	require.NoError(t, err)
	require.EqualValues(t, 5_000_000, cfg.Quoting.MinUSDC)
	require.EqualValues(t, 75, cfg.Quoting.SpreadBps)
	require.Equal(t, "postgres", cfg.Database.Driver)
}

func TestValidateRejectsInvertedQuotingRange(t *testing.T) {
	t.Setenv(VaultPassphraseEnvVar, "x")
	cfg := Default()
	cfg.Quoting.MinUSDC, cfg.Quoting.MaxUSDC = cfg.Quoting.MaxUSDC, cfg.Quoting.MinUSDC

	require.Error(t, cfg.Validate())
}

func TestValidateRejectsSpreadAboveCap(t *testing.T) {
	t.Setenv(VaultPassphraseEnvVar, "x")
	cfg := Default()
	cfg.Quoting.SpreadBps = 10_001

	require.Error(t, cfg.Validate())
}

func TestValidateRequiresVaultPassphrase(t *testing.T) {
	t.Setenv(VaultPassphraseEnvVar, "")
	cfg := Default()

	require.Error(t, cfg.Validate())
}

func TestWriteExampleProducesALoadableFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	want := Default()
	want.Database.Driver = "postgres"
	want.Database.DSN = "postgres://localhost/stealthswapd"

	require.NoError(t, WriteExample(path, want))

	t.Setenv(EnvVar, path)
	t.Setenv(VaultPassphraseEnvVar, "correct-horse-battery-staple")

	got, err := Load()
	require.NoError(t, err)
	require.Equal(t, want.Database.Driver, got.Database.Driver)
	require.Equal(t, want.Database.DSN, got.Database.DSN)
	require.Equal(t, want.Quoting.MinUSDC, got.Quoting.MinUSDC)
	require.Equal(t, want.Solana.USDCMint, got.Solana.USDCMint)
}

func TestValidateRejectsUnknownDriver(t *testing.T) {
	t.Setenv(VaultPassphraseEnvVar, "x")
	cfg := Default()
	cfg.Database.Driver = "mysql"

	require.Error(t, cfg.Validate())
}
