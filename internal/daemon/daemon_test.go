package daemon

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/catalogfi/stealthswapd/internal/chain/chaintest"
	"github.com/catalogfi/stealthswapd/internal/config"
)

func testConfig(t *testing.T) config.Config {
	t.Setenv(config.VaultPassphraseEnvVar, "test-passphrase")
	cfg := config.Default()
	cfg.Database.Driver = "sqlite"
	cfg.Database.DSN = fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())
	cfg.Server.BindAddress = "127.0.0.1:0"
	return cfg
}

func testChains() Chains {
	return Chains{
		Token:        chaintest.NewTokenChain(),
		Private:      chaintest.NewPrivateChain(),
		MakerPrivKey: [32]byte{0x01},
		SigningKey:   [32]byte{0x02},
	}
}

func TestNewBuildsEveryCollaborator(t *testing.T) {
	d, err := New(testConfig(t), testChains())
	require.NoError(t, err)
	require.NotNil(t, d.engine)
	require.NotNil(t, d.watcher)
	require.NotNil(t, d.server)
}

func TestRunServesUntilContextCancelled(t *testing.T) {
	d, err := New(testConfig(t), testChains())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- d.Run(ctx) }()

	// Give Resume/Start and the HTTP server a moment to come up before tearing down.
	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after context cancellation")
	}
}

func TestRateSourceFallsBackToParityWithoutMarketFeed(t *testing.T) {
	rs := rateSource{token: chaintest.NewTokenChain(), priv: chaintest.NewPrivateChain()}
	rate, err := rs.MidRate(0)
	require.NoError(t, err)
	require.Equal(t, 1.0, rate)
}

func TestLiquiditySourceAssumesFundedWithoutBalanceCapability(t *testing.T) {
	ls := liquiditySource{token: chaintest.NewTokenChain(), priv: chaintest.NewPrivateChain()}
	ok, err := ls.HasLiquidity(0, 1_000_000)
	require.NoError(t, err)
	require.True(t, ok)
}
