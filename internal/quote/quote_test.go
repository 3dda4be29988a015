package quote

import (
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/catalogfi/stealthswapd/internal/store"
	"github.com/catalogfi/stealthswapd/internal/vault"
)

type stubRates struct {
	FuncMidRate func(direction store.Direction) (float64, error)
}

func (s stubRates) MidRate(direction store.Direction) (float64, error) {
	if s.FuncMidRate != nil {
		return s.FuncMidRate(direction)
	}
	return 150.0, nil
}

type stubLiquidity struct {
	FuncHasLiquidity func(direction store.Direction, amount uint64) (bool, error)
}

func (s stubLiquidity) HasLiquidity(direction store.Direction, amount uint64) (bool, error) {
	if s.FuncHasLiquidity != nil {
		return s.FuncHasLiquidity(direction, amount)
	}
	return true, nil
}

func testVault(t *testing.T) vault.Vault {
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	require.NoError(t, err)
	vlt, err := vault.New(db, "test-passphrase")
	require.NoError(t, err)
	return vlt
}

func testConfig() Config {
	return Config{
		MinTokenAmount: 1_000_000,
		MaxTokenAmount: 1_000_000_000,
		SpreadBps:      50,
		TTL:            time.Minute,
		SafetyMargin:   30 * time.Minute,
		DeadlineOne:    time.Hour,
	}
}

func TestQuoteAppliesSpreadInMakersFavor(t *testing.T) {
	svc := New(testConfig(), stubRates{}, stubLiquidity{}, testVault(t), [32]byte{0x01})

	q, err := svc.Quote(store.TokenToPrivate, 100_000_000)
	require.NoError(t, err)
	require.Less(t, q.Rate, 150.0, "token_to_private spread must discount the mid rate in the maker's favor")

	q2, err := svc.Quote(store.PrivateToToken, 100_000_000)
	require.NoError(t, err)
	require.Greater(t, q2.Rate, 150.0, "private_to_token spread must mark up the mid rate in the maker's favor")
}

func TestQuoteRejectsOutOfBoundsAmount(t *testing.T) {
	svc := New(testConfig(), stubRates{}, stubLiquidity{}, testVault(t), [32]byte{0x01})

	_, err := svc.Quote(store.TokenToPrivate, 1)
	require.Error(t, err)
}

func TestQuoteRejectsWhenLiquidityInsufficient(t *testing.T) {
	liq := stubLiquidity{FuncHasLiquidity: func(direction store.Direction, amount uint64) (bool, error) {
		return false, nil
	}}
	svc := New(testConfig(), stubRates{}, liq, testVault(t), [32]byte{0x01})

	_, err := svc.Quote(store.TokenToPrivate, 100_000_000)
	require.Error(t, err)
}

func TestAcceptPromotesQuoteIntoSwapRow(t *testing.T) {
	svc := New(testConfig(), stubRates{}, stubLiquidity{}, testVault(t), [32]byte{0x01})

	q, err := svc.Quote(store.TokenToPrivate, 100_000_000)
	require.NoError(t, err)

	swap, err := svc.Accept(q.QuoteID, "alice-pubkey", "alice-destination")
	require.NoError(t, err)
	require.Equal(t, store.TokenToPrivate, swap.Direction)
	require.Equal(t, q.TokenAmount, swap.TokenAmount)
	require.Equal(t, q.PrivateAmount, swap.PrivateAmount)
	require.NotEmpty(t, swap.PrivateDestination)
	require.True(t, swap.ExpiresAtTwo.After(swap.ExpiresAtOne))
}

func TestAcceptRejectsUnknownQuote(t *testing.T) {
	svc := New(testConfig(), stubRates{}, stubLiquidity{}, testVault(t), [32]byte{0x01})

	_, err := svc.Accept(mustRandomUUID(t), "alice-pubkey", "alice-destination")
	require.Error(t, err)
}

func TestAcceptRejectsExpiredQuote(t *testing.T) {
	cfg := testConfig()
	cfg.TTL = -time.Second // already expired the instant it's issued
	svc := New(cfg, stubRates{}, stubLiquidity{}, testVault(t), [32]byte{0x01})

	q, err := svc.Quote(store.TokenToPrivate, 100_000_000)
	require.NoError(t, err)

	_, err = svc.Accept(q.QuoteID, "alice-pubkey", "alice-destination")
	require.Error(t, err)
}

func TestAcceptConsumesQuoteExactlyOnce(t *testing.T) {
	svc := New(testConfig(), stubRates{}, stubLiquidity{}, testVault(t), [32]byte{0x01})

	q, err := svc.Quote(store.TokenToPrivate, 100_000_000)
	require.NoError(t, err)

	_, err = svc.Accept(q.QuoteID, "alice-pubkey", "alice-destination")
	require.NoError(t, err)

	_, err = svc.Accept(q.QuoteID, "alice-pubkey", "alice-destination")
	require.Error(t, err, "a quote must not be acceptable twice")
}

func TestSweepEvictsOnlyExpiredQuotes(t *testing.T) {
	cfg := testConfig()
	cfg.TTL = -time.Second
	vlt := testVault(t)
	svc := New(cfg, stubRates{}, stubLiquidity{}, vlt, [32]byte{0x01})

	_, err := svc.Quote(store.TokenToPrivate, 100_000_000)
	require.NoError(t, err)
	require.Len(t, svc.quotes, 1)

	svc.Sweep()
	require.Empty(t, svc.quotes)
}

func mustRandomUUID(t *testing.T) uuid.UUID {
	t.Helper()
	return uuid.New()
}
