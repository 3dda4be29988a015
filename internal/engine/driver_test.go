package engine

import (
	"context"
	"encoding/hex"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/catalogfi/stealthswapd/internal/chain"
	"github.com/catalogfi/stealthswapd/internal/chain/chaintest"
	swapcrypto "github.com/catalogfi/stealthswapd/internal/crypto"
	"github.com/catalogfi/stealthswapd/internal/store"
	"github.com/catalogfi/stealthswapd/internal/vault"
)

func openTestDB(t *testing.T) *gorm.DB {
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		NowFunc: func() time.Time { return time.Now().UTC() },
	})
	require.NoError(t, err)
	return db
}

func newTestEngine(t *testing.T) (*Engine, store.Store, vault.Vault, *chaintest.TokenChain, *chaintest.PrivateChain) {
	db := openTestDB(t)
	st, err := store.New(db)
	require.NoError(t, err)
	vlt, err := vault.New(db, "test-passphrase")
	require.NoError(t, err)

	token := chaintest.NewTokenChain()
	priv := chaintest.NewPrivateChain()

	logger := zaptest.NewLogger(t)
	var signingKey [32]byte
	e := New(st, vlt, token, priv, signingKey, logger)
	return e, st, vlt, token, priv
}

func waitForState(t *testing.T, st store.Store, swapID string, want store.State) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		swap, err := st.Get(swapID)
		require.NoError(t, err)
		if swap.State == want {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("swap never reached state %s", want)
}

func newSwapRow(swapID string, direction store.Direction) *store.Swap {
	now := time.Now().UTC()
	return &store.Swap{
		SwapID:             swapID,
		QuoteID:            "quote-" + swapID,
		Direction:          direction,
		TokenAmount:        100_000_000,
		PrivateAmount:      1_000_000_000_000,
		SecretHash:         hex.EncodeToString(make([]byte, 32)),
		PrivateDestination: "dest",
		CounterpartyPubKey: "alice",
		ExpiresAtOne:       now.Add(time.Hour),
		ExpiresAtTwo:       now.Add(2 * time.Hour),
	}
}

func TestEndToEndHappyPath(t *testing.T) {
	e, st, vlt, token, priv := newTestEngine(t)
	defer e.Shutdown()

	swap := newSwapRow("11", store.TokenToPrivate)
	require.NoError(t, vlt.Put(swap.SwapID, mustSecret(t)))
	require.NoError(t, e.Accept(swap))

	waitForState(t, st, swap.SwapID, store.LockedOne)

	e.Deliver(Event{
		Kind: EventCounterpartyLockConfirmed, SwapID: swap.SwapID, ArtifactID: "lock-1",
		Lock: &LockObservation{Amount: swap.TokenAmount, HashLock: [32]byte{}, Destination: swap.CounterpartyPubKey},
	})
	waitForState(t, st, swap.SwapID, store.LockedBoth)

	e.Deliver(Event{Kind: EventMakerPublishesAdaptor, SwapID: swap.SwapID, ArtifactID: "publish"})
	waitForState(t, st, swap.SwapID, store.Revealed)

	e.Deliver(Event{Kind: EventPayoutObservedOnBothSides, SwapID: swap.SwapID, ArtifactID: "payout"})
	waitForState(t, st, swap.SwapID, store.Completed)

	_, err := vlt.Get(swap.SwapID)
	require.ErrorIs(t, err, vault.ErrNotFound, "secret must be erased on the terminal transition")

	_ = token
	_ = priv
}

func TestDuplicateEventYieldsSameFinalState(t *testing.T) {
	e, st, vlt, _, _ := newTestEngine(t)
	defer e.Shutdown()

	swap := newSwapRow("22", store.TokenToPrivate)
	require.NoError(t, vlt.Put(swap.SwapID, mustSecret(t)))
	require.NoError(t, e.Accept(swap))
	waitForState(t, st, swap.SwapID, store.LockedOne)

	lockEvent := Event{
		Kind: EventCounterpartyLockConfirmed, SwapID: swap.SwapID, ArtifactID: "lock-1",
		Lock: &LockObservation{Amount: swap.TokenAmount, HashLock: [32]byte{}, Destination: swap.CounterpartyPubKey},
	}
	e.Deliver(lockEvent)
	e.Deliver(lockEvent) // redelivered, e.g. after a watcher retry
	waitForState(t, st, swap.SwapID, store.LockedBoth)

	time.Sleep(20 * time.Millisecond)
	got, err := st.Get(swap.SwapID)
	require.NoError(t, err)
	require.Equal(t, store.LockedBoth, got.State)
}

// Accepting a TokenToPrivate swap must broadcast the maker's own lock on
// the private chain and record the resulting artifact.
func TestAcceptLocksMakersCollateral(t *testing.T) {
	e, st, vlt, _, priv := newTestEngine(t)
	defer e.Shutdown()

	var locked bool
	priv.FuncLock = func(ctx context.Context, subaddress [32]byte, amount uint64) (chain.TxArtifact, error) {
		locked = true
		return "priv-lock-tx", nil
	}

	swap := newSwapRow("55", store.TokenToPrivate)
	require.NoError(t, vlt.Put(swap.SwapID, mustSecret(t)))
	require.NoError(t, e.Accept(swap))

	waitForState(t, st, swap.SwapID, store.LockedOne)
	require.True(t, locked, "accepting must call PrivateChain.Lock for the TokenToPrivate direction")

	got, err := st.Get(swap.SwapID)
	require.NoError(t, err)
	require.Equal(t, "priv-lock-tx", got.PrivateChainArtifact)
}

// Accepting a PrivateToToken swap locks on the token chain instead, and
// additionally pre-signs against the maker's own secret so a later
// counterparty completion can be extracted from.
func TestAcceptLocksTokenChainAndPresignsForPrivateToToken(t *testing.T) {
	e, st, vlt, token, _ := newTestEngine(t)
	defer e.Shutdown()

	var locked bool
	token.FuncLock = func(ctx context.Context, swapID [32]byte, amount uint64, hashLock [32]byte, refundAfter int64, beneficiaryPubKey string) (chain.LockArtifact, error) {
		locked = true
		return "token-lock-tx", nil
	}

	swap := newSwapRow("56", store.PrivateToToken)
	require.NoError(t, vlt.Put(swap.SwapID, mustSecret(t)))
	require.NoError(t, e.Accept(swap))

	waitForState(t, st, swap.SwapID, store.LockedOne)
	require.True(t, locked, "accepting must call TokenChain.Lock for the PrivateToToken direction")

	got, err := st.Get(swap.SwapID)
	require.NoError(t, err)
	require.Equal(t, "token-lock-tx", got.TokenChainArtifact)
	require.NotEmpty(t, got.PresigR, "PrivateToToken locking must persist a pre-signature for later extraction")
	require.NotEmpty(t, got.PresigS)
}

// Deadline one fires for a TokenToPrivate swap that never reaches
// LockedBoth: the driver must refund the maker's own private-chain
// collateral.
func TestDeadlineOneRefundsMakerCollateral(t *testing.T) {
	e, st, vlt, _, priv := newTestEngine(t)
	defer e.Shutdown()

	var refunded bool
	priv.FuncRefund = func(ctx context.Context, subaddress [32]byte) (chain.TxArtifact, error) {
		refunded = true
		return "priv-refund-tx", nil
	}

	swap := newSwapRow("57", store.TokenToPrivate)
	require.NoError(t, vlt.Put(swap.SwapID, mustSecret(t)))
	require.NoError(t, e.Accept(swap))
	waitForState(t, st, swap.SwapID, store.LockedOne)

	e.Deliver(Event{Kind: EventDeadlineOneReached, SwapID: swap.SwapID, ArtifactID: "deadline-one"})
	waitForState(t, st, swap.SwapID, store.Refunded)
	require.True(t, refunded, "a deadline-one refund must broadcast on the private chain")
}

// A refund that keeps failing exhausts the retry cap and corrects the swap
// to Failed(RefundStuck) instead of leaving it parked in Refunded.
func TestRefundExhaustsRetriesAndMarksStuck(t *testing.T) {
	db := openTestDB(t)
	st, err := store.New(db)
	require.NoError(t, err)
	vlt, err := vault.New(db, "test-passphrase")
	require.NoError(t, err)

	swap := newSwapRow("58", store.TokenToPrivate)
	require.NoError(t, vlt.Put(swap.SwapID, mustSecret(t)))
	require.NoError(t, st.Create(swap))
	require.NoError(t, st.Transition(swap.SwapID, store.LockedOne, nil))

	priv := chaintest.NewPrivateChain()
	var attempts int
	priv.FuncRefund = func(ctx context.Context, subaddress [32]byte) (chain.TxArtifact, error) {
		attempts++
		return "", fmt.Errorf("refund rejected")
	}

	var signingKey [32]byte
	e := New(st, vlt, chaintest.NewTokenChain(), priv, signingKey, zaptest.NewLogger(t), WithRefundRetryAttempts(2))
	require.NoError(t, e.Resume(context.Background()))
	defer e.Shutdown()

	e.Deliver(Event{Kind: EventDeadlineOneReached, SwapID: swap.SwapID, ArtifactID: "deadline-one"})

	require.Eventually(t, func() bool {
		swap, err := st.Get(swap.SwapID)
		return err == nil && swap.State == store.Failed
	}, 5*time.Second, 20*time.Millisecond, "swap never corrected to Failed after exhausting refund retries")

	got, err := st.Get(swap.SwapID)
	require.NoError(t, err)
	require.Equal(t, store.FailureRefundStuck, got.FailureKind)
	require.Equal(t, 2, attempts, "must retry exactly up to the configured cap before giving up")
}

func TestRestartResumesAndPublishesExactlyOnce(t *testing.T) {
	db := openTestDB(t)
	st, err := store.New(db)
	require.NoError(t, err)
	vlt, err := vault.New(db, "test-passphrase")
	require.NoError(t, err)

	swap := newSwapRow("33", store.TokenToPrivate)
	secret := mustSecret(t)
	require.NoError(t, vlt.Put(swap.SwapID, secret))
	require.NoError(t, st.Create(swap))
	require.NoError(t, st.Transition(swap.SwapID, store.LockedOne, nil))
	require.NoError(t, st.Transition(swap.SwapID, store.LockedBoth, nil))

	var publishes int
	token := chaintest.NewTokenChain()
	token.FuncPublishAdaptorCompletion = func(ctx context.Context, swapID [32]byte, presig, sig []byte) (chain.LockArtifact, error) {
		publishes++
		return "redeem-artifact", nil
	}
	priv := chaintest.NewPrivateChain()

	var signingKey [32]byte
	e := New(st, vlt, token, priv, signingKey, zaptest.NewLogger(t))
	require.NoError(t, e.Resume(context.Background()))

	e.Deliver(Event{Kind: EventMakerPublishesAdaptor, SwapID: swap.SwapID, ArtifactID: "publish"})
	waitForState(t, st, swap.SwapID, store.Revealed)
	e.Shutdown()

	require.Equal(t, 1, publishes, "restart must publish the adaptor completion exactly once")
}

func mustSecret(t *testing.T) swapcrypto.Secret {
	t.Helper()
	s, err := swapcrypto.GenerateSecret()
	require.NoError(t, err)
	return s
}
