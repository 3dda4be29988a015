package store

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

func openTestStore(t *testing.T) Store {
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		NowFunc: func() time.Time { return time.Now().UTC() },
	})
	require.NoError(t, err)

	s, err := New(db)
	require.NoError(t, err)
	return s
}

func newTestSwap(id string) *Swap {
	now := time.Now().UTC()
	return &Swap{
		SwapID:       id,
		QuoteID:      "quote-" + id,
		Direction:    TokenToPrivate,
		TokenAmount:  100_000_000,
		PrivateAmount: 1_000_000_000_000,
		SecretHash:   "deadbeef",
		ExpiresAtOne: now.Add(24 * time.Hour),
		ExpiresAtTwo: now.Add(48 * time.Hour),
	}
}

func TestCreateRejectsBadDeadlineOrdering(t *testing.T) {
	s := openTestStore(t)
	swap := newTestSwap("bad-deadline")
	swap.ExpiresAtTwo = swap.ExpiresAtOne

	err := s.Create(swap)
	require.ErrorIs(t, err, ErrIllegalTransition)
}

func TestTransitionFollowsLegalPath(t *testing.T) {
	s := openTestStore(t)
	swap := newTestSwap("happy-path")
	require.NoError(t, s.Create(swap))

	require.NoError(t, s.Transition(swap.SwapID, LockedOne, nil))
	require.NoError(t, s.Transition(swap.SwapID, LockedBoth, nil))
	require.NoError(t, s.Transition(swap.SwapID, Revealed, nil))
	require.NoError(t, s.Transition(swap.SwapID, Completed, nil))

	got, err := s.Get(swap.SwapID)
	require.NoError(t, err)
	require.Equal(t, Completed, got.State)
}

func TestTransitionRejectsRegression(t *testing.T) {
	s := openTestStore(t)
	swap := newTestSwap("no-regress")
	require.NoError(t, s.Create(swap))
	require.NoError(t, s.Transition(swap.SwapID, LockedOne, nil))
	require.NoError(t, s.Transition(swap.SwapID, LockedBoth, nil))

	err := s.Transition(swap.SwapID, LockedOne, nil)
	require.ErrorIs(t, err, ErrIllegalTransition)
}

func TestTransitionRejectsSkippingStates(t *testing.T) {
	s := openTestStore(t)
	swap := newTestSwap("no-skip")
	require.NoError(t, s.Create(swap))

	err := s.Transition(swap.SwapID, Revealed, nil)
	require.ErrorIs(t, err, ErrIllegalTransition)
}

func TestDuplicateTransitionIsIdempotent(t *testing.T) {
	s := openTestStore(t)
	swap := newTestSwap("dup")
	require.NoError(t, s.Create(swap))
	require.NoError(t, s.Transition(swap.SwapID, LockedOne, nil))

	require.NoError(t, s.Transition(swap.SwapID, LockedOne, nil))

	got, err := s.Get(swap.SwapID)
	require.NoError(t, err)
	require.Equal(t, LockedOne, got.State)
}

func TestRecordTokenLockRejectsSecondDistinctArtifact(t *testing.T) {
	s := openTestStore(t)
	swap := newTestSwap("anomaly")
	require.NoError(t, s.Create(swap))

	require.NoError(t, s.RecordTokenLock(swap.SwapID, "sig-one"))
	err := s.RecordTokenLock(swap.SwapID, "sig-two")
	require.Error(t, err)
}

func TestSwapsPastDeadlineOne(t *testing.T) {
	s := openTestStore(t)
	swap := newTestSwap("deadline")
	swap.ExpiresAtOne = time.Now().UTC().Add(-time.Minute)
	swap.ExpiresAtTwo = time.Now().UTC().Add(time.Hour)
	require.NoError(t, s.Create(swap))
	require.NoError(t, s.Transition(swap.SwapID, LockedOne, nil))

	due, err := s.SwapsPastDeadlineOne(time.Now().UTC())
	require.NoError(t, err)
	require.Len(t, due, 1)
	require.Equal(t, swap.SwapID, due[0].SwapID)
}

func TestActiveSwapsExcludesTerminal(t *testing.T) {
	s := openTestStore(t)
	a := newTestSwap("active")
	b := newTestSwap("terminal")
	require.NoError(t, s.Create(a))
	require.NoError(t, s.Create(b))
	require.NoError(t, s.Transition(b.SwapID, LockedOne, nil))
	require.NoError(t, s.Transition(b.SwapID, Refunded, nil))

	active, err := s.ActiveSwaps()
	require.NoError(t, err)
	require.Len(t, active, 1)
	require.Equal(t, a.SwapID, active[0].SwapID)
}
