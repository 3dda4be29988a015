package engine

import (
	"fmt"

	"github.com/catalogfi/stealthswapd/internal/store"
)

// Outcome is the pure result of applying one event to a swap's current
// state: the state to persist, plus an optional failure tag. Separating
// this from Driver keeps the transition logic testable without goroutines,
// I/O, or mocks — it is exercised directly by the tests in
// machine_test.go.
type Outcome struct {
	NextState   store.State
	FailureKind store.FailureKind
	// ShouldPublish is true when this outcome is the moment the driver
	// must call out to the token chain to publish an adaptor completion.
	ShouldPublish bool
	// ShouldExtract is true when this outcome is the moment the driver
	// must extract s from an observed completed signature instead of
	// publishing one itself.
	ShouldExtract bool
	// ShouldLockCollateral is true when this outcome is the moment the
	// driver must broadcast its own collateral lock on the chain its
	// direction assigns it.
	ShouldLockCollateral bool
	// ShouldRefund is true when this outcome is the moment the driver
	// must broadcast a refund for its own locked collateral.
	ShouldRefund bool
	// NoOp is true when the event does not warrant any transition (e.g.
	// it arrived for a state it no longer applies to).
	NoOp bool
}

// LockMatches runs the safety check required before ever publishing an
// adaptor completion: the observed lock must match the quoted (amount,
// hash_lock, destination) exactly.
func LockMatches(swap *store.Swap, expectedHashLock [32]byte, observed LockObservation) bool {
	wantAmount := swap.TokenAmount
	wantDestination := swap.PrivateDestination
	if swap.Direction == store.PrivateToToken {
		wantAmount = swap.PrivateAmount
	} else {
		wantDestination = swap.CounterpartyPubKey
	}
	// The destination check only binds for the leg that actually carries
	// a destination commitment on-chain; a blank expectation (e.g. no
	// destination was recorded) is treated as "don't care" rather than a
	// forced mismatch.
	destinationOK := wantDestination == "" || wantDestination == observed.Destination
	return observed.Amount == wantAmount && observed.HashLock == expectedHashLock && destinationOK
}

// Decide applies one event to a swap's current row, returning the pure
// outcome. It does not mutate swap or perform any I/O; Driver.handle is
// responsible for persisting Outcome and running the side effects it
// implies (publish, extract, refund).
func Decide(swap *store.Swap, ev Event, expectedHashLock [32]byte) (Outcome, error) {
	switch ev.Kind {
	case EventAcceptConfirmed:
		if swap.State != store.Quoted {
			return Outcome{NoOp: true}, nil
		}
		return Outcome{NextState: store.LockedOne, ShouldLockCollateral: true}, nil

	case EventQuoteExpiredBeforeAccept:
		if swap.State != store.Quoted {
			return Outcome{NoOp: true}, nil
		}
		return Outcome{NextState: store.Failed}, nil

	case EventCounterpartyLockConfirmed:
		if swap.State != store.LockedOne {
			return Outcome{NoOp: true}, nil
		}
		if ev.Lock == nil {
			return Outcome{}, fmt.Errorf("engine: counterparty lock confirmed event missing lock observation")
		}
		if !LockMatches(swap, expectedHashLock, *ev.Lock) {
			return Outcome{NoOp: true, FailureKind: store.FailureMismatchedLock}, nil
		}
		return Outcome{NextState: store.LockedBoth}, nil

	case EventDeadlineOneReached:
		if swap.State != store.LockedOne {
			return Outcome{NoOp: true}, nil
		}
		if swap.FailureKind == store.FailureMismatchedLock {
			return Outcome{NextState: store.Failed, FailureKind: store.FailureMismatchedLock}, nil
		}
		return Outcome{NextState: store.Refunded, ShouldRefund: true}, nil

	case EventMakerPublishesAdaptor:
		if swap.State != store.LockedBoth {
			return Outcome{NoOp: true}, nil
		}
		return Outcome{NextState: store.Revealed, ShouldPublish: true}, nil

	case EventAdaptorPublished:
		if swap.State != store.LockedBoth {
			return Outcome{NoOp: true}, nil
		}
		return Outcome{NextState: store.Revealed, ShouldExtract: true}, nil

	case EventDeadlineTwoReached:
		if swap.State != store.LockedBoth {
			return Outcome{NoOp: true}, nil
		}
		return Outcome{NextState: store.Refunded, ShouldRefund: true}, nil

	case EventPayoutObservedOnBothSides:
		if swap.State != store.Revealed {
			return Outcome{NoOp: true}, nil
		}
		return Outcome{NextState: store.Completed}, nil

	case EventPayoutTimeout:
		if swap.State != store.Revealed {
			return Outcome{NoOp: true}, nil
		}
		return Outcome{NextState: store.Failed, FailureKind: store.FailurePayoutTimeout}, nil

	default:
		return Outcome{}, fmt.Errorf("engine: unknown event kind %q", ev.Kind)
	}
}

// sortByPriority stable-sorts events so that lock/reveal/payout evidence is
// processed before deadlines delivered in the same batch.
func sortByPriority(events []Event) {
	// Insertion sort: batches are tiny (at most a handful of events per
	// drain), so this is simpler than pulling in sort for a few elements
	// and remains stable, which a generic sort.Slice would not guarantee.
	for i := 1; i < len(events); i++ {
		for j := i; j > 0 && events[j].Kind.priority() < events[j-1].Kind.priority(); j-- {
			events[j], events[j-1] = events[j-1], events[j]
		}
	}
}
