package engine

import "github.com/catalogfi/stealthswapd/internal/crypto"

// EventKind enumerates the watcher-pool and deadline-ticker events a
// driver reacts to, plus EventMakerPublishesAdaptor, the maker's decision
// to publish. Nothing in the daemon raises that event; it reaches a driver
// through Engine.Deliver like the others.
type EventKind string

const (
	EventAcceptConfirmed         EventKind = "accept_confirmed"
	EventQuoteExpiredBeforeAccept EventKind = "quote_expired_before_accept"
	EventCounterpartyLockConfirmed EventKind = "counterparty_lock_confirmed"
	EventDeadlineOneReached       EventKind = "deadline_one_reached"
	EventMakerPublishesAdaptor    EventKind = "maker_publishes_adaptor"
	EventAdaptorPublished         EventKind = "adaptor_published"
	EventDeadlineTwoReached       EventKind = "deadline_two_reached"
	EventPayoutObservedOnBothSides EventKind = "payout_observed_on_both_sides"
	EventPayoutTimeout            EventKind = "payout_timeout"
)

// priority orders events processed together in the same batch: if a
// deadline event fires in the same pass as a lock-confirmation event, the
// lock event wins (data-over-time). Lower value sorts first.
func (k EventKind) priority() int {
	switch k {
	case EventCounterpartyLockConfirmed, EventAdaptorPublished, EventPayoutObservedOnBothSides:
		return 0
	default:
		return 1
	}
}

// LockObservation carries what a watcher saw about a counterparty lock,
// enough for the engine to verify it against the swap's quoted terms
// before ever publishing an adaptor completion.
type LockObservation struct {
	Amount      uint64
	HashLock    [32]byte
	Destination string
}

// Event is one message delivered to a swap's driver inbox. ArtifactID is
// used for the (swap_id, event_kind, artifact_id) dedup key the driver
// checks before acting. Deadline events carry fixed ids ("deadline-one",
// "deadline-two"); an event with an empty ArtifactID (accept) skips dedup.
type Event struct {
	Kind       EventKind
	SwapID     string
	ArtifactID string

	Lock   *LockObservation // set for EventCounterpartyLockConfirmed
	Secret *crypto.Secret   // set for EventAdaptorPublished
}

func (e Event) dedupKey() dedupKey {
	return dedupKey{swapID: e.SwapID, kind: e.Kind, artifactID: e.ArtifactID}
}

type dedupKey struct {
	swapID     string
	kind       EventKind
	artifactID string
}
