package engine

import (
	"context"
	"encoding/hex"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/catalogfi/stealthswapd/internal/chain"
	swapcrypto "github.com/catalogfi/stealthswapd/internal/crypto"
	"github.com/catalogfi/stealthswapd/internal/store"
	"github.com/catalogfi/stealthswapd/internal/vault"
)

// inboxSize bounds each swap's per-driver message queue. When a driver
// falls behind and the queue is full, deliver drops new events rather than
// letting the queue grow without limit.
const inboxSize = 64

// driver owns one swap exclusively: it is the single writer for that row.
// All mutation flows through its run loop.
type driver struct {
	swapID string
	store  store.Store
	vault  vault.Vault
	token  chain.TokenChain
	priv   chain.PrivateChain
	logger *zap.Logger

	inbox chan Event
	seen  map[dedupKey]struct{}

	hashLock            [32]byte
	signingKey          [32]byte // the maker's token-chain signing scalar
	refundRetryAttempts int
}

func newDriver(swap *store.Swap, st store.Store, vlt vault.Vault, token chain.TokenChain, priv chain.PrivateChain, signingKey [32]byte, refundRetryAttempts int, logger *zap.Logger) *driver {
	var hl [32]byte
	if b, err := hex.DecodeString(swap.SecretHash); err == nil && len(b) == 32 {
		copy(hl[:], b)
	}
	return &driver{
		swapID:              swap.SwapID,
		store:               st,
		vault:               vlt,
		token:               token,
		priv:                priv,
		logger:              logger.With(zap.String("swap_id", swap.SwapID)),
		inbox:               make(chan Event, inboxSize),
		seen:                make(map[dedupKey]struct{}),
		hashLock:            hl,
		signingKey:          signingKey,
		refundRetryAttempts: refundRetryAttempts,
	}
}

// deliver enqueues an event for this driver's run loop. It never blocks
// the caller indefinitely: if the inbox is full the event is dropped with
// a logged warning, since watchers re-poll and will redeliver it.
func (d *driver) deliver(ev Event) {
	select {
	case d.inbox <- ev:
	default:
		d.logger.Warn("dropping event, inbox full", zap.String("kind", string(ev.Kind)))
	}
}

// run is the driver's goroutine body. It processes events in arrival
// order per swap, draining and priority-sorting any events already queued
// alongside the one just received so the deadline/lock tie-break is
// honored even when both arrive in the same scheduling tick.
func (d *driver) run(ctx context.Context, wg *sync.WaitGroup) {
	defer wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case first := <-d.inbox:
			batch := []Event{first}
		drain:
			for {
				select {
				case next := <-d.inbox:
					batch = append(batch, next)
				default:
					break drain
				}
			}
			sortByPriority(batch)
			for _, ev := range batch {
				d.handle(ctx, ev)
				swap, err := d.store.Get(d.swapID)
				if err == nil && swap.State.Terminal() {
					return
				}
			}
		}
	}
}

func (d *driver) handle(ctx context.Context, ev Event) {
	key := ev.dedupKey()
	if ev.ArtifactID != "" {
		if _, dup := d.seen[key]; dup {
			d.logger.Debug("duplicate event ignored", zap.String("kind", string(ev.Kind)))
			return
		}
		d.seen[key] = struct{}{}
	}

	swap, err := d.store.Get(d.swapID)
	if err != nil {
		d.logger.Error("load swap", zap.Error(err))
		return
	}

	outcome, err := Decide(swap, ev, d.hashLock)
	if err != nil {
		d.logger.Error("decide", zap.Error(err))
		return
	}

	if outcome.FailureKind != "" && outcome.NoOp {
		// Mismatch flagged, no state change yet: persist the flag so the
		// deadline path later knows to terminate Failed instead of
		// Refunded.
		if err := d.store.Transition(d.swapID, swap.State, map[string]interface{}{"failure_kind": outcome.FailureKind}); err != nil {
			d.logger.Error("persist mismatch flag", zap.Error(err))
		}
		return
	}
	if outcome.NoOp {
		return
	}

	updates := map[string]interface{}{}
	if outcome.FailureKind != "" {
		updates["failure_kind"] = outcome.FailureKind
	}

	// Persistence is committed before any external side effect that
	// depends on the new state, so a crash between the two never repeats
	// the effect: on restart the driver reads the durable state and waits
	// for its next event; an effect whose transition was already persisted
	// is not run again.
	if err := d.store.Transition(d.swapID, outcome.NextState, updates); err != nil {
		d.logger.Error("transition", zap.Error(err))
		return
	}

	switch {
	case outcome.ShouldPublish:
		d.publishAdaptor(ctx, swap)
	case outcome.ShouldExtract:
		d.extractAndClaim(ctx, swap, ev)
	case outcome.ShouldLockCollateral:
		d.lockCollateral(ctx, swap)
	case outcome.ShouldRefund:
		d.refundWithRetry(ctx, swap)
	}

	if outcome.NextState.Terminal() {
		d.eraseSecret()
	}
}

// publishAdaptor is the maker-initiated reveal path: it holds s, completes
// the pre-signature, and broadcasts it, deterministically handing s to any
// observer.
func (d *driver) publishAdaptor(ctx context.Context, swap *store.Swap) {
	handle, err := d.vault.Get(d.swapID)
	if err != nil {
		d.logger.Error("publish adaptor: load secret", zap.Error(err))
		return
	}
	defer handle.Release()

	secret := handle.Secret()
	message := []byte(d.swapID)
	point, err := swapcrypto.ComputeAdaptorPoint(secret)
	if err != nil {
		d.logger.Error("publish adaptor: adaptor point", zap.Error(err))
		return
	}
	pre, err := swapcrypto.Presign(message, d.signingKey, point)
	if err != nil {
		d.logger.Error("publish adaptor: presign", zap.Error(err))
		return
	}
	sig, err := swapcrypto.Complete(pre, secret)
	if err != nil {
		d.logger.Error("publish adaptor: complete", zap.Error(err))
		return
	}

	var swapID [32]byte
	if b, err := hex.DecodeString(d.swapID); err == nil && len(b) == 32 {
		copy(swapID[:], b)
	}
	if _, err := d.token.PublishAdaptorCompletion(ctx, swapID, pre.S[:], sig.S[:]); err != nil {
		d.logger.Error("publish adaptor: broadcast", zap.Error(err))
		return
	}
	d.logger.Info("published adaptor completion, secret revealed")
}

// extractAndClaim is the counterparty-initiated reveal path: the maker
// observed a completed signature it did not produce, extracts s from it,
// and uses s to claim the private-chain output.
func (d *driver) extractAndClaim(ctx context.Context, swap *store.Swap, ev Event) {
	if ev.Secret == nil {
		d.logger.Error("extract and claim: event carried no secret")
		return
	}
	if err := d.vault.Put(d.swapID, *ev.Secret); err != nil {
		d.logger.Error("extract and claim: seal extracted secret", zap.Error(err))
		return
	}

	var sub [32]byte
	if b, err := hex.DecodeString(swap.PrivateDestination); err == nil && len(b) == 32 {
		copy(sub[:], b)
	}
	if _, err := d.priv.SpendTo(ctx, sub, *ev.Secret); err != nil {
		d.logger.Error("extract and claim: spend", zap.Error(err))
		return
	}
	d.logger.Info("extracted secret and claimed private-chain output")
}

func (d *driver) eraseSecret() {
	if err := d.vault.Erase(d.swapID); err != nil {
		d.logger.Error("erase secret", zap.Error(err))
		return
	}
	d.logger.Info("secret erased", zap.String("reason", "terminal transition"))
}

// lockCollateral is the maker-initiated lock path entered on LockedOne:
// the maker broadcasts its own side of the trade on the chain its direction
// assigns it, and records the resulting artifact so a restart can tell the
// lock was already placed.
func (d *driver) lockCollateral(ctx context.Context, swap *store.Swap) {
	switch swap.Direction {
	case store.TokenToPrivate:
		var sub [32]byte
		if b, err := hex.DecodeString(swap.PrivateDestination); err == nil && len(b) == 32 {
			copy(sub[:], b)
		}
		artifact, err := d.priv.Lock(ctx, sub, swap.PrivateAmount)
		if err != nil {
			d.logger.Error("lock collateral: private chain", zap.Error(err))
			return
		}
		if err := d.store.RecordPrivateLock(d.swapID, string(artifact)); err != nil {
			d.logger.Error("lock collateral: record private artifact", zap.Error(err))
		}

	case store.PrivateToToken:
		var swapID [32]byte
		if b, err := hex.DecodeString(d.swapID); err == nil && len(b) == 32 {
			copy(swapID[:], b)
		}
		artifact, err := d.token.Lock(ctx, swapID, swap.TokenAmount, d.hashLock, swap.ExpiresAtOne.Unix(), swap.CounterpartyPubKey)
		if err != nil {
			d.logger.Error("lock collateral: token chain", zap.Error(err))
			return
		}
		if err := d.store.RecordTokenLock(d.swapID, string(artifact)); err != nil {
			d.logger.Error("lock collateral: record token artifact", zap.Error(err))
			return
		}
		d.presignForExtraction(ctx, swap)
	}
}

// presignForExtraction pre-signs against the maker's own adaptor secret and
// persists the result. For this direction the maker never calls
// publishAdaptor itself, so this is the only pre-signature it will ever
// produce, and the watcher pool's ExtractSecret call (pollAdaptorCompletion)
// needs it on hand once a counterparty completion shows up on the token chain.
func (d *driver) presignForExtraction(ctx context.Context, swap *store.Swap) {
	handle, err := d.vault.Get(d.swapID)
	if err != nil {
		d.logger.Error("presign for extraction: load secret", zap.Error(err))
		return
	}
	defer handle.Release()

	point, err := swapcrypto.ComputeAdaptorPoint(handle.Secret())
	if err != nil {
		d.logger.Error("presign for extraction: adaptor point", zap.Error(err))
		return
	}
	pre, err := swapcrypto.Presign([]byte(d.swapID), d.signingKey, point)
	if err != nil {
		d.logger.Error("presign for extraction: presign", zap.Error(err))
		return
	}
	if err := d.store.RecordPresignature(d.swapID, hex.EncodeToString(pre.R[:]), hex.EncodeToString(pre.S[:])); err != nil {
		d.logger.Error("presign for extraction: persist", zap.Error(err))
	}
}

// refundWithRetry broadcasts a refund for the maker's own locked collateral,
// retrying with exponential backoff up to refundRetryAttempts before giving
// up and correcting the swap to Failed(RefundStuck).
func (d *driver) refundWithRetry(ctx context.Context, swap *store.Swap) {
	delay := time.Second
	for attempt := 1; attempt <= d.refundRetryAttempts; attempt++ {
		var err error
		switch swap.Direction {
		case store.TokenToPrivate:
			var sub [32]byte
			if b, decErr := hex.DecodeString(swap.PrivateDestination); decErr == nil && len(b) == 32 {
				copy(sub[:], b)
			}
			_, err = d.priv.Refund(ctx, sub)
		case store.PrivateToToken:
			var swapID [32]byte
			if b, decErr := hex.DecodeString(d.swapID); decErr == nil && len(b) == 32 {
				copy(swapID[:], b)
			}
			_, err = d.token.Refund(ctx, swapID)
		}
		if err == nil {
			d.logger.Info("refund broadcast", zap.Int("attempt", attempt))
			return
		}
		d.logger.Warn("refund attempt failed", zap.Int("attempt", attempt), zap.Error(err))
		if attempt == d.refundRetryAttempts {
			break
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(delay):
		}
		delay *= 2
	}

	d.logger.Error("refund exhausted retry cap, marking stuck")
	if err := d.store.Transition(d.swapID, store.Failed, map[string]interface{}{"failure_kind": store.FailureRefundStuck}); err != nil {
		d.logger.Error("persist refund stuck", zap.Error(err))
	}
}

// deadlineClock abstracts time.Now for testability; production code uses
// the real clock.
type deadlineClock func() time.Time
