// Package watcher polls both chains on the engine's behalf and translates
// what it sees into engine.Event deliveries. Each leg is a plain
// request/response poll against the two chain adapters, with backoff
// living in this package rather than in a reconnect loop.
package watcher

import (
	"context"
	"encoding/hex"
	"math/rand"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/catalogfi/stealthswapd/internal/chain"
	swapcrypto "github.com/catalogfi/stealthswapd/internal/crypto"
	"github.com/catalogfi/stealthswapd/internal/engine"
	"github.com/catalogfi/stealthswapd/internal/store"
)

// Config tunes the watcher pool's polling cadence.
type Config struct {
	PollInterval    time.Duration
	MaxPollInterval time.Duration
	DeadlineTick    time.Duration
}

func DefaultConfig() Config {
	return Config{
		PollInterval:    5 * time.Second,
		MaxPollInterval: 2 * time.Minute,
		DeadlineTick:    10 * time.Second,
	}
}

// Deliverer is the subset of Engine the watcher pool depends on; the
// production wiring passes *engine.Engine, tests pass a narrower double.
type Deliverer interface {
	Deliver(ev engine.Event)
	TickDeadlines(ctx context.Context) error
}

// Pool owns one polling goroutine per swap (covering both chains) plus the single
// deadline ticker goroutine, all stoppable together via Stop.
type Pool struct {
	cfg    Config
	engine Deliverer
	store  store.Store
	token  chain.TokenChain
	priv   chain.PrivateChain
	logger *zap.Logger

	quit chan struct{}
	wg   sync.WaitGroup

	mu       sync.Mutex
	watching map[string]struct{}
}

func New(cfg Config, eng Deliverer, st store.Store, token chain.TokenChain, priv chain.PrivateChain, logger *zap.Logger) *Pool {
	return &Pool{
		cfg:      cfg,
		engine:   eng,
		store:    st,
		token:    token,
		priv:     priv,
		logger:   logger,
		quit:     make(chan struct{}),
		watching: make(map[string]struct{}),
	}
}

// Start launches the deadline ticker and a watch goroutine for every
// currently-active swap, the resume-time counterpart to Engine.Resume.
func (p *Pool) Start(ctx context.Context) error {
	p.wg.Add(1)
	go p.tickDeadlines(ctx)

	active, err := p.store.ActiveSwaps()
	if err != nil {
		return err
	}
	for i := range active {
		p.Watch(ctx, active[i].SwapID)
	}
	return nil
}

// Watch starts polling swapID's counterparty leg and the token-chain
// adaptor-reveal race for it, unless it is already being watched.
func (p *Pool) Watch(ctx context.Context, swapID string) {
	p.mu.Lock()
	if _, exists := p.watching[swapID]; exists {
		p.mu.Unlock()
		return
	}
	p.watching[swapID] = struct{}{}
	p.mu.Unlock()

	p.wg.Add(1)
	go p.watchSwap(ctx, swapID)
}

// Stop signals every watch goroutine and the deadline ticker to exit and
// waits for them to finish their current iteration.
func (p *Pool) Stop() {
	close(p.quit)
	p.wg.Wait()
}

// watchSwap polls both chains for swapID until it reaches a terminal state
// or the pool is stopped. While the swap is LockedOne, the poll interval
// doubles (up to MaxPollInterval) after every poll that does not see the
// counterparty lock, whether it errored or found nothing, and resets once
// the lock is seen.
func (p *Pool) watchSwap(ctx context.Context, swapID string) {
	defer p.wg.Done()

	interval := p.cfg.PollInterval
	lockConfirmed := false

	for {
		select {
		case <-p.quit:
			return
		case <-ctx.Done():
			return
		case <-time.After(jitter(interval)):
		}

		swap, err := p.store.Get(swapID)
		if err != nil {
			p.logger.Debug("watch: load swap", zap.String("swap_id", swapID), zap.Error(err))
			continue
		}
		if swap.State.Terminal() {
			return
		}

		if !lockConfirmed && swap.State == store.LockedOne {
			if p.pollCounterpartyLock(ctx, swap) {
				lockConfirmed = true
				interval = p.cfg.PollInterval
			} else {
				interval = backoff(interval, p.cfg.MaxPollInterval)
			}
		}

		if swap.State == store.LockedBoth && swap.Direction == store.PrivateToToken {
			p.pollAdaptorCompletion(ctx, swap)
		}

		if swap.State == store.Revealed {
			p.pollPayoutSettlement(ctx, swap)
		}
	}
}

// pollCounterpartyLock checks for the counterparty's lock and, if seen at
// the required depth, delivers CounterpartyLockConfirmed with the observed
// terms for the engine's safety check. Only TokenToPrivate swaps are
// checked (the user's token-chain lock); for PrivateToToken nothing is
// observed and it always reports false.
func (p *Pool) pollCounterpartyLock(ctx context.Context, swap *store.Swap) bool {
	var swapIDBytes [32]byte
	if b, err := hex.DecodeString(swap.SwapID); err == nil && len(b) == 32 {
		copy(swapIDBytes[:], b)
	}

	if swap.Direction == store.TokenToPrivate {
		lock, err := p.token.ObserveLock(ctx, swapIDBytes)
		if err != nil || lock == nil {
			return false
		}
		if lock.Confirmations < chain.TokenChainRequiredConfirmations {
			return false
		}
		p.engine.Deliver(engine.Event{
			Kind:       engine.EventCounterpartyLockConfirmed,
			SwapID:     swap.SwapID,
			ArtifactID: "token-lock",
			Lock: &engine.LockObservation{
				Amount:      lock.Amount,
				HashLock:    lock.HashLock,
				Destination: lock.BeneficiaryKey,
			},
		})
		return true
	}

	// PrivateToToken: the counterparty's lock is a private-chain send, which
	// this pool does not observe.
	return false
}

// pollAdaptorCompletion checks the token chain for a completed adaptor
// signature broadcast against swap's escrow and, if one has landed, extracts
// the secret against the maker's own pre-signature and delivers it. This is
// the counterparty-initiated reveal path: the maker locked its own side
// without ever completing anything itself, so the only way it learns s is
// by observing what a counterparty broadcasts to claim its side.
func (p *Pool) pollAdaptorCompletion(ctx context.Context, swap *store.Swap) {
	if swap.PresigR == "" || swap.PresigS == "" {
		return
	}

	var swapIDBytes [32]byte
	if b, err := hex.DecodeString(swap.SwapID); err == nil && len(b) == 32 {
		copy(swapIDBytes[:], b)
	}

	completed, err := p.token.ObserveAdaptorCompletion(ctx, swapIDBytes)
	if err != nil {
		p.logger.Debug("watch: observe adaptor completion", zap.String("swap_id", swap.SwapID), zap.Error(err))
		return
	}
	if completed == nil {
		return
	}

	var pre swapcrypto.PreSignature
	r, err := hex.DecodeString(swap.PresigR)
	if err != nil || len(r) != 32 {
		p.logger.Error("watch: decode stored presignature R", zap.String("swap_id", swap.SwapID))
		return
	}
	copy(pre.R[:], r)
	s, err := hex.DecodeString(swap.PresigS)
	if err != nil || len(s) != 32 {
		p.logger.Error("watch: decode stored presignature S", zap.String("swap_id", swap.SwapID))
		return
	}
	copy(pre.S[:], s)

	sig := swapcrypto.Signature{R: completed.R, S: completed.S}
	secret, err := swapcrypto.ExtractSecret(pre, sig)
	if err != nil {
		p.logger.Debug("watch: extract secret", zap.String("swap_id", swap.SwapID), zap.Error(err))
		return
	}

	p.DeliverExtractedSecret(swap.SwapID, "adaptor-completion-"+hex.EncodeToString(completed.R[:]), secret)
}

// DeliverExtractedSecret hands a secret extracted from a counterparty's
// completed adaptor signature to the engine as EventAdaptorPublished.
// pollAdaptorCompletion calls it after extracting the secret against the
// pre-signature the driver persisted.
func (p *Pool) DeliverExtractedSecret(swapID string, artifactID string, secret swapcrypto.Secret) {
	p.engine.Deliver(engine.Event{
		Kind:       engine.EventAdaptorPublished,
		SwapID:     swapID,
		ArtifactID: artifactID,
		Secret:     &secret,
	})
}

func (p *Pool) pollPayoutSettlement(ctx context.Context, swap *store.Swap) {
	if swap.PrivateChainArtifact == "" {
		return
	}
	confirmations, err := p.priv.Confirmations(ctx, chain.TxArtifact(swap.PrivateChainArtifact))
	if err != nil {
		p.logger.Debug("watch: private confirmations", zap.String("swap_id", swap.SwapID), zap.Error(err))
		return
	}
	if confirmations < chain.PrivateChainRequiredConfirmations {
		return
	}
	p.engine.Deliver(engine.Event{
		Kind:       engine.EventPayoutObservedOnBothSides,
		SwapID:     swap.SwapID,
		ArtifactID: "payout-" + swap.PrivateChainArtifact,
	})
}

// tickDeadlines drives the single deadline ticker goroutine the engine's
// TickDeadlines scan needs, independent of any individual swap's watch
// goroutine.
func (p *Pool) tickDeadlines(ctx context.Context) {
	defer p.wg.Done()
	ticker := time.NewTicker(p.cfg.DeadlineTick)
	defer ticker.Stop()

	for {
		select {
		case <-p.quit:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := p.engine.TickDeadlines(ctx); err != nil {
				p.logger.Error("tick deadlines", zap.Error(err))
			}
		}
	}
}

func backoff(current, max time.Duration) time.Duration {
	next := current * 2
	if next > max {
		return max
	}
	return next
}

// jitter randomizes a poll interval by ±20% so a fleet of swaps watched by
// the same process does not all hit the chain adapters in lockstep.
func jitter(d time.Duration) time.Duration {
	spread := float64(d) * 0.2
	return d + time.Duration(spread*(rand.Float64()*2-1))
}
