// Package engine is the per-swap state machine: one driver goroutine per
// active swap, fed by per-swap bounded inboxes, with persistence committed
// before any externally-visible side effect.
package engine

import (
	"context"
	"encoding/hex"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/catalogfi/stealthswapd/internal/chain"
	"github.com/catalogfi/stealthswapd/internal/store"
	"github.com/catalogfi/stealthswapd/internal/vault"
)

// Engine owns the set of active swap drivers. It is the component the
// watcher pool and the façade talk to; it never itself blocks on chain
// I/O — that happens inside each driver's own goroutine.
type Engine struct {
	store store.Store
	vault vault.Vault
	token chain.TokenChain
	priv  chain.PrivateChain
	clock deadlineClock

	signingKey          [32]byte
	logger              *zap.Logger
	refundRetryAttempts int

	mu      sync.Mutex
	drivers map[string]*driver
	wg      sync.WaitGroup
	ctx     context.Context
	cancel  context.CancelFunc
}

// Option configures an Engine at construction time.
type Option func(*Engine)

// WithClock overrides the deadline clock, used by tests to simulate time
// passing without sleeping.
func WithClock(clock func() time.Time) Option {
	return func(e *Engine) { e.clock = clock }
}

// WithRefundRetryAttempts caps how many times a driver retries a refund
// broadcast before giving up and correcting the swap to Failed(RefundStuck).
func WithRefundRetryAttempts(n int) Option {
	return func(e *Engine) { e.refundRetryAttempts = n }
}

func New(st store.Store, vlt vault.Vault, token chain.TokenChain, priv chain.PrivateChain, signingKey [32]byte, logger *zap.Logger, opts ...Option) *Engine {
	ctx, cancel := context.WithCancel(context.Background())
	e := &Engine{
		store:               st,
		vault:               vlt,
		token:               token,
		priv:                priv,
		signingKey:          signingKey,
		logger:              logger,
		clock:               time.Now,
		refundRetryAttempts: 5,
		drivers:             make(map[string]*driver),
		ctx:                 ctx,
		cancel:              cancel,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Resume restarts a driver for every non-terminal swap found in the store,
// so an in-flight swap's side effects resume at-most-once after a crash.
func (e *Engine) Resume(ctx context.Context) error {
	active, err := e.store.ActiveSwaps()
	if err != nil {
		return fmt.Errorf("engine: resume: %w", err)
	}
	for i := range active {
		e.spawn(&active[i])
		e.logger.Info("resumed driver", zap.String("swap_id", active[i].SwapID), zap.String("state", active[i].State.String()))
	}
	return nil
}

// Accept promotes a quote into a swap row and starts its driver. Callers
// (the quote service, via the façade) are responsible for the quote's own
// validity window; Accept assumes the swap row is ready to persist.
func (e *Engine) Accept(swap *store.Swap) error {
	if err := e.store.Create(swap); err != nil {
		return fmt.Errorf("engine: accept: %w", err)
	}
	e.spawn(swap)
	e.Deliver(Event{Kind: EventAcceptConfirmed, SwapID: swap.SwapID})
	return nil
}

func (e *Engine) spawn(swap *store.Swap) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, exists := e.drivers[swap.SwapID]; exists {
		return
	}
	d := newDriver(swap, e.store, e.vault, e.token, e.priv, e.signingKey, e.refundRetryAttempts, e.logger)
	e.drivers[swap.SwapID] = d
	e.wg.Add(1)
	go d.run(e.ctx, &e.wg)
}

// Deliver fans an event into the addressed swap's inbox. Events for swaps
// with no running driver (already terminal, or never spawned) are dropped
// — there is nothing left to drive.
func (e *Engine) Deliver(ev Event) {
	e.mu.Lock()
	d, ok := e.drivers[ev.SwapID]
	e.mu.Unlock()
	if !ok {
		e.logger.Debug("event for unknown or terminal swap dropped", zap.String("swap_id", ev.SwapID), zap.String("kind", string(ev.Kind)))
		return
	}
	d.deliver(ev)
}

// TickDeadlines scans the store for swaps past either deadline and
// delivers the matching event.
func (e *Engine) TickDeadlines(ctx context.Context) error {
	now := e.clock()

	dueOne, err := e.store.SwapsPastDeadlineOne(now)
	if err != nil {
		return fmt.Errorf("engine: tick deadline one: %w", err)
	}
	for _, swap := range dueOne {
		e.Deliver(Event{Kind: EventDeadlineOneReached, SwapID: swap.SwapID, ArtifactID: "deadline-one"})
	}

	dueTwo, err := e.store.SwapsPastDeadlineTwo(now)
	if err != nil {
		return fmt.Errorf("engine: tick deadline two: %w", err)
	}
	for _, swap := range dueTwo {
		e.Deliver(Event{Kind: EventDeadlineTwoReached, SwapID: swap.SwapID, ArtifactID: "deadline-two"})
	}
	return nil
}

// Status returns the public projection of a swap (no secret material),
// for the façade's GET /v1/swap/{id}.
func (e *Engine) Status(swapID string) (*store.Swap, error) {
	return e.store.Get(swapID)
}

// Shutdown cancels every driver's context and waits for them to finish
// their current transition before returning.
func (e *Engine) Shutdown() {
	e.cancel()
	e.wg.Wait()
}

func swapIDHex(b [32]byte) string { return hex.EncodeToString(b[:]) }
