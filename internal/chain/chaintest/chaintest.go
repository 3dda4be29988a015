// Package chaintest provides in-memory doubles for internal/chain's
// capability interfaces, following the func-field override idiom the rest
// of this codebase uses for its test mocks: every method has a default
// in-memory behavior, overridable per-test by setting the matching Func
// field.
package chaintest

import (
	"context"
	"fmt"
	"sync"

	"github.com/catalogfi/stealthswapd/internal/chain"
)

// TokenChain is an in-memory chain.TokenChain double.
type TokenChain struct {
	mu          sync.Mutex
	locks       map[[32]byte]chain.LockInfo
	completions map[[32]byte]chain.CompletedSignature

	FuncLock                     func(ctx context.Context, swapID [32]byte, amount uint64, hashLock [32]byte, refundAfter int64, beneficiaryPubKey string) (chain.LockArtifact, error)
	FuncObserveLock               func(ctx context.Context, swapID [32]byte) (*chain.LockInfo, error)
	FuncPublishAdaptorCompletion func(ctx context.Context, swapID [32]byte, presig, sig []byte) (chain.LockArtifact, error)
	FuncObserveAdaptorCompletion func(ctx context.Context, swapID [32]byte) (*chain.CompletedSignature, error)
	FuncRefund                   func(ctx context.Context, swapID [32]byte) (chain.LockArtifact, error)
}

func NewTokenChain() *TokenChain {
	return &TokenChain{
		locks:       make(map[[32]byte]chain.LockInfo),
		completions: make(map[[32]byte]chain.CompletedSignature),
	}
}

func (t *TokenChain) Lock(ctx context.Context, swapID [32]byte, amount uint64, hashLock [32]byte, refundAfter int64, beneficiaryPubKey string) (chain.LockArtifact, error) {
	if t.FuncLock != nil {
		return t.FuncLock(ctx, swapID, amount, hashLock, refundAfter, beneficiaryPubKey)
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.locks[swapID] = chain.LockInfo{
		Amount:         amount,
		HashLock:       hashLock,
		RefundAfter:    refundAfter,
		BeneficiaryKey: beneficiaryPubKey,
		Confirmations:  chain.TokenChainRequiredConfirmations,
	}
	return chain.LockArtifact(fmt.Sprintf("sig-%x", swapID[:8])), nil
}

func (t *TokenChain) ObserveLock(ctx context.Context, swapID [32]byte) (*chain.LockInfo, error) {
	if t.FuncObserveLock != nil {
		return t.FuncObserveLock(ctx, swapID)
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	info, ok := t.locks[swapID]
	if !ok {
		return nil, nil
	}
	return &info, nil
}

func (t *TokenChain) PublishAdaptorCompletion(ctx context.Context, swapID [32]byte, presig, sig []byte) (chain.LockArtifact, error) {
	if t.FuncPublishAdaptorCompletion != nil {
		return t.FuncPublishAdaptorCompletion(ctx, swapID, presig, sig)
	}
	return chain.LockArtifact(fmt.Sprintf("redeem-%x", swapID[:8])), nil
}

func (t *TokenChain) ObserveAdaptorCompletion(ctx context.Context, swapID [32]byte) (*chain.CompletedSignature, error) {
	if t.FuncObserveAdaptorCompletion != nil {
		return t.FuncObserveAdaptorCompletion(ctx, swapID)
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	sig, ok := t.completions[swapID]
	if !ok {
		return nil, nil
	}
	return &sig, nil
}

func (t *TokenChain) Refund(ctx context.Context, swapID [32]byte) (chain.LockArtifact, error) {
	if t.FuncRefund != nil {
		return t.FuncRefund(ctx, swapID)
	}
	return chain.LockArtifact(fmt.Sprintf("refund-%x", swapID[:8])), nil
}

// SeedLock lets a test directly populate what ObserveLock will see,
// independent of a prior Lock call.
func (t *TokenChain) SeedLock(swapID [32]byte, info chain.LockInfo) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.locks[swapID] = info
}

// SeedCompletion lets a test directly populate what ObserveAdaptorCompletion
// will see, standing in for a counterparty broadcasting its own completion.
func (t *TokenChain) SeedCompletion(swapID [32]byte, sig chain.CompletedSignature) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.completions[swapID] = sig
}

// PrivateChain is an in-memory chain.PrivateChain double.
type PrivateChain struct {
	mu            sync.Mutex
	confirmations map[chain.TxArtifact]uint32

	FuncLock          func(ctx context.Context, subaddress [32]byte, amount uint64) (chain.TxArtifact, error)
	FuncConfirmations func(ctx context.Context, txID chain.TxArtifact) (uint32, error)
	FuncSpendTo       func(ctx context.Context, subaddress [32]byte, keyMaterial [32]byte) (chain.TxArtifact, error)
	FuncRefund        func(ctx context.Context, subaddress [32]byte) (chain.TxArtifact, error)
}

func NewPrivateChain() *PrivateChain {
	return &PrivateChain{confirmations: make(map[chain.TxArtifact]uint32)}
}

func (p *PrivateChain) Lock(ctx context.Context, subaddress [32]byte, amount uint64) (chain.TxArtifact, error) {
	if p.FuncLock != nil {
		return p.FuncLock(ctx, subaddress, amount)
	}
	tx := chain.TxArtifact(fmt.Sprintf("%x", subaddress[:16]))
	p.mu.Lock()
	p.confirmations[tx] = chain.PrivateChainRequiredConfirmations
	p.mu.Unlock()
	return tx, nil
}

func (p *PrivateChain) Confirmations(ctx context.Context, txID chain.TxArtifact) (uint32, error) {
	if p.FuncConfirmations != nil {
		return p.FuncConfirmations(ctx, txID)
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.confirmations[txID], nil
}

func (p *PrivateChain) SpendTo(ctx context.Context, subaddress [32]byte, keyMaterial [32]byte) (chain.TxArtifact, error) {
	if p.FuncSpendTo != nil {
		return p.FuncSpendTo(ctx, subaddress, keyMaterial)
	}
	return chain.TxArtifact(fmt.Sprintf("spend-%x", subaddress[:8])), nil
}

func (p *PrivateChain) Refund(ctx context.Context, subaddress [32]byte) (chain.TxArtifact, error) {
	if p.FuncRefund != nil {
		return p.FuncRefund(ctx, subaddress)
	}
	return chain.TxArtifact(fmt.Sprintf("refund-%x", subaddress[:8])), nil
}

// SetConfirmations lets a test directly control what Confirmations reports.
func (p *PrivateChain) SetConfirmations(txID chain.TxArtifact, n uint32) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.confirmations[txID] = n
}
