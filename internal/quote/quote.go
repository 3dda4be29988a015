// Package quote issues price-locked, two-directional USDC/XMR intents
// with a bounded lifetime. Quotes are transient: they live only in this
// process's memory and expire into nothing if unaccepted.
package quote

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	swapcrypto "github.com/catalogfi/stealthswapd/internal/crypto"
	"github.com/catalogfi/stealthswapd/internal/engineerr"
	"github.com/catalogfi/stealthswapd/internal/store"
	"github.com/catalogfi/stealthswapd/internal/vault"
)

// Config is the quoting policy: bounds on quotable amounts, spread, and
// the deadlines a quote locks in once accepted.
type Config struct {
	MinTokenAmount uint64
	MaxTokenAmount uint64
	SpreadBps      uint64 // applied as mid_rate * (1 ± spread_bps)
	TTL            time.Duration
	SafetyMargin   time.Duration // expires_at_two - expires_at_one floor
	DeadlineOne    time.Duration // token-chain refund window from acceptance
}

// Quote is the transient entity a quote request produces: quote_id,
// direction, both amounts, rate, issued_at, valid_until.
type Quote struct {
	QuoteID       uuid.UUID
	Direction     store.Direction
	TokenAmount   uint64
	PrivateAmount uint64
	Rate          float64
	SecretHash    [32]byte
	IssuedAt      time.Time
	ValidUntil    time.Time

	swapID [32]byte
}

// RateSource supplies the mid-market conversion rate; the core applies a
// spread on top but never decides pricing beyond that.
type RateSource interface {
	MidRate(direction store.Direction) (float64, error)
}

// LiquidityChecker reports whether the maker has enough balance on the
// payout chain to cover amount for direction.
type LiquidityChecker interface {
	HasLiquidity(direction store.Direction, amount uint64) (bool, error)
}

// Service implements the quote/accept contract.
type Service struct {
	cfg     Config
	rates   RateSource
	liq     LiquidityChecker
	vault   vault.Vault
	privAddr [32]byte // the maker's base Monero public spend key

	mu     sync.Mutex
	quotes map[uuid.UUID]*Quote
}

func New(cfg Config, rates RateSource, liq LiquidityChecker, vlt vault.Vault, privBaseAddress [32]byte) *Service {
	return &Service{
		cfg:      cfg,
		rates:    rates,
		liq:      liq,
		vault:    vlt,
		privAddr: privBaseAddress,
		quotes:   make(map[uuid.UUID]*Quote),
	}
}

// Quote applies the quoting policy: bounds check, liquidity check,
// spread-adjusted rate, and seals a freshly generated secret into the
// vault under a provisional swap id.
func (s *Service) Quote(direction store.Direction, tokenAmount uint64) (*Quote, error) {
	if tokenAmount < s.cfg.MinTokenAmount || tokenAmount > s.cfg.MaxTokenAmount {
		return nil, engineerr.New(engineerr.KindAmountOutOfBounds, "", fmt.Errorf("amount %d outside [%d, %d]", tokenAmount, s.cfg.MinTokenAmount, s.cfg.MaxTokenAmount))
	}

	mid, err := s.rates.MidRate(direction)
	if err != nil {
		return nil, engineerr.New(engineerr.KindRateUnavailable, "", err)
	}

	rate := mid
	if direction == store.TokenToPrivate {
		rate = mid * (1 - float64(s.cfg.SpreadBps)/10_000)
	} else {
		rate = mid * (1 + float64(s.cfg.SpreadBps)/10_000)
	}
	privateAmount := uint64(float64(tokenAmount) * rate)

	// The maker pays out XMR for TokenToPrivate and USDC for PrivateToToken.
	payout := privateAmount
	if direction == store.PrivateToToken {
		payout = tokenAmount
	}
	ok, err := s.liq.HasLiquidity(direction, payout)
	if err != nil || !ok {
		return nil, engineerr.New(engineerr.KindInsufficientLiquidity, "", err)
	}

	secret, err := swapcrypto.GenerateSecret()
	if err != nil {
		return nil, engineerr.New(engineerr.KindSecretGenerationFailed, "", err)
	}
	hash := swapcrypto.HashSecret(secret)

	var provisionalSwapID [32]byte
	if _, err := rand.Read(provisionalSwapID[:]); err != nil {
		swapcrypto.Wipe(&secret)
		return nil, engineerr.New(engineerr.KindSecretGenerationFailed, "", err)
	}
	provisionalID := hex.EncodeToString(provisionalSwapID[:])
	if err := s.vault.Put(provisionalID, secret); err != nil {
		swapcrypto.Wipe(&secret)
		return nil, engineerr.New(engineerr.KindVaultUnavailable, provisionalID, err)
	}
	swapcrypto.Wipe(&secret)

	now := time.Now().UTC()
	q := &Quote{
		QuoteID:       uuid.New(),
		Direction:     direction,
		TokenAmount:   tokenAmount,
		PrivateAmount: privateAmount,
		Rate:          rate,
		SecretHash:    [32]byte(hash),
		IssuedAt:      now,
		ValidUntil:    now.Add(s.cfg.TTL),
		swapID:        provisionalSwapID,
	}

	s.mu.Lock()
	s.quotes[q.QuoteID] = q
	s.mu.Unlock()

	return q, nil
}

// Accept promotes a quote into a swap row ready for the engine. It does
// not start the engine driver — the caller (the façade handler) does
// that via Engine.Accept.
func (s *Service) Accept(quoteID uuid.UUID, counterpartyPubKey, destination string) (*store.Swap, error) {
	s.mu.Lock()
	q, ok := s.quotes[quoteID]
	if ok {
		delete(s.quotes, quoteID)
	}
	s.mu.Unlock()

	if !ok {
		return nil, engineerr.New(engineerr.KindQuoteUnknown, "", fmt.Errorf("quote %s not found", quoteID))
	}
	if time.Now().UTC().After(q.ValidUntil) {
		return nil, engineerr.New(engineerr.KindQuoteExpired, "", fmt.Errorf("quote %s expired at %s", quoteID, q.ValidUntil))
	}
	if destination == "" {
		return nil, engineerr.New(engineerr.KindDestinationInvalid, "", fmt.Errorf("empty destination"))
	}

	privateDestination, err := swapcrypto.DeriveSubaddress(s.privAddr, q.swapID)
	if err != nil {
		return nil, engineerr.New(engineerr.KindDestinationInvalid, "", err)
	}

	now := time.Now().UTC()
	swap := &store.Swap{
		SwapID:              hex.EncodeToString(q.swapID[:]),
		QuoteID:             q.QuoteID.String(),
		Direction:           q.Direction,
		TokenAmount:         q.TokenAmount,
		PrivateAmount:       q.PrivateAmount,
		SecretHash:          hex.EncodeToString(q.SecretHash[:]),
		PrivateDestination:  hex.EncodeToString(privateDestination[:]),
		CounterpartyPubKey:  counterpartyPubKey,
		ExpiresAtOne:        now.Add(s.cfg.DeadlineOne),
		ExpiresAtTwo:        now.Add(s.cfg.DeadlineOne + s.cfg.SafetyMargin),
	}
	return swap, nil
}

// Sweep evicts expired quotes, erasing their provisionally-sealed secrets
// from the vault since they will never be accepted.
func (s *Service) Sweep() {
	now := time.Now().UTC()
	var expired []*Quote

	s.mu.Lock()
	for id, q := range s.quotes {
		if now.After(q.ValidUntil) {
			expired = append(expired, q)
			delete(s.quotes, id)
		}
	}
	s.mu.Unlock()

	for _, q := range expired {
		_ = s.vault.Erase(hex.EncodeToString(q.swapID[:]))
	}
}
