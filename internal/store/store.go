// Package store durably records every swap's state, amounts, deadlines,
// and chain artifacts. It is the single source of truth a driver consults
// on restart to resume at-most-once external effects.
package store

import (
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
)

var (
	ErrNotFound         = errors.New("store: swap not found")
	ErrIllegalTransition = errors.New("store: illegal state transition")
)

// State is a swap's position in its lifecycle DAG.
type State uint

const (
	Quoted State = iota
	LockedOne
	LockedBoth
	Revealed
	Completed
	Refunded
	Failed
)

func (s State) String() string {
	switch s {
	case Quoted:
		return "quoted"
	case LockedOne:
		return "locked_one"
	case LockedBoth:
		return "locked_both"
	case Revealed:
		return "revealed"
	case Completed:
		return "completed"
	case Refunded:
		return "refunded"
	case Failed:
		return "failed"
	default:
		return "unknown"
	}
}

// Terminal reports whether s is an end state of the lifecycle (Completed,
// Refunded, Failed). The one legal edge out of an end state is
// Refunded -> Failed, used when a refund never lands.
func (s State) Terminal() bool {
	return s == Completed || s == Refunded || s == Failed
}

// Direction is the asset flow of a swap.
type Direction uint

const (
	TokenToPrivate Direction = iota // USDC -> XMR, maker locks XMR on acceptance
	PrivateToToken                  // XMR -> USDC, maker locks first
)

func (d Direction) String() string {
	if d == TokenToPrivate {
		return "token_to_private"
	}
	return "private_to_token"
}

// FailureKind tags why a swap ended in Failed.
type FailureKind string

const (
	FailureNone           FailureKind = ""
	FailureMismatchedLock FailureKind = "mismatched_lock"
	FailureRefundStuck    FailureKind = "refund_stuck"
	FailurePayoutTimeout  FailureKind = "payout_timeout"
	FailureAnomaly        FailureKind = "anomaly"
)

// transitions enumerates the legal DAG edges. It is consulted by
// Store.Transition to reject regressions and cycles before a single row
// is written.
// LockedOne's extra edge to Failed covers the mismatched-lock path: a
// counterparty lock that doesn't match the quoted (amount, hash_lock,
// destination) never promotes to LockedBoth, but the deadline-one refund
// still fires and the swap ends Failed(MismatchedLock) instead of
// Refunded.
// Refunded's edge to Failed covers a refund broadcast that never lands: the
// driver retries with backoff up to its configured cap and, on exhausting
// it, corrects the swap to Failed(RefundStuck) rather than leaving it
// parked in a Refunded state nothing actually refunded.
var transitions = map[State][]State{
	Quoted:     {LockedOne, Failed},
	LockedOne:  {LockedBoth, Refunded, Failed},
	LockedBoth: {Revealed, Refunded},
	Revealed:   {Completed, Failed},
	Completed:  {},
	Refunded:   {Failed},
	Failed:     {},
}

// Swap is the primary entity, mapped onto the swaps table. SecretHash,
// PrivateDestination, and the chain artifacts are stored as hex strings;
// SwapID is the 32-byte identifier, also hex-encoded, under a unique index
// (the primary key is gorm.Model's ID).
type Swap struct {
	gorm.Model

	SwapID    string `gorm:"uniqueIndex;column:swap_id"`
	QuoteID   string `gorm:"index"`
	Direction Direction

	TokenAmount   uint64
	PrivateAmount uint64

	SecretHash          string `gorm:"index"`
	PrivateDestination  string
	CounterpartyPubKey  string

	State State

	ExpiresAtOne time.Time
	ExpiresAtTwo time.Time

	TokenChainArtifact   string
	PrivateChainArtifact string

	// PresigR/PresigS are the maker's own pre-signature, hex-encoded,
	// persisted at lock time for directions where the maker never
	// publishes a completion itself and must instead extract the secret
	// later from a completion the counterparty broadcasts.
	PresigR string
	PresigS string

	FailureKind FailureKind
}

func (Swap) TableName() string { return "swaps" }

// Store is the durable contract the engine depends on.
type Store interface {
	// Create inserts a new swap in the Quoted state. It does not touch the
	// vault; callers are responsible for sealing the secret separately.
	Create(swap *Swap) error

	// Get returns the swap with the given id.
	Get(swapID string) (*Swap, error)

	// Transition validates `to` is a legal successor of the row's current
	// state and, if so, applies it together with any extra column updates
	// in a single transaction. Illegal transitions are rejected without
	// writing anything: state only moves forward, never backward and
	// never in a cycle. A transition to the row's current state leaves the
	// state as it is and applies only the extra column updates, if any, so
	// duplicate delivery of the same watcher event is safe.
	Transition(swapID string, to State, updates map[string]interface{}) error

	// RecordTokenLock sets TokenChainArtifact if none is recorded yet.
	// A second call for the same swap with a conflicting value is rejected.
	RecordTokenLock(swapID, artifact string) error

	// RecordPrivateLock sets PrivateChainArtifact if none is recorded yet.
	RecordPrivateLock(swapID, artifact string) error

	// RecordPresignature persists the maker's own pre-signature for later
	// extraction. A second call for the same swap with a conflicting value
	// is rejected.
	RecordPresignature(swapID string, r, s string) error

	// ActiveSwaps returns every swap whose state is not terminal, used to
	// resume drivers and deadline scanning after a restart.
	ActiveSwaps() ([]Swap, error)

	// SwapsPastDeadlineOne / SwapsPastDeadlineTwo support the deadline
	// ticker's scan without requiring it to hold the full active set.
	SwapsPastDeadlineOne(now time.Time) ([]Swap, error)
	SwapsPastDeadlineTwo(now time.Time) ([]Swap, error)
}

type store struct {
	db *gorm.DB
}

// New opens the swaps table over db, migrating it if necessary, and caps
// the connection pool the way a single-writer-per-row workload should.
func New(db *gorm.DB) (Store, error) {
	if err := db.AutoMigrate(&Swap{}); err != nil {
		return nil, fmt.Errorf("store: migrate: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("store: underlying db: %w", err)
	}
	sqlDB.SetMaxIdleConns(5)
	sqlDB.SetMaxOpenConns(10)
	sqlDB.SetConnMaxIdleTime(10 * time.Minute)

	return &store{db: db}, nil
}

func (s *store) Create(swap *Swap) error {
	if swap.ExpiresAtTwo.Before(swap.ExpiresAtOne) || swap.ExpiresAtTwo.Equal(swap.ExpiresAtOne) {
		return fmt.Errorf("store: %w: expires_at_two must exceed expires_at_one", ErrIllegalTransition)
	}
	swap.State = Quoted
	return s.db.Create(swap).Error
}

func (s *store) Get(swapID string) (*Swap, error) {
	var swap Swap
	if err := s.db.Where("swap_id = ?", swapID).First(&swap).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &swap, nil
}

func (s *store) Transition(swapID string, to State, updates map[string]interface{}) error {
	return s.db.Transaction(func(tx *gorm.DB) error {
		var current Swap
		if err := tx.Where("swap_id = ?", swapID).First(&current).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrNotFound
			}
			return err
		}

		if current.State == to {
			// Duplicate transition request: state stays, extra columns apply.
			if len(updates) == 0 {
				return nil
			}
			return tx.Model(&Swap{}).Where("swap_id = ?", swapID).Updates(updates).Error
		}
		if !isLegal(current.State, to) {
			return fmt.Errorf("store: %w: %s -> %s", ErrIllegalTransition, current.State, to)
		}

		cols := map[string]interface{}{"state": to}
		for k, v := range updates {
			cols[k] = v
		}
		return tx.Model(&Swap{}).Where("swap_id = ?", swapID).Updates(cols).Error
	})
}

func isLegal(from, to State) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

func (s *store) RecordTokenLock(swapID, artifact string) error {
	return s.db.Transaction(func(tx *gorm.DB) error {
		var current Swap
		if err := tx.Where("swap_id = ?", swapID).First(&current).Error; err != nil {
			return err
		}
		if current.TokenChainArtifact != "" && current.TokenChainArtifact != artifact {
			return fmt.Errorf("store: anomaly: second token lock observed for swap %s", swapID)
		}
		return tx.Model(&Swap{}).Where("swap_id = ?", swapID).Update("token_chain_artifact", artifact).Error
	})
}

func (s *store) RecordPrivateLock(swapID, artifact string) error {
	return s.db.Transaction(func(tx *gorm.DB) error {
		var current Swap
		if err := tx.Where("swap_id = ?", swapID).First(&current).Error; err != nil {
			return err
		}
		if current.PrivateChainArtifact != "" && current.PrivateChainArtifact != artifact {
			return fmt.Errorf("store: anomaly: second private lock observed for swap %s", swapID)
		}
		return tx.Model(&Swap{}).Where("swap_id = ?", swapID).Update("private_chain_artifact", artifact).Error
	})
}

func (s *store) RecordPresignature(swapID string, r, s2 string) error {
	return s.db.Transaction(func(tx *gorm.DB) error {
		var current Swap
		if err := tx.Where("swap_id = ?", swapID).First(&current).Error; err != nil {
			return err
		}
		if current.PresigR != "" && (current.PresigR != r || current.PresigS != s2) {
			return fmt.Errorf("store: anomaly: second presignature observed for swap %s", swapID)
		}
		return tx.Model(&Swap{}).Where("swap_id = ?", swapID).Updates(map[string]interface{}{
			"presig_r": r,
			"presig_s": s2,
		}).Error
	})
}

func (s *store) ActiveSwaps() ([]Swap, error) {
	var swaps []Swap
	err := s.db.Where("state NOT IN ?", []State{Completed, Refunded, Failed}).Find(&swaps).Error
	return swaps, err
}

func (s *store) SwapsPastDeadlineOne(now time.Time) ([]Swap, error) {
	var swaps []Swap
	err := s.db.Where("state = ? AND expires_at_one <= ?", LockedOne, now).Find(&swaps).Error
	return swaps, err
}

func (s *store) SwapsPastDeadlineTwo(now time.Time) ([]Swap, error) {
	var swaps []Swap
	err := s.db.Where("state = ? AND expires_at_two <= ?", LockedBoth, now).Find(&swaps).Error
	return swaps, err
}
