// Package chain defines the narrow capability interfaces the swap engine
// consumes for each leg of the trade. Production adapters live in
// internal/chain/solana and internal/chain/monero; internal/chain/chaintest
// provides in-memory doubles for the engine's test suite.
package chain

import "context"

// LockInfo is what a token-chain observer sees about an escrow lock.
type LockInfo struct {
	Amount          uint64
	HashLock        [32]byte
	RefundAfter     int64 // unix seconds
	BeneficiaryKey  string
	Confirmations   uint32
}

// LockArtifact is the canonical signature of the token-chain lock
// transaction, base58-encoded.
type LockArtifact string

// TxArtifact is a 32-byte private-chain transaction hash, hex-encoded.
type TxArtifact string

// CompletedSignature is the two-scalar Schnorr signature a counterparty
// broadcasts against a token-chain escrow by completing the maker's
// pre-signature with its own adaptor secret. Observing it is how the
// maker recovers that secret when the counterparty reveals first.
type CompletedSignature struct {
	R [32]byte
	S [32]byte
}

// TokenChain is the capability set the engine needs from the token-chain
// (Solana/USDC) side of a swap.
type TokenChain interface {
	// Lock creates a program-derived escrow redeemable by whoever can
	// publish a completed adaptor signature against hashLock, else
	// refundable to the locker after refundAfter.
	Lock(ctx context.Context, swapID [32]byte, amount uint64, hashLock [32]byte, refundAfter int64, beneficiaryPubKey string) (LockArtifact, error)

	// ObserveLock reports the current lock for swapID, if any has been
	// broadcast and is visible to this client.
	ObserveLock(ctx context.Context, swapID [32]byte) (*LockInfo, error)

	// PublishAdaptorCompletion broadcasts the completed adaptor signature,
	// which deterministically reveals the adaptor secret to any observer.
	PublishAdaptorCompletion(ctx context.Context, swapID [32]byte, presig, sig []byte) (LockArtifact, error)

	// ObserveAdaptorCompletion reports the completed adaptor signature
	// broadcast against swapID's escrow, if any. A maker that did not
	// publish the completion itself uses this to find and extract the
	// secret a counterparty revealed by completing on its own.
	ObserveAdaptorCompletion(ctx context.Context, swapID [32]byte) (*CompletedSignature, error)

	// Refund broadcasts the refund path for swapID after its deadline.
	Refund(ctx context.Context, swapID [32]byte) (LockArtifact, error)
}

// PrivateChain is the capability set the engine needs from the
// privacy-preserving (Monero/XMR) side of a swap.
type PrivateChain interface {
	// Lock sends amount to subaddress.
	Lock(ctx context.Context, subaddress [32]byte, amount uint64) (TxArtifact, error)

	// Confirmations reports how many blocks have confirmed txID.
	Confirmations(ctx context.Context, txID TxArtifact) (uint32, error)

	// SpendTo constructs the spend key for subaddress from keyMaterial
	// (the adaptor secret) and sends its balance onward.
	SpendTo(ctx context.Context, subaddress [32]byte, keyMaterial [32]byte) (TxArtifact, error)

	// Refund reclaims subaddress's locked balance back to the maker's own
	// wallet once its timeout has passed without a claim. The maker
	// always retains its own spend-key share over the one-time output, so
	// reclaiming it needs no cooperation from the counterparty.
	Refund(ctx context.Context, subaddress [32]byte) (TxArtifact, error)
}

// Required confirmation depths before a lock is treated as settled.
const (
	TokenChainRequiredConfirmations   = 1
	PrivateChainRequiredConfirmations = 10
)
