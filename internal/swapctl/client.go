// Package swapctl implements the operator CLI's REST client: POST or GET
// a JSON body, unmarshal either a result or an error, against the
// daemon's plain REST façade.
package swapctl

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// Client talks to a running daemon's HTTP façade.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

func NewClient(baseURL string) *Client {
	return &Client{baseURL: baseURL, httpClient: &http.Client{Timeout: 15 * time.Second}}
}

// SetBaseURL repoints an already-constructed client, letting swapctl's root
// command bind --url after cobra has parsed flags but before any
// subcommand's Run fires.
func (c *Client) SetBaseURL(baseURL string) { c.baseURL = baseURL }

func (c *Client) do(method, path string, body, out interface{}) error {
	var reader io.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("swapctl: marshal request: %w", err)
		}
		reader = bytes.NewReader(encoded)
	}

	req, err := http.NewRequest(method, c.baseURL+path, reader)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("swapctl: %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("swapctl: read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		var errBody struct {
			Error string `json:"error"`
		}
		if json.Unmarshal(raw, &errBody) == nil && errBody.Error != "" {
			return fmt.Errorf("swapctl: %s %s: %s", method, path, errBody.Error)
		}
		return fmt.Errorf("swapctl: %s %s: %s", method, path, resp.Status)
	}

	if out != nil {
		if err := json.Unmarshal(raw, out); err != nil {
			return fmt.Errorf("swapctl: unmarshal response: %w", err)
		}
	}
	return nil
}

// QuoteRequest mirrors the façade's POST /v1/quote body.
type QuoteRequest struct {
	Direction   string `json:"direction"`
	TokenAmount uint64 `json:"token_amount"`
}

// QuoteResponse mirrors the façade's POST /v1/quote response.
type QuoteResponse struct {
	QuoteID    string    `json:"quote_id"`
	SecretHash string    `json:"secret_hash"`
	Rate       float64   `json:"rate"`
	ExpiresAt  time.Time `json:"expires_at"`
}

func (c *Client) Quote(req QuoteRequest) (*QuoteResponse, error) {
	var resp QuoteResponse
	if err := c.do(http.MethodPost, "/v1/quote", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// AcceptRequest mirrors the façade's POST /v1/swap/accept body.
type AcceptRequest struct {
	QuoteID            string `json:"quote_id"`
	CounterpartyPubkey string `json:"counterparty_pubkey"`
	Destination        string `json:"destination"`
}

// AcceptResponse mirrors the façade's POST /v1/swap/accept response.
type AcceptResponse struct {
	SwapID string `json:"swap_id"`
}

func (c *Client) Accept(req AcceptRequest) (*AcceptResponse, error) {
	var resp AcceptResponse
	if err := c.do(http.MethodPost, "/v1/swap/accept", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// SwapStatus mirrors the façade's GET /v1/swap/:id response.
type SwapStatus struct {
	SwapID        string    `json:"swap_id"`
	Direction     string    `json:"direction"`
	State         string    `json:"state"`
	TokenAmount   uint64    `json:"token_amount"`
	PrivateAmount uint64    `json:"private_amount"`
	FailureKind   string    `json:"failure_kind,omitempty"`
	ExpiresAtOne  time.Time `json:"expires_at_one"`
	ExpiresAtTwo  time.Time `json:"expires_at_two"`
}

func (c *Client) Status(swapID string) (*SwapStatus, error) {
	var resp SwapStatus
	if err := c.do(http.MethodGet, "/v1/swap/"+swapID, nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Health mirrors the façade's GET /health response.
func (c *Client) Health() (map[string]interface{}, error) {
	var resp map[string]interface{}
	if err := c.do(http.MethodGet, "/health", nil, &resp); err != nil {
		return nil, err
	}
	return resp, nil
}
