package monero

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLockCallsTransferAndReturnsTxHash(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req rpcRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		require.Equal(t, "transfer", req.Method)
		json.NewEncoder(w).Encode(rpcResponse{Result: json.RawMessage(`{"tx_hash":"abc123"}`)})
	}))
	defer srv.Close()

	c := New(srv.URL, "", "", "")
	tx, err := c.Lock(context.Background(), [32]byte{0x01}, 1_000_000_000)
	require.NoError(t, err)
	require.Equal(t, "abc123", string(tx))
}

func TestConfirmationsFallsBackToRPCWithoutFeed(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(rpcResponse{Result: json.RawMessage(`{"transfer":{"confirmations":12}}`)})
	}))
	defer srv.Close()

	c := New(srv.URL, "", "", "")
	depth, err := c.Confirmations(context.Background(), "abc123")
	require.NoError(t, err)
	require.Equal(t, uint32(12), depth)
}

func TestConfirmationsPrefersFeedUpdateOverRPC(t *testing.T) {
	c := New("http://unused", "", "", "ws://unused")
	c.seen["abc123"] = 99

	depth, err := c.Confirmations(context.Background(), "abc123")
	require.NoError(t, err)
	require.Equal(t, uint32(99), depth)
}

func TestRefundResolvesOwnAddressThenSweeps(t *testing.T) {
	var methodsSeen []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req rpcRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		methodsSeen = append(methodsSeen, req.Method)
		switch req.Method {
		case "get_address":
			json.NewEncoder(w).Encode(rpcResponse{Result: json.RawMessage(`{"address":"self-addr"}`)})
		case "sweep_single":
			json.NewEncoder(w).Encode(rpcResponse{Result: json.RawMessage(`{"tx_hash":"refund123"}`)})
		}
	}))
	defer srv.Close()

	c := New(srv.URL, "", "", "")
	tx, err := c.Refund(context.Background(), [32]byte{0x09})
	require.NoError(t, err)
	require.Equal(t, "refund123", string(tx))
	require.Equal(t, []string{"get_address", "sweep_single"}, methodsSeen)
}

func TestBalanceUnmarshalsUnlockedBalance(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(rpcResponse{Result: json.RawMessage(`{"unlocked_balance":7000000000}`)})
	}))
	defer srv.Close()

	c := New(srv.URL, "", "", "")
	balance, err := c.Balance(context.Background())
	require.NoError(t, err)
	require.Equal(t, uint64(7000000000), balance)
}
