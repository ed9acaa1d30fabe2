package provider

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/EdmarFn/metamask-buddy-challenge/pkg/config"
	"github.com/EdmarFn/metamask-buddy-challenge/pkg/logger"
)

type rpcRequest struct {
	ID     json.RawMessage `json:"id"`
	Method string          `json:"method"`
	Params []any           `json:"params"`
}

// newRPCServer answers JSON-RPC calls with handle. A non-nil *Error result is
// sent as a JSON-RPC error object.
func newRPCServer(t *testing.T, handle func(method string, params []any) (any, *Error)) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req rpcRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "bad request", http.StatusBadRequest)
			return
		}
		result, rpcErr := handle(req.Method, req.Params)
		resp := map[string]any{"jsonrpc": "2.0", "id": req.ID}
		if rpcErr != nil {
			resp["error"] = rpcErr
		} else {
			resp["result"] = result
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(resp)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func testNetworks(urls ...string) []config.NetworkConfig {
	return []config.NetworkConfig{
		{ChainID: "0x1", Name: "Mainnet", RPCURLs: urls},
		{ChainID: "0xaa36a7", Name: "Sepolia", RPCURLs: urls},
	}
}

func TestNode_ConfiguredAccounts(t *testing.T) {
	n, err := NewNode(testNetworks("http://127.0.0.1:1"), "0x1", []string{"0xAbC"}, logger.Discard())
	require.NoError(t, err)
	defer n.Close()

	for _, method := range []string{MethodRequestAccounts, MethodAccounts} {
		raw, err := n.Request(context.Background(), method)
		require.NoError(t, err)
		assert.JSONEq(t, `["0xAbC"]`, string(raw))
	}

	raw, err := n.Request(context.Background(), MethodChainID)
	require.NoError(t, err)
	assert.JSONEq(t, `"0x1"`, string(raw))
	assert.True(t, Detect(n))
}

func TestNode_ForwardsToNode(t *testing.T) {
	srv := newRPCServer(t, func(method string, params []any) (any, *Error) {
		switch method {
		case "eth_accounts":
			return []string{"0xNode"}, nil
		case "eth_getBalance":
			return "0xde0b6b3a7640000", nil
		}
		return nil, &Error{Code: -32601, Message: "method not found"}
	})

	n, err := NewNode(testNetworks(srv.URL), "0x1", nil, logger.Discard())
	require.NoError(t, err)
	defer n.Close()

	raw, err := n.Request(context.Background(), MethodRequestAccounts)
	require.NoError(t, err)
	assert.JSONEq(t, `["0xNode"]`, string(raw))

	raw, err = n.Request(context.Background(), MethodGetBalance, "0xNode", "latest")
	require.NoError(t, err)
	assert.JSONEq(t, `"0xde0b6b3a7640000"`, string(raw))

	_, err = n.Request(context.Background(), "eth_unknown")
	require.Error(t, err)
	pe, ok := AsError(err)
	require.True(t, ok)
	assert.Equal(t, -32601, pe.Code)
	assert.Equal(t, "method not found", pe.Message)
}

func TestNode_FailsOverToNextRPC(t *testing.T) {
	var brokenHits atomic.Int32
	broken := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		brokenHits.Add(1)
		http.Error(w, "down", http.StatusBadGateway)
	}))
	defer broken.Close()
	healthy := newRPCServer(t, func(method string, params []any) (any, *Error) {
		return "0x10", nil
	})

	n, err := NewNode(testNetworks(broken.URL, healthy.URL), "0x1", nil, logger.Discard())
	require.NoError(t, err)
	defer n.Close()

	raw, err := n.Request(context.Background(), MethodBlockNumber)
	require.NoError(t, err)
	assert.JSONEq(t, `"0x10"`, string(raw))
	assert.Equal(t, int32(1), brokenHits.Load())
}

func TestNode_AllRPCsFail(t *testing.T) {
	broken := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "down", http.StatusBadGateway)
	}))
	defer broken.Close()

	n, err := NewNode(testNetworks(broken.URL), "0x1", nil, logger.Discard())
	require.NoError(t, err)
	defer n.Close()

	_, err = n.Request(context.Background(), MethodBlockNumber)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "all rpcs failed for Mainnet")
}

func TestNode_SwitchChain(t *testing.T) {
	n, err := NewNode(testNetworks("http://127.0.0.1:1"), "0x1", []string{"0xAbC"}, logger.Discard())
	require.NoError(t, err)
	defer n.Close()

	sub := n.Subscribe()
	defer sub.Unsubscribe()

	_, err = n.Request(context.Background(), MethodSwitchChain, SwitchChainParams{ChainID: "0xaa36a7"})
	require.NoError(t, err)
	assert.Equal(t, "Sepolia", n.Active().Name)

	select {
	case ev := <-sub.Events():
		assert.Equal(t, ChainChanged, ev.Name)
		assert.Equal(t, "0xaa36a7", ev.ChainID)
	case <-time.After(time.Second):
		t.Fatal("expected chainChanged event")
	}

	// Plain maps work as parameters too.
	_, err = n.Request(context.Background(), MethodSwitchChain, map[string]string{"chainId": "0x1"})
	require.NoError(t, err)
	assert.Equal(t, "Mainnet", n.Active().Name)
}

func TestNode_SwitchChainUnknown(t *testing.T) {
	n, err := NewNode(testNetworks("http://127.0.0.1:1"), "0x1", nil, logger.Discard())
	require.NoError(t, err)
	defer n.Close()

	_, err = n.Request(context.Background(), MethodSwitchChain, SwitchChainParams{ChainID: "0x999"})
	require.Error(t, err)
	assert.Equal(t, CodeUnrecognizedChain, Code(err))
	assert.Equal(t, "Mainnet", n.Active().Name)

	_, err = n.Request(context.Background(), MethodSwitchChain)
	assert.Equal(t, rpcInvalidParams, Code(err))
}

func TestNode_WatchEmitsAccountChanges(t *testing.T) {
	var accounts atomic.Value
	accounts.Store([]string{"0xA"})
	srv := newRPCServer(t, func(method string, params []any) (any, *Error) {
		if method == "eth_accounts" {
			return accounts.Load(), nil
		}
		return nil, &Error{Code: -32601, Message: "method not found"}
	})

	n, err := NewNode(testNetworks(srv.URL), "0x1", nil, logger.Discard())
	require.NoError(t, err)
	defer n.Close()

	sub := n.Subscribe()
	defer sub.Unsubscribe()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go n.Watch(ctx, 10*time.Millisecond)

	time.Sleep(30 * time.Millisecond)
	accounts.Store([]string{})

	select {
	case ev := <-sub.Events():
		assert.Equal(t, AccountsChanged, ev.Name)
		assert.Empty(t, ev.Accounts)
	case <-time.After(2 * time.Second):
		t.Fatal("expected accountsChanged event")
	}
}

func TestNewNode_NoNetworks(t *testing.T) {
	_, err := NewNode(nil, "", nil, nil)
	assert.Error(t, err)
}
