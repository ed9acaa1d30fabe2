package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/EdmarFn/metamask-buddy-challenge/pkg/bridge"
	"github.com/EdmarFn/metamask-buddy-challenge/pkg/logger"
	"github.com/EdmarFn/metamask-buddy-challenge/pkg/metrics"
	"github.com/EdmarFn/metamask-buddy-challenge/pkg/models"
	"github.com/EdmarFn/metamask-buddy-challenge/pkg/provider"
	"github.com/EdmarFn/metamask-buddy-challenge/pkg/session"
	"github.com/EdmarFn/metamask-buddy-challenge/pkg/wallet"
)

const testAddr = "0xAbc0000000000000000000000000000000000001"

type stubProvider struct {
	provider.Feed
	results map[string]any
	errs    map[string]error
}

func (s *stubProvider) IsMetaMask() bool { return true }

func (s *stubProvider) Request(ctx context.Context, method string, params ...any) (json.RawMessage, error) {
	if err, ok := s.errs[method]; ok {
		return nil, err
	}
	return json.Marshal(s.results[method])
}

func newStub() *stubProvider {
	return &stubProvider{
		results: map[string]any{
			provider.MethodRequestAccounts: []string{testAddr},
			provider.MethodAccounts:        []string{testAddr},
			provider.MethodChainID:         "0x1",
			provider.MethodGetBalance:      "0x0",
		},
		errs: map[string]error{},
	}
}

type historyStub struct{ txs []models.Transaction }

func (h historyStub) Fetch(ctx context.Context, address string, r provider.Requester) ([]models.Transaction, error) {
	return h.txs, nil
}

func newTestServer(p provider.Provider, opts Options) (*Server, *wallet.Controller) {
	c := wallet.NewController(p, session.NewMemory(), historyStub{txs: []models.Transaction{{Hash: "0x01"}}}, logger.Discard())
	opts.Logger = logger.Discard()
	return NewServer(c, opts), c
}

func do(t *testing.T, s *Server, method, path, body string) (*httptest.ResponseRecorder, map[string]interface{}) {
	t.Helper()
	req, _ := http.NewRequest(method, path, bytes.NewBufferString(body))
	rr := httptest.NewRecorder()
	s.Handler().ServeHTTP(rr, req)
	var resp map[string]interface{}
	_ = json.Unmarshal(rr.Body.Bytes(), &resp)
	return rr, resp
}

func errorMessage(resp map[string]interface{}) string {
	e, _ := resp["error"].(map[string]interface{})
	msg, _ := e["message"].(string)
	return msg
}

func TestHandleStatus(t *testing.T) {
	s, _ := newTestServer(nil, Options{})

	rr, resp := do(t, s, "GET", "/api/status", "")
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, false, resp["providerDetected"])
	assert.Contains(t, resp, "state")
	networks, _ := resp["networks"].([]interface{})
	assert.Len(t, networks, len(models.DefaultNetworkOptions))
}

func TestHandleConnect_NotInstalled(t *testing.T) {
	s, _ := newTestServer(nil, Options{})

	rr, resp := do(t, s, "POST", "/api/connect", "")
	assert.Equal(t, http.StatusServiceUnavailable, rr.Code)
	assert.Equal(t, wallet.MsgNotInstalled, errorMessage(resp))
}

func TestHandleConnectAndDisconnect(t *testing.T) {
	s, c := newTestServer(newStub(), Options{})

	rr, resp := do(t, s, "POST", "/api/connect", "")
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, testAddr, resp["address"])
	assert.Equal(t, true, resp["isConnected"])

	rr, resp = do(t, s, "POST", "/api/transactions", "")
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Len(t, c.State().Transactions, 1)

	rr, resp = do(t, s, "POST", "/api/disconnect", "")
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, false, resp["isConnected"])
	assert.Nil(t, resp["address"])
}

func TestHandleConnect_Rejected(t *testing.T) {
	stub := newStub()
	stub.errs[provider.MethodRequestAccounts] = &provider.Error{Code: provider.CodeUserRejected, Message: "User rejected the request."}
	s, _ := newTestServer(stub, Options{})

	rr, resp := do(t, s, "POST", "/api/connect", "")
	assert.Equal(t, http.StatusBadRequest, rr.Code)
	e := resp["error"].(map[string]interface{})
	assert.Equal(t, string(wallet.KindUserRejected), e["kind"])
	assert.Equal(t, float64(provider.CodeUserRejected), e["code"])
}

func TestHandleNetwork(t *testing.T) {
	stub := newStub()
	s, c := newTestServer(stub, Options{})

	rr, _ := do(t, s, "POST", "/api/network", `{}`)
	assert.Equal(t, http.StatusBadRequest, rr.Code)

	stub.errs[provider.MethodSwitchChain] = &provider.Error{Code: provider.CodeUnrecognizedChain, Message: "Unrecognized chain ID"}
	rr, resp := do(t, s, "POST", "/api/network", `{"chainId":"0x89"}`)
	assert.Equal(t, http.StatusBadRequest, rr.Code)
	assert.Equal(t, wallet.MsgUnknownChain, errorMessage(resp))

	delete(stub.errs, provider.MethodSwitchChain)
	rr, resp = do(t, s, "POST", "/api/network", `{"chainId":"0x89"}`)
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "0x89", resp["chainId"])
	assert.Equal(t, "0x89", *c.State().ChainID)
}

func TestHandleTransactions_NotConnected(t *testing.T) {
	s, _ := newTestServer(newStub(), Options{})

	rr, resp := do(t, s, "POST", "/api/transactions", "")
	assert.Equal(t, http.StatusConflict, rr.Code)
	assert.Equal(t, wallet.MsgNotConnected, errorMessage(resp))
}

func TestMethodNotAllowed(t *testing.T) {
	s, _ := newTestServer(nil, Options{})
	rr, _ := do(t, s, "GET", "/api/connect", "")
	assert.Equal(t, http.StatusMethodNotAllowed, rr.Code)
}

func TestHandleWS(t *testing.T) {
	s, c := newTestServer(newStub(), Options{})
	go s.listenToController()
	server := httptest.NewServer(s.Handler())
	defer server.Close()

	u := "ws" + strings.TrimPrefix(server.URL, "http") + "/ws"

	ws, _, err := websocket.DefaultDialer.Dial(u, nil)
	require.NoError(t, err)
	defer func() { _ = ws.Close() }()

	// Read initial state
	var msg map[string]interface{}
	require.NoError(t, ws.ReadJSON(&msg))
	assert.Equal(t, "initial", msg["type"])

	// The client is registered once the initial frame is written.
	require.Eventually(t, func() bool {
		s.mu.Lock()
		defer s.mu.Unlock()
		return len(s.clients) == 1
	}, time.Second, 5*time.Millisecond)

	_, err = c.Connect(context.Background())
	require.NoError(t, err)

	_ = ws.SetReadDeadline(time.Now().Add(2 * time.Second))
	for {
		var ev wallet.Event
		require.NoError(t, ws.ReadJSON(&ev))
		if ev.State.IsConnected {
			assert.Equal(t, wallet.EventStateChanged, ev.Type)
			assert.Equal(t, testAddr, *ev.State.Address)
			break
		}
	}
}

func TestBridgeAndMetricsRoutes(t *testing.T) {
	b := bridge.New(logger.Discard())
	defer b.Close()
	m := metrics.New()
	s, _ := newTestServer(b, Options{Bridge: b, Metrics: m})

	rr, _ := do(t, s, "GET", "/", "")
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), "/bridge")

	rr, resp := do(t, s, "POST", "/api/connect", "")
	assert.Equal(t, http.StatusServiceUnavailable, rr.Code)
	assert.Equal(t, wallet.MsgNotInstalled, errorMessage(resp))

	rr, _ = do(t, s, "GET", "/metrics", "")
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), `metamask_buddy_http_requests_total{method="POST",path="/api/connect",status="503"} 1`)
}

func TestStatusFor(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{&wallet.Error{Kind: wallet.KindAlreadyPending, Message: wallet.MsgConnectPending}, http.StatusConflict},
		{&wallet.Error{Kind: wallet.KindRPC, Message: wallet.MsgNotConnected}, http.StatusConflict},
		{&wallet.Error{Kind: wallet.KindRPC, Message: wallet.MsgDisconnected}, http.StatusConflict},
		{&wallet.Error{Kind: wallet.KindUserRejected, Message: wallet.MsgSwitchRejected}, http.StatusBadRequest},
		{&wallet.Error{Kind: wallet.KindProviderAbsent, Message: wallet.MsgNotInstalled}, http.StatusServiceUnavailable},
		{&wallet.Error{Kind: wallet.KindRPC, Message: "header not found"}, http.StatusBadGateway},
		{errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, statusFor(tt.err), tt.err.Error())
	}
}
