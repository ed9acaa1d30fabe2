package metrics

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/EdmarFn/metamask-buddy-challenge/pkg/models"
	"github.com/EdmarFn/metamask-buddy-challenge/pkg/provider"
	"github.com/EdmarFn/metamask-buddy-challenge/pkg/wallet"
)

type stubProvider struct {
	provider.Feed
	err error
}

func (s *stubProvider) IsMetaMask() bool { return true }

func (s *stubProvider) Request(ctx context.Context, method string, params ...any) (json.RawMessage, error) {
	if s.err != nil {
		return nil, s.err
	}
	return json.RawMessage(`"0x1"`), nil
}

func TestWrapProvider(t *testing.T) {
	m := New()
	stub := &stubProvider{}
	p := WrapProvider(stub, m)
	assert.True(t, provider.Detect(p))

	raw, err := p.Request(context.Background(), provider.MethodChainID)
	require.NoError(t, err)
	assert.JSONEq(t, `"0x1"`, string(raw))

	stub.err = &provider.Error{Code: provider.CodeUserRejected, Message: "User rejected the request."}
	_, err = p.Request(context.Background(), provider.MethodRequestAccounts)
	assert.Equal(t, provider.CodeUserRejected, provider.Code(err))

	stub.err = errors.New("dial tcp: refused")
	_, _ = p.Request(context.Background(), provider.MethodChainID)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.ProviderRequests.WithLabelValues(provider.MethodChainID, OutcomeOK, "")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ProviderRequests.WithLabelValues(provider.MethodRequestAccounts, OutcomeError, "4001")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ProviderRequests.WithLabelValues(provider.MethodChainID, OutcomeError, "")))

	// Subscriptions pass through to the wrapped provider.
	sub := p.Subscribe()
	defer sub.Unsubscribe()
	stub.Send(provider.Event{Name: provider.ChainChanged, ChainID: "0x89"})
	assert.Equal(t, "0x89", (<-sub.Events()).ChainID)

	assert.Nil(t, WrapProvider(nil, m))
}

func TestObserveFetch(t *testing.T) {
	m := New()
	m.ObserveFetch(20*time.Millisecond, 5, nil)
	m.ObserveFetch(time.Second, 0, errors.New("boom"))

	assert.Equal(t, 2, testutil.CollectAndCount(m.HistoryFetches))
	assert.Equal(t, 1, testutil.CollectAndCount(m.HistoryTxs))
}

func TestCountEvents(t *testing.T) {
	m := New()
	sub := make(wallet.Subscriber, 3)
	sub <- wallet.Event{Type: wallet.EventStateChanged, State: models.WalletState{}}
	sub <- wallet.Event{Type: wallet.EventStateChanged}
	sub <- wallet.Event{Type: wallet.EventNotice}
	close(sub)

	m.CountEvents(sub)
	assert.Equal(t, 2.0, testutil.ToFloat64(m.WalletEvents.WithLabelValues(string(wallet.EventStateChanged))))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.WalletEvents.WithLabelValues(string(wallet.EventNotice))))
}

func TestMiddlewareAndHandler(t *testing.T) {
	m := New()
	h := m.Middleware("/api/status", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/status", nil))
	assert.Equal(t, http.StatusTeapot, rec.Code)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.HTTPRequests.WithLabelValues(http.MethodGet, "/api/status", "418")))

	srv := httptest.NewServer(m.Handler())
	defer srv.Close()
	resp, err := http.Get(srv.URL)
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	body, _ := io.ReadAll(resp.Body)
	assert.True(t, strings.Contains(string(body), "metamask_buddy_http_requests_total"))
}
