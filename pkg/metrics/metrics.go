// Package metrics exposes Prometheus instrumentation for providers, history
// fetches and the HTTP API.
package metrics

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/EdmarFn/metamask-buddy-challenge/pkg/provider"
	"github.com/EdmarFn/metamask-buddy-challenge/pkg/wallet"
)

const namespace = "metamask_buddy"

// Outcome labels.
const (
	OutcomeOK    = "ok"
	OutcomeError = "error"
)

type Metrics struct {
	Registry *prometheus.Registry

	ProviderRequests *prometheus.CounterVec
	ProviderLatency  *prometheus.HistogramVec
	HistoryFetches   *prometheus.HistogramVec
	HistoryTxs       prometheus.Histogram
	WalletEvents     *prometheus.CounterVec
	HTTPRequests     *prometheus.CounterVec
	HTTPDuration     *prometheus.HistogramVec
}

// New registers all collectors on a fresh registry.
func New() *Metrics {
	m := &Metrics{
		Registry: prometheus.NewRegistry(),
		ProviderRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "provider_requests_total",
			Help:      "Provider JSON-RPC requests by method, outcome and error code.",
		}, []string{"method", "outcome", "code"}),
		ProviderLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "provider_request_duration_seconds",
			Help:      "Provider JSON-RPC request latency.",
			Buckets:   []float64{0.05, 0.1, 0.3, 0.5, 1, 2, 5},
		}, []string{"method"}),
		HistoryFetches: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "history_fetch_duration_seconds",
			Help:      "Transaction history fetch duration by outcome.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"outcome"}),
		HistoryTxs: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "history_fetch_transactions",
			Help:      "Transactions returned per successful history fetch.",
			Buckets:   []float64{0, 1, 5, 10, 25, 50, 100},
		}),
		WalletEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "wallet_events_total",
			Help:      "Wallet state events by type.",
		}, []string{"type"}),
		HTTPRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Total number of HTTP requests.",
		}, []string{"method", "path", "status"}),
		HTTPDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency distributions.",
			Buckets:   []float64{0.1, 0.3, 0.5, 1.0, 2.0, 5.0},
		}, []string{"method", "path"}),
	}
	m.Registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.ProviderRequests,
		m.ProviderLatency,
		m.HistoryFetches,
		m.HistoryTxs,
		m.WalletEvents,
		m.HTTPRequests,
		m.HTTPDuration,
	)
	return m
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{Registry: m.Registry})
}

// ObserveFetch matches history.Fetcher.OnFetch.
func (m *Metrics) ObserveFetch(elapsed time.Duration, count int, err error) {
	outcome := OutcomeOK
	if err != nil {
		outcome = OutcomeError
	}
	m.HistoryFetches.WithLabelValues(outcome).Observe(elapsed.Seconds())
	if err == nil {
		m.HistoryTxs.Observe(float64(count))
	}
}

// CountEvents counts controller events until sub is closed.
func (m *Metrics) CountEvents(sub wallet.Subscriber) {
	for ev := range sub {
		m.WalletEvents.WithLabelValues(string(ev.Type)).Inc()
	}
}

// Middleware records request count and latency per registered route pattern.
func (m *Metrics) Middleware(pattern string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		m.HTTPRequests.WithLabelValues(r.Method, pattern, strconv.Itoa(rec.status)).Inc()
		m.HTTPDuration.WithLabelValues(r.Method, pattern).Observe(time.Since(start).Seconds())
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (r *statusRecorder) Unwrap() http.ResponseWriter { return r.ResponseWriter }

// Hijack keeps websocket upgrades working behind the middleware.
func (r *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := r.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("metrics: response writer does not support hijacking")
	}
	r.status = http.StatusSwitchingProtocols
	return h.Hijack()
}

// WrapProvider instruments every request made through p.
func WrapProvider(p provider.Provider, m *Metrics) provider.Provider {
	if p == nil || m == nil {
		return p
	}
	return &instrumented{Provider: p, m: m}
}

type instrumented struct {
	provider.Provider
	m *Metrics
}

func (i *instrumented) Request(ctx context.Context, method string, params ...any) (json.RawMessage, error) {
	start := time.Now()
	raw, err := i.Provider.Request(ctx, method, params...)
	i.m.ProviderLatency.WithLabelValues(method).Observe(time.Since(start).Seconds())
	outcome, code := OutcomeOK, ""
	if err != nil {
		outcome = OutcomeError
		if c := provider.Code(err); c != 0 {
			code = strconv.Itoa(c)
		}
	}
	i.m.ProviderRequests.WithLabelValues(method, outcome, code).Inc()
	return raw, err
}
