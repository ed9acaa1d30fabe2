package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/gorilla/websocket"

	"github.com/EdmarFn/metamask-buddy-challenge/pkg/bridge"
	"github.com/EdmarFn/metamask-buddy-challenge/pkg/metrics"
	"github.com/EdmarFn/metamask-buddy-challenge/pkg/models"
	"github.com/EdmarFn/metamask-buddy-challenge/pkg/wallet"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

const writeWait = 10 * time.Second

// Options configures the optional parts of the API.
type Options struct {
	Networks []models.NetworkOption
	// Bridge, when set, is mounted on /bridge and the relay page on /.
	Bridge  http.Handler
	Metrics *metrics.Metrics
	Logger  *log.Logger
}

type Server struct {
	controller *wallet.Controller
	networks   []models.NetworkOption
	metrics    *metrics.Metrics
	logger     *log.Logger
	events     wallet.Subscriber

	clients map[*websocket.Conn]bool
	mu      sync.Mutex
	mux     *http.ServeMux
}

type statusResponse struct {
	State            models.WalletState     `json:"state"`
	Networks         []models.NetworkOption `json:"networks"`
	ProviderDetected bool                   `json:"providerDetected"`
}

type errorBody struct {
	Kind    string `json:"kind"`
	Message string `json:"message"`
	Code    int    `json:"code,omitempty"`
}

type networkRequest struct {
	ChainID string `json:"chainId"`
}

// NewServer subscribes to the controller immediately so no event is lost
// between construction and Start.
func NewServer(c *wallet.Controller, opts Options) *Server {
	logger := opts.Logger
	if logger == nil {
		logger = log.Default()
	}
	networks := opts.Networks
	if len(networks) == 0 {
		networks = models.DefaultNetworkOptions
	}
	s := &Server{
		controller: c,
		networks:   networks,
		metrics:    opts.Metrics,
		logger:     logger.WithPrefix("api"),
		events:     c.Subscribe(),
		clients:    make(map[*websocket.Conn]bool),
		mux:        http.NewServeMux(),
	}
	s.routes(opts.Bridge)
	return s
}

func (s *Server) routes(b http.Handler) {
	s.handle("GET /api/status", "/api/status", http.HandlerFunc(s.handleStatus))
	s.handle("POST /api/connect", "/api/connect", http.HandlerFunc(s.handleConnect))
	s.handle("POST /api/disconnect", "/api/disconnect", http.HandlerFunc(s.handleDisconnect))
	s.handle("POST /api/network", "/api/network", http.HandlerFunc(s.handleNetwork))
	s.handle("POST /api/transactions", "/api/transactions", http.HandlerFunc(s.handleTransactions))
	s.handle("GET /ws", "/ws", http.HandlerFunc(s.handleWS))
	if b != nil {
		s.handle("GET /bridge", "/bridge", b)
		s.handle("GET /{$}", "/", bridge.PageHandler())
	}
	if s.metrics != nil {
		s.mux.Handle("GET /metrics", s.metrics.Handler())
	}
}

func (s *Server) handle(pattern, path string, h http.Handler) {
	if s.metrics != nil {
		h = s.metrics.Middleware(path, h)
	}
	s.mux.Handle(pattern, h)
}

// Handler exposes the routes, mainly for tests and embedding.
func (s *Server) Handler() http.Handler { return s.mux }

// Start serves until ctx is cancelled.
func (s *Server) Start(ctx context.Context, port int) error {
	go s.listenToController()

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           s.mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	s.logger.Info("API server listening", "port", port)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) status() statusResponse {
	return statusResponse{
		State:            s.controller.State(),
		Networks:         s.networks,
		ProviderDetected: s.controller.ProviderDetected(),
	}
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.status())
}

func (s *Server) handleConnect(w http.ResponseWriter, r *http.Request) {
	state, err := s.controller.Connect(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, state)
}

func (s *Server) handleDisconnect(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.controller.Disconnect(r.Context()))
}

func (s *Server) handleNetwork(w http.ResponseWriter, r *http.Request) {
	var req networkRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.ChainID == "" {
		writeJSON(w, http.StatusBadRequest, map[string]errorBody{
			"error": {Kind: "bad_request", Message: "chainId is required"},
		})
		return
	}
	if err := s.controller.SwitchNetwork(r.Context(), req.ChainID); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, s.controller.State())
}

func (s *Server) handleTransactions(w http.ResponseWriter, r *http.Request) {
	txs, err := s.controller.FetchTransactionHistory(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, txs)
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer func() { _ = conn.Close() }()

	// Send initial state before the connection is visible to broadcast.
	initialData := map[string]interface{}{
		"type": "initial",
		"data": s.status(),
	}
	_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := conn.WriteJSON(initialData); err != nil {
		return
	}

	s.mu.Lock()
	s.clients[conn] = true
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		delete(s.clients, conn)
		s.mu.Unlock()
	}()

	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			break
		}
	}
}

func (s *Server) listenToController() {
	defer s.controller.Unsubscribe(s.events)

	for event := range s.events {
		s.broadcast(event)
	}
}

func (s *Server) broadcast(event wallet.Event) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for client := range s.clients {
		_ = client.SetWriteDeadline(time.Now().Add(writeWait))
		if err := client.WriteJSON(event); err != nil {
			s.logger.Debug("dropping websocket client", "err", err)
			_ = client.Close()
			delete(s.clients, client)
		}
	}
}

// statusFor maps a controller error kind to an HTTP status.
func statusFor(err error) int {
	var we *wallet.Error
	if !errors.As(err, &we) {
		return http.StatusInternalServerError
	}
	switch we.Kind {
	case wallet.KindAlreadyPending:
		return http.StatusConflict
	case wallet.KindUserRejected, wallet.KindUnknownChain:
		return http.StatusBadRequest
	case wallet.KindProviderAbsent:
		return http.StatusServiceUnavailable
	}
	if we.Message == wallet.MsgNotConnected || we.Message == wallet.MsgDisconnected {
		return http.StatusConflict
	}
	return http.StatusBadGateway
}

func writeError(w http.ResponseWriter, err error) {
	body := errorBody{Kind: "internal", Message: err.Error()}
	var we *wallet.Error
	if errors.As(err, &we) {
		body = errorBody{Kind: string(we.Kind), Message: we.Message, Code: we.Code}
	}
	writeJSON(w, statusFor(err), map[string]errorBody{"error": body})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
