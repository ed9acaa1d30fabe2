// Package bridge is a provider that relays JSON-RPC requests over a websocket
// to a browser page where the MetaMask extension is injected.
package bridge

import (
	"context"
	_ "embed"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/EdmarFn/metamask-buddy-challenge/pkg/provider"
)

// Message types on the wire.
const (
	TypeHello    = "hello"
	TypeRequest  = "request"
	TypeResponse = "response"
	TypeEvent    = "event"
)

// ErrNoWallet is returned while no relay page is connected.
var ErrNoWallet = &provider.Error{Code: provider.CodeDisconnected, Message: "No wallet page is connected"}

var errPageGone = &provider.Error{Code: provider.CodeDisconnected, Message: "Wallet page disconnected"}

//go:embed relay.html
var relayPage []byte

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = pongWait * 9 / 10
)

// Message is one frame exchanged with the relay page.
type Message struct {
	Type       string          `json:"type"`
	ID         string          `json:"id,omitempty"`
	Method     string          `json:"method,omitempty"`
	Params     []any           `json:"params,omitempty"`
	Result     json.RawMessage `json:"result,omitempty"`
	Error      *provider.Error `json:"error,omitempty"`
	Event      string          `json:"event,omitempty"`
	Data       json.RawMessage `json:"data,omitempty"`
	IsMetaMask bool            `json:"isMetaMask,omitempty"`
}

type peer struct {
	id         string
	conn       *websocket.Conn
	writeMu    sync.Mutex
	isMetaMask bool
}

func (p *peer) write(msg Message) error {
	p.writeMu.Lock()
	defer p.writeMu.Unlock()
	_ = p.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return p.conn.WriteJSON(msg)
}

func (p *peer) ping() error {
	p.writeMu.Lock()
	defer p.writeMu.Unlock()
	return p.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait))
}

type pendingRequest struct {
	peer *peer
	ch   chan Message
}

// Bridge implements provider.Provider. Only one page is active at a time; a
// newer connection replaces the older one.
type Bridge struct {
	upgrader websocket.Upgrader
	logger   *log.Logger

	mu      sync.Mutex
	active  *peer
	pending map[string]pendingRequest

	feed provider.Feed

	// OnHello, when set, runs on its own goroutine each time a page
	// announces a MetaMask provider.
	OnHello func()
}

func New(logger *log.Logger) *Bridge {
	if logger == nil {
		logger = log.Default()
	}
	return &Bridge{
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		logger:  logger.WithPrefix("bridge"),
		pending: make(map[string]pendingRequest),
	}
}

// IsMetaMask reports whether the active page announced a MetaMask provider.
func (b *Bridge) IsMetaMask() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.active != nil && b.active.isMetaMask
}

// Connected reports whether a relay page is attached.
func (b *Bridge) Connected() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.active != nil
}

func (b *Bridge) Subscribe() provider.Subscription { return b.feed.Subscribe() }

// Request forwards a call to the page and waits for its answer or ctx.
func (b *Bridge) Request(ctx context.Context, method string, params ...any) (json.RawMessage, error) {
	b.mu.Lock()
	p := b.active
	if p == nil {
		b.mu.Unlock()
		return nil, ErrNoWallet
	}
	id := uuid.NewString()
	ch := make(chan Message, 1)
	b.pending[id] = pendingRequest{peer: p, ch: ch}
	b.mu.Unlock()

	defer func() {
		b.mu.Lock()
		delete(b.pending, id)
		b.mu.Unlock()
	}()

	if err := p.write(Message{Type: TypeRequest, ID: id, Method: method, Params: params}); err != nil {
		return nil, fmt.Errorf("bridge: send %s: %w", method, err)
	}

	select {
	case resp := <-ch:
		if resp.Error != nil {
			return nil, resp.Error
		}
		if len(resp.Result) == 0 {
			return json.RawMessage("null"), nil
		}
		return resp.Result, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// ServeHTTP upgrades the relay page connection.
func (b *Bridge) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := b.upgrader.Upgrade(w, r, nil)
	if err != nil {
		b.logger.Warn("upgrade failed", "err", err)
		return
	}
	p := &peer{id: uuid.NewString(), conn: conn}

	b.mu.Lock()
	old := b.active
	b.active = p
	b.mu.Unlock()
	if old != nil {
		b.logger.Info("relay page replaced", "old", old.id, "new", p.id)
		_ = old.conn.Close()
	}
	b.logger.Info("relay page connected", "peer", p.id, "remote", r.RemoteAddr)

	done := make(chan struct{})
	go b.keepalive(p, done)
	b.readLoop(p)
	close(done)
	b.detach(p)
}

func (b *Bridge) keepalive(p *peer, done <-chan struct{}) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			if err := p.ping(); err != nil {
				return
			}
		case <-done:
			return
		}
	}
}

func (b *Bridge) readLoop(p *peer) {
	_ = p.conn.SetReadDeadline(time.Now().Add(pongWait))
	p.conn.SetPongHandler(func(string) error {
		return p.conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		var msg Message
		if err := p.conn.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				b.logger.Debug("relay page read failed", "peer", p.id, "err", err)
			}
			return
		}
		_ = p.conn.SetReadDeadline(time.Now().Add(pongWait))
		b.handle(p, msg)
	}
}

func (b *Bridge) handle(p *peer, msg Message) {
	switch msg.Type {
	case TypeHello:
		b.mu.Lock()
		p.isMetaMask = msg.IsMetaMask
		b.mu.Unlock()
		b.logger.Info("relay page hello", "peer", p.id, "isMetaMask", msg.IsMetaMask)
		if msg.IsMetaMask && b.OnHello != nil {
			go b.OnHello()
		}
	case TypeResponse:
		b.mu.Lock()
		req, ok := b.pending[msg.ID]
		b.mu.Unlock()
		if !ok || req.peer != p {
			b.logger.Debug("dropping unmatched response", "id", msg.ID)
			return
		}
		select {
		case req.ch <- msg:
		default:
		}
	case TypeEvent:
		ev, err := decodeEvent(msg)
		if err != nil {
			b.logger.Warn("bad event from relay page", "event", msg.Event, "err", err)
			return
		}
		b.feed.Send(ev)
	default:
		b.logger.Debug("unknown message type", "type", msg.Type)
	}
}

func decodeEvent(msg Message) (provider.Event, error) {
	switch provider.EventName(msg.Event) {
	case provider.AccountsChanged:
		var accounts []string
		if len(msg.Data) > 0 {
			if err := json.Unmarshal(msg.Data, &accounts); err != nil {
				return provider.Event{}, err
			}
		}
		return provider.Event{Name: provider.AccountsChanged, Accounts: accounts}, nil
	case provider.ChainChanged:
		var chain string
		if len(msg.Data) > 0 && string(msg.Data) != "null" {
			if err := json.Unmarshal(msg.Data, &chain); err != nil {
				return provider.Event{}, err
			}
		}
		return provider.Event{Name: provider.ChainChanged, ChainID: chain}, nil
	default:
		return provider.Event{}, fmt.Errorf("unsupported event %q", msg.Event)
	}
}

// detach forgets p and fails the requests still waiting on it.
func (b *Bridge) detach(p *peer) {
	b.mu.Lock()
	if b.active == p {
		b.active = nil
	}
	var orphaned []pendingRequest
	for _, req := range b.pending {
		if req.peer == p {
			orphaned = append(orphaned, req)
		}
	}
	b.mu.Unlock()

	for _, req := range orphaned {
		select {
		case req.ch <- Message{Type: TypeResponse, Error: errPageGone}:
		default:
		}
	}
	_ = p.conn.Close()
	b.logger.Info("relay page disconnected", "peer", p.id)
}

// PageHandler serves the relay page.
func PageHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		_, _ = w.Write(relayPage)
	})
}

// Close drops the active page and ends all subscriptions.
func (b *Bridge) Close() {
	b.mu.Lock()
	p := b.active
	b.active = nil
	b.mu.Unlock()
	if p != nil {
		_ = p.conn.Close()
	}
	b.feed.Close()
}
