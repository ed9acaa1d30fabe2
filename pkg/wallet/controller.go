// Package wallet owns the wallet session: connection lifecycle, network
// switching, passive provider events and the transaction history view.
package wallet

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/charmbracelet/log"

	"github.com/EdmarFn/metamask-buddy-challenge/pkg/models"
	"github.com/EdmarFn/metamask-buddy-challenge/pkg/provider"
	"github.com/EdmarFn/metamask-buddy-challenge/pkg/session"
)

// HistoryFetcher lists transactions for an address.
type HistoryFetcher interface {
	Fetch(ctx context.Context, address string, r provider.Requester) ([]models.Transaction, error)
}

const subscriberBuffer = 100

// Controller is safe for concurrent use. Provider calls run outside the lock;
// at most one connect, one switch and one history fetch are in flight.
type Controller struct {
	provider provider.Provider
	store    session.Store
	history  HistoryFetcher
	logger   *log.Logger

	mu          sync.Mutex
	state       models.WalletState
	gen         uint64 // bumped by every disconnect
	connecting  bool
	switching   bool
	loadingTxs  bool
	subscribers []Subscriber

	// sessionMu orders session flag writes with disconnects.
	sessionMu sync.Mutex

	sub  provider.Subscription
	stop chan struct{}
	wg   sync.WaitGroup
}

// NewController wires a controller. p may be nil when no wallet is present;
// store and history may be nil to disable persistence and history.
func NewController(p provider.Provider, store session.Store, history HistoryFetcher, logger *log.Logger) *Controller {
	if logger == nil {
		logger = log.Default()
	}
	return &Controller{
		provider: p,
		store:    store,
		history:  history,
		logger:   logger.WithPrefix("wallet"),
	}
}

// ProviderDetected reports whether a MetaMask-style provider is available.
func (c *Controller) ProviderDetected() bool {
	return provider.Detect(c.provider)
}

// State returns a copy of the current state.
func (c *Controller) State() models.WalletState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state.Clone()
}

// Subscribe adds a new subscriber and returns a channel to receive events.
func (c *Controller) Subscribe() Subscriber {
	c.mu.Lock()
	defer c.mu.Unlock()
	ch := make(Subscriber, subscriberBuffer)
	c.subscribers = append(c.subscribers, ch)
	return ch
}

// Unsubscribe removes a subscriber.
func (c *Controller) Unsubscribe(ch Subscriber) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for i, sub := range c.subscribers {
		if sub == ch {
			c.subscribers = append(c.subscribers[:i], c.subscribers[i+1:]...)
			close(ch)
			break
		}
	}
}

// notify must be called with c.mu held so events leave in mutation order.
func (c *Controller) notify(ev Event) {
	for _, sub := range c.subscribers {
		select {
		case sub <- ev:
		default:
			// Subscriber is slow; it resyncs from the next event's snapshot.
		}
	}
}

// update applies fn to the state under the lock and broadcasts the result.
func (c *Controller) update(typ EventType, fn func(s *models.WalletState)) models.WalletState {
	c.mu.Lock()
	defer c.mu.Unlock()
	fn(&c.state)
	snap := c.state.Clone()
	c.notify(Event{Type: typ, State: snap})
	return snap
}

// updateSince is update for the result of a call started in session gen. fn
// is dropped when the wallet was disconnected in between.
func (c *Controller) updateSince(gen uint64, typ EventType, fn func(s *models.WalletState)) (models.WalletState, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.gen != gen {
		return c.state.Clone(), false
	}
	fn(&c.state)
	snap := c.state.Clone()
	c.notify(Event{Type: typ, State: snap})
	return snap, true
}

func (c *Controller) notice(msg string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.notify(Event{Type: EventNotice, State: c.state.Clone(), Notice: msg})
}

// Start subscribes to provider events and, when the previous session ended
// connected, reconnects without prompting the user. Calling Start twice is a
// no-op.
func (c *Controller) Start(ctx context.Context) {
	c.mu.Lock()
	if c.stop != nil || c.provider == nil {
		c.mu.Unlock()
		return
	}
	c.sub = c.provider.Subscribe()
	c.stop = make(chan struct{})
	sub, stop := c.sub, c.stop
	c.mu.Unlock()

	c.wg.Add(1)
	go c.run(ctx, sub, stop)

	c.Resume(ctx)
}

// Resume reconnects without prompting when the stored session flag says the
// last session ended connected. It is a no-op while connected or when no
// provider is detected, so it is safe to call whenever a provider appears.
func (c *Controller) Resume(ctx context.Context) {
	c.mu.Lock()
	connected := c.state.IsConnected || c.connecting
	c.mu.Unlock()
	if connected || c.store == nil || !c.ProviderDetected() {
		return
	}
	was, err := session.WasConnected(ctx, c.store)
	if err != nil {
		c.logger.Warn("reading session flag", "err", err)
		return
	}
	if was {
		c.logger.Info("restoring previous session")
		_, err := c.connect(ctx, provider.MethodAccounts)
		switch {
		case err == nil:
		case errors.Is(err, ErrNoAccounts):
			// The wallet no longer exposes an account to us; forget the session.
			c.logger.Info("previous session no longer authorized")
			c.Disconnect(ctx)
		default:
			c.logger.Warn("silent reconnect failed", "err", err)
		}
	}
}

// Stop unsubscribes from the provider and closes all state subscribers.
func (c *Controller) Stop() {
	c.mu.Lock()
	if c.stop == nil {
		c.mu.Unlock()
		return
	}
	close(c.stop)
	c.sub.Unsubscribe()
	c.stop, c.sub = nil, nil
	c.mu.Unlock()

	c.wg.Wait()

	c.mu.Lock()
	defer c.mu.Unlock()
	for _, sub := range c.subscribers {
		close(sub)
	}
	c.subscribers = nil
}

func (c *Controller) run(ctx context.Context, sub provider.Subscription, stop <-chan struct{}) {
	defer c.wg.Done()
	for {
		select {
		case ev, ok := <-sub.Events():
			if !ok {
				return
			}
			c.apply(ctx, ev)
		case <-stop:
			return
		case <-ctx.Done():
			return
		}
	}
}

// apply handles a passive provider push. Pushes never enter the connecting
// state; they overwrite whatever is current.
func (c *Controller) apply(ctx context.Context, ev provider.Event) {
	switch ev.Name {
	case provider.AccountsChanged:
		if len(ev.Accounts) == 0 {
			c.logger.Info("accounts cleared by wallet")
			c.Disconnect(ctx)
			return
		}
		addr := ev.Accounts[0]
		c.logger.Info("account changed", "address", addr)
		c.update(EventStateChanged, func(s *models.WalletState) {
			if s.Address == nil || !strings.EqualFold(*s.Address, addr) {
				s.Transactions = nil
			}
			s.Address = &addr
			s.IsConnected = true
		})
	case provider.ChainChanged:
		if ev.ChainID == "" {
			c.logger.Info("chain unavailable")
			c.Disconnect(ctx)
			return
		}
		chain := ev.ChainID
		c.logger.Info("chain changed", "chain", chain)
		c.update(EventStateChanged, func(s *models.WalletState) {
			s.ChainID = &chain
		})
	default:
		c.logger.Debug("ignoring provider event", "event", ev.Name)
	}
}

// Connect requests account access and loads chain id and balance.
func (c *Controller) Connect(ctx context.Context) (models.WalletState, error) {
	return c.connect(ctx, provider.MethodRequestAccounts)
}

func (c *Controller) connect(ctx context.Context, accountsMethod string) (models.WalletState, error) {
	c.mu.Lock()
	if c.connecting {
		snap := c.state.Clone()
		c.notify(Event{Type: EventNotice, State: snap, Notice: MsgConnectPending})
		c.mu.Unlock()
		return snap, newError(KindAlreadyPending, MsgConnectPending)
	}
	if !provider.Detect(c.provider) {
		msg := MsgNotInstalled
		c.state.Error = &msg
		c.state.IsConnected = false
		c.state.IsConnecting = false
		snap := c.state.Clone()
		c.notify(Event{Type: EventStateChanged, State: snap})
		c.mu.Unlock()
		return snap, newError(KindProviderAbsent, MsgNotInstalled)
	}
	c.connecting = true
	c.state.IsConnecting = true
	c.state.Error = nil
	gen := c.gen
	c.notify(Event{Type: EventStateChanged, State: c.state.Clone()})
	c.mu.Unlock()

	data, err := c.reload(ctx, accountsMethod)

	if err != nil {
		we := classify(err)
		snap, ok := c.updateSince(gen, EventStateChanged, func(s *models.WalletState) {
			*s = models.WalletState{
				Error:                 &we.Message,
				IsSwitchingNetwork:    s.IsSwitchingNetwork,
				IsLoadingTransactions: s.IsLoadingTransactions,
			}
			c.connecting = false
		})
		if !ok {
			return snap, newError(KindRPC, MsgDisconnected)
		}
		c.logger.Warn("connect failed", "err", we.Message, "code", we.Code)
		return snap, we
	}

	snap, ok := c.updateSince(gen, EventStateChanged, func(s *models.WalletState) {
		if s.Address == nil || !strings.EqualFold(*s.Address, data.address) {
			s.Transactions = nil
		}
		s.Address = &data.address
		s.ChainID = &data.chainID
		s.Balance = &data.balance
		s.IsConnected = true
		s.IsConnecting = false
		s.Error = nil
		c.connecting = false
	})
	if !ok {
		c.logger.Info("dropping connect result, wallet was disconnected", "address", data.address)
		return snap, newError(KindRPC, MsgDisconnected)
	}
	c.logger.Info("connected", "address", data.address, "chain", data.chainID)
	c.markConnected(ctx, gen)
	return snap, nil
}

// markConnected writes the session flag unless a disconnect followed gen.
func (c *Controller) markConnected(ctx context.Context, gen uint64) {
	if c.store == nil {
		return
	}
	c.sessionMu.Lock()
	defer c.sessionMu.Unlock()
	c.mu.Lock()
	current := c.gen == gen
	c.mu.Unlock()
	if !current {
		return
	}
	if err := session.MarkConnected(ctx, c.store); err != nil {
		c.logger.Warn("persisting session flag", "err", err)
	}
}

type sessionData struct {
	address string
	chainID string
	balance string
}

// reload reads accounts, chain id and balance in that order.
func (c *Controller) reload(ctx context.Context, accountsMethod string) (sessionData, error) {
	var accounts []string
	if err := c.call(ctx, &accounts, accountsMethod); err != nil {
		return sessionData{}, err
	}
	if len(accounts) == 0 {
		return sessionData{}, &Error{Kind: KindRPC, Message: MsgNoAccounts, Err: ErrNoAccounts}
	}
	var d sessionData
	d.address = accounts[0]
	if err := c.call(ctx, &d.chainID, provider.MethodChainID); err != nil {
		return sessionData{}, err
	}
	if err := c.call(ctx, &d.balance, provider.MethodGetBalance, d.address, "latest"); err != nil {
		return sessionData{}, err
	}
	return d, nil
}

func (c *Controller) call(ctx context.Context, result any, method string, params ...any) error {
	raw, err := c.provider.Request(ctx, method, params...)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(raw, result); err != nil {
		return fmt.Errorf("decode %s result: %w", method, err)
	}
	return nil
}

// Disconnect clears the session flag and resets the state. Connects, switches
// and fetches still in flight are discarded when they return. It is
// idempotent.
func (c *Controller) Disconnect(ctx context.Context) models.WalletState {
	c.sessionMu.Lock()
	defer c.sessionMu.Unlock()
	snap := c.update(EventStateChanged, func(s *models.WalletState) {
		*s = models.WalletState{}
		c.gen++
		c.connecting, c.switching, c.loadingTxs = false, false, false
	})
	if c.store != nil {
		if err := session.ClearConnected(ctx, c.store); err != nil {
			c.logger.Warn("clearing session flag", "err", err)
		}
	}
	return snap
}

// SwitchNetwork asks the wallet to change chain and reloads the session on
// success. Failures are stored in the state error and leave the previous
// address and chain in place.
func (c *Controller) SwitchNetwork(ctx context.Context, target string) error {
	c.mu.Lock()
	if c.state.ChainID != nil && strings.EqualFold(*c.state.ChainID, target) {
		c.mu.Unlock()
		return nil
	}
	if c.switching {
		c.notify(Event{Type: EventNotice, State: c.state.Clone(), Notice: MsgSwitchPending})
		c.mu.Unlock()
		return newError(KindAlreadyPending, MsgSwitchPending)
	}
	if !provider.Detect(c.provider) {
		c.mu.Unlock()
		return newError(KindProviderAbsent, MsgNotInstalled)
	}
	c.switching = true
	c.state.IsSwitchingNetwork = true
	connected := c.state.IsConnected
	gen := c.gen
	c.notify(Event{Type: EventStateChanged, State: c.state.Clone()})
	c.mu.Unlock()

	dropped := func() error {
		c.logger.Info("dropping network switch result, wallet was disconnected", "target", target)
		return newError(KindRPC, MsgDisconnected)
	}
	fail := func(we *Error) error {
		_, ok := c.updateSince(gen, EventStateChanged, func(s *models.WalletState) {
			s.Error = &we.Message
			s.IsSwitchingNetwork = false
			c.switching = false
		})
		if !ok {
			return dropped()
		}
		c.logger.Warn("network switch failed", "target", target, "err", we.Message, "code", we.Code)
		return we
	}

	if _, err := c.provider.Request(ctx, provider.MethodSwitchChain, provider.SwitchChainParams{ChainID: target}); err != nil {
		return fail(classifySwitch(err))
	}

	if !connected {
		_, ok := c.updateSince(gen, EventStateChanged, func(s *models.WalletState) {
			chain := target
			s.ChainID = &chain
			s.Error = nil
			s.IsSwitchingNetwork = false
			c.switching = false
		})
		if !ok {
			return dropped()
		}
		return nil
	}

	data, err := c.reload(ctx, provider.MethodAccounts)
	if err != nil {
		return fail(classify(err))
	}
	_, ok := c.updateSince(gen, EventStateChanged, func(s *models.WalletState) {
		if s.Address == nil || !strings.EqualFold(*s.Address, data.address) {
			s.Transactions = nil
		}
		s.Address = &data.address
		s.ChainID = &data.chainID
		s.Balance = &data.balance
		s.IsConnected = true
		s.Error = nil
		s.IsSwitchingNetwork = false
		c.switching = false
	})
	if !ok {
		return dropped()
	}
	c.logger.Info("network switched", "chain", data.chainID)
	return nil
}

// FetchTransactionHistory loads history for the connected address into the
// state. A failed fetch keeps the previous list and returns the error.
func (c *Controller) FetchTransactionHistory(ctx context.Context) ([]models.Transaction, error) {
	c.mu.Lock()
	if c.state.Address == nil || c.history == nil || c.provider == nil {
		c.mu.Unlock()
		return nil, newError(KindRPC, MsgNotConnected)
	}
	if c.loadingTxs {
		c.notify(Event{Type: EventNotice, State: c.state.Clone(), Notice: MsgHistoryLoading})
		c.mu.Unlock()
		return nil, newError(KindAlreadyPending, MsgHistoryLoading)
	}
	address := *c.state.Address
	gen := c.gen
	c.loadingTxs = true
	c.state.IsLoadingTransactions = true
	c.notify(Event{Type: EventStateChanged, State: c.state.Clone()})
	c.mu.Unlock()

	txs, err := c.history.Fetch(ctx, address, c.provider)

	if err != nil {
		c.updateSince(gen, EventStateChanged, func(s *models.WalletState) {
			s.IsLoadingTransactions = false
			c.loadingTxs = false
		})
		c.logger.Error("fetching transaction history", "address", address, "err", err)
		we := classify(err)
		return nil, we
	}

	_, ok := c.updateSince(gen, EventTransactionsUpdated, func(s *models.WalletState) {
		s.IsLoadingTransactions = false
		c.loadingTxs = false
		// The account may have changed while the fetch ran.
		if s.Address != nil && strings.EqualFold(*s.Address, address) {
			s.Transactions = txs
		}
	})
	if !ok {
		return nil, newError(KindRPC, MsgDisconnected)
	}
	c.logger.Debug("transaction history loaded", "address", address, "count", len(txs))
	return txs, nil
}
