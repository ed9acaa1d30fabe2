package provider

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/ethereum/go-ethereum/rpc"

	"github.com/EdmarFn/metamask-buddy-challenge/pkg/config"
)

// Node is a Provider served by plain JSON-RPC nodes. Wallet-only methods are
// answered locally; everything else goes to the active network's RPCs.
type Node struct {
	networks []config.NetworkConfig
	accounts []string
	logger   *log.Logger

	mu      sync.Mutex
	active  int
	clients map[string]*rpc.Client

	feed Feed
}

// NewNode builds a node provider over the configured networks. selected picks
// the initial network by chain id; the first network is used otherwise.
// When accounts is empty the node's own eth_accounts answer is used.
func NewNode(networks []config.NetworkConfig, selected string, accounts []string, logger *log.Logger) (*Node, error) {
	if len(networks) == 0 {
		return nil, errors.New("node provider: no networks configured")
	}
	if logger == nil {
		logger = log.Default()
	}
	n := &Node{
		networks: networks,
		accounts: slices.Clone(accounts),
		logger:   logger.WithPrefix("node"),
		clients:  make(map[string]*rpc.Client),
	}
	for i, net := range networks {
		if strings.EqualFold(net.ChainID, selected) {
			n.active = i
			break
		}
	}
	return n, nil
}

// IsMetaMask is true: the node provider speaks the same request surface.
func (n *Node) IsMetaMask() bool { return true }

func (n *Node) Subscribe() Subscription { return n.feed.Subscribe() }

// Active returns the currently selected network.
func (n *Node) Active() config.NetworkConfig {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.networks[n.active]
}

func (n *Node) Request(ctx context.Context, method string, params ...any) (json.RawMessage, error) {
	switch method {
	case MethodRequestAccounts, MethodAccounts:
		if len(n.accounts) > 0 {
			return json.Marshal(n.accounts)
		}
		return n.forward(ctx, MethodAccounts)
	case MethodChainID:
		if id := n.Active().ChainID; id != "" {
			return json.Marshal(id)
		}
		return n.forward(ctx, method)
	case MethodSwitchChain:
		return n.switchChain(params)
	default:
		return n.forward(ctx, method, params...)
	}
}

func (n *Node) switchChain(params []any) (json.RawMessage, error) {
	if len(params) != 1 {
		return nil, &Error{Code: rpcInvalidParams, Message: "wallet_switchEthereumChain expects one parameter"}
	}
	var p SwitchChainParams
	raw, err := json.Marshal(params[0])
	if err == nil {
		err = json.Unmarshal(raw, &p)
	}
	if err != nil || p.ChainID == "" {
		return nil, &Error{Code: rpcInvalidParams, Message: "Expected an object with a chainId"}
	}

	n.mu.Lock()
	idx := -1
	for i, net := range n.networks {
		if strings.EqualFold(net.ChainID, p.ChainID) {
			idx = i
			break
		}
	}
	if idx < 0 {
		n.mu.Unlock()
		return nil, &Error{
			Code:    CodeUnrecognizedChain,
			Message: fmt.Sprintf("Unrecognized chain ID %q. Try adding the chain using wallet_addEthereumChain first.", p.ChainID),
		}
	}
	changed := idx != n.active
	n.active = idx
	chainID := n.networks[idx].ChainID
	n.mu.Unlock()

	if changed {
		n.logger.Info("switched network", "chain", chainID, "name", n.networks[idx].Name)
		n.feed.Send(Event{Name: ChainChanged, ChainID: chainID})
	}
	return json.RawMessage("null"), nil
}

const rpcInvalidParams = -32602

// forward tries each RPC URL of the active network in order. A JSON-RPC error
// is the node's answer and is returned as is; transport failures move on to
// the next URL.
func (n *Node) forward(ctx context.Context, method string, params ...any) (json.RawMessage, error) {
	network := n.Active()
	if len(network.RPCURLs) == 0 {
		return nil, fmt.Errorf("network %s has no rpc urls", network.Name)
	}
	var lastErr error
	for _, url := range network.RPCURLs {
		client, err := n.client(ctx, url)
		if err != nil {
			n.logger.Warn("dial failed", "rpc", url, "err", err)
			lastErr = err
			continue
		}
		var result json.RawMessage
		err = client.CallContext(ctx, &result, method, params...)
		if err == nil {
			if result == nil {
				result = json.RawMessage("null")
			}
			return result, nil
		}
		if pe, ok := AsError(err); ok {
			return nil, pe
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		n.logger.Warn("rpc call failed", "rpc", url, "method", method, "err", err)
		n.dropClient(url)
		lastErr = err
	}
	return nil, fmt.Errorf("all rpcs failed for %s: %w", network.Name, lastErr)
}

func (n *Node) client(ctx context.Context, url string) (*rpc.Client, error) {
	n.mu.Lock()
	c, ok := n.clients[url]
	n.mu.Unlock()
	if ok {
		return c, nil
	}
	c, err := rpc.DialContext(ctx, url)
	if err != nil {
		return nil, err
	}
	n.mu.Lock()
	defer n.mu.Unlock()
	if existing, ok := n.clients[url]; ok {
		c.Close()
		return existing, nil
	}
	n.clients[url] = c
	return c, nil
}

func (n *Node) dropClient(url string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if c, ok := n.clients[url]; ok {
		c.Close()
		delete(n.clients, url)
	}
}

// Watch polls accounts and chain id every interval until ctx is done and
// pushes an event when either changes.
func (n *Node) Watch(ctx context.Context, interval time.Duration) {
	lastAccounts, lastChain, _ := n.snapshot(ctx)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			accounts, chain, err := n.snapshot(ctx)
			if err != nil {
				n.logger.Debug("watch poll failed", "err", err)
				continue
			}
			if !slices.Equal(accounts, lastAccounts) {
				lastAccounts = accounts
				n.feed.Send(Event{Name: AccountsChanged, Accounts: slices.Clone(accounts)})
			}
			if chain != lastChain {
				lastChain = chain
				n.feed.Send(Event{Name: ChainChanged, ChainID: chain})
			}
		}
	}
}

func (n *Node) snapshot(ctx context.Context) ([]string, string, error) {
	var accounts []string
	raw, err := n.Request(ctx, MethodAccounts)
	if err != nil {
		return nil, "", err
	}
	if err := json.Unmarshal(raw, &accounts); err != nil {
		return nil, "", err
	}
	var chain string
	raw, err = n.Request(ctx, MethodChainID)
	if err != nil {
		return nil, "", err
	}
	if err := json.Unmarshal(raw, &chain); err != nil {
		return nil, "", err
	}
	return accounts, chain, nil
}

// Close releases RPC clients and ends all subscriptions.
func (n *Node) Close() {
	n.mu.Lock()
	for url, c := range n.clients {
		c.Close()
		delete(n.clients, url)
	}
	n.mu.Unlock()
	n.feed.Close()
}
