// Package provider defines the contract of a MetaMask-style wallet provider:
// a JSON-RPC request surface plus pushed account and chain change events.
package provider

import (
	"context"
	"encoding/json"
)

// JSON-RPC methods consumed from the provider.
const (
	MethodRequestAccounts = "eth_requestAccounts"
	MethodAccounts        = "eth_accounts"
	MethodChainID         = "eth_chainId"
	MethodGetBalance      = "eth_getBalance"
	MethodSwitchChain     = "wallet_switchEthereumChain"
	MethodBlockNumber     = "eth_blockNumber"
	MethodGetLogs         = "eth_getLogs"
	MethodGetTransaction  = "eth_getTransactionByHash"
	MethodGetReceipt      = "eth_getTransactionReceipt"
	MethodGetBlock        = "eth_getBlockByNumber"
)

// EventName identifies a pushed provider notification.
type EventName string

const (
	AccountsChanged EventName = "accountsChanged"
	ChainChanged    EventName = "chainChanged"
)

// Event is one pushed notification. Accounts is set for AccountsChanged,
// ChainID for ChainChanged.
type Event struct {
	Name     EventName
	Accounts []string
	ChainID  string
}

// Requester issues JSON-RPC requests.
type Requester interface {
	Request(ctx context.Context, method string, params ...any) (json.RawMessage, error)
}

// Subscription delivers events until Unsubscribe is called.
type Subscription interface {
	Events() <-chan Event
	Unsubscribe()
}

// Provider is the injected wallet object.
type Provider interface {
	Requester
	Subscribe() Subscription
	// IsMetaMask reports the marker flag the wallet advertises.
	IsMetaMask() bool
}

// Detect reports whether a wallet is present and advertises the MetaMask marker.
func Detect(p Provider) bool {
	return p != nil && p.IsMetaMask()
}

// SwitchChainParams is the single parameter of wallet_switchEthereumChain.
type SwitchChainParams struct {
	ChainID string `json:"chainId"`
}
