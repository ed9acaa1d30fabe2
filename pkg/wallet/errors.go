package wallet

import (
	"errors"
	"strings"

	"github.com/EdmarFn/metamask-buddy-challenge/pkg/provider"
)

// Kind classifies controller failures.
type Kind string

const (
	KindProviderAbsent Kind = "provider_absent"
	KindUserRejected   Kind = "user_rejected"
	KindUnknownChain   Kind = "unknown_chain"
	KindAlreadyPending Kind = "already_pending"
	KindRPC            Kind = "rpc"
)

// Messages surfaced to the user.
const (
	MsgNotInstalled    = "MetaMask is not installed"
	MsgConnectPending  = "Connection request already pending"
	MsgNoAccounts      = "No accounts found"
	MsgSwitchRejected  = "Network switch was rejected by user"
	MsgUnknownChain    = "Network not found. Please add it to MetaMask first."
	MsgSwitchCancelled = "Network switch was cancelled"
	MsgSwitchPending   = "Network switch already in progress"
	MsgSwitchFailed    = "Failed to switch network"
	MsgNotConnected    = "Wallet is not connected"
	MsgHistoryLoading  = "Transaction history is already loading"
	MsgDisconnected    = "Wallet was disconnected"
)

// ErrNoAccounts is wrapped by the error returned when the wallet exposes no
// account.
var ErrNoAccounts = errors.New("wallet: no accounts")

// Error is a classified controller failure. Code carries the provider error
// code when there was one.
type Error struct {
	Kind    Kind   `json:"kind"`
	Message string `json:"message"`
	Code    int    `json:"code,omitempty"`
	Err     error  `json:"-"`
}

func (e *Error) Error() string { return e.Message }

func (e *Error) Unwrap() error { return e.Err }

// IsKind reports whether err is a controller error of the given kind.
func IsKind(err error, kind Kind) bool {
	var we *Error
	return errors.As(err, &we) && we.Kind == kind
}

// Transient errors are re-entrancy notices rather than failures.
func (e *Error) Transient() bool { return e.Kind == KindAlreadyPending }

func newError(kind Kind, msg string) *Error {
	return &Error{Kind: kind, Message: msg}
}

// classify converts a failed provider call into a controller error, keeping
// the provider's own message.
func classify(err error) *Error {
	var we *Error
	if errors.As(err, &we) {
		return we
	}
	out := &Error{Kind: KindRPC, Message: err.Error(), Err: err}
	if pe, ok := provider.AsError(err); ok {
		out.Code = pe.Code
		if pe.Message != "" {
			out.Message = pe.Message
		}
		switch pe.Code {
		case provider.CodeUserRejected:
			out.Kind = KindUserRejected
		case provider.CodeUnrecognizedChain:
			out.Kind = KindUnknownChain
		case provider.CodeResourcePending:
			out.Kind = KindAlreadyPending
		}
	}
	return out
}

// classifySwitch maps a wallet_switchEthereumChain failure to the message shown
// for it. Codes take precedence over message matching.
func classifySwitch(err error) *Error {
	out := &Error{Kind: KindRPC, Err: err}
	var msg string
	if pe, ok := provider.AsError(err); ok {
		out.Code = pe.Code
		msg = pe.Message
	} else if err != nil {
		msg = err.Error()
	}

	switch {
	case out.Code == provider.CodeUserRejected:
		out.Kind, out.Message = KindUserRejected, MsgSwitchRejected
	case out.Code == provider.CodeUnrecognizedChain:
		out.Kind, out.Message = KindUnknownChain, MsgUnknownChain
	case strings.Contains(msg, "User rejected"):
		out.Kind, out.Message = KindUserRejected, MsgSwitchCancelled
	case strings.Contains(msg, "already pending"):
		out.Kind, out.Message = KindAlreadyPending, MsgSwitchPending
	case msg != "":
		out.Message = msg
	default:
		out.Message = MsgSwitchFailed
	}
	return out
}
