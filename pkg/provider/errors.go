package provider

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/rpc"
)

// EIP-1193 provider error codes.
const (
	CodeUserRejected      = 4001
	CodeUnauthorized      = 4100
	CodeUnsupported       = 4200
	CodeDisconnected      = 4900
	CodeChainDisconnect   = 4901
	CodeUnrecognizedChain = 4902
	CodeResourcePending   = -32002
	CodeInternal          = -32603
)

// Error is an error reported by the provider.
type Error struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data,omitempty"`
}

func (e *Error) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("provider error %d", e.Code)
	}
	return e.Message
}

// ErrorCode satisfies go-ethereum's rpc.Error.
func (e *Error) ErrorCode() int { return e.Code }

// AsError extracts a provider error from err. Node errors that carry a
// JSON-RPC code are converted as well.
func AsError(err error) (*Error, bool) {
	if err == nil {
		return nil, false
	}
	var pe *Error
	if errors.As(err, &pe) {
		return pe, true
	}
	var re rpc.Error
	if errors.As(err, &re) {
		out := &Error{Code: re.ErrorCode(), Message: re.Error()}
		var de rpc.DataError
		if errors.As(err, &de) {
			if raw, mErr := json.Marshal(de.ErrorData()); mErr == nil {
				out.Data = raw
			}
		}
		return out, true
	}
	return nil, false
}

// Code returns the provider code carried by err, or 0.
func Code(err error) int {
	if pe, ok := AsError(err); ok {
		return pe.Code
	}
	return 0
}
