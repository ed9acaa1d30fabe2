package wallet

import "github.com/EdmarFn/metamask-buddy-challenge/pkg/models"

// EventType defines the type of event being broadcast.
type EventType string

const (
	EventStateChanged        EventType = "state_changed"
	EventTransactionsUpdated EventType = "transactions_updated"
	EventNotice              EventType = "notice"
)

// Event carries a snapshot of the wallet state after a change. Notice is set
// for EventNotice.
type Event struct {
	Type   EventType          `json:"type"`
	State  models.WalletState `json:"state"`
	Notice string             `json:"notice,omitempty"`
}

// Subscriber is a channel that receives events.
type Subscriber chan Event
