package mqtt

import (
	"fmt"
	"time"
)

// ConnectionState is the connection manager's position in its lifecycle.
//
//	Disconnected → Connecting → Connected
//	     ▲              ▲           │
//	     │              │      (lost/failed)
//	  shutdown          │           ▼
//	     └──────── Reconnecting ◀───┘
type ConnectionState int

const (
	StateDisconnected ConnectionState = iota
	StateConnecting
	StateConnected
	StateReconnecting
)

var stateNames = [...]string{
	StateDisconnected: "disconnected",
	StateConnecting:   "connecting",
	StateConnected:    "connected",
	StateReconnecting: "reconnecting",
}

// String returns the lower-case state name.
func (s ConnectionState) String() string {
	if s < 0 || int(s) >= len(stateNames) {
		return fmt.Sprintf("unknown(%d)", int(s))
	}
	return stateNames[s]
}

// MarshalText renders the state name in JSON.
func (s ConnectionState) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// AllStates lists every state in lifecycle order.
func AllStates() []ConnectionState {
	return []ConnectionState{StateDisconnected, StateConnecting, StateConnected, StateReconnecting}
}

// StateChange describes one transition. Listeners receive it after the
// status has been updated.
type StateChange struct {
	From      ConnectionState `json:"from"`
	To        ConnectionState `json:"to"`
	Reason    string          `json:"reason,omitempty"`
	Error     string          `json:"error,omitempty"`
	Timestamp time.Time       `json:"timestamp"`
}

// Failure reasons reported on connection_failures_total.
const (
	ReasonTimeout         = "timeout"
	ReasonRefused         = "refused"
	ReasonNotAuthorized   = "not_authorized"
	ReasonBadCredentials  = "bad_credentials"
	ReasonConnectionLost  = "connection_lost"
	ReasonSubscribeFailed = "subscribe_failed"
	ReasonNetwork         = "network"
)

// isAuthReason reports whether the broker rejected our credentials.
func isAuthReason(reason string) bool {
	return reason == ReasonNotAuthorized || reason == ReasonBadCredentials
}
