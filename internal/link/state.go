package link

import "time"

// State represents the connection manager's state.
type State int

const (
	// StateIdle is the quiescent state: no handle, no timers.
	StateIdle State = iota
	// StateConnecting indicates an attempt is in flight.
	StateConnecting
	// StateConnected indicates an established connection.
	StateConnected
	// StateDisconnecting is passed through while a manual disconnect tears down the handle.
	StateDisconnecting
	// StateFailed indicates the last attempt failed or the connection dropped.
	StateFailed
)

// String returns a human-readable name for the state.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateDisconnecting:
		return "disconnecting"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// ReconnectPolicy controls automatic reconnection.
// A manual Disconnect clears Enabled; a retryable error sets it.
type ReconnectPolicy struct {
	Enabled  bool
	Interval time.Duration
}

// Info holds connection information for status reporting.
type Info struct {
	State             State         `json:"-"`
	StateString       string        `json:"state"`
	Endpoint          string        `json:"endpoint,omitempty"`
	Generation        uint64        `json:"generation"`
	AttemptID         string        `json:"attemptId,omitempty"`
	Attempts          int           `json:"attempts,omitempty"`
	Reconnecting      bool          `json:"reconnecting"`
	ReconnectInterval time.Duration `json:"reconnectInterval"`
	ConnectedSince    time.Time     `json:"connectedSince,omitzero"`
	LastError         string        `json:"lastError,omitempty"`
}
