// Package transport defines the connection primitives the link manager drives.
//
// Every transport satisfies Transport. Transports whose underlying primitive
// cannot push notifications additionally implement Poller and are drained on a
// timer by the caller. Event-driven transports implement Subscriber and push
// open, error, close and message events instead.
package transport

import (
	"context"
	"errors"
)

// MaxReadSize caps a single inbound read (the practical single-datagram ceiling).
const MaxReadSize = 65507

// ErrNotConnected is returned by Send and Receive when the transport is not connected.
var ErrNotConnected = errors.New("transport not connected")

// ErrClosed is returned by Open when the transport has already been closed.
// Transports are single use; a fresh one is created for every attempt.
var ErrClosed = errors.New("transport closed")

// State is the connection state reported by a transport.
type State int

const (
	// StateNotConnected indicates no usable connection.
	StateNotConnected State = iota
	// StateConnecting indicates an open is in progress.
	StateConnecting
	// StateConnected indicates an established connection.
	StateConnected
)

// String returns a human-readable name for the transport state.
func (s State) String() string {
	switch s {
	case StateNotConnected:
		return "not-connected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	default:
		return "unknown"
	}
}

// Transport is the capability every connection primitive provides.
type Transport interface {
	// Open establishes the connection. Poll-style transports block until the
	// connection is up or has failed. Event-style transports return immediately
	// and report the outcome through their subscribed Events.
	Open(ctx context.Context) error

	// Close tears the connection down. Safe to call more than once.
	Close() error

	// State reports the current connection state without blocking.
	State() State

	// Send writes the payload verbatim.
	Send(payload []byte) error
}

// Poller is implemented by transports that must be polled for inbound data.
type Poller interface {
	Transport

	// Pending reports how many inbound bytes are ready to read.
	// The boolean is false when nothing is pending.
	Pending() (int, bool)

	// Receive reads up to max pending bytes without blocking.
	Receive(max int) ([]byte, error)
}

// Subscriber is implemented by transports that push events.
//
// Subscribe must be called before Open. Implementations must never deliver
// an event synchronously from inside Open or Close.
type Subscriber interface {
	Transport

	Subscribe(events Events)
}

// Events are the callbacks an event-driven transport pushes. Any field may be nil.
type Events struct {
	OnOpen    func()
	OnError   func(err error)
	OnClose   func(code int, reason string, wasClean bool)
	OnMessage func(text string)
	OnSent    func(n int)
}
