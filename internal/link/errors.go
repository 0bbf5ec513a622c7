package link

import (
	"errors"
	"fmt"

	"github.com/grantcarthew/linkctl/internal/transport"
)

var (
	// ErrBusy is returned by Connect while an attempt is in flight or a connection is up.
	ErrBusy = errors.New("already connected or connecting")
	// ErrNotConnected is returned by Send when there is no connection.
	ErrNotConnected = errors.New("not connected")
	// ErrInvalidEndpoint indicates an empty or unparseable endpoint.
	ErrInvalidEndpoint = transport.ErrInvalidEndpoint

	errTransportDown = errors.New("transport reports connection lost")
)

// Kind classifies connection errors.
type Kind int

const (
	// KindInvalidEndpoint is an empty or unparseable address. Never retried.
	KindInvalidEndpoint Kind = iota + 1
	// KindTransportCreateFailed means no transport handle could be created.
	KindTransportCreateFailed
	// KindConnectFailed means the handle exists but the connect was rejected.
	KindConnectFailed
	// KindSendFailed means the transport rejected a payload while connected.
	KindSendFailed
	// KindUnexpectedClose means the connection was lost outside a manual disconnect.
	KindUnexpectedClose
)

// String returns a short name for the kind.
func (k Kind) String() string {
	switch k {
	case KindInvalidEndpoint:
		return "invalid_endpoint"
	case KindTransportCreateFailed:
		return "transport_create_failed"
	case KindConnectFailed:
		return "connect_failed"
	case KindSendFailed:
		return "send_failed"
	case KindUnexpectedClose:
		return "unexpected_close"
	default:
		return "unknown"
	}
}

// Retryable reports whether the reconnect timer is armed for this kind.
func (k Kind) Retryable() bool {
	switch k {
	case KindTransportCreateFailed, KindConnectFailed, KindUnexpectedClose:
		return true
	default:
		return false
	}
}

// Error is a classified connection error.
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %s", e.Op, e.Kind)
	}
	return fmt.Sprintf("%s: %s: %v", e.Op, e.Kind, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// KindOf returns the Kind of err, or 0 if err is not an *Error.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return 0
}
