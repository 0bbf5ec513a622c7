package link

import (
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/grantcarthew/linkctl/internal/transport"
	"github.com/grantcarthew/linkctl/internal/transport/tcp"
	"github.com/grantcarthew/linkctl/internal/transport/ws"
)

const (
	DefaultReconnectInterval = 5 * time.Second
	DefaultLivenessInterval  = 1 * time.Second
	DefaultPollInterval      = 10 * time.Millisecond
	DefaultConnectTimeout    = 10 * time.Second
)

// Factory creates a fresh, unopened transport for an endpoint.
type Factory func(ep transport.Endpoint) (transport.Transport, error)

// Handlers are the host-facing callbacks. Any field may be nil.
// They run outside the manager's lock, in the order the events occurred,
// and may call back into the manager.
type Handlers struct {
	OnConnected       func(ep transport.Endpoint)
	OnConnectionError func(err error)
	// OnClosed is only raised by event-driven transports.
	OnClosed      func(code int, reason string, wasClean bool)
	OnMessage     func(text string)
	OnStateChange func(from, to State)
}

// Config holds connection manager configuration.
type Config struct {
	ReconnectInterval time.Duration
	LivenessInterval  time.Duration
	PollInterval      time.Duration
	ConnectTimeout    time.Duration
	MaxReadSize       int

	// Greeting, when non-empty, is sent once after every successful connect.
	Greeting string

	Handlers Handlers
	Factory  Factory
	Clock    Clock
	Logger   zerolog.Logger
	Metrics  *Metrics
}

// DefaultConfig returns the default manager configuration.
func DefaultConfig() Config {
	return Config{
		ReconnectInterval: DefaultReconnectInterval,
		LivenessInterval:  DefaultLivenessInterval,
		PollInterval:      DefaultPollInterval,
		ConnectTimeout:    DefaultConnectTimeout,
		MaxReadSize:       transport.MaxReadSize,
		Logger:            zerolog.Nop(),
	}
}

// withDefaults fills zero values.
func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.ReconnectInterval <= 0 {
		c.ReconnectInterval = d.ReconnectInterval
	}
	if c.LivenessInterval <= 0 {
		c.LivenessInterval = d.LivenessInterval
	}
	if c.PollInterval <= 0 {
		c.PollInterval = d.PollInterval
	}
	if c.ConnectTimeout <= 0 {
		c.ConnectTimeout = d.ConnectTimeout
	}
	if c.MaxReadSize <= 0 || c.MaxReadSize > transport.MaxReadSize {
		c.MaxReadSize = d.MaxReadSize
	}
	if c.Clock == nil {
		c.Clock = realClock{}
	}
	if c.Factory == nil {
		c.Factory = NewFactory(c.ConnectTimeout, c.MaxReadSize)
	}
	return c
}

// NewFactory returns the default factory: raw TCP for tcp endpoints and
// WebSocket for ws endpoints.
func NewFactory(connectTimeout time.Duration, maxReadSize int) Factory {
	return func(ep transport.Endpoint) (transport.Transport, error) {
		switch ep.Scheme {
		case transport.SchemeTCP:
			return tcp.New(ep.Address(), tcp.WithDialTimeout(connectTimeout)), nil
		case transport.SchemeWebSocket:
			return ws.New(ep.URL(), ws.WithDialTimeout(connectTimeout), ws.WithReadLimit(maxReadSize)), nil
		default:
			return nil, fmt.Errorf("no transport for scheme %s", ep.Scheme)
		}
	}
}
