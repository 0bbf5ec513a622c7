// Package link maintains a single outbound connection and reconnects it when
// it drops.
//
// All state lives in Manager and changes only while its mutex is held. Timer
// and transport callbacks carry the generation they were armed under and are
// ignored once the generation moves on, so a late timer never acts on a
// handle that has been replaced or closed. Host callbacks are queued under the
// lock and delivered in order after it is released.
package link

import (
	"context"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/grantcarthew/linkctl/internal/transport"
)

// Manager owns one transport handle and drives the connect/reconnect cycle.
type Manager struct {
	cfg  Config
	log  zerolog.Logger
	pump inboundPump

	mu          sync.Mutex
	state       State
	gen         uint64
	endpoint    transport.Endpoint
	hasEndpoint bool
	handle      transport.Transport
	cancelDial  context.CancelFunc
	policy      ReconnectPolicy

	pumpTimer      Timer
	livenessTimer  Timer
	reconnectTimer Timer

	attemptID   string
	attempts    int
	lastErr     error
	connectedAt time.Time

	// retired holds handles dropped under mu that still need closing, and
	// starts the opens waiting on them. queue holds host callbacks raised
	// under mu.
	retired     []transport.Transport
	starts      []func()
	queue       []func()
	dispatching bool
}

// New creates an idle manager.
func New(cfg Config) *Manager {
	cfg = cfg.withDefaults()
	m := &Manager{
		cfg:  cfg,
		log:  cfg.Logger.With().Str("component", "link").Logger(),
		pump: inboundPump{maxRead: cfg.MaxReadSize},
		policy: ReconnectPolicy{
			Interval: cfg.ReconnectInterval,
		},
	}
	cfg.Metrics.state(StateIdle)
	return m
}

// State returns the current state.
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Endpoint returns the last endpoint passed to Connect.
func (m *Manager) Endpoint() (transport.Endpoint, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.endpoint, m.hasEndpoint
}

// Policy returns a copy of the reconnect policy.
func (m *Manager) Policy() ReconnectPolicy {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.policy
}

// SetReconnectInterval changes the interval used for the next reconnect timer.
func (m *Manager) SetReconnectInterval(d time.Duration) {
	if d <= 0 {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.policy.Interval != d {
		m.log.Info().Dur("interval", d).Msg("reconnect interval changed")
	}
	m.policy.Interval = d
}

// Info returns connection information for status reporting.
func (m *Manager) Info() Info {
	m.mu.Lock()
	defer m.mu.Unlock()

	info := Info{
		State:             m.state,
		StateString:       m.state.String(),
		Generation:        m.gen,
		AttemptID:         m.attemptID,
		Attempts:          m.attempts,
		Reconnecting:      m.policy.Enabled,
		ReconnectInterval: m.policy.Interval,
		ConnectedSince:    m.connectedAt,
	}
	if m.hasEndpoint {
		info.Endpoint = m.endpoint.String()
	}
	if m.lastErr != nil {
		info.LastError = m.lastErr.Error()
	}
	return info
}

// Connect starts a connection attempt and returns without waiting for it.
// It returns ErrBusy while connecting or connected and an *Error of kind
// KindInvalidEndpoint for a bad endpoint; neither changes state. The outcome
// of the attempt is reported through OnConnected or OnConnectionError.
func (m *Manager) Connect(ep transport.Endpoint) error {
	m.mu.Lock()
	defer m.unlock()

	if m.state == StateConnecting || m.state == StateConnected {
		m.log.Warn().Str("state", m.state.String()).Msg("Already connected or connecting")
		return ErrBusy
	}
	if err := ep.Validate(); err != nil {
		m.log.Warn().Err(err).Msg("Connect rejected")
		return &Error{Kind: KindInvalidEndpoint, Op: "connect", Err: err}
	}

	m.endpoint = ep
	m.hasEndpoint = true
	m.attemptLocked()
	return nil
}

// Disconnect stops reconnection, cancels every timer and closes the handle.
// Safe to call in any state.
func (m *Manager) Disconnect() {
	m.mu.Lock()
	defer m.unlock()

	m.policy.Enabled = false
	m.gen++
	m.stopTimersLocked()

	if m.state == StateIdle && m.handle == nil {
		m.log.Debug().Msg("Disconnect: not connected")
		return
	}

	m.setStateLocked(StateDisconnecting)
	m.retireHandleLocked()
	m.connectedAt = time.Time{}
	m.setStateLocked(StateIdle)
	m.log.Info().Msg("Disconnected")
}

// Send forwards payload to the transport. It returns ErrNotConnected without
// touching the transport unless connected. A transport failure is returned
// as a KindSendFailed *Error and does not change state.
func (m *Manager) Send(payload []byte) error {
	m.mu.Lock()
	if m.state != StateConnected || m.handle == nil {
		state := m.state
		m.unlock()
		m.log.Warn().Str("state", state.String()).Msg("Send skipped: not connected")
		return ErrNotConnected
	}
	h := m.handle
	m.unlock()

	if err := h.Send(payload); err != nil {
		m.cfg.Metrics.sendFailed()
		m.log.Error().Err(err).Int("bytes", len(payload)).Msg("Send failed")
		return &Error{Kind: KindSendFailed, Op: "send", Err: err}
	}
	m.cfg.Metrics.sent(len(payload))
	m.log.Debug().Int("bytes", len(payload)).Msg("Sent")
	return nil
}

// SendText sends s as UTF-8.
func (m *Manager) SendText(s string) error {
	return m.Send([]byte(s))
}

// CheckLiveness compares the transport's state with the manager's. Only the
// edge from connected to anything else is acted on.
func (m *Manager) CheckLiveness() {
	m.mu.Lock()
	defer m.unlock()
	m.checkLivenessLocked()
}

func (m *Manager) checkLivenessLocked() {
	if m.state != StateConnected || m.handle == nil {
		return
	}
	if m.handle.State() == transport.StateConnected {
		return
	}
	m.log.Warn().Str("endpoint", m.endpoint.String()).Msg("Lost connection to the server")
	m.failLocked(&Error{Kind: KindUnexpectedClose, Op: "liveness", Err: errTransportDown})
}

// attemptLocked replaces any handle with a fresh one and starts opening it.
func (m *Manager) attemptLocked() {
	m.gen++
	gen := m.gen

	m.stopTimersLocked()
	m.retireHandleLocked()

	m.attempts++
	m.attemptID = uuid.NewString()
	m.setStateLocked(StateConnecting)
	m.cfg.Metrics.attempt()
	m.log.Info().
		Str("endpoint", m.endpoint.String()).
		Str("attempt", m.attemptID).
		Uint64("gen", gen).
		Msg("Connecting")

	h, err := m.cfg.Factory(m.endpoint)
	if err != nil {
		m.failLocked(&Error{Kind: KindTransportCreateFailed, Op: "connect", Err: err})
		return
	}
	m.handle = h

	ctx, cancel := context.WithCancel(context.Background())
	m.cancelDial = cancel
	if sub, ok := h.(transport.Subscriber); ok {
		sub.Subscribe(m.subscription(gen))
	}
	m.starts = append(m.starts, func() { m.open(ctx, gen, h) })
}

// open runs once the previous handle has been closed. Poll-style transports
// block in Open, so they are opened on their own goroutine.
func (m *Manager) open(ctx context.Context, gen uint64, h transport.Transport) {
	if _, ok := h.(transport.Subscriber); !ok {
		go m.dial(ctx, gen, h)
		return
	}
	if err := h.Open(ctx); err != nil {
		m.mu.Lock()
		defer m.unlock()
		if gen == m.gen && m.handle == h && m.state == StateConnecting {
			m.failLocked(&Error{Kind: KindConnectFailed, Op: "connect", Err: err})
		}
	}
}

// dial opens a blocking transport and records the outcome.
func (m *Manager) dial(ctx context.Context, gen uint64, h transport.Transport) {
	err := h.Open(ctx)

	m.mu.Lock()
	defer m.unlock()

	if gen != m.gen || m.handle != h {
		// Superseded; the handle was already retired.
		return
	}
	if err != nil {
		m.failLocked(&Error{Kind: KindConnectFailed, Op: "connect", Err: err})
		return
	}
	m.connectedLocked(gen)
}

// subscription binds an event-driven transport's callbacks to gen.
func (m *Manager) subscription(gen uint64) transport.Events {
	return transport.Events{
		OnOpen: func() {
			m.mu.Lock()
			defer m.unlock()
			if gen != m.gen || m.state != StateConnecting {
				return
			}
			m.connectedLocked(gen)
		},
		OnError: func(err error) {
			m.mu.Lock()
			defer m.unlock()
			if gen != m.gen {
				return
			}
			switch m.state {
			case StateConnecting:
				m.failLocked(&Error{Kind: KindConnectFailed, Op: "connect", Err: err})
			case StateConnected:
				m.failLocked(&Error{Kind: KindUnexpectedClose, Op: "read", Err: err})
			}
		},
		OnClose: func(code int, reason string, wasClean bool) {
			m.mu.Lock()
			defer m.unlock()
			if gen != m.gen {
				return
			}
			m.log.Info().Int("code", code).Str("reason", reason).Bool("clean", wasClean).Msg("Connection closed")
			if h := m.cfg.Handlers.OnClosed; h != nil {
				m.enqueue(func() { h(code, reason, wasClean) })
			}
			err := &closeError{code: code, reason: reason}
			switch m.state {
			case StateConnecting:
				m.failLocked(&Error{Kind: KindConnectFailed, Op: "connect", Err: err})
			case StateConnected:
				m.failLocked(&Error{Kind: KindUnexpectedClose, Op: "read", Err: err})
			}
		},
		OnMessage: func(text string) {
			m.mu.Lock()
			defer m.unlock()
			if gen != m.gen || m.state != StateConnected {
				return
			}
			m.deliverLocked(text, len(text))
		},
		OnSent: func(n int) {
			m.log.Trace().Int("bytes", n).Msg("Message sent")
		},
	}
}

// connectedLocked completes a successful attempt.
func (m *Manager) connectedLocked(gen uint64) {
	m.setStateLocked(StateConnected)
	m.policy.Enabled = false
	m.stopTimer(&m.reconnectTimer)
	m.attempts = 0
	m.lastErr = nil
	m.connectedAt = m.cfg.Clock.Now()

	if _, ok := m.handle.(transport.Poller); ok {
		m.armPumpLocked(gen)
	}
	m.armLivenessLocked(gen)

	ep := m.endpoint
	m.log.Info().Str("endpoint", ep.String()).Msg("Successfully connected")
	if h := m.cfg.Handlers.OnConnected; h != nil {
		m.enqueue(func() { h(ep) })
	}
	if greeting := m.cfg.Greeting; greeting != "" {
		m.enqueue(func() { _ = m.SendText(greeting) })
	}
}

// failLocked records a retryable failure, drops the handle and arms a reconnect.
func (m *Manager) failLocked(err *Error) {
	gen := m.gen

	m.lastErr = err
	m.stopTimersLocked()
	m.retireHandleLocked()
	m.connectedAt = time.Time{}
	m.setStateLocked(StateFailed)
	m.cfg.Metrics.failure(err.Kind)
	m.log.Error().Err(err).Str("kind", err.Kind.String()).Msg("Connection error")

	if h := m.cfg.Handlers.OnConnectionError; h != nil {
		m.enqueue(func() { h(err) })
	}

	if !err.Kind.Retryable() {
		return
	}
	m.policy.Enabled = true
	m.armReconnectLocked(gen)
}

// deliverLocked forwards an inbound message to the host.
func (m *Manager) deliverLocked(text string, n int) {
	if text == "" {
		return
	}
	m.cfg.Metrics.received(n)
	m.log.Debug().Int("bytes", n).Msg("Message received")
	if h := m.cfg.Handlers.OnMessage; h != nil {
		m.enqueue(func() { h(text) })
	}
}

func (m *Manager) armPumpLocked(gen uint64) {
	m.pumpTimer = m.cfg.Clock.AfterFunc(m.cfg.PollInterval, func() { m.pumpTick(gen) })
}

func (m *Manager) pumpTick(gen uint64) {
	m.mu.Lock()
	defer m.unlock()

	if gen != m.gen || m.state != StateConnected {
		return
	}
	if p, ok := m.handle.(transport.Poller); ok {
		if text, n, ok := m.pump.poll(p); ok {
			m.deliverLocked(text, n)
		}
	}
	m.armPumpLocked(gen)
}

func (m *Manager) armLivenessLocked(gen uint64) {
	m.livenessTimer = m.cfg.Clock.AfterFunc(m.cfg.LivenessInterval, func() { m.livenessTick(gen) })
}

func (m *Manager) livenessTick(gen uint64) {
	m.mu.Lock()
	defer m.unlock()

	if gen != m.gen {
		return
	}
	m.checkLivenessLocked()
	if gen == m.gen && m.state == StateConnected {
		m.armLivenessLocked(gen)
	}
}

func (m *Manager) armReconnectLocked(gen uint64) {
	interval := m.policy.Interval
	m.reconnectTimer = m.cfg.Clock.AfterFunc(interval, func() { m.reconnectTick(gen) })
	m.log.Info().Dur("in", interval).Msg("Reconnect scheduled")
}

func (m *Manager) reconnectTick(gen uint64) {
	m.mu.Lock()
	defer m.unlock()

	if gen != m.gen || m.state != StateFailed || !m.policy.Enabled {
		return
	}
	m.reconnectTimer = nil

	if err := m.endpoint.Validate(); err != nil {
		m.policy.Enabled = false
		m.log.Warn().Msg("Reconnect abandoned")
		m.failLocked(&Error{Kind: KindInvalidEndpoint, Op: "reconnect", Err: err})
		return
	}
	m.cfg.Metrics.reconnect()
	m.attemptLocked()
}

func (m *Manager) stopTimer(t *Timer) {
	if *t != nil {
		(*t).Stop()
		*t = nil
	}
}

func (m *Manager) stopTimersLocked() {
	m.stopTimer(&m.pumpTimer)
	m.stopTimer(&m.livenessTimer)
	m.stopTimer(&m.reconnectTimer)
}

// retireHandleLocked cancels any in-flight open and drops the handle.
// The handle is closed once mu is released.
func (m *Manager) retireHandleLocked() {
	if m.cancelDial != nil {
		m.cancelDial()
		m.cancelDial = nil
	}
	if m.handle != nil {
		m.retired = append(m.retired, m.handle)
		m.handle = nil
	}
}

func (m *Manager) setStateLocked(to State) {
	from := m.state
	if from == to {
		return
	}
	m.state = to
	m.cfg.Metrics.state(to)
	m.log.Debug().Str("from", from.String()).Str("to", to.String()).Msg("State changed")
	if h := m.cfg.Handlers.OnStateChange; h != nil {
		m.enqueue(func() { h(from, to) })
	}
}

func (m *Manager) enqueue(fn func()) {
	m.queue = append(m.queue, fn)
}

// unlock releases mu, closes retired handles, starts pending opens and
// delivers queued callbacks. Only one goroutine dispatches callbacks at a
// time; callbacks raised while another goroutine is dispatching are delivered
// by that goroutine, in order.
func (m *Manager) unlock() {
	retired, starts := m.retired, m.starts
	m.retired, m.starts = nil, nil

	if m.dispatching {
		m.mu.Unlock()
		m.closeAll(retired)
		m.startAll(starts)
		return
	}
	m.dispatching = true
	m.mu.Unlock()
	m.closeAll(retired)
	m.startAll(starts)

	for {
		m.mu.Lock()
		batch := m.queue
		m.queue = nil
		if len(batch) == 0 {
			m.dispatching = false
			m.mu.Unlock()
			return
		}
		m.mu.Unlock()

		for _, fn := range batch {
			m.call(fn)
		}
	}
}

func (m *Manager) startAll(starts []func()) {
	for _, fn := range starts {
		fn()
	}
}

func (m *Manager) closeAll(handles []transport.Transport) {
	for _, h := range handles {
		if err := h.Close(); err != nil {
			m.log.Debug().Err(err).Msg("Close transport")
		}
	}
}

// call runs a host callback, containing any panic.
func (m *Manager) call(fn func()) {
	defer func() {
		if r := recover(); r != nil {
			m.log.Error().Interface("panic", r).Msg("Handler panicked")
		}
	}()
	fn()
}

// closeError describes a close frame received from the peer.
type closeError struct {
	code   int
	reason string
}

func (e *closeError) Error() string {
	if e.reason == "" {
		return "connection closed with status " + strconv.Itoa(e.code)
	}
	return "connection closed with status " + strconv.Itoa(e.code) + ": " + e.reason
}
