package link

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/grantcarthew/linkctl/internal/transport"
)

// fakeClock fires timers only when advanced.
type fakeClock struct {
	mu     sync.Mutex
	now    time.Time
	timers []*fakeTimer
}

type fakeTimer struct {
	clock   *fakeClock
	d       time.Duration
	at      time.Time
	f       func()
	stopped bool
	fired   bool
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) AfterFunc(d time.Duration, f func()) Timer {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := &fakeTimer{clock: c, d: d, at: c.now.Add(d), f: f}
	c.timers = append(c.timers, t)
	return t
}

func (t *fakeTimer) Stop() bool {
	t.clock.mu.Lock()
	defer t.clock.mu.Unlock()
	active := !t.stopped && !t.fired
	t.stopped = true
	return active
}

// Advance moves time forward, firing due timers in order on the caller's
// goroutine.
func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	target := c.now.Add(d)
	for {
		var next *fakeTimer
		for _, t := range c.timers {
			if t.stopped || t.fired || t.at.After(target) {
				continue
			}
			if next == nil || t.at.Before(next.at) {
				next = t
			}
		}
		if next == nil {
			c.now = target
			c.mu.Unlock()
			return
		}
		next.fired = true
		c.now = next.at
		c.mu.Unlock()
		next.f()
		c.mu.Lock()
	}
}

// active returns the durations of timers that are armed and have not fired.
func (c *fakeClock) active() []time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []time.Duration
	for _, t := range c.timers {
		if !t.stopped && !t.fired {
			out = append(out, t.d)
		}
	}
	return out
}

// countActive returns how many armed timers have duration d.
func (c *fakeClock) countActive(d time.Duration) int {
	n := 0
	for _, a := range c.active() {
		if a == d {
			n++
		}
	}
	return n
}

// mockPoller is a poll-style transport whose Open completes immediately
// unless block is set.
type mockPoller struct {
	mu       sync.Mutex
	openErr  error
	block    chan struct{}
	state    transport.State
	pending  []byte
	sent     [][]byte
	sendErr  error
	opened   bool
	closed   bool
	receives []int
}

func (p *mockPoller) Open(ctx context.Context) error {
	p.mu.Lock()
	block := p.block
	p.opened = true
	p.state = transport.StateConnecting
	p.mu.Unlock()

	if block != nil {
		select {
		case <-block:
		case <-ctx.Done():
			p.setState(transport.StateNotConnected)
			return ctx.Err()
		}
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.openErr != nil {
		p.state = transport.StateNotConnected
		return p.openErr
	}
	p.state = transport.StateConnected
	return nil
}

func (p *mockPoller) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
	p.state = transport.StateNotConnected
	return nil
}

func (p *mockPoller) State() transport.State {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

func (p *mockPoller) setState(s transport.State) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.state = s
}

func (p *mockPoller) Send(payload []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.sendErr != nil {
		return p.sendErr
	}
	p.sent = append(p.sent, append([]byte(nil), payload...))
	return nil
}

func (p *mockPoller) Pending() (int, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.pending), len(p.pending) > 0
}

func (p *mockPoller) Receive(max int) ([]byte, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.receives = append(p.receives, max)
	n := min(max, len(p.pending))
	data := p.pending[:n:n]
	p.pending = p.pending[n:]
	return data, nil
}

func (p *mockPoller) feed(data []byte) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.pending = append(p.pending, data...)
}

func (p *mockPoller) isOpen() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.opened && !p.closed
}

func (p *mockPoller) sentPayloads() [][]byte {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([][]byte(nil), p.sent...)
}

// mockSubscriber is an event-driven transport whose events are raised by the
// test.
type mockSubscriber struct {
	mu      sync.Mutex
	events  transport.Events
	openErr error
	state   transport.State
	opened  bool
	closed  bool
	sent    [][]byte
}

func (s *mockSubscriber) Subscribe(ev transport.Events) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = ev
}

func (s *mockSubscriber) Open(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.openErr != nil {
		return s.openErr
	}
	s.opened = true
	s.state = transport.StateConnecting
	return nil
}

func (s *mockSubscriber) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	s.state = transport.StateNotConnected
	return nil
}

func (s *mockSubscriber) State() transport.State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *mockSubscriber) Send(payload []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sent = append(s.sent, append([]byte(nil), payload...))
	return nil
}

func (s *mockSubscriber) subscribed() transport.Events {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.events
}

func (s *mockSubscriber) open() {
	s.mu.Lock()
	s.state = transport.StateConnected
	ev := s.events
	s.mu.Unlock()
	ev.OnOpen()
}

func (s *mockSubscriber) fail(err error) {
	s.mu.Lock()
	s.state = transport.StateNotConnected
	ev := s.events
	s.mu.Unlock()
	ev.OnError(err)
}

func (s *mockSubscriber) remoteClose(code int, reason string, clean bool) {
	s.mu.Lock()
	s.state = transport.StateNotConnected
	ev := s.events
	s.mu.Unlock()
	ev.OnClose(code, reason, clean)
}

func (s *mockSubscriber) message(text string) {
	s.subscribed().OnMessage(text)
}

func (s *mockSubscriber) isOpen() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.opened && !s.closed
}

// openTracker is implemented by both mocks.
type openTracker interface {
	transport.Transport
	isOpen() bool
}

// factory hands out transports produced by next and records every one.
type factory struct {
	mu      sync.Mutex
	next    func() (openTracker, error)
	created []openTracker
}

func (f *factory) create(transport.Endpoint) (transport.Transport, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	t, err := f.next()
	if err != nil {
		return nil, err
	}
	f.created = append(f.created, t)
	return t, nil
}

func (f *factory) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.created)
}

func (f *factory) openCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, t := range f.created {
		if t.isOpen() {
			n++
		}
	}
	return n
}

func (f *factory) poller(i int) *mockPoller {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.created[i].(*mockPoller)
}

func (f *factory) subscriber(i int) *mockSubscriber {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.created[i].(*mockSubscriber)
}

func pollers(configure func(*mockPoller)) *factory {
	return &factory{next: func() (openTracker, error) {
		p := &mockPoller{}
		if configure != nil {
			configure(p)
		}
		return p, nil
	}}
}

func subscribers() *factory {
	return &factory{next: func() (openTracker, error) {
		return &mockSubscriber{}, nil
	}}
}

// recorder collects host callbacks.
type recorder struct {
	mu          sync.Mutex
	connected   int
	errors      []error
	closes      []string
	messages    []string
	transitions []string
}

func (r *recorder) handlers() Handlers {
	return Handlers{
		OnConnected: func(transport.Endpoint) {
			r.mu.Lock()
			defer r.mu.Unlock()
			r.connected++
		},
		OnConnectionError: func(err error) {
			r.mu.Lock()
			defer r.mu.Unlock()
			r.errors = append(r.errors, err)
		},
		OnClosed: func(code int, reason string, wasClean bool) {
			r.mu.Lock()
			defer r.mu.Unlock()
			r.closes = append(r.closes, reason)
		},
		OnMessage: func(text string) {
			r.mu.Lock()
			defer r.mu.Unlock()
			r.messages = append(r.messages, text)
		},
		OnStateChange: func(from, to State) {
			r.mu.Lock()
			defer r.mu.Unlock()
			r.transitions = append(r.transitions, from.String()+">"+to.String())
		},
	}
}

func (r *recorder) connectedCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.connected
}

func (r *recorder) errorCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.errors)
}

func (r *recorder) lastError() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.errors) == 0 {
		return nil
	}
	return r.errors[len(r.errors)-1]
}

func (r *recorder) messageList() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.messages...)
}

func (r *recorder) transitionList() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.transitions...)
}

var errRefused = errors.New("connection refused")

func newTestManager(f *factory, clock *fakeClock, rec *recorder) *Manager {
	cfg := DefaultConfig()
	cfg.Factory = f.create
	cfg.Clock = clock
	cfg.Handlers = rec.handlers()
	return New(cfg)
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(time.Millisecond)
	}
}

func waitState(t *testing.T, m *Manager, want State) {
	t.Helper()
	waitFor(t, "state "+want.String(), func() bool { return m.State() == want })
}

func mustEndpoint(t *testing.T, s string) transport.Endpoint {
	t.Helper()
	ep, err := transport.ParseEndpoint(s)
	if err != nil {
		t.Fatalf("ParseEndpoint(%q) error: %v", s, err)
	}
	return ep
}
