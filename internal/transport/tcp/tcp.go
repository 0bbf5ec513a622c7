// Package tcp implements a poll-style raw byte stream transport over TCP.
package tcp

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/grantcarthew/linkctl/internal/transport"
)

const (
	// DefaultDialTimeout bounds a single connect attempt.
	DefaultDialTimeout = 10 * time.Second
	// DefaultWriteTimeout bounds a single Send.
	DefaultWriteTimeout = 5 * time.Second
	// DefaultMaxBuffered is the inbound backlog at which the reader stops reading
	// from the socket until the caller drains it.
	DefaultMaxBuffered = 1 << 20

	readChunk = 32 * 1024
)

// Option configures a Transport.
type Option func(*Transport)

// WithDialTimeout sets the connect timeout.
func WithDialTimeout(d time.Duration) Option {
	return func(t *Transport) {
		if d > 0 {
			t.dialTimeout = d
		}
	}
}

// WithWriteTimeout sets the per-Send write deadline.
func WithWriteTimeout(d time.Duration) Option {
	return func(t *Transport) {
		if d > 0 {
			t.writeTimeout = d
		}
	}
}

// WithMaxBuffered sets the inbound backlog limit.
func WithMaxBuffered(n int) Option {
	return func(t *Transport) {
		if n > 0 {
			t.maxBuffered = n
		}
	}
}

// Transport is a single-use TCP connection. A background reader moves socket
// data into an in-memory buffer so Pending and Receive never block.
type Transport struct {
	addr         string
	dialTimeout  time.Duration
	writeTimeout time.Duration
	maxBuffered  int

	mu      sync.Mutex
	space   *sync.Cond // signalled when buffered data is drained or the transport closes
	state   transport.State
	conn    net.Conn
	pending bytes.Buffer
	readErr error
	closed  bool
	done    chan struct{}
}

var _ transport.Poller = (*Transport)(nil)

// New creates a transport for the given "host:port" address.
func New(addr string, opts ...Option) *Transport {
	t := &Transport{
		addr:         addr,
		dialTimeout:  DefaultDialTimeout,
		writeTimeout: DefaultWriteTimeout,
		maxBuffered:  DefaultMaxBuffered,
	}
	t.space = sync.NewCond(&t.mu)
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Open dials the address and starts the background reader.
func (t *Transport) Open(ctx context.Context) error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return transport.ErrClosed
	}
	if t.state != transport.StateNotConnected || t.conn != nil {
		t.mu.Unlock()
		return errors.New("transport already opened")
	}
	t.state = transport.StateConnecting
	t.mu.Unlock()

	dialCtx, cancel := context.WithTimeout(ctx, t.dialTimeout)
	defer cancel()

	var d net.Dialer
	conn, err := d.DialContext(dialCtx, "tcp", t.addr)

	t.mu.Lock()
	defer t.mu.Unlock()

	if err != nil {
		t.state = transport.StateNotConnected
		return fmt.Errorf("dial %s: %w", t.addr, err)
	}
	if t.closed {
		_ = conn.Close()
		return transport.ErrClosed
	}

	t.conn = conn
	t.state = transport.StateConnected
	t.done = make(chan struct{})
	go t.readLoop(conn, t.done)
	return nil
}

// readLoop copies socket data into the pending buffer until the socket fails.
func (t *Transport) readLoop(conn net.Conn, done chan struct{}) {
	defer close(done)

	buf := make([]byte, readChunk)
	for {
		t.mu.Lock()
		for t.pending.Len() >= t.maxBuffered && !t.closed {
			t.space.Wait()
		}
		closed := t.closed
		t.mu.Unlock()
		if closed {
			return
		}

		n, err := conn.Read(buf)

		t.mu.Lock()
		if n > 0 {
			t.pending.Write(buf[:n])
		}
		if err != nil {
			t.readErr = err
			t.state = transport.StateNotConnected
			t.mu.Unlock()
			return
		}
		t.mu.Unlock()
	}
}

// Close closes the socket and waits for the reader to exit.
func (t *Transport) Close() error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil
	}
	t.closed = true
	t.state = transport.StateNotConnected
	conn := t.conn
	done := t.done
	t.pending.Reset()
	t.space.Broadcast()
	t.mu.Unlock()

	if conn == nil {
		return nil
	}
	err := conn.Close()
	<-done
	return err
}

// State reports the connection state.
func (t *Transport) State() transport.State {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

// Err returns the error that ended the reader, if any.
func (t *Transport) Err() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.readErr
}

// Send writes the whole payload to the socket.
func (t *Transport) Send(payload []byte) error {
	t.mu.Lock()
	conn := t.conn
	state := t.state
	t.mu.Unlock()

	if state != transport.StateConnected || conn == nil {
		return transport.ErrNotConnected
	}

	if err := conn.SetWriteDeadline(time.Now().Add(t.writeTimeout)); err != nil {
		return fmt.Errorf("set write deadline: %w", err)
	}
	if _, err := conn.Write(payload); err != nil {
		return fmt.Errorf("write: %w", err)
	}
	return nil
}

// Pending reports the number of buffered inbound bytes.
func (t *Transport) Pending() (int, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.state != transport.StateConnected {
		return 0, false
	}
	n := t.pending.Len()
	return n, n > 0
}

// Receive drains up to max buffered bytes.
func (t *Transport) Receive(max int) ([]byte, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.pending.Len() == 0 {
		if t.state != transport.StateConnected {
			return nil, transport.ErrNotConnected
		}
		return nil, nil
	}
	if max <= 0 {
		return nil, nil
	}

	n := min(max, t.pending.Len())
	data := make([]byte, n)
	_, _ = t.pending.Read(data)
	t.space.Signal()
	return data, nil
}
