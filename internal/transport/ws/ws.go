package ws

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/coder/websocket"

	"github.com/grantcarthew/linkctl/internal/transport"
)

const (
	// DefaultDialTimeout bounds the opening handshake.
	DefaultDialTimeout = 10 * time.Second
	// DefaultWriteTimeout bounds a single Send.
	DefaultWriteTimeout = 5 * time.Second
)

// Option configures a Transport.
type Option func(*Transport)

// WithDialer replaces the dial function (for testing).
func WithDialer(dial DialFunc) Option {
	return func(t *Transport) {
		if dial != nil {
			t.dial = dial
		}
	}
}

// WithDialTimeout sets the handshake timeout.
func WithDialTimeout(d time.Duration) Option {
	return func(t *Transport) {
		if d > 0 {
			t.dialTimeout = d
		}
	}
}

// WithWriteTimeout sets the per-Send timeout.
func WithWriteTimeout(d time.Duration) Option {
	return func(t *Transport) {
		if d > 0 {
			t.writeTimeout = d
		}
	}
}

// WithReadLimit caps the size of a single inbound message.
func WithReadLimit(n int) Option {
	return func(t *Transport) {
		if n > 0 {
			t.readLimit = int64(n)
		}
	}
}

// Transport is a single-use WebSocket connection that pushes its lifecycle
// and inbound messages through subscribed Events.
type Transport struct {
	url          string
	dial         DialFunc
	dialTimeout  time.Duration
	writeTimeout time.Duration
	readLimit    int64

	mu     sync.Mutex
	state  transport.State
	conn   Conn
	events transport.Events
	cancel context.CancelFunc
	opened bool
	closed bool
}

var _ transport.Subscriber = (*Transport)(nil)

// New creates a transport for a ws:// URL.
func New(url string, opts ...Option) *Transport {
	t := &Transport{
		url:          url,
		dial:         Dial,
		dialTimeout:  DefaultDialTimeout,
		writeTimeout: DefaultWriteTimeout,
		readLimit:    transport.MaxReadSize,
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Subscribe registers the event callbacks. Call before Open.
func (t *Transport) Subscribe(events transport.Events) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.events = events
}

// Open starts the handshake in the background and returns immediately.
// The outcome arrives as OnOpen or OnError.
func (t *Transport) Open(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.closed {
		return transport.ErrClosed
	}
	if t.opened {
		return errors.New("transport already opened")
	}
	t.opened = true
	t.state = transport.StateConnecting

	runCtx, cancel := context.WithCancel(ctx)
	t.cancel = cancel
	go t.run(runCtx)
	return nil
}

// run performs the handshake and then reads until the connection ends.
func (t *Transport) run(ctx context.Context) {
	dialCtx, cancel := context.WithTimeout(ctx, t.dialTimeout)
	conn, err := t.dial(dialCtx, t.url, t.readLimit)
	cancel()

	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		if conn != nil {
			_ = conn.Close(websocket.StatusNormalClosure, "client closing")
		}
		return
	}
	if err != nil {
		t.state = transport.StateNotConnected
		ev := t.events
		t.mu.Unlock()
		if ev.OnError != nil {
			ev.OnError(fmt.Errorf("dial %s: %w", t.url, err))
		}
		return
	}
	t.conn = conn
	t.state = transport.StateConnected
	ev := t.events
	t.mu.Unlock()

	if ev.OnOpen != nil {
		ev.OnOpen()
	}
	t.readLoop(ctx, conn)
}

// readLoop pushes every inbound frame as text until the connection fails.
func (t *Transport) readLoop(ctx context.Context, conn Conn) {
	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			t.mu.Lock()
			closed := t.closed
			t.state = transport.StateNotConnected
			ev := t.events
			t.mu.Unlock()

			if closed {
				return
			}
			code, reason, clean := classifyClose(err)
			if ev.OnClose != nil {
				ev.OnClose(code, reason, clean)
			}
			return
		}

		t.mu.Lock()
		closed := t.closed
		ev := t.events
		t.mu.Unlock()
		if closed {
			return
		}
		if ev.OnMessage != nil {
			// Binary frames carry no encoding guarantee.
			ev.OnMessage(strings.ToValidUTF8(string(data), "\uFFFD"))
		}
	}
}

// classifyClose extracts the close code and reason from a read error.
// Normal closure and going-away count as clean; anything else is abnormal.
func classifyClose(err error) (code int, reason string, clean bool) {
	var ce websocket.CloseError
	if errors.As(err, &ce) {
		clean = ce.Code == websocket.StatusNormalClosure || ce.Code == websocket.StatusGoingAway
		return int(ce.Code), ce.Reason, clean
	}
	return int(websocket.StatusAbnormalClosure), err.Error(), false
}

// Close closes the connection. No events are delivered afterwards.
// It does not wait for the reader to exit, so it is safe to call from
// inside an event callback.
func (t *Transport) Close() error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil
	}
	t.closed = true
	t.state = transport.StateNotConnected
	conn := t.conn
	cancel := t.cancel
	t.mu.Unlock()

	var err error
	if conn != nil {
		err = conn.Close(websocket.StatusNormalClosure, "client closing")
	}
	if cancel != nil {
		cancel()
	}
	return err
}

// State reports the connection state.
func (t *Transport) State() transport.State {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

// Send writes the payload as a single text message.
func (t *Transport) Send(payload []byte) error {
	t.mu.Lock()
	conn := t.conn
	state := t.state
	ev := t.events
	t.mu.Unlock()

	if state != transport.StateConnected || conn == nil {
		return transport.ErrNotConnected
	}

	ctx, cancel := context.WithTimeout(context.Background(), t.writeTimeout)
	defer cancel()
	if err := conn.Write(ctx, websocket.MessageText, payload); err != nil {
		return fmt.Errorf("write: %w", err)
	}
	if ev.OnSent != nil {
		ev.OnSent(len(payload))
	}
	return nil
}
