package link

import (
	"bytes"
	"testing"

	"github.com/grantcarthew/linkctl/internal/transport"
)

func TestDecodeText(t *testing.T) {
	tests := []struct {
		name string
		in   []byte
		want string
	}{
		{"plain", []byte("hello"), "hello"},
		{"terminated", []byte("hello\x00"), "hello"},
		{"stops at first NUL", []byte("a\x00b\x00c"), "a"},
		{"leading NUL", []byte("\x00hello"), ""},
		{"utf8", []byte("héllo wörld"), "héllo wörld"},
		{"invalid utf8", []byte{'o', 'k', 0xff, '!'}, "ok�!"},
		{"empty", nil, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := decodeText(tt.in); got != tt.want {
				t.Errorf("decodeText(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestInboundPump_Poll(t *testing.T) {
	pump := inboundPump{maxRead: transport.MaxReadSize}

	t.Run("not connected", func(t *testing.T) {
		p := &mockPoller{pending: []byte("data")}
		if _, _, ok := pump.poll(p); ok {
			t.Error("poll() on a disconnected transport returned a message")
		}
		if len(p.receives) != 0 {
			t.Errorf("Receive called %d times, want 0", len(p.receives))
		}
	})

	t.Run("nothing pending", func(t *testing.T) {
		p := &mockPoller{state: transport.StateConnected}
		if _, _, ok := pump.poll(p); ok {
			t.Error("poll() with nothing pending returned a message")
		}
		if len(p.receives) != 0 {
			t.Errorf("Receive called %d times, want 0", len(p.receives))
		}
	})

	t.Run("capped read", func(t *testing.T) {
		p := &mockPoller{state: transport.StateConnected, pending: bytes.Repeat([]byte("x"), 120000)}

		text, n, ok := pump.poll(p)
		if !ok || n != transport.MaxReadSize || len(text) != transport.MaxReadSize {
			t.Fatalf("first poll() = (len %d, %d, %v), want (%d, %d, true)", len(text), n, ok, transport.MaxReadSize, transport.MaxReadSize)
		}
		text, n, ok = pump.poll(p)
		if !ok || n != 120000-transport.MaxReadSize || len(text) != n {
			t.Fatalf("second poll() = (len %d, %d, %v), want remaining %d bytes", len(text), n, ok, 120000-transport.MaxReadSize)
		}
		if _, _, ok := pump.poll(p); ok {
			t.Error("third poll() returned a message")
		}
	})

	t.Run("decodes to empty", func(t *testing.T) {
		p := &mockPoller{state: transport.StateConnected, pending: []byte{0, 'x'}}
		_, n, ok := pump.poll(p)
		if ok {
			t.Error("poll() delivered an empty message")
		}
		if n != 2 {
			t.Errorf("poll() consumed %d bytes, want 2", n)
		}
	})
}
