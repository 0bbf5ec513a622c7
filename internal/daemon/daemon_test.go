package daemon

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/grantcarthew/linkctl/internal/config"
	"github.com/grantcarthew/linkctl/internal/echo"
	"github.com/grantcarthew/linkctl/internal/ipc"
	"github.com/grantcarthew/linkctl/internal/link"
)

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

// startPeer starts a TCP echo peer.
func startPeer(t *testing.T) *echo.Server {
	t.Helper()
	s := echo.New(echo.Config{Addr: "127.0.0.1:0", Protocol: echo.ProtocolTCP})
	if err := s.Start(); err != nil {
		t.Fatalf("echo Start() error: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func testSettings() config.Config {
	cfg := config.Default()
	cfg.Link.ReconnectInterval = 50 * time.Millisecond
	cfg.Link.LivenessInterval = 20 * time.Millisecond
	cfg.Link.ConnectTimeout = time.Second
	cfg.Daemon.MessageBuffer = 10
	cfg.Daemon.EventBuffer = 100
	cfg.Daemon.InteractiveREPL = false
	cfg.Daemon.WatchConfig = false
	return cfg
}

func newTestDaemon(t *testing.T, settings config.Config) *Daemon {
	t.Helper()
	dir := t.TempDir()
	d := New(Config{
		Settings:   settings,
		SocketPath: filepath.Join(dir, "linkctl.sock"),
		PIDPath:    filepath.Join(dir, "linkctl.pid"),
	})
	t.Cleanup(d.link.Disconnect)
	return d
}

func request(t *testing.T, cmd string, params any) ipc.Request {
	t.Helper()
	req, err := ipc.NewRequest(cmd, params)
	if err != nil {
		t.Fatal(err)
	}
	return req
}

func decode[T any](t *testing.T, resp ipc.Response) T {
	t.Helper()
	if !resp.OK {
		t.Fatalf("response error: %s", resp.Error)
	}
	var v T
	if err := json.Unmarshal(resp.Data, &v); err != nil {
		t.Fatalf("failed to decode %s: %v", resp.Data, err)
	}
	return v
}

func messageTexts(d *Daemon) []string {
	var out []string
	for _, m := range d.messages.All() {
		out = append(out, m.Text)
	}
	return out
}

func hasEvent(d *Daemon, typ, detail string) bool {
	for _, e := range d.events.All() {
		if e.Type == typ && (detail == "" || e.Detail == detail) {
			return true
		}
	}
	return false
}

func TestDaemon_UnknownCommand(t *testing.T) {
	d := newTestDaemon(t, testSettings())

	resp := d.handleRequest(ipc.Request{Cmd: "navigate"})
	if resp.OK || resp.Error != "unknown command: navigate" {
		t.Errorf("response = %+v", resp)
	}
}

func TestDaemon_ConnectSendReceive(t *testing.T) {
	peer := startPeer(t)
	settings := testSettings()
	settings.Link.Greeting = "Hello from UE4!"
	d := newTestDaemon(t, settings)

	info := decode[link.Info](t, d.handleRequest(request(t, "connect", ipc.ConnectParams{Endpoint: peer.Addr()})))
	if info.Endpoint != "tcp://"+peer.Addr() {
		t.Errorf("endpoint = %q", info.Endpoint)
	}

	waitFor(t, "connected", func() bool { return d.link.State() == link.StateConnected })
	waitFor(t, "greeting echo", func() bool { return len(d.messages.All()) == 1 })

	sent := decode[ipc.SendData](t, d.handleRequest(request(t, "send", ipc.SendParams{Text: "ping"})))
	if sent.Bytes != 4 {
		t.Errorf("sent bytes = %d, want 4", sent.Bytes)
	}
	waitFor(t, "ping echo", func() bool { return len(d.messages.All()) == 2 })

	if got := strings.Join(messageTexts(d), "|"); got != "Hello from UE4!|ping" {
		t.Errorf("messages = %q", got)
	}
	msgs := d.messages.All()
	last := msgs[len(msgs)-1]
	if last.Size != 4 || last.Timestamp == 0 {
		t.Errorf("last message = %+v", last)
	}

	msgsData := decode[ipc.MessagesData](t, d.handleRequest(ipc.Request{Cmd: "messages"}))
	if msgsData.Count != 2 || len(msgsData.Entries) != 2 {
		t.Errorf("messages data = %+v", msgsData)
	}

	if !hasEvent(d, ipc.EventState, "idle -> connecting") || !hasEvent(d, ipc.EventState, "connecting -> connected") {
		t.Errorf("state events missing: %+v", d.events.All())
	}
	if !hasEvent(d, ipc.EventConnected, "tcp://"+peer.Addr()) {
		t.Errorf("connected event missing: %+v", d.events.All())
	}

	status := decode[ipc.StatusData](t, d.handleRequest(ipc.Request{Cmd: "status"}))
	if !status.Running || status.Link == nil || status.Link.StateString != "connected" || status.Messages != 2 {
		t.Errorf("status = %+v", status)
	}
	if status.PID != os.Getpid() {
		t.Errorf("status PID = %d, want %d", status.PID, os.Getpid())
	}

	resp := d.handleRequest(request(t, "connect", ipc.ConnectParams{Endpoint: peer.Addr()}))
	if resp.OK || !strings.Contains(resp.Error, "already connected") {
		t.Errorf("second connect = %+v, want busy error", resp)
	}

	info = decode[link.Info](t, d.handleRequest(ipc.Request{Cmd: "disconnect"}))
	if info.StateString != "idle" || info.Reconnecting {
		t.Errorf("after disconnect info = %+v", info)
	}
	if !hasEvent(d, ipc.EventState, "disconnecting -> idle") {
		t.Errorf("disconnect events missing: %+v", d.events.All())
	}
}

func TestDaemon_ConnectReusesEndpoint(t *testing.T) {
	peer := startPeer(t)
	settings := testSettings()
	settings.Link.Endpoint = peer.Addr()
	d := newTestDaemon(t, settings)

	// Falls back to the configured endpoint.
	decode[link.Info](t, d.handleRequest(ipc.Request{Cmd: "connect"}))
	waitFor(t, "connected", func() bool { return d.link.State() == link.StateConnected })
	d.handleRequest(ipc.Request{Cmd: "disconnect"})

	// Reuses the last endpoint.
	d.config.Settings.Link.Endpoint = ""
	info := decode[link.Info](t, d.handleRequest(ipc.Request{Cmd: "connect"}))
	if info.Endpoint != "tcp://"+peer.Addr() {
		t.Errorf("endpoint = %q", info.Endpoint)
	}
	waitFor(t, "reconnected", func() bool { return d.link.State() == link.StateConnected })
}

func TestDaemon_PeerDropReconnects(t *testing.T) {
	peer := startPeer(t)
	d := newTestDaemon(t, testSettings())

	d.handleRequest(request(t, "connect", ipc.ConnectParams{Endpoint: peer.Addr()}))
	waitFor(t, "peer", func() bool { return len(peer.Peers()) == 1 })
	first := peer.Peers()[0].ID

	peer.Kick(first)

	waitFor(t, "error event", func() bool { return hasEvent(d, ipc.EventError, "") })
	waitFor(t, "reconnect", func() bool {
		peers := peer.Peers()
		return len(peers) == 1 && peers[0].ID != first && d.link.State() == link.StateConnected
	})
}

func TestDaemon_RequestErrors(t *testing.T) {
	d := newTestDaemon(t, testSettings())

	tests := []struct {
		name string
		req  ipc.Request
		want string
	}{
		{"connect without endpoint", ipc.Request{Cmd: "connect"}, "no endpoint"},
		{"connect invalid endpoint", request(t, "connect", ipc.ConnectParams{Endpoint: "bad host!"}), "invalid endpoint"},
		{"connect wss", request(t, "connect", ipc.ConnectParams{Endpoint: "wss://10.0.0.5:5005"}), "wss"},
		{"connect bad params", ipc.Request{Cmd: "connect", Params: json.RawMessage(`[]`)}, "invalid connect parameters"},
		{"send when idle", request(t, "send", ipc.SendParams{Text: "hi"}), "not connected"},
		{"send empty", request(t, "send", ipc.SendParams{}), "text is required"},
		{"clear unknown target", ipc.Request{Cmd: "clear", Target: "console"}, "invalid target"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := d.handleRequest(tt.req)
			if resp.OK {
				t.Fatal("expected error response")
			}
			if !strings.Contains(resp.Error, tt.want) {
				t.Errorf("error = %q, want it to contain %q", resp.Error, tt.want)
			}
		})
	}

	if d.link.State() != link.StateIdle {
		t.Errorf("state = %s, want idle", d.link.State())
	}
}

func TestDaemon_Clear(t *testing.T) {
	tests := []struct {
		target       string
		wantMessages int
		wantEvents   int
	}{
		{"", 0, 0},
		{ipc.BufferMessages, 0, 1},
		{ipc.BufferEvents, 2, 0},
	}

	for _, tt := range tests {
		t.Run("target="+tt.target, func(t *testing.T) {
			d := newTestDaemon(t, testSettings())
			d.onMessage("a")
			d.onMessage("b")
			d.onConnectionError(os.ErrDeadlineExceeded)

			resp := d.handleRequest(ipc.Request{Cmd: "clear", Target: tt.target})
			if !resp.OK {
				t.Fatalf("clear error: %s", resp.Error)
			}
			if d.messages.Len() != tt.wantMessages || d.events.Len() != tt.wantEvents {
				t.Errorf("after clear: messages=%d events=%d, want %d/%d",
					d.messages.Len(), d.events.Len(), tt.wantMessages, tt.wantEvents)
			}
		})
	}
}

func TestDaemon_EventsAndBuffers(t *testing.T) {
	d := newTestDaemon(t, testSettings())

	d.onClosed(1008, "policy violation", true)
	d.onStateChange(link.StateConnected, link.StateFailed)

	events := decode[ipc.EventsData](t, d.handleRequest(ipc.Request{Cmd: "events"}))
	if events.Count != 2 {
		t.Fatalf("events count = %d, want 2", events.Count)
	}
	closed := events.Entries[0]
	if closed.Type != ipc.EventClosed || closed.Code != 1008 || !closed.Clean || closed.Detail != "policy violation" {
		t.Errorf("closed event = %+v", closed)
	}
	if events.Entries[1].Detail != "connected -> failed" {
		t.Errorf("state event = %+v", events.Entries[1])
	}

	// The message buffer keeps the newest entries.
	for i := range 12 {
		d.onMessage(string(rune('a' + i)))
	}
	msgs := decode[ipc.MessagesData](t, d.handleRequest(ipc.Request{Cmd: "messages"}))
	if msgs.Count != 10 || msgs.Entries[0].Text != "c" {
		t.Errorf("messages = %+v", msgs)
	}
	if d.messages.Dropped() != 2 {
		t.Errorf("dropped = %d, want 2", d.messages.Dropped())
	}

	empty := newTestDaemon(t, testSettings())
	resp := empty.handleRequest(ipc.Request{Cmd: "messages"})
	if string(resp.Data) != `{"entries":[],"count":0}` {
		t.Errorf("empty messages = %s", resp.Data)
	}
}

func TestDaemon_applyConfig(t *testing.T) {
	d := newTestDaemon(t, testSettings())

	cfg := testSettings()
	d.applyConfig(cfg)
	if d.events.Len() != 0 {
		t.Errorf("unchanged interval recorded %d events", d.events.Len())
	}

	cfg.Link.ReconnectInterval = 2 * time.Second
	d.applyConfig(cfg)
	if got := d.link.Policy().Interval; got != 2*time.Second {
		t.Errorf("interval = %v, want 2s", got)
	}
	if !hasEvent(d, ipc.EventConfig, "reconnect interval 2s") {
		t.Errorf("config event missing: %+v", d.events.All())
	}
}

func TestDaemon_Run(t *testing.T) {
	peer := startPeer(t)
	settings := testSettings()
	settings.Link.Endpoint = peer.Addr()
	settings.Metrics.Addr = "127.0.0.1:0"
	d := newTestDaemon(t, settings)

	errCh := make(chan error, 1)
	go func() { errCh <- d.Run(context.Background()) }()

	select {
	case <-d.Ready():
	case err := <-errCh:
		t.Fatalf("Run() exited early: %v", err)
	case <-time.After(3 * time.Second):
		t.Fatal("daemon never became ready")
	}

	pid, err := os.ReadFile(d.config.PIDPath)
	if err != nil || len(pid) == 0 {
		t.Errorf("PID file = %q, %v", pid, err)
	}

	client, err := ipc.DialPath(d.config.SocketPath)
	if err != nil {
		t.Fatalf("DialPath() error: %v", err)
	}
	defer client.Close()

	waitFor(t, "initial connect", func() bool {
		resp, err := client.Send(ipc.Request{Cmd: "status"})
		if err != nil || !resp.OK {
			return false
		}
		var status ipc.StatusData
		_ = json.Unmarshal(resp.Data, &status)
		return status.Link != nil && status.Link.StateString == "connected" && status.StartedAt > 0
	})

	httpResp, err := http.Get("http://" + d.MetricsAddr() + "/metrics")
	if err != nil {
		t.Fatalf("GET /metrics error: %v", err)
	}
	body, _ := io.ReadAll(httpResp.Body)
	httpResp.Body.Close()
	for _, name := range []string{"linkctl_connect_attempts_total 1", "linkctl_state 2", "linkctl_daemon_buffered_messages"} {
		if !strings.Contains(string(body), name) {
			t.Errorf("metrics missing %q", name)
		}
	}

	resp, err := client.Send(ipc.Request{Cmd: "shutdown"})
	if err != nil || !resp.OK {
		t.Fatalf("shutdown = %+v, %v", resp, err)
	}

	select {
	case err := <-errCh:
		if err != nil {
			t.Errorf("Run() error: %v", err)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("Run() did not return after shutdown")
	}

	if d.link.State() != link.StateIdle {
		t.Errorf("state after shutdown = %s, want idle", d.link.State())
	}
	if _, err := os.Stat(d.config.SocketPath); !os.IsNotExist(err) {
		t.Error("socket should be removed after shutdown")
	}
	if _, err := os.Stat(d.config.PIDPath); !os.IsNotExist(err) {
		t.Error("PID file should be removed after shutdown")
	}
	waitFor(t, "peer gone", func() bool { return len(peer.Peers()) == 0 })
}

func TestDaemon_RunContextCancel(t *testing.T) {
	d := newTestDaemon(t, testSettings())

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- d.Run(ctx) }()
	<-d.Ready()

	cancel()
	select {
	case err := <-errCh:
		if err != context.Canceled {
			t.Errorf("Run() = %v, want context.Canceled", err)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("Run() did not return after cancel")
	}
}

func TestNew_Defaults(t *testing.T) {
	cfg := Config{Settings: testSettings()}
	cfg.Settings.Daemon.Socket = filepath.Join(t.TempDir(), "custom.sock")
	d := New(cfg)

	if d.config.SocketPath != cfg.Settings.Daemon.Socket {
		t.Errorf("socket = %q, want configured socket", d.config.SocketPath)
	}
	if d.config.PIDPath != filepath.Join(filepath.Dir(cfg.Settings.Daemon.Socket), "linkctl.pid") {
		t.Errorf("pid path = %q", d.config.PIDPath)
	}
	if d.messages.Cap() != 10 || d.events.Cap() != 100 {
		t.Errorf("buffer caps = %d/%d", d.messages.Cap(), d.events.Cap())
	}
}
