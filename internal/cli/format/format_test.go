package format

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/fatih/color"

	"github.com/grantcarthew/linkctl/internal/ipc"
	"github.com/grantcarthew/linkctl/internal/link"
)

func init() {
	// Disable colors in tests for consistent output
	color.NoColor = true
}

func TestNewOutputOptions(t *testing.T) {
	tests := []struct {
		name             string
		jsonOutput       bool
		noColorFlag      bool
		noColorEnv       string
		expectedUseColor bool
	}{
		{
			name:             "JSON output disables color",
			jsonOutput:       true,
			expectedUseColor: false,
		},
		{
			name:             "no-color flag disables color",
			noColorFlag:      true,
			expectedUseColor: false,
		},
		{
			name:             "NO_COLOR env disables color",
			noColorEnv:       "1",
			expectedUseColor: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv("NO_COLOR", tt.noColorEnv)

			opts := NewOutputOptions(tt.jsonOutput, tt.noColorFlag)
			if opts.UseColor != tt.expectedUseColor {
				t.Errorf("UseColor = %v, want %v", opts.UseColor, tt.expectedUseColor)
			}
		})
	}
}

func TestActionSuccess(t *testing.T) {
	var buf bytes.Buffer
	if err := ActionSuccess(&buf); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if buf.String() != "OK\n" {
		t.Errorf("got %q, want %q", buf.String(), "OK\n")
	}
}

func TestActionError(t *testing.T) {
	var buf bytes.Buffer
	if err := ActionError(&buf, "not connected", OutputOptions{}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if buf.String() != "Error: not connected\n" {
		t.Errorf("got %q", buf.String())
	}
}

func TestStatus(t *testing.T) {
	since := time.Date(2026, 3, 1, 12, 30, 0, 0, time.Local)

	tests := []struct {
		name  string
		data  ipc.StatusData
		want  []string
		avoid []string
	}{
		{
			name: "not running",
			data: ipc.StatusData{Running: false},
			want: []string{"Not running (start with: linkctl start)"},
		},
		{
			name: "idle without link info",
			data: ipc.StatusData{Running: true, PID: 42},
			want: []string{"idle\n", "pid: 42", "buffered: 0 messages, 0 events"},
		},
		{
			name: "connected",
			data: ipc.StatusData{
				Running: true,
				PID:     42,
				Link: &link.Info{
					StateString:    "connected",
					Endpoint:       "tcp://10.0.0.5:5005",
					ConnectedSince: since,
				},
				Messages: 3,
				Events:   4,
			},
			want:  []string{"connected tcp://10.0.0.5:5005\n", "since: 12:30:00", "buffered: 3 messages, 4 events"},
			avoid: []string{"reconnect:", "last error:"},
		},
		{
			name: "failed and retrying",
			data: ipc.StatusData{
				Running: true,
				Link: &link.Info{
					StateString:       "failed",
					Endpoint:          "ws://10.0.0.5:5005/",
					Attempts:          2,
					Reconnecting:      true,
					ReconnectInterval: 5 * time.Second,
					LastError:         "connect failed: connection refused",
				},
			},
			want: []string{"failed ws://10.0.0.5:5005/", "attempts: 2", "reconnect: every 5s", "last error: connect failed: connection refused"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			if err := Status(&buf, tt.data, OutputOptions{}); err != nil {
				t.Fatalf("Status() error: %v", err)
			}
			out := buf.String()
			for _, s := range tt.want {
				if !strings.Contains(out, s) {
					t.Errorf("output missing %q:\n%s", s, out)
				}
			}
			for _, s := range tt.avoid {
				if strings.Contains(out, s) {
					t.Errorf("output unexpectedly contains %q:\n%s", s, out)
				}
			}
		})
	}
}

func TestMessages(t *testing.T) {
	ts := time.Date(2026, 3, 1, 9, 5, 7, 0, time.Local).UnixMilli()
	entries := []ipc.MessageEntry{
		{Text: "Hello from UE4!", Timestamp: ts},
		{Text: "line one\nline two", Timestamp: ts},
	}

	var buf bytes.Buffer
	if err := Messages(&buf, entries, OutputOptions{}); err != nil {
		t.Fatalf("Messages() error: %v", err)
	}

	want := "[09:05:07] Hello from UE4!\n" +
		"[09:05:07] line one\n" +
		"           line two\n"
	if buf.String() != want {
		t.Errorf("got:\n%s\nwant:\n%s", buf.String(), want)
	}
}

func TestEvents(t *testing.T) {
	ts := time.Date(2026, 3, 1, 9, 5, 7, 0, time.Local).UnixMilli()
	entries := []ipc.EventEntry{
		{Type: ipc.EventState, Detail: "idle -> connecting", Timestamp: ts},
		{Type: ipc.EventConnected, Detail: "tcp://10.0.0.5:5005", Timestamp: ts},
		{Type: ipc.EventClosed, Code: 1008, Detail: "policy violation", Clean: true, Timestamp: ts},
		{Type: ipc.EventClosed, Code: 1006, Timestamp: ts},
		{Type: ipc.EventError, Detail: "unexpected close", Timestamp: ts},
	}

	var buf bytes.Buffer
	if err := Events(&buf, entries, OutputOptions{}); err != nil {
		t.Fatalf("Events() error: %v", err)
	}

	want := "[09:05:07] STATE idle -> connecting\n" +
		"[09:05:07] CONNECTED tcp://10.0.0.5:5005\n" +
		"[09:05:07] CLOSED 1008 policy violation (clean)\n" +
		"[09:05:07] CLOSED 1006 (unclean)\n" +
		"[09:05:07] ERROR unexpected close\n"
	if buf.String() != want {
		t.Errorf("got:\n%s\nwant:\n%s", buf.String(), want)
	}
}
