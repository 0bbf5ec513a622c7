package ipc

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/grantcarthew/linkctl/internal/link"
)

func TestSuccessResponse(t *testing.T) {
	data := StatusData{
		Running: true,
		PID:     1234,
		Link: &link.Info{
			StateString: "connected",
			Endpoint:    "tcp://10.0.0.5:5005",
			Generation:  3,
		},
		Messages: 2,
	}

	resp := SuccessResponse(data)

	if !resp.OK {
		t.Error("expected OK to be true")
	}
	if resp.Error != "" {
		t.Errorf("expected no error, got %q", resp.Error)
	}

	var status StatusData
	if err := json.Unmarshal(resp.Data, &status); err != nil {
		t.Fatalf("failed to unmarshal data: %v", err)
	}
	if !status.Running || status.Link == nil || status.Link.StateString != "connected" || status.Link.Generation != 3 {
		t.Errorf("data mismatch: %+v", status)
	}
}

func TestSuccessResponseNilData(t *testing.T) {
	resp := SuccessResponse(nil)

	if !resp.OK {
		t.Error("expected OK to be true")
	}
	if resp.Data != nil {
		t.Errorf("expected nil data, got %v", resp.Data)
	}
}

func TestSuccessResponseMarshalFailure(t *testing.T) {
	resp := SuccessResponse(map[string]any{"ch": make(chan int)})

	if resp.OK {
		t.Error("expected OK to be false for unmarshalable data")
	}
	if !strings.Contains(resp.Error, "failed to marshal") {
		t.Errorf("unexpected error message: %q", resp.Error)
	}
}

func TestErrorResponse(t *testing.T) {
	resp := ErrorResponse("something went wrong")

	if resp.OK {
		t.Error("expected OK to be false")
	}
	if resp.Error != "something went wrong" {
		t.Errorf("expected error message, got %q", resp.Error)
	}
	if resp.Data != nil {
		t.Error("expected nil data for error response")
	}
}

func TestRequest_JSON(t *testing.T) {
	tests := []struct {
		name string
		req  Request
		want string
	}{
		{
			name: "simple command",
			req:  Request{Cmd: "status"},
			want: `{"cmd":"status"}`,
		},
		{
			name: "command with target",
			req:  Request{Cmd: "clear", Target: BufferMessages},
			want: `{"cmd":"clear","target":"messages"}`,
		},
		{
			name: "command with params",
			req:  Request{Cmd: "send", Params: json.RawMessage(`{"text":"hi"}`)},
			want: `{"cmd":"send","params":{"text":"hi"}}`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			data, err := json.Marshal(tt.req)
			if err != nil {
				t.Fatalf("failed to marshal: %v", err)
			}
			if string(data) != tt.want {
				t.Errorf("Marshal() = %s, want %s", data, tt.want)
			}
		})
	}
}

func TestNewRequestAndDecodeParams(t *testing.T) {
	req, err := NewRequest("send", SendParams{Text: "Hello from UE4!"})
	if err != nil {
		t.Fatalf("NewRequest() error: %v", err)
	}

	var params SendParams
	if err := DecodeParams(req, &params); err != nil {
		t.Fatalf("DecodeParams() error: %v", err)
	}
	if params.Text != "Hello from UE4!" {
		t.Errorf("Text = %q", params.Text)
	}

	bare, err := NewRequest("connect", nil)
	if err != nil {
		t.Fatalf("NewRequest(nil) error: %v", err)
	}
	connect := ConnectParams{Endpoint: "keep"}
	if err := DecodeParams(bare, &connect); err != nil {
		t.Errorf("DecodeParams() without params error: %v", err)
	}
	if connect.Endpoint != "keep" {
		t.Errorf("DecodeParams() without params changed value to %q", connect.Endpoint)
	}

	bad := Request{Cmd: "send", Params: json.RawMessage(`{"text":1}`)}
	if err := DecodeParams(bad, &params); err == nil || !strings.Contains(err.Error(), "send") {
		t.Errorf("DecodeParams() = %v, want error naming the command", err)
	}
}

func TestEventEntry_OmitsEmpty(t *testing.T) {
	data, err := json.Marshal(EventEntry{Type: EventConnected, Timestamp: 42})
	if err != nil {
		t.Fatalf("failed to marshal: %v", err)
	}
	if string(data) != `{"type":"connected","timestamp":42}` {
		t.Errorf("Marshal() = %s", data)
	}
}
