package ipc

import (
	"encoding/json"
	"fmt"

	"github.com/grantcarthew/linkctl/internal/link"
)

// CommandExecutor executes CLI commands with arguments.
// Returns true if the command was recognized, false otherwise.
// Used by the REPL to execute commands via Cobra. Errors the executor has
// already shown to the user are not returned.
type CommandExecutor func(args []string) (recognized bool, err error)

// Request represents a command sent from the CLI to the daemon.
type Request struct {
	Cmd    string          `json:"cmd"`
	Target string          `json:"target,omitempty"`
	Params json.RawMessage `json:"params,omitempty"`
}

// Response represents a response sent from the daemon to the CLI.
type Response struct {
	OK    bool            `json:"ok"`
	Data  json.RawMessage `json:"data,omitempty"`
	Error string          `json:"error,omitempty"`
}

// Buffer names accepted by the "clear" command target.
const (
	BufferMessages = "messages"
	BufferEvents   = "events"
)

// Event types recorded in the event buffer.
const (
	EventState     = "state"
	EventConnected = "connected"
	EventError     = "error"
	EventClosed    = "closed"
	EventConfig    = "config"
)

// StatusData is the response data for the "status" command.
type StatusData struct {
	Running   bool       `json:"running"`
	PID       int        `json:"pid,omitempty"`
	StartedAt int64      `json:"startedAt,omitempty"`
	Link      *link.Info `json:"link,omitempty"`
	Messages  int        `json:"messages"`
	Events    int        `json:"events"`
}

// ConnectParams represents parameters for the "connect" command.
// An empty Endpoint reuses the configured or last used endpoint.
type ConnectParams struct {
	Endpoint string `json:"endpoint,omitempty"`
}

// SendParams represents parameters for the "send" command.
type SendParams struct {
	Text string `json:"text"`
}

// SendData is the response data for the "send" command.
type SendData struct {
	Bytes int `json:"bytes"`
}

// MessageEntry is an inbound text message.
type MessageEntry struct {
	Text      string `json:"text"`
	Size      int    `json:"size"`
	Timestamp int64  `json:"timestamp"`
}

// EventEntry is a connection lifecycle event.
type EventEntry struct {
	Type      string `json:"type"`
	Detail    string `json:"detail,omitempty"`
	Code      int    `json:"code,omitempty"`
	Clean     bool   `json:"clean,omitempty"`
	Timestamp int64  `json:"timestamp"`
}

// MessagesData is the response data for the "messages" command.
type MessagesData struct {
	Entries []MessageEntry `json:"entries"`
	Count   int            `json:"count"`
}

// EventsData is the response data for the "events" command.
type EventsData struct {
	Entries []EventEntry `json:"entries"`
	Count   int          `json:"count"`
}

// SuccessResponse creates a successful response with the given data.
func SuccessResponse(data any) Response {
	var raw json.RawMessage
	if data != nil {
		var err error
		raw, err = json.Marshal(data)
		if err != nil {
			return ErrorResponse(fmt.Sprintf("internal error: failed to marshal response: %v", err))
		}
	}
	return Response{OK: true, Data: raw}
}

// ErrorResponse creates an error response with the given message.
func ErrorResponse(msg string) Response {
	return Response{OK: false, Error: msg}
}
