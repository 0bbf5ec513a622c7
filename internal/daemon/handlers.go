package daemon

import (
	"errors"
	"fmt"
	"os"

	"github.com/grantcarthew/linkctl/internal/ipc"
	"github.com/grantcarthew/linkctl/internal/link"
	"github.com/grantcarthew/linkctl/internal/transport"
)

// handleRequest processes an IPC request and returns a response.
func (d *Daemon) handleRequest(req ipc.Request) ipc.Response {
	switch req.Cmd {
	case "status":
		return d.handleStatus()
	case "connect":
		return d.handleConnect(req)
	case "disconnect":
		return d.handleDisconnect()
	case "send":
		return d.handleSend(req)
	case "messages":
		return d.handleMessages()
	case "events":
		return d.handleEvents()
	case "clear":
		return d.handleClear(req.Target)
	case "shutdown":
		return d.handleShutdown()
	default:
		return ipc.ErrorResponse(fmt.Sprintf("unknown command: %s", req.Cmd))
	}
}

func (d *Daemon) handleStatus() ipc.Response {
	info := d.link.Info()
	status := ipc.StatusData{
		Running:  true,
		PID:      os.Getpid(),
		Link:     &info,
		Messages: d.messages.Len(),
		Events:   d.events.Len(),
	}
	if !d.startedAt.IsZero() {
		status.StartedAt = d.startedAt.UnixMilli()
	}
	return ipc.SuccessResponse(status)
}

func (d *Daemon) handleConnect(req ipc.Request) ipc.Response {
	var params ipc.ConnectParams
	if err := ipc.DecodeParams(req, &params); err != nil {
		return ipc.ErrorResponse(err.Error())
	}

	endpoint := params.Endpoint
	if endpoint == "" {
		if ep, ok := d.link.Endpoint(); ok {
			endpoint = ep.String()
		} else {
			endpoint = d.config.Settings.Link.Endpoint
		}
	}
	if endpoint == "" {
		return ipc.ErrorResponse("no endpoint: pass one or set link.endpoint in the config")
	}
	return d.connect(endpoint)
}

// connect parses endpoint and starts an attempt. The attempt's outcome is
// reported later through the event buffer.
func (d *Daemon) connect(endpoint string) ipc.Response {
	ep, err := transport.ParseEndpoint(endpoint)
	if err != nil {
		return ipc.ErrorResponse(err.Error())
	}
	if err := d.link.Connect(ep); err != nil {
		if errors.Is(err, link.ErrBusy) {
			return ipc.ErrorResponse(fmt.Sprintf("%v (state: %s)", err, d.link.State()))
		}
		return ipc.ErrorResponse(err.Error())
	}
	return ipc.SuccessResponse(d.link.Info())
}

func (d *Daemon) handleDisconnect() ipc.Response {
	d.link.Disconnect()
	return ipc.SuccessResponse(d.link.Info())
}

func (d *Daemon) handleSend(req ipc.Request) ipc.Response {
	var params ipc.SendParams
	if err := ipc.DecodeParams(req, &params); err != nil {
		return ipc.ErrorResponse(err.Error())
	}
	if params.Text == "" {
		return ipc.ErrorResponse("text is required")
	}
	if err := d.link.SendText(params.Text); err != nil {
		return ipc.ErrorResponse(err.Error())
	}
	return ipc.SuccessResponse(ipc.SendData{Bytes: len(params.Text)})
}

func (d *Daemon) handleMessages() ipc.Response {
	entries := d.messages.All()
	if entries == nil {
		entries = []ipc.MessageEntry{}
	}
	return ipc.SuccessResponse(ipc.MessagesData{Entries: entries, Count: len(entries)})
}

func (d *Daemon) handleEvents() ipc.Response {
	entries := d.events.All()
	if entries == nil {
		entries = []ipc.EventEntry{}
	}
	return ipc.SuccessResponse(ipc.EventsData{Entries: entries, Count: len(entries)})
}

func (d *Daemon) handleClear(target string) ipc.Response {
	cleared := map[string]int{}
	switch target {
	case "":
		cleared[ipc.BufferMessages] = d.messages.Clear()
		cleared[ipc.BufferEvents] = d.events.Clear()
	case ipc.BufferMessages:
		cleared[ipc.BufferMessages] = d.messages.Clear()
	case ipc.BufferEvents:
		cleared[ipc.BufferEvents] = d.events.Clear()
	default:
		return ipc.ErrorResponse(fmt.Sprintf("invalid target %q: must be %q or %q", target, ipc.BufferMessages, ipc.BufferEvents))
	}
	return ipc.SuccessResponse(cleared)
}

// handleShutdown signals the daemon to shut down.
func (d *Daemon) handleShutdown() ipc.Response {
	// Signal in a goroutine so the response is written first.
	go d.requestShutdown()
	return ipc.SuccessResponse(map[string]string{
		"message": "shutting down",
	})
}
