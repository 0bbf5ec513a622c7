package cli

import (
	"os"
	"time"

	"github.com/rs/zerolog"

	"github.com/grantcarthew/linkctl/internal/ipc"
)

// debugLog returns the CLI debug logger, or a disabled one without --debug.
func debugLog() zerolog.Logger {
	if !Debug {
		return zerolog.Nop()
	}
	out := zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: "15:04:05.000"}
	return zerolog.New(out).With().Timestamp().Str("component", "cli").Logger()
}

// debugRequest logs an outgoing IPC request.
func debugRequest(req ipc.Request) {
	l := debugLog()
	e := l.Debug().Str("cmd", req.Cmd)
	if req.Target != "" {
		e = e.Str("target", req.Target)
	}
	if len(req.Params) > 0 {
		e = e.RawJSON("params", req.Params)
	}
	e.Msg("request")
}

// debugResponse logs the outcome of an IPC request.
func debugResponse(cmd string, ok bool, size int, took time.Duration) {
	l := debugLog()
	l.Debug().
		Str("cmd", cmd).
		Bool("ok", ok).
		Int("bytes", size).
		Dur("took", took).
		Msg("response")
}
