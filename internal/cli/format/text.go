package format

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/fatih/color"
	"golang.org/x/term"

	"github.com/grantcarthew/linkctl/internal/ipc"
)

func colorFprint(w io.Writer, c color.Attribute, s string) {
	color.New(c).Fprint(w, s)
}

func colorFprintf(w io.Writer, c color.Attribute, format string, args ...any) {
	color.New(c).Fprintf(w, format, args...)
}

// OutputOptions controls text formatting behavior.
type OutputOptions struct {
	UseColor bool // Enable ANSI color codes
}

// NewOutputOptions returns output options based on flags and environment.
// Priority: jsonOutput > noColorFlag > NO_COLOR env > TTY detection.
func NewOutputOptions(jsonOutput bool, noColorFlag bool) OutputOptions {
	if jsonOutput || noColorFlag {
		return OutputOptions{UseColor: false}
	}
	if os.Getenv("NO_COLOR") != "" {
		return OutputOptions{UseColor: false}
	}
	return OutputOptions{
		UseColor: term.IsTerminal(int(os.Stdout.Fd())),
	}
}

// ActionSuccess outputs "OK" for successful action commands.
func ActionSuccess(w io.Writer) error {
	_, err := fmt.Fprintln(w, "OK")
	return err
}

// ActionError outputs "Error: <message>" for failed action commands.
func ActionError(w io.Writer, msg string, opts OutputOptions) error {
	if opts.UseColor {
		colorFprint(w, color.FgRed, "Error:")
		fmt.Fprintf(w, " %s\n", msg)
	} else {
		fmt.Fprintf(w, "Error: %s\n", msg)
	}
	return nil
}

// stateColor picks the color for a link state name.
func stateColor(state string) color.Attribute {
	switch state {
	case "connected":
		return color.FgGreen
	case "connecting", "disconnecting":
		return color.FgYellow
	case "failed":
		return color.FgRed
	default:
		return color.Faint
	}
}

func clock(ms int64) string {
	return time.UnixMilli(ms).Local().Format("15:04:05")
}

// Status outputs daemon and link status in text format.
func Status(w io.Writer, data ipc.StatusData, opts OutputOptions) error {
	if !data.Running {
		if opts.UseColor {
			colorFprint(w, color.FgYellow, "Not running (start with: linkctl start)\n")
		} else {
			fmt.Fprintln(w, "Not running (start with: linkctl start)")
		}
		return nil
	}

	info := data.Link
	state := "idle"
	if info != nil && info.StateString != "" {
		state = info.StateString
	}

	// First line: state and endpoint.
	if opts.UseColor {
		colorFprint(w, stateColor(state), state)
	} else {
		fmt.Fprint(w, state)
	}
	if info != nil && info.Endpoint != "" {
		fmt.Fprintf(w, " %s", info.Endpoint)
	}
	fmt.Fprintln(w)

	if data.PID > 0 {
		fmt.Fprintf(w, "pid: %d\n", data.PID)
	}
	if info != nil {
		if !info.ConnectedSince.IsZero() {
			fmt.Fprintf(w, "since: %s\n", info.ConnectedSince.Local().Format("15:04:05"))
		}
		if info.Attempts > 0 {
			fmt.Fprintf(w, "attempts: %d\n", info.Attempts)
		}
		if info.Reconnecting {
			fmt.Fprintf(w, "reconnect: every %s\n", info.ReconnectInterval)
		}
		if info.LastError != "" {
			if opts.UseColor {
				fmt.Fprint(w, "last error: ")
				colorFprintf(w, color.FgRed, "%s\n", info.LastError)
			} else {
				fmt.Fprintf(w, "last error: %s\n", info.LastError)
			}
		}
	}
	fmt.Fprintf(w, "buffered: %d messages, %d events\n", data.Messages, data.Events)
	return nil
}

// Messages outputs received messages in text format.
// Format: [HH:MM:SS] text
func Messages(w io.Writer, entries []ipc.MessageEntry, opts OutputOptions) error {
	for _, e := range entries {
		if opts.UseColor {
			fmt.Fprint(w, "[")
			colorFprint(w, color.Faint, clock(e.Timestamp))
			fmt.Fprint(w, "] ")
		} else {
			fmt.Fprintf(w, "[%s] ", clock(e.Timestamp))
		}
		// Continuation lines line up under the text.
		fmt.Fprintln(w, strings.ReplaceAll(e.Text, "\n", "\n           "))
	}
	return nil
}

// eventColor picks the color for an event type.
func eventColor(typ string) color.Attribute {
	switch typ {
	case ipc.EventConnected:
		return color.FgGreen
	case ipc.EventError:
		return color.FgRed
	case ipc.EventClosed:
		return color.FgYellow
	case ipc.EventState:
		return color.FgCyan
	default:
		return color.Faint
	}
}

// Events outputs connection events in text format.
// Format: [HH:MM:SS] TYPE detail
func Events(w io.Writer, entries []ipc.EventEntry, opts OutputOptions) error {
	for _, e := range entries {
		typ := strings.ToUpper(e.Type)
		if opts.UseColor {
			fmt.Fprint(w, "[")
			colorFprint(w, color.Faint, clock(e.Timestamp))
			fmt.Fprint(w, "] ")
			colorFprint(w, eventColor(e.Type), typ)
		} else {
			fmt.Fprintf(w, "[%s] %s", clock(e.Timestamp), typ)
		}

		if e.Type == ipc.EventClosed {
			clean := "unclean"
			if e.Clean {
				clean = "clean"
			}
			fmt.Fprintf(w, " %d", e.Code)
			if e.Detail != "" {
				fmt.Fprintf(w, " %s", e.Detail)
			}
			fmt.Fprintf(w, " (%s)\n", clean)
			continue
		}
		if e.Detail != "" {
			fmt.Fprintf(w, " %s", e.Detail)
		}
		fmt.Fprintln(w)
	}
	return nil
}
