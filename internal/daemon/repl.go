package daemon

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/peterh/liner"
	"golang.org/x/term"

	"github.com/grantcarthew/linkctl/internal/ipc"
	"github.com/grantcarthew/linkctl/internal/link"
)

// StatusProvider returns the current link information for the prompt.
type StatusProvider func() link.Info

// REPL provides an interactive command interface for the daemon.
type REPL struct {
	handler    ipc.Handler
	cmdExec    ipc.CommandExecutor
	statusProv StatusProvider
	liner      *liner.State
	history    []string
	shutdown   func()
	out        io.Writer
}

// NewREPL creates a new REPL with the given handler, command executor, and shutdown callback.
// The cmdExec function executes CLI commands with full flag support.
// If cmdExec is nil, REPL falls back to basic IPC-only command execution.
func NewREPL(handler ipc.Handler, cmdExec ipc.CommandExecutor, shutdown func()) *REPL {
	return &REPL{
		handler:  handler,
		cmdExec:  cmdExec,
		shutdown: shutdown,
		out:      os.Stdout,
	}
}

// SetStatusProvider sets the status provider for dynamic prompt generation.
func (r *REPL) SetStatusProvider(sp StatusProvider) {
	r.statusProv = sp
}

// IsStdinTTY returns true if stdin is a terminal.
func IsStdinTTY() bool {
	return term.IsTerminal(int(os.Stdin.Fd()))
}

// Run starts the REPL loop. Blocks until exit command or EOF.
func (r *REPL) Run() error {
	r.liner = liner.NewLiner()
	defer r.liner.Close()

	r.liner.SetCtrlCAborts(true)
	r.liner.SetCompleter(completeCommand)

	for {
		line, err := r.liner.Prompt(r.prompt())
		if err != nil {
			if err == liner.ErrPromptAborted || err == io.EOF {
				return nil
			}
			return err
		}

		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}

		r.liner.AppendHistory(line)
		r.history = append(r.history, line)

		if r.handleSpecialCommand(line) {
			continue
		}

		r.executeCommand(line)
	}
}

// prompt shows the link state and endpoint, e.g. "linkctl [connected tcp://10.0.0.5:5005]> ".
func (r *REPL) prompt() string {
	if r.statusProv == nil {
		return "linkctl> "
	}

	info := r.statusProv()
	if info.Endpoint == "" {
		return fmt.Sprintf("linkctl [%s]> ", info.StateString)
	}
	return fmt.Sprintf("linkctl [%s %s]> ", info.StateString, info.Endpoint)
}

// replCommands lists REPL-specific commands for abbreviation matching.
var replCommands = []string{"exit", "quit", "help", "history", "stop"}

// linkCommands lists daemon commands for abbreviation matching.
var linkCommands = []string{"status", "connect", "disconnect", "send", "messages", "events", "clear"}

// expandAbbreviation expands a command prefix to a full command name.
// Returns the expanded command and true if exactly one match found.
// Returns empty string and false if no matches or ambiguous.
func expandAbbreviation(prefix string, commands []string) (string, bool) {
	prefix = strings.ToLower(prefix)
	var matches []string
	for _, cmd := range commands {
		if strings.HasPrefix(cmd, prefix) {
			matches = append(matches, cmd)
		}
	}
	if len(matches) == 1 {
		return matches[0], true
	}
	return "", false
}

// completeCommand completes the first word against every known command.
func completeCommand(line string) []string {
	if strings.Contains(line, " ") {
		return nil
	}
	var out []string
	for _, cmds := range [][]string{linkCommands, replCommands} {
		for _, cmd := range cmds {
			if strings.HasPrefix(cmd, strings.ToLower(line)) {
				out = append(out, cmd)
			}
		}
	}
	return out
}

// handleSpecialCommand handles REPL-specific commands.
// Returns true if the command was handled, false otherwise.
func (r *REPL) handleSpecialCommand(line string) bool {
	parts := strings.Fields(line)
	if len(parts) == 0 {
		return false
	}
	cmd := strings.ToLower(parts[0])

	// A prefix shared with a daemon command ("st" for status and stop) is
	// left for executeCommand rather than shutting the daemon down.
	if expanded, ok := expandAbbreviation(cmd, replCommands); ok && !prefixesAny(cmd, linkCommands) {
		cmd = expanded
	}

	switch cmd {
	case "exit", "quit", "stop":
		r.shutdown()
		return true

	case "help", "?":
		r.printHelp()
		return true

	case "history":
		r.printHistory()
		return true
	}

	return false
}

func prefixesAny(prefix string, commands []string) bool {
	for _, cmd := range commands {
		if strings.HasPrefix(cmd, prefix) {
			return true
		}
	}
	return false
}

// executeCommand parses and executes a linkctl command.
func (r *REPL) executeCommand(line string) {
	args := strings.Fields(line)
	if len(args) == 0 {
		return
	}

	if expanded, ok := expandAbbreviation(args[0], linkCommands); ok {
		args[0] = expanded
	}

	// The command executor gives full Cobra flag support.
	if r.cmdExec != nil {
		recognized, err := r.cmdExec(args)
		if !recognized {
			r.outputError(fmt.Sprintf("unknown command: %s", args[0]))
			return
		}
		// The executor returns only errors it has not already printed.
		if err != nil {
			r.outputError(err.Error())
		}
		return
	}

	r.executeBasic(args)
}

// executeBasic provides basic command execution without Cobra flag support.
func (r *REPL) executeBasic(args []string) {
	cmd := args[0]
	req, err := r.parseBasicCommand(cmd, args[1:])
	if err != nil {
		r.outputError(err.Error())
		return
	}
	if req == nil {
		r.outputError(fmt.Sprintf("unknown command: %s", cmd))
		return
	}

	r.outputJSON(r.handler(*req))
}

// parseBasicCommand converts command and args to an IPC request (basic mode only).
// It returns nil for an unknown command.
func (r *REPL) parseBasicCommand(cmd string, args []string) (*ipc.Request, error) {
	switch cmd {
	case "status", "disconnect", "messages", "events":
		return &ipc.Request{Cmd: cmd}, nil
	case "connect":
		var params ipc.ConnectParams
		if len(args) > 0 {
			params.Endpoint = args[0]
		}
		req, err := ipc.NewRequest(cmd, params)
		return &req, err
	case "send":
		if len(args) == 0 {
			return nil, fmt.Errorf("usage: send <text>")
		}
		req, err := ipc.NewRequest(cmd, ipc.SendParams{Text: strings.Join(args, " ")})
		return &req, err
	case "clear":
		target := ""
		if len(args) > 0 {
			target = args[0]
		}
		return &ipc.Request{Cmd: cmd, Target: target}, nil
	default:
		return nil, nil
	}
}

// outputJSON writes data as JSON, pretty-printing if stdout is a TTY.
func (r *REPL) outputJSON(data any) {
	enc := json.NewEncoder(r.out)
	if term.IsTerminal(int(os.Stdout.Fd())) {
		enc.SetIndent("", "  ")
	}
	_ = enc.Encode(data)
}

// outputError writes an error response as JSON.
func (r *REPL) outputError(msg string) {
	r.outputJSON(ipc.ErrorResponse(msg))
}

// printHelp displays available commands.
func (r *REPL) printHelp() {
	help := `
Commands (unique prefixes accepted: st=status, co=connect, d=disconnect, se=send, m=messages, ev=events, cl=clear):
  status               Show daemon and link status
  connect [endpoint]   Connect (host:port, tcp://host:port, ws://host:port/path)
  disconnect           Close the link and stop reconnecting
  send <text>          Send text to the peer
  messages [flags]     Show received messages
    --head <n>           Return first N entries
    --tail <n>           Return last N entries
  events [flags]       Show connection events
    --type <type>        Filter by event type (repeatable)
  clear [target]       Clear buffers (messages, events, or all)

REPL (unique prefixes accepted: he=help, hi=history, ex=exit, q=quit, sto=stop):
  help, ?     Show this help
  history     Show command history
  exit, quit  Stop daemon and exit
`
	fmt.Fprintln(r.out, help)
}

// printHistory displays command history.
func (r *REPL) printHistory() {
	for i, cmd := range r.history {
		fmt.Fprintf(r.out, "  %d  %s\n", i+1, cmd)
	}
}
