package cli

import (
	"fmt"
	"os"
	"slices"
	"strings"

	"github.com/spf13/cobra"

	"github.com/grantcarthew/linkctl/internal/cli/format"
	"github.com/grantcarthew/linkctl/internal/ipc"
)

var eventsCmd = &cobra.Command{
	Use:   "events",
	Short: "Show connection events",
	Long: `Returns buffered link events, oldest first.

Event types:
  state      state transition (detail: "from -> to")
  connected  connection established (detail: endpoint)
  error      attempt failed or connection lost
  closed     WebSocket close frame (code, reason, clean)
  config     configuration reloaded`,
	Args: cobra.NoArgs,
	RunE: runEvents,
}

var eventTypes = []string{ipc.EventState, ipc.EventConnected, ipc.EventError, ipc.EventClosed, ipc.EventConfig}

var (
	eventsType  []string
	eventsHead  int
	eventsTail  int
	eventsRange string
)

func init() {
	eventsCmd.Flags().StringSliceVar(&eventsType, "type", nil, "Filter by event type (repeatable, CSV-supported)")
	addLimitFlags(eventsCmd, &eventsHead, &eventsTail, &eventsRange)
	rootCmd.AddCommand(eventsCmd)
}

func runEvents(cmd *cobra.Command, args []string) error {
	types := make(map[string]bool, len(eventsType))
	for _, t := range eventsType {
		t = strings.ToLower(strings.TrimSpace(t))
		if !slices.Contains(eventTypes, t) {
			return outputError(fmt.Sprintf("invalid event type %q: must be one of %s", t, strings.Join(eventTypes, ", ")))
		}
		types[t] = true
	}

	var data ipc.EventsData
	if err := executeInto(ipc.Request{Cmd: "events"}, &data); err != nil {
		return err
	}

	entries := data.Entries
	if len(types) > 0 {
		entries = filterEntries(entries, func(e ipc.EventEntry) bool {
			return types[e.Type]
		})
	}

	entries, err := applyLimiting(entries, eventsHead, eventsTail, eventsRange)
	if err != nil {
		return outputError(err.Error())
	}

	if JSONOutput {
		return outputSuccess(ipc.EventsData{Entries: entries, Count: len(entries)})
	}
	return format.Events(os.Stdout, entries, outputOptions())
}
