package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/grantcarthew/linkctl/internal/ipc"
)

var clearCmd = &cobra.Command{
	Use:   "clear [messages|events]",
	Short: "Clear buffers",
	Long:  "Clears the message and/or event buffers. Specify 'messages' or 'events' to clear only that buffer, or omit to clear both.",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runClear,
}

func init() {
	rootCmd.AddCommand(clearCmd)
}

func runClear(cmd *cobra.Command, args []string) error {
	target := ""
	if len(args) > 0 {
		target = args[0]
		if target != ipc.BufferMessages && target != ipc.BufferEvents {
			return outputError("invalid target: must be 'messages' or 'events'")
		}
	}

	var cleared map[string]int
	if err := executeInto(ipc.Request{Cmd: "clear", Target: target}, &cleared); err != nil {
		return err
	}

	msg := "all buffers cleared"
	if target != "" {
		msg = target + " buffer cleared"
	}

	if JSONOutput {
		return outputSuccess(map[string]any{
			"message": msg,
			"cleared": cleared,
		})
	}
	fmt.Fprintln(os.Stdout, msg)
	return nil
}
