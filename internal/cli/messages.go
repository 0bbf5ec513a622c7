package cli

import (
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/grantcarthew/linkctl/internal/cli/format"
	"github.com/grantcarthew/linkctl/internal/ipc"
)

var messagesCmd = &cobra.Command{
	Use:   "messages",
	Short: "Show received messages",
	Long:  "Returns buffered messages received from the peer, oldest first. The buffer keeps the most recent daemon.message_buffer messages.",
	Args:  cobra.NoArgs,
	RunE:  runMessages,
}

var (
	messagesFind  string
	messagesHead  int
	messagesTail  int
	messagesRange string
)

func init() {
	messagesCmd.Flags().StringVar(&messagesFind, "find", "", "Only messages containing this text (case-insensitive)")
	addLimitFlags(messagesCmd, &messagesHead, &messagesTail, &messagesRange)
	rootCmd.AddCommand(messagesCmd)
}

func runMessages(cmd *cobra.Command, args []string) error {
	var data ipc.MessagesData
	if err := executeInto(ipc.Request{Cmd: "messages"}, &data); err != nil {
		return err
	}

	entries := data.Entries
	if messagesFind != "" {
		needle := strings.ToLower(messagesFind)
		entries = filterEntries(entries, func(e ipc.MessageEntry) bool {
			return strings.Contains(strings.ToLower(e.Text), needle)
		})
	}

	entries, err := applyLimiting(entries, messagesHead, messagesTail, messagesRange)
	if err != nil {
		return outputError(err.Error())
	}

	if JSONOutput {
		return outputSuccess(ipc.MessagesData{Entries: entries, Count: len(entries)})
	}
	return format.Messages(os.Stdout, entries, outputOptions())
}
