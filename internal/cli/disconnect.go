package cli

import (
	"github.com/spf13/cobra"

	"github.com/grantcarthew/linkctl/internal/ipc"
	"github.com/grantcarthew/linkctl/internal/link"
)

var disconnectCmd = &cobra.Command{
	Use:   "disconnect",
	Short: "Disconnect the link",
	Long:  "Closes the connection and stops automatic reconnection. Disconnecting an idle link is not an error.",
	Args:  cobra.NoArgs,
	RunE:  runDisconnect,
}

func init() {
	rootCmd.AddCommand(disconnectCmd)
}

func runDisconnect(cmd *cobra.Command, args []string) error {
	var info link.Info
	if err := executeInto(ipc.Request{Cmd: "disconnect"}, &info); err != nil {
		return err
	}

	if JSONOutput {
		return outputSuccess(info)
	}
	return outputSuccess(nil)
}
