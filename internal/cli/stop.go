package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/grantcarthew/linkctl/internal/ipc"
)

var stopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop the daemon",
	Long:  "Sends a shutdown command to the running daemon, which disconnects the link and exits.",
	Args:  cobra.NoArgs,
	RunE:  runStop,
}

func init() {
	rootCmd.AddCommand(stopCmd)
}

func runStop(cmd *cobra.Command, args []string) error {
	if _, err := execute(ipc.Request{Cmd: "shutdown"}); err != nil {
		return err
	}

	if JSONOutput {
		return outputSuccess(map[string]string{
			"message": "daemon stopped",
		})
	}
	fmt.Fprintln(os.Stdout, "daemon stopped")
	return nil
}
