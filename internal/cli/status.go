package cli

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/grantcarthew/linkctl/internal/cli/format"
	"github.com/grantcarthew/linkctl/internal/ipc"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show daemon and link status",
	Long:  "Returns whether the daemon is running and the link's state, endpoint, reconnect policy and last error.",
	Args:  cobra.NoArgs,
	RunE:  runStatus,
}

func init() {
	rootCmd.AddCommand(statusCmd)
}

func runStatus(cmd *cobra.Command, args []string) error {
	var status ipc.StatusData

	// A stopped daemon is a status, not an error.
	if execFactory.IsDaemonRunning() {
		if err := executeInto(ipc.Request{Cmd: "status"}, &status); err != nil {
			return err
		}
	}

	if JSONOutput {
		return outputSuccess(status)
	}
	return format.Status(os.Stdout, status, outputOptions())
}

// outputOptions returns text formatting options for the current flags.
func outputOptions() format.OutputOptions {
	return format.NewOutputOptions(JSONOutput, NoColor)
}
