package cli

import (
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/grantcarthew/linkctl/internal/ipc"
)

var sendCmd = &cobra.Command{
	Use:   "send <text>...",
	Short: "Send text to the peer",
	Long: `Sends text over the link. Multiple arguments are joined with spaces.
Use - to read the text from stdin.

Sending while not connected is an error; nothing is queued.`,
	Args: cobra.MinimumNArgs(1),
	RunE: runSend,
}

// sendStdin is read when the only argument is "-".
var sendStdin io.Reader = os.Stdin

func init() {
	rootCmd.AddCommand(sendCmd)
}

func runSend(cmd *cobra.Command, args []string) error {
	text := strings.Join(args, " ")
	if len(args) == 1 && args[0] == "-" {
		b, err := io.ReadAll(sendStdin)
		if err != nil {
			return outputError(err.Error())
		}
		text = strings.TrimRight(string(b), "\r\n")
	}
	if text == "" {
		return outputError("text is required")
	}

	req, err := ipc.NewRequest("send", ipc.SendParams{Text: text})
	if err != nil {
		return outputError(err.Error())
	}

	var data ipc.SendData
	if err := executeInto(req, &data); err != nil {
		return err
	}

	if JSONOutput {
		return outputSuccess(data)
	}
	return outputSuccess(nil)
}
