package cli

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/grantcarthew/linkctl/internal/ipc"
	"github.com/grantcarthew/linkctl/internal/link"
)

var connectCmd = &cobra.Command{
	Use:   "connect [endpoint]",
	Short: "Connect the link",
	Long: `Starts a connection attempt. The attempt runs in the daemon; without --wait
the command returns as soon as it has begun.

Endpoints:
  10.0.0.5:5005              raw TCP
  10.0.0.5                   raw TCP on the default port 5005
  tcp://10.0.0.5:5005        raw TCP
  ws://10.0.0.5:5005/path    WebSocket

With no endpoint, the last endpoint or link.endpoint from the config is used.
A failed attempt is retried every reconnect interval until disconnect.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runConnect,
}

var connectWait time.Duration

// connectPollInterval is how often --wait polls the daemon.
var connectPollInterval = 50 * time.Millisecond

func init() {
	connectCmd.Flags().DurationVar(&connectWait, "wait", 0, "Wait up to this long for the connection to be established")
	rootCmd.AddCommand(connectCmd)
}

func runConnect(cmd *cobra.Command, args []string) error {
	var params ipc.ConnectParams
	if len(args) > 0 {
		params.Endpoint = args[0]
	}
	req, err := ipc.NewRequest("connect", params)
	if err != nil {
		return outputError(err.Error())
	}

	var info link.Info
	if err := executeInto(req, &info); err != nil {
		return err
	}

	if connectWait > 0 {
		if info, err = waitConnected(connectWait); err != nil {
			return err
		}
	}

	if JSONOutput {
		return outputSuccess(info)
	}
	fmt.Fprintf(os.Stdout, "%s %s\n", info.StateString, info.Endpoint)
	return nil
}

// waitConnected polls status until the link is connected, the attempt fails,
// or timeout passes.
func waitConnected(timeout time.Duration) (link.Info, error) {
	deadline := time.Now().Add(timeout)
	for {
		var status ipc.StatusData
		if err := executeInto(ipc.Request{Cmd: "status"}, &status); err != nil {
			return link.Info{}, err
		}
		if status.Link == nil {
			return link.Info{}, outputError("daemon returned no link status")
		}

		info := *status.Link
		switch info.StateString {
		case link.StateConnected.String():
			return info, nil
		case link.StateFailed.String():
			msg := info.LastError
			if msg == "" {
				msg = "connect failed"
			}
			return info, outputError(msg)
		case link.StateIdle.String():
			return info, outputError("link was disconnected")
		}

		if time.Now().After(deadline) {
			return info, outputError(fmt.Sprintf("timed out waiting for connection (state: %s)", info.StateString))
		}
		time.Sleep(connectPollInterval)
	}
}
