package cli

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/grantcarthew/linkctl/internal/config"
	"github.com/grantcarthew/linkctl/internal/daemon"
	"github.com/grantcarthew/linkctl/internal/ipc"
)

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Start the daemon",
	Long: `Starts the linkctl daemon, which owns the connection and buffers what it receives.

If an endpoint is configured (--endpoint, link.endpoint or LINKCTL_LINK_ENDPOINT)
the daemon connects to it at startup and keeps reconnecting until stopped or
told to disconnect.`,
	Args: cobra.NoArgs,
	RunE: runStart,
}

var (
	startEndpoint          string
	startReconnectInterval time.Duration
	startMetricsAddr       string
	startNoREPL            bool
)

func init() {
	startCmd.Flags().StringVar(&startEndpoint, "endpoint", "", "Connect to this endpoint at startup (host:port, tcp://host:port, ws://host:port/path)")
	startCmd.Flags().DurationVar(&startReconnectInterval, "reconnect-interval", 0, "Delay between reconnection attempts (default from config, 5s)")
	startCmd.Flags().StringVar(&startMetricsAddr, "metrics-addr", "", "Serve Prometheus metrics on this address")
	startCmd.Flags().BoolVar(&startNoREPL, "no-repl", false, "Disable the interactive prompt")
	rootCmd.AddCommand(startCmd)
}

// applyStartFlags layers the start flags over the loaded configuration.
func applyStartFlags(cfg *config.Config) error {
	if startEndpoint != "" {
		cfg.Link.Endpoint = startEndpoint
	}
	if startReconnectInterval > 0 {
		cfg.Link.ReconnectInterval = startReconnectInterval
	}
	if startMetricsAddr != "" {
		cfg.Metrics.Addr = startMetricsAddr
	}
	if startNoREPL {
		cfg.Daemon.InteractiveREPL = false
	}
	if SocketPath != "" {
		cfg.Daemon.Socket = SocketPath
	}
	return cfg.Validate()
}

func runStart(cmd *cobra.Command, args []string) error {
	if execFactory.IsDaemonRunning() {
		return outputError("daemon is already running")
	}

	cfg, path, err := loadConfig()
	if err != nil {
		return outputError(err.Error())
	}
	if err := applyStartFlags(&cfg); err != nil {
		return outputError(err.Error())
	}

	log, err := newLogger(cfg)
	if err != nil {
		return outputError(err.Error())
	}

	dcfg := daemon.DefaultConfig()
	dcfg.Settings = cfg
	dcfg.ConfigPath = path
	dcfg.SocketPath = cfg.Daemon.Socket
	dcfg.PIDPath = ""
	dcfg.Logger = log
	dcfg.CommandExecutor = replExecutor
	if dcfg.SocketPath == "" {
		dcfg.SocketPath = ipc.DefaultSocketPath()
	}

	d := daemon.New(dcfg)

	// Commands typed at the REPL run in this process against the daemon directly.
	SetExecutorFactory(NewDirectExecutorFactory(d.Handler()))
	defer ResetExecutorFactory()

	if JSONOutput {
		_ = outputSuccess(map[string]any{
			"message":  "daemon starting",
			"socket":   dcfg.SocketPath,
			"endpoint": cfg.Link.Endpoint,
		})
	} else {
		fmt.Fprintf(os.Stdout, "daemon starting (socket: %s)\n", dcfg.SocketPath)
	}

	// Run daemon (blocks until shutdown)
	if err := d.Run(context.Background()); err != nil {
		return outputError(err.Error())
	}
	return nil
}

// replExecutor runs a REPL line as a CLI command. Errors the command already
// printed are dropped so the REPL does not print them twice.
func replExecutor(args []string) (bool, error) {
	recognized, err := ExecuteArgs(args)
	if IsPrintedError(err) {
		err = nil
	}
	return recognized, err
}
