package cli

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"golang.org/x/time/rate"

	"github.com/grantcarthew/linkctl/internal/config"
	"github.com/grantcarthew/linkctl/internal/echo"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run an echo peer to connect to",
	Long: `Runs a TCP or WebSocket echo peer for exercising the link by hand.

Every payload a client sends is echoed back. A client that sends faster than
--rate payloads per second (after --burst) is disconnected.

Examples:
  linkctl serve                                # tcp on 127.0.0.1:5005
  linkctl serve --protocol ws --path /socket   # ws://127.0.0.1:5005/socket
  linkctl serve --greeting "Hello from UE4!"   # greet each client
  linkctl serve --stdin                        # broadcast stdin lines to clients

Stop with Ctrl+C.`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

var (
	serveAddr     string
	serveProtocol string
	servePath     string
	serveRate     float64
	serveBurst    int
	serveGreeting string
	serveStdin    bool
)

func init() {
	serveCmd.Flags().StringVar(&serveAddr, "addr", "", "Listen address (default from config, 127.0.0.1:5005)")
	serveCmd.Flags().StringVar(&serveProtocol, "protocol", "", "Protocol: tcp or ws (default from config, tcp)")
	serveCmd.Flags().StringVar(&servePath, "path", "/", "WebSocket path")
	serveCmd.Flags().Float64Var(&serveRate, "rate", 0, "Payloads per second allowed per client (default from config)")
	serveCmd.Flags().IntVar(&serveBurst, "burst", 0, "Burst allowed above --rate (default from config)")
	serveCmd.Flags().StringVar(&serveGreeting, "greeting", "", "Text sent to each client on connect")
	serveCmd.Flags().BoolVar(&serveStdin, "stdin", false, "Broadcast each line read from stdin to every client")
	rootCmd.AddCommand(serveCmd)
}

// echoConfig layers the serve flags over the serve section of cfg.
func echoConfig(cfg config.ServeConfig, log zerolog.Logger) echo.Config {
	if serveAddr != "" {
		cfg.Addr = serveAddr
	}
	if serveProtocol != "" {
		cfg.Protocol = serveProtocol
	}
	if serveRate > 0 {
		cfg.Rate = serveRate
	}
	if serveBurst > 0 {
		cfg.Burst = serveBurst
	}
	return echo.Config{
		Addr:     cfg.Addr,
		Protocol: cfg.Protocol,
		Path:     servePath,
		Rate:     rate.Limit(cfg.Rate),
		Burst:    cfg.Burst,
		Greeting: serveGreeting,
		Logger:   log,
	}
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, _, err := loadConfig()
	if err != nil {
		return outputError(err.Error())
	}
	log, err := newLogger(cfg)
	if err != nil {
		return outputError(err.Error())
	}

	ecfg := echoConfig(cfg.Serve, log)
	if !JSONOutput {
		ecfg.OnConnect = func(p echo.Peer) {
			fmt.Fprintf(os.Stdout, "+ %s %s\n", p.ID, p.RemoteAddr)
		}
		ecfg.OnDisconnect = func(p echo.Peer) {
			fmt.Fprintf(os.Stdout, "- %s %s\n", p.ID, p.RemoteAddr)
		}
	}

	srv := echo.New(ecfg)
	if err := srv.Start(); err != nil {
		return outputError(err.Error())
	}
	defer func() { _ = srv.Close() }()

	endpoint := serveEndpoint(ecfg.Protocol, srv.Addr(), ecfg.Path)
	if JSONOutput {
		_ = outputSuccess(map[string]string{
			"endpoint": endpoint,
			"protocol": ecfg.Protocol,
		})
	} else {
		fmt.Fprintf(os.Stdout, "echo peer listening on %s\n", endpoint)
		fmt.Fprintf(os.Stdout, "connect with: linkctl connect %s\n", endpoint)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if serveStdin {
		go func() {
			n := broadcastLines(ctx, os.Stdin, srv)
			log.Debug().Int("lines", n).Msg("stdin closed")
		}()
	}

	<-ctx.Done()
	return nil
}

// serveEndpoint renders the address clients should connect to.
func serveEndpoint(protocol, addr, path string) string {
	if protocol == echo.ProtocolWS {
		return "ws://" + addr + path
	}
	return "tcp://" + addr
}

// broadcastLines sends each line of r to every peer until r ends or ctx is
// done. It returns the number of lines sent.
func broadcastLines(ctx context.Context, r io.Reader, srv *echo.Server) int {
	sc := bufio.NewScanner(r)
	n := 0
	for sc.Scan() {
		if ctx.Err() != nil {
			break
		}
		if sc.Text() == "" {
			continue
		}
		srv.Broadcast(sc.Text())
		n++
	}
	return n
}
