// Package daemon runs the long-lived linkctl process. The daemon owns one
// link.Manager, buffers what it reports, and answers CLI requests over a
// Unix socket.
package daemon

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"sync"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/grantcarthew/linkctl/internal/config"
	"github.com/grantcarthew/linkctl/internal/ipc"
	"github.com/grantcarthew/linkctl/internal/link"
	"github.com/grantcarthew/linkctl/internal/transport"
)

// Config holds daemon configuration.
type Config struct {
	Settings config.Config
	// ConfigPath is watched for changes when Settings.Daemon.WatchConfig is set.
	ConfigPath string
	SocketPath string
	PIDPath    string
	Logger     zerolog.Logger
	// CommandExecutor is called by the REPL for CLI command execution with flags.
	// If nil, the REPL falls back to basic IPC-only execution.
	CommandExecutor ipc.CommandExecutor
	// Factory overrides the transport factory used by the link manager.
	Factory link.Factory
}

// DefaultConfig returns the default daemon configuration.
func DefaultConfig() Config {
	return Config{
		Settings:   config.Default(),
		SocketPath: ipc.DefaultSocketPath(),
		PIDPath:    ipc.DefaultPIDPath(),
		Logger:     zerolog.Nop(),
	}
}

// Daemon is the persistent linkctl daemon process.
type Daemon struct {
	config   Config
	log      zerolog.Logger
	link     *link.Manager
	registry *prometheus.Registry
	messages *RingBuffer[ipc.MessageEntry]
	events   *RingBuffer[ipc.EventEntry]
	server   *ipc.Server

	startedAt    time.Time
	metricsAddr  string
	ready        chan struct{}
	shutdown     chan struct{}
	shutdownOnce sync.Once
}

// New creates a new daemon with the given configuration.
func New(cfg Config) *Daemon {
	if cfg.SocketPath == "" {
		cfg.SocketPath = cfg.Settings.Daemon.Socket
	}
	if cfg.SocketPath == "" {
		cfg.SocketPath = ipc.DefaultSocketPath()
	}
	if cfg.PIDPath == "" {
		cfg.PIDPath = filepath.Join(filepath.Dir(cfg.SocketPath), "linkctl.pid")
	}

	d := &Daemon{
		config:   cfg,
		log:      cfg.Logger.With().Str("component", "daemon").Logger(),
		registry: prometheus.NewRegistry(),
		messages: NewRingBuffer[ipc.MessageEntry](cfg.Settings.Daemon.MessageBuffer),
		events:   NewRingBuffer[ipc.EventEntry](cfg.Settings.Daemon.EventBuffer),
		ready:    make(chan struct{}),
		shutdown: make(chan struct{}),
	}
	d.registerMetrics()

	lc := cfg.Settings.Link
	d.link = link.New(link.Config{
		ReconnectInterval: lc.ReconnectInterval,
		LivenessInterval:  lc.LivenessInterval,
		PollInterval:      lc.PollInterval,
		ConnectTimeout:    lc.ConnectTimeout,
		MaxReadSize:       lc.MaxReadSize,
		Greeting:          lc.Greeting,
		Factory:           cfg.Factory,
		Logger:            cfg.Logger,
		Metrics:           link.NewMetrics(d.registry),
		Handlers: link.Handlers{
			OnConnected:       d.onConnected,
			OnConnectionError: d.onConnectionError,
			OnClosed:          d.onClosed,
			OnMessage:         d.onMessage,
			OnStateChange:     d.onStateChange,
		},
	})
	return d
}

func (d *Daemon) registerMetrics() {
	d.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: "linkctl",
			Subsystem: "daemon",
			Name:      "buffered_messages",
			Help:      "Inbound messages held in the message buffer.",
		}, func() float64 { return float64(d.messages.Len()) }),
		prometheus.NewCounterFunc(prometheus.CounterOpts{
			Namespace: "linkctl",
			Subsystem: "daemon",
			Name:      "dropped_messages_total",
			Help:      "Inbound messages overwritten before they were read.",
		}, func() float64 { return float64(d.messages.Dropped()) }),
	)
}

// Handler returns the IPC request handler function.
// Used by the CLI to create a direct executor for REPL command execution.
func (d *Daemon) Handler() ipc.Handler {
	return d.handleRequest
}

// Link returns the daemon's connection manager.
func (d *Daemon) Link() *link.Manager {
	return d.link
}

// Ready is closed once Run has started every listener.
func (d *Daemon) Ready() <-chan struct{} {
	return d.ready
}

// MetricsAddr returns the metrics listener address. Valid after Ready.
func (d *Daemon) MetricsAddr() string {
	return d.metricsAddr
}

// Run starts the daemon and blocks until shutdown.
func (d *Daemon) Run(ctx context.Context) error {
	d.startedAt = time.Now()
	if err := d.writePIDFile(); err != nil {
		return fmt.Errorf("failed to write PID file: %w", err)
	}
	defer d.removePIDFile()

	server, err := ipc.NewServer(d.config.SocketPath, d.handleRequest, ipc.WithLogger(d.config.Logger))
	if err != nil {
		return fmt.Errorf("failed to start IPC server: %w", err)
	}
	d.server = server
	defer d.server.Close()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	errCh := make(chan error, 1)
	go func() {
		errCh <- d.server.Serve(ctx)
	}()

	if addr := d.config.Settings.Metrics.Addr; addr != "" {
		stop, err := d.startMetrics(addr, d.config.Settings.Metrics.Path)
		if err != nil {
			return err
		}
		defer stop()
	}

	if d.config.ConfigPath != "" && d.config.Settings.Daemon.WatchConfig {
		if stop := d.watchConfig(); stop != nil {
			defer stop()
		}
	}

	// Manual disconnect on the way out stops every link timer.
	defer d.link.Disconnect()

	if ep := d.config.Settings.Link.Endpoint; ep != "" {
		if resp := d.connect(ep); !resp.OK {
			d.log.Error().Str("endpoint", ep).Str("error", resp.Error).Msg("Initial connect rejected")
		}
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	// replDone stays open without a TTY so the select below doesn't exit early.
	replDone := make(chan struct{})
	if d.config.Settings.Daemon.InteractiveREPL && IsStdinTTY() {
		repl := NewREPL(d.handleRequest, d.config.CommandExecutor, d.requestShutdown)
		repl.SetStatusProvider(d.link.Info)
		go func() {
			defer close(replDone)
			if err := repl.Run(); err != nil {
				d.log.Error().Err(err).Msg("REPL stopped")
			}
		}()
	}

	d.log.Info().
		Str("socket", d.config.SocketPath).
		Int("pid", os.Getpid()).
		Int("message_buffer", d.messages.Cap()).
		Int("event_buffer", d.events.Cap()).
		Msg("Daemon started")
	close(d.ready)

	select {
	case <-ctx.Done():
		return ctx.Err()
	case sig := <-sigCh:
		d.log.Info().Str("signal", sig.String()).Msg("Shutting down")
		return nil
	case <-d.shutdown:
		d.log.Info().Msg("Shutdown requested")
		return nil
	case err := <-errCh:
		return err
	case <-replDone:
		return nil
	}
}

// startMetrics serves the Prometheus registry and returns a stop function.
func (d *Daemon) startMetrics(addr, path string) (func(), error) {
	if path == "" {
		path = "/metrics"
	}
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("failed to start metrics listener: %w", err)
	}
	d.metricsAddr = ln.Addr().String()

	mux := http.NewServeMux()
	mux.Handle(path, promhttp.HandlerFor(d.registry, promhttp.HandlerOpts{Registry: d.registry}))
	srv := &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	done := make(chan struct{})
	go func() {
		defer close(done)
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			d.log.Error().Err(err).Msg("Metrics server stopped")
		}
	}()
	d.log.Info().Str("addr", d.metricsAddr).Str("path", path).Msg("Serving metrics")

	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctx)
		<-done
	}, nil
}

// watchConfig reloads the config file on change. Only settings that can
// change on a live link are applied; the rest need a restart.
func (d *Daemon) watchConfig() func() {
	w, err := config.NewWatcher(config.WatcherConfig{
		Path:     d.config.ConfigPath,
		OnChange: d.applyConfig,
		Logger:   d.config.Logger,
	})
	if err == nil {
		err = w.Start()
	}
	if err != nil {
		d.log.Warn().Err(err).Str("path", d.config.ConfigPath).Msg("Config watching disabled")
		return nil
	}
	return func() { _ = w.Stop() }
}

func (d *Daemon) applyConfig(cfg config.Config) {
	interval := cfg.Link.ReconnectInterval
	if interval == d.link.Policy().Interval {
		return
	}
	d.link.SetReconnectInterval(interval)
	d.recordEvent(ipc.EventEntry{Type: ipc.EventConfig, Detail: "reconnect interval " + interval.String()})
	d.log.Info().Dur("interval", interval).Msg("Reconnect interval updated")
}

func (d *Daemon) requestShutdown() {
	d.shutdownOnce.Do(func() {
		close(d.shutdown)
	})
}

// Link callbacks. They run on the manager's dispatcher, outside its lock.

func (d *Daemon) onConnected(ep transport.Endpoint) {
	d.recordEvent(ipc.EventEntry{Type: ipc.EventConnected, Detail: ep.String()})
}

func (d *Daemon) onConnectionError(err error) {
	d.recordEvent(ipc.EventEntry{Type: ipc.EventError, Detail: err.Error()})
}

func (d *Daemon) onClosed(code int, reason string, wasClean bool) {
	d.recordEvent(ipc.EventEntry{Type: ipc.EventClosed, Code: code, Detail: reason, Clean: wasClean})
}

func (d *Daemon) onStateChange(from, to link.State) {
	d.recordEvent(ipc.EventEntry{Type: ipc.EventState, Detail: from.String() + " -> " + to.String()})
}

func (d *Daemon) onMessage(text string) {
	d.messages.Push(ipc.MessageEntry{
		Text:      text,
		Size:      len(text),
		Timestamp: time.Now().UnixMilli(),
	})
}

func (d *Daemon) recordEvent(e ipc.EventEntry) {
	e.Timestamp = time.Now().UnixMilli()
	d.events.Push(e)
}

// writePIDFile writes the daemon PID to a file.
func (d *Daemon) writePIDFile() error {
	dir := filepath.Dir(d.config.PIDPath)
	if err := os.MkdirAll(dir, 0700); err != nil {
		return err
	}

	pid := strconv.Itoa(os.Getpid())
	return os.WriteFile(d.config.PIDPath, []byte(pid), 0600)
}

// removePIDFile removes the PID file.
func (d *Daemon) removePIDFile() {
	_ = os.Remove(d.config.PIDPath)
}
