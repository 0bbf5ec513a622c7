// Package config loads linkctl configuration.
//
// Sources are applied in order, later ones overriding earlier ones:
// built-in defaults, a YAML file, then LINKCTL_* environment variables.
// Command-line flags are applied by the caller on top of the result.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"

	"github.com/grantcarthew/linkctl/internal/logging"
	"github.com/grantcarthew/linkctl/internal/transport"
)

// EnvPrefix is the prefix of environment variables read by Load.
const EnvPrefix = "LINKCTL_"

// Config is the full linkctl configuration.
type Config struct {
	Link    LinkConfig    `koanf:"link"`
	Log     LogConfig     `koanf:"log"`
	Daemon  DaemonConfig  `koanf:"daemon"`
	Metrics MetricsConfig `koanf:"metrics"`
	Serve   ServeConfig   `koanf:"serve"`
}

// LinkConfig configures the connection manager.
type LinkConfig struct {
	// Endpoint is connected to at daemon startup when set.
	Endpoint          string        `koanf:"endpoint"`
	ReconnectInterval time.Duration `koanf:"reconnect_interval"`
	LivenessInterval  time.Duration `koanf:"liveness_interval"`
	PollInterval      time.Duration `koanf:"poll_interval"`
	ConnectTimeout    time.Duration `koanf:"connect_timeout"`
	MaxReadSize       int           `koanf:"max_read_size"`
	Greeting          string        `koanf:"greeting"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
}

// DaemonConfig configures the daemon process.
type DaemonConfig struct {
	// Socket overrides the IPC socket path.
	Socket          string `koanf:"socket"`
	MessageBuffer   int    `koanf:"message_buffer"`
	EventBuffer     int    `koanf:"event_buffer"`
	WatchConfig     bool   `koanf:"watch_config"`
	InteractiveREPL bool   `koanf:"repl"`
}

// MetricsConfig configures the Prometheus endpoint. An empty Addr disables it.
type MetricsConfig struct {
	Addr string `koanf:"addr"`
	Path string `koanf:"path"`
}

// ServeConfig configures the echo peer.
type ServeConfig struct {
	Addr     string  `koanf:"addr"`
	Protocol string  `koanf:"protocol"`
	Rate     float64 `koanf:"rate"`
	Burst    int     `koanf:"burst"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		Link: LinkConfig{
			ReconnectInterval: 5 * time.Second,
			LivenessInterval:  time.Second,
			PollInterval:      10 * time.Millisecond,
			ConnectTimeout:    10 * time.Second,
			MaxReadSize:       transport.MaxReadSize,
		},
		Log: LogConfig{
			Level:  "info",
			Format: logging.FormatConsole,
		},
		Daemon: DaemonConfig{
			MessageBuffer:   1000,
			EventBuffer:     1000,
			WatchConfig:     true,
			InteractiveREPL: true,
		},
		Metrics: MetricsConfig{
			Path: "/metrics",
		},
		Serve: ServeConfig{
			Addr:     fmt.Sprintf("127.0.0.1:%d", transport.DefaultPort),
			Protocol: "tcp",
			Rate:     100,
			Burst:    20,
		},
	}
}

// defaults renders Default as a nested map for koanf.
func defaults() map[string]any {
	d := Default()
	return map[string]any{
		"link": map[string]any{
			"endpoint":           d.Link.Endpoint,
			"reconnect_interval": d.Link.ReconnectInterval.String(),
			"liveness_interval":  d.Link.LivenessInterval.String(),
			"poll_interval":      d.Link.PollInterval.String(),
			"connect_timeout":    d.Link.ConnectTimeout.String(),
			"max_read_size":      d.Link.MaxReadSize,
			"greeting":           d.Link.Greeting,
		},
		"log": map[string]any{
			"level":  d.Log.Level,
			"format": d.Log.Format,
		},
		"daemon": map[string]any{
			"socket":         d.Daemon.Socket,
			"message_buffer": d.Daemon.MessageBuffer,
			"event_buffer":   d.Daemon.EventBuffer,
			"watch_config":   d.Daemon.WatchConfig,
			"repl":           d.Daemon.InteractiveREPL,
		},
		"metrics": map[string]any{
			"addr": d.Metrics.Addr,
			"path": d.Metrics.Path,
		},
		"serve": map[string]any{
			"addr":     d.Serve.Addr,
			"protocol": d.Serve.Protocol,
			"rate":     d.Serve.Rate,
			"burst":    d.Serve.Burst,
		},
	}
}

// mapProvider is a koanf provider over an in-memory map.
type mapProvider map[string]any

func (m mapProvider) ReadBytes() ([]byte, error) {
	return nil, errors.New("config: map provider does not support ReadBytes")
}

func (m mapProvider) Read() (map[string]any, error) {
	return m, nil
}

// Load reads configuration from defaults, the YAML file at path (skipped when
// path is empty) and the environment, then validates it.
func Load(path string) (Config, error) {
	k := koanf.New(".")

	if err := k.Load(mapProvider(defaults()), nil); err != nil {
		return Config{}, fmt.Errorf("load defaults: %w", err)
	}

	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return Config{}, fmt.Errorf("load config file %s: %w", path, err)
		}
	}

	if err := k.Load(env.Provider(EnvPrefix, ".", envKey), nil); err != nil {
		return Config{}, fmt.Errorf("load env: %w", err)
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// envKey maps LINKCTL_LINK_RECONNECT_INTERVAL to link.reconnect_interval.
// Only the first underscore after the prefix separates section from key.
func envKey(s string) string {
	s = strings.ToLower(strings.TrimPrefix(s, EnvPrefix))
	section, key, ok := strings.Cut(s, "_")
	if !ok {
		return s
	}
	return section + "." + key
}

// DefaultPath returns the config file used when none is given, or "" if it
// does not exist.
func DefaultPath() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return ""
	}
	path := filepath.Join(dir, "linkctl", "config.yaml")
	if _, err := os.Stat(path); err != nil {
		return ""
	}
	return path
}

// Validate checks the configuration for values the daemon cannot run with.
func (c Config) Validate() error {
	var errs []error

	if c.Link.Endpoint != "" {
		if _, err := transport.ParseEndpoint(c.Link.Endpoint); err != nil {
			errs = append(errs, fmt.Errorf("link.endpoint: %w", err))
		}
	}
	for _, d := range []struct {
		name string
		val  time.Duration
	}{
		{"link.reconnect_interval", c.Link.ReconnectInterval},
		{"link.liveness_interval", c.Link.LivenessInterval},
		{"link.poll_interval", c.Link.PollInterval},
		{"link.connect_timeout", c.Link.ConnectTimeout},
	} {
		if d.val <= 0 {
			errs = append(errs, fmt.Errorf("%s must be positive, got %v", d.name, d.val))
		}
	}
	if c.Link.MaxReadSize < 1 || c.Link.MaxReadSize > transport.MaxReadSize {
		errs = append(errs, fmt.Errorf("link.max_read_size must be between 1 and %d, got %d", transport.MaxReadSize, c.Link.MaxReadSize))
	}

	if _, err := logging.ParseLevel(c.Log.Level); err != nil {
		errs = append(errs, fmt.Errorf("log.level: %w", err))
	}
	switch strings.ToLower(c.Log.Format) {
	case logging.FormatConsole, logging.FormatJSON:
	default:
		errs = append(errs, fmt.Errorf("log.format must be %q or %q, got %q", logging.FormatConsole, logging.FormatJSON, c.Log.Format))
	}

	if c.Daemon.MessageBuffer < 1 {
		errs = append(errs, fmt.Errorf("daemon.message_buffer must be positive, got %d", c.Daemon.MessageBuffer))
	}
	if c.Daemon.EventBuffer < 1 {
		errs = append(errs, fmt.Errorf("daemon.event_buffer must be positive, got %d", c.Daemon.EventBuffer))
	}

	switch c.Serve.Protocol {
	case "tcp", "ws":
	default:
		errs = append(errs, fmt.Errorf("serve.protocol must be tcp or ws, got %q", c.Serve.Protocol))
	}
	if c.Serve.Rate < 0 || c.Serve.Burst < 0 {
		errs = append(errs, errors.New("serve.rate and serve.burst must not be negative"))
	}

	return errors.Join(errs...)
}
