package config

import (
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
)

// DefaultDebounce is how long the watcher waits for writes to settle.
const DefaultDebounce = 300 * time.Millisecond

// WatcherConfig holds config file watcher configuration.
type WatcherConfig struct {
	Path     string
	Debounce time.Duration
	// OnChange receives the reloaded configuration.
	OnChange func(Config)
	// OnError receives reload failures; the previous configuration stays in effect.
	OnError func(error)
	Logger  zerolog.Logger
}

// Watcher reloads a config file when it changes.
type Watcher struct {
	config    WatcherConfig
	path      string
	fsWatcher *fsnotify.Watcher
	debouncer *debouncer
	mu        sync.Mutex
	running   bool
	done      chan struct{}
	log       zerolog.Logger
}

// NewWatcher creates a watcher for cfg.Path.
func NewWatcher(cfg WatcherConfig) (*Watcher, error) {
	if cfg.Path == "" {
		return nil, errors.New("config path is required")
	}
	path, err := filepath.Abs(cfg.Path)
	if err != nil {
		return nil, err
	}
	if cfg.Debounce <= 0 {
		cfg.Debounce = DefaultDebounce
	}

	fsWatcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create fsnotify watcher: %w", err)
	}

	w := &Watcher{
		config:    cfg,
		path:      path,
		fsWatcher: fsWatcher,
		done:      make(chan struct{}),
		log:       cfg.Logger.With().Str("component", "config").Logger(),
	}
	w.debouncer = newDebouncer(cfg.Debounce, w.reload)
	return w, nil
}

// Start starts watching. Editors often replace files rather than write them,
// so the containing directory is watched.
func (w *Watcher) Start() error {
	w.mu.Lock()
	if w.running {
		w.mu.Unlock()
		return errors.New("watcher already running")
	}
	w.running = true
	w.mu.Unlock()

	dir := filepath.Dir(w.path)
	if err := w.fsWatcher.Add(dir); err != nil {
		return fmt.Errorf("failed to watch %s: %w", dir, err)
	}
	w.log.Debug().Str("path", w.path).Msg("Watching config file")

	go w.eventLoop()
	return nil
}

// Stop stops the watcher and waits for its event loop to exit.
func (w *Watcher) Stop() error {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		_ = w.fsWatcher.Close()
		return nil
	}
	w.running = false
	w.mu.Unlock()

	w.debouncer.stop()
	if err := w.fsWatcher.Close(); err != nil {
		return err
	}
	<-w.done
	return nil
}

func (w *Watcher) eventLoop() {
	defer close(w.done)

	for {
		select {
		case event, ok := <-w.fsWatcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != w.path {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Rename) {
				continue
			}
			w.log.Debug().Str("op", event.Op.String()).Msg("Config file event")
			w.debouncer.trigger()

		case err, ok := <-w.fsWatcher.Errors:
			if !ok {
				return
			}
			w.log.Warn().Err(err).Msg("Watcher error")
		}
	}
}

func (w *Watcher) reload() {
	cfg, err := Load(w.path)
	if err != nil {
		w.log.Error().Err(err).Msg("Config reload failed")
		if w.config.OnError != nil {
			w.config.OnError(err)
		}
		return
	}
	w.log.Info().Str("path", w.path).Msg("Config reloaded")
	if w.config.OnChange != nil {
		w.config.OnChange(cfg)
	}
}

// debouncer collapses bursts of triggers into one callback.
type debouncer struct {
	delay    time.Duration
	callback func()
	timer    *time.Timer
	stopped  bool
	mu       sync.Mutex
}

func newDebouncer(delay time.Duration, callback func()) *debouncer {
	return &debouncer{
		delay:    delay,
		callback: callback,
	}
}

// trigger restarts the delay.
func (d *debouncer) trigger() {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.stopped {
		return
	}
	if d.timer != nil {
		d.timer.Stop()
	}
	d.timer = time.AfterFunc(d.delay, d.callback)
}

func (d *debouncer) stop() {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.stopped = true
	if d.timer != nil {
		d.timer.Stop()
		d.timer = nil
	}
}
