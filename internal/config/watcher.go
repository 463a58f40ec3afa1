package config

import (
	"crypto/sha256"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"
)

// Watcher polls the config file, and the catalog and trial files it points
// to, and calls onChange with the old and new config whenever any of them
// changes to a valid state. Invalid edits are logged and ignored.
type Watcher struct {
	path     string
	interval time.Duration
	onChange func(old, cur *Config)

	mu      sync.Mutex
	current *Config
	digest  [sha256.Size]byte

	done     chan struct{}
	stopOnce sync.Once
	stopped  chan struct{}
}

// WatcherOption configures a [Watcher].
type WatcherOption func(*Watcher)

// WithInterval sets the polling interval. Default 5s.
func WithInterval(d time.Duration) WatcherOption {
	return func(w *Watcher) {
		if d > 0 {
			w.interval = d
		}
	}
}

// NewWatcher loads path and starts polling it.
func NewWatcher(path string, onChange func(old, cur *Config), opts ...WatcherOption) (*Watcher, error) {
	w := &Watcher{
		path:     path,
		interval: 5 * time.Second,
		onChange: onChange,
		done:     make(chan struct{}),
		stopped:  make(chan struct{}),
	}
	for _, o := range opts {
		o(w)
	}
	cfg, digest, err := w.load()
	if err != nil {
		return nil, fmt.Errorf("config: watcher initial load: %w", err)
	}
	w.current, w.digest = cfg, digest
	go w.poll()
	return w, nil
}

// Current returns the last valid config.
func (w *Watcher) Current() *Config {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.current
}

// Stop ends polling and waits for an in-flight check to finish.
func (w *Watcher) Stop() {
	w.stopOnce.Do(func() { close(w.done) })
	<-w.stopped
}

func (w *Watcher) poll() {
	defer close(w.stopped)
	t := time.NewTicker(w.interval)
	defer t.Stop()
	for {
		select {
		case <-w.done:
			return
		case <-t.C:
			w.check()
		}
	}
}

func (w *Watcher) check() {
	cfg, digest, err := w.load()
	if err != nil {
		slog.Warn("config reload skipped", "path", w.path, "err", err)
		return
	}

	w.mu.Lock()
	if digest == w.digest {
		w.mu.Unlock()
		return
	}
	old := w.current
	w.current, w.digest = cfg, digest
	w.mu.Unlock()

	d := Diff(old, cfg)
	slog.Info("configuration reloaded", "path", w.path, "restart_required", d.RestartRequired)
	if w.onChange != nil {
		w.onChange(old, cfg)
	}
}

// load parses the config and hashes it together with the files it
// references, so editing a catalog file alone also triggers a reload.
func (w *Watcher) load() (*Config, [sha256.Size]byte, error) {
	var zero [sha256.Size]byte
	data, err := os.ReadFile(w.path)
	if err != nil {
		return nil, zero, err
	}
	cfg, err := Parse(data)
	if err != nil {
		return nil, zero, err
	}

	h := sha256.New()
	h.Write(data)
	for _, extra := range []string{cfg.Combat.CatalogFile, cfg.Trials.File} {
		if extra == "" {
			continue
		}
		b, err := os.ReadFile(extra)
		if err != nil {
			return nil, zero, fmt.Errorf("read %q: %w", extra, err)
		}
		h.Write([]byte{0})
		h.Write(b)
	}
	var digest [sha256.Size]byte
	copy(digest[:], h.Sum(nil))
	return cfg, digest, nil
}
