package config

import (
	"bytes"
	"context"
	"crypto/sha256"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"time"
)

// Change is a validated config edit delivered by a [Watcher].
type Change struct {
	Old, New *Config
	Diff     ConfigDiff
}

// Watcher keeps the config file of a running parrot in view. It polls the
// file's modification time and, on demand or on a reload signal, re-reads it.
// A new file is applied only when it validates and its [Diff] against the
// current config is non-empty, so touches and comment edits stay silent.
type Watcher struct {
	path     string
	interval time.Duration
	signals  []os.Signal
	onChange func(Change)

	mu      sync.Mutex
	current *Config
	mtime   time.Time
	hash    [sha256.Size]byte
}

// WatcherOption configures a [Watcher].
type WatcherOption func(*Watcher)

// WithInterval sets the polling interval. Default: 5s.
func WithInterval(d time.Duration) WatcherOption {
	return func(w *Watcher) {
		if d > 0 {
			w.interval = d
		}
	}
}

// WithReloadSignal makes [Watcher.Run] re-read the file whenever one of sigs
// arrives, regardless of its modification time.
func WithReloadSignal(sigs ...os.Signal) WatcherOption {
	return func(w *Watcher) { w.signals = append(w.signals, sigs...) }
}

// NewWatcher loads path and returns a Watcher holding it as the current
// config. onChange may be nil. Polling starts with [Watcher.Run].
func NewWatcher(path string, onChange func(Change), opts ...WatcherOption) (*Watcher, error) {
	w := &Watcher{path: path, interval: 5 * time.Second, onChange: onChange}
	for _, opt := range opts {
		opt(w)
	}
	cfg, hash, mtime, err := w.read()
	if err != nil {
		return nil, fmt.Errorf("config: watcher initial load: %w", err)
	}
	w.current, w.hash, w.mtime = cfg, hash, mtime
	return w, nil
}

// Current returns the most recently applied config.
func (w *Watcher) Current() *Config {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.current
}

// Run polls until ctx is done. A rejected file is logged and the current
// config stays in effect.
func (w *Watcher) Run(ctx context.Context) error {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	var sig chan os.Signal
	if len(w.signals) > 0 {
		sig = make(chan os.Signal, 1)
		signal.Notify(sig, w.signals...)
		defer signal.Stop(sig)
	}

	for {
		var (
			applied bool
			err     error
			source  string
		)
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			applied, err = w.Reload()
			source = "poll"
		case s := <-sig:
			applied, err = w.apply()
			source = s.String()
		}
		switch {
		case err != nil:
			slog.Warn("config: keeping previous config", "trigger", source, "err", err)
		case applied:
			slog.Info("config: applied", "path", w.path, "trigger", source)
		}
	}
}

// Reload re-reads the file when its modification time moved and applies it
// as described on [Watcher]. It reports whether onChange was called. An
// invalid file is reported once per modification.
func (w *Watcher) Reload() (bool, error) {
	info, err := os.Stat(w.path)
	if err != nil {
		return false, fmt.Errorf("config: stat %q: %w", w.path, err)
	}
	w.mu.Lock()
	same := info.ModTime().Equal(w.mtime)
	w.mtime = info.ModTime()
	w.mu.Unlock()
	if same {
		return false, nil
	}
	return w.apply()
}

func (w *Watcher) apply() (bool, error) {
	cfg, hash, mtime, err := w.read()
	if err != nil {
		return false, fmt.Errorf("config: reload %q: %w", w.path, err)
	}

	w.mu.Lock()
	w.mtime = mtime
	if hash == w.hash {
		w.mu.Unlock()
		return false, nil
	}
	w.hash = hash
	d := Diff(w.current, cfg)
	if !d.Changed() {
		w.mu.Unlock()
		return false, nil
	}
	ch := Change{Old: w.current, New: cfg, Diff: d}
	w.current = cfg
	w.mu.Unlock()

	if w.onChange != nil {
		w.onChange(ch)
	}
	return true, nil
}

// read loads and validates the file and returns it with its content hash and
// modification time.
func (w *Watcher) read() (*Config, [sha256.Size]byte, time.Time, error) {
	data, err := os.ReadFile(w.path)
	if err != nil {
		return nil, [sha256.Size]byte{}, time.Time{}, err
	}
	info, err := os.Stat(w.path)
	if err != nil {
		return nil, [sha256.Size]byte{}, time.Time{}, err
	}
	cfg, err := LoadFromReader(bytes.NewReader(data))
	if err != nil {
		return nil, [sha256.Size]byte{}, time.Time{}, err
	}
	return cfg, sha256.Sum256(data), info.ModTime(), nil
}
