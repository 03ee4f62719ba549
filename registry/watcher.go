package registry

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Watcher reloads the configuration file when it changes and publishes the
// result to a Registry. An invalid file is logged and the previous snapshot
// stays live.
type Watcher struct {
	path     string
	registry *Registry
	logger   *slog.Logger
	debounce time.Duration

	// OnReload is called after every successful publish.
	OnReload func(*Snapshot)

	// OnError is called when a change could not be loaded.
	OnError func(error)
}

// NewWatcher creates a watcher for path. debounce defaults to 500ms.
func NewWatcher(path string, reg *Registry, logger *slog.Logger, debounce time.Duration) *Watcher {
	if logger == nil {
		logger = slog.Default()
	}
	if debounce <= 0 {
		debounce = 500 * time.Millisecond
	}
	return &Watcher{
		path:     filepath.Clean(path),
		registry: reg,
		logger:   logger,
		debounce: debounce,
	}
}

// Reload loads the file once and publishes it.
func (w *Watcher) Reload() error {
	doc, err := Load(w.path)
	if err != nil {
		return err
	}
	snap, err := NewSnapshot(doc)
	if err != nil {
		return err
	}
	w.registry.Publish(snap)
	if w.OnReload != nil {
		w.OnReload(snap)
	}
	return nil
}

// Run watches the file's directory, since editors often replace files by
// rename. It blocks until ctx is cancelled.
func (w *Watcher) Run(ctx context.Context) error {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("registry: create fsnotify watcher: %w", err)
	}
	defer fw.Close()

	if err := fw.Add(filepath.Dir(w.path)); err != nil {
		return fmt.Errorf("registry: watch %s: %w", w.path, err)
	}

	deb := newDebouncer(w.debounce, func() {
		if err := w.Reload(); err != nil {
			w.logger.Error("config reload failed, keeping previous snapshot",
				"path", w.path,
				"error", err,
			)
			if w.OnError != nil {
				w.OnError(err)
			}
			return
		}
		w.logger.Info("config reloaded", "path", w.path)
	})
	defer deb.stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-fw.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(ev.Name) != w.path {
				continue
			}
			if ev.Op.Has(fsnotify.Write) || ev.Op.Has(fsnotify.Create) || ev.Op.Has(fsnotify.Rename) {
				deb.trigger()
			}
		case err, ok := <-fw.Errors:
			if !ok {
				return nil
			}
			w.logger.Warn("config watcher error", "error", err)
		}
	}
}

// debouncer coalesces bursts of events into one callback.
type debouncer struct {
	window   time.Duration
	mu       sync.Mutex
	timer    *time.Timer
	callback func()
}

func newDebouncer(window time.Duration, callback func()) *debouncer {
	return &debouncer{window: window, callback: callback}
}

func (d *debouncer) trigger() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.timer != nil {
		d.timer.Stop()
	}
	d.timer = time.AfterFunc(d.window, d.callback)
}

func (d *debouncer) stop() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.timer != nil {
		d.timer.Stop()
	}
}
