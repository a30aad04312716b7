package config

import (
	"errors"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"hearth/internal/domain"
)

// debounceDelay is the time to wait after a file event before reloading.
// This coalesces rapid successive writes (editors, atomic renames) into one reload.
var debounceDelay = 100 * time.Millisecond

// newWatcherFunc creates an fsnotify watcher; tests may replace it to inject errors.
type newWatcherFunc func() (*fsnotify.Watcher, error)

// Watcher watches the config file and delivers freshly loaded configs via a
// callback whenever the file changes on disk. Reload failures (e.g. a half
// written file) are logged and skipped; the previous config stays in effect.
type Watcher struct {
	path         string
	logger       *slog.Logger
	watcher      *fsnotify.Watcher
	done         chan struct{}
	mu           sync.Mutex
	running      bool
	newWatcherFn newWatcherFunc // nil means use fsnotify.NewWatcher
}

// NewWatcher creates a watcher for the given config file path.
// Call Start to begin watching and Stop to release resources.
func NewWatcher(path string, logger *slog.Logger) *Watcher {
	return &Watcher{path: path, logger: logger}
}

// log returns the watcher's logger, falling back to the default slog logger.
func (w *Watcher) log() *slog.Logger {
	if w.logger != nil {
		return w.logger
	}
	return slog.Default()
}

// Start begins watching the config file for changes. The callback is invoked
// (on a separate goroutine) with each successfully reloaded config. Start must
// not be called more than once without an intervening Stop.
func (w *Watcher) Start(callback func(*domain.Config)) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if callback == nil {
		return errors.New("config watcher: callback must not be nil")
	}
	if w.running {
		return errors.New("config watcher: already started")
	}

	// Watch the parent directory so we catch atomic rename saves too
	// (editors often write a temp file and rename it over the target).
	dir := filepath.Dir(w.path)
	newWatcher := fsnotify.NewWatcher
	if w.newWatcherFn != nil {
		newWatcher = w.newWatcherFn
	}
	watcher, err := newWatcher()
	if err != nil {
		return err
	}
	if err := watcher.Add(dir); err != nil {
		watcher.Close()
		return err
	}

	w.watcher = watcher
	w.done = make(chan struct{})
	w.running = true

	go w.eventLoop(callback)

	return nil
}

// Stop ceases watching and releases resources. Safe to call even if not started.
func (w *Watcher) Stop() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if !w.running {
		return nil
	}

	close(w.done)
	err := w.watcher.Close()
	w.running = false
	return err
}

// eventLoop listens for fsnotify events and reloads with debouncing.
func (w *Watcher) eventLoop(callback func(*domain.Config)) {
	target := filepath.Base(w.path)
	var debounceTimer *time.Timer

	for {
		select {
		case <-w.done:
			if debounceTimer != nil {
				debounceTimer.Stop()
			}
			return

		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			// Only react to our specific file.
			if filepath.Base(event.Name) != target {
				continue
			}
			// We care about writes, creates, and renames.
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Rename) {
				continue
			}

			// Debounce: reset the timer on every qualifying event.
			if debounceTimer != nil {
				debounceTimer.Stop()
			}
			debounceTimer = time.AfterFunc(debounceDelay, func() {
				cfg, err := Load(w.path)
				if err != nil {
					w.log().Warn("config reload failed", "path", w.path, "error", err)
					return
				}
				w.log().Info("config reloaded", "path", w.path)
				callback(cfg)
			})

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.log().Warn("config watcher error", "error", err)
		}
	}
}
