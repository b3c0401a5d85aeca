package watcher

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// DebounceWindow coalesces the burst of events many editors emit for a
// single logical save (write, then chmod, then a rename-based swap).
const DebounceWindow = 300 * time.Millisecond

// ConfigWatcher watches a single config file and invokes a callback,
// debounced, whenever it changes.
type ConfigWatcher struct {
	path     string
	onChange func()
	log      *slog.Logger

	fsw *fsnotify.Watcher

	mu      sync.Mutex
	stopped bool
	stopCh  chan struct{}
}

// NewConfigWatcher creates a watcher for path. onChange is called (from a
// background goroutine) after the file settles for DebounceWindow
// following a write or rename.
func NewConfigWatcher(path string, onChange func(), log *slog.Logger) (*ConfigWatcher, error) {
	if log == nil {
		log = slog.Default()
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create fsnotify watcher: %w", err)
	}

	// fsnotify watches the containing directory, not the file itself:
	// editors that save via rename (write to a temp file, then rename
	// over the original) replace the inode fsnotify would have watched.
	dir := filepath.Dir(path)
	if err := fsw.Add(dir); err != nil {
		_ = fsw.Close()
		return nil, fmt.Errorf("watch config directory %s: %w", dir, err)
	}

	return &ConfigWatcher{
		path:     filepath.Clean(path),
		onChange: onChange,
		log:      log,
		fsw:      fsw,
		stopCh:   make(chan struct{}),
	}, nil
}

// Run processes events until ctx is cancelled or Stop is called.
func (w *ConfigWatcher) Run(ctx context.Context) {
	var timer *time.Timer
	var timerC <-chan time.Time

	for {
		select {
		case <-ctx.Done():
			_ = w.Stop()
			return
		case <-w.stopCh:
			return
		case event, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != w.path {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			if timer != nil {
				timer.Stop()
			}
			timer = time.NewTimer(DebounceWindow)
			timerC = timer.C
		case <-timerC:
			timerC = nil
			w.onChange()
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			w.log.Warn("config watcher error", "error", err)
		}
	}
}

// Stop releases the underlying fsnotify watcher. Safe to call more than
// once.
func (w *ConfigWatcher) Stop() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.stopped {
		return nil
	}
	w.stopped = true
	close(w.stopCh)
	return w.fsw.Close()
}
