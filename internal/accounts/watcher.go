package accounts

import (
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"limit/pkg/logging"
)

// DefaultDebounceInterval is the time to wait after the last file
// change before reloading, so an atomic rename (temp write + rename)
// triggers one reload, not two.
const DefaultDebounceInterval = 300 * time.Millisecond

// Watcher monitors the registry file for external modification, for
// example a second CLI process adding an account, and reloads the
// in-memory registry when it changes.
type Watcher struct {
	mu sync.Mutex

	registry *Registry
	onChange func()

	fsWatcher *fsnotify.Watcher
	stopCh    chan struct{}
	running   bool

	debounceMu    sync.Mutex
	debounceTimer *time.Timer
}

// NewWatcher creates a watcher for the registry's backing file.
// onChange (optional) runs after every successful reload.
func NewWatcher(registry *Registry, onChange func()) *Watcher {
	return &Watcher{registry: registry, onChange: onChange}
}

// Start begins watching. The registry directory is watched rather than
// the file itself, because atomic saves replace the file inode.
func (w *Watcher) Start() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.running {
		return nil
	}

	fsWatcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	if err := fsWatcher.Add(filepath.Dir(w.registry.Path())); err != nil {
		fsWatcher.Close()
		return err
	}

	w.fsWatcher = fsWatcher
	w.stopCh = make(chan struct{})
	w.running = true

	go w.processEvents(fsWatcher.Events, fsWatcher.Errors)

	logging.Debug("Accounts", "Watching %s for registry changes", w.registry.Path())
	return nil
}

func (w *Watcher) processEvents(eventsCh <-chan fsnotify.Event, errorsCh <-chan error) {
	for {
		select {
		case <-w.stopCh:
			return

		case event, ok := <-eventsCh:
			if !ok {
				return
			}
			if filepath.Base(event.Name) != filepath.Base(w.registry.Path()) {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			w.reloadDebounced()

		case err, ok := <-errorsCh:
			if !ok {
				return
			}
			logging.Error("Accounts", err, "Registry watcher error")
		}
	}
}

func (w *Watcher) reloadDebounced() {
	w.debounceMu.Lock()
	defer w.debounceMu.Unlock()

	if w.debounceTimer != nil {
		w.debounceTimer.Stop()
	}
	w.debounceTimer = time.AfterFunc(DefaultDebounceInterval, func() {
		w.mu.Lock()
		running := w.running
		w.mu.Unlock()
		if !running {
			return
		}

		if err := w.registry.Reload(); err != nil {
			logging.Warn("Accounts", "Failed to reload registry: %v", err)
			return
		}
		logging.Debug("Accounts", "Registry reloaded after external change")
		if w.onChange != nil {
			w.onChange()
		}
	})
}

// Stop shuts the watcher down. Safe to call more than once.
func (w *Watcher) Stop() {
	w.mu.Lock()
	defer w.mu.Unlock()

	if !w.running {
		return
	}
	w.running = false
	close(w.stopCh)

	w.debounceMu.Lock()
	if w.debounceTimer != nil {
		w.debounceTimer.Stop()
		w.debounceTimer = nil
	}
	w.debounceMu.Unlock()

	if w.fsWatcher != nil {
		if err := w.fsWatcher.Close(); err != nil {
			logging.Warn("Accounts", "Error closing registry watcher: %v", err)
		}
		w.fsWatcher = nil
	}
}
