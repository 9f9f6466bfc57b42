package eventbus

import (
	"fmt"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"
)

// ConfigWatcher watches a bus configuration file and posts a
// ConfigChangedEvent whenever the file changes and reloads cleanly.
// Hosts subscribe to the event to apply the parts of the configuration
// they can honor at runtime, or to rebuild the bus on the next restart
// boundary.
type ConfigWatcher struct {
	bus    *EventBus
	path   string
	logger Logger

	mu      sync.Mutex
	watcher *fsnotify.Watcher
	done    chan struct{}
	wg      sync.WaitGroup
}

// NewConfigWatcher creates a watcher for the given configuration file,
// posting change events on the given bus.
func NewConfigWatcher(bus *EventBus, path string) *ConfigWatcher {
	return &ConfigWatcher{
		bus:    bus,
		path:   filepath.Clean(path),
		logger: bus.logger,
	}
}

// Start begins watching the configuration file's directory. Watching the
// directory instead of the file keeps the watch alive across the
// rename-and-replace pattern editors and config management tools use.
func (w *ConfigWatcher) Start() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.watcher != nil {
		return ErrWatcherStarted
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	if err := watcher.Add(filepath.Dir(w.path)); err != nil {
		watcher.Close()
		return fmt.Errorf("watch %s: %w", filepath.Dir(w.path), err)
	}

	w.watcher = watcher
	w.done = make(chan struct{})
	w.wg.Add(1)
	go w.watch(watcher, w.done)
	return nil
}

// Stop ends the watch. Stopping a watcher that was never started is a
// no-op.
func (w *ConfigWatcher) Stop() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.watcher == nil {
		return nil
	}
	close(w.done)
	err := w.watcher.Close()
	w.watcher = nil
	w.wg.Wait()
	return err
}

func (w *ConfigWatcher) watch(watcher *fsnotify.Watcher, done chan struct{}) {
	defer w.wg.Done()
	for {
		select {
		case <-done:
			return
		case event, ok := <-watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != w.path {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
				continue
			}
			w.reload()
		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			w.logger.Error("Config watcher error", "path", w.path, "error", err)
		}
	}
}

func (w *ConfigWatcher) reload() {
	cfg, err := LoadConfig(w.path)
	if err != nil {
		w.logger.Error("Config reload failed, keeping previous configuration", "path", w.path, "error", err)
		return
	}
	w.logger.Info("Config file changed", "path", w.path)
	if err := w.bus.Post(ConfigChangedEvent{Path: w.path, Config: cfg}); err != nil {
		w.logger.Error("Posting config change failed", "path", w.path, "error", err)
	}
}
