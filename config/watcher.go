package config

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/payrail/payrail/pkg/logger"
)

// Watcher reloads the config file when it changes on disk and fans the
// new config out to registered callbacks. Editors and orchestrators
// often rewrite files with several events in quick succession, so
// events are coalesced over a debounce window before reloading.
type Watcher struct {
	fsw      *fsnotify.Watcher
	loader   *Loader
	path     string
	debounce time.Duration
	log      logger.Logger

	mu        sync.Mutex
	callbacks []func(*Config)
	running   bool

	stopCh chan struct{}
}

// WatcherOption customizes a Watcher.
type WatcherOption func(*Watcher)

// WithDebounce overrides the event coalescing window.
func WithDebounce(d time.Duration) WatcherOption {
	return func(w *Watcher) { w.debounce = d }
}

// WithWatchLogger routes watcher diagnostics through the given logger.
func WithWatchLogger(log logger.Logger) WatcherOption {
	return func(w *Watcher) { w.log = log }
}

// NewWatcher prepares a watcher for one config file. Watch must be
// called to start receiving events.
func NewWatcher(configPath string, loader *Loader, opts ...WatcherOption) (*Watcher, error) {
	if configPath == "" {
		return nil, fmt.Errorf("config path is required for watching")
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create fsnotify watcher: %w", err)
	}

	w := &Watcher{
		fsw:      fsw,
		loader:   loader,
		path:     configPath,
		debounce: 500 * time.Millisecond,
		stopCh:   make(chan struct{}),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w, nil
}

// OnChange registers a callback invoked with each successfully reloaded
// config. Callbacks run on their own goroutines.
func (w *Watcher) OnChange(fn func(*Config)) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.callbacks = append(w.callbacks, fn)
}

// Watch blocks, reloading on file changes, until ctx is cancelled or
// Stop is called.
func (w *Watcher) Watch(ctx context.Context) error {
	w.mu.Lock()
	if w.running {
		w.mu.Unlock()
		return fmt.Errorf("watcher already running")
	}
	w.running = true
	w.mu.Unlock()
	defer func() {
		w.mu.Lock()
		w.running = false
		w.mu.Unlock()
	}()

	if err := w.fsw.Add(w.path); err != nil {
		return fmt.Errorf("watch %s: %w", w.path, err)
	}

	// The timer is armed on the first relevant event and re-armed on
	// each subsequent one; the reload fires only when events go quiet.
	pending := time.NewTimer(w.debounce)
	if !pending.Stop() {
		<-pending.C
	}
	defer pending.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case <-w.stopCh:
			return nil

		case <-pending.C:
			w.reload()

		case event, ok := <-w.fsw.Events:
			if !ok {
				return nil
			}
			if event.Op.Has(fsnotify.Write) || event.Op.Has(fsnotify.Create) {
				if !pending.Stop() {
					select {
					case <-pending.C:
					default:
					}
				}
				pending.Reset(w.debounce)
			}

		case err, ok := <-w.fsw.Errors:
			if !ok {
				return nil
			}
			w.warn("config watcher error", "error", err)
		}
	}
}

// IsRunning reports whether Watch is active.
func (w *Watcher) IsRunning() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.running
}

// Stop ends the watch loop and releases the fsnotify handle.
func (w *Watcher) Stop() error {
	close(w.stopCh)
	return w.fsw.Close()
}

func (w *Watcher) reload() {
	cfg, err := w.loader.Load(w.path, nil)
	if err != nil {
		// A half-written or invalid file keeps the previous config.
		w.warn("config reload failed, keeping previous config", "path", w.path, "error", err)
		return
	}

	w.mu.Lock()
	callbacks := make([]func(*Config), len(w.callbacks))
	copy(callbacks, w.callbacks)
	w.mu.Unlock()

	for _, fn := range callbacks {
		go func(fn func(*Config)) {
			defer func() {
				if r := recover(); r != nil {
					w.warn("config change callback panicked", "panic", r)
				}
			}()
			fn(cfg)
		}(fn)
	}
}

func (w *Watcher) warn(msg string, args ...any) {
	if w.log != nil {
		w.log.Warn(msg, args...)
	}
}
