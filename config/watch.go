package config

import (
	"context"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// RegistryWatcher reloads the capability table when its backing file changes.
// Editors often produce bursts of write/rename events for a single save, so
// changes are debounced before triggering a reload.
type RegistryWatcher struct {
	registry *Registry
	watcher  *fsnotify.Watcher
	debounce time.Duration

	mu      sync.Mutex
	pending bool

	cancel context.CancelFunc
}

// NewRegistryWatcher starts watching the registry's backing file.
func NewRegistryWatcher(registry *Registry, debounce time.Duration) (*RegistryWatcher, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	// Watch the directory, not the file: editors that rename-on-save would
	// otherwise drop the watch after the first write.
	if err := watcher.Add(filepath.Dir(registry.path)); err != nil {
		watcher.Close()
		return nil, err
	}

	ctx, cancel := context.WithCancel(context.Background())
	rw := &RegistryWatcher{
		registry: registry,
		watcher:  watcher,
		debounce: debounce,
		cancel:   cancel,
	}

	go rw.run(ctx)
	return rw, nil
}

func (rw *RegistryWatcher) run(ctx context.Context) {
	ticker := time.NewTicker(rw.debounce)
	defer ticker.Stop()

	target := filepath.Base(rw.registry.path)

	for {
		select {
		case <-ctx.Done():
			return

		case event, ok := <-rw.watcher.Events:
			if !ok {
				return
			}
			if filepath.Base(event.Name) != target {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			rw.mu.Lock()
			rw.pending = true
			rw.mu.Unlock()

		case err, ok := <-rw.watcher.Errors:
			if !ok {
				return
			}
			if DebugLog != nil {
				DebugLog.Printf("[Registry] Watcher error: %v", err)
			}

		case <-ticker.C:
			rw.mu.Lock()
			dirty := rw.pending
			rw.pending = false
			rw.mu.Unlock()

			if !dirty {
				continue
			}
			if err := rw.registry.Reload(); err != nil {
				// Keep serving the last good snapshot.
				if DebugLog != nil {
					DebugLog.Printf("[Registry] Reload failed, keeping previous table: %v", err)
				}
			}
		}
	}
}

// Close stops the watcher and releases its resources.
func (rw *RegistryWatcher) Close() error {
	rw.cancel()
	return rw.watcher.Close()
}
