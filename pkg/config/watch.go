package config

import (
	"context"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

const watchDebounce = 200 * time.Millisecond

// Watch monitors the store directory and calls onChange after edits settle.
// The method blocks until ctx is cancelled. Bursts of events collapse into
// one callback via debouncing.
func (s *Store) Watch(ctx context.Context, onChange func()) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer watcher.Close()

	if err := watcher.Add(s.dir); err != nil {
		return err
	}

	var (
		debounceTimer *time.Timer
		mu            sync.Mutex
		pending       bool
	)

	fire := func() {
		mu.Lock()
		pending = false
		mu.Unlock()
		onChange()
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if !isConfigFile(event.Name) {
				continue
			}
			if event.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Remove|fsnotify.Rename) == 0 {
				continue
			}

			// Debounce: reset timer on each event
			mu.Lock()
			if !pending {
				pending = true
				debounceTimer = time.AfterFunc(watchDebounce, fire)
			} else {
				debounceTimer.Reset(watchDebounce)
			}
			mu.Unlock()

		case _, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			// Watcher errors are not fatal
		}
	}
}
