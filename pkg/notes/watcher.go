package notes

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

// watcher invalidates the store cache when another process rewrites the
// store file. Events are debounced: an external writer produces a burst of
// create/rename/write events for a single logical update.
type watcher struct {
	fs       *fsnotify.Watcher
	store    *Store
	debounce time.Duration
	timer    *time.Timer
	stopCh   chan struct{}
}

// Watch starts watching the store's directory for external changes to the
// store file. It is optional; a store without a watcher simply serves its
// own writes.
func (s *Store) Watch() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.watcher != nil {
		return nil
	}

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create store directory: %w", err)
	}

	fs, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}
	if err := fs.Add(dir); err != nil {
		fs.Close()
		return fmt.Errorf("failed to watch store directory: %w", err)
	}

	w := &watcher{
		fs:       fs,
		store:    s,
		debounce: 500 * time.Millisecond,
		stopCh:   make(chan struct{}),
	}
	s.watcher = w

	go w.run()

	return nil
}

// Unwatch stops the watcher if one is running.
func (s *Store) Unwatch() {
	s.mu.Lock()
	w := s.watcher
	s.watcher = nil
	s.mu.Unlock()

	if w != nil {
		close(w.stopCh)
		w.fs.Close()
	}
}

func (w *watcher) run() {
	for {
		select {
		case event, ok := <-w.fs.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != filepath.Clean(w.store.path) {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename|fsnotify.Remove) == 0 {
				continue
			}
			w.markDirty()

		case err, ok := <-w.fs.Errors:
			if !ok {
				return
			}
			w.store.logger.Warn().Err(err).Msg("Note store watcher error")

		case <-w.stopCh:
			if w.timer != nil {
				w.timer.Stop()
			}
			return
		}
	}
}

func (w *watcher) markDirty() {
	if w.timer != nil {
		w.timer.Stop()
	}
	w.timer = time.AfterFunc(w.debounce, func() {
		w.store.logger.Debug().Msg("Note store changed on disk, invalidating cache")
		w.store.Invalidate()
	})
}
