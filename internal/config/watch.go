package config

import (
	"fmt"
	"log"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

const debounceInterval = 100 * time.Millisecond

// Watcher fires a callback when the bootstrap config file is rewritten.
type Watcher struct {
	path     string
	watcher  *fsnotify.Watcher
	onChange func()
	stopChan chan struct{}

	mu            sync.Mutex
	debounceTimer *time.Timer
}

// Watch starts watching path and calls onChange after the file changes.
// The parent directory is watched rather than the file itself so the
// rename-and-replace dance editors and atomic writers do is caught too.
func Watch(path string, onChange func()) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to start config watcher: %w", err)
	}
	if err := fsw.Add(filepath.Dir(path)); err != nil {
		fsw.Close()
		return nil, fmt.Errorf("failed to watch %q: %w", filepath.Dir(path), err)
	}

	w := &Watcher{
		path:     path,
		watcher:  fsw,
		onChange: onChange,
		stopChan: make(chan struct{}),
	}
	go w.loop()
	return w, nil
}

func (w *Watcher) loop() {
	for {
		select {
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if filepath.Base(event.Name) != filepath.Base(w.path) {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			// Debounce rapid successive writes into one reload.
			w.mu.Lock()
			if w.debounceTimer != nil {
				w.debounceTimer.Stop()
			}
			w.debounceTimer = time.AfterFunc(debounceInterval, w.onChange)
			w.mu.Unlock()

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			log.Printf("⚠️ Config watcher error: %v", err)

		case <-w.stopChan:
			return
		}
	}
}

// Close stops watching. A pending debounced callback is cancelled.
func (w *Watcher) Close() error {
	close(w.stopChan)
	w.mu.Lock()
	if w.debounceTimer != nil {
		w.debounceTimer.Stop()
	}
	w.mu.Unlock()
	return w.watcher.Close()
}
