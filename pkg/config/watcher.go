package config

import (
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// ReloadHandler receives the freshly loaded configuration after a change to
// the watched file. It is never called with an invalid config.
type ReloadHandler func(*Config)

// Watcher reloads configuration when the backing file changes on disk.
// Editors often emit several write events for one save, so reloads are
// debounced.
type Watcher struct {
	path    string
	handler ReloadHandler
	fw      *fsnotify.Watcher

	debounceMu    sync.Mutex
	debounceTimer *time.Timer

	done chan struct{}
}

const reloadDebounce = 250 * time.Millisecond

// Watch begins watching path and invokes handler on each successful reload.
// Reload failures are ignored: the previous configuration stays in effect.
func Watch(path string, handler ReloadHandler) (*Watcher, error) {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create fsnotify watcher: %w", err)
	}

	// Watch the directory rather than the file: editors replace files on
	// save, which drops the watch on some platforms.
	if err := fw.Add(filepath.Dir(path)); err != nil {
		fw.Close()
		return nil, fmt.Errorf("watch %s: %w", filepath.Dir(path), err)
	}

	w := &Watcher{
		path:    path,
		handler: handler,
		fw:      fw,
		done:    make(chan struct{}),
	}
	go w.loop()
	return w, nil
}

func (w *Watcher) loop() {
	for {
		select {
		case event, ok := <-w.fw.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != filepath.Clean(w.path) {
				continue
			}
			if event.Has(fsnotify.Write) || event.Has(fsnotify.Create) {
				w.scheduleReload()
			}
		case _, ok := <-w.fw.Errors:
			if !ok {
				return
			}
		case <-w.done:
			return
		}
	}
}

func (w *Watcher) scheduleReload() {
	w.debounceMu.Lock()
	defer w.debounceMu.Unlock()

	if w.debounceTimer != nil {
		w.debounceTimer.Stop()
	}
	w.debounceTimer = time.AfterFunc(reloadDebounce, func() {
		cfg, err := LoadFromPath(w.path)
		if err != nil {
			return
		}
		w.handler(cfg)
	})
}

// Close stops watching.
func (w *Watcher) Close() error {
	close(w.done)
	w.debounceMu.Lock()
	if w.debounceTimer != nil {
		w.debounceTimer.Stop()
	}
	w.debounceMu.Unlock()
	return w.fw.Close()
}
