package project

import (
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"

	"webforge/internal/logging"
)

// Watcher invalidates cached framework/package-manager detection when a
// project's package.json changes on disk. A long-running desktop session
// would otherwise keep stale answers after an install or a manual edit.
type Watcher struct {
	fsw *fsnotify.Watcher

	mu       sync.Mutex
	handlers map[string][]func() // keyed by project dir
	done     chan struct{}
}

// NewWatcher starts a manifest watcher.
func NewWatcher() (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	w := &Watcher{
		fsw:      fsw,
		handlers: map[string][]func(){},
		done:     make(chan struct{}),
	}
	go w.loop()
	return w, nil
}

// Watch registers onChange to fire when projectDir's package.json is
// written, created, renamed or removed.
func (w *Watcher) Watch(projectDir string, onChange func()) error {
	abs, err := filepath.Abs(projectDir)
	if err != nil {
		return err
	}

	w.mu.Lock()
	first := len(w.handlers[abs]) == 0
	w.handlers[abs] = append(w.handlers[abs], onChange)
	w.mu.Unlock()

	if first {
		// Watch the directory, not the file: editors and package
		// managers replace package.json atomically.
		if err := w.fsw.Add(abs); err != nil {
			return err
		}
	}
	return nil
}

func (w *Watcher) loop() {
	for {
		select {
		case <-w.done:
			return
		case ev, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			if filepath.Base(ev.Name) != "package.json" {
				continue
			}
			dir := filepath.Dir(ev.Name)
			logging.Get(logging.CategoryProject).Debugf("manifest change in %s (%s)", dir, ev.Op)

			w.mu.Lock()
			handlers := append([]func(){}, w.handlers[dir]...)
			w.mu.Unlock()
			for _, h := range handlers {
				h()
			}
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			logging.Get(logging.CategoryProject).Warnf("watcher error: %v", err)
		}
	}
}

// Close stops the watcher.
func (w *Watcher) Close() error {
	close(w.done)
	return w.fsw.Close()
}
