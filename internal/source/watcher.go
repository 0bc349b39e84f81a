package source

import (
	"fmt"
	"log"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

const watchDebounce = 500 * time.Millisecond

// MutationFunc is invoked when a watched location changes on disk.
type MutationFunc func(location string)

// Watcher reports external writes to file-backed locations so the viewer
// can invalidate cached pages. fsnotify watches directories, so events are
// filtered back down to the registered files and debounced: editors and
// exporters tend to burst several writes per save.
type Watcher struct {
	fw *fsnotify.Watcher

	mu       sync.Mutex
	paths    map[string]MutationFunc // abs path → callback
	watched  map[string]bool         // dirs added to fsnotify
	timers   map[string]*time.Timer
	stopOnce sync.Once
	done     chan struct{}
}

func NewWatcher() (*Watcher, error) {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create watcher: %w", err)
	}
	w := &Watcher{
		fw:      fw,
		paths:   make(map[string]MutationFunc),
		watched: make(map[string]bool),
		timers:  make(map[string]*time.Timer),
		done:    make(chan struct{}),
	}
	go w.loop()
	return w, nil
}

// Watch registers a file location. The callback runs on a timer goroutine
// after writes settle.
func (w *Watcher) Watch(location string, fn MutationFunc) error {
	abs, err := filepath.Abs(location)
	if err != nil {
		return fmt.Errorf("bad path %q: %w", location, err)
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	w.paths[abs] = fn

	dir := filepath.Dir(abs)
	if !w.watched[dir] {
		if err := w.fw.Add(dir); err != nil {
			return fmt.Errorf("watch dir %q: %w", dir, err)
		}
		w.watched[dir] = true
	}
	return nil
}

func (w *Watcher) loop() {
	for {
		select {
		case <-w.done:
			return
		case event, ok := <-w.fw.Events:
			if !ok {
				return
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Rename) {
				continue
			}
			abs, _ := filepath.Abs(event.Name)
			w.mu.Lock()
			fn, ok := w.paths[abs]
			if !ok {
				w.mu.Unlock()
				continue
			}
			if t, exists := w.timers[abs]; exists {
				t.Stop()
			}
			path := abs
			w.timers[abs] = time.AfterFunc(watchDebounce, func() {
				log.Printf("[WATCH] %s changed", path)
				fn(path)
			})
			w.mu.Unlock()
		case err, ok := <-w.fw.Errors:
			if !ok {
				return
			}
			log.Printf("[WATCH] error: %v", err)
		}
	}
}

func (w *Watcher) Close() error {
	w.stopOnce.Do(func() {
		close(w.done)
		w.mu.Lock()
		for _, t := range w.timers {
			t.Stop()
		}
		w.mu.Unlock()
	})
	return w.fw.Close()
}
