package watcher

import (
	"context"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/fsnotify/fsnotify"

	"github.com/alucardeht/code-fader/internal/logger"
)

var log = logger.ForComponent("watcher")

// Watcher reports changes to individual files. It watches each file's
// parent directory so editors that save by rename are still seen.
type Watcher struct {
	config      WatcherConfig
	fsWatcher   *fsnotify.Watcher
	fsWatcherMu sync.Mutex
	debouncer   *Debouncer

	files map[string]struct{}
	dirs  map[string]int

	mu      sync.RWMutex
	running bool
	ctx     context.Context
	cancel  context.CancelFunc
	done    chan struct{}
}

// New returns a stopped watcher that calls onFlush with each debounced
// batch of events for watched files.
func New(config WatcherConfig, onFlush func([]FileEvent)) (*Watcher, error) {
	fsWatcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	w := &Watcher{
		config:    config,
		fsWatcher: fsWatcher,
		files:     make(map[string]struct{}),
		dirs:      make(map[string]int),
	}
	w.debouncer = NewDebouncer(config.DebounceWindow, config.MaxBatchSize, onFlush)

	return w, nil
}

// WatchFile starts reporting events for path. Watching the same path twice
// is a no-op.
func (w *Watcher) WatchFile(path string) error {
	path = filepath.Clean(path)
	if w.shouldIgnore(path) {
		log.Debug("not watching ignored file", "path", path)
		return nil
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	if _, ok := w.files[path]; ok {
		return nil
	}

	dir := filepath.Dir(path)
	if w.dirs[dir] == 0 {
		w.fsWatcherMu.Lock()
		err := w.fsWatcher.Add(dir)
		w.fsWatcherMu.Unlock()
		if err != nil {
			return err
		}
		log.Debug("watching directory", "path", dir)
	}
	w.dirs[dir]++
	w.files[path] = struct{}{}
	return nil
}

// UnwatchFile stops reporting events for path and releases its directory
// once no other watched file lives there.
func (w *Watcher) UnwatchFile(path string) {
	path = filepath.Clean(path)

	w.mu.Lock()
	defer w.mu.Unlock()

	if _, ok := w.files[path]; !ok {
		return
	}
	delete(w.files, path)

	dir := filepath.Dir(path)
	w.dirs[dir]--
	if w.dirs[dir] > 0 {
		return
	}
	delete(w.dirs, dir)

	w.fsWatcherMu.Lock()
	defer w.fsWatcherMu.Unlock()
	if err := w.fsWatcher.Remove(dir); err != nil {
		log.Debug("failed to unwatch directory", "path", dir, "error", err)
	}
}

// Files lists the watched paths in order.
func (w *Watcher) Files() []string {
	w.mu.RLock()
	defer w.mu.RUnlock()
	out := make([]string, 0, len(w.files))
	for f := range w.files {
		out = append(out, f)
	}
	sort.Strings(out)
	return out
}

func (w *Watcher) Start(ctx context.Context) error {
	log.Info("starting file watcher")

	w.mu.Lock()
	if w.running {
		w.mu.Unlock()
		return nil
	}

	w.running = true
	w.ctx, w.cancel = context.WithCancel(ctx)
	w.done = make(chan struct{})
	w.mu.Unlock()

	go w.handleEvents()

	return nil
}

func (w *Watcher) handleEvents() {
	defer close(w.done)
	for {
		select {
		case <-w.ctx.Done():
			return

		case event, ok := <-w.fsWatcher.Events:
			if !ok {
				return
			}

			if fileEvent := w.convertEvent(event); fileEvent != nil {
				log.Debug("file event", "path", event.Name, "op", event.Op.String())
				w.debouncer.Add(*fileEvent)
			}

		case err, ok := <-w.fsWatcher.Errors:
			if !ok {
				return
			}
			log.Warn("watcher error", "error", err)
		}
	}
}

func (w *Watcher) convertEvent(event fsnotify.Event) *FileEvent {
	path := filepath.Clean(event.Name)

	w.mu.RLock()
	_, watched := w.files[path]
	w.mu.RUnlock()
	if !watched || w.shouldIgnore(path) {
		return nil
	}

	var eventType EventType

	switch {
	case event.Has(fsnotify.Create):
		eventType = EventCreate
	case event.Has(fsnotify.Write):
		eventType = EventModify
	case event.Has(fsnotify.Remove):
		eventType = EventDelete
	case event.Has(fsnotify.Rename):
		eventType = EventRename
	default:
		return nil
	}

	return &FileEvent{
		Path:      path,
		Type:      eventType,
		Timestamp: time.Now(),
	}
}

func (w *Watcher) shouldIgnore(path string) bool {
	basename := filepath.Base(path)

	if !w.config.WatchHidden && strings.HasPrefix(basename, ".") {
		return true
	}

	for _, pattern := range w.config.IgnorePatterns {
		if match, _ := doublestar.Match(pattern, path); match {
			return true
		}
	}

	return false
}

// Stop flushes pending events and closes the underlying watcher.
func (w *Watcher) Stop() error {
	log.Info("stopping file watcher")

	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		w.fsWatcherMu.Lock()
		defer w.fsWatcherMu.Unlock()
		return w.fsWatcher.Close()
	}

	w.running = false
	w.cancel()
	done := w.done
	w.mu.Unlock()

	<-done
	w.debouncer.Stop()

	w.fsWatcherMu.Lock()
	defer w.fsWatcherMu.Unlock()
	return w.fsWatcher.Close()
}
