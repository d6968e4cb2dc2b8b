package template

import (
	"context"
	"log/slog"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/taskmesh/taskmesh/pkg/panicerr"
)

// debounceInterval lets rapid event bursts settle (editors and atomic
// renames produce several events per save) before the callback fires.
const debounceInterval = 200 * time.Millisecond

// Watcher observes a local template directory and reports changed YAML
// documents. It only makes sense over local storage; S3-backed stores are
// reloaded explicitly by the host.
type Watcher struct {
	watcher  *fsnotify.Watcher
	onChange func(path string)

	mu     sync.Mutex
	timers map[string]*time.Timer
}

// NewWatcher watches dir and its immediate subdirectories. onChange
// receives the absolute path of each changed .yaml document, debounced.
func NewWatcher(dir string, onChange func(path string)) (*Watcher, error) {
	fsWatcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	for _, d := range []string{dir, filepath.Join(dir, agentsPrefix), filepath.Join(dir, workflowsPrefix)} {
		if err := fsWatcher.Add(d); err != nil {
			slog.Debug("template: directory not watchable yet", "dir", d, "error", err)
		}
	}

	return &Watcher{
		watcher:  fsWatcher,
		onChange: onChange,
		timers:   make(map[string]*time.Timer),
	}, nil
}

// Run blocks until ctx is cancelled or the underlying watcher closes.
func (w *Watcher) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case event, ok := <-w.watcher.Events:
			if !ok {
				return nil
			}
			if !strings.HasSuffix(event.Name, ".yaml") && !strings.HasSuffix(event.Name, ".yml") {
				continue
			}
			// Create catches atomic write-then-rename saves.
			if event.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Rename) == 0 {
				continue
			}
			w.schedule(event.Name)
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return nil
			}
			slog.Error("template: watch error", "error", err)
		}
	}
}

func (w *Watcher) schedule(path string) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if timer, exists := w.timers[path]; exists {
		timer.Stop()
	}
	w.timers[path] = time.AfterFunc(debounceInterval, func() {
		w.mu.Lock()
		delete(w.timers, path)
		w.mu.Unlock()

		slog.Info("template: document changed", "path", path)
		// The callback is host code running on a timer goroutine; a panic
		// here would take the process down.
		err := panicerr.Safe(func() error {
			w.onChange(path)
			return nil
		})()
		if err != nil {
			slog.Error("template: change handler panicked", "path", path, "error", err)
		}
	})
}

func (w *Watcher) Close() error {
	w.mu.Lock()
	for _, timer := range w.timers {
		timer.Stop()
	}
	w.mu.Unlock()
	return w.watcher.Close()
}
