// Package watcher reports changes to configuration files so the worker can restart on edits.
package watcher

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog/log"
)

// Change describes a debounced modification of a watched file.
type Change struct {
	Path    string
	Removed bool
}

// Watcher monitors a set of files and calls onChange once per burst of edits to each.
// It watches parent directories since fsnotify cannot watch files that do not exist yet,
// and editors often replace files by rename.
type Watcher struct {
	targets  map[string]struct{} // cleaned target paths
	parents  map[string]struct{}
	onChange func(Change)
	watcher  *fsnotify.Watcher
	ctx      context.Context
	cancel   context.CancelFunc
	mu       sync.Mutex
	running  bool
	debounce time.Duration
}

// Option configures a Watcher.
type Option func(*Watcher)

// WithDebounce sets how long a file must be quiet before onChange fires. Default 250ms.
func WithDebounce(d time.Duration) Option {
	return func(w *Watcher) { w.debounce = d }
}

// New creates a Watcher for paths.
func New(paths []string, onChange func(Change), opts ...Option) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(context.Background())

	w := &Watcher{
		targets:  make(map[string]struct{}, len(paths)),
		parents:  make(map[string]struct{}, len(paths)),
		onChange: onChange,
		watcher:  fsw,
		ctx:      ctx,
		cancel:   cancel,
		debounce: 250 * time.Millisecond,
	}
	for _, p := range paths {
		clean := filepath.Clean(p)
		w.targets[clean] = struct{}{}
		w.parents[filepath.Dir(clean)] = struct{}{}
	}
	for _, opt := range opts {
		opt(w)
	}
	return w, nil
}

// Start begins watching. Parents that do not exist yet are skipped with a warning.
func (w *Watcher) Start() error {
	w.mu.Lock()
	if w.running {
		w.mu.Unlock()
		return nil
	}
	w.running = true
	w.mu.Unlock()

	for parent := range w.parents {
		if err := w.addWatch(parent); err != nil {
			log.Warn().Err(err).Str("path", parent).Msg("Failed to add watch")
		}
	}

	go w.watchLoop()
	return nil
}

// Stop stops the watcher.
func (w *Watcher) Stop() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if !w.running {
		return nil
	}

	w.running = false
	w.cancel()
	return w.watcher.Close()
}

func (w *Watcher) addWatch(dir string) error {
	if _, err := os.Stat(dir); err != nil {
		return err
	}
	return w.watcher.Add(dir)
}

// watchLoop is the main event loop. Each target has its own debounce timer.
func (w *Watcher) watchLoop() {
	timers := make(map[string]*time.Timer)
	defer func() {
		for _, t := range timers {
			t.Stop()
		}
	}()

	for {
		select {
		case <-w.ctx.Done():
			return

		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}

			path := filepath.Clean(event.Name)
			if _, watched := w.targets[path]; !watched {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Remove|fsnotify.Rename) == 0 {
				continue
			}

			log.Debug().Str("path", path).Str("op", event.Op.String()).Msg("Watched file event")

			if t, exists := timers[path]; exists {
				t.Stop()
			}
			timers[path] = time.AfterFunc(w.debounce, func() {
				w.fire(path)
			})

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			log.Error().Err(err).Msg("Watcher error")
		}
	}
}

// fire reports the settled state of path.
func (w *Watcher) fire(path string) {
	if w.ctx.Err() != nil {
		return
	}

	_, err := os.Stat(path)
	change := Change{Path: path, Removed: os.IsNotExist(err)}

	log.Info().Str("path", path).Bool("removed", change.Removed).Msg("Watched file changed")
	if w.onChange != nil {
		w.onChange(change)
	}
}
