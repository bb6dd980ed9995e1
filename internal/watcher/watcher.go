// Package watcher detects changes to configuration files and triggers a reload.
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

const defaultDebounce = 250 * time.Millisecond

// Watcher monitors a set of files and calls onChange once a burst of
// modifications settles. It watches parent directories because editors often
// replace files by rename, and fsnotify cannot watch files that don't exist yet.
type Watcher struct {
	targets  map[string]struct{}
	parents  map[string]struct{}
	onChange func(path string)
	watcher  *fsnotify.Watcher
	ctx      context.Context
	cancel   context.CancelFunc
	mu       sync.Mutex
	running  bool
	debounce time.Duration
}

// New creates a watcher for the given files.
func New(onChange func(path string), paths ...string) (*Watcher, error) {
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
		debounce: defaultDebounce,
	}
	for _, p := range paths {
		clean := filepath.Clean(p)
		w.targets[clean] = struct{}{}
		w.parents[filepath.Dir(clean)] = struct{}{}
	}
	return w, nil
}

// SetDebounce overrides the quiet period before onChange fires.
func (w *Watcher) SetDebounce(d time.Duration) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if d > 0 {
		w.debounce = d
	}
}

// Start begins watching for changes.
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
			log.Warn().Err(err).Str("path", parent).Msg("Failed to add initial watch")
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

func (w *Watcher) watchLoop() {
	var (
		debounceTimer *time.Timer
		lastPath      string
	)

	for {
		select {
		case <-w.ctx.Done():
			if debounceTimer != nil {
				debounceTimer.Stop()
			}
			return

		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}

			eventPath := filepath.Clean(event.Name)

			// Parent directory recreated: re-establish watch.
			if _, isParent := w.parents[eventPath]; isParent && event.Op&fsnotify.Create != 0 {
				log.Info().Str("path", eventPath).Msg("Config directory recreated, re-establishing watch")
				_ = w.addWatch(eventPath)
				continue
			}

			if _, isTarget := w.targets[eventPath]; !isTarget {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename|fsnotify.Remove) == 0 {
				continue
			}

			log.Debug().Str("path", eventPath).Str("op", event.Op.String()).Msg("Config file event")
			lastPath = eventPath
			if debounceTimer != nil {
				debounceTimer.Stop()
			}
			path := lastPath
			w.mu.Lock()
			delay := w.debounce
			w.mu.Unlock()
			debounceTimer = time.AfterFunc(delay, func() {
				w.handleChange(path)
			})

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			log.Error().Err(err).Msg("Watcher error")
		}
	}
}

func (w *Watcher) handleChange(path string) {
	if w.ctx.Err() != nil {
		return
	}
	log.Info().Str("path", path).Msg("Config file changed")
	if w.onChange != nil {
		w.onChange(path)
	}
}
