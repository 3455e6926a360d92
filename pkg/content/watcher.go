package content

import (
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
)

// DefaultDebounce is the quiet period after the last write before a reload.
const DefaultDebounce = 500 * time.Millisecond

// Watcher reloads a Library when one of its files changes.
type Watcher struct {
	library  *Library
	watcher  *fsnotify.Watcher
	logger   zerolog.Logger
	debounce time.Duration
	files    map[string]bool
	onReload func(Stats)

	mu      sync.Mutex
	timer   *time.Timer
	stopCh  chan struct{}
	stopped bool
	wg      sync.WaitGroup
}

// NewWatcher watches the directories holding the library's files.
func NewWatcher(library *Library, logger zerolog.Logger, debounce time.Duration, onReload func(Stats)) (*Watcher, error) {
	if debounce <= 0 {
		debounce = DefaultDebounce
	}

	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create file watcher: %w", err)
	}

	w := &Watcher{
		library:  library,
		watcher:  fw,
		logger:   logger,
		debounce: debounce,
		files:    make(map[string]bool),
		onReload: onReload,
		stopCh:   make(chan struct{}),
	}

	paths := library.Paths()
	dirs := map[string]bool{}
	for _, p := range []string{paths.Concepts, paths.FAQ, paths.Catalog} {
		if p == "" {
			continue
		}
		abs, err := filepath.Abs(p)
		if err != nil {
			abs = p
		}
		w.files[abs] = true
		dirs[filepath.Dir(abs)] = true
	}
	for dir := range dirs {
		if err := fw.Add(dir); err != nil {
			_ = fw.Close()
			return nil, fmt.Errorf("failed to watch %s: %w", dir, err)
		}
	}

	w.wg.Add(1)
	go w.run()
	return w, nil
}

// Stop ends the watch loop and cancels a pending reload.
func (w *Watcher) Stop() error {
	w.mu.Lock()
	if w.stopped {
		w.mu.Unlock()
		return nil
	}
	w.stopped = true
	if w.timer != nil {
		w.timer.Stop()
	}
	close(w.stopCh)
	w.mu.Unlock()

	err := w.watcher.Close()
	w.wg.Wait()
	return err
}

func (w *Watcher) run() {
	defer w.wg.Done()
	for {
		select {
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			name, err := filepath.Abs(event.Name)
			if err != nil {
				name = event.Name
			}
			if !w.files[name] {
				continue
			}
			if event.Has(fsnotify.Write) || event.Has(fsnotify.Create) || event.Has(fsnotify.Rename) || event.Has(fsnotify.Remove) {
				w.logger.Debug().
					Str("file", filepath.Base(name)).
					Str("op", event.Op.String()).
					Msg("Content change detected")
				w.scheduleReload()
			}

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Error().Err(err).Msg("Content watcher error")

		case <-w.stopCh:
			return
		}
	}
}

func (w *Watcher) scheduleReload() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.stopped {
		return
	}
	if w.timer != nil {
		w.timer.Stop()
	}
	w.timer = time.AfterFunc(w.debounce, func() {
		stats := w.library.Reload()
		w.logger.Info().Msg("Content reloaded after file change")
		if w.onReload != nil {
			w.onReload(stats)
		}
	})
}
