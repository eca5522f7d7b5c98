package config

import (
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"

	"github.com/stellarlinkco/hookflow/internal/logging"
	"github.com/stellarlinkco/hookflow/pkg/core/hooks"
)

// DefaultDebounce coalesces the event bursts editors produce when they
// write-then-rename a settings file.
const DefaultDebounce = 200 * time.Millisecond

// Watcher observes the scope settings directories and reports which scope
// changed. Directories rather than files are watched so atomic replaces and
// first-time creation are seen.
type Watcher struct {
	watcher  *fsnotify.Watcher
	scopes   map[string]hooks.Scope // watched dir -> scope it feeds
	debounce time.Duration
	callback func(hooks.Scope)
	logger   zerolog.Logger

	mu      sync.Mutex
	pending map[hooks.Scope]*time.Timer
	closed  bool
}

// Watch starts watching the loader's scope directories. The callback runs on
// the watcher goroutine after the debounce window closes; callers reload the
// scope and swap the registry partition from it. Scopes whose directory does
// not exist yet are skipped.
func (l *Loader) Watch(callback func(hooks.Scope)) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	w := &Watcher{
		watcher:  fsw,
		scopes:   make(map[string]hooks.Scope, 2),
		debounce: DefaultDebounce,
		callback: callback,
		logger:   logging.Component("config.watch"),
		pending:  make(map[hooks.Scope]*time.Timer),
	}

	dirs := map[string]hooks.Scope{
		l.hostDir(): hooks.ScopeHost,
	}
	if dir := l.projectDir(); dir != "" {
		dirs[dir] = hooks.ScopeProject
	}
	for dir, scope := range dirs {
		if err := fsw.Add(dir); err != nil {
			w.logger.Debug().Str("dir", dir).Err(err).Msg("scope dir not watchable, skipping")
			continue
		}
		w.scopes[dir] = scope
	}

	go w.run()
	return w, nil
}

func (w *Watcher) run() {
	for {
		select {
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Remove|fsnotify.Rename) == 0 {
				continue
			}
			if !isSettingsName(filepath.Base(event.Name)) {
				continue
			}
			scope, ok := w.scopes[filepath.Dir(event.Name)]
			if !ok {
				continue
			}
			w.schedule(scope)
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Warn().Err(err).Msg("watcher error")
		}
	}
}

// schedule arms (or re-arms) the per-scope debounce timer.
func (w *Watcher) schedule(scope hooks.Scope) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return
	}
	if timer, ok := w.pending[scope]; ok {
		timer.Stop()
	}
	w.pending[scope] = time.AfterFunc(w.debounce, func() {
		w.mu.Lock()
		delete(w.pending, scope)
		closed := w.closed
		w.mu.Unlock()
		if closed || w.callback == nil {
			return
		}
		w.logger.Debug().Str("scope", string(scope)).Msg("settings changed")
		w.callback(scope)
	})
}

func isSettingsName(name string) bool {
	for _, candidate := range settingsNames {
		if name == candidate {
			return true
		}
	}
	return false
}

// Close stops the watcher and cancels any pending callbacks.
func (w *Watcher) Close() error {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return nil
	}
	w.closed = true
	for scope, timer := range w.pending {
		timer.Stop()
		delete(w.pending, scope)
	}
	w.mu.Unlock()
	return w.watcher.Close()
}
