package config

import (
	"context"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	ferrors "git.home.luguber.info/inful/meterd/internal/foundation/errors"
	"git.home.luguber.info/inful/meterd/internal/logfields"
)

// DefaultDebounce is how long the watcher waits for writes to settle.
const DefaultDebounce = 500 * time.Millisecond

// ReloadFunc receives each successfully loaded configuration that differs
// from the previous one.
type ReloadFunc func(ctx context.Context, prev, next *Config)

// Watcher reloads the configuration file when it changes.
type Watcher struct {
	path     string
	watcher  *fsnotify.Watcher
	onReload ReloadFunc
	debounce time.Duration
	logger   *slog.Logger

	mu      sync.Mutex
	current *Config
	stop    chan struct{}
	reload  chan struct{}
	wg      sync.WaitGroup
}

// NewWatcher watches path. current is the configuration already in effect.
func NewWatcher(path string, current *Config, onReload ReloadFunc, logger *slog.Logger) (*Watcher, error) {
	if logger == nil {
		logger = slog.Default()
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, ferrors.WrapError(err, ferrors.CategoryConfig, "failed to resolve config path").
			WithContext("path", path).Build()
	}
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, ferrors.WrapError(err, ferrors.CategoryRuntime, "failed to create file watcher").Build()
	}
	return &Watcher{
		path:     abs,
		watcher:  fw,
		onReload: onReload,
		debounce: DefaultDebounce,
		logger:   logger,
		current:  current,
		stop:     make(chan struct{}),
		reload:   make(chan struct{}, 1),
	}, nil
}

// SetDebounce changes the settle time. Call before Start.
func (w *Watcher) SetDebounce(d time.Duration) { w.debounce = d }

// Current returns the configuration in effect.
func (w *Watcher) Current() *Config {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.current
}

// Start begins watching. The directory is watched rather than the file so
// editors that replace the file are seen.
func (w *Watcher) Start(ctx context.Context) error {
	dir := filepath.Dir(w.path)
	if err := w.watcher.Add(dir); err != nil {
		return ferrors.WrapError(err, ferrors.CategoryRuntime, "failed to watch config directory").
			WithContext("dir", dir).Build()
	}
	w.logger.Info("Starting configuration watcher", logfields.Path(w.path))
	w.wg.Add(2)
	go w.watchLoop(ctx)
	go w.reloadLoop(ctx)
	return nil
}

// Stop ends watching and waits for the loops to exit.
func (w *Watcher) Stop() error {
	select {
	case <-w.stop:
		return nil
	default:
		close(w.stop)
	}
	err := w.watcher.Close()
	w.wg.Wait()
	return err
}

func (w *Watcher) watchLoop(ctx context.Context) {
	defer w.wg.Done()
	name := filepath.Base(w.path)
	for {
		select {
		case <-ctx.Done():
			return
		case <-w.stop:
			return
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if filepath.Base(event.Name) != name {
				continue
			}
			switch {
			case event.Has(fsnotify.Write), event.Has(fsnotify.Create), event.Has(fsnotify.Rename):
				w.logger.Debug("Config file change detected", logfields.Path(event.Name), slog.String("op", event.Op.String()))
				w.trigger()
			case event.Has(fsnotify.Remove):
				w.logger.Warn("Config file removed", logfields.Path(event.Name))
			}
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Error("Config watcher error", logfields.Error(err))
		}
	}
}

func (w *Watcher) trigger() {
	select {
	case w.reload <- struct{}{}:
	default:
	}
}

func (w *Watcher) reloadLoop(ctx context.Context) {
	defer w.wg.Done()
	var timer *time.Timer
	var fire <-chan time.Time
	for {
		select {
		case <-ctx.Done():
			if timer != nil {
				timer.Stop()
			}
			return
		case <-w.stop:
			if timer != nil {
				timer.Stop()
			}
			return
		case <-w.reload:
			if timer != nil {
				timer.Stop()
			}
			timer = time.NewTimer(w.debounce)
			fire = timer.C
		case <-fire:
			fire = nil
			if err := w.Reload(ctx); err != nil {
				w.logger.Error("Failed to reload configuration", logfields.Path(w.path), logfields.Error(err))
			}
		}
	}
}

// Reload loads the file now and calls the reload callback when the result
// differs from the configuration in effect. An invalid file leaves the
// current configuration in place.
func (w *Watcher) Reload(ctx context.Context) error {
	next, err := Load(w.path)
	if err != nil {
		return err
	}
	w.mu.Lock()
	prev := w.current
	if prev != nil && prev.Snapshot() == next.Snapshot() {
		w.mu.Unlock()
		w.logger.Debug("Configuration unchanged", logfields.Path(w.path))
		return nil
	}
	w.current = next
	w.mu.Unlock()

	w.logger.Info("Configuration reloaded", logfields.Path(w.path))
	if w.onReload != nil {
		w.onReload(ctx, prev, next)
	}
	return nil
}
