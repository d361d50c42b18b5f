// Package watcher reloads the timeline file when it changes on disk.
package watcher

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/Dombom123/viral-launch-video/internal/timeline"
)

// DefaultDebounce coalesces the burst of events editors emit on save.
const DefaultDebounce = 500 * time.Millisecond

type EventType int

const (
	EventCreate EventType = iota
	EventModify
	EventDelete
)

func (e EventType) String() string {
	switch e {
	case EventCreate:
		return "create"
	case EventModify:
		return "modify"
	case EventDelete:
		return "delete"
	}
	return "unknown"
}

func classify(op fsnotify.Op) (EventType, bool) {
	switch {
	case op.Has(fsnotify.Create):
		return EventCreate, true
	case op.Has(fsnotify.Write):
		return EventModify, true
	case op.Has(fsnotify.Remove), op.Has(fsnotify.Rename):
		return EventDelete, true
	}
	return 0, false
}

// TimelineWatcher watches one timeline file. The parent directory is
// watched rather than the file so atomic replaces (rename over the old
// file) are seen.
type TimelineWatcher struct {
	path     string
	onChange func(*timeline.Timeline)
	logger   *slog.Logger
	debounce time.Duration

	mu   sync.Mutex
	fsw  *fsnotify.Watcher
	done chan struct{}
}

func NewTimelineWatcher(path string, onChange func(*timeline.Timeline), logger *slog.Logger) *TimelineWatcher {
	return &TimelineWatcher{
		path:     filepath.Clean(path),
		onChange: onChange,
		logger:   logger,
		debounce: DefaultDebounce,
	}
}

// Watch starts the watch loop. It returns once the watch is registered;
// the loop runs until ctx is done or Stop is called.
func (w *TimelineWatcher) Watch(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.fsw != nil {
		return errors.New("watcher already started")
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	if err := fsw.Add(filepath.Dir(w.path)); err != nil {
		_ = fsw.Close()
		return fmt.Errorf("watch timeline dir: %w", err)
	}

	w.fsw = fsw
	w.done = make(chan struct{})
	w.logger.Info("watching timeline file", "path", w.path)

	go w.loop(ctx, fsw, w.done)
	return nil
}

// Stop closes the watcher and waits for the loop to exit.
func (w *TimelineWatcher) Stop() error {
	w.mu.Lock()
	fsw, done := w.fsw, w.done
	w.fsw = nil
	w.mu.Unlock()

	if fsw == nil {
		return nil
	}
	err := fsw.Close()
	<-done
	return err
}

func (w *TimelineWatcher) loop(ctx context.Context, fsw *fsnotify.Watcher, done chan struct{}) {
	defer close(done)

	var timer *time.Timer
	var fire <-chan time.Time
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			_ = fsw.Close()
			w.logger.Info("timeline watcher stopped")
			return

		case event, ok := <-fsw.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != w.path {
				continue
			}
			kind, ok := classify(event.Op)
			if !ok {
				continue
			}
			w.logger.Debug("timeline file changed", "event", kind.String())
			if kind == EventDelete {
				// An atomic replace shows up as rename then create; keep
				// the current timeline until the new file lands.
				continue
			}
			if timer == nil {
				timer = time.NewTimer(w.debounce)
			} else {
				timer.Stop()
				timer.Reset(w.debounce)
			}
			fire = timer.C

		case <-fire:
			fire = nil
			w.reload()

		case err, ok := <-fsw.Errors:
			if !ok {
				return
			}
			w.logger.Error("timeline watcher error", "error", err)
		}
	}
}

func (w *TimelineWatcher) reload() {
	tl, err := timeline.Load(w.path)
	if err != nil {
		// Keep the previous timeline; a half-written file fixes itself
		// on the next save.
		w.logger.Warn("timeline reload failed", "path", w.path, "error", err)
		return
	}
	w.logger.Info("timeline reloaded", "path", w.path, "items", len(tl.Items), "duration", timeline.Duration(tl))
	w.onChange(tl)
}
