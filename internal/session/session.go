// Package session ties the playback store and the compositor to one
// current timeline.
package session

import (
	"errors"
	"log/slog"
	"sync"

	"github.com/Dombom123/viral-launch-video/internal/playback"
	"github.com/Dombom123/viral-launch-video/internal/timeline"
)

// ErrBusy is returned when the timeline is replaced during an export.
var ErrBusy = errors.New("an export is running")

// Renderer is the part of the compositor that follows timeline changes.
type Renderer interface {
	UpdateTimeline(tl *timeline.Timeline)
}

type Session struct {
	store    *playback.Store
	renderer Renderer
	logger   *slog.Logger

	mu        sync.Mutex
	exporting int
}

func New(store *playback.Store, renderer Renderer, logger *slog.Logger) *Session {
	return &Session{store: store, renderer: renderer, logger: logger}
}

func (s *Session) Store() *playback.Store {
	return s.store
}

func (s *Session) Timeline() *timeline.Timeline {
	return s.store.Timeline()
}

// SetTimeline validates tl and makes it current for both the renderer and
// the store. The transport restarts at 0.
func (s *Session) SetTimeline(tl *timeline.Timeline) error {
	if err := timeline.Validate(tl); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.exporting > 0 {
		return ErrBusy
	}

	// Renderer first: a tick landing in between renders the new timeline
	// at the old time, then the store's seek flag corrects it.
	s.renderer.UpdateTimeline(tl)
	s.store.SetTimeline(tl)

	s.logger.Info("timeline replaced", "items", len(tl.Items), "duration", timeline.Duration(tl))
	return nil
}

// SetOverlays replaces every overlay item of the current timeline and keeps
// the video items.
func (s *Session) SetOverlays(overlays []*timeline.OverlayItem) (*timeline.Timeline, error) {
	next := timeline.WithOverlays(s.Timeline(), overlays)
	if err := s.SetTimeline(next); err != nil {
		return nil, err
	}
	return next, nil
}

// BeginExport blocks timeline replacement until the returned func is
// called.
func (s *Session) BeginExport() (end func()) {
	s.mu.Lock()
	s.exporting++
	s.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			s.mu.Lock()
			s.exporting--
			s.mu.Unlock()
		})
	}
}

func (s *Session) Exporting() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.exporting > 0
}
