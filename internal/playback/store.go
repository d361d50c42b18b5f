// Package playback holds the transport state of the interactive session and
// the ticker that drives the compositor from it.
package playback

import (
	"sync"

	"github.com/Dombom123/viral-launch-video/internal/timeline"
)

// State is a snapshot of the transport.
type State struct {
	CurrentTime float64 `json:"current_time"`
	IsPlaying   bool    `json:"is_playing"`
	Duration    float64 `json:"duration"`
	WasSeeked   bool    `json:"was_seeked"`
}

// Store is the single source of transport truth. It owns the current
// timeline. All methods are safe for concurrent use.
type Store struct {
	mu    sync.RWMutex
	tl    *timeline.Timeline
	state State

	subMu   sync.Mutex
	subs    map[int]chan State
	nextSub int
}

func NewStore() *Store {
	return &Store{
		tl:   &timeline.Timeline{},
		subs: make(map[int]chan State),
	}
}

// SetTimeline replaces the timeline, recomputes the duration and restarts
// the transport at 0.
func (s *Store) SetTimeline(tl *timeline.Timeline) {
	if tl == nil {
		tl = &timeline.Timeline{}
	}
	s.mu.Lock()
	s.tl = tl
	s.state.Duration = timeline.Duration(tl)
	s.state.CurrentTime = 0
	s.state.WasSeeked = true
	st := s.state
	s.mu.Unlock()
	s.notify(st)
}

func (s *Store) Timeline() *timeline.Timeline {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.tl
}

func (s *Store) State() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

func (s *Store) Play() {
	s.mutate(func(st *State) { st.IsPlaying = true })
}

func (s *Store) Pause() {
	s.mutate(func(st *State) { st.IsPlaying = false })
}

// Seek jumps to t, clamped into [0, duration].
func (s *Store) Seek(t float64) {
	s.mutate(func(st *State) { st.setTime(t) })
}

// SetTime is an explicit jump, e.g. the end-of-playback clamp.
func (s *Store) SetTime(t float64) {
	s.mutate(func(st *State) { st.setTime(t) })
}

// SetTimeSmooth moves time continuously; it never raises the seek flag.
func (s *Store) SetTimeSmooth(t float64) {
	s.mutate(func(st *State) { st.setTimeSmooth(t) })
}

// Advance runs one interactive tick step of delta seconds and consumes the
// seek flag. The returned state reports WasSeeked when a jump happened since
// the previous Advance.
func (s *Store) Advance(delta float64) State {
	s.mu.Lock()
	pending := s.state.WasSeeked
	if s.state.IsPlaying {
		next := s.state.CurrentTime + delta
		if next >= s.state.Duration {
			s.state.IsPlaying = false
			s.state.setTime(s.state.Duration)
		} else {
			s.state.setTimeSmooth(next)
		}
	}
	out := s.state
	out.WasSeeked = pending || s.state.WasSeeked
	s.state.WasSeeked = false
	changed := s.state
	s.mu.Unlock()

	if out.IsPlaying || out.WasSeeked {
		s.notify(changed)
	}
	return out
}

// Subscribe returns a channel receiving the newest state after each change.
// Slow readers only see the latest value. Call the returned func to
// unsubscribe.
func (s *Store) Subscribe() (<-chan State, func()) {
	ch := make(chan State, 1)

	s.subMu.Lock()
	id := s.nextSub
	s.nextSub++
	s.subs[id] = ch
	s.subMu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			s.subMu.Lock()
			delete(s.subs, id)
			s.subMu.Unlock()
		})
	}
}

func (s *Store) mutate(fn func(st *State)) {
	s.mu.Lock()
	fn(&s.state)
	st := s.state
	s.mu.Unlock()
	s.notify(st)
}

func (s *Store) notify(st State) {
	s.subMu.Lock()
	defer s.subMu.Unlock()
	for _, ch := range s.subs {
		select {
		case <-ch:
		default:
		}
		select {
		case ch <- st:
		default:
		}
	}
}

func (st *State) setTime(t float64) {
	st.CurrentTime = clamp(t, st.Duration)
	st.WasSeeked = true
}

func (st *State) setTimeSmooth(t float64) {
	st.CurrentTime = clamp(t, st.Duration)
	st.WasSeeked = false
}

func clamp(t, duration float64) float64 {
	if t != t || t < 0 {
		return 0
	}
	if t > duration {
		return duration
	}
	return t
}
