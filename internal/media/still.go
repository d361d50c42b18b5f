package media

import (
	"context"
	"image"
	"image/draw"
	"sync"
)

// StillDecoder presents a single image as a media source of unbounded
// duration. Seeks complete immediately. It backs still-image clips on the
// timeline.
type StillDecoder struct {
	src   string
	frame *image.RGBA

	mu      sync.RWMutex
	current float64
	paused  bool
	closed  bool
	changed *Signal
	done    chan struct{}
	once    sync.Once
}

func NewStillDecoder(src string, img image.Image) *StillDecoder {
	b := img.Bounds()
	rgba := image.NewRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	draw.Draw(rgba, rgba.Bounds(), img, b.Min, draw.Src)
	return &StillDecoder{
		src:     src,
		frame:   rgba,
		paused:  true,
		changed: NewSignal(),
		done:    make(chan struct{}),
	}
}

func (s *StillDecoder) Source() string { return s.src }

func (s *StillDecoder) Size() (int, int) {
	b := s.frame.Bounds()
	return b.Dx(), b.Dy()
}

func (s *StillDecoder) Duration() float64 { return 0 }

func (s *StillDecoder) CurrentTime() float64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.current
}

func (s *StillDecoder) Seek(t float64) {
	s.mu.Lock()
	s.current = t
	s.mu.Unlock()
	s.changed.Broadcast()
}

func (s *StillDecoder) Seeking() bool { return false }

func (s *StillDecoder) ReadyState() ReadyState {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return HaveNothing
	}
	return HaveEnoughData
}

func (s *StillDecoder) Play()  { s.setPaused(false) }
func (s *StillDecoder) Pause() { s.setPaused(true) }

func (s *StillDecoder) setPaused(p bool) {
	s.mu.Lock()
	s.paused = p
	s.mu.Unlock()
	s.changed.Broadcast()
}

func (s *StillDecoder) Paused() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.paused
}

func (s *StillDecoder) WaitSeeked(ctx context.Context) error {
	return WaitFor(ctx, s.changed, s.done, func() bool { return true })
}

func (s *StillDecoder) WaitReady(ctx context.Context, min ReadyState) error {
	return WaitFor(ctx, s.changed, s.done, func() bool { return s.ReadyState() >= min })
}

func (s *StillDecoder) DrawFrame(fn func(frame *image.RGBA)) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return false
	}
	fn(s.frame)
	return true
}

func (s *StillDecoder) Close() error {
	s.once.Do(func() {
		s.mu.Lock()
		s.closed = true
		s.paused = true
		s.mu.Unlock()
		close(s.done)
		s.changed.Broadcast()
	})
	return nil
}
