// Package media wraps the external media tooling the engine depends on:
// frame decoders (Vidio), ffmpeg/ffprobe subprocesses and a cached probe of
// the installed ffmpeg capabilities.
package media

import (
	"context"
	"errors"
	"image"
	"sync"
)

// ReadyState mirrors the readiness ladder of a media element.
type ReadyState int

const (
	HaveNothing ReadyState = iota
	HaveMetadata
	HaveCurrentData
	HaveFutureData
	HaveEnoughData
)

func (s ReadyState) String() string {
	switch s {
	case HaveNothing:
		return "nothing"
	case HaveMetadata:
		return "metadata"
	case HaveCurrentData:
		return "current_data"
	case HaveFutureData:
		return "future_data"
	case HaveEnoughData:
		return "enough_data"
	default:
		return "unknown"
	}
}

// ErrClosed is returned by waits on a closed decoder.
var ErrClosed = errors.New("decoder closed")

// Decoder is one loaded media source. Seek is asynchronous: it marks the
// decoder as seeking and returns; WaitSeeked blocks until the position has
// been reached. Implementations are safe for concurrent use.
type Decoder interface {
	Source() string
	// Size reports the intrinsic frame size; 0x0 when unknown.
	Size() (width, height int)
	Duration() float64
	CurrentTime() float64

	Seek(t float64)
	Seeking() bool
	ReadyState() ReadyState

	Play()
	Pause()
	Paused() bool

	WaitSeeked(ctx context.Context) error
	WaitReady(ctx context.Context, min ReadyState) error

	// DrawFrame calls fn with the current frame while holding it stable.
	// fn must not retain or modify the image. Returns false when no frame
	// has been decoded yet.
	DrawFrame(fn func(frame *image.RGBA)) bool

	Close() error
}

// Signal is a broadcast: every change closes the current channel and
// installs a new one, waking all waiters at once.
type Signal struct {
	mu sync.Mutex
	ch chan struct{}
}

func NewSignal() *Signal {
	return &Signal{ch: make(chan struct{})}
}

// C returns the channel closed by the next Broadcast.
func (s *Signal) C() <-chan struct{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ch
}

func (s *Signal) Broadcast() {
	s.mu.Lock()
	close(s.ch)
	s.ch = make(chan struct{})
	s.mu.Unlock()
}

// WaitFor blocks until cond holds, re-checking after every broadcast.
// cond is checked eagerly before the first wait.
func WaitFor(ctx context.Context, sig *Signal, done <-chan struct{}, cond func() bool) error {
	for {
		ch := sig.C()
		if cond() {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-done:
			return ErrClosed
		case <-ch:
		}
	}
}
