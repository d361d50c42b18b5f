package media

import (
	"context"
	"fmt"
	"image"
	"log/slog"
	"math"
	"sync"
	"time"

	vidio "github.com/AlexEidt/Vidio"
)

// VidioDecoder decodes a video file through Vidio. One goroutine owns the
// underlying stream; it reads sequentially at the source frame rate while
// playing and services seeks by reading forward, reopening the stream when
// the target lies behind the read position.
type VidioDecoder struct {
	src    string
	path   string
	logger *slog.Logger

	width    int
	height   int
	fps      float64
	frames   int
	duration float64

	mu          sync.RWMutex
	current     float64
	seeking     bool
	ready       ReadyState
	paused      bool
	front       *image.RGBA
	back        *image.RGBA
	hasFrame    bool
	pendingSeek *float64
	changed     *Signal

	// owned by run
	video *vidio.Video
	pos   int

	wake      chan struct{}
	quit      chan struct{}
	done      chan struct{}
	closeOnce sync.Once
}

// OpenVidio opens path, decodes the first frame and starts the reader
// goroutine. src is the timeline identifier the decoder is registered under.
func OpenVidio(src, path string, logger *slog.Logger) (*VidioDecoder, error) {
	video, err := vidio.NewVideo(path)
	if err != nil {
		return nil, fmt.Errorf("open video: %w", err)
	}

	fps := video.FPS()
	if fps <= 0 || math.IsNaN(fps) {
		fps = 30
	}

	d := &VidioDecoder{
		src:      src,
		path:     path,
		logger:   logger.With("src", src),
		width:    video.Width(),
		height:   video.Height(),
		fps:      fps,
		frames:   video.Frames(),
		duration: video.Duration(),
		ready:    HaveMetadata,
		paused:   true,
		front:    image.NewRGBA(image.Rect(0, 0, video.Width(), video.Height())),
		back:     image.NewRGBA(image.Rect(0, 0, video.Width(), video.Height())),
		changed:  NewSignal(),
		video:    video,
		wake:     make(chan struct{}, 1),
		quit:     make(chan struct{}),
		done:     make(chan struct{}),
	}

	if d.readNext() {
		d.mu.Lock()
		d.ready = HaveEnoughData
		d.mu.Unlock()
	}

	go d.run()
	return d, nil
}

func (d *VidioDecoder) Source() string { return d.src }
func (d *VidioDecoder) Size() (int, int) { return d.width, d.height }
func (d *VidioDecoder) Duration() float64 { return d.duration }
func (d *VidioDecoder) FrameRate() float64 { return d.fps }
func (d *VidioDecoder) String() string { return "vidio:" + d.src }

func (d *VidioDecoder) CurrentTime() float64 {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.current
}

func (d *VidioDecoder) Seeking() bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.seeking
}

func (d *VidioDecoder) ReadyState() ReadyState {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.ready
}

func (d *VidioDecoder) Paused() bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.paused
}

func (d *VidioDecoder) Seek(t float64) {
	d.mu.Lock()
	d.pendingSeek = &t
	d.seeking = true
	d.mu.Unlock()
	d.changed.Broadcast()
	d.poke()
}

func (d *VidioDecoder) Play() {
	d.setPaused(false)
}

func (d *VidioDecoder) Pause() {
	d.setPaused(true)
}

func (d *VidioDecoder) setPaused(paused bool) {
	d.mu.Lock()
	if d.paused == paused {
		d.mu.Unlock()
		return
	}
	d.paused = paused
	d.mu.Unlock()
	d.changed.Broadcast()
}

func (d *VidioDecoder) WaitSeeked(ctx context.Context) error {
	return WaitFor(ctx, d.changed, d.quit, func() bool { return !d.Seeking() })
}

func (d *VidioDecoder) WaitReady(ctx context.Context, min ReadyState) error {
	return WaitFor(ctx, d.changed, d.quit, func() bool { return d.ReadyState() >= min })
}

func (d *VidioDecoder) DrawFrame(fn func(frame *image.RGBA)) bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if !d.hasFrame {
		return false
	}
	fn(d.front)
	return true
}

// Close stops the reader goroutine and releases the stream.
func (d *VidioDecoder) Close() error {
	d.closeOnce.Do(func() {
		d.Pause()
		close(d.quit)
		<-d.done
		d.mu.Lock()
		d.ready = HaveNothing
		d.hasFrame = false
		d.mu.Unlock()
		d.changed.Broadcast()
	})
	return nil
}

func (d *VidioDecoder) poke() {
	select {
	case d.wake <- struct{}{}:
	default:
	}
}

func (d *VidioDecoder) run() {
	defer close(d.done)
	defer func() {
		if d.video != nil {
			d.video.Close()
		}
	}()

	ticker := time.NewTicker(time.Duration(float64(time.Second) / d.fps))
	defer ticker.Stop()

	for {
		select {
		case <-d.quit:
			return
		case <-d.wake:
			d.mu.Lock()
			target := d.pendingSeek
			d.pendingSeek = nil
			d.mu.Unlock()
			if target != nil {
				d.seekTo(*target)
			}
		case <-ticker.C:
			if d.Paused() || d.Seeking() {
				continue
			}
			d.advance()
		}
	}
}

func (d *VidioDecoder) advance() {
	if !d.readNext() {
		d.mu.Lock()
		d.paused = true
		d.mu.Unlock()
		d.changed.Broadcast()
		return
	}
	d.mu.Lock()
	d.current = float64(d.pos-1) / d.fps
	d.mu.Unlock()
	d.changed.Broadcast()
}

func (d *VidioDecoder) seekTo(t float64) {
	target := int(math.Floor(t*d.fps + 1e-6))
	if target < 0 {
		target = 0
	}
	if d.frames > 0 && target > d.frames-1 {
		target = d.frames - 1
	}

	// pos is the index of the next frame to decode; pos-1 is on screen.
	if target < d.pos-1 {
		d.reopen()
	}
	for d.pos <= target {
		if !d.readNext() {
			break
		}
	}

	d.mu.Lock()
	d.current = t
	d.seeking = d.pendingSeek != nil
	if d.hasFrame {
		d.ready = HaveEnoughData
	}
	d.mu.Unlock()
	d.changed.Broadcast()
}

func (d *VidioDecoder) reopen() {
	if d.video != nil {
		d.video.Close()
		d.video = nil
	}
	video, err := vidio.NewVideo(d.path)
	if err != nil {
		d.logger.Warn("failed to reopen video for seek", "error", err)
		return
	}
	d.video = video
	d.pos = 0
}

// readNext decodes one frame into the back buffer and swaps it to the front.
func (d *VidioDecoder) readNext() bool {
	if d.video == nil {
		return false
	}
	if err := d.video.SetFrameBuffer(d.back.Pix); err != nil {
		d.logger.Warn("failed to set frame buffer", "error", err)
		return false
	}
	if !d.video.Read() {
		return false
	}

	d.mu.Lock()
	d.front, d.back = d.back, d.front
	d.hasFrame = true
	d.mu.Unlock()
	d.pos++
	return true
}
