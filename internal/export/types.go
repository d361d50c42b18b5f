// Package export renders a timeline to a muxed video file or an audio-only
// track, and emits an edit decision list for NLE round trips.
package export

import (
	"context"
	"errors"
	"image"
	"time"

	"github.com/Dombom123/viral-launch-video/internal/media"
	"github.com/Dombom123/viral-launch-video/internal/timeline"
)

const (
	DefaultFPS          = 30
	DefaultAudioBitrate = 128_000
	DefaultVideoBitrate = 8_000_000

	MIMETypeMP4 = "video/mp4"
)

var (
	ErrEmptyTimeline     = errors.New("timeline is empty or has 0 duration")
	ErrNoOutput          = errors.New("output buffer is null")
	ErrUnsupportedFormat = errors.New("unsupported audio format")
)

// Options control one export run.
type Options struct {
	// FPS defaults to 30.
	FPS float64
	// Duration truncates the export when positive and below the timeline's
	// natural length.
	Duration float64
	// OnProgress receives values in [0, 1].
	OnProgress func(progress float64)
}

// Result is an encoded export held in memory.
type Result struct {
	Data         []byte
	MIMEType     string
	Frames       int
	AudioSeconds float64
	Elapsed      time.Duration
}

// Engine is the part of the compositor an export drives.
type Engine interface {
	Timeline() *timeline.Timeline
	Update(currentTime float64, isPlaying, wasSeeked, force bool) bool
	Redraw()
	AwaitLoads(ctx context.Context) error
	Decoder(src string) (media.Decoder, bool)
	Size() (int, int)
	Resize(w, h int)
	CopyFrame(dst *image.RGBA)
}

// Suspender pauses the interactive driver for the length of an export.
type Suspender interface {
	Suspend() (resume func())
}

// totalDuration resolves the export length from the timeline and options.
func totalDuration(tl *timeline.Timeline, opts Options) (float64, error) {
	total := timeline.Duration(tl)
	if opts.Duration > 0 && opts.Duration < total {
		total = opts.Duration
	}
	if total <= 0 {
		return 0, ErrEmptyTimeline
	}
	return total, nil
}

func (o Options) fps() float64 {
	if o.FPS <= 0 {
		return DefaultFPS
	}
	return o.FPS
}

func (o Options) progress(p float64) {
	if o.OnProgress != nil {
		o.OnProgress(p)
	}
}
