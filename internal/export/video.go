package export

import (
	"context"
	"fmt"
	"image"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"time"

	"github.com/Dombom123/viral-launch-video/internal/media"
	"github.com/Dombom123/viral-launch-video/internal/metrics"
	"github.com/Dombom123/viral-launch-video/internal/timeline"
)

// VideoExporter drives the compositor frame by frame, outside real time,
// and muxes the rendered frames with the assembled audio track.
type VideoExporter struct {
	assembler *AudioAssembler
	newMuxer  MuxerFactory
	suspender Suspender // optional
	bitrate   int
	tempDir   string
	logger    *slog.Logger
}

// VideoExporterConfig wires a VideoExporter.
type VideoExporterConfig struct {
	Assembler *AudioAssembler
	Muxer     MuxerFactory // defaults to NewVidioMuxer
	Suspender Suspender
	Bitrate   int
	TempDir   string
	Logger    *slog.Logger
}

func NewVideoExporter(cfg VideoExporterConfig) *VideoExporter {
	if cfg.Muxer == nil {
		cfg.Muxer = NewVidioMuxer
	}
	if cfg.Bitrate <= 0 {
		cfg.Bitrate = DefaultVideoBitrate
	}
	return &VideoExporter{
		assembler: cfg.Assembler,
		newMuxer:  cfg.Muxer,
		suspender: cfg.Suspender,
		bitrate:   cfg.Bitrate,
		tempDir:   cfg.TempDir,
		logger:    cfg.Logger,
	}
}

// Export renders ceil(total*fps) frames at t = i/fps. The playback store is
// never touched; the interactive ticker is suspended for the whole run.
func (x *VideoExporter) Export(ctx context.Context, engine Engine, opts Options) (res *Result, err error) {
	start := time.Now()
	defer func() {
		status := "ok"
		if err != nil {
			status = "error"
		}
		metrics.ExportsTotal.WithLabelValues("video", status).Inc()
		metrics.ExportDuration.WithLabelValues("video").Observe(time.Since(start).Seconds())
	}()

	tl := engine.Timeline()
	fps := opts.fps()
	total, err := totalDuration(tl, opts)
	if err != nil {
		return nil, err
	}

	// H.264 needs even dimensions.
	w, h := engine.Size()
	if w%2 != 0 || h%2 != 0 {
		w -= w % 2
		h -= h % 2
		engine.Resize(w, h)
	}

	dir, err := os.MkdirTemp(x.tempDir, "video-export-")
	if err != nil {
		return nil, fmt.Errorf("create work dir: %w", err)
	}
	defer os.RemoveAll(dir)

	var audioPath string
	var audioSeconds float64
	if x.assembler != nil && len(timeline.VideoItems(tl)) > 0 {
		track, err := x.assembler.Assemble(ctx, tl, total)
		if err != nil {
			return nil, fmt.Errorf("assemble audio: %w", err)
		}
		if track.Samples() > 0 {
			audioPath = filepath.Join(dir, "track.wav")
			if err := EncodeWAV(track, audioPath); err != nil {
				return nil, err
			}
			audioSeconds = track.Seconds
		}
	}

	mux, err := x.newMuxer(MuxerConfig{
		Path:      filepath.Join(dir, "out.mp4"),
		Width:     w,
		Height:    h,
		FPS:       fps,
		Bitrate:   x.bitrate,
		AudioPath: audioPath,
	})
	if err != nil {
		return nil, err
	}
	defer mux.Close()

	frames, err := x.renderFrames(ctx, engine, mux, tl, total, fps, opts)
	if err != nil {
		return nil, err
	}

	if err := mux.Close(); err != nil {
		return nil, fmt.Errorf("finalize: %w", err)
	}
	data, err := mux.Output()
	if err != nil {
		return nil, err
	}
	if len(data) == 0 {
		return nil, ErrNoOutput
	}

	x.logger.Info("video export complete",
		"frames", frames,
		"fps", fps,
		"bytes", len(data),
		"audio_seconds", audioSeconds,
		"duration_ms", time.Since(start).Milliseconds(),
	)
	return &Result{
		Data:         data,
		MIMEType:     MIMETypeMP4,
		Frames:       frames,
		AudioSeconds: audioSeconds,
		Elapsed:      time.Since(start),
	}, nil
}

func (x *VideoExporter) renderFrames(ctx context.Context, engine Engine, mux Muxer, tl *timeline.Timeline, total, fps float64, opts Options) (int, error) {
	if x.suspender != nil {
		resume := x.suspender.Suspend()
		defer resume()
	}

	if err := engine.AwaitLoads(ctx); err != nil {
		return 0, err
	}

	w, h := engine.Size()
	frame := image.NewRGBA(image.Rect(0, 0, w, h))
	dt := 1 / fps
	frameCount := int(math.Ceil(total * fps))

	for i := 0; i < frameCount; i++ {
		if err := ctx.Err(); err != nil {
			return i, err
		}
		t := float64(i) / fps
		opts.progress(float64(i) / float64(frameCount))

		engine.Update(t, false, true, true)
		if err := waitForFrame(ctx, engine, tl, t); err != nil {
			return i, err
		}
		engine.Redraw()
		engine.CopyFrame(frame)

		if err := mux.AddFrame(frame, t, dt); err != nil {
			return i, fmt.Errorf("frame %d: %w", i, err)
		}
		metrics.ExportFrames.Inc()
	}
	opts.progress(1)
	return frameCount, nil
}

// waitForFrame blocks until the decoder of the clip active at t has
// finished seeking and has a frame to show.
func waitForFrame(ctx context.Context, engine Engine, tl *timeline.Timeline, t float64) error {
	item, ok := timeline.ActiveVideo(tl, t)
	if !ok {
		return nil
	}
	d, ok := engine.Decoder(item.Src)
	if !ok {
		return nil
	}
	if err := d.WaitSeeked(ctx); err != nil {
		return fmt.Errorf("wait for seek of %s: %w", item.Src, err)
	}
	if err := d.WaitReady(ctx, media.HaveCurrentData); err != nil {
		return fmt.Errorf("wait for data of %s: %w", item.Src, err)
	}
	return nil
}
