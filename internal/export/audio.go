package export

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/Dombom123/viral-launch-video/internal/media"
	"github.com/Dombom123/viral-launch-video/internal/metrics"
	"github.com/Dombom123/viral-launch-video/internal/timeline"
	"github.com/gopxl/beep"
	"github.com/gopxl/beep/wav"
	"golang.org/x/sync/errgroup"
)

// TrackFormat is the PCM layout every clip is normalised to before
// concatenation.
var TrackFormat = beep.Format{SampleRate: 44100, NumChannels: 2, Precision: 2}

const defaultAudioWorkers = 2

// Resolver maps a timeline src onto a path ffmpeg can open.
type Resolver interface {
	Resolve(src string) (string, error)
}

// AudioAssembler concatenates the audio of a timeline's video clips into
// one continuous track.
type AudioAssembler struct {
	runner   media.Runner
	resolver Resolver
	workers  int
	tempDir  string
	logger   *slog.Logger
}

func NewAudioAssembler(runner media.Runner, resolver Resolver, workers int, tempDir string, logger *slog.Logger) *AudioAssembler {
	if workers <= 0 {
		workers = defaultAudioWorkers
	}
	return &AudioAssembler{
		runner:   runner,
		resolver: resolver,
		workers:  workers,
		tempDir:  tempDir,
		logger:   logger,
	}
}

// Track is an assembled audio track.
type Track struct {
	Buffer *beep.Buffer
	// Seconds is the sum of the bounded extraction lengths of every clip
	// that contributed audio.
	Seconds float64
}

// Samples returns the number of sample frames in the track.
func (t *Track) Samples() int { return t.Buffer.Len() }

type clipAudio struct {
	item *timeline.VideoItem
	buf  *beep.Buffer // nil when the clip has no usable audio
}

// Assemble walks the video clips in ascending start order and appends at
// most min(clip duration, total - time assembled so far) seconds of each
// clip's audio, starting from the clip's beginning. Clips without a
// decodable audio stream are skipped and do not advance the track; a
// source shorter than its clip advances it only by what it delivered.
//
// Extraction runs in parallel, before the time assembled ahead of a clip is
// known, so each clip is extracted for min(clip duration, total) seconds.
// That can be more than its final budget (a later clip after a full earlier
// one); the excess is trimmed when the clips are appended in order.
func (a *AudioAssembler) Assemble(ctx context.Context, tl *timeline.Timeline, total float64) (*Track, error) {
	items := timeline.VideoItems(tl)
	clips := make([]clipAudio, len(items))

	workDir, err := os.MkdirTemp(a.tempDir, "audio-")
	if err != nil {
		return nil, fmt.Errorf("create audio work dir: %w", err)
	}
	defer os.RemoveAll(workDir)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(a.workers)
	for i, item := range items {
		clips[i].item = item
		budget := min(item.Duration, total)
		if budget <= 0 {
			continue
		}
		g.Go(func() error {
			buf, err := a.extract(gctx, item, budget, filepath.Join(workDir, fmt.Sprintf("clip-%03d.wav", i)))
			if err != nil {
				if gctx.Err() != nil {
					return gctx.Err()
				}
				metrics.AudioSegments.WithLabelValues("skipped").Inc()
				a.logger.Warn("failed to extract audio", "src", item.Src, "error", err)
				return nil
			}
			clips[i].buf = buf
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	track := &Track{Buffer: beep.NewBuffer(TrackFormat)}
	current := 0.0
	for _, c := range clips {
		if current >= total {
			break
		}
		if c.buf == nil {
			continue
		}
		budget := min(c.item.Duration, total-current)
		n := TrackFormat.SampleRate.N(seconds(budget))
		if have := c.buf.Len(); have < n {
			n = have
			budget = TrackFormat.SampleRate.D(n).Seconds()
		}
		track.Buffer.Append(beep.Take(n, c.buf.Streamer(0, c.buf.Len())))
		current += budget
		metrics.AudioSegments.WithLabelValues("ok").Inc()
	}
	track.Seconds = current

	a.logger.Debug("audio track assembled",
		"clips", len(items),
		"seconds", track.Seconds,
		"samples", track.Samples(),
	)
	return track, nil
}

// extract decodes up to limit seconds of item's audio into memory.
func (a *AudioAssembler) extract(ctx context.Context, item *timeline.VideoItem, limit float64, outPath string) (*beep.Buffer, error) {
	path, err := a.resolver.Resolve(item.Src)
	if err != nil {
		return nil, err
	}

	probe, err := a.runner.Probe(ctx, path)
	if err != nil {
		return nil, fmt.Errorf("probe: %w", err)
	}
	if !probe.HasAudio {
		return nil, errors.New("no audio stream")
	}

	res, err := a.runner.ExtractAudio(ctx, path, limit, outPath)
	if err != nil {
		return nil, err
	}
	if !res.IsSuccess() {
		return nil, fmt.Errorf("ffmpeg exited %d: %s", res.ExitCode, res.StderrTail)
	}

	return decodeWAV(outPath)
}

// decodeWAV reads a WAV file fully, converting it to TrackFormat.
func decodeWAV(path string) (*beep.Buffer, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open extracted audio: %w", err)
	}
	defer f.Close()

	streamer, format, err := wav.Decode(f)
	if err != nil {
		return nil, fmt.Errorf("decode extracted audio: %w", err)
	}
	defer streamer.Close()

	var s beep.Streamer = streamer
	if format.SampleRate != TrackFormat.SampleRate {
		s = beep.Resample(4, format.SampleRate, TrackFormat.SampleRate, s)
	}

	buf := beep.NewBuffer(TrackFormat)
	buf.Append(s)
	return buf, nil
}

// EncodeWAV writes the track as 16-bit PCM WAV to path.
func EncodeWAV(track *Track, path string) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create wav: %w", err)
	}
	defer f.Close()

	if err := wav.Encode(f, track.Buffer.Streamer(0, track.Buffer.Len()), TrackFormat); err != nil {
		return fmt.Errorf("encode wav: %w", err)
	}
	return f.Close()
}

func seconds(s float64) time.Duration {
	return time.Duration(s * float64(time.Second))
}
