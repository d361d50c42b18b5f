package export

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"time"

	"github.com/Dombom123/viral-launch-video/internal/media"
	"github.com/Dombom123/viral-launch-video/internal/metrics"
)

// DefaultAudioFormat is used when no format is requested.
const DefaultAudioFormat = "mp3"

// AudioFormat describes one audio-only container.
type AudioFormat struct {
	Name     string
	MIMEType string
	Ext      string
	// Encoder is the ffmpeg encoder; empty means the WAV is used as is.
	Encoder string
	Muxer   string
	// Lossy formats take the configured bitrate.
	Lossy bool
}

var audioFormats = map[string]AudioFormat{
	"wav":  {Name: "wav", MIMEType: "audio/wav", Ext: ".wav"},
	"mp3":  {Name: "mp3", MIMEType: "audio/mp3", Ext: ".mp3", Encoder: "libmp3lame", Muxer: "mp3", Lossy: true},
	"aac":  {Name: "aac", MIMEType: "audio/aac", Ext: ".aac", Encoder: "aac", Muxer: "adts", Lossy: true},
	"ogg":  {Name: "ogg", MIMEType: "audio/ogg", Ext: ".ogg", Encoder: "libvorbis", Muxer: "ogg", Lossy: true},
	"aiff": {Name: "aiff", MIMEType: "audio/aiff", Ext: ".aiff", Encoder: "pcm_s16be", Muxer: "aiff"},
}

// LookupAudioFormat returns the format for name ("" selects the default).
func LookupAudioFormat(name string) (AudioFormat, error) {
	if name == "" {
		name = DefaultAudioFormat
	}
	f, ok := audioFormats[name]
	if !ok {
		return AudioFormat{}, fmt.Errorf("%w: %s", ErrUnsupportedFormat, name)
	}
	return f, nil
}

// AudioFormats lists the supported format names.
func AudioFormats() []string {
	names := make([]string, 0, len(audioFormats))
	for n := range audioFormats {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// AudioExporter renders the timeline's audio track to a standalone file.
type AudioExporter struct {
	assembler *AudioAssembler
	runner    media.Runner
	doctor    *media.CachedDoctor // optional
	bitrate   int
	tempDir   string
	logger    *slog.Logger
}

func NewAudioExporter(assembler *AudioAssembler, runner media.Runner, doctor *media.CachedDoctor, bitrate int, tempDir string, logger *slog.Logger) *AudioExporter {
	if bitrate <= 0 {
		bitrate = DefaultAudioBitrate
	}
	return &AudioExporter{
		assembler: assembler,
		runner:    runner,
		doctor:    doctor,
		bitrate:   bitrate,
		tempDir:   tempDir,
		logger:    logger,
	}
}

// Export assembles the audio of engine's timeline and encodes it as format.
// Options.FPS is ignored.
func (x *AudioExporter) Export(ctx context.Context, engine Engine, format string, opts Options) (res *Result, err error) {
	start := time.Now()
	defer func() {
		status := "ok"
		if err != nil {
			status = "error"
		}
		metrics.ExportsTotal.WithLabelValues("audio", status).Inc()
		metrics.ExportDuration.WithLabelValues("audio").Observe(time.Since(start).Seconds())
	}()

	f, err := LookupAudioFormat(format)
	if err != nil {
		return nil, err
	}
	total, err := totalDuration(engine.Timeline(), opts)
	if err != nil {
		return nil, err
	}
	if f.Encoder != "" && x.doctor != nil {
		if err := x.doctor.Require(ctx, f.Encoder); err != nil {
			return nil, err
		}
	}

	opts.progress(0)
	track, err := x.assembler.Assemble(ctx, engine.Timeline(), total)
	if err != nil {
		return nil, fmt.Errorf("assemble audio: %w", err)
	}
	opts.progress(0.5)

	dir, err := os.MkdirTemp(x.tempDir, "audio-export-")
	if err != nil {
		return nil, fmt.Errorf("create work dir: %w", err)
	}
	defer os.RemoveAll(dir)

	wavPath := filepath.Join(dir, "track.wav")
	if err := EncodeWAV(track, wavPath); err != nil {
		return nil, err
	}

	outPath := wavPath
	if f.Encoder != "" {
		outPath = filepath.Join(dir, "track"+f.Ext)
		rr, err := x.runner.Transcode(ctx, wavPath, outPath, x.encoderArgs(f)...)
		if err != nil {
			return nil, fmt.Errorf("encode %s: %w", f.Name, err)
		}
		if !rr.IsSuccess() {
			return nil, fmt.Errorf("encode %s: ffmpeg exited %d: %s", f.Name, rr.ExitCode, rr.StderrTail)
		}
	}

	data, err := os.ReadFile(outPath)
	if err != nil {
		return nil, fmt.Errorf("read encoded audio: %w", err)
	}
	if len(data) == 0 {
		return nil, ErrNoOutput
	}
	opts.progress(1)

	x.logger.Info("audio export complete",
		"format", f.Name,
		"bytes", len(data),
		"audio_seconds", track.Seconds,
		"duration_ms", time.Since(start).Milliseconds(),
	)
	return &Result{
		Data:         data,
		MIMEType:     f.MIMEType,
		AudioSeconds: track.Seconds,
		Elapsed:      time.Since(start),
	}, nil
}

func (x *AudioExporter) encoderArgs(f AudioFormat) []string {
	args := []string{"-vn", "-c:a", f.Encoder}
	if f.Lossy {
		args = append(args, "-b:a", strconv.Itoa(x.bitrate/1000)+"k")
	}
	return append(args, "-f", f.Muxer)
}
