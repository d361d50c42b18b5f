package export

import (
	"context"
	"errors"
	"image"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"testing"

	"github.com/Dombom123/viral-launch-video/internal/media"
	"github.com/Dombom123/viral-launch-video/internal/timeline"
	"github.com/google/go-cmp/cmp"
	"github.com/gopxl/beep"
	"github.com/gopxl/beep/wav"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fakeEngine struct {
	tl      *timeline.Timeline
	w, h    int
	updates []float64
	seeked  []bool
	redraws int
	decs    map[string]media.Decoder
}

func (f *fakeEngine) Timeline() *timeline.Timeline { return f.tl }
func (f *fakeEngine) Redraw() { f.redraws++ }
func (f *fakeEngine) Size() (int, int) { return f.w, f.h }
func (f *fakeEngine) Resize(w, h int) { f.w, f.h = w, h }
func (f *fakeEngine) CopyFrame(dst *image.RGBA) {}

func (f *fakeEngine) Update(t float64, playing, seeked, force bool) bool {
	f.updates = append(f.updates, t)
	f.seeked = append(f.seeked, seeked)
	return true
}

func (f *fakeEngine) AwaitLoads(ctx context.Context) error { return ctx.Err() }

func (f *fakeEngine) Decoder(src string) (media.Decoder, bool) {
	d, ok := f.decs[src]
	return d, ok
}

type fakeMuxer struct {
	cfg    MuxerConfig
	ts     []float64
	durs   []float64
	closed int
	output []byte
}

func (m *fakeMuxer) AddFrame(img *image.RGBA, ts, dur float64) error {
	if b := img.Bounds(); b.Dx() != m.cfg.Width || b.Dy() != m.cfg.Height {
		return errors.New("frame size mismatch")
	}
	m.ts = append(m.ts, ts)
	m.durs = append(m.durs, dur)
	return nil
}

func (m *fakeMuxer) Close() error {
	m.closed++
	return nil
}

func (m *fakeMuxer) Output() ([]byte, error) { return m.output, nil }

type fakeSuspender struct {
	mu        sync.Mutex
	suspended int
}

func (s *fakeSuspender) Suspend() func() {
	s.mu.Lock()
	s.suspended++
	s.mu.Unlock()
	return func() {
		s.mu.Lock()
		s.suspended--
		s.mu.Unlock()
	}
}

// fakeRunner writes silent WAV files of the requested length, or of the
// source's length when available caps it.
type fakeRunner struct {
	mu        sync.Mutex
	noAudio   map[string]bool
	available map[string]float64
	extracted map[string]float64
	transcode func(inPath, outPath string, args []string) (media.RunResult, error)
}

func (f *fakeRunner) Probe(ctx context.Context, path string) (*media.ProbeResult, error) {
	return &media.ProbeResult{HasAudio: !f.noAudio[path]}, nil
}

func (f *fakeRunner) ExtractAudio(ctx context.Context, src string, seconds float64, outPath string) (media.RunResult, error) {
	f.mu.Lock()
	if f.extracted == nil {
		f.extracted = map[string]float64{}
	}
	f.extracted[src] = seconds
	f.mu.Unlock()

	if have, ok := f.available[src]; ok {
		seconds = min(seconds, have)
	}
	if err := writeSilentWAV(outPath, seconds); err != nil {
		return media.RunResult{ExitCode: 1, StderrTail: err.Error()}, nil
	}
	return media.RunResult{OutputPath: outPath}, nil
}

func (f *fakeRunner) Transcode(ctx context.Context, inPath, outPath string, args ...string) (media.RunResult, error) {
	if f.transcode != nil {
		return f.transcode(inPath, outPath, args)
	}
	return media.RunResult{ExitCode: 1}, nil
}

func (f *fakeRunner) RunDoctor(ctx context.Context) (*media.Capabilities, error) {
	return &media.Capabilities{}, nil
}

func writeSilentWAV(path string, secs float64) error {
	out, err := os.Create(path)
	if err != nil {
		return err
	}
	defer out.Close()
	n := TrackFormat.SampleRate.N(seconds(secs))
	return wav.Encode(out, beep.Silence(n), TrackFormat)
}

type identityResolver struct{}

func (identityResolver) Resolve(src string) (string, error) { return src, nil }

func newAssembler(t *testing.T, runner media.Runner) *AudioAssembler {
	return NewAudioAssembler(runner, identityResolver{}, 2, t.TempDir(), testLogger())
}

func twoClipTimeline() *timeline.Timeline {
	return &timeline.Timeline{Items: []timeline.Item{
		&timeline.VideoItem{Src: "b.mp4", StartTime: 3, Duration: 5},
		&timeline.VideoItem{Src: "a.mp4", StartTime: 0, Duration: 3},
	}}
}

func TestVideoExport_FrameTiming(t *testing.T) {
	tl := &timeline.Timeline{Items: []timeline.Item{
		&timeline.OverlayItem{StartTime: 0, Duration: 2, Layout: []timeline.Element{
			&timeline.TextElement{Text: "x", Position: timeline.PositionCenter, Size: timeline.SizeSmall, Color: "#fff"},
		}},
	}}
	engine := &fakeEngine{tl: tl, w: 64, h: 36}
	var mux *fakeMuxer
	susp := &fakeSuspender{}

	var progress []float64
	x := NewVideoExporter(VideoExporterConfig{
		Muxer: func(cfg MuxerConfig) (Muxer, error) {
			mux = &fakeMuxer{cfg: cfg, output: []byte("mp4")}
			return mux, nil
		},
		Suspender: susp,
		TempDir:   t.TempDir(),
		Logger:    testLogger(),
	})

	res, err := x.Export(context.Background(), engine, Options{
		FPS: 30,
		OnProgress: func(p float64) {
			if susp.suspended != 1 {
				t.Errorf("progress reported while ticker not suspended")
			}
			progress = append(progress, p)
		},
	})
	if err != nil {
		t.Fatalf("Export() error = %v", err)
	}

	if res.Frames != 60 || len(mux.ts) != 60 {
		t.Fatalf("frames = %d (muxed %d), want 60", res.Frames, len(mux.ts))
	}
	for i, ts := range mux.ts {
		if want := float64(i) / 30; ts != want {
			t.Errorf("frame %d ts = %v, want %v", i, ts, want)
		}
		if mux.durs[i] != 1.0/30 {
			t.Errorf("frame %d dur = %v, want 1/30", i, mux.durs[i])
		}
	}
	if !slices.Equal(engine.updates, mux.ts) {
		t.Error("engine updates differ from muxed timestamps")
	}
	for i, s := range engine.seeked {
		if !s {
			t.Errorf("update %d not flagged as seek", i)
		}
	}
	if engine.redraws != 60 {
		t.Errorf("redraws = %d, want 60", engine.redraws)
	}
	if susp.suspended != 0 {
		t.Errorf("ticker still suspended after export (%d)", susp.suspended)
	}
	if len(progress) != 61 || progress[0] != 0 || progress[60] != 1 {
		t.Errorf("progress = %d reports [first %v, last %v], want 61 from 0 to 1", len(progress), progress[0], progress[len(progress)-1])
	}
	if res.MIMEType != "video/mp4" || string(res.Data) != "mp4" {
		t.Errorf("result = %q %q", res.MIMEType, res.Data)
	}
	if mux.cfg.AudioPath != "" {
		t.Errorf("AudioPath = %q for a timeline without clips, want empty", mux.cfg.AudioPath)
	}
}

func TestVideoExport_EmptyTimeline(t *testing.T) {
	x := NewVideoExporter(VideoExporterConfig{
		Muxer: func(cfg MuxerConfig) (Muxer, error) {
			t.Fatal("muxer opened for empty timeline")
			return nil, nil
		},
		Logger: testLogger(),
	})
	_, err := x.Export(context.Background(), &fakeEngine{tl: &timeline.Timeline{}, w: 64, h: 36}, Options{})
	if !errors.Is(err, ErrEmptyTimeline) {
		t.Fatalf("Export() error = %v, want ErrEmptyTimeline", err)
	}
	if err.Error() != "timeline is empty or has 0 duration" {
		t.Errorf("message = %q", err.Error())
	}
}

func TestVideoExport_DurationTruncatesAndEvenDims(t *testing.T) {
	engine := &fakeEngine{tl: &timeline.Timeline{Items: []timeline.Item{
		&timeline.OverlayItem{StartTime: 0, Duration: 10},
	}}, w: 65, h: 37}
	var mux *fakeMuxer
	x := NewVideoExporter(VideoExporterConfig{
		Muxer: func(cfg MuxerConfig) (Muxer, error) {
			mux = &fakeMuxer{cfg: cfg, output: []byte("x")}
			return mux, nil
		},
		TempDir: t.TempDir(),
		Logger:  testLogger(),
	})

	res, err := x.Export(context.Background(), engine, Options{FPS: 10, Duration: 1.05})
	if err != nil {
		t.Fatalf("Export() error = %v", err)
	}
	if res.Frames != 11 {
		t.Errorf("Frames = %d, want ceil(1.05*10) = 11", res.Frames)
	}
	if mux.cfg.Width != 64 || mux.cfg.Height != 36 {
		t.Errorf("muxer size = %dx%d, want 64x36", mux.cfg.Width, mux.cfg.Height)
	}
	if engine.w != 64 || engine.h != 36 {
		t.Errorf("engine not resized: %dx%d", engine.w, engine.h)
	}
}

func TestVideoExport_NoOutput(t *testing.T) {
	engine := &fakeEngine{tl: &timeline.Timeline{Items: []timeline.Item{
		&timeline.OverlayItem{StartTime: 0, Duration: 0.1},
	}}, w: 8, h: 8}
	susp := &fakeSuspender{}
	x := NewVideoExporter(VideoExporterConfig{
		Muxer: func(cfg MuxerConfig) (Muxer, error) {
			return &fakeMuxer{cfg: cfg}, nil
		},
		Suspender: susp,
		TempDir:   t.TempDir(),
		Logger:    testLogger(),
	})

	_, err := x.Export(context.Background(), engine, Options{})
	if !errors.Is(err, ErrNoOutput) {
		t.Fatalf("Export() error = %v, want ErrNoOutput", err)
	}
	if susp.suspended != 0 {
		t.Error("ticker left suspended")
	}
}

func TestVideoExport_CancelResumesTicker(t *testing.T) {
	engine := &fakeEngine{tl: &timeline.Timeline{Items: []timeline.Item{
		&timeline.OverlayItem{StartTime: 0, Duration: 5},
	}}, w: 8, h: 8}
	susp := &fakeSuspender{}
	ctx, cancel := context.WithCancel(context.Background())

	x := NewVideoExporter(VideoExporterConfig{
		Muxer: func(cfg MuxerConfig) (Muxer, error) {
			return &fakeMuxer{cfg: cfg, output: []byte("x")}, nil
		},
		Suspender: susp,
		TempDir:   t.TempDir(),
		Logger:    testLogger(),
	})

	_, err := x.Export(ctx, engine, Options{OnProgress: func(p float64) {
		if p > 0.5 {
			cancel()
		}
	}})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("Export() error = %v, want context.Canceled", err)
	}
	if susp.suspended != 0 {
		t.Error("ticker left suspended after cancel")
	}
}

func TestVideoExport_WaitsForActiveDecoder(t *testing.T) {
	dec := media.NewStillDecoder("a.mp4", image.NewRGBA(image.Rect(0, 0, 4, 4)))
	dec.Close()

	engine := &fakeEngine{
		tl:   &timeline.Timeline{Items: []timeline.Item{&timeline.VideoItem{Src: "a.mp4", StartTime: 0, Duration: 1}}},
		w:    8,
		h:    8,
		decs: map[string]media.Decoder{"a.mp4": dec},
	}
	x := NewVideoExporter(VideoExporterConfig{
		Muxer: func(cfg MuxerConfig) (Muxer, error) {
			return &fakeMuxer{cfg: cfg, output: []byte("x")}, nil
		},
		TempDir: t.TempDir(),
		Logger:  testLogger(),
	})

	// A closed decoder never becomes ready again.
	_, err := x.Export(context.Background(), engine, Options{})
	if !errors.Is(err, media.ErrClosed) {
		t.Fatalf("Export() error = %v, want ErrClosed", err)
	}
}

func TestVideoExport_MuxesAssembledAudio(t *testing.T) {
	runner := &fakeRunner{}
	engine := &fakeEngine{tl: twoClipTimeline(), w: 8, h: 8}
	var mux *fakeMuxer
	x := NewVideoExporter(VideoExporterConfig{
		Assembler: newAssembler(t, runner),
		Muxer: func(cfg MuxerConfig) (Muxer, error) {
			if _, err := os.Stat(cfg.AudioPath); err != nil {
				t.Errorf("audio track not on disk: %v", err)
			}
			mux = &fakeMuxer{cfg: cfg, output: []byte("x")}
			return mux, nil
		},
		TempDir: t.TempDir(),
		Logger:  testLogger(),
	})

	res, err := x.Export(context.Background(), engine, Options{Duration: 6})
	if err != nil {
		t.Fatalf("Export() error = %v", err)
	}
	if res.AudioSeconds != 6 {
		t.Errorf("AudioSeconds = %v, want 6", res.AudioSeconds)
	}
	if mux.cfg.AudioPath == "" {
		t.Error("no audio path passed to muxer")
	}
}

func TestAssemble_BoundsClipsToTotal(t *testing.T) {
	runner := &fakeRunner{}
	a := newAssembler(t, runner)

	track, err := a.Assemble(context.Background(), twoClipTimeline(), 6)
	if err != nil {
		t.Fatalf("Assemble() error = %v", err)
	}
	if track.Seconds != 6 {
		t.Errorf("Seconds = %v, want 3 + 3", track.Seconds)
	}
	if want := TrackFormat.SampleRate.N(seconds(6)); track.Samples() != want {
		t.Errorf("Samples() = %d, want %d", track.Samples(), want)
	}
	// b.mp4 is extracted for its full 5s before a.mp4's share is known,
	// then trimmed to the remaining 3s.
	want := map[string]float64{"a.mp4": 3, "b.mp4": 5}
	if diff := cmp.Diff(want, runner.extracted); diff != "" {
		t.Errorf("extraction bounds mismatch (-want +got):\n%s", diff)
	}
}

func TestAssemble_SkipsClipsWithoutAudio(t *testing.T) {
	runner := &fakeRunner{noAudio: map[string]bool{"a.mp4": true}}
	a := newAssembler(t, runner)

	track, err := a.Assemble(context.Background(), twoClipTimeline(), 6)
	if err != nil {
		t.Fatalf("Assemble() error = %v", err)
	}
	// a.mp4 is skipped and does not advance the track; b.mp4 gets min(5, 6).
	if track.Seconds != 5 {
		t.Errorf("Seconds = %v, want 5", track.Seconds)
	}
}

func TestAssemble_ShortSourceAdvancesByDecodedLength(t *testing.T) {
	runner := &fakeRunner{available: map[string]float64{"a.mp4": 1}}
	a := newAssembler(t, runner)

	track, err := a.Assemble(context.Background(), twoClipTimeline(), 8)
	if err != nil {
		t.Fatalf("Assemble() error = %v", err)
	}
	// a.mp4 delivers 1s of its 3s clip; b.mp4 then gets min(5, 8-1).
	if track.Seconds != 6 {
		t.Errorf("Seconds = %v, want 1 + 5", track.Seconds)
	}
	want := TrackFormat.SampleRate.N(seconds(1)) + TrackFormat.SampleRate.N(seconds(5))
	if track.Samples() != want {
		t.Errorf("Samples() = %d, want %d", track.Samples(), want)
	}
}

func TestAssemble_StopsAtTotal(t *testing.T) {
	runner := &fakeRunner{}
	a := newAssembler(t, runner)

	track, err := a.Assemble(context.Background(), twoClipTimeline(), 2)
	if err != nil {
		t.Fatalf("Assemble() error = %v", err)
	}
	if track.Seconds != 2 {
		t.Errorf("Seconds = %v, want 2", track.Seconds)
	}
}

func TestLookupAudioFormat(t *testing.T) {
	tests := []struct {
		name     string
		mime     string
		encoder  string
		wantErr  bool
		wantName string
	}{
		{name: "", mime: "audio/mp3", encoder: "libmp3lame", wantName: "mp3"},
		{name: "wav", mime: "audio/wav", encoder: "", wantName: "wav"},
		{name: "mp3", mime: "audio/mp3", encoder: "libmp3lame", wantName: "mp3"},
		{name: "aac", mime: "audio/aac", encoder: "aac", wantName: "aac"},
		{name: "ogg", mime: "audio/ogg", encoder: "libvorbis", wantName: "ogg"},
		{name: "aiff", mime: "audio/aiff", encoder: "pcm_s16be", wantName: "aiff"},
		{name: "flac", wantErr: true},
	}
	for _, tt := range tests {
		f, err := LookupAudioFormat(tt.name)
		if tt.wantErr {
			if !errors.Is(err, ErrUnsupportedFormat) {
				t.Errorf("LookupAudioFormat(%q) error = %v, want ErrUnsupportedFormat", tt.name, err)
			}
			continue
		}
		if err != nil {
			t.Errorf("LookupAudioFormat(%q) error = %v", tt.name, err)
			continue
		}
		if f.Name != tt.wantName || f.MIMEType != tt.mime || f.Encoder != tt.encoder {
			t.Errorf("LookupAudioFormat(%q) = %+v", tt.name, f)
		}
	}
}

func TestAudioExport_WAV(t *testing.T) {
	runner := &fakeRunner{}
	x := NewAudioExporter(newAssembler(t, runner), runner, nil, 0, t.TempDir(), testLogger())

	res, err := x.Export(context.Background(), &fakeEngine{tl: twoClipTimeline()}, "wav", Options{})
	if err != nil {
		t.Fatalf("Export() error = %v", err)
	}
	if res.MIMEType != "audio/wav" {
		t.Errorf("MIMEType = %q, want audio/wav", res.MIMEType)
	}
	if !strings.HasPrefix(string(res.Data), "RIFF") {
		t.Errorf("data does not start with a RIFF header")
	}
	if res.AudioSeconds != 8 {
		t.Errorf("AudioSeconds = %v, want 8", res.AudioSeconds)
	}
}

func TestAudioExport_NoAudioStillProducesWAV(t *testing.T) {
	runner := &fakeRunner{noAudio: map[string]bool{"a.mp4": true, "b.mp4": true}}
	x := NewAudioExporter(newAssembler(t, runner), runner, nil, 0, t.TempDir(), testLogger())

	res, err := x.Export(context.Background(), &fakeEngine{tl: twoClipTimeline()}, "wav", Options{})
	if err != nil {
		t.Fatalf("Export() error = %v", err)
	}
	if len(res.Data) < 44 || !strings.HasPrefix(string(res.Data), "RIFF") {
		t.Errorf("expected a bare WAV header, got %d bytes", len(res.Data))
	}
}

func TestAudioExport_MP3UsesEncoder(t *testing.T) {
	var gotArgs []string
	runner := &fakeRunner{
		transcode: func(inPath, outPath string, args []string) (media.RunResult, error) {
			gotArgs = args
			if err := os.WriteFile(outPath, []byte("ID3"), 0644); err != nil {
				return media.RunResult{ExitCode: 1}, nil
			}
			return media.RunResult{OutputPath: outPath}, nil
		},
	}
	x := NewAudioExporter(newAssembler(t, runner), runner, nil, 0, t.TempDir(), testLogger())

	res, err := x.Export(context.Background(), &fakeEngine{tl: twoClipTimeline()}, "", Options{})
	if err != nil {
		t.Fatalf("Export() error = %v", err)
	}
	if res.MIMEType != "audio/mp3" || string(res.Data) != "ID3" {
		t.Errorf("result = %q %q", res.MIMEType, res.Data)
	}
	want := []string{"-vn", "-c:a", "libmp3lame", "-b:a", "128k", "-f", "mp3"}
	if diff := cmp.Diff(want, gotArgs); diff != "" {
		t.Errorf("encoder args mismatch (-want +got):\n%s", diff)
	}
}

func TestAudioExport_EncoderFailure(t *testing.T) {
	runner := &fakeRunner{}
	x := NewAudioExporter(newAssembler(t, runner), runner, nil, 0, t.TempDir(), testLogger())

	if _, err := x.Export(context.Background(), &fakeEngine{tl: twoClipTimeline()}, "ogg", Options{}); err == nil {
		t.Fatal("Export() with failing encoder should error")
	}
}

func TestAudioExport_UnsupportedAndEmpty(t *testing.T) {
	runner := &fakeRunner{}
	x := NewAudioExporter(newAssembler(t, runner), runner, nil, 0, t.TempDir(), testLogger())

	if _, err := x.Export(context.Background(), &fakeEngine{tl: twoClipTimeline()}, "flac", Options{}); !errors.Is(err, ErrUnsupportedFormat) {
		t.Errorf("Export(flac) error = %v, want ErrUnsupportedFormat", err)
	}
	if _, err := x.Export(context.Background(), &fakeEngine{tl: &timeline.Timeline{}}, "wav", Options{}); !errors.Is(err, ErrEmptyTimeline) {
		t.Errorf("Export(empty) error = %v, want ErrEmptyTimeline", err)
	}
}

func TestArtifactStore_Write(t *testing.T) {
	store, err := NewArtifactStore(filepath.Join(t.TempDir(), "exports"))
	if err != nil {
		t.Fatalf("NewArtifactStore() error = %v", err)
	}

	path, err := store.Write("Launch <final>", "video/mp4", []byte("data"))
	if err != nil {
		t.Fatalf("Write() error = %v", err)
	}
	if filepath.Base(path) != "Launch__final_.mp4" {
		t.Errorf("file name = %q", filepath.Base(path))
	}
	got, err := os.ReadFile(path)
	if err != nil || string(got) != "data" {
		t.Errorf("ReadFile() = %q, %v", got, err)
	}

	if _, err := store.Path("../etc/passwd"); err == nil {
		t.Error("Path() accepted traversal")
	}
	if err := store.Remove(path); err != nil {
		t.Errorf("Remove() error = %v", err)
	}
	if err := store.Remove("/etc/passwd"); err == nil {
		t.Error("Remove() accepted a path outside the store")
	}
}
