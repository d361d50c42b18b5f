package compositor

import (
	"context"
	"errors"
	"image"
	"image/color"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/Dombom123/viral-launch-video/internal/media"
	"github.com/Dombom123/viral-launch-video/internal/timeline"
	"go.uber.org/goleak"
	"golang.org/x/image/font"
)

var (
	red  = color.RGBA{R: 255, A: 255}
	blue = color.RGBA{B: 255, A: 255}
)

type fakeDecoder struct {
	*media.StillDecoder

	mu    sync.Mutex
	seeks []float64
}

func newFakeDecoder(src string, w, h int, c color.RGBA) *fakeDecoder {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for i := 0; i < len(img.Pix); i += 4 {
		img.Pix[i], img.Pix[i+1], img.Pix[i+2], img.Pix[i+3] = c.R, c.G, c.B, c.A
	}
	return &fakeDecoder{StillDecoder: media.NewStillDecoder(src, img)}
}

func (f *fakeDecoder) Seek(t float64) {
	f.mu.Lock()
	f.seeks = append(f.seeks, t)
	f.mu.Unlock()
	f.StillDecoder.Seek(t)
}

func (f *fakeDecoder) Seeks() []float64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]float64(nil), f.seeks...)
}

type fakeLoader struct {
	loadFn func(ctx context.Context, src string) (media.Decoder, error)
}

func (f *fakeLoader) Load(ctx context.Context, src string) (media.Decoder, error) {
	return f.loadFn(ctx, src)
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func scenarioTimeline() *timeline.Timeline {
	return &timeline.Timeline{Items: []timeline.Item{
		&timeline.VideoItem{Src: "/static/a.mp4", StartTime: 0, Duration: 3},
		&timeline.VideoItem{Src: "/static/b.mp4", StartTime: 3, Duration: 3},
		&timeline.OverlayItem{StartTime: 1, Duration: 1, Layout: []timeline.Element{
			&timeline.TextElement{Text: "Hi", Position: timeline.PositionTop, Size: timeline.SizeLarge, Color: "#ffffff", BackgroundColor: timeline.Transparent},
		}},
	}}
}

// newTestEngine builds an engine over decoders keyed by src and waits for
// every load to land.
func newTestEngine(t *testing.T, tl *timeline.Timeline, decoders map[string]media.Decoder) *Engine {
	t.Helper()
	loader := &fakeLoader{loadFn: func(ctx context.Context, src string) (media.Decoder, error) {
		if d, ok := decoders[src]; ok {
			return d, nil
		}
		return nil, errors.New("no such source")
	}}
	e, err := New(Config{Width: 320, Height: 180, Loader: loader, Logger: testLogger()}, tl)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if err := e.AwaitLoads(context.Background()); err != nil {
		t.Fatalf("AwaitLoads() error = %v", err)
	}
	return e
}

func TestUpdate_SkipsRedundantTime(t *testing.T) {
	e := newTestEngine(t, scenarioTimeline(), nil)
	defer e.Destroy()

	if !e.Update(1.0, false, false, false) {
		t.Fatal("first Update() = false, want true")
	}
	if e.Update(1.0, false, false, false) {
		t.Error("Update() at same time = true, want false")
	}
	if !e.Update(1.0, false, false, true) {
		t.Error("forced Update() = false, want true")
	}
	if !e.Update(1.5, false, false, false) {
		t.Error("Update() at new time = false, want true")
	}
}

func TestUpdate_Scenario(t *testing.T) {
	a := newFakeDecoder("/static/a.mp4", 32, 18, red)
	b := newFakeDecoder("/static/b.mp4", 32, 18, blue)
	e := newTestEngine(t, scenarioTimeline(), map[string]media.Decoder{
		"/static/a.mp4": a,
		"/static/b.mp4": b,
	})
	defer e.Destroy()

	e.Update(1.5, true, true, true)
	if got := e.ActiveSource(); got != "/static/a.mp4" {
		t.Fatalf("ActiveSource() at 1.5 = %q, want a.mp4", got)
	}
	if seeks := a.Seeks(); len(seeks) != 1 || seeks[0] != 1.5 {
		t.Errorf("a seeks = %v, want [1.5]", seeks)
	}
	if a.Paused() {
		t.Error("a paused while playing, want playing")
	}
	if got := e.Snapshot().RGBAAt(160, 170); !near(got, red) {
		t.Errorf("pixel at 1.5 = %v, want red", got)
	}

	e.Update(3.5, true, true, true)
	if got := e.ActiveSource(); got != "/static/b.mp4" {
		t.Fatalf("ActiveSource() at 3.5 = %q, want b.mp4", got)
	}
	if !a.Paused() {
		t.Error("a still playing after its clip ended")
	}
	if seeks := b.Seeks(); len(seeks) != 1 || seeks[0] != 0.5 {
		t.Errorf("b seeks = %v, want [0.5]", seeks)
	}
	if got := e.Snapshot().RGBAAt(160, 170); !near(got, blue) {
		t.Errorf("pixel at 3.5 = %v, want blue", got)
	}
}

func TestUpdate_SeekOnlyOnDiscontinuity(t *testing.T) {
	a := newFakeDecoder("/static/a.mp4", 16, 9, red)
	e := newTestEngine(t, scenarioTimeline(), map[string]media.Decoder{"/static/a.mp4": a})
	defer e.Destroy()

	e.Update(0.5, true, true, true)
	e.Update(0.6, true, false, false)
	e.Update(0.7, true, false, false)
	if seeks := a.Seeks(); len(seeks) != 1 {
		t.Errorf("seeks = %v, want exactly one", seeks)
	}
}

func TestUpdate_NoActiveVideoIsBlack(t *testing.T) {
	a := newFakeDecoder("/static/a.mp4", 16, 9, red)
	b := newFakeDecoder("/static/b.mp4", 16, 9, blue)
	e := newTestEngine(t, scenarioTimeline(), map[string]media.Decoder{
		"/static/a.mp4": a,
		"/static/b.mp4": b,
	})
	defer e.Destroy()

	e.Update(1, true, true, true)
	e.Update(7, true, false, false)

	if got := e.ActiveSource(); got != "" {
		t.Errorf("ActiveSource() past end = %q, want empty", got)
	}
	if !a.Paused() || !b.Paused() {
		t.Error("decoders still playing with no active clip")
	}
	if got := e.Snapshot().RGBAAt(160, 90); got != (color.RGBA{A: 255}) {
		t.Errorf("pixel = %v, want black", got)
	}
}

func TestUpdate_FailedLoadRendersBlack(t *testing.T) {
	e := newTestEngine(t, scenarioTimeline(), nil)
	defer e.Destroy()

	e.Update(0.5, false, true, true)
	if _, ok := e.Decoder("/static/a.mp4"); ok {
		t.Error("failed source registered")
	}
	if got := e.Snapshot().RGBAAt(160, 170); got != (color.RGBA{A: 255}) {
		t.Errorf("pixel = %v, want black", got)
	}
}

func TestUpdate_DrawsOverlayText(t *testing.T) {
	e := newTestEngine(t, scenarioTimeline(), nil)
	defer e.Destroy()

	e.Update(1.5, false, false, true)
	if !hasColorInRows(e.Snapshot(), 40, 160, color.RGBA{255, 255, 255, 255}) {
		t.Error("no white text pixels near the top anchor at 1.5")
	}

	e.Update(2.5, false, false, true)
	if hasColorInRows(e.Snapshot(), 0, 180, color.RGBA{255, 255, 255, 255}) {
		t.Error("overlay still drawn after it ended")
	}
}

func TestUpdate_BackgroundBox(t *testing.T) {
	tl := &timeline.Timeline{Items: []timeline.Item{
		&timeline.OverlayItem{StartTime: 0, Duration: 1, Layout: []timeline.Element{
			&timeline.TextElement{Text: "Sale", Position: timeline.PositionCenter, Size: timeline.SizeSmall, Color: "#000", BackgroundColor: "#ff0000"},
		}},
	}}
	e := newTestEngine(t, tl, nil)
	defer e.Destroy()

	e.Update(0, false, false, true)
	if !hasColorInRows(e.Snapshot(), 60, 120, red) {
		t.Error("no background box painted behind centered text")
	}
}

func TestUpdatePausesWhenNotPlaying(t *testing.T) {
	a := newFakeDecoder("/static/a.mp4", 16, 9, red)
	e := newTestEngine(t, scenarioTimeline(), map[string]media.Decoder{"/static/a.mp4": a})
	defer e.Destroy()

	e.Update(0.5, true, false, true)
	if a.Paused() {
		t.Fatal("decoder paused while playing")
	}
	e.Update(0.6, false, false, false)
	if !a.Paused() {
		t.Error("decoder playing while paused")
	}
}

func TestUpdate_BackwardSeekPausesLaterClip(t *testing.T) {
	a := newFakeDecoder("/static/a.mp4", 16, 9, red)
	b := newFakeDecoder("/static/b.mp4", 16, 9, blue)
	e := newTestEngine(t, scenarioTimeline(), map[string]media.Decoder{
		"/static/a.mp4": a,
		"/static/b.mp4": b,
	})
	defer e.Destroy()

	e.Update(4, true, true, true)
	if b.Paused() {
		t.Fatal("b paused while active and playing")
	}

	e.Update(1, true, true, true)
	if got := e.ActiveSource(); got != "/static/a.mp4" {
		t.Fatalf("ActiveSource() = %q, want a.mp4", got)
	}
	if a.Paused() {
		t.Error("a paused while active and playing")
	}
	if !b.Paused() {
		t.Error("b still playing off-screen after seeking back to a")
	}
}

func TestUpdate_SharedSourceKeepsPlaying(t *testing.T) {
	tl := &timeline.Timeline{Items: []timeline.Item{
		&timeline.VideoItem{Src: "/static/a.mp4", StartTime: 0, Duration: 2},
		&timeline.VideoItem{Src: "/static/a.mp4", StartTime: 2, Duration: 2},
	}}
	a := newFakeDecoder("/static/a.mp4", 16, 9, red)
	e := newTestEngine(t, tl, map[string]media.Decoder{"/static/a.mp4": a})
	defer e.Destroy()

	e.Update(3, true, true, true)
	if a.Paused() {
		t.Error("decoder shared by the active clip was paused")
	}
}

func TestDestroy_ClosesDecoders(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	a := newFakeDecoder("/static/a.mp4", 16, 9, red)
	e := newTestEngine(t, scenarioTimeline(), map[string]media.Decoder{"/static/a.mp4": a})

	e.Update(0.5, true, true, true)
	e.Destroy()

	if _, ok := e.Decoder("/static/a.mp4"); ok {
		t.Error("registry not cleared by Destroy")
	}
	if a.ReadyState() != media.HaveNothing {
		t.Errorf("decoder ReadyState() = %v after Destroy, want nothing", a.ReadyState())
	}
	e.Update(1.5, true, false, true)
	if hasColorInRows(e.Snapshot(), 0, 180, color.RGBA{255, 255, 255, 255}) {
		t.Error("Destroyed engine still draws overlays")
	}
}

func TestUpdateTimeline_LoadsNewSources(t *testing.T) {
	var mu sync.Mutex
	loaded := map[string]int{}
	loader := &fakeLoader{loadFn: func(ctx context.Context, src string) (media.Decoder, error) {
		mu.Lock()
		loaded[src]++
		mu.Unlock()
		return newFakeDecoder(src, 4, 4, red), nil
	}}
	e, err := New(Config{Width: 64, Height: 36, Loader: loader, Logger: testLogger()}, scenarioTimeline())
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	defer e.Destroy()

	e.UpdateTimeline(&timeline.Timeline{Items: []timeline.Item{
		&timeline.VideoItem{Src: "/static/a.mp4", StartTime: 0, Duration: 1},
		&timeline.VideoItem{Src: "/static/c.mp4", StartTime: 1, Duration: 1},
	}})

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := e.AwaitLoads(ctx); err != nil {
		t.Fatalf("AwaitLoads() error = %v", err)
	}

	mu.Lock()
	defer mu.Unlock()
	for _, src := range []string{"/static/a.mp4", "/static/b.mp4", "/static/c.mp4"} {
		if loaded[src] != 1 {
			t.Errorf("%s loaded %d times, want 1", src, loaded[src])
		}
	}
}

func TestContainRect(t *testing.T) {
	bounds := image.Rect(0, 0, 1280, 720)
	tests := []struct {
		name string
		w, h int
		want image.Rectangle
	}{
		{"same aspect", 640, 360, image.Rect(0, 0, 1280, 720)},
		{"portrait", 720, 1280, image.Rect(437, 0, 842, 720)},
		{"square", 100, 100, image.Rect(280, 0, 1000, 720)},
		{"unknown size fills", 0, 0, image.Rect(0, 0, 1280, 720)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := &sizedDecoder{w: tt.w, h: tt.h}
			if got := containRect(d, bounds); got != tt.want {
				t.Errorf("containRect() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestParseColor(t *testing.T) {
	tests := []struct {
		in      string
		want    color.RGBA
		wantErr bool
	}{
		{"#ffffff", color.RGBA{255, 255, 255, 255}, false},
		{"#FF0000", color.RGBA{255, 0, 0, 255}, false},
		{"#0f0", color.RGBA{0, 255, 0, 255}, false},
		{"#00000080", color.RGBA{0, 0, 0, 128}, false},
		{"transparent", color.RGBA{}, false},
		{"yellow", color.RGBA{255, 255, 0, 255}, false},
		{"#12345", color.RGBA{}, true},
		{"rgb(1,2,3)", color.RGBA{}, true},
		{"#zzzzzz", color.RGBA{}, true},
	}
	for _, tt := range tests {
		got, err := ParseColor(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("ParseColor(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			continue
		}
		if !tt.wantErr && got != tt.want {
			t.Errorf("ParseColor(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestWrapText(t *testing.T) {
	faces, err := newFaceSet()
	if err != nil {
		t.Fatalf("newFaceSet() error = %v", err)
	}
	defer faces.Close()
	face := faces.face(timeline.SizeLarge)

	text := strings.Repeat("launch day ", 8)
	lines := wrapText(face, text, 640)
	if len(lines) < 2 {
		t.Fatalf("wrapText() = %d lines, want several", len(lines))
	}
	for _, l := range lines {
		if w := font.MeasureString(face, l).Ceil(); w > 640 {
			t.Errorf("line %q is %dpx wide, want <= 640", l, w)
		}
	}

	if got := wrapText(face, "one\ntwo", 10000); len(got) != 2 {
		t.Errorf("explicit newline: got %d lines, want 2", len(got))
	}
}

func TestAnchorY(t *testing.T) {
	if got := anchorY(timeline.PositionTop, 720); got != 100 {
		t.Errorf("top = %d, want 100", got)
	}
	if got := anchorY(timeline.PositionBottom, 720); got != 620 {
		t.Errorf("bottom = %d, want 620", got)
	}
	if got := anchorY(timeline.PositionCenter, 720); got != 360 {
		t.Errorf("center = %d, want 360", got)
	}
}

func TestResize(t *testing.T) {
	e := newTestEngine(t, scenarioTimeline(), nil)
	defer e.Destroy()

	e.Resize(319, 179)
	if w, h := e.Size(); w != 319 || h != 179 {
		t.Errorf("Size() = %dx%d, want 319x179", w, h)
	}
	if !e.Update(0, false, false, false) {
		t.Error("Update() after Resize skipped, want render")
	}
}

func hasColorInRows(img *image.RGBA, y0, y1 int, c color.RGBA) bool {
	b := img.Bounds()
	for y := max(y0, b.Min.Y); y < min(y1, b.Max.Y); y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			if img.RGBAAt(x, y) == c {
				return true
			}
		}
	}
	return false
}

// near tolerates rounding in the bilinear scaler.
func near(a, b color.RGBA) bool {
	d := func(x, y uint8) bool {
		diff := int(x) - int(y)
		return diff >= -2 && diff <= 2
	}
	return d(a.R, b.R) && d(a.G, b.G) && d(a.B, b.B)
}

type sizedDecoder struct {
	media.Decoder
	w, h int
}

func (d *sizedDecoder) Size() (int, int) { return d.w, d.h }
