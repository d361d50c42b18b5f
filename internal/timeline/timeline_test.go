package timeline

import (
	"bytes"
	"errors"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
)

const scenarioJSON = `{
  "items": [
    {"type": "video", "src": "a.mp4", "startTime": 0, "duration": 4},
    {"type": "overlay", "startTime": 1, "duration": 2, "layout": [
      {"type": "text", "text": "Hi", "position": "top", "size": "medium", "color": "#fff", "backgroundColor": "transparent"}
    ]}
  ]
}`

func mustDecode(t *testing.T, s string) *Timeline {
	t.Helper()
	tl, err := Decode(strings.NewReader(s))
	if err != nil {
		t.Fatalf("Decode() error = %v", err)
	}
	return tl
}

func TestDuration(t *testing.T) {
	tests := []struct {
		name  string
		items []Item
		want  float64
	}{
		{"empty", nil, 0},
		{"single", []Item{&VideoItem{Src: "a", StartTime: 0, Duration: 4}}, 4},
		{"overlay ends last", []Item{
			&VideoItem{Src: "a", StartTime: 0, Duration: 4},
			&OverlayItem{StartTime: 3, Duration: 5},
		}, 8},
		{"unordered", []Item{
			&VideoItem{Src: "b", StartTime: 10, Duration: 2},
			&VideoItem{Src: "a", StartTime: 0, Duration: 3},
		}, 12},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Duration(&Timeline{Items: tt.items}); got != tt.want {
				t.Errorf("Duration() = %v, want %v", got, tt.want)
			}
		})
	}

	if got := Duration(nil); got != 0 {
		t.Errorf("Duration(nil) = %v, want 0", got)
	}
}

func TestIsActive_HalfOpen(t *testing.T) {
	item := &VideoItem{Src: "a", StartTime: 2, Duration: 3}
	tests := []struct {
		t    float64
		want bool
	}{
		{1.999, false},
		{2.0, true},
		{4.999, true},
		{5.0, false},
	}
	for _, tt := range tests {
		if got := IsActive(item, tt.t); got != tt.want {
			t.Errorf("IsActive(t=%v) = %v, want %v", tt.t, got, tt.want)
		}
	}
}

func TestActiveVideo_FirstInSourceOrderWins(t *testing.T) {
	tl := &Timeline{Items: []Item{
		&VideoItem{Src: "late.mp4", StartTime: 1, Duration: 5},
		&VideoItem{Src: "early.mp4", StartTime: 0, Duration: 5},
	}}

	v, ok := ActiveVideo(tl, 2)
	if !ok {
		t.Fatal("expected an active video")
	}
	if v.Src != "late.mp4" {
		t.Errorf("active src = %q, want %q", v.Src, "late.mp4")
	}

	if _, ok := ActiveVideo(tl, 6); ok {
		t.Error("expected no active video at t=6")
	}
}

func TestScenario(t *testing.T) {
	tl := mustDecode(t, scenarioJSON)

	if got := Duration(tl); got != 4 {
		t.Fatalf("Duration() = %v, want 4", got)
	}

	v, ok := ActiveVideo(tl, 1.5)
	if !ok || v.Src != "a.mp4" {
		t.Fatalf("ActiveVideo(1.5) = %v, %v", v, ok)
	}
	if rel := 1.5 - v.StartTime; rel != 1.5 {
		t.Errorf("relative time = %v, want 1.5", rel)
	}

	overlays := ActiveOverlays(tl, 1.5)
	if len(overlays) != 1 {
		t.Fatalf("ActiveOverlays(1.5) len = %d, want 1", len(overlays))
	}
	text, ok := overlays[0].Layout[0].(*TextElement)
	if !ok || text.Text != "Hi" {
		t.Errorf("overlay element = %#v, want text Hi", overlays[0].Layout[0])
	}

	if got := ActiveOverlays(tl, 3.5); len(got) != 0 {
		t.Errorf("ActiveOverlays(3.5) len = %d, want 0", len(got))
	}
	if _, ok := ActiveVideo(tl, 3.5); !ok {
		t.Error("expected video active at 3.5")
	}
}

func TestDecode_KindAlias(t *testing.T) {
	tl := mustDecode(t, `{"items":[
		{"kind":"video","src":"a.mp4","startTime":0,"duration":1},
		{"kind":"overlay","startTime":0,"duration":1,"layout":[{"kind":"image","src":"logo.png","position":"center","size":"small"}]}
	]}`)

	want := &Timeline{Items: []Item{
		&VideoItem{Src: "a.mp4", StartTime: 0, Duration: 1},
		&OverlayItem{StartTime: 0, Duration: 1, Layout: []Element{
			&ImageElement{Src: "logo.png", Position: PositionCenter, Size: SizeSmall},
		}},
	}}
	if diff := cmp.Diff(want, tl); diff != "" {
		t.Errorf("Decode() mismatch (-want +got):\n%s", diff)
	}
}

func TestDecode_BackgroundDefaultsTransparent(t *testing.T) {
	tl := mustDecode(t, `{"items":[{"type":"overlay","startTime":0,"duration":1,"layout":[
		{"type":"text","text":"x","position":"top","size":"small","color":"#000"}]}]}`)

	el := tl.Items[0].(*OverlayItem).Layout[0].(*TextElement)
	if el.BackgroundColor != Transparent {
		t.Errorf("BackgroundColor = %q, want %q", el.BackgroundColor, Transparent)
	}
	if el.HasBackground() {
		t.Error("HasBackground() = true, want false")
	}
}

func TestDecode_UnknownType(t *testing.T) {
	_, err := Decode(strings.NewReader(`{"items":[{"type":"audio","startTime":0,"duration":1}]}`))
	if err == nil {
		t.Fatal("expected error for unknown type")
	}
	if !strings.Contains(err.Error(), `"audio"`) {
		t.Errorf("error = %v, want mention of audio", err)
	}
}

func TestEncode_RoundTrip(t *testing.T) {
	tl := mustDecode(t, scenarioJSON)

	var buf bytes.Buffer
	if err := Encode(&buf, tl); err != nil {
		t.Fatalf("Encode() error = %v", err)
	}
	if !strings.Contains(buf.String(), `"type": "overlay"`) {
		t.Errorf("encoded output missing type discriminator:\n%s", buf.String())
	}

	again := mustDecode(t, buf.String())
	if diff := cmp.Diff(tl, again); diff != "" {
		t.Errorf("round trip mismatch (-want +got):\n%s", diff)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		items   []Item
		wantErr bool
	}{
		{"ok", []Item{&VideoItem{Src: "a", StartTime: 0, Duration: 1}}, false},
		{"negative start", []Item{&VideoItem{Src: "a", StartTime: -1, Duration: 1}}, true},
		{"zero duration", []Item{&OverlayItem{StartTime: 0, Duration: 0}}, true},
		{"missing src", []Item{&VideoItem{StartTime: 0, Duration: 1}}, true},
		{"bad position", []Item{&OverlayItem{StartTime: 0, Duration: 1, Layout: []Element{
			&TextElement{Text: "x", Position: "left", Size: SizeSmall},
		}}}, true},
		{"bad size", []Item{&OverlayItem{StartTime: 0, Duration: 1, Layout: []Element{
			&TextElement{Text: "x", Position: PositionTop, Size: "huge"},
		}}}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := Validate(&Timeline{Items: tt.items})
			if (err != nil) != tt.wantErr {
				t.Fatalf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil && !errors.Is(err, ErrInvalid) {
				t.Errorf("error %v does not wrap ErrInvalid", err)
			}
		})
	}
}

func TestVideoItems_SortedStable(t *testing.T) {
	tl := &Timeline{Items: []Item{
		&VideoItem{Src: "c", StartTime: 5, Duration: 1},
		&OverlayItem{StartTime: 0, Duration: 1},
		&VideoItem{Src: "a", StartTime: 0, Duration: 1},
		&VideoItem{Src: "b", StartTime: 0, Duration: 1},
	}}

	var got []string
	for _, v := range VideoItems(tl) {
		got = append(got, v.Src)
	}
	if diff := cmp.Diff([]string{"a", "b", "c"}, got); diff != "" {
		t.Errorf("VideoItems() order mismatch (-want +got):\n%s", diff)
	}
}

func TestSources_Distinct(t *testing.T) {
	tl := &Timeline{Items: []Item{
		&VideoItem{Src: "a", StartTime: 0, Duration: 1},
		&VideoItem{Src: "b", StartTime: 1, Duration: 1},
		&VideoItem{Src: "a", StartTime: 2, Duration: 1},
	}}
	if diff := cmp.Diff([]string{"a", "b"}, Sources(tl)); diff != "" {
		t.Errorf("Sources() mismatch (-want +got):\n%s", diff)
	}
}

func TestWithOverlays_ReplacesOnlyOverlays(t *testing.T) {
	tl := mustDecode(t, scenarioJSON)
	fresh := []*OverlayItem{{StartTime: 0, Duration: 1}, {StartTime: 2, Duration: 1}}

	next := WithOverlays(tl, fresh)

	if got := len(Overlays(next)); got != 2 {
		t.Errorf("overlay count = %d, want 2", got)
	}
	if got := len(VideoItems(next)); got != 1 {
		t.Errorf("video count = %d, want 1", got)
	}
	if got := len(Overlays(tl)); got != 1 {
		t.Errorf("original overlay count = %d, want 1 (input must not change)", got)
	}
}

func TestResolver(t *testing.T) {
	r := Resolver{MediaRoot: "/media", StripPrefix: DefaultStripPrefix}
	tests := []struct {
		src     string
		want    string
		wantErr bool
	}{
		{"/static/runs/42/clip1.mp4", filepath.FromSlash("/media/runs/42/clip1.mp4"), false},
		{"clips/a.mp4", filepath.FromSlash("/media/clips/a.mp4"), false},
		{"https://cdn.example.com/a.mp4", "https://cdn.example.com/a.mp4", false},
		{"/static/../etc/passwd", "", true},
		{"", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.src, func(t *testing.T) {
			got, err := r.Resolve(tt.src)
			if (err != nil) != tt.wantErr {
				t.Fatalf("Resolve(%q) error = %v, wantErr %v", tt.src, err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("Resolve(%q) = %q, want %q", tt.src, got, tt.want)
			}
		})
	}
}

func TestSaveLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "timeline.json")
	tl := mustDecode(t, scenarioJSON)

	if err := Save(path, tl); err != nil {
		t.Fatalf("Save() error = %v", err)
	}
	loaded, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if diff := cmp.Diff(tl, loaded); diff != "" {
		t.Errorf("Load() mismatch (-want +got):\n%s", diff)
	}
}
