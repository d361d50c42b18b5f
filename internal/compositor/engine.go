// Package compositor keeps the loaded media decoders in step with a single
// playhead and paints each frame: the active video clip scaled to fit, then
// every active overlay on top.
package compositor

import (
	"context"
	"image"
	"image/color"
	"image/png"
	"io"
	"log/slog"
	"sync"

	"github.com/Dombom123/viral-launch-video/internal/media"
	"github.com/Dombom123/viral-launch-video/internal/metrics"
	"github.com/Dombom123/viral-launch-video/internal/timeline"
	"golang.org/x/image/draw"
)

const (
	DefaultWidth  = 1280
	DefaultHeight = 720
)

// ImageLoader decodes still images used by image overlay elements.
type ImageLoader interface {
	LoadImage(src string) (image.Image, error)
}

// Config holds the engine's configuration.
type Config struct {
	Width      int
	Height     int
	Background color.RGBA
	Loader     media.Loader
	Images     ImageLoader // optional; image elements are skipped without it
	Logger     *slog.Logger
}

// Engine owns the drawing surface and the decoder registry. Update,
// UpdateTimeline and Destroy are serialized; only one driver should call
// Update at a time (see playback.Ticker.Suspend).
type Engine struct {
	cfg    Config
	logger *slog.Logger
	faces  faceSet

	mu        sync.Mutex
	surface   *image.RGBA
	tl        *timeline.Timeline
	decoders  map[string]media.Decoder
	loading   map[string]bool
	activeSrc string
	drawRect  image.Rectangle
	lastTime  float64
	rendered  bool
	destroyed bool

	images      map[string]image.Image
	imageFailed map[string]bool

	loadCtx    context.Context
	cancelLoad context.CancelFunc
	loads      sync.WaitGroup
}

// New creates an engine for tl and starts loading its sources.
func New(cfg Config, tl *timeline.Timeline) (*Engine, error) {
	if cfg.Width <= 0 {
		cfg.Width = DefaultWidth
	}
	if cfg.Height <= 0 {
		cfg.Height = DefaultHeight
	}
	if cfg.Background == (color.RGBA{}) {
		cfg.Background = color.RGBA{A: 255}
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	faces, err := newFaceSet()
	if err != nil {
		return nil, err
	}
	if tl == nil {
		tl = &timeline.Timeline{}
	}

	ctx, cancel := context.WithCancel(context.Background())
	e := &Engine{
		cfg:         cfg,
		logger:      cfg.Logger,
		faces:       faces,
		surface:     image.NewRGBA(image.Rect(0, 0, cfg.Width, cfg.Height)),
		tl:          tl,
		decoders:    make(map[string]media.Decoder),
		loading:     make(map[string]bool),
		images:      make(map[string]image.Image),
		imageFailed: make(map[string]bool),
		loadCtx:     ctx,
		cancelLoad:  cancel,
	}
	e.clear()

	e.mu.Lock()
	e.loadSourcesLocked()
	e.mu.Unlock()
	return e, nil
}

// Update renders the frame at currentTime. It is a no-op returning false
// when currentTime equals the last rendered time and force is not set.
func (e *Engine) Update(currentTime float64, isPlaying, wasSeeked, force bool) bool {
	e.mu.Lock()
	defer e.mu.Unlock()

	if !force && e.rendered && currentTime == e.lastTime {
		metrics.RenderSkips.Inc()
		return false
	}
	e.lastTime = currentTime
	e.rendered = true

	e.syncVideo(currentTime, isPlaying, wasSeeked)
	e.clear()
	e.drawVideo()
	e.drawOverlays(currentTime)
	metrics.RenderPasses.Inc()
	return true
}

// Redraw repaints the last rendered time without touching the decoders,
// picking up frames that landed after the Update that positioned them.
func (e *Engine) Redraw() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.clear()
	e.drawVideo()
	e.drawOverlays(e.lastTime)
}

// UpdateTimeline swaps the timeline and starts loading any source not yet
// in the registry.
func (e *Engine) UpdateTimeline(tl *timeline.Timeline) {
	if tl == nil {
		tl = &timeline.Timeline{}
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.tl = tl
	e.loadSourcesLocked()
}

// AwaitLoads blocks until every in-flight source load has finished.
func (e *Engine) AwaitLoads(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		e.loads.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Destroy closes every decoder and empties the registry. Later updates
// render the background only.
func (e *Engine) Destroy() {
	e.mu.Lock()
	e.destroyed = true
	e.mu.Unlock()

	e.cancelLoad()
	e.loads.Wait()

	e.mu.Lock()
	defer e.mu.Unlock()

	for src, d := range e.decoders {
		d.Pause()
		if err := d.Close(); err != nil {
			e.logger.Warn("failed to close decoder", "src", src, "error", err)
		}
	}
	e.decoders = make(map[string]media.Decoder)
	metrics.DecodersOpen.Set(0)
	e.activeSrc = ""
	e.drawRect = image.Rectangle{}
	if e.faces != nil {
		e.faces.Close()
		e.faces = nil
	}
	e.clear()
}

func (e *Engine) Timeline() *timeline.Timeline {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.tl
}

// ActiveSource returns the src currently bound to the video layer.
func (e *Engine) ActiveSource() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.activeSrc
}

// Decoder looks up a registered decoder by src.
func (e *Engine) Decoder(src string) (media.Decoder, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	d, ok := e.decoders[src]
	return d, ok
}

func (e *Engine) Size() (int, int) {
	e.mu.Lock()
	defer e.mu.Unlock()
	b := e.surface.Bounds()
	return b.Dx(), b.Dy()
}

// Resize replaces the surface. The next Update re-lays out the video layer.
func (e *Engine) Resize(w, h int) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.surface = image.NewRGBA(image.Rect(0, 0, w, h))
	e.activeSrc = ""
	e.drawRect = image.Rectangle{}
	e.rendered = false
	e.clear()
}

// Snapshot returns a copy of the last rendered frame.
func (e *Engine) Snapshot() *image.RGBA {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := image.NewRGBA(e.surface.Bounds())
	copy(out.Pix, e.surface.Pix)
	return out
}

// CopyFrame copies the last rendered frame into dst, which must have the
// surface's bounds.
func (e *Engine) CopyFrame(dst *image.RGBA) {
	e.mu.Lock()
	defer e.mu.Unlock()
	copy(dst.Pix, e.surface.Pix)
}

// EncodePNG writes the last rendered frame as PNG.
func (e *Engine) EncodePNG(w io.Writer) error {
	return png.Encode(w, e.Snapshot())
}

func (e *Engine) clear() {
	draw.Draw(e.surface, e.surface.Bounds(), image.NewUniform(e.cfg.Background), image.Point{}, draw.Src)
}

// syncVideo picks the active clip and brings its decoder in line with the
// playhead. Every other decoder in the registry is paused, including clips
// listed after the active one.
func (e *Engine) syncVideo(t float64, isPlaying, wasSeeked bool) {
	active, _ := timeline.ActiveVideo(e.tl, t)

	for src, d := range e.decoders {
		// Two items may share a source; the active one is handled below.
		if active != nil && src == active.Src {
			continue
		}
		if !d.Paused() {
			d.Pause()
		}
	}

	if active == nil {
		e.activeSrc = ""
		e.drawRect = image.Rectangle{}
		return
	}

	d, ok := e.decoders[active.Src]
	if !ok {
		// Not loaded (yet) or failed to load: black video layer.
		e.activeSrc = ""
		e.drawRect = image.Rectangle{}
		return
	}

	if wasSeeked {
		d.Seek(t - active.StartTime)
	}
	if isPlaying {
		if d.Paused() {
			d.Play()
		}
	} else {
		d.Pause()
	}

	if e.activeSrc != active.Src {
		e.activeSrc = active.Src
		e.drawRect = containRect(d, e.surface.Bounds())
	}
}

// containRect fits the decoder's frame inside bounds, centered, keeping the
// aspect ratio. A decoder without a known size fills the surface.
func containRect(d media.Decoder, bounds image.Rectangle) image.Rectangle {
	sw, sh := bounds.Dx(), bounds.Dy()
	vw, vh := d.Size()
	if vw <= 0 || vh <= 0 {
		vw, vh = sw, sh
	}
	scale := min(float64(sw)/float64(vw), float64(sh)/float64(vh))
	w := int(float64(vw)*scale + 0.5)
	h := int(float64(vh)*scale + 0.5)
	x := (sw - w) / 2
	y := (sh - h) / 2
	return image.Rect(x, y, x+w, y+h).Add(bounds.Min)
}

func (e *Engine) drawVideo() {
	if e.activeSrc == "" || e.drawRect.Empty() {
		return
	}
	d, ok := e.decoders[e.activeSrc]
	if !ok {
		return
	}
	d.DrawFrame(func(frame *image.RGBA) {
		draw.ApproxBiLinear.Scale(e.surface, e.drawRect, frame, frame.Bounds(), draw.Src, nil)
	})
}

func (e *Engine) drawOverlays(t float64) {
	if e.faces == nil {
		return
	}
	for _, ov := range timeline.ActiveOverlays(e.tl, t) {
		for _, el := range ov.Layout {
			switch el := el.(type) {
			case *timeline.TextElement:
				e.drawTextElement(el)
			case *timeline.ImageElement:
				e.drawImageElement(el)
			}
		}
	}
}

func (e *Engine) drawTextElement(el *timeline.TextElement) {
	fill, err := ParseColor(el.Color)
	if err != nil {
		e.logger.Debug("unparseable text color, using white", "color", el.Color)
		fill = namedColors["white"]
	}
	var bg color.RGBA
	hasBG := el.HasBackground()
	if hasBG {
		if bg, err = ParseColor(el.BackgroundColor); err != nil {
			e.logger.Debug("unparseable background color, skipping box", "color", el.BackgroundColor)
			hasBG = false
		}
	}
	drawText(e.surface, e.faces.face(el.Size), el, fill, bg, hasBG)
}

// Image overlay widths as a fraction of the surface width.
var imageWidths = map[timeline.Size]float64{
	timeline.SizeSmall:  0.25,
	timeline.SizeMedium: 0.5,
	timeline.SizeLarge:  0.8,
}

func (e *Engine) drawImageElement(el *timeline.ImageElement) {
	img := e.overlayImage(el.Src)
	if img == nil {
		return
	}
	sb := e.surface.Bounds()
	ib := img.Bounds()
	if ib.Dx() == 0 || ib.Dy() == 0 {
		return
	}

	frac, ok := imageWidths[el.Size]
	if !ok {
		frac = imageWidths[timeline.SizeMedium]
	}
	w := int(float64(sb.Dx()) * frac)
	h := int(float64(w) * float64(ib.Dy()) / float64(ib.Dx()))
	cx, cy := sb.Dx()/2, anchorY(el.Position, sb.Dy())
	dr := image.Rect(cx-w/2, cy-h/2, cx-w/2+w, cy-h/2+h)

	draw.ApproxBiLinear.Scale(e.surface, dr, img, ib, draw.Over, nil)
}

func (e *Engine) overlayImage(src string) image.Image {
	if img, ok := e.images[src]; ok {
		return img
	}
	if e.imageFailed[src] || e.cfg.Images == nil {
		return nil
	}
	img, err := e.cfg.Images.LoadImage(src)
	if err != nil {
		e.imageFailed[src] = true
		e.logger.Warn("failed to load overlay image", "src", src, "error", err)
		return nil
	}
	e.images[src] = img
	return img
}

// loadSourcesLocked starts an asynchronous load for every video src that is
// neither registered nor already loading. Caller holds e.mu.
func (e *Engine) loadSourcesLocked() {
	if e.destroyed || e.cfg.Loader == nil {
		return
	}
	for _, src := range timeline.Sources(e.tl) {
		if _, ok := e.decoders[src]; ok || e.loading[src] {
			continue
		}
		e.loading[src] = true
		e.loads.Add(1)
		go e.load(src)
	}
}

func (e *Engine) load(src string) {
	defer e.loads.Done()

	d, err := e.cfg.Loader.Load(e.loadCtx, src)

	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.loading, src)

	if err != nil {
		metrics.DecoderLoads.WithLabelValues("error").Inc()
		e.logger.Warn("failed to load source", "src", src, "error", err)
		return
	}
	if e.destroyed {
		d.Close()
		return
	}

	d.Pause()
	e.decoders[src] = d
	if v, ok := timeline.ActiveVideo(e.tl, e.lastTime); ok && v.Src == src && e.lastTime > v.StartTime {
		d.Seek(e.lastTime - v.StartTime)
	}
	metrics.DecoderLoads.WithLabelValues("ok").Inc()
	metrics.DecodersOpen.Set(float64(len(e.decoders)))
	e.logger.Debug("source loaded", "src", src, "ready_state", d.ReadyState().String())
}
