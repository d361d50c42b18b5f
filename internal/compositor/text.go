package compositor

import (
	"fmt"
	"image"
	"image/color"
	"strings"

	"github.com/Dombom123/viral-launch-video/internal/timeline"
	"golang.org/x/image/draw"
	"golang.org/x/image/font"
	"golang.org/x/image/font/gofont/gobold"
	"golang.org/x/image/font/opentype"
	"golang.org/x/image/math/fixed"
)

// Font sizes in pixels per symbolic size.
var fontSizes = map[timeline.Size]float64{
	timeline.SizeSmall:  48,
	timeline.SizeMedium: 64,
	timeline.SizeLarge:  120,
}

const (
	// anchorInset is the distance of top/bottom anchored elements from the edge.
	anchorInset = 100
	boxPadding  = 16
)

// faceSet holds one bold face per symbolic size. Faces are not safe for
// concurrent use; the engine lock covers them.
type faceSet map[timeline.Size]font.Face

func newFaceSet() (faceSet, error) {
	f, err := opentype.Parse(gobold.TTF)
	if err != nil {
		return nil, fmt.Errorf("parse bold font: %w", err)
	}
	faces := make(faceSet, len(fontSizes))
	for size, px := range fontSizes {
		face, err := opentype.NewFace(f, &opentype.FaceOptions{
			Size:    px,
			DPI:     72,
			Hinting: font.HintingFull,
		})
		if err != nil {
			return nil, fmt.Errorf("create %s face: %w", size, err)
		}
		faces[size] = face
	}
	return faces, nil
}

func (fs faceSet) face(size timeline.Size) font.Face {
	if f, ok := fs[size]; ok {
		return f
	}
	return fs[timeline.SizeSmall]
}

func (fs faceSet) Close() {
	for _, f := range fs {
		f.Close()
	}
}

// anchorY maps a position onto the vertical center of the element.
func anchorY(pos timeline.Position, height int) int {
	switch pos {
	case timeline.PositionTop:
		return anchorInset
	case timeline.PositionBottom:
		return height - anchorInset
	default:
		return height / 2
	}
}

// wrapText breaks text into lines no wider than maxWidth. Explicit newlines
// are kept; a single word wider than maxWidth gets a line of its own.
func wrapText(face font.Face, text string, maxWidth int) []string {
	var lines []string
	for _, para := range strings.Split(text, "\n") {
		words := strings.Fields(para)
		if len(words) == 0 {
			lines = append(lines, "")
			continue
		}
		line := words[0]
		for _, w := range words[1:] {
			candidate := line + " " + w
			if font.MeasureString(face, candidate).Ceil() <= maxWidth {
				line = candidate
				continue
			}
			lines = append(lines, line)
			line = w
		}
		lines = append(lines, line)
	}
	return lines
}

// textBlock is a laid-out, centered paragraph.
type textBlock struct {
	lines  []string
	widths []int
	bounds image.Rectangle
	ascent int
	lineH  int
}

func layoutText(face font.Face, text string, surface image.Rectangle, pos timeline.Position) textBlock {
	w, h := surface.Dx(), surface.Dy()
	lines := wrapText(face, text, w)

	m := face.Metrics()
	lineH := m.Height.Ceil()
	blockH := lineH * len(lines)

	widths := make([]int, len(lines))
	maxW := 0
	for i, l := range lines {
		widths[i] = font.MeasureString(face, l).Ceil()
		if widths[i] > maxW {
			maxW = widths[i]
		}
	}

	cy := anchorY(pos, h)
	top := cy - blockH/2
	left := w/2 - maxW/2
	return textBlock{
		lines:  lines,
		widths: widths,
		bounds: image.Rect(left, top, left+maxW, top+blockH),
		ascent: m.Ascent.Ceil(),
		lineH:  lineH,
	}
}

func drawText(dst draw.Image, face font.Face, el *timeline.TextElement, fill, bg color.RGBA, hasBG bool) {
	b := layoutText(face, el.Text, dst.Bounds(), el.Position)

	if hasBG && bg.A > 0 {
		box := b.bounds.Inset(-boxPadding).Intersect(dst.Bounds())
		draw.Draw(dst, box, image.NewUniform(bg), image.Point{}, draw.Over)
	}

	d := font.Drawer{Dst: dst, Src: image.NewUniform(fill), Face: face}
	w := dst.Bounds().Dx()
	for i, line := range b.lines {
		x := w/2 - b.widths[i]/2
		y := b.bounds.Min.Y + i*b.lineH + b.ascent
		d.Dot = fixed.P(x, y)
		d.DrawString(line)
	}
}
