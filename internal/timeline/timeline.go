// Package timeline defines the declarative description of a composed video:
// time-bounded video clips and overlay layers, their JSON wire format, and
// the queries the compositor and exporter run against them.
package timeline

// Kind discriminates timeline items.
type Kind string

const (
	KindVideo   Kind = "video"
	KindOverlay Kind = "overlay"
)

// ElementKind discriminates overlay layout elements.
type ElementKind string

const (
	ElementText  ElementKind = "text"
	ElementImage ElementKind = "image"
)

// Position is the vertical anchor of an overlay element.
type Position string

const (
	PositionTop    Position = "top"
	PositionBottom Position = "bottom"
	PositionCenter Position = "center"
)

// Size is the symbolic size of an overlay element.
type Size string

const (
	SizeSmall  Size = "small"
	SizeMedium Size = "medium"
	SizeLarge  Size = "large"
)

// Transparent is the backgroundColor value meaning "no background".
const Transparent = "transparent"

// Timeline is replaced wholesale, never patched.
type Timeline struct {
	Items []Item `json:"items"`
}

// Span is the half-open interval [Start, Start+Duration) an item occupies.
type Span struct {
	Start    float64
	Duration float64
}

// End returns Start+Duration.
func (s Span) End() float64 {
	return s.Start + s.Duration
}

// Contains reports whether t falls inside the half-open interval.
func (s Span) Contains(t float64) bool {
	return t >= s.Start && t < s.Start+s.Duration
}

// Item is a closed sum type: *VideoItem or *OverlayItem.
type Item interface {
	Kind() Kind
	Span() Span
	isItem()
}

// VideoItem places one decodable media source on the timeline.
type VideoItem struct {
	Src       string
	StartTime float64
	Duration  float64
}

func (v *VideoItem) Kind() Kind { return KindVideo }
func (v *VideoItem) Span() Span { return Span{Start: v.StartTime, Duration: v.Duration} }
func (*VideoItem) isItem() {}

// OverlayItem is a stack of simultaneously visible elements.
type OverlayItem struct {
	StartTime float64
	Duration  float64
	Layout    []Element
}

func (o *OverlayItem) Kind() Kind { return KindOverlay }
func (o *OverlayItem) Span() Span { return Span{Start: o.StartTime, Duration: o.Duration} }
func (*OverlayItem) isItem() {}

// Element is a closed sum type: *TextElement or *ImageElement.
type Element interface {
	ElementKind() ElementKind
	isElement()
}

type TextElement struct {
	Text            string
	Position        Position
	Size            Size
	Color           string
	BackgroundColor string
}

func (*TextElement) ElementKind() ElementKind { return ElementText }
func (*TextElement) isElement() {}

// HasBackground reports whether a background box should be painted.
func (e *TextElement) HasBackground() bool {
	return e.BackgroundColor != "" && e.BackgroundColor != Transparent
}

type ImageElement struct {
	Src      string
	Position Position
	Size     Size
}

func (*ImageElement) ElementKind() ElementKind { return ElementImage }
func (*ImageElement) isElement() {}

func validPosition(p Position) bool {
	switch p {
	case PositionTop, PositionBottom, PositionCenter:
		return true
	}
	return false
}

func validSize(s Size) bool {
	switch s {
	case SizeSmall, SizeMedium, SizeLarge:
		return true
	}
	return false
}
