package timeline

import (
	"encoding/json"
	"fmt"
	"io"
)

// Items and elements are emitted with a "type" discriminator. "kind" is
// accepted on input as an alias.

type discriminator struct {
	Type string `json:"type"`
	Kind string `json:"kind"`
}

func (d discriminator) value() string {
	if d.Type != "" {
		return d.Type
	}
	return d.Kind
}

type videoJSON struct {
	Type      Kind    `json:"type"`
	Src       string  `json:"src"`
	StartTime float64 `json:"startTime"`
	Duration  float64 `json:"duration"`
}

type overlayJSON struct {
	Type      Kind              `json:"type"`
	StartTime float64           `json:"startTime"`
	Duration  float64           `json:"duration"`
	Layout    []json.RawMessage `json:"layout"`
}

type textJSON struct {
	Type            ElementKind `json:"type"`
	Text            string      `json:"text"`
	Position        Position    `json:"position"`
	Size            Size        `json:"size"`
	Color           string      `json:"color"`
	BackgroundColor string      `json:"backgroundColor,omitempty"`
}

type imageJSON struct {
	Type     ElementKind `json:"type"`
	Src      string      `json:"src"`
	Position Position    `json:"position"`
	Size     Size        `json:"size"`
}

func (v *VideoItem) MarshalJSON() ([]byte, error) {
	return json.Marshal(videoJSON{Type: KindVideo, Src: v.Src, StartTime: v.StartTime, Duration: v.Duration})
}

func (o *OverlayItem) MarshalJSON() ([]byte, error) {
	layout := make([]json.RawMessage, 0, len(o.Layout))
	for _, el := range o.Layout {
		raw, err := json.Marshal(el)
		if err != nil {
			return nil, err
		}
		layout = append(layout, raw)
	}
	return json.Marshal(overlayJSON{Type: KindOverlay, StartTime: o.StartTime, Duration: o.Duration, Layout: layout})
}

func (o *OverlayItem) UnmarshalJSON(data []byte) error {
	var raw overlayJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	o.StartTime = raw.StartTime
	o.Duration = raw.Duration
	o.Layout = make([]Element, 0, len(raw.Layout))
	for i, r := range raw.Layout {
		el, err := decodeElement(r)
		if err != nil {
			return fmt.Errorf("layout[%d]: %w", i, err)
		}
		o.Layout = append(o.Layout, el)
	}
	return nil
}

func (e *TextElement) MarshalJSON() ([]byte, error) {
	bg := e.BackgroundColor
	if bg == "" {
		bg = Transparent
	}
	return json.Marshal(textJSON{
		Type:            ElementText,
		Text:            e.Text,
		Position:        e.Position,
		Size:            e.Size,
		Color:           e.Color,
		BackgroundColor: bg,
	})
}

func (e *ImageElement) MarshalJSON() ([]byte, error) {
	return json.Marshal(imageJSON{Type: ElementImage, Src: e.Src, Position: e.Position, Size: e.Size})
}

func (tl *Timeline) UnmarshalJSON(data []byte) error {
	var raw struct {
		Items []json.RawMessage `json:"items"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	tl.Items = make([]Item, 0, len(raw.Items))
	for i, r := range raw.Items {
		item, err := decodeItem(r)
		if err != nil {
			return fmt.Errorf("items[%d]: %w", i, err)
		}
		tl.Items = append(tl.Items, item)
	}
	return nil
}

func decodeItem(data json.RawMessage) (Item, error) {
	var d discriminator
	if err := json.Unmarshal(data, &d); err != nil {
		return nil, err
	}
	switch Kind(d.value()) {
	case KindVideo:
		var raw videoJSON
		if err := json.Unmarshal(data, &raw); err != nil {
			return nil, err
		}
		return &VideoItem{Src: raw.Src, StartTime: raw.StartTime, Duration: raw.Duration}, nil
	case KindOverlay:
		var o OverlayItem
		if err := json.Unmarshal(data, &o); err != nil {
			return nil, err
		}
		return &o, nil
	default:
		return nil, fmt.Errorf("unknown item type %q", d.value())
	}
}

func decodeElement(data json.RawMessage) (Element, error) {
	var d discriminator
	if err := json.Unmarshal(data, &d); err != nil {
		return nil, err
	}
	switch ElementKind(d.value()) {
	case ElementText:
		var raw textJSON
		if err := json.Unmarshal(data, &raw); err != nil {
			return nil, err
		}
		bg := raw.BackgroundColor
		if bg == "" {
			bg = Transparent
		}
		return &TextElement{
			Text:            raw.Text,
			Position:        raw.Position,
			Size:            raw.Size,
			Color:           raw.Color,
			BackgroundColor: bg,
		}, nil
	case ElementImage:
		var raw imageJSON
		if err := json.Unmarshal(data, &raw); err != nil {
			return nil, err
		}
		return &ImageElement{Src: raw.Src, Position: raw.Position, Size: raw.Size}, nil
	default:
		return nil, fmt.Errorf("unknown element type %q", d.value())
	}
}

// Decode reads one timeline document from r.
func Decode(r io.Reader) (*Timeline, error) {
	var tl Timeline
	if err := json.NewDecoder(r).Decode(&tl); err != nil {
		return nil, fmt.Errorf("decode timeline: %w", err)
	}
	return &tl, nil
}

// Encode writes tl as indented JSON.
func Encode(w io.Writer, tl *Timeline) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(tl)
}
