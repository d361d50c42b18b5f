package timeline

import (
	"errors"
	"fmt"
	"math"
)

// ErrInvalid wraps every validation failure.
var ErrInvalid = errors.New("invalid timeline")

// Validate checks item bounds and enum fields. All problems are reported
// together.
func Validate(tl *Timeline) error {
	if tl == nil {
		return fmt.Errorf("%w: nil timeline", ErrInvalid)
	}
	var errs []error
	for i, item := range tl.Items {
		if item == nil {
			errs = append(errs, fmt.Errorf("items[%d]: nil item", i))
			continue
		}
		span := item.Span()
		if span.Start < 0 || math.IsNaN(span.Start) || math.IsInf(span.Start, 0) {
			errs = append(errs, fmt.Errorf("items[%d]: startTime must be >= 0", i))
		}
		if !(span.Duration > 0) || math.IsInf(span.Duration, 0) {
			errs = append(errs, fmt.Errorf("items[%d]: duration must be > 0", i))
		}

		switch it := item.(type) {
		case *VideoItem:
			if it.Src == "" {
				errs = append(errs, fmt.Errorf("items[%d]: src is required", i))
			}
		case *OverlayItem:
			for j, el := range it.Layout {
				if err := validateElement(el); err != nil {
					errs = append(errs, fmt.Errorf("items[%d].layout[%d]: %w", i, j, err))
				}
			}
		}
	}
	if len(errs) == 0 {
		return nil
	}
	return fmt.Errorf("%w: %w", ErrInvalid, errors.Join(errs...))
}

func validateElement(el Element) error {
	switch e := el.(type) {
	case *TextElement:
		if !validPosition(e.Position) {
			return fmt.Errorf("invalid position %q", e.Position)
		}
		if !validSize(e.Size) {
			return fmt.Errorf("invalid size %q", e.Size)
		}
	case *ImageElement:
		if e.Src == "" {
			return errors.New("src is required")
		}
		if !validPosition(e.Position) {
			return fmt.Errorf("invalid position %q", e.Position)
		}
		if !validSize(e.Size) {
			return fmt.Errorf("invalid size %q", e.Size)
		}
	case nil:
		return errors.New("nil element")
	}
	return nil
}
