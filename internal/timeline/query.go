package timeline

import "sort"

// Duration returns the latest end time over all items, 0 for an empty timeline.
func Duration(tl *Timeline) float64 {
	if tl == nil {
		return 0
	}
	var maxEnd float64
	for _, item := range tl.Items {
		if end := item.Span().End(); end > maxEnd {
			maxEnd = end
		}
	}
	return maxEnd
}

// IsActive reports whether t lies in the item's half-open interval.
func IsActive(item Item, t float64) bool {
	return item.Span().Contains(t)
}

// ActiveVideo returns the first video item, in source order, active at t.
func ActiveVideo(tl *Timeline, t float64) (*VideoItem, bool) {
	if tl == nil {
		return nil, false
	}
	for _, item := range tl.Items {
		if v, ok := item.(*VideoItem); ok && IsActive(v, t) {
			return v, true
		}
	}
	return nil, false
}

// ActiveOverlays returns every overlay item active at t in source order.
func ActiveOverlays(tl *Timeline, t float64) []*OverlayItem {
	if tl == nil {
		return nil
	}
	var out []*OverlayItem
	for _, item := range tl.Items {
		if o, ok := item.(*OverlayItem); ok && IsActive(o, t) {
			out = append(out, o)
		}
	}
	return out
}

// VideoItems returns the video items sorted by ascending start time.
// Items sharing a start time keep their source order.
func VideoItems(tl *Timeline) []*VideoItem {
	if tl == nil {
		return nil
	}
	var out []*VideoItem
	for _, item := range tl.Items {
		if v, ok := item.(*VideoItem); ok {
			out = append(out, v)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].StartTime < out[j].StartTime
	})
	return out
}

// Overlays returns the overlay items in source order.
func Overlays(tl *Timeline) []*OverlayItem {
	if tl == nil {
		return nil
	}
	var out []*OverlayItem
	for _, item := range tl.Items {
		if o, ok := item.(*OverlayItem); ok {
			out = append(out, o)
		}
	}
	return out
}

// Sources returns the distinct video sources in source order.
func Sources(tl *Timeline) []string {
	if tl == nil {
		return nil
	}
	seen := make(map[string]bool)
	var out []string
	for _, item := range tl.Items {
		v, ok := item.(*VideoItem)
		if !ok || seen[v.Src] {
			continue
		}
		seen[v.Src] = true
		out = append(out, v.Src)
	}
	return out
}

// WithOverlays returns a new timeline keeping every non-overlay item of tl
// and replacing its overlays with the given set.
func WithOverlays(tl *Timeline, overlays []*OverlayItem) *Timeline {
	next := &Timeline{}
	if tl != nil {
		for _, item := range tl.Items {
			if _, ok := item.(*OverlayItem); !ok {
				next.Items = append(next.Items, item)
			}
		}
	}
	for _, o := range overlays {
		next.Items = append(next.Items, o)
	}
	return next
}
