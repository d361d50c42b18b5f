package timeline

import (
	"fmt"
	"path/filepath"
	"strings"
)

// DefaultStripPrefix is the path prefix the backend puts in front of
// generated clip paths.
const DefaultStripPrefix = "/static/"

// Resolver maps timeline src values onto local media paths.
type Resolver struct {
	MediaRoot   string
	StripPrefix string
}

// Resolve strips the backend prefix and joins the remainder with the media
// root. URLs are returned unchanged. A path escaping the media root is an
// error.
func (r Resolver) Resolve(src string) (string, error) {
	if src == "" {
		return "", fmt.Errorf("empty src")
	}
	if strings.HasPrefix(src, "http://") || strings.HasPrefix(src, "https://") {
		return src, nil
	}

	rel := src
	if r.StripPrefix != "" {
		rel = strings.TrimPrefix(rel, r.StripPrefix)
	}
	rel = strings.TrimLeft(filepath.ToSlash(rel), "/")

	for _, part := range strings.Split(rel, "/") {
		if part == ".." {
			return "", fmt.Errorf("src %q escapes media root", src)
		}
	}

	if r.MediaRoot == "" {
		return filepath.Clean(filepath.FromSlash(rel)), nil
	}
	return filepath.Join(r.MediaRoot, filepath.FromSlash(rel)), nil
}
