package media

import (
	"context"
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/Dombom123/viral-launch-video/internal/logging"
	"github.com/Dombom123/viral-launch-video/internal/timeline"
	_ "golang.org/x/image/webp"
)

// Loader opens the decoder for a timeline src.
type Loader interface {
	Load(ctx context.Context, src string) (Decoder, error)
}

var stillExtensions = map[string]bool{
	".png":  true,
	".jpg":  true,
	".jpeg": true,
	".webp": true,
}

// FileLoader resolves src values against the media root and opens them with
// Vidio, or as still images for image files.
type FileLoader struct {
	resolver timeline.Resolver
	logger   *slog.Logger
}

func NewFileLoader(resolver timeline.Resolver, logger *slog.Logger) *FileLoader {
	return &FileLoader{resolver: resolver, logger: logger}
}

func (l *FileLoader) Load(ctx context.Context, src string) (Decoder, error) {
	path, err := l.resolver.Resolve(src)
	if err != nil {
		return nil, err
	}
	if strings.HasPrefix(path, "http://") || strings.HasPrefix(path, "https://") {
		return nil, fmt.Errorf("remote sources are not supported: %s", src)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("stat source: %w", err)
	}
	l.logger.Debug("opening source", "src", src, "path", logging.SanitizePath(path))

	if stillExtensions[strings.ToLower(filepath.Ext(path))] {
		img, err := decodeImageFile(path)
		if err != nil {
			return nil, err
		}
		return NewStillDecoder(src, img), nil
	}

	return OpenVidio(src, path, l.logger)
}

func decodeImageFile(path string) (image.Image, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open image: %w", err)
	}
	defer f.Close()

	img, _, err := image.Decode(f)
	if err != nil {
		return nil, fmt.Errorf("decode image: %w", err)
	}
	return img, nil
}

// LoadImage decodes a still image referenced by an overlay element.
func (l *FileLoader) LoadImage(src string) (image.Image, error) {
	path, err := l.resolver.Resolve(src)
	if err != nil {
		return nil, err
	}
	if strings.HasPrefix(path, "http://") || strings.HasPrefix(path, "https://") {
		return nil, fmt.Errorf("remote sources are not supported: %s", src)
	}
	return decodeImageFile(path)
}

// Resolve exposes the loader's path resolution to collaborators that need
// the same mapping (audio extraction, EDL media paths).
func (l *FileLoader) Resolve(src string) (string, error) {
	return l.resolver.Resolve(src)
}
