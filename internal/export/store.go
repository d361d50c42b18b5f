package export

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/renameio/v2"
)

const maxArtifactName = 80

// extensions per MIME type of the artifacts an export produces.
var mimeExtensions = map[string]string{
	MIMETypeMP4:  ".mp4",
	"audio/wav":  ".wav",
	"audio/mp3":  ".mp3",
	"audio/aac":  ".aac",
	"audio/ogg":  ".ogg",
	"audio/aiff": ".aiff",
	"text/plain": ".edl",
}

// ExtensionFor returns the file extension for an export MIME type.
func ExtensionFor(mimeType string) string {
	if ext, ok := mimeExtensions[mimeType]; ok {
		return ext
	}
	return ".bin"
}

// ArtifactStore writes finished exports below one directory.
type ArtifactStore struct {
	dir string
}

func NewArtifactStore(dir string) (*ArtifactStore, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create export dir: %w", err)
	}
	return &ArtifactStore{dir: dir}, nil
}

func (s *ArtifactStore) Dir() string { return s.dir }

// Write stores data as <name><ext> atomically and returns the full path.
// The name is sanitized; an empty result falls back to "export".
func (s *ArtifactStore) Write(name, mimeType string, data []byte) (string, error) {
	stem := SanitizeName(name, maxArtifactName)
	stem = strings.ReplaceAll(stem, " ", "_")
	if stem == "" || strings.Trim(stem, ".") == "" {
		stem = "export"
	}
	path := filepath.Join(s.dir, stem+ExtensionFor(mimeType))

	pf, err := renameio.NewPendingFile(path, renameio.WithPermissions(0644))
	if err != nil {
		return "", fmt.Errorf("create pending artifact: %w", err)
	}
	defer pf.Cleanup()

	if _, err := pf.Write(data); err != nil {
		return "", fmt.Errorf("write artifact: %w", err)
	}
	if err := pf.CloseAtomicallyReplace(); err != nil {
		return "", fmt.Errorf("commit artifact: %w", err)
	}
	return path, nil
}

// Path returns the location of a stored artifact by base name, refusing
// anything that is not a plain file name.
func (s *ArtifactStore) Path(base string) (string, error) {
	if base == "" || base != filepath.Base(base) || strings.HasPrefix(base, ".") {
		return "", fmt.Errorf("invalid artifact name %q", base)
	}
	return filepath.Join(s.dir, base), nil
}

func (s *ArtifactStore) Remove(path string) error {
	if filepath.Dir(path) != filepath.Clean(s.dir) {
		return fmt.Errorf("artifact %q is outside the export dir", path)
	}
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}
