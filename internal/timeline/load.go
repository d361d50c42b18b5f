package timeline

import (
	"bytes"
	"fmt"
	"os"

	"github.com/google/renameio/v2"
)

// Load reads and validates a timeline JSON file.
func Load(path string) (*Timeline, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open timeline: %w", err)
	}
	defer f.Close()

	tl, err := Decode(f)
	if err != nil {
		return nil, err
	}
	if err := Validate(tl); err != nil {
		return nil, err
	}
	return tl, nil
}

// Save writes tl to path, atomically replacing any existing file.
func Save(path string, tl *Timeline) error {
	var buf bytes.Buffer
	if err := Encode(&buf, tl); err != nil {
		return fmt.Errorf("encode timeline: %w", err)
	}

	pendingFile, err := renameio.NewPendingFile(path, renameio.WithPermissions(0644))
	if err != nil {
		return fmt.Errorf("create pending file: %w", err)
	}
	defer func() { _ = pendingFile.Cleanup() }()

	if _, err := pendingFile.Write(buf.Bytes()); err != nil {
		return fmt.Errorf("write timeline: %w", err)
	}
	return pendingFile.CloseAtomicallyReplace()
}
