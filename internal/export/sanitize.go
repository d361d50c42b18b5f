package export

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"unicode"
)

// ErrInvalidOutputDir is wrapped by every ValidateOutputDir failure.
var ErrInvalidOutputDir = errors.New("invalid output directory")

// SanitizeName turns a user-chosen title into a file name stem. Control
// characters are dropped, anything else outside letters, digits and
// " -_.,()" becomes '_', runs of '_' collapse to one and leading dots are
// trimmed. maxLen counts runes; 0 means unlimited.
func SanitizeName(s string, maxLen int) string {
	mapped := strings.Map(func(r rune) rune {
		switch {
		case unicode.IsControl(r):
			return -1
		case unicode.IsLetter(r), unicode.IsDigit(r), strings.ContainsRune(" -_.,()", r):
			return r
		}
		return '_'
	}, s)

	var b strings.Builder
	var prev rune
	for _, r := range mapped {
		if r == '_' && prev == '_' {
			continue
		}
		b.WriteRune(r)
		prev = r
	}

	name := strings.TrimRight(strings.TrimLeft(b.String(), " ."), " ")
	if maxLen > 0 {
		if runes := []rune(name); len(runes) > maxLen {
			name = strings.TrimRight(string(runes[:maxLen]), " ")
		}
	}
	return name
}

// ValidateOutputDir checks a user-supplied destination directory: it must
// be a clean path to an existing directory, without "..".
func ValidateOutputDir(dir string) error {
	switch {
	case strings.TrimSpace(dir) == "":
		return fmt.Errorf("%w: empty path", ErrInvalidOutputDir)
	case slices.Contains(strings.Split(filepath.ToSlash(dir), "/"), ".."):
		return fmt.Errorf("%w: %q contains ..", ErrInvalidOutputDir, dir)
	case filepath.Clean(dir) != dir:
		return fmt.Errorf("%w: %q is not a clean path", ErrInvalidOutputDir, dir)
	}

	info, err := os.Stat(dir)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidOutputDir, err)
	}
	if !info.IsDir() {
		return fmt.Errorf("%w: %q is not a directory", ErrInvalidOutputDir, dir)
	}
	return nil
}
