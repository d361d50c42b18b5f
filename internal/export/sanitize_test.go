package export

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func TestSanitizeName(t *testing.T) {
	tests := []struct {
		name   string
		input  string
		maxLen int
		want   string
	}{
		{name: "allowed characters kept", input: "Spring Launch - v2 (final), 1.0", want: "Spring Launch - v2 (final), 1.0"},
		{name: "control characters dropped", input: " A\nB\rC\tD\x00 ", want: "ABCD"},
		{name: "separators replaced", input: "a/b:c", want: "a_b_c"},
		{name: "runs collapse", input: `bad<>|"name`, want: "bad_name"},
		{name: "leading dots trimmed", input: "../.hidden", want: "_.hidden"},
		{name: "dots only", input: "...", want: ""},
		{name: "unicode letters", input: "Café 発表", want: "Café 発表"},
		{name: "truncated by runes", input: "abcdefghijklmnop", maxLen: 10, want: "abcdefghij"},
		{name: "truncation trims trailing space", input: "abcd efgh", maxLen: 5, want: "abcd"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := SanitizeName(tt.input, tt.maxLen); got != tt.want {
				t.Errorf("SanitizeName(%q, %d) = %q, want %q", tt.input, tt.maxLen, got, tt.want)
			}
		})
	}
}

func TestValidateOutputDir(t *testing.T) {
	base := t.TempDir()
	file := filepath.Join(base, "clip.mp4")
	if err := os.WriteFile(file, []byte("x"), 0o644); err != nil {
		t.Fatalf("write file: %v", err)
	}

	tests := []struct {
		name    string
		dir     string
		wantErr bool
	}{
		{name: "existing directory", dir: base},
		{name: "current directory", dir: "."},
		{name: "empty", dir: "  ", wantErr: true},
		{name: "missing", dir: filepath.Join(base, "missing"), wantErr: true},
		{name: "traversal", dir: "/tmp/../etc", wantErr: true},
		{name: "unclean", dir: base + "/", wantErr: true},
		{name: "file", dir: file, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateOutputDir(tt.dir)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ValidateOutputDir(%q) error = %v, wantErr %v", tt.dir, err, tt.wantErr)
			}
			if err != nil && !errors.Is(err, ErrInvalidOutputDir) {
				t.Errorf("error %v does not wrap ErrInvalidOutputDir", err)
			}
		})
	}
}
