package fs

import (
	"path/filepath"
	"testing"
)

func TestNewIgnoreMatcher(t *testing.T) {
	t.Run("skips blank lines and comments", func(t *testing.T) {
		t.Parallel()
		m := NewIgnoreMatcher([]string{"", "  ", "# comment", "*.log"})
		want := len(DefaultIgnorePatterns) + 1
		if len(m.patterns) != want {
			t.Fatalf("expected %d patterns, got %d", want, len(m.patterns))
		}
		if last := m.patterns[len(m.patterns)-1].pattern; last != "*.log" {
			t.Errorf("expected *.log, got %s", last)
		}
	})

	t.Run("classifies path vs basename patterns", func(t *testing.T) {
		t.Parallel()
		m := NewIgnoreMatcher([]string{"*.partial", "customers/tmp"})
		n := len(m.patterns)
		if m.patterns[n-2].matchPath {
			t.Error("*.partial should not be a path pattern")
		}
		if !m.patterns[n-1].matchPath {
			t.Error("customers/tmp should be a path pattern")
		}
	})
}

func TestIgnoreMatcher_Match(t *testing.T) {
	tests := []struct {
		name         string
		patterns     []string
		relativePath string
		want         bool
	}{
		{
			name:         "default temp file pattern",
			relativePath: filepath.Join("customers", "acme", ".tmp-123456"),
			want:         true,
		},
		{
			name:         "default OS litter",
			relativePath: filepath.Join("quotes", "Q-1", ".DS_Store"),
			want:         true,
		},
		{
			name:         "upload is not ignored by defaults",
			relativePath: filepath.Join("customers", "acme", "quotes", "Q-1", "files", "id", "original", "plan.pdf"),
			want:         false,
		},
		{
			name:         "basename glob matches file in subdirectory",
			patterns:     []string{"*.partial"},
			relativePath: filepath.Join("sub", "upload.partial"),
			want:         true,
		},
		{
			name:         "basename glob does not match different extension",
			patterns:     []string{"*.partial"},
			relativePath: "upload.pdf",
			want:         false,
		},
		{
			name:         "path pattern matches exact relative path",
			patterns:     []string{"customers/tmp"},
			relativePath: filepath.Join("customers", "tmp"),
			want:         true,
		},
		{
			name:         "path pattern does not match wrong path",
			patterns:     []string{"customers/tmp"},
			relativePath: filepath.Join("quotes", "tmp"),
			want:         false,
		},
		{
			name:         "path pattern with glob",
			patterns:     []string{"quotes/*.bak"},
			relativePath: filepath.Join("quotes", "Q-1.bak"),
			want:         true,
		},
		{
			name:         "question mark does not match multiple chars",
			patterns:     []string{"?.txt"},
			relativePath: "ab.txt",
			want:         false,
		},
		{
			name:         "empty string path",
			patterns:     []string{"*.log"},
			relativePath: "",
			want:         false,
		},
		{
			name:         "multiple patterns second matches",
			patterns:     []string{"*.log", "*.bak"},
			relativePath: "data.bak",
			want:         true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			m := NewIgnoreMatcher(tt.patterns)
			got := m.Match(tt.relativePath)
			if got != tt.want {
				t.Errorf("Match(%q) = %v, want %v", tt.relativePath, got, tt.want)
			}
		})
	}
}

func TestIgnoreMatcher_NilMatchesNothing(t *testing.T) {
	var m *IgnoreMatcher
	if m.Match(".tmp-1") {
		t.Error("nil matcher matched")
	}
}
