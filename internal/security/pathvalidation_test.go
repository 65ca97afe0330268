package security

import (
	"os"
	"path/filepath"
	"testing"
)

func TestValidateOutputPath(t *testing.T) {
	tmpDir := t.TempDir()
	outDir := filepath.Join(tmpDir, "out")
	otherDir := filepath.Join(tmpDir, "other")
	for _, d := range []string{outDir, otherDir} {
		if err := os.MkdirAll(d, 0o755); err != nil {
			t.Fatalf("mkdir %s: %v", d, err)
		}
	}
	if err := os.Symlink(otherDir, filepath.Join(outDir, "escape")); err != nil {
		t.Fatalf("symlink: %v", err)
	}

	tests := []struct {
		name    string
		path    string
		dirs    []string
		wantErr bool
	}{
		{"file in dir", filepath.Join(outDir, "match.json"), []string{outDir}, false},
		{"nested new file", filepath.Join(outDir, "a", "b", "match.json"), []string{outDir}, false},
		{"dot-dot escape", filepath.Join(outDir, "..", "match.json"), []string{outDir}, true},
		{"symlinked parent escape", filepath.Join(outDir, "escape", "match.json"), []string{outDir}, true},
		{"second allowed dir", filepath.Join(otherDir, "match.json"), []string{outDir, otherDir}, false},
		{"no allowed dirs", filepath.Join(outDir, "match.json"), nil, true},
		{"missing allowed dir", filepath.Join(outDir, "match.json"), []string{filepath.Join(tmpDir, "nope")}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateOutputPath(tt.path, tt.dirs...)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidateOutputPath(%q) error = %v, wantErr %v", tt.path, err, tt.wantErr)
			}
		})
	}
}

func TestSanitizeFilename(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"", "unnamed"},
		{"match", "match"},
		{"run 2024/01/02", "run_2024_01_02"},
		{"../../etc/passwd", "etc_passwd"},
		{"a   b", "a_b"},
		{"...", "unnamed"},
		{"7f3c-uuid_ok.v2", "7f3c-uuid_ok.v2"},
	}
	for _, tt := range tests {
		if got := SanitizeFilename(tt.in); got != tt.want {
			t.Errorf("SanitizeFilename(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
