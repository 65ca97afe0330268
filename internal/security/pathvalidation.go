// Package security guards the file paths the result sink writes to.
package security

import (
	"fmt"
	"path/filepath"
	"strings"
)

// maxFilenameLen caps names produced by SanitizeFilename.
const maxFilenameLen = 128

// ValidateOutputPath checks that path resolves inside at least one of
// allowedDirs once "..", relative components and symlinks are resolved.
// A path that does not exist yet is checked through its nearest existing
// parent, so a symlinked parent cannot be used to escape.
func ValidateOutputPath(path string, allowedDirs ...string) error {
	if len(allowedDirs) == 0 {
		return fmt.Errorf("no allowed output directories configured")
	}

	target, err := canonicalPath(path)
	if err != nil {
		return err
	}

	for _, dir := range allowedDirs {
		if within(target, dir) {
			return nil
		}
	}
	return fmt.Errorf("output path %s is outside the allowed directories %v", path, allowedDirs)
}

func within(target, dir string) bool {
	absDir, err := filepath.Abs(dir)
	if err != nil {
		return false
	}
	canonicalDir, err := filepath.EvalSymlinks(absDir)
	if err != nil {
		return false
	}
	rel, err := filepath.Rel(canonicalDir, target)
	if err != nil {
		return false
	}
	return rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator)) && !filepath.IsAbs(rel)
}

// canonicalPath resolves symlinks in path, or in its deepest existing
// ancestor when path itself does not exist.
func canonicalPath(path string) (string, error) {
	abs, err := filepath.Abs(filepath.Clean(path))
	if err != nil {
		return "", fmt.Errorf("resolve absolute path: %w", err)
	}
	if resolved, err := filepath.EvalSymlinks(abs); err == nil {
		return resolved, nil
	}

	for dir := filepath.Dir(abs); ; dir = filepath.Dir(dir) {
		if resolved, err := filepath.EvalSymlinks(dir); err == nil {
			rest, _ := filepath.Rel(dir, abs)
			return filepath.Join(resolved, rest), nil
		}
		if filepath.Dir(dir) == dir {
			return abs, nil
		}
	}
}

// SanitizeFilename turns an arbitrary label (a run ID, a dataset name) into
// a safe file name stem: ASCII letters, digits, '.', '_' and '-' survive,
// every other run of characters becomes one '_'.
func SanitizeFilename(s string) string {
	var b strings.Builder
	lastUnderscore := false
	for _, r := range s {
		if b.Len() >= maxFilenameLen {
			break
		}
		switch {
		case (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9'),
			r == '.', r == '_', r == '-':
			b.WriteRune(r)
			lastUnderscore = r == '_'
		default:
			if !lastUnderscore {
				b.WriteRune('_')
				lastUnderscore = true
			}
		}
	}
	out := strings.Trim(b.String(), "._")
	if out == "" {
		return "unnamed"
	}
	return out
}
