package transformio

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/banshee-data/pointmatch/internal/fsutil"
	"github.com/banshee-data/pointmatch/internal/match"
	"github.com/banshee-data/pointmatch/internal/security"
)

// DefaultResultName is the stem of the result file when none is given.
const DefaultResultName = "match"

// Sink writes match lists to JSON files inside an output directory.
type Sink struct {
	fs          fsutil.FileSystem
	dir         string
	format      Format
	allowedDirs []string
}

// NewSink returns a Sink writing into dir. Output paths must resolve inside
// allowedDirs, which defaults to dir itself.
func NewSink(fsys fsutil.FileSystem, dir string, format Format, allowedDirs ...string) *Sink {
	if len(allowedDirs) == 0 {
		allowedDirs = []string{dir}
	}
	return &Sink{fs: fsys, dir: dir, format: format, allowedDirs: allowedDirs}
}

// Path returns the file the sink would write for name.
func (s *Sink) Path(name string) string {
	stem := strings.TrimSuffix(name, ".json")
	if stem == "" {
		stem = DefaultResultName
	}
	return filepath.Join(s.dir, security.SanitizeFilename(stem)+".json")
}

// Write encodes matches and writes them to the file for name, returning the
// path written. An empty match list is written as an empty array.
func (s *Sink) Write(name string, matches match.MatchList) (string, error) {
	if err := s.fs.MkdirAll(s.dir, 0o755); err != nil {
		return "", fmt.Errorf("create output directory: %w", err)
	}

	path := s.Path(name)
	if err := security.ValidateOutputPath(path, s.allowedDirs...); err != nil {
		return "", err
	}

	data, err := Marshal(matches.Transforms(), s.format)
	if err != nil {
		return "", fmt.Errorf("encode matches: %w", err)
	}
	if err := s.fs.WriteFile(path, data, 0o644); err != nil {
		return "", fmt.Errorf("write %s: %w", path, err)
	}
	return path, nil
}
