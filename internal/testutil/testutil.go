// Package testutil provides shared fixtures for tests that feed transform
// files to the CLI and the HTTP API.
package testutil

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

// TranslationsJSON renders pure-translation records as a transform array.
func TranslationsJSON(points ...[3]float64) string {
	recs := make([]string, len(points))
	for i, p := range points {
		recs[i] = fmt.Sprintf(`{"translation":[%g,%g,%g]}`, p[0], p[1], p[2])
	}
	return "[" + strings.Join(recs, ",") + "]"
}

// ScaledRecord is a row-major matrix that fails rigid validation.
const ScaledRecord = `[2,0,0,0, 0,2,0,0, 0,0,2,0, 0,0,0,1]`

// WriteFile writes content to dir/name and returns the path.
func WriteFile(t testing.TB, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
	return path
}
