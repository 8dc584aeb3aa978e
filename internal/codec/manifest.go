package codec

import (
	"fmt"
	"path/filepath"
	"strings"

	fileutil "reelsmith/internal/file"
)

// ManifestContent renders segment paths in concat-demuxer syntax. Single
// quotes are closed, escaped and reopened.
func ManifestContent(segments []string) string {
	var b strings.Builder
	for _, p := range segments {
		b.WriteString("file '")
		b.WriteString(strings.ReplaceAll(p, "'", `'\''`))
		b.WriteString("'\n")
	}
	return b.String()
}

// WriteManifest writes the concat manifest. Every path must be absolute since
// the demuxer resolves relative entries against the manifest directory.
func WriteManifest(path string, segments []string) error {
	if len(segments) == 0 {
		return fmt.Errorf("write manifest: no segments")
	}
	for _, p := range segments {
		if !filepath.IsAbs(p) {
			return fmt.Errorf("write manifest: segment path %q is not absolute", p)
		}
	}
	if err := fileutil.WriteFileAtomic(path, []byte(ManifestContent(segments))); err != nil {
		return fmt.Errorf("write manifest: %w", err)
	}
	return nil
}
