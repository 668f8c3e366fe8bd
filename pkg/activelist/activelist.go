// Package activelist reads the persisted list of disk images the emulator
// mounts on its next run.
package activelist

import (
	"errors"
	"strings"

	"github.com/marmos91/dittomount/internal/logger"
	"github.com/marmos91/dittomount/pkg/layout"
	"github.com/marmos91/dittomount/pkg/listfile"
	"github.com/spf13/afero"
)

// MaxNameLen is the longest name an active entry may have.
const MaxNameLen = 63

// Reader parses the active list file.
type Reader struct {
	fs     afero.Fs
	layout layout.Layout
}

// NewReader creates a Reader for the active list under l.
func NewReader(fs afero.Fs, l layout.Layout) *Reader {
	return &Reader{fs: fs, layout: l}
}

// Load returns the ordered active names (at most listfile.MaxEntries).
//
// Lines longer than MaxNameLen are truncated, lines that are not safe leaf
// names are skipped, and a missing list yields an empty result.
func (r *Reader) Load() ([]string, error) {
	lines, err := listfile.LoadLines(r.fs, r.layout.ActiveList(), listfile.MaxEntries)
	if err != nil {
		if errors.Is(err, listfile.ErrNotFound) {
			return nil, nil
		}
		return nil, err
	}

	names := make([]string, 0, len(lines))
	for _, line := range lines {
		if len(line) > MaxNameLen {
			line = strings.TrimSpace(line[:MaxNameLen])
		}
		if !IsSafeLeafName(line) {
			logger.Debug("activelist: skipping unsafe entry %q", line)
			continue
		}
		names = append(names, line)
	}
	return names, nil
}

// Path returns the full path of an active name.
func (r *Reader) Path(name string) string {
	return r.layout.ActivePath(name)
}

// IsSafeLeafName reports whether name is a single path segment that cannot
// escape its directory. Dots inside a name ("my..disk.d64") are fine.
func IsSafeLeafName(name string) bool {
	if name == "" || name == "." || name == ".." {
		return false
	}
	return !strings.ContainsAny(name, "/\\:\x00")
}
