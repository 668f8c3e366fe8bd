// Package journal maintains the modified-disk journal: a deduplicated,
// bounded list of disk image paths the emulator changed while they were
// mounted, kept so a client can download them later.
package journal

import (
	"errors"
	"fmt"
	"hash/crc32"
	"io"
	"os"
	"path"
	"strings"
	"sync"

	"github.com/marmos91/dittomount/internal/logger"
	"github.com/marmos91/dittomount/pkg/fsutil"
	"github.com/marmos91/dittomount/pkg/layout"
	"github.com/marmos91/dittomount/pkg/listfile"
	"github.com/spf13/afero"
)

// Summary is a cheap fingerprint of the journal file.
type Summary struct {
	// Count is the number of non-empty lines (capped at listfile.MaxEntries).
	Count uint32

	// Checksum is the CRC32 (IEEE) of the raw file bytes; 0 when the file is missing.
	Checksum uint32
}

// Entry is a journal line that passed the sandbox checks.
type Entry struct {
	// DisplayName is the final path segment, for user interfaces.
	DisplayName string

	// FullPath is the resolved absolute path used for downloads.
	FullPath string
}

// Journal records dirty disk paths and serves them back for listing.
//
// Writes go through listfile.Writer so a crash never leaves a truncated
// journal. Detailed listings are cached by content checksum, so repeated
// polling of an unchanged journal costs a single streaming pass.
//
// Thread safety:
// All methods are safe for concurrent use.
type Journal struct {
	fs     afero.Fs
	layout layout.Layout
	writer *listfile.Writer

	// mu serializes RecordDirty and guards the detailed cache
	mu         sync.Mutex
	cacheValid bool
	cacheSum   uint32
	cache      []Entry
}

// New creates a Journal for the given layout.
func New(fs afero.Fs, l layout.Layout) *Journal {
	return &Journal{
		fs:     fs,
		layout: l,
		writer: listfile.NewWriter(fs, l.DirtyListMarker()),
	}
}

// Path returns the journal file path.
func (j *Journal) Path() string {
	return j.layout.DirtyList()
}

// RecordDirty appends paths that are not yet present in the journal.
//
// Paths are trimmed; empty paths, paths containing line breaks and paths
// longer than listfile.MaxLineLen are ignored because they cannot be
// persisted faithfully. Once the journal holds listfile.MaxEntries entries,
// further paths are silently dropped. When nothing new is added the journal
// file is not rewritten.
//
// Returns:
//   - bool: true if the journal file was rewritten
//   - error: directory, read or persistence failure
func (j *Journal) RecordDirty(paths []string) (bool, error) {
	if len(paths) == 0 {
		return false, nil
	}

	j.mu.Lock()
	defer j.mu.Unlock()

	// ========================================================================
	// Step 1: Make sure the journal directory exists
	// ========================================================================

	if err := fsutil.EnsureDirs(j.fs, j.layout.Root, j.layout.ActiveMount()); err != nil {
		return false, fmt.Errorf("journal directory: %w", err)
	}

	// ========================================================================
	// Step 2: Load existing entries (bounded)
	// ========================================================================

	existing, err := listfile.LoadLines(j.fs, j.layout.DirtyList(), listfile.MaxEntries)
	if err != nil && !errors.Is(err, listfile.ErrNotFound) {
		return false, fmt.Errorf("load journal: %w", err)
	}

	seen := make(map[string]struct{}, len(existing))
	for _, e := range existing {
		seen[e] = struct{}{}
	}

	// ========================================================================
	// Step 3: Merge new paths in first-seen order
	// ========================================================================

	changed := false
	for _, p := range paths {
		p = listfile.TrimLine(p)
		if p == "" || strings.ContainsAny(p, "\r\n") || len(p) > listfile.MaxLineLen {
			continue
		}
		if _, ok := seen[p]; ok {
			continue
		}
		if len(existing) >= listfile.MaxEntries {
			logger.Warn("journal: full (%d entries), dropping %s", listfile.MaxEntries, p)
			continue
		}
		existing = append(existing, p)
		seen[p] = struct{}{}
		changed = true
	}

	if !changed {
		return false, nil
	}

	// ========================================================================
	// Step 4: Persist the merged set
	// ========================================================================

	if err := j.writer.WriteAtomic(j.layout.DirtyListTmp(), j.layout.DirtyList(), existing); err != nil {
		return false, fmt.Errorf("persist journal: %w", err)
	}

	logger.Debug("journal: recorded %d entries", len(existing))
	return true, nil
}

// LoadSummary streams the journal once, computing its checksum and line count
// without building the entry list.
func (j *Journal) LoadSummary() (Summary, error) {
	f, err := j.fs.Open(j.layout.DirtyList())
	if err != nil {
		if os.IsNotExist(err) {
			return Summary{}, nil
		}
		return Summary{}, fmt.Errorf("open journal: %w", err)
	}
	defer f.Close()

	h := crc32.NewIEEE()
	var count uint32
	err = listfile.ScanLines(io.TeeReader(f, h), func(string) bool {
		if count < listfile.MaxEntries {
			count++
		}
		return true
	})
	if err != nil {
		return Summary{}, fmt.Errorf("read journal: %w", err)
	}

	return Summary{Count: count, Checksum: h.Sum32()}, nil
}

// LoadDetailed returns the sandboxed journal entries together with the
// summary they were derived from. The parsed list is cached and only rebuilt
// when the journal checksum changes.
func (j *Journal) LoadDetailed() ([]Entry, Summary, error) {
	sum, err := j.LoadSummary()
	if err != nil {
		return nil, Summary{}, err
	}

	j.mu.Lock()
	defer j.mu.Unlock()

	if j.cacheValid && j.cacheSum == sum.Checksum {
		return cloneEntries(j.cache), sum, nil
	}

	lines, err := listfile.LoadLines(j.fs, j.layout.DirtyList(), listfile.MaxEntries)
	if err != nil && !errors.Is(err, listfile.ErrNotFound) {
		return nil, Summary{}, fmt.Errorf("load journal: %w", err)
	}

	entries := make([]Entry, 0, len(lines))
	for _, line := range lines {
		entry, ok := j.resolve(line)
		if !ok {
			logger.Debug("journal: skipping unsafe entry %q", line)
			continue
		}
		entries = append(entries, entry)
	}

	j.cache = entries
	j.cacheSum = sum.Checksum
	j.cacheValid = true

	return cloneEntries(entries), sum, nil
}

// resolve maps a raw journal line to an absolute path inside the sandbox.
//
// Lines may carry a drive prefix ("SD:/1541/..."), use backslashes, be
// absolute, be relative with directories (taken as relative to the
// filesystem root) or be a bare file name (taken as relative to the
// active-mount directory).
func (j *Journal) resolve(raw string) (Entry, bool) {
	p := strings.ReplaceAll(raw, "\\", "/")

	if i := strings.IndexByte(p, ':'); i >= 0 {
		if slash := strings.IndexByte(p, '/'); slash < 0 || i < slash {
			p = p[i+1:]
		}
	}

	switch {
	case strings.HasPrefix(p, "/"):
	case strings.Contains(p, "/"):
		p = "/" + p
	default:
		p = j.layout.ActiveMount() + "/" + p
	}

	for _, seg := range strings.Split(p, "/") {
		if seg == ".." {
			return Entry{}, false
		}
	}

	p = path.Clean(p)
	if !within(p, j.layout.ActiveMount()) && !within(p, j.layout.TempDirty()) {
		return Entry{}, false
	}

	return Entry{DisplayName: path.Base(p), FullPath: p}, true
}

// within reports whether p names something strictly below dir.
func within(p, dir string) bool {
	return strings.HasPrefix(p, dir+"/") && len(p) > len(dir)+1
}

func cloneEntries(in []Entry) []Entry {
	out := make([]Entry, len(in))
	copy(out, in)
	return out
}
