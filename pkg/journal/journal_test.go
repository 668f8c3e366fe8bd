package journal

import (
	"fmt"
	"hash/crc32"
	"testing"

	fstest "github.com/marmos91/dittomount/pkg/fsutil/testing"
	"github.com/marmos91/dittomount/pkg/layout"
	"github.com/marmos91/dittomount/pkg/listfile"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newJournal(t *testing.T) (*Journal, afero.Fs) {
	t.Helper()
	fs := afero.NewMemMapFs()
	return New(fs, layout.New("")), fs
}

func TestRecordDirty_Dedup(t *testing.T) {
	j, fs := newJournal(t)

	changed, err := j.RecordDirty([]string{"a", "a", "b"})
	require.NoError(t, err)
	assert.True(t, changed)

	lines, err := listfile.LoadLines(fs, j.Path(), 0)
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, lines)
}

func TestRecordDirty_CreatesDirectories(t *testing.T) {
	j, fs := newJournal(t)

	_, err := j.RecordDirty([]string{"/1541/_active_mount/x.d64"})
	require.NoError(t, err)

	info, err := fs.Stat("/1541/_active_mount")
	require.NoError(t, err)
	assert.True(t, info.IsDir())
}

func TestRecordDirty_EmptyInputIsNoop(t *testing.T) {
	j, fs := newJournal(t)

	changed, err := j.RecordDirty(nil)
	require.NoError(t, err)
	assert.False(t, changed)

	exists, _ := afero.Exists(fs, "/1541")
	assert.False(t, exists, "no-op must not create directories")
}

func TestRecordDirty_SkipsWriteWhenUnchanged(t *testing.T) {
	base := afero.NewMemMapFs()
	fs := fstest.NewFaultFs(base)
	j := New(fs, layout.New(""))

	_, err := j.RecordDirty([]string{"a", "b"})
	require.NoError(t, err)
	renames := fs.RenameCalls()

	// Any write now would fail loudly.
	fs.FailOpen("dirty.lst")

	changed, err := j.RecordDirty([]string{"b", "a", " a "})
	require.NoError(t, err)
	assert.False(t, changed)
	assert.Equal(t, renames, fs.RenameCalls())
}

func TestRecordDirty_AppendsAcrossCalls(t *testing.T) {
	j, fs := newJournal(t)

	_, err := j.RecordDirty([]string{"a"})
	require.NoError(t, err)
	_, err = j.RecordDirty([]string{"b", "a", "c"})
	require.NoError(t, err)

	lines, err := listfile.LoadLines(fs, j.Path(), 0)
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b", "c"}, lines)
}

func TestRecordDirty_CapDropsOverflow(t *testing.T) {
	j, fs := newJournal(t)

	paths := make([]string, listfile.MaxEntries+5)
	for i := range paths {
		paths[i] = fmt.Sprintf("disk%02d.d64", i)
	}

	_, err := j.RecordDirty(paths)
	require.NoError(t, err)

	changed, err := j.RecordDirty([]string{"late.d64"})
	require.NoError(t, err)
	assert.False(t, changed, "full journal drops new paths silently")

	lines, err := listfile.LoadLines(fs, j.Path(), 0)
	require.NoError(t, err)
	assert.Len(t, lines, listfile.MaxEntries)
	assert.Equal(t, "disk00.d64", lines[0])
	assert.Equal(t, fmt.Sprintf("disk%02d.d64", listfile.MaxEntries-1), lines[len(lines)-1])
}

func TestRecordDirty_IgnoresUnpersistablePaths(t *testing.T) {
	j, fs := newJournal(t)

	long := make([]byte, listfile.MaxLineLen+1)
	for i := range long {
		long[i] = 'x'
	}

	_, err := j.RecordDirty([]string{"", "   ", "bad\npath", string(long), "ok.d64"})
	require.NoError(t, err)

	lines, err := listfile.LoadLines(fs, j.Path(), 0)
	require.NoError(t, err)
	assert.Equal(t, []string{"ok.d64"}, lines)
}

func TestLoadSummary(t *testing.T) {
	j, fs := newJournal(t)

	sum, err := j.LoadSummary()
	require.NoError(t, err)
	assert.Equal(t, Summary{}, sum, "missing journal")

	content := "a\r\n\n  b  \n"
	require.NoError(t, fs.MkdirAll("/1541/_active_mount", 0755))
	require.NoError(t, afero.WriteFile(fs, j.Path(), []byte(content), 0644))

	sum, err = j.LoadSummary()
	require.NoError(t, err)
	assert.Equal(t, uint32(2), sum.Count)
	assert.Equal(t, crc32.ChecksumIEEE([]byte(content)), sum.Checksum)
}

func TestLoadSummary_ChangesWithContent(t *testing.T) {
	j, _ := newJournal(t)

	_, err := j.RecordDirty([]string{"a"})
	require.NoError(t, err)
	first, err := j.LoadSummary()
	require.NoError(t, err)

	_, err = j.RecordDirty([]string{"b"})
	require.NoError(t, err)
	second, err := j.LoadSummary()
	require.NoError(t, err)

	assert.NotEqual(t, first.Checksum, second.Checksum)
	assert.Equal(t, uint32(1), first.Count)
	assert.Equal(t, uint32(2), second.Count)
}

func TestLoadDetailed_Resolution(t *testing.T) {
	tests := []struct {
		name     string
		line     string
		expected *Entry
	}{
		{
			name:     "bare name under active mount",
			line:     "game.d64",
			expected: &Entry{DisplayName: "game.d64", FullPath: "/1541/_active_mount/game.d64"},
		},
		{
			name:     "absolute under active mount",
			line:     "/1541/_active_mount/a.d64",
			expected: &Entry{DisplayName: "a.d64", FullPath: "/1541/_active_mount/a.d64"},
		},
		{
			name:     "relative with separator",
			line:     "1541/_temp_dirty_disks/t.d64",
			expected: &Entry{DisplayName: "t.d64", FullPath: "/1541/_temp_dirty_disks/t.d64"},
		},
		{
			name:     "backslashes normalized",
			line:     `1541\_temp_dirty_disks\w.d64`,
			expected: &Entry{DisplayName: "w.d64", FullPath: "/1541/_temp_dirty_disks/w.d64"},
		},
		{
			name:     "drive prefix stripped",
			line:     "SD:/1541/_active_mount/s.d64",
			expected: &Entry{DisplayName: "s.d64", FullPath: "/1541/_active_mount/s.d64"},
		},
		{
			name: "parent segment rejected",
			line: "/1541/_active_mount/../secret",
		},
		{
			name: "outside sandbox rejected",
			line: "/etc/passwd",
		},
		{
			name: "sandbox directory itself rejected",
			line: "/1541/_active_mount",
		},
		{
			name: "sibling prefix rejected",
			line: "/1541/_active_mount_evil/x.d64",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			j, fs := newJournal(t)
			require.NoError(t, fs.MkdirAll("/1541/_active_mount", 0755))
			require.NoError(t, afero.WriteFile(fs, j.Path(), []byte(tt.line+"\n"), 0644))

			entries, sum, err := j.LoadDetailed()
			require.NoError(t, err)
			assert.Equal(t, uint32(1), sum.Count)

			if tt.expected == nil {
				assert.Empty(t, entries)
				return
			}
			require.Len(t, entries, 1)
			assert.Equal(t, *tt.expected, entries[0])
		})
	}
}

func TestLoadDetailed_CacheFollowsChecksum(t *testing.T) {
	j, _ := newJournal(t)

	_, err := j.RecordDirty([]string{"a.d64"})
	require.NoError(t, err)

	entries, _, err := j.LoadDetailed()
	require.NoError(t, err)
	require.Len(t, entries, 1)

	// Mutating the returned slice must not poison the cache.
	entries[0].DisplayName = "mutated"

	again, _, err := j.LoadDetailed()
	require.NoError(t, err)
	assert.Equal(t, "a.d64", again[0].DisplayName)

	_, err = j.RecordDirty([]string{"b.d64"})
	require.NoError(t, err)

	updated, sum, err := j.LoadDetailed()
	require.NoError(t, err)
	assert.Equal(t, uint32(2), sum.Count)
	require.Len(t, updated, 2)
	assert.Equal(t, "b.d64", updated[1].DisplayName)
}

func TestLoadDetailed_Missing(t *testing.T) {
	j, _ := newJournal(t)

	entries, sum, err := j.LoadDetailed()
	require.NoError(t, err)
	assert.Empty(t, entries)
	assert.Equal(t, Summary{}, sum)
}
