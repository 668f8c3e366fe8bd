package listfile

import (
	"errors"
	"strings"
	"testing"

	fstest "github.com/marmos91/dittomount/pkg/fsutil/testing"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	testDir    = "/1541/_active_mount"
	testFinal  = testDir + "/dirty.lst"
	testTmp    = testDir + "/dirty.lst.tmp"
	testMarker = testDir + "/dirty.tmp.failed"
)

func newTestFs(t *testing.T) afero.Fs {
	t.Helper()
	fs := afero.NewMemMapFs()
	require.NoError(t, fs.MkdirAll(testDir, 0755))
	return fs
}

func readFile(t *testing.T, fs afero.Fs, path string) string {
	t.Helper()
	data, err := afero.ReadFile(fs, path)
	require.NoError(t, err)
	return string(data)
}

func TestWriteAtomic_Basic(t *testing.T) {
	fs := newTestFs(t)
	w := NewWriter(fs, testMarker)

	require.NoError(t, w.WriteAtomic(testTmp, testFinal, []string{"a", "", "b"}))

	assert.Equal(t, "a\nb\n", readFile(t, fs, testFinal))

	exists, _ := afero.Exists(fs, testTmp)
	assert.False(t, exists, "temp file should have been renamed away")
}

func TestWriteAtomic_ReplacesExisting(t *testing.T) {
	fs := newTestFs(t)
	w := NewWriter(fs, testMarker)

	require.NoError(t, afero.WriteFile(fs, testFinal, []byte("old\n"), 0644))
	require.NoError(t, w.WriteAtomic(testTmp, testFinal, []string{"new"}))

	assert.Equal(t, "new\n", readFile(t, fs, testFinal))
}

func TestWriteAtomic_ClearsStaleMarker(t *testing.T) {
	fs := newTestFs(t)
	w := NewWriter(fs, testMarker)

	require.NoError(t, afero.WriteFile(fs, testMarker, []byte("rename=5\n"), 0644))
	require.NoError(t, w.WriteAtomic(testTmp, testFinal, []string{"x"}))

	exists, _ := afero.Exists(fs, testMarker)
	assert.False(t, exists)
}

func TestWriteAtomic_RenameFallback(t *testing.T) {
	fs := fstest.NewFaultFs(newTestFs(t)).FailRename(".tmp")
	w := NewWriter(fs, testMarker)

	require.NoError(t, w.WriteAtomic(testTmp, testFinal, []string{"a", "b"}))

	assert.Equal(t, "a\nb\n", readFile(t, fs, testFinal), "fallback must write correct content")

	marker := readFile(t, fs, testMarker)
	assert.True(t, strings.HasPrefix(marker, "rename=-1\n"), "marker: %q", marker)
	assert.Contains(t, marker, "injected fault")

	exists, _ := afero.Exists(fs, testTmp)
	assert.False(t, exists, "redundant temp file should be removed after fallback")
}

func TestWriteAtomic_FallbackFailureKeepsTemp(t *testing.T) {
	// The two temp-file lines consume the write budget, so the direct write to
	// the final path fails. The marker path does not match and still succeeds.
	base := newTestFs(t)
	fs := fstest.NewFaultFs(base).FailRename(".tmp").FailWriteAfter("dirty.lst", 2)

	w := NewWriter(fs, testMarker)
	err := w.WriteAtomic(testTmp, testFinal, []string{"a", "b"})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrFallback))

	assert.Equal(t, "a\nb\n", readFile(t, base, testTmp), "temp file must remain for recovery")

	exists, _ := afero.Exists(base, testMarker)
	assert.True(t, exists, "marker must be written even when fallback fails")
}

func TestWriteAtomic_TempWriteFailureLeavesFinalUntouched(t *testing.T) {
	base := newTestFs(t)
	require.NoError(t, afero.WriteFile(base, testFinal, []byte("prior\n"), 0644))

	fs := fstest.NewFaultFs(base).FailWrite(".tmp")
	w := NewWriter(fs, testMarker)

	err := w.WriteAtomic(testTmp, testFinal, []string{"new"})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrWrite))

	assert.Equal(t, "prior\n", readFile(t, base, testFinal))
	assert.Equal(t, 0, fs.RenameCalls(), "rename must not be attempted after a failed write")
}

func TestWriteAtomic_InterruptedBeforeRename(t *testing.T) {
	// A crash between the temp write and the rename is modelled by producing
	// the temp file without publishing it: the final path keeps its prior content.
	fs := newTestFs(t)
	require.NoError(t, afero.WriteFile(fs, testFinal, []byte("prior\n"), 0644))

	require.NoError(t, writeLines(fs, testTmp, []string{"partial", "new"}))

	assert.Equal(t, "prior\n", readFile(t, fs, testFinal))

	lines, err := LoadLines(fs, testFinal, MaxEntries)
	require.NoError(t, err)
	assert.Equal(t, []string{"prior"}, lines)
}

func TestWriteAtomic_Caps(t *testing.T) {
	fs := newTestFs(t)
	w := NewWriter(fs, testMarker)

	tooMany := make([]string, MaxEntries+1)
	for i := range tooMany {
		tooMany[i] = "x"
	}
	err := w.WriteAtomic(testTmp, testFinal, tooMany)
	assert.True(t, errors.Is(err, ErrTooManyLines))

	err = w.WriteAtomic(testTmp, testFinal, []string{strings.Repeat("y", MaxLineLen+1)})
	assert.True(t, errors.Is(err, ErrLineTooLong))

	exists, _ := afero.Exists(fs, testTmp)
	assert.False(t, exists, "validation failures must not touch the filesystem")

	require.NoError(t, w.WriteAtomic(testTmp, testFinal, tooMany[:MaxEntries]))
}
