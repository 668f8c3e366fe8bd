package fsutil

import (
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEnsureDir(t *testing.T) {
	fs := afero.NewMemMapFs()

	require.NoError(t, EnsureDir(fs, "/a/b/c"))
	info, err := fs.Stat("/a/b/c")
	require.NoError(t, err)
	assert.True(t, info.IsDir())

	// Existing directory is accepted
	require.NoError(t, EnsureDir(fs, "/a/b/c"))

	require.NoError(t, afero.WriteFile(fs, "/a/file", []byte("x"), 0644))
	assert.Error(t, EnsureDir(fs, "/a/file"))
}

func TestEnsureDirs(t *testing.T) {
	fs := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(fs, "/blocked", []byte("x"), 0644))

	err := EnsureDirs(fs, "/one", "/blocked", "/two")
	require.Error(t, err)

	exists, _ := afero.DirExists(fs, "/one")
	assert.True(t, exists)
	exists, _ = afero.DirExists(fs, "/two")
	assert.False(t, exists, "EnsureDirs must stop at the first failure")
}

func TestRemoveIfExists(t *testing.T) {
	fs := afero.NewMemMapFs()

	assert.NoError(t, RemoveIfExists(fs, "/missing"))

	require.NoError(t, afero.WriteFile(fs, "/present", []byte("x"), 0644))
	require.NoError(t, RemoveIfExists(fs, "/present"))
	assert.False(t, Exists(fs, "/present"))
}

func TestExists(t *testing.T) {
	fs := afero.NewMemMapFs()
	require.NoError(t, fs.MkdirAll("/dir", 0755))
	require.NoError(t, afero.WriteFile(fs, "/dir/file", []byte("x"), 0644))

	assert.True(t, Exists(fs, "/dir/file"))
	assert.False(t, Exists(fs, "/dir"), "directories are not regular files")
	assert.False(t, Exists(fs, "/nope"))
}
