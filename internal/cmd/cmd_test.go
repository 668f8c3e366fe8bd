package cmd

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&out)
	rootCmd.SetArgs(args)
	t.Cleanup(func() {
		rootCmd.SetArgs(nil)
		cfgFile = ""
		initForce = false
	})
	err := rootCmd.Execute()
	return out.String(), err
}

func writeConfig(t *testing.T, base string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	content := "logging:\n  output: stderr\nstorage:\n  type: os\n  base_path: " + base + "\n"
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestVersion(t *testing.T) {
	out, err := execute(t, "version")
	require.NoError(t, err)
	assert.Equal(t, "dittomount dev (none)\n", out)
}

func TestInit_WritesConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")

	out, err := execute(t, "init", "--config", path, "--force=false")
	require.NoError(t, err)
	assert.Contains(t, out, path)
	assert.FileExists(t, path)

	_, err = execute(t, "init", "--config", path, "--force=false")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "already exists")

	_, err = execute(t, "init", "--config", path, "--force")
	require.NoError(t, err)
}

func TestJournal_RecordAndList(t *testing.T) {
	base := t.TempDir()
	cfgPath := writeConfig(t, base)

	out, err := execute(t, "journal", "record", "--config", cfgPath, "game.d64", "/1541/_temp_dirty_disks/save.d64")
	require.NoError(t, err)
	assert.Contains(t, out, "Journal updated: 2 entries")

	data, err := os.ReadFile(filepath.Join(base, "1541", "_active_mount", "dirty.lst"))
	require.NoError(t, err)
	assert.Equal(t, "game.d64\n/1541/_temp_dirty_disks/save.d64\n", string(data))

	out, err = execute(t, "journal", "record", "--config", cfgPath, "game.d64")
	require.NoError(t, err)
	assert.Equal(t, "Journal unchanged\n", out)

	out, err = execute(t, "journal", "list", "--config", cfgPath)
	require.NoError(t, err)
	assert.Contains(t, out, "game.d64")
	assert.Contains(t, out, "/1541/_active_mount/game.d64")
}

func TestJournal_RecordRequiresPath(t *testing.T) {
	_, err := execute(t, "journal", "record")
	require.Error(t, err)
}
