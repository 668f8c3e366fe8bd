// Package fsutil holds small filesystem helpers shared by the list, journal
// and control-plane packages.
package fsutil

import (
	"fmt"
	"os"

	"github.com/spf13/afero"
)

// EnsureDir creates path (and any missing parents) if it does not exist.
// An existing directory is accepted; an existing non-directory is an error.
func EnsureDir(fs afero.Fs, path string) error {
	info, err := fs.Stat(path)
	if err == nil {
		if !info.IsDir() {
			return fmt.Errorf("%s exists and is not a directory", path)
		}
		return nil
	}
	if !os.IsNotExist(err) {
		return fmt.Errorf("failed to stat %s: %w", path, err)
	}

	if err := fs.MkdirAll(path, 0755); err != nil && !os.IsExist(err) {
		return fmt.Errorf("failed to create %s: %w", path, err)
	}
	return nil
}

// EnsureDirs calls EnsureDir for each path in order, stopping at the first failure.
func EnsureDirs(fs afero.Fs, paths ...string) error {
	for _, p := range paths {
		if err := EnsureDir(fs, p); err != nil {
			return err
		}
	}
	return nil
}

// RemoveIfExists unlinks path, treating a missing file as success.
func RemoveIfExists(fs afero.Fs, path string) error {
	if err := fs.Remove(path); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

// Exists reports whether path exists as a regular file.
func Exists(fs afero.Fs, path string) bool {
	info, err := fs.Stat(path)
	return err == nil && info.Mode().IsRegular()
}
