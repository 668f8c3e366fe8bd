// Package listfile persists small newline-delimited list files (the active
// disk list and the modified-disk journal) on filesystems whose only atomic
// primitives are single-file rename and unlink.
package listfile

import (
	"errors"
	"fmt"
	"os"
	"syscall"

	"github.com/marmos91/dittomount/internal/logger"
	"github.com/spf13/afero"
)

const (
	// MaxEntries is the maximum number of lines a list file may hold.
	MaxEntries = 32

	// MaxLineLen is the maximum length of a single line, excluding the newline.
	MaxLineLen = 255
)

var (
	// ErrTooManyLines is returned when a write would exceed MaxEntries lines.
	ErrTooManyLines = errors.New("list exceeds maximum entry count")

	// ErrLineTooLong is returned when a line exceeds MaxLineLen characters.
	ErrLineTooLong = errors.New("list line exceeds maximum length")

	// ErrWrite is returned when the list content could not be written.
	ErrWrite = errors.New("list write failed")

	// ErrSync is returned when the written list could not be flushed.
	ErrSync = errors.New("list sync failed")

	// ErrFallback is returned when both the rename and the direct write failed.
	ErrFallback = errors.New("list publish failed")
)

// Writer implements the write-then-publish protocol used for list files.
//
// Publishing a list happens in two phases: the full content is written and
// synced to a temporary path, then renamed over the final path. Readers
// therefore observe either the previous list or the new one.
//
// Some filesystem drivers cannot rename reliably. When the rename fails the
// writer falls back to writing the final path directly and records the
// failure in a marker file, so the content is still correct but the
// operator can see that the swap was not atomic.
//
// Thread safety:
// A Writer holds no mutable state. Callers serialize writes to the same paths.
type Writer struct {
	fs         afero.Fs
	markerPath string
}

// NewWriter creates a Writer operating on fs.
//
// Parameters:
//   - fs: Filesystem holding the list files
//   - markerPath: Path of the diagnostic file written when a rename fails.
//     An empty path disables the marker.
func NewWriter(fs afero.Fs, markerPath string) *Writer {
	return &Writer{fs: fs, markerPath: markerPath}
}

// MarkerPath returns the path of the rename-failed diagnostic marker.
func (w *Writer) MarkerPath() string {
	return w.markerPath
}

// WriteAtomic publishes lines at finalPath using tmpPath as the staging file.
//
// Algorithm:
//  1. Validate the line count and lengths (nothing is touched on failure)
//  2. Write every non-empty line followed by '\n' to tmpPath, then sync
//  3. Rename tmpPath over finalPath; if the filesystem refuses to replace an
//     existing file, delete finalPath and retry the rename
//  4. On success remove any stale rename-failed marker
//  5. If the rename failed, write finalPath directly, record the marker and
//     remove tmpPath. If that also fails, record the marker and leave tmpPath
//     in place for recovery
//
// Returns:
//   - nil when finalPath holds the new content (atomically or via fallback)
//   - ErrTooManyLines / ErrLineTooLong for invalid input
//   - ErrWrite / ErrSync when the temporary file could not be produced
//   - ErrFallback when neither rename nor direct write succeeded
func (w *Writer) WriteAtomic(tmpPath, finalPath string, lines []string) error {
	// ========================================================================
	// Step 1: Validate input against the persisted caps
	// ========================================================================

	if err := validateLines(lines); err != nil {
		return err
	}

	// ========================================================================
	// Step 2: Write and sync the temporary file
	// ========================================================================

	if err := writeLines(w.fs, tmpPath, lines); err != nil {
		return err
	}

	// ========================================================================
	// Step 3: Publish with rename
	// ========================================================================

	renameErr := w.fs.Rename(tmpPath, finalPath)
	if renameErr != nil {
		// FAT-style drivers refuse to rename onto an existing file.
		if err := w.fs.Remove(finalPath); err != nil && !os.IsNotExist(err) {
			logger.Debug("listfile: remove %s before rename: %v", finalPath, err)
		}
		renameErr = w.fs.Rename(tmpPath, finalPath)
	}

	if renameErr == nil {
		w.clearMarker()
		return nil
	}

	// ========================================================================
	// Step 4: Fallback to a direct (non-atomic) write
	// ========================================================================

	logger.Warn("listfile: rename %s -> %s failed: %v (falling back to direct write)",
		tmpPath, finalPath, renameErr)

	if err := writeLines(w.fs, finalPath, lines); err != nil {
		w.writeMarker(renameErr)
		return fmt.Errorf("%w: rename: %v, direct write: %v", ErrFallback, renameErr, err)
	}

	w.writeMarker(renameErr)
	if err := w.fs.Remove(tmpPath); err != nil && !os.IsNotExist(err) {
		logger.Debug("listfile: remove redundant %s: %v", tmpPath, err)
	}
	return nil
}

func validateLines(lines []string) error {
	count := 0
	for i, line := range lines {
		if line == "" {
			continue
		}
		if len(line) > MaxLineLen {
			return fmt.Errorf("%w: line %d has %d characters", ErrLineTooLong, i, len(line))
		}
		count++
	}
	if count > MaxEntries {
		return fmt.Errorf("%w: %d lines", ErrTooManyLines, count)
	}
	return nil
}

// writeLines creates (or truncates) path and writes each non-empty line
// followed by a newline, then syncs and closes the file.
func writeLines(fs afero.Fs, path string, lines []string) error {
	f, err := fs.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0644)
	if err != nil {
		return fmt.Errorf("%w: open %s: %v", ErrWrite, path, err)
	}

	for _, line := range lines {
		if line == "" {
			continue
		}
		if _, err := f.Write([]byte(line + "\n")); err != nil {
			_ = f.Close()
			return fmt.Errorf("%w: %s: %v", ErrWrite, path, err)
		}
	}

	if err := f.Sync(); err != nil {
		_ = f.Close()
		return fmt.Errorf("%w: %s: %v", ErrSync, path, err)
	}

	if err := f.Close(); err != nil {
		return fmt.Errorf("%w: close %s: %v", ErrWrite, path, err)
	}
	return nil
}

// writeMarker records the rename failure for offline diagnosis. Failures to
// write the marker itself are only logged.
func (w *Writer) writeMarker(renameErr error) {
	if w.markerPath == "" {
		return
	}

	code := -1
	var errno syscall.Errno
	if errors.As(renameErr, &errno) {
		code = int(errno)
	}

	if err := writeLines(w.fs, w.markerPath, []string{
		fmt.Sprintf("rename=%d", code),
		fmt.Sprintf("error=%v", renameErr),
	}); err != nil {
		logger.Warn("listfile: failed to write marker %s (rename=%d): %v", w.markerPath, code, err)
	}
}

func (w *Writer) clearMarker() {
	if w.markerPath == "" {
		return
	}
	if err := w.fs.Remove(w.markerPath); err != nil && !os.IsNotExist(err) {
		logger.Debug("listfile: remove marker %s: %v", w.markerPath, err)
	}
}
