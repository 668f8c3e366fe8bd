package controlplane

import (
	"context"
	"errors"
	"fmt"
	"path"
	"time"

	"github.com/marmos91/dittomount/internal/logger"
	"github.com/marmos91/dittomount/pkg/fsutil"
	"github.com/spf13/afero"
)

// Commit promotes the pending set into the active-mount directory.
//
// The nonce is the raw X-Nonce header value; a mismatch returns BAD_NONCE
// and leaves the pending set untouched.
func (s *Service) Commit(ctx context.Context, nonce string) error {
	n, ok := parseU32(nonce)
	if !ok || n != s.state.Nonce() {
		return newError(CodeBadNonce, nil)
	}

	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	return s.commitLocked(ctx, n)
}

// commitLocked performs the commit. The caller holds s.mu.
//
// Algorithm:
//  1. Delete every regular file in the active-mount directory
//  2. For each pending name, in stage order, delete any same-named active
//     file and rename the incoming file over it
//  3. Persist the active list through the atomic list writer
//  4. Clear the pending set
//
// Any failure aborts with FS_COMMIT and keeps the pending set. Files renamed
// before the failure stay in place; there is no rollback.
func (s *Service) commitLocked(ctx context.Context, nonce uint32) (err error) {
	start := time.Now()
	files := len(s.state.pending)
	defer func() {
		s.metrics.RecordCommit(string(CodeOf(err)), files, time.Since(start))
	}()

	if files == 0 {
		return newError(CodeNoFiles, nil)
	}
	for _, p := range s.state.pending {
		if path.Base(s.layout.ActivePath(p.Name)) != p.Name {
			return newError(CodeFSCommit, fmt.Errorf("pending name %q is not a leaf name", p.Name))
		}
	}

	// ========================================================================
	// Step 1: Clear the active-mount directory
	// ========================================================================

	if err := fsutil.EnsureDirs(s.fs, s.layout.Dirs()...); err != nil {
		return newError(CodeFSCommit, err)
	}
	if err := s.clearActive(); err != nil {
		return newError(CodeFSCommit, err)
	}

	// ========================================================================
	// Step 2: Move each staged file into place
	// ========================================================================

	names := make([]string, 0, files)
	committed := make([]CommittedFile, 0, files)
	for _, p := range s.state.pending {
		src := s.layout.IncomingPath(p.Name)
		dst := s.layout.ActivePath(p.Name)

		if err := fsutil.RemoveIfExists(s.fs, dst); err != nil {
			logger.Debug("commit: remove %s: %v", dst, err)
		}
		if err := s.fs.Rename(src, dst); err != nil {
			logger.Error("commit: aborted at %s after %d of %d files: %v", p.Name, len(names), files, err)
			return newError(CodeFSCommit, err)
		}

		names = append(names, p.Name)
		committed = append(committed, CommittedFile{Name: p.Name, Path: dst, Size: p.Size, CRC32: p.CRC32})
	}

	// ========================================================================
	// Step 3: Persist the active list
	// ========================================================================

	if err := s.lists.WriteAtomic(s.layout.ActiveListTmp(), s.layout.ActiveList(), names); err != nil {
		return newError(CodeFSCommit, err)
	}

	// ========================================================================
	// Step 4: Clear the pending set
	// ========================================================================

	s.state.clearPending()
	s.metrics.SetPending(0)

	logger.Info("commit: %d files active", len(names))

	s.runHooks(ctx, CommitRecord{Time: s.now(), Nonce: nonce, Files: committed})
	return nil
}

// clearActive deletes every regular file in the active-mount directory.
// Subdirectories are left alone.
func (s *Service) clearActive() error {
	infos, err := afero.ReadDir(s.fs, s.layout.ActiveMount())
	if err != nil {
		return fmt.Errorf("read %s: %w", s.layout.ActiveMount(), err)
	}

	var errs []error
	for _, info := range infos {
		if info.IsDir() {
			continue
		}
		if err := fsutil.RemoveIfExists(s.fs, s.layout.ActivePath(info.Name())); err != nil {
			errs = append(errs, err)
		}
	}
	if len(errs) > 0 {
		logger.Warn("commit: %d active files could not be removed: %v", len(errs), errors.Join(errs...))
	}
	return nil
}

func (s *Service) runHooks(ctx context.Context, rec CommitRecord) {
	for _, h := range s.hooks {
		if err := h.OnCommit(ctx, s.fs, rec); err != nil {
			logger.Warn("commit hook %s failed: %v", h.Name(), err)
		}
	}
}
