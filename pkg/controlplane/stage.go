package controlplane

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path"
	"time"

	"github.com/marmos91/dittomount/internal/logger"
	"github.com/marmos91/dittomount/pkg/fsutil"
)

// StageRequest carries an upload exactly as received. Header values are raw
// strings so that Stage applies its checks in protocol order.
type StageRequest struct {
	Nonce  string // X-Nonce
	Size   string // X-Image-Size
	CRC32  string // X-CRC32
	Name   string // X-Image-Name
	Type   string // X-Image-Type
	Body   []byte
	Append bool
}

// StageResult describes a staged (and, in replace mode, committed) upload.
type StageResult struct {
	Name      string
	Size      uint32
	CRC32     uint32
	Committed bool
}

// Stage validates an upload, writes it to the incoming directory and adds
// it to the pending set. In replace mode (Append false) the batch is reset
// first and committed immediately afterwards.
//
// Validation order (first failure wins):
//  1. X-Nonce equals the session nonce (BAD_NONCE)
//  2. body is non-empty (NO_BODY)
//  3. X-Image-Size is present (NO_SIZE) and equals the body length (BAD_SIZE)
//  4. X-CRC32 is present (NO_CRC) and parses (BAD_CRC)
//
// The body is written to <incoming>/<name>.tmp and only renamed onto
// <incoming>/<name> after its CRC32 matches, so a corrupt upload never
// replaces a good file.
//
// Returns a *Error carrying the protocol code on failure.
func (s *Service) Stage(ctx context.Context, req StageRequest) (res StageResult, err error) {
	start := time.Now()
	defer func() {
		s.metrics.RecordStage(string(CodeOf(err)), len(req.Body), time.Since(start))
	}()

	// ========================================================================
	// Step 1: Header validation
	// ========================================================================

	if err := s.CheckNonce(req.Nonce); err != nil {
		return StageResult{}, err
	}
	nonce := s.state.Nonce()

	if len(req.Body) == 0 {
		return StageResult{}, newError(CodeNoBody, nil)
	}

	if len(req.Size) == 0 {
		return StageResult{}, newError(CodeNoSize, nil)
	}
	size, ok := parseU32(req.Size)
	if !ok || uint64(size) != uint64(len(req.Body)) {
		return StageResult{}, newError(CodeBadSize,
			fmt.Errorf("header %q, body %d bytes", req.Size, len(req.Body)))
	}

	if len(req.CRC32) == 0 {
		return StageResult{}, newError(CodeNoCRC, nil)
	}
	expectedCRC, ok := parseU32(req.CRC32)
	if !ok {
		return StageResult{}, newError(CodeBadCRC, fmt.Errorf("unparseable header %q", req.CRC32))
	}

	name := deriveName(req.Name, req.Type, req.Append)

	if err := ctx.Err(); err != nil {
		return StageResult{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	// ========================================================================
	// Step 2: Batch epoch (before any write)
	// ========================================================================

	s.state.beginBatch(nonce, !req.Append)
	s.metrics.SetPending(len(s.state.pending))

	// ========================================================================
	// Step 3: Write and verify the temporary file
	// ========================================================================

	if err := fsutil.EnsureDirs(s.fs, s.layout.Dirs()...); err != nil {
		return StageResult{}, newError(CodeFSDir, err)
	}

	finalPath := s.layout.IncomingPath(name)
	tmpPath := finalPath + ".tmp"
	if path.Base(finalPath) != name {
		return StageResult{}, newError(CodeFSOpen, fmt.Errorf("name %q is not a leaf name", name))
	}

	crc, err := s.writeStaged(tmpPath, req.Body)
	if err != nil {
		return StageResult{}, err
	}

	if crc != expectedCRC {
		_ = fsutil.RemoveIfExists(s.fs, tmpPath)
		logger.Info("stage: %s rejected, crc %08x != expected %08x", name, crc, expectedCRC)
		return StageResult{}, newError(CodeBadCRC, fmt.Errorf("computed %08x, expected %08x", crc, expectedCRC))
	}

	// ========================================================================
	// Step 4: Publish under the final name
	// ========================================================================

	if err := fsutil.RemoveIfExists(s.fs, finalPath); err != nil {
		logger.Debug("stage: remove previous %s: %v", finalPath, err)
	}
	if err := s.fs.Rename(tmpPath, finalPath); err != nil {
		return StageResult{}, newError(CodeFSRename, err)
	}

	upload := PendingUpload{Name: name, Size: size, CRC32: crc}
	if !s.state.addPending(upload) {
		_ = fsutil.RemoveIfExists(s.fs, finalPath)
		return StageResult{}, newError(CodeQueueFull, fmt.Errorf("%d uploads pending", MaxPending))
	}
	s.metrics.SetPending(len(s.state.pending))

	logger.Info("stage: %s (%d bytes, crc %08x) pending=%d", name, size, crc, len(s.state.pending))

	res = StageResult{Name: name, Size: size, CRC32: crc}

	// ========================================================================
	// Step 5: Replace mode commits right away
	// ========================================================================

	if !req.Append {
		if err := s.commitLocked(ctx, nonce); err != nil {
			return StageResult{}, err
		}
		res.Committed = true
	}

	return res, nil
}

// CheckNonce returns a BAD_NONCE *Error unless raw is the session nonce.
// Transports call it before reading a request body so a stale client is
// answered in-band whatever the body size.
func (s *Service) CheckNonce(raw string) error {
	if n, ok := parseU32(raw); !ok || n != s.state.Nonce() {
		return newError(CodeBadNonce, nil)
	}
	return nil
}

// writeStaged streams body to path in ChunkSize pieces and returns the
// CRC32 of what was written. On failure the partial file is removed.
func (s *Service) writeStaged(path string, body []byte) (uint32, error) {
	f, err := s.fs.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0644)
	if err != nil {
		return 0, newError(CodeFSOpen, err)
	}

	fail := func(err error) (uint32, error) {
		_ = f.Close()
		_ = fsutil.RemoveIfExists(s.fs, path)
		return 0, newError(CodeFSWrite, err)
	}

	var crc uint32
	for off := 0; off < len(body); off += ChunkSize {
		end := off + ChunkSize
		if end > len(body) {
			end = len(body)
		}
		chunk := body[off:end]

		n, err := f.Write(chunk)
		if err == nil && n != len(chunk) {
			err = errors.New("short write")
		}
		if err != nil {
			return fail(err)
		}
		crc = crcUpdate(crc, chunk)
	}

	if err := f.Sync(); err != nil {
		return fail(err)
	}
	if err := f.Close(); err != nil {
		_ = fsutil.RemoveIfExists(s.fs, path)
		return 0, newError(CodeFSWrite, err)
	}
	return crc, nil
}
