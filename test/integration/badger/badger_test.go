//go:build integration

package badger_test

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/marmos91/dittomount/pkg/controlplane"
	"github.com/marmos91/dittomount/pkg/history"
	"github.com/spf13/afero"
)

// TestHistoryStore_Integration runs the commit history against an on-disk
// BadgerDB.
//
// Prerequisites:
//   - None (BadgerDB is embedded, no external services needed)
//   - Run with: go test -tags=integration ./test/integration/badger/...
//
// These tests verify that the history store:
//   - Persists commits across reopen
//   - Prunes to MaxEntries on disk
//   - Accepts concurrent writers
func TestHistoryStore_Integration(t *testing.T) {
	ctx := context.Background()

	// ========================================================================
	// Setup: Create temporary directory for test database
	// ========================================================================

	tempDir, err := os.MkdirTemp("", "dittomount-badger-history-*")
	if err != nil {
		t.Fatalf("Failed to create temp directory: %v", err)
	}
	defer os.RemoveAll(tempDir)

	dbPath := filepath.Join(tempDir, "history")
	base := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)

	// ========================================================================
	// Test: Commits survive a reopen
	// ========================================================================

	t.Run("PersistAcrossReopen", func(t *testing.T) {
		store, err := history.Open(ctx, history.Config{DBPath: dbPath})
		if err != nil {
			t.Fatalf("Failed to open history: %v", err)
		}

		rec := controlplane.CommitRecord{
			Time:  base,
			Nonce: 0x1541,
			Files: []controlplane.CommittedFile{
				{Name: "game.d64", Path: "/1541/_active_mount/game.d64", Size: 174848, CRC32: 0xCAFEBABE},
			},
		}
		if err := store.OnCommit(ctx, afero.NewMemMapFs(), rec); err != nil {
			t.Fatalf("OnCommit failed: %v", err)
		}
		if err := store.Close(); err != nil {
			t.Fatalf("Close failed: %v", err)
		}

		store, err = history.Open(ctx, history.Config{DBPath: dbPath})
		if err != nil {
			t.Fatalf("Failed to reopen history: %v", err)
		}
		defer store.Close()

		commits, err := store.Recent(ctx, 10)
		if err != nil {
			t.Fatalf("Recent failed: %v", err)
		}
		if len(commits) != 1 {
			t.Fatalf("Expected 1 commit after reopen, got %d", len(commits))
		}

		c := commits[0]
		if c.Nonce != 0x1541 || !c.Time.Equal(base) {
			t.Errorf("Unexpected commit: %+v", c)
		}
		if len(c.Files) != 1 || c.Files[0].CRC32 != "cafebabe" {
			t.Errorf("Unexpected files: %+v", c.Files)
		}
	})

	// ========================================================================
	// Test: Pruning keeps the newest entries on disk
	// ========================================================================

	t.Run("PruneOnDisk", func(t *testing.T) {
		prunePath := filepath.Join(tempDir, "pruned")

		store, err := history.Open(ctx, history.Config{DBPath: prunePath, MaxEntries: 5})
		if err != nil {
			t.Fatalf("Failed to open history: %v", err)
		}

		for i := 0; i < 12; i++ {
			_, err := store.Record(ctx, history.Commit{
				Time:  base.Add(time.Duration(i) * time.Minute),
				Nonce: uint32(i + 1),
			})
			if err != nil {
				t.Fatalf("Record %d failed: %v", i, err)
			}
		}
		_ = store.Close()

		store, err = history.Open(ctx, history.Config{DBPath: prunePath, MaxEntries: 5})
		if err != nil {
			t.Fatalf("Failed to reopen history: %v", err)
		}
		defer store.Close()

		commits, err := store.Recent(ctx, 100)
		if err != nil {
			t.Fatalf("Recent failed: %v", err)
		}
		if len(commits) != 5 {
			t.Fatalf("Expected 5 commits, got %d", len(commits))
		}
		for i, c := range commits {
			if want := uint32(12 - i); c.Nonce != want {
				t.Errorf("Position %d: expected nonce %d, got %d", i, want, c.Nonce)
			}
		}
	})

	// ========================================================================
	// Test: Concurrent writers
	// ========================================================================

	t.Run("ConcurrentRecord", func(t *testing.T) {
		store, err := history.Open(ctx, history.Config{
			DBPath:     filepath.Join(tempDir, "concurrent"),
			MaxEntries: 1000,
		})
		if err != nil {
			t.Fatalf("Failed to open history: %v", err)
		}
		defer store.Close()

		const writers = 8
		const perWriter = 10

		var wg sync.WaitGroup
		errs := make(chan error, writers*perWriter)
		for w := 0; w < writers; w++ {
			wg.Add(1)
			go func(w int) {
				defer wg.Done()
				for i := 0; i < perWriter; i++ {
					_, err := store.Record(ctx, history.Commit{
						Nonce: uint32(w*perWriter + i + 1),
						Files: []history.File{{Name: fmt.Sprintf("w%d-%d.d64", w, i)}},
					})
					if err != nil {
						errs <- err
					}
				}
			}(w)
		}
		wg.Wait()
		close(errs)

		// Concurrent prunes can abort with a transaction conflict; those
		// commits are simply not stored.
		recorded := writers * perWriter
		for err := range errs {
			recorded--
			t.Logf("Record returned: %v", err)
		}

		commits, err := store.Recent(ctx, 1000)
		if err != nil {
			t.Fatalf("Recent failed: %v", err)
		}
		if len(commits) != recorded {
			t.Errorf("Expected %d commits, got %d", recorded, len(commits))
		}
	})
}
