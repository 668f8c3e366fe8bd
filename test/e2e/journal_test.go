package e2e

import (
	"archive/zip"
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/marmos91/dittomount/pkg/server"
)

// writeSD writes a file into the emulated card
func writeSD(t *testing.T, tc *TestContext, p string, data []byte) {
	t.Helper()

	full := tc.Config.SDPath(p)
	if err := os.MkdirAll(filepath.Dir(full), 0755); err != nil {
		t.Fatalf("Failed to create %s: %v", filepath.Dir(full), err)
	}
	if err := os.WriteFile(full, data, 0644); err != nil {
		t.Fatalf("Failed to write %s: %v", full, err)
	}
}

// TestModifiedDisks records written images and retrieves them over HTTP
func TestModifiedDisks(t *testing.T) {
	runOnAllConfigs(t, func(t *testing.T, tc *TestContext) {
		writeSD(t, tc, "/1541/_active_mount/game.d64", []byte("saved game"))
		writeSD(t, tc, "/1541/_temp_dirty_disks/scratch.d64", []byte("scratch"))

		err := tc.Runtime.Service.RecordDirty([]string{
			"game.d64",
			"/1541/_temp_dirty_disks/scratch.d64",
			"game.d64",
			"/etc/passwd",
		})
		if err != nil {
			t.Fatalf("RecordDirty failed: %v", err)
		}

		hello := tc.Hello(t)
		if hello.ModifiedCount != 3 {
			t.Errorf("Expected 3 journal lines, got %d", hello.ModifiedCount)
		}
		if hello.ModifiedID == 0 {
			t.Error("Expected a non-zero journal fingerprint")
		}

		// Entries outside the card directories are never listed
		list := tc.List(t, "/modified/list")
		if list.Count != 2 {
			t.Fatalf("Expected 2 modified files, got %v", list.Names())
		}

		status, body := tc.Get(t, "/modified/download/2/scratch.d64")
		if status != http.StatusOK || string(body) != "scratch" {
			t.Errorf("Download: status %d body %q", status, body)
		}

		status, body = tc.Get(t, "/modified/archive.zip")
		if status != http.StatusOK {
			t.Fatalf("Archive: status %d", status)
		}
		zr, err := zip.NewReader(bytes.NewReader(body), int64(len(body)))
		if err != nil {
			t.Fatalf("Invalid zip: %v", err)
		}
		contents := map[string]string{}
		for _, f := range zr.File {
			rc, err := f.Open()
			if err != nil {
				t.Fatalf("Open %s: %v", f.Name, err)
			}
			data, _ := io.ReadAll(rc)
			_ = rc.Close()
			contents[f.Name] = string(data)
		}
		if contents["game.d64"] != "saved game" || contents["scratch.d64"] != "scratch" {
			t.Errorf("Unexpected archive contents: %v", contents)
		}
	})
}

// TestHistory checks /history/list across a commit and a restart
func TestHistory(t *testing.T) {
	runOnAllConfigs(t, func(t *testing.T, tc *TestContext) {
		if tc.Config.History == HistoryNone {
			if status, _ := tc.Get(t, "/history/list"); status != http.StatusNotFound {
				t.Errorf("Expected 404 with history disabled, got %d", status)
			}
			return
		}

		nonce := tc.Hello(t).Nonce
		if resp := tc.Upload(t, nonce, "first.d64", []byte("first"), false); !resp.OK {
			t.Fatalf("Upload failed: %s", resp.Error)
		}
		if err := tc.WaitStopped(10 * time.Second); !errors.Is(err, server.ErrTeardown) {
			t.Fatalf("Expected teardown, got %v", err)
		}

		tc.Restart()

		status, body := tc.Get(t, "/history/list")
		if status != http.StatusOK {
			t.Fatalf("History: status %d", status)
		}

		var resp struct {
			Count   int `json:"count"`
			Commits []struct {
				Nonce uint32 `json:"nonce"`
				Files []struct {
					Name  string `json:"name"`
					Size  uint32 `json:"size"`
					CRC32 string `json:"crc32"`
				} `json:"files"`
			} `json:"commits"`
		}
		if err := json.Unmarshal(body, &resp); err != nil {
			t.Fatalf("Invalid JSON: %v", err)
		}
		if resp.Count != 1 || len(resp.Commits) != 1 {
			t.Fatalf("Expected 1 commit, got %s", body)
		}
		c := resp.Commits[0]
		if c.Nonce != nonce {
			t.Errorf("Expected nonce %d, got %d", nonce, c.Nonce)
		}
		if len(c.Files) != 1 || c.Files[0].Name != "ACTIVE.d64" || c.Files[0].Size != 5 {
			t.Errorf("Unexpected files: %+v", c.Files)
		}
	})
}
