package controlplane

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSanitizeName(t *testing.T) {
	tests := []struct {
		name     string
		raw      string
		expected string
	}{
		{"plain", "game.d64", "game.d64"},
		{"keeps last segment", "/some/dir/game.d64", "game.d64"},
		{"windows separators", `C:\disks\game.d64`, "game.d64"},
		{"drops illegal characters", `a"b'c<d>e:f|g?h*i;j.d64`, "abcdefghij.d64"},
		{"drops control characters", "ga\x00m\x1fe\x7f.d64", "game.d64"},
		{"replaces other characters", "my+game(1).d64", "my_game_1_.d64"},
		{"replaces non-ascii bytes", "é.d64", "__.d64"},
		{"trims spaces", "   spaced name.d64  ", "spaced name.d64"},
		{"empty becomes placeholder", "", DefaultName},
		{"only illegal becomes placeholder", `"*?`, DefaultName},
		{"trailing separator becomes placeholder", "dir/", DefaultName},
		{"truncated", strings.Repeat("a", 80), strings.Repeat("a", MaxNameLen)},
		{"current directory becomes placeholder", ".", DefaultName},
		{"parent directory becomes placeholder", "..", DefaultName},
		{"all dots become placeholder", " ... ", DefaultName},
		{"parent segment after separator", "dir/..", DefaultName},
		{"inner dots are kept", "my..disk.d64", "my..disk.d64"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, SanitizeName(tt.raw))
		})
	}
}

func TestDeriveName(t *testing.T) {
	tests := []struct {
		name     string
		raw      string
		hint     string
		append   bool
		expected string
	}{
		{"append keeps sanitized name", "game.d64", "", true, "game.d64"},
		{"append without name", "", "", true, "upload"},
		{"append adds hint", "game", "d64", true, "game.d64"},
		{"append hint with dot", "game", ".g64", true, "game.g64"},
		{"append ignores hint when suffix present", "game.d81", "d64", true, "game.d81"},
		{"append without suffix or hint", "game", "", true, "game"},
		{"replace uses canonical name", "game.d64", "", false, "ACTIVE.d64"},
		{"replace prefers hint", "game.d64", "g64", false, "ACTIVE.g64"},
		{"replace without suffix anywhere", "game", "", false, "ACTIVE"},
		{"replace without name", "", "", false, "ACTIVE"},
		{"replace ignores trailing dot", "game.", "", false, "ACTIVE"},
		{"hint is sanitized", "game", "../d*64", true, "game.d64"},
		{"append dot gets placeholder", ".", "", true, "upload"},
		{"append parent gets placeholder and hint", "..", "d64", true, "upload.d64"},
		{"active list name is renamed", "ACTIVE.LST", "", true, "_ACTIVE.LST"},
		{"journal name is renamed", "dirty.lst", "", true, "_dirty.lst"},
		{"reserved names ignore case", "Dirty.LST", "", true, "_Dirty.LST"},
		{"marker name is renamed", "ACTIVE.tmp.failed", "", true, "_ACTIVE.tmp.failed"},
		{"list temp name is renamed", "ACTIVE.LST.tmp", "", true, "ACTIVE.LST.tmp_"},
		{"temp suffix is renamed", "game.tmp", "", true, "game.tmp_"},
		{"temp suffix ignores case", "game.TMP", "", true, "game.TMP_"},
		{"replace hint cannot reach active list", "game", "LST", false, "_ACTIVE.LST"},
		{"replace hint cannot produce temp name", "game", "tmp", false, "ACTIVE.tmp_"},
		{"long temp name stays within limit", strings.Repeat("a", MaxNameLen-4) + ".tmp", "", true, strings.Repeat("a", MaxNameLen-4) + ".tm_"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, deriveName(tt.raw, tt.hint, tt.append))
		})
	}
}

func TestParseU32(t *testing.T) {
	tests := []struct {
		in       string
		expected uint32
		ok       bool
	}{
		{"0", 0, true},
		{"4096", 4096, true},
		{" 42 ", 42, true},
		{"0xdeadbeef", 0xdeadbeef, true},
		{"0XDEADBEEF", 0xdeadbeef, true},
		{"0123", 123, true},
		{"4294967295", 0xffffffff, true},
		{"4294967296", 0, false},
		{"", 0, false},
		{"-1", 0, false},
		{"0x", 0, false},
		{"abc", 0, false},
		{"1_000", 0, false},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			v, ok := parseU32(tt.in)
			assert.Equal(t, tt.ok, ok)
			if tt.ok {
				assert.Equal(t, tt.expected, v)
			}
		})
	}
}

func TestChecksum(t *testing.T) {
	assert.Equal(t, uint32(0xCBF43926), Checksum([]byte("123456789")))

	data := []byte(strings.Repeat("chunked", 2000))
	var crc uint32
	for off := 0; off < len(data); off += 1000 {
		end := off + 1000
		if end > len(data) {
			end = len(data)
		}
		crc = crcUpdate(crc, data[off:end])
	}
	assert.Equal(t, Checksum(data), crc)
}
