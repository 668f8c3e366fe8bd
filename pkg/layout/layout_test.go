package layout

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNew(t *testing.T) {
	tests := []struct {
		name string
		root string
		want string
	}{
		{"empty selects default", "", DefaultRoot},
		{"blank selects default", "   ", DefaultRoot},
		{"relative is anchored", "1541", "/1541"},
		{"trailing slash", "/sd/1541/", "/sd/1541"},
		{"doubled slashes", "//sd//1541", "/sd/1541"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, New(tt.root).Root)
		})
	}
}

func TestPaths(t *testing.T) {
	l := New("/1541")

	assert.Equal(t, "/1541/_incoming", l.Incoming())
	assert.Equal(t, "/1541/_active_mount", l.ActiveMount())
	assert.Equal(t, "/1541/_temp_dirty_disks", l.TempDirty())
	assert.Equal(t, "/1541/_active_mount/ACTIVE.LST", l.ActiveList())
	assert.Equal(t, "/1541/_active_mount/ACTIVE.LST.tmp", l.ActiveListTmp())
	assert.Equal(t, "/1541/_active_mount/ACTIVE.tmp.failed", l.ActiveListMarker())
	assert.Equal(t, "/1541/_active_mount/dirty.lst", l.DirtyList())
	assert.Equal(t, "/1541/_active_mount/dirty.lst.tmp", l.DirtyListTmp())
	assert.Equal(t, "/1541/_active_mount/dirty.tmp.failed", l.DirtyListMarker())
	assert.Equal(t, "/1541/_incoming/game.d64", l.IncomingPath("game.d64"))
	assert.Equal(t, "/1541/_active_mount/game.d64", l.ActivePath("game.d64"))

	assert.Equal(t, []string{"/1541", "/1541/_incoming", "/1541/_active_mount", "/1541/_temp_dirty_disks"}, l.Dirs())
}
