// Package layout names the directories and list files the control plane
// keeps under the storage root.
package layout

import (
	"path"
	"strings"
)

const (
	// DefaultRoot is the storage root used by the emulator image.
	DefaultRoot = "/1541"

	IncomingDirName    = "_incoming"
	ActiveMountDirName = "_active_mount"
	TempDirtyDirName   = "_temp_dirty_disks"

	ActiveListName       = "ACTIVE.LST"
	ActiveListTmpName    = "ACTIVE.LST.tmp"
	ActiveListMarkerName = "ACTIVE.tmp.failed"

	DirtyListName       = "dirty.lst"
	DirtyListTmpName    = "dirty.lst.tmp"
	DirtyListMarkerName = "dirty.tmp.failed"
)

// Layout resolves every path the control plane touches from a single root.
// Paths use forward slashes and are absolute within the service filesystem.
type Layout struct {
	Root string
}

// New returns a Layout rooted at root. An empty root selects DefaultRoot.
func New(root string) Layout {
	root = strings.TrimSpace(root)
	if root == "" {
		root = DefaultRoot
	}
	root = path.Clean("/" + strings.TrimLeft(root, "/"))
	return Layout{Root: root}
}

func (l Layout) Incoming() string    { return path.Join(l.Root, IncomingDirName) }
func (l Layout) ActiveMount() string { return path.Join(l.Root, ActiveMountDirName) }
func (l Layout) TempDirty() string   { return path.Join(l.Root, TempDirtyDirName) }

func (l Layout) ActiveList() string       { return path.Join(l.ActiveMount(), ActiveListName) }
func (l Layout) ActiveListTmp() string    { return path.Join(l.ActiveMount(), ActiveListTmpName) }
func (l Layout) ActiveListMarker() string { return path.Join(l.ActiveMount(), ActiveListMarkerName) }

func (l Layout) DirtyList() string       { return path.Join(l.ActiveMount(), DirtyListName) }
func (l Layout) DirtyListTmp() string    { return path.Join(l.ActiveMount(), DirtyListTmpName) }
func (l Layout) DirtyListMarker() string { return path.Join(l.ActiveMount(), DirtyListMarkerName) }

// Dirs returns every directory the control plane requires, parents first.
func (l Layout) Dirs() []string {
	return []string{l.Root, l.Incoming(), l.ActiveMount(), l.TempDirty()}
}

// IncomingPath returns the staging path for a leaf name.
func (l Layout) IncomingPath(name string) string { return path.Join(l.Incoming(), name) }

// ActivePath returns the active-mount path for a leaf name.
func (l Layout) ActivePath(name string) string { return path.Join(l.ActiveMount(), name) }
