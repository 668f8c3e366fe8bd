package controlplane

import (
	"strconv"
	"strings"

	"github.com/marmos91/dittomount/pkg/activelist"
	"github.com/marmos91/dittomount/pkg/layout"
)

const (
	// MaxNameLen is the longest on-disk name an upload may produce.
	MaxNameLen = activelist.MaxNameLen

	// DefaultName replaces names that sanitize to nothing.
	DefaultName = "upload"

	// CanonicalName is the on-disk name of replace-mode uploads.
	CanonicalName = "ACTIVE"
)

// SanitizeName reduces a client-supplied file name to a safe leaf name.
//
// Only the final path segment is kept. Control characters and characters
// the SD card filesystem rejects are dropped, anything else outside
// [A-Za-z0-9._- ] becomes '_', and surrounding spaces are trimmed. A result
// that is empty or made only of dots yields DefaultName.
func SanitizeName(raw string) string {
	name := strings.TrimSpace(sanitizeChars(lastSegment(raw)))
	if len(name) > MaxNameLen {
		name = strings.TrimRight(name[:MaxNameLen], " ")
	}
	if strings.Trim(name, ".") == "" {
		return DefaultName
	}
	return name
}

func lastSegment(s string) string {
	if i := strings.LastIndexAny(s, `/\`); i >= 0 {
		return s[i+1:]
	}
	return s
}

func sanitizeChars(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case c < 0x20 || c == 0x7f:
		case strings.IndexByte(`"'<>:|?*;`, c) >= 0:
		case isNameByte(c):
			b.WriteByte(c)
		default:
			b.WriteByte('_')
		}
	}
	return b.String()
}

func isNameByte(c byte) bool {
	switch {
	case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9':
		return true
	case c == '.', c == '_', c == '-', c == ' ':
		return true
	}
	return false
}

// deriveName picks the on-disk name of an upload.
//
// Replace-mode uploads always land on CanonicalName so repeated single-file
// uploads overwrite each other; append-mode uploads keep the sanitized client
// name. A name without a suffix gets one from the type hint, or in replace
// mode from the suffix of the client's original name.
func deriveName(rawName, typeHint string, appendMode bool) string {
	hint := strings.TrimSpace(typeHint)

	var name string
	if appendMode {
		name = SanitizeName(rawName)
	} else {
		name = CanonicalName
		if hint == "" && strings.TrimSpace(rawName) != "" {
			orig := SanitizeName(rawName)
			if i := strings.LastIndexByte(orig, '.'); i >= 0 && i+1 < len(orig) {
				hint = orig[i:]
			}
		}
	}

	return avoidReserved(ensureExtension(name, hint))
}

// reservedNames are the control files kept next to the active images.
var reservedNames = []string{
	layout.ActiveListName,
	layout.ActiveListTmpName,
	layout.ActiveListMarkerName,
	layout.DirtyListName,
	layout.DirtyListTmpName,
	layout.DirtyListMarkerName,
}

// avoidReserved renames uploads that would collide with a control file or
// with the <name>.tmp file another upload is staged through. The SD card
// filesystem is case-insensitive, so comparisons are too.
func avoidReserved(name string) string {
	if strings.HasSuffix(strings.ToLower(name), ".tmp") {
		if len(name) >= MaxNameLen {
			name = name[:MaxNameLen-1]
		}
		return name + "_"
	}
	for _, r := range reservedNames {
		if strings.EqualFold(name, r) {
			return "_" + name
		}
	}
	return name
}

func ensureExtension(name, hint string) string {
	if strings.IndexByte(name, '.') >= 0 || hint == "" {
		return name
	}

	ext := strings.TrimSpace(sanitizeChars(lastSegment(hint)))
	ext = strings.TrimLeft(ext, ".")
	if ext == "" {
		return name
	}

	full := name + "." + ext
	if len(full) > MaxNameLen {
		full = full[:MaxNameLen]
	}
	return full
}

// parseU32 parses a header value as an unsigned 32-bit integer. Decimal and
// 0x-prefixed hexadecimal forms are accepted.
func parseU32(s string) (uint32, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, false
	}
	base := 10
	if len(s) > 2 && s[0] == '0' && (s[1] == 'x' || s[1] == 'X') {
		s, base = s[2:], 16
	}
	v, err := strconv.ParseUint(s, base, 32)
	if err != nil {
		return 0, false
	}
	return uint32(v), true
}
