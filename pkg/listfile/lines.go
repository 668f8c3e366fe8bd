package listfile

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/afero"
)

// ErrNotFound is returned by LoadLines when the list file does not exist.
// It wraps os.ErrNotExist.
var ErrNotFound = fmt.Errorf("list file not found: %w", os.ErrNotExist)

// TrimLine strips surrounding spaces, tabs, carriage returns and newlines.
func TrimLine(s string) string {
	return strings.Trim(s, " \t\r\n")
}

// LoadLines reads a list file written by Writer.
//
// Reading is bounded to match the write side: carriage returns are dropped,
// each line is truncated to MaxLineLen bytes before trimming, empty lines are
// skipped and anything past maxLines entries is ignored. A final line without
// a trailing newline is accepted.
//
// Parameters:
//   - fs: Filesystem holding the list
//   - path: List file path
//   - maxLines: Maximum number of entries returned (<= 0 means MaxEntries)
//
// Returns:
//   - []string: Trimmed, non-empty lines in file order
//   - error: ErrNotFound if the file is missing, or a read error
func LoadLines(fs afero.Fs, path string, maxLines int) ([]string, error) {
	if maxLines <= 0 {
		maxLines = MaxEntries
	}

	f, err := fs.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to open list %s: %w", path, err)
	}
	defer f.Close()

	var out []string
	err = ScanLines(f, func(line string) bool {
		if len(out) < maxLines {
			out = append(out, line)
		}
		return true
	})
	if err != nil {
		return out, fmt.Errorf("failed to read list %s: %w", path, err)
	}
	return out, nil
}

// ScanLines streams r and calls fn with every trimmed, non-empty line,
// applying the same bounding rules as LoadLines. Scanning stops early when
// fn returns false.
func ScanLines(r io.Reader, fn func(line string) bool) error {
	br := bufio.NewReader(r)
	buf := make([]byte, 0, MaxLineLen)

	flush := func() bool {
		line := TrimLine(string(buf))
		buf = buf[:0]
		if line == "" {
			return true
		}
		return fn(line)
	}

	for {
		c, err := br.ReadByte()
		if err != nil {
			if errors.Is(err, io.EOF) {
				if len(buf) > 0 {
					flush()
				}
				return nil
			}
			return err
		}

		switch c {
		case '\r':
			continue
		case '\n':
			if !flush() {
				return nil
			}
		default:
			if len(buf) < MaxLineLen {
				buf = append(buf, c)
			}
		}
	}
}
