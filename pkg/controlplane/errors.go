package controlplane

import (
	"errors"
	"fmt"
)

// Code is a machine-readable failure code returned in-band to clients.
type Code string

const (
	CodeBadNonce     Code = "BAD_NONCE"
	CodeNoBody       Code = "NO_BODY"
	CodeNoSize       Code = "NO_SIZE"
	CodeBadSize      Code = "BAD_SIZE"
	CodeNoCRC        Code = "NO_CRC"
	CodeBadCRC       Code = "BAD_CRC"
	CodeFSDir        Code = "FS_DIR"
	CodeFSOpen       Code = "FS_OPEN"
	CodeFSWrite      Code = "FS_WRITE"
	CodeFSRename     Code = "FS_RENAME"
	CodeQueueFull    Code = "QUEUE_FULL"
	CodeFSCommit     Code = "FS_COMMIT"
	CodeNoFiles      Code = "NO_FILES"
	CodeRespTooLarge Code = "RESP_TOO_LARGE"
)

// Error carries a protocol code together with the underlying cause.
type Error struct {
	Code Code
	Err  error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return string(e.Code)
	}
	return fmt.Sprintf("%s: %v", e.Code, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

func newError(code Code, err error) *Error {
	return &Error{Code: code, Err: err}
}

// CodeOf extracts the protocol code from err. It returns "" for nil and for
// errors that do not carry a code.
func CodeOf(err error) Code {
	var cpErr *Error
	if errors.As(err, &cpErr) {
		return cpErr.Code
	}
	return ""
}

var (
	// ErrNotFound is returned by read paths for unknown indices and entries
	// that fail their safety checks.
	ErrNotFound = errors.New("not found")

	// ErrTooLarge is returned when a file exceeds the caller's read limit.
	ErrTooLarge = errors.New("file too large")
)
