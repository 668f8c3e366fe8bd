// Package testing provides fault-injecting filesystems for exercising the
// failure paths of list, journal and staging code.
package testing

import (
	"errors"
	"os"
	"strings"
	"sync"

	"github.com/spf13/afero"
)

// ErrInjected is the error returned by every injected fault.
var ErrInjected = errors.New("injected fault")

// FaultFs wraps an afero.Fs and fails selected operations.
//
// Faults are matched by path substring so tests can target a single file
// (e.g. ".tmp") without caring about directory layout.
type FaultFs struct {
	afero.Fs

	mu           sync.Mutex
	renameFail   []string
	openFail     []string
	writeFail    []string
	removeFail   []string
	renameCalls  int
	writeBudgets map[string]int
}

// NewFaultFs wraps base. A nil base uses an in-memory filesystem.
func NewFaultFs(base afero.Fs) *FaultFs {
	if base == nil {
		base = afero.NewMemMapFs()
	}
	return &FaultFs{Fs: base, writeBudgets: make(map[string]int)}
}

// FailRename makes Rename fail whenever either path contains substr.
func (f *FaultFs) FailRename(substr string) *FaultFs {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.renameFail = append(f.renameFail, substr)
	return f
}

// FailOpen makes OpenFile/Create fail for paths containing substr.
func (f *FaultFs) FailOpen(substr string) *FaultFs {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.openFail = append(f.openFail, substr)
	return f
}

// FailWrite makes writes fail for files whose path contains substr.
func (f *FaultFs) FailWrite(substr string) *FaultFs {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.writeFail = append(f.writeFail, substr)
	return f
}

// FailWriteAfter lets the first n writes to paths containing substr succeed
// and fails every write after that.
func (f *FaultFs) FailWriteAfter(substr string, n int) *FaultFs {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.writeBudgets[substr] = n
	return f
}

// FailRemove makes Remove fail for paths containing substr.
func (f *FaultFs) FailRemove(substr string) *FaultFs {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.removeFail = append(f.removeFail, substr)
	return f
}

// Reset clears every configured fault.
func (f *FaultFs) Reset() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.renameFail = nil
	f.openFail = nil
	f.writeFail = nil
	f.removeFail = nil
	f.writeBudgets = make(map[string]int)
}

// RenameCalls returns the number of Rename calls observed.
func (f *FaultFs) RenameCalls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.renameCalls
}

func matches(list []string, paths ...string) bool {
	for _, s := range list {
		for _, p := range paths {
			if strings.Contains(p, s) {
				return true
			}
		}
	}
	return false
}

func (f *FaultFs) Rename(oldname, newname string) error {
	f.mu.Lock()
	f.renameCalls++
	fail := matches(f.renameFail, oldname, newname)
	f.mu.Unlock()
	if fail {
		return &os.LinkError{Op: "rename", Old: oldname, New: newname, Err: ErrInjected}
	}
	return f.Fs.Rename(oldname, newname)
}

func (f *FaultFs) Remove(name string) error {
	f.mu.Lock()
	fail := matches(f.removeFail, name)
	f.mu.Unlock()
	if fail {
		return &os.PathError{Op: "remove", Path: name, Err: ErrInjected}
	}
	return f.Fs.Remove(name)
}

func (f *FaultFs) Create(name string) (afero.File, error) {
	return f.OpenFile(name, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0666)
}

func (f *FaultFs) OpenFile(name string, flag int, perm os.FileMode) (afero.File, error) {
	f.mu.Lock()
	fail := flag&(os.O_WRONLY|os.O_RDWR) != 0 && matches(f.openFail, name)
	f.mu.Unlock()
	if fail {
		return nil, &os.PathError{Op: "open", Path: name, Err: ErrInjected}
	}

	file, err := f.Fs.OpenFile(name, flag, perm)
	if err != nil {
		return nil, err
	}
	return &faultFile{File: file, fs: f, name: name}, nil
}

// allowWrite decides whether a write to name may proceed.
func (f *FaultFs) allowWrite(name string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	if matches(f.writeFail, name) {
		return false
	}
	for substr, budget := range f.writeBudgets {
		if !strings.Contains(name, substr) {
			continue
		}
		if budget <= 0 {
			return false
		}
		f.writeBudgets[substr] = budget - 1
	}
	return true
}

type faultFile struct {
	afero.File
	fs   *FaultFs
	name string
}

func (ff *faultFile) Write(p []byte) (int, error) {
	if !ff.fs.allowWrite(ff.name) {
		return 0, &os.PathError{Op: "write", Path: ff.name, Err: ErrInjected}
	}
	return ff.File.Write(p)
}

func (ff *faultFile) WriteString(s string) (int, error) {
	return ff.Write([]byte(s))
}
