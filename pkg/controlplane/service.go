// Package controlplane implements the upload staging area and the commit
// coordinator of the disk image service, together with the session state
// they share.
//
// A client obtains the session nonce from Hello, stages one or more files
// into the incoming directory and commits them, which replaces the contents
// of the active-mount directory and rewrites the active list. The journal of
// modified disks is exposed read-only for listing and download.
package controlplane

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/marmos91/dittomount/pkg/activelist"
	"github.com/marmos91/dittomount/pkg/journal"
	"github.com/marmos91/dittomount/pkg/layout"
	"github.com/marmos91/dittomount/pkg/listfile"
	"github.com/marmos91/dittomount/pkg/metrics"
	"github.com/spf13/afero"
)

const (
	// ServicePort is the fixed control plane port advertised by Hello.
	ServicePort = 15410

	// ChunkSize is the write granularity of staged uploads.
	ChunkSize = 4096
)

// CommittedFile describes one file promoted by a commit.
type CommittedFile struct {
	Name  string
	Path  string
	Size  uint32
	CRC32 uint32
}

// CommitRecord describes a successful commit.
type CommitRecord struct {
	Time  time.Time
	Nonce uint32
	Files []CommittedFile
}

// CommitHook is notified after every successful commit.
//
// Hooks run while the service lock is held, so the committed files are
// stable for the duration of the call. Hook errors are logged and never
// change the commit result.
type CommitHook interface {
	Name() string
	OnCommit(ctx context.Context, fs afero.Fs, rec CommitRecord) error
}

// Options configures a Service.
type Options struct {
	// Layout of the storage root. Zero value selects layout.DefaultRoot.
	Layout layout.Layout

	// Port advertised by Hello. Default: ServicePort
	Port int

	// NonceSource generates the session nonce. Default: RandomNonce
	NonceSource NonceSource

	// Metrics receives staging and commit observations. Default: no-op
	Metrics metrics.ControlPlaneMetrics

	// Hooks run after each successful commit.
	Hooks []CommitHook

	// Now returns the current time. Default: time.Now
	Now func() time.Time
}

// Service is the control plane.
//
// Thread safety:
// Stage and Commit take the write lock; listing and downloads take the read
// lock. The session nonce and teardown flag are lock-free.
type Service struct {
	fs      afero.Fs
	layout  layout.Layout
	port    int
	state   *ServiceState
	journal *journal.Journal
	active  *activelist.Reader
	lists   *listfile.Writer
	metrics metrics.ControlPlaneMetrics
	hooks   []CommitHook
	now     func() time.Time

	mu sync.RWMutex
}

// New creates a Service on fs and generates the session nonce.
func New(fs afero.Fs, opts Options) (*Service, error) {
	if fs == nil {
		return nil, errors.New("controlplane: filesystem is required")
	}

	l := opts.Layout
	if l.Root == "" {
		l = layout.New("")
	}
	if opts.Port <= 0 {
		opts.Port = ServicePort
	}
	if opts.Metrics == nil {
		opts.Metrics = metrics.NewNoopControlPlaneMetrics()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}

	state, err := NewServiceState(opts.NonceSource)
	if err != nil {
		return nil, fmt.Errorf("controlplane: %w", err)
	}

	return &Service{
		fs:      fs,
		layout:  l,
		port:    opts.Port,
		state:   state,
		journal: journal.New(fs, l),
		active:  activelist.NewReader(fs, l),
		lists:   listfile.NewWriter(fs, l.ActiveListMarker()),
		metrics: opts.Metrics,
		hooks:   opts.Hooks,
		now:     opts.Now,
	}, nil
}

// State returns the shared session state.
func (s *Service) State() *ServiceState { return s.state }

// Layout returns the storage layout.
func (s *Service) Layout() layout.Layout { return s.layout }

// Journal returns the modified-disk journal.
func (s *Service) Journal() *journal.Journal { return s.journal }

// Hello is the status document returned to clients.
type Hello struct {
	State         string   `json:"state"`
	Nonce         uint32   `json:"nonce"`
	TCPPort       int      `json:"tcp_port"`
	Caps          []string `json:"caps"`
	ModifiedCount uint32   `json:"modified_count"`
	ModifiedID    uint32   `json:"modified_id"`
}

// Hello returns the session nonce and the journal fingerprint.
func (s *Service) Hello(ctx context.Context) (Hello, error) {
	sum, err := s.journal.LoadSummary()
	if err != nil {
		return Hello{}, err
	}
	return Hello{
		State:         "READY",
		Nonce:         s.state.Nonce(),
		TCPPort:       s.port,
		Caps:          []string{},
		ModifiedCount: sum.Count,
		ModifiedID:    sum.Checksum,
	}, nil
}

// Epoch returns the nonce that last reset the pending set, or 0 before the
// first upload.
func (s *Service) Epoch() uint32 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state.epoch
}

// Pending returns a copy of the pending set.
func (s *Service) Pending() []PendingUpload {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state.pendingSnapshot()
}

// ActiveFiles returns the names in the active list.
func (s *Service) ActiveFiles(ctx context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.active.Load()
}

// ModifiedFiles returns the downloadable journal entries and the journal summary.
func (s *Service) ModifiedFiles(ctx context.Context) ([]journal.Entry, journal.Summary, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.journal.LoadDetailed()
}

// ReadActive returns the content of the index-th (1-based) active file.
//
// Returns ErrNotFound for out-of-range indices or missing files, and
// ErrTooLarge when the file exceeds limit bytes (limit <= 0 disables the check).
func (s *Service) ReadActive(ctx context.Context, index int, limit int64) (string, []byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	names, err := s.active.Load()
	if err != nil {
		return "", nil, err
	}
	if index < 1 || index > len(names) {
		return "", nil, ErrNotFound
	}

	name := names[index-1]
	data, err := s.readFile(s.active.Path(name), limit)
	return name, data, err
}

// ReadModified returns the content of the index-th (1-based) journal entry.
func (s *Service) ReadModified(ctx context.Context, index int, limit int64) (journal.Entry, []byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	entries, _, err := s.journal.LoadDetailed()
	if err != nil {
		return journal.Entry{}, nil, err
	}
	if index < 1 || index > len(entries) {
		return journal.Entry{}, nil, ErrNotFound
	}

	entry := entries[index-1]
	data, err := s.readFile(entry.FullPath, limit)
	return entry, data, err
}

// WalkModified calls fn for every journal entry whose file can be opened.
// Entries whose files are missing are skipped. The read lock is held for the
// whole walk so a concurrent commit cannot remove files mid-stream.
func (s *Service) WalkModified(ctx context.Context, fn func(journal.Entry, io.Reader) error) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	entries, _, err := s.journal.LoadDetailed()
	if err != nil {
		return 0, err
	}

	visited := 0
	for _, entry := range entries {
		if err := ctx.Err(); err != nil {
			return visited, err
		}
		f, err := s.fs.Open(entry.FullPath)
		if err != nil {
			continue
		}
		err = fn(entry, f)
		_ = f.Close()
		if err != nil {
			return visited, err
		}
		visited++
	}
	return visited, nil
}

// RecordDirty records modified disk paths in the journal.
func (s *Service) RecordDirty(paths []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.journal.RecordDirty(paths)
	return err
}

func (s *Service) readFile(path string, limit int64) ([]byte, error) {
	info, err := s.fs.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	if info.IsDir() {
		return nil, ErrNotFound
	}
	if limit > 0 && info.Size() > limit {
		return nil, ErrTooLarge
	}
	return afero.ReadFile(s.fs, path)
}
