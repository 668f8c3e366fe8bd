package controlplane

import (
	"crypto/rand"
	"encoding/binary"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
)

// MaxPending is the maximum number of uploads a batch may hold.
const MaxPending = 32

// NonceSource produces random 32-bit values.
type NonceSource func() (uint32, error)

// RandomNonce reads a nonce from crypto/rand.
func RandomNonce() (uint32, error) {
	var buf [4]byte
	if _, err := rand.Read(buf[:]); err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint32(buf[:]), nil
}

// PendingUpload is a verified file waiting in the incoming directory.
type PendingUpload struct {
	Name  string
	Size  uint32
	CRC32 uint32
}

// ServiceState holds the process-wide control plane state: the session
// nonce, the batch epoch, the pending set and the teardown flag.
//
// Nonce and epoch are separate values. The nonce authenticates requests
// and never changes after construction; the epoch records which nonce last
// reset the pending set and is 0 until the first upload.
//
// Thread safety:
// The pending set and epoch are guarded by Service.mu. The teardown flag
// may be read and set from any goroutine.
type ServiceState struct {
	nonce uint32

	epoch   uint32
	pending []PendingUpload

	teardown     atomic.Bool
	teardownOnce sync.Once
	teardownCh   chan struct{}
}

// NewServiceState creates a state with a fresh nonce from src. Zero is
// never used as a nonce.
func NewServiceState(src NonceSource) (*ServiceState, error) {
	if src == nil {
		src = RandomNonce
	}

	var nonce uint32
	for attempt := 0; nonce == 0; attempt++ {
		if attempt == 8 {
			return nil, errors.New("nonce source kept returning zero")
		}
		n, err := src()
		if err != nil {
			return nil, fmt.Errorf("generate nonce: %w", err)
		}
		nonce = n
	}

	return &ServiceState{
		nonce:      nonce,
		teardownCh: make(chan struct{}),
	}, nil
}

// Nonce returns the session nonce.
func (s *ServiceState) Nonce() uint32 {
	return s.nonce
}


// RequestTeardown asks the run loop to stop serving. Safe to call repeatedly.
func (s *ServiceState) RequestTeardown() {
	s.teardownOnce.Do(func() {
		s.teardown.Store(true)
		close(s.teardownCh)
	})
}

// IsTeardownRequested reports whether RequestTeardown has been called.
func (s *ServiceState) IsTeardownRequested() bool {
	return s.teardown.Load()
}

// TeardownRequested returns a channel closed by RequestTeardown.
func (s *ServiceState) TeardownRequested() <-chan struct{} {
	return s.teardownCh
}

// beginBatch clears the pending set when a new batch starts.
func (s *ServiceState) beginBatch(nonce uint32, force bool) {
	if force || s.epoch != nonce {
		s.epoch = nonce
		s.pending = s.pending[:0]
	}
}

// addPending inserts u, replacing an entry with the same name in place.
// It returns false when u is new and the set is full.
func (s *ServiceState) addPending(u PendingUpload) bool {
	for i := range s.pending {
		if s.pending[i].Name == u.Name {
			s.pending[i] = u
			return true
		}
	}
	if len(s.pending) >= MaxPending {
		return false
	}
	s.pending = append(s.pending, u)
	return true
}

func (s *ServiceState) clearPending() {
	s.pending = s.pending[:0]
}

func (s *ServiceState) pendingSnapshot() []PendingUpload {
	out := make([]PendingUpload, len(s.pending))
	copy(out, s.pending)
	return out
}
