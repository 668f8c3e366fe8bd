// Package history keeps a persistent log of successful commits in BadgerDB.
//
// Each commit is stored under a key that sorts by commit time, so the most
// recent commits can be read with a reverse prefix scan. The store plugs into
// the control plane as a controlplane.CommitHook.
package history

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"time"

	badger "github.com/dgraph-io/badger/v4"
	"github.com/google/uuid"
	"github.com/marmos91/dittomount/internal/logger"
	"github.com/marmos91/dittomount/pkg/controlplane"
	"github.com/spf13/afero"
)

const (
	// DefaultMaxEntries bounds how many commits are retained.
	DefaultMaxEntries = 256

	// DefaultListLimit is used by Recent when limit <= 0.
	DefaultListLimit = 20

	commitPrefix = "c:"
)

// File is one committed image.
type File struct {
	Name  string `json:"name"`
	Size  uint32 `json:"size"`
	CRC32 string `json:"crc32"`
}

// Commit is a persisted commit record.
type Commit struct {
	ID    string    `json:"id"`
	Time  time.Time `json:"time"`
	Nonce uint32    `json:"nonce"`
	Files []File    `json:"files"`
}

// Config configures the history store.
type Config struct {
	// DBPath is the BadgerDB directory. Ignored when InMemory is set.
	DBPath string `mapstructure:"db_path"`

	// InMemory runs Badger without touching disk.
	InMemory bool `mapstructure:"in_memory"`

	// MaxEntries bounds the number of retained commits. Older commits are
	// pruned on write. Default: DefaultMaxEntries
	MaxEntries int `mapstructure:"max_entries"`
}

// Store is a BadgerDB-backed commit log.
//
// Thread safety:
// Safe for concurrent use; Badger transactions provide isolation.
type Store struct {
	db         *badger.DB
	maxEntries int
	newID      func() string
}

// Open opens (or creates) the history database.
func Open(ctx context.Context, cfg Config) (*Store, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var opts badger.Options
	if cfg.InMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		if cfg.DBPath == "" {
			return nil, errors.New("history: db_path is required")
		}
		if err := os.MkdirAll(cfg.DBPath, 0755); err != nil {
			return nil, fmt.Errorf("history: create db directory: %w", err)
		}
		opts = badger.DefaultOptions(cfg.DBPath)
	}
	opts = opts.WithLoggingLevel(badger.WARNING)

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("history: open badger database: %w", err)
	}

	if cfg.MaxEntries <= 0 {
		cfg.MaxEntries = DefaultMaxEntries
	}

	return &Store{
		db:         db,
		maxEntries: cfg.MaxEntries,
		newID:      func() string { return uuid.New().String() },
	}, nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Name implements controlplane.CommitHook.
func (s *Store) Name() string { return "history" }

// OnCommit implements controlplane.CommitHook.
func (s *Store) OnCommit(ctx context.Context, _ afero.Fs, rec controlplane.CommitRecord) error {
	c := Commit{
		Time:  rec.Time.UTC(),
		Nonce: rec.Nonce,
		Files: make([]File, 0, len(rec.Files)),
	}
	for _, f := range rec.Files {
		c.Files = append(c.Files, File{Name: f.Name, Size: f.Size, CRC32: fmt.Sprintf("%08x", f.CRC32)})
	}
	_, err := s.Record(ctx, c)
	return err
}

// Record stores c, assigning an ID when c.ID is empty, and prunes the oldest
// commits beyond MaxEntries.
func (s *Store) Record(ctx context.Context, c Commit) (Commit, error) {
	if err := ctx.Err(); err != nil {
		return Commit{}, err
	}
	if c.ID == "" {
		c.ID = s.newID()
	}
	if c.Time.IsZero() {
		c.Time = time.Now().UTC()
	}

	data, err := json.Marshal(c)
	if err != nil {
		return Commit{}, fmt.Errorf("history: encode commit: %w", err)
	}

	err = s.db.Update(func(txn *badger.Txn) error {
		if err := txn.Set(commitKey(c), data); err != nil {
			return err
		}
		return s.pruneLocked(txn)
	})
	if err != nil {
		return Commit{}, fmt.Errorf("history: store commit: %w", err)
	}

	logger.Debug("history: recorded commit %s (%d files)", c.ID, len(c.Files))
	return c, nil
}

// Recent returns up to limit commits, newest first.
func (s *Store) Recent(ctx context.Context, limit int) ([]Commit, error) {
	if limit <= 0 {
		limit = DefaultListLimit
	}

	commits := make([]Commit, 0, limit)
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Reverse = true
		opts.Prefix = []byte(commitPrefix)

		it := txn.NewIterator(opts)
		defer it.Close()

		// Reverse iteration must seek past the last key with the prefix.
		for it.Seek(append([]byte(commitPrefix), 0xFF)); it.ValidForPrefix(opts.Prefix); it.Next() {
			if err := ctx.Err(); err != nil {
				return err
			}
			var c Commit
			if err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &c)
			}); err != nil {
				return fmt.Errorf("decode %s: %w", it.Item().Key(), err)
			}
			commits = append(commits, c)
			if len(commits) == limit {
				break
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("history: list commits: %w", err)
	}
	return commits, nil
}

// pruneLocked deletes the oldest commits so at most maxEntries remain,
// counting the entry written in txn.
func (s *Store) pruneLocked(txn *badger.Txn) error {
	opts := badger.DefaultIteratorOptions
	opts.PrefetchValues = false
	opts.Prefix = []byte(commitPrefix)

	var keys [][]byte
	it := txn.NewIterator(opts)
	for it.Rewind(); it.ValidForPrefix(opts.Prefix); it.Next() {
		keys = append(keys, it.Item().KeyCopy(nil))
	}
	it.Close()

	for i := 0; i < len(keys)-s.maxEntries; i++ {
		if err := txn.Delete(keys[i]); err != nil {
			return err
		}
	}
	return nil
}

// commitKey orders commits by time, with the ID breaking ties.
func commitKey(c Commit) []byte {
	return []byte(fmt.Sprintf("%s%020d:%s", commitPrefix, c.Time.UnixNano(), c.ID))
}
