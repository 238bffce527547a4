package store

import (
	"errors"
	"fmt"
	"slices"
	"sync"
	"sync/atomic"

	"github.com/cockroachdb/pebble"
	"github.com/cockroachdb/pebble/vfs"
	"github.com/rs/zerolog"

	"github.com/freeeve/chessgraph/personal/internal/model"
)

// Config configures the DB.
type Config struct {
	Dir    string
	FS     vfs.FS // nil means the OS filesystem; tests use vfs.NewMem()
	NoSync bool   // skip fsync on commit (tests and bulk imports)
	Logger zerolog.Logger
}

// errClosed is returned by every operation after Close.
var errClosed = fmt.Errorf("%w: closed", ErrStoreIO)

// DB is the pebble-backed Store. Operations after Close fail with
// ErrStoreIO; Close waits for operations in flight.
type DB struct {
	mu    sync.RWMutex // guards db; held for reading by every operation
	db    *pebble.DB
	wo    *pebble.WriteOptions
	log   zerolog.Logger
	stats statCounters
}

var _ Store = (*DB)(nil)

// Open opens (or creates) the store at cfg.Dir.
func Open(cfg Config) (*DB, error) {
	opts := &pebble.Options{
		FS:     cfg.FS,
		Merger: Merger,
	}
	db, err := pebble.Open(cfg.Dir, opts)
	if err != nil {
		return nil, fmt.Errorf("%w: open %s: %v", ErrStoreIO, cfg.Dir, err)
	}
	wo := pebble.Sync
	if cfg.NoSync {
		wo = pebble.NoSync
	}
	cfg.Logger.Debug().Str("dir", cfg.Dir).Bool("sync", !cfg.NoSync).Msg("store opened")
	return &DB{db: db, wo: wo, log: cfg.Logger}, nil
}

// OpenMem opens an in-memory store.
func OpenMem() (*DB, error) {
	return Open(Config{Dir: "", FS: vfs.NewMem(), NoSync: true, Logger: zerolog.Nop()})
}

func (s *DB) Get(p Partition, key []byte) ([]byte, error) {
	if err := p.check(key); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.db == nil {
		return nil, errClosed
	}
	s.stats.reads.Add(1)
	val, closer, err := s.db.Get(key)
	if errors.Is(err, pebble.ErrNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("%w: get: %v", ErrStoreIO, err)
	}
	out := slices.Clone(val)
	if err := closer.Close(); err != nil {
		return nil, fmt.Errorf("%w: get: %v", ErrStoreIO, err)
	}
	return out, nil
}

func (s *DB) Put(p Partition, key, value []byte) error {
	if err := p.check(key); err != nil {
		return err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.db == nil {
		return errClosed
	}
	s.stats.writes.Add(1)
	if err := s.db.Set(key, value, s.wo); err != nil {
		return fmt.Errorf("%w: put: %v", ErrStoreIO, err)
	}
	return nil
}

func (s *DB) MergeCounter(key []byte, delta *model.MoveStat) error {
	if err := Counters.check(key); err != nil {
		return err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.db == nil {
		return errClosed
	}
	s.stats.merges.Add(1)
	if err := s.db.Merge(key, EncodeMoveStat(delta), s.wo); err != nil {
		return fmt.Errorf("%w: merge: %v", ErrStoreIO, err)
	}
	return nil
}

func (s *DB) Commit(b *Batch) error {
	if b.err != nil {
		return b.err
	}
	if len(b.ops) == 0 {
		return nil
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.db == nil {
		return errClosed
	}
	pb := s.db.NewBatch()
	defer pb.Close()
	for _, op := range b.ops {
		var err error
		switch op.kind {
		case opPut:
			err = pb.Set(op.key, op.value, nil)
			s.stats.writes.Add(1)
		case opMerge:
			err = pb.Merge(op.key, op.value, nil)
			s.stats.merges.Add(1)
		}
		if err != nil {
			return fmt.Errorf("%w: batch: %v", ErrStoreIO, err)
		}
	}
	if err := pb.Commit(s.wo); err != nil {
		return fmt.Errorf("%w: commit: %v", ErrStoreIO, err)
	}
	s.stats.commits.Add(1)
	return nil
}

func (s *DB) Scan(p Partition, prefix []byte) RowIterator {
	if err := p.check(prefix); err != nil {
		return &rowIter{err: err}
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.db == nil {
		return &rowIter{err: errClosed}
	}
	s.stats.scans.Add(1)
	it, err := s.db.NewIter(&pebble.IterOptions{
		LowerBound: prefix,
		UpperBound: prefixEnd(prefix),
	})
	if err != nil {
		return &rowIter{err: fmt.Errorf("%w: iter: %v", ErrStoreIO, err)}
	}
	return &rowIter{it: it}
}

// Metrics exposes the engine metrics for the prometheus collector. It
// returns nil once the store is closed.
func (s *DB) Metrics() *pebble.Metrics {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.db == nil {
		return nil
	}
	return s.db.Metrics()
}

func (s *DB) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.db == nil {
		return nil
	}
	err := s.db.Close()
	s.db = nil
	if err != nil {
		return fmt.Errorf("%w: close: %v", ErrStoreIO, err)
	}
	return nil
}

// prefixEnd returns the smallest key greater than every key with prefix,
// or nil if there is none.
func prefixEnd(prefix []byte) []byte {
	end := slices.Clone(prefix)
	for i := len(end) - 1; i >= 0; i-- {
		if end[i] != 0xff {
			end[i]++
			return end[:i+1]
		}
	}
	return nil
}

type rowIter struct {
	it      *pebble.Iterator
	started bool
	err     error
}

func (r *rowIter) Next() *Row {
	if r.it == nil || r.err != nil {
		return nil
	}
	var ok bool
	if !r.started {
		ok = r.it.First()
		r.started = true
	} else {
		ok = r.it.Next()
	}
	if !ok {
		if err := r.it.Error(); err != nil {
			r.err = fmt.Errorf("%w: scan: %v", ErrStoreIO, err)
		}
		return nil
	}
	return &Row{Key: slices.Clone(r.it.Key()), Value: slices.Clone(r.it.Value())}
}

func (r *rowIter) Err() error {
	return r.err
}

func (r *rowIter) Close() error {
	if r.it == nil {
		return nil
	}
	err := r.it.Close()
	r.it = nil
	if err != nil && r.err == nil {
		return fmt.Errorf("%w: scan close: %v", ErrStoreIO, err)
	}
	return nil
}

type statCounters struct {
	reads   atomic.Uint64
	writes  atomic.Uint64
	merges  atomic.Uint64
	commits atomic.Uint64
	scans   atomic.Uint64
}
