package store

import (
	"errors"
	"fmt"

	"github.com/freeeve/chessgraph/personal/internal/keys"
	"github.com/freeeve/chessgraph/personal/internal/model"
)

// ErrNotFound is returned when a key is not found in the store.
var ErrNotFound = errors.New("not found")

// ErrStoreIO wraps failures of the underlying storage engine.
var ErrStoreIO = errors.New("store i/o failure")

// ErrCorruptValue is returned when a stored value cannot be decoded.
var ErrCorruptValue = errors.New("corrupt value")

// ErrPartition is returned for keys outside the addressed partition.
var ErrPartition = errors.New("key outside partition")

// Partition is a logical keyspace, identified by its namespace byte.
type Partition byte

const (
	Counters   = Partition(keys.NamespaceCounters)
	IndexState = Partition(keys.NamespaceIndexState)
)

func (p Partition) String() string {
	switch p {
	case Counters:
		return "counters"
	case IndexState:
		return "index_state"
	}
	return fmt.Sprintf("partition(%q)", byte(p))
}

func (p Partition) check(key []byte) error {
	if len(key) == 0 || key[0] != byte(p) {
		return fmt.Errorf("%w: %s", ErrPartition, p)
	}
	return nil
}

// Row is one key/value pair produced by a scan.
type Row struct {
	Key   []byte
	Value []byte
}

// RowIterator walks rows in ascending key order.
type RowIterator interface {
	// Next returns the next row, or nil if exhausted or failed.
	Next() *Row
	Err() error
	Close() error
}

// Store is the persistence contract used by the indexer and query engine.
type Store interface {
	Get(p Partition, key []byte) ([]byte, error)
	Put(p Partition, key, value []byte) error
	// MergeCounter atomically adds delta to the MoveStat at key.
	MergeCounter(key []byte, delta *model.MoveStat) error
	// Scan lazily iterates all rows of p whose key starts with prefix.
	// Each call starts from the beginning.
	Scan(p Partition, prefix []byte) RowIterator
	// Commit applies every operation of b, or none of them.
	Commit(b *Batch) error
	Stats() Stats
	Close() error
}

type opKind uint8

const (
	opPut opKind = iota
	opMerge
)

type batchOp struct {
	kind  opKind
	part  Partition
	key   []byte
	value []byte
}

// Batch collects puts and counter merges for one atomic Commit.
type Batch struct {
	ops []batchOp
	err error
}

// NewBatch returns an empty batch.
func NewBatch() *Batch {
	return &Batch{}
}

// Put records a put of value at key in p.
func (b *Batch) Put(p Partition, key, value []byte) {
	if err := p.check(key); err != nil && b.err == nil {
		b.err = err
	}
	b.ops = append(b.ops, batchOp{kind: opPut, part: p, key: key, value: value})
}

// Merge records a counter merge of delta at key.
func (b *Batch) Merge(key []byte, delta *model.MoveStat) {
	if err := Counters.check(key); err != nil && b.err == nil {
		b.err = err
	}
	b.ops = append(b.ops, batchOp{kind: opMerge, part: Counters, key: key, value: EncodeMoveStat(delta)})
}

// PutIndexState records an IndexState write.
func (b *Batch) PutIndexState(key []byte, st *model.IndexState) {
	b.Put(IndexState, key, EncodeIndexState(st))
}

// Len returns the number of recorded operations.
func (b *Batch) Len() int {
	return len(b.ops)
}

// GetIndexState loads an IndexState, returning a NotStarted state when
// absent.
func GetIndexState(s Store, key []byte) (*model.IndexState, error) {
	raw, err := s.Get(IndexState, key)
	if errors.Is(err, ErrNotFound) {
		return &model.IndexState{Status: model.NotStarted}, nil
	}
	if err != nil {
		return nil, err
	}
	return DecodeIndexState(raw)
}
