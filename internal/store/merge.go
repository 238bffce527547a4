package store

import (
	"io"

	"github.com/cockroachdb/pebble"

	"github.com/freeeve/chessgraph/personal/internal/model"
)

// MergerName is persisted by pebble; changing it makes existing stores
// unreadable.
const MergerName = "personal.movestat.v1"

// Merger sums MoveStat operands. Addition is commutative and the recent
// game list is ordered by (date, id), so operand order does not matter.
var Merger = &pebble.Merger{
	Name:  MergerName,
	Merge: newStatMerger,
}

type statMerger struct {
	acc model.MoveStat
}

func newStatMerger(key, value []byte) (pebble.ValueMerger, error) {
	m := &statMerger{}
	if err := m.add(value); err != nil {
		return nil, err
	}
	return m, nil
}

func (m *statMerger) add(value []byte) error {
	s, err := DecodeMoveStat(value)
	if err != nil {
		return err
	}
	m.acc.Add(s)
	return nil
}

func (m *statMerger) MergeNewer(value []byte) error {
	return m.add(value)
}

func (m *statMerger) MergeOlder(value []byte) error {
	return m.add(value)
}

func (m *statMerger) Finish(includesBase bool) ([]byte, io.Closer, error) {
	return EncodeMoveStat(&m.acc), nil, nil
}
