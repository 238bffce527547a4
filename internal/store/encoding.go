package store

import (
	"encoding/binary"
	"fmt"
	"time"

	"github.com/freeeve/chessgraph/personal/internal/model"
)

// MoveStat encoding (version 1):
//   - version (1 byte)
//   - Games, Wins, Draws, Losses, RatingSum, RatedGames: uvarint each
//   - Fingerprint: uint32 big-endian
//   - recent count (1 byte), then per game:
//     id len (1) | id | opponent len (1) | opponent | rating uvarint |
//     date varint | outcome (1)
//
// IndexState encoding (version 1):
//   - version (1 byte), status (1 byte)
//   - Generation, GamesIndexed, Offset: uvarint
//   - UpdatedAt: varint unix nanoseconds
//   - Cursor, Reason: uvarint length + bytes

const (
	moveStatVersion   = 1
	indexStateVersion = 1
)

func EncodeMoveStat(s *model.MoveStat) []byte {
	buf := make([]byte, 0, 32+len(s.Recent)*24)
	buf = append(buf, moveStatVersion)
	for _, v := range []uint64{s.Games, s.Wins, s.Draws, s.Losses, s.RatingSum, s.RatedGames} {
		buf = binary.AppendUvarint(buf, v)
	}
	buf = binary.BigEndian.AppendUint32(buf, s.Fingerprint)

	recent := s.Recent
	if len(recent) > model.MaxRecentGames {
		recent = recent[:model.MaxRecentGames]
	}
	buf = append(buf, byte(len(recent)))
	for _, g := range recent {
		buf = appendShortString(buf, g.ID)
		buf = appendShortString(buf, g.Opponent)
		buf = binary.AppendUvarint(buf, uint64(max(g.OpponentRating, 0)))
		buf = binary.AppendVarint(buf, g.Date)
		buf = append(buf, byte(g.Outcome))
	}
	return buf
}

func DecodeMoveStat(data []byte) (*model.MoveStat, error) {
	d := decoder{buf: data}
	if v := d.readByte(); v != moveStatVersion {
		return nil, fmt.Errorf("%w: move stat version %d", ErrCorruptValue, v)
	}
	s := &model.MoveStat{}
	for _, dst := range []*uint64{&s.Games, &s.Wins, &s.Draws, &s.Losses, &s.RatingSum, &s.RatedGames} {
		*dst = d.readUvarint()
	}
	s.Fingerprint = d.readUint32()
	n := int(d.readByte())
	if n > 0 {
		s.Recent = make([]model.GameRef, 0, n)
	}
	for i := 0; i < n && d.err == nil; i++ {
		var g model.GameRef
		g.ID = d.readShortString()
		g.Opponent = d.readShortString()
		g.OpponentRating = int(d.readUvarint())
		g.Date = d.readVarint()
		g.Outcome = model.Outcome(d.readByte())
		s.Recent = append(s.Recent, g)
	}
	if err := d.finish("move stat"); err != nil {
		return nil, err
	}
	return s, nil
}

func EncodeIndexState(st *model.IndexState) []byte {
	buf := make([]byte, 0, 32+len(st.Cursor)+len(st.Reason))
	buf = append(buf, indexStateVersion, byte(st.Status))
	buf = binary.AppendUvarint(buf, st.Generation)
	buf = binary.AppendUvarint(buf, st.GamesIndexed)
	buf = binary.AppendUvarint(buf, uint64(max(st.Offset, 0)))
	var updated int64
	if !st.UpdatedAt.IsZero() {
		updated = st.UpdatedAt.UnixNano()
	}
	buf = binary.AppendVarint(buf, updated)
	buf = appendString(buf, st.Cursor)
	return appendString(buf, st.Reason)
}

func DecodeIndexState(data []byte) (*model.IndexState, error) {
	d := decoder{buf: data}
	if v := d.readByte(); v != indexStateVersion {
		return nil, fmt.Errorf("%w: index state version %d", ErrCorruptValue, v)
	}
	st := &model.IndexState{}
	st.Status = model.Status(d.readByte())
	st.Generation = d.readUvarint()
	st.GamesIndexed = d.readUvarint()
	st.Offset = int(d.readUvarint())
	if ns := d.readVarint(); ns != 0 {
		st.UpdatedAt = time.Unix(0, ns).UTC()
	}
	st.Cursor = d.readString()
	st.Reason = d.readString()
	if err := d.finish("index state"); err != nil {
		return nil, err
	}
	if st.Status > model.Failed {
		return nil, fmt.Errorf("%w: index state status %d", ErrCorruptValue, st.Status)
	}
	return st, nil
}

func appendShortString(buf []byte, s string) []byte {
	if len(s) > 255 {
		s = s[:255]
	}
	buf = append(buf, byte(len(s)))
	return append(buf, s...)
}

func appendString(buf []byte, s string) []byte {
	buf = binary.AppendUvarint(buf, uint64(len(s)))
	return append(buf, s...)
}

// decoder reads sequential fields, remembering the first error.
type decoder struct {
	buf []byte
	err error
}

func (d *decoder) fail() {
	if d.err == nil {
		d.err = fmt.Errorf("%w: truncated", ErrCorruptValue)
	}
	d.buf = nil
}

func (d *decoder) readByte() byte {
	if len(d.buf) < 1 {
		d.fail()
		return 0
	}
	b := d.buf[0]
	d.buf = d.buf[1:]
	return b
}

func (d *decoder) readUint32() uint32 {
	if len(d.buf) < 4 {
		d.fail()
		return 0
	}
	v := binary.BigEndian.Uint32(d.buf)
	d.buf = d.buf[4:]
	return v
}

func (d *decoder) readUvarint() uint64 {
	v, n := binary.Uvarint(d.buf)
	if n <= 0 {
		d.fail()
		return 0
	}
	d.buf = d.buf[n:]
	return v
}

func (d *decoder) readVarint() int64 {
	v, n := binary.Varint(d.buf)
	if n <= 0 {
		d.fail()
		return 0
	}
	d.buf = d.buf[n:]
	return v
}

func (d *decoder) readBytes(n int) []byte {
	if n < 0 || len(d.buf) < n {
		d.fail()
		return nil
	}
	b := d.buf[:n]
	d.buf = d.buf[n:]
	return b
}

func (d *decoder) readShortString() string {
	return string(d.readBytes(int(d.readByte())))
}

func (d *decoder) readString() string {
	n := d.readUvarint()
	if n > uint64(len(d.buf)) {
		d.fail()
		return ""
	}
	return string(d.readBytes(int(n)))
}

func (d *decoder) finish(what string) error {
	if d.err != nil {
		return fmt.Errorf("%s: %w", what, d.err)
	}
	if len(d.buf) != 0 {
		return fmt.Errorf("%s: %w: %d trailing bytes", what, ErrCorruptValue, len(d.buf))
	}
	return nil
}
