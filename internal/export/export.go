// Package export dumps personal explorer counters as CSV.
package export

import (
	"bufio"
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/klauspost/compress/zstd"

	"github.com/freeeve/chessgraph/personal/internal/keys"
	"github.com/freeeve/chessgraph/personal/internal/model"
	"github.com/freeeve/chessgraph/personal/internal/store"
)

// Header is the first CSV record written by Counters.
var Header = []string{"hash", "move", "games", "wins", "draws", "losses", "avg_rating", "fingerprint"}

type zstdFile struct {
	*zstd.Encoder
	buf *bufio.Writer
	f   *os.File
}

func (z *zstdFile) Close() error {
	if err := z.Encoder.Close(); err != nil {
		z.f.Close()
		return err
	}
	if err := z.buf.Flush(); err != nil {
		z.f.Close()
		return err
	}
	return z.f.Close()
}

// Create opens path for writing. A .zst suffix compresses the output.
func Create(path string) (io.WriteCloser, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, err
	}
	if !strings.HasSuffix(path, ".zst") {
		return f, nil
	}
	buf := bufio.NewWriterSize(f, 1<<20)
	enc, err := zstd.NewWriter(buf, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("zstd writer: %w", err)
	}
	return &zstdFile{Encoder: enc, buf: buf, f: f}, nil
}

// Counters writes every counter row of (player, color, variant) to w and
// returns the number of rows written.
func Counters(w io.Writer, s store.Store, player model.PlayerID, color model.Color, variant model.Variant) (int, error) {
	if err := player.Validate(); err != nil {
		return 0, err
	}
	cw := csv.NewWriter(w)
	if err := cw.Write(Header); err != nil {
		return 0, err
	}

	it := s.Scan(store.Counters, keys.PlayerPrefix(player, color, variant))
	defer it.Close()

	n := 0
	for row := it.Next(); row != nil; row = it.Next() {
		k, mv, err := keys.DecodeCounter(row.Key)
		if err != nil {
			return n, err
		}
		st, err := store.DecodeMoveStat(row.Value)
		if err != nil {
			return n, fmt.Errorf("%x: %w", row.Key, err)
		}
		rec := []string{
			fmt.Sprintf("%016x", uint64(k.Hash)),
			mv.UCI(),
			strconv.FormatUint(st.Games, 10),
			strconv.FormatUint(st.Wins, 10),
			strconv.FormatUint(st.Draws, 10),
			strconv.FormatUint(st.Losses, 10),
			strconv.Itoa(st.AverageOpponentRating()),
			fmt.Sprintf("%08x", st.Fingerprint),
		}
		if err := cw.Write(rec); err != nil {
			return n, err
		}
		n++
	}
	if err := it.Err(); err != nil {
		return n, err
	}
	cw.Flush()
	return n, cw.Error()
}
