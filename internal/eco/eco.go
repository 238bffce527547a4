// Package eco provides ECO (Encyclopedia of Chess Openings) lookup.
package eco

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/freeeve/chessgraph/personal/internal/keys"
	"github.com/freeeve/chessgraph/personal/internal/rules"
)

// Opening represents an ECO opening classification.
type Opening struct {
	ECO  string `json:"eco"`
	Name string `json:"name"`
}

// Database holds ECO opening data indexed by position hash, so openings
// reached by transposition are found too.
type Database struct {
	engine     rules.Engine
	byPosition map[keys.PositionHash]Opening
	count      int
}

// NewDatabase creates an empty ECO database for standard chess.
func NewDatabase() *Database {
	return &Database{
		engine:     rules.NewStandard(),
		byPosition: make(map[keys.PositionHash]Opening),
	}
}

// moveNumberRegex matches move numbers like "1." or "12..."
var moveNumberRegex = regexp.MustCompile(`\d+\.+\s*`)

// LoadDir loads all .tsv files from a directory.
func (db *Database) LoadDir(dir string) error {
	files, err := filepath.Glob(filepath.Join(dir, "*.tsv"))
	if err != nil {
		return err
	}
	if len(files) == 0 {
		return fmt.Errorf("no .tsv files found in %s", dir)
	}

	for _, file := range files {
		if err := db.LoadFile(file); err != nil {
			return fmt.Errorf("load %s: %w", file, err)
		}
	}
	return nil
}

// LoadFile loads a single TSV file.
func (db *Database) LoadFile(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	return db.Load(f)
}

// Load reads TSV lines of the form eco\tname\tpgn.
func (db *Database) Load(r io.Reader) error {
	scanner := bufio.NewScanner(r)
	lineNum := 0

	for scanner.Scan() {
		lineNum++
		line := scanner.Text()

		// Skip header
		if lineNum == 1 && strings.HasPrefix(line, "eco\t") {
			continue
		}

		parts := strings.SplitN(line, "\t", 3)
		if len(parts) != 3 {
			continue
		}

		pos, err := db.replay(parts[2])
		if err != nil {
			// Skip invalid lines silently
			continue
		}

		db.byPosition[pos.Hash()] = Opening{ECO: parts[0], Name: parts[1]}
		db.count++
	}

	return scanner.Err()
}

// replay applies PGN moves like "1. e4 e5 2. Nf3 Nc6" from the start.
func (db *Database) replay(pgnMoves string) (rules.Position, error) {
	pos, err := db.engine.Setup("")
	if err != nil {
		return nil, err
	}
	cleaned := moveNumberRegex.ReplaceAllString(pgnMoves, "")
	for _, san := range strings.Fields(cleaned) {
		// Skip annotations
		if san[0] == '$' || san[0] == '{' {
			continue
		}
		if _, err := pos.Play(san); err != nil {
			return nil, fmt.Errorf("play %q: %w", san, err)
		}
	}
	return pos, nil
}

// Lookup returns the ECO opening for a position hash, or nil if not found.
func (db *Database) Lookup(h keys.PositionHash) *Opening {
	if o, ok := db.byPosition[h]; ok {
		return &o
	}
	return nil
}

// LookupPosition returns the ECO opening for a position.
func (db *Database) LookupPosition(pos rules.Position) *Opening {
	return db.Lookup(pos.Hash())
}

// Count returns the number of openings loaded.
func (db *Database) Count() int {
	return db.count
}
