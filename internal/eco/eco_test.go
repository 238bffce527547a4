package eco_test

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/freeeve/chessgraph/personal/internal/eco"
	"github.com/freeeve/chessgraph/personal/internal/rules"
)

const sample = "eco\tname\tpgn\n" +
	"B00\tKing's Pawn Game\t1. e4\n" +
	"C50\tItalian Game\t1. e4 e5 2. Nf3 Nc6 3. Bc4\n" +
	"A00\tBroken\t1. e5\n"

func play(t *testing.T, moves ...string) rules.Position {
	t.Helper()
	pos, err := rules.NewStandard().Setup("")
	if err != nil {
		t.Fatal(err)
	}
	for _, m := range moves {
		if _, err := pos.Play(m); err != nil {
			t.Fatalf("Play %s: %v", m, err)
		}
	}
	return pos
}

func TestLoadAndLookup(t *testing.T) {
	db := eco.NewDatabase()
	if err := db.Load(strings.NewReader(sample)); err != nil {
		t.Fatalf("Load: %v", err)
	}
	if db.Count() != 2 {
		t.Errorf("Count = %d, want 2 (invalid line skipped)", db.Count())
	}

	if o := db.LookupPosition(play(t)); o != nil {
		t.Errorf("starting position: got %s", o.ECO)
	}
	if o := db.LookupPosition(play(t, "e4")); o == nil || o.ECO != "B00" {
		t.Errorf("after 1. e4: got %+v, want B00", o)
	}

	// Transposition into the Italian.
	if o := db.LookupPosition(play(t, "Nf3", "Nc6", "e4", "e5", "Bc4")); o == nil || o.ECO != "C50" {
		t.Errorf("italian by transposition: got %+v, want C50", o)
	}
}

func TestLoadDir(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "a.tsv"), []byte(sample), 0o644); err != nil {
		t.Fatal(err)
	}
	db := eco.NewDatabase()
	if err := db.LoadDir(dir); err != nil {
		t.Fatalf("LoadDir: %v", err)
	}
	if db.Count() != 2 {
		t.Errorf("Count = %d, want 2", db.Count())
	}
	if err := eco.NewDatabase().LoadDir(t.TempDir()); err == nil {
		t.Error("expected error for a directory without tsv files")
	}
}
