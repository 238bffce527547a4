package rules

import (
	"errors"
	"testing"

	"github.com/freeeve/chessgraph/personal/internal/model"
)

func play(t *testing.T, moves ...string) Position {
	t.Helper()
	pos, err := NewStandard().Setup("")
	if err != nil {
		t.Fatalf("Setup: %v", err)
	}
	for _, m := range moves {
		if _, err := pos.Play(m); err != nil {
			t.Fatalf("Play(%s): %v", m, err)
		}
	}
	return pos
}

func TestTranspositionsHashEqual(t *testing.T) {
	a := play(t, "e4", "e5", "Nf3")
	b := play(t, "Nf3", "e5", "e4")
	if a.Hash() != b.Hash() {
		t.Errorf("hash differs across transposition: %x vs %x", a.Hash(), b.Hash())
	}
	if a.Fingerprint() != b.Fingerprint() {
		t.Errorf("fingerprint differs across transposition")
	}

	c := play(t, "e4", "e5", "Nc3")
	if a.Hash() == c.Hash() {
		t.Error("distinct positions share a hash")
	}
}

func TestUCIAndSANAgree(t *testing.T) {
	a := play(t, "e2e4", "e7e5", "g1f3")
	b := play(t, "e4", "e5", "Nf3")
	if a.Hash() != b.Hash() {
		t.Error("UCI and SAN replays diverged")
	}
	if a.Turn() != model.Black {
		t.Errorf("Turn = %s, want black", a.Turn())
	}
}

func TestIllegalMove(t *testing.T) {
	pos := play(t, "e4")
	if _, err := pos.Play("e2e4"); !errors.Is(err, ErrIllegalMove) {
		t.Errorf("err = %v, want ErrIllegalMove", err)
	}
	if _, err := pos.Play("Qh5"); !errors.Is(err, ErrIllegalMove) {
		t.Errorf("err = %v, want ErrIllegalMove", err)
	}
}

func TestInvalidFEN(t *testing.T) {
	if _, err := NewStandard().Setup("not a fen"); !errors.Is(err, ErrInvalidFEN) {
		t.Errorf("err = %v, want ErrInvalidFEN", err)
	}
}

func TestLegalMovesAndSAN(t *testing.T) {
	pos := play(t)
	legal := pos.LegalMoves()
	if len(legal) != 20 {
		t.Fatalf("start has %d legal moves, want 20", len(legal))
	}
	nf3, _ := model.ParseUCIMove("g1f3")
	if got := pos.SAN(nf3); got != "Nf3" {
		t.Errorf("SAN(g1f3) = %q, want Nf3", got)
	}
	e4, _ := model.ParseUCIMove("e2e4")
	if got := pos.SAN(e4); got != "e4" {
		t.Errorf("SAN(e2e4) = %q, want e4", got)
	}
}

func TestCloneIsIndependent(t *testing.T) {
	pos := play(t, "d4")
	clone, err := pos.Clone()
	if err != nil {
		t.Fatalf("Clone: %v", err)
	}
	if _, err := clone.Play("d5"); err != nil {
		t.Fatalf("Play: %v", err)
	}
	if pos.Hash() == clone.Hash() {
		t.Error("clone shares state with original")
	}
}

func TestRegistry(t *testing.T) {
	r := Default()
	if _, err := r.For(model.Standard); err != nil {
		t.Errorf("For(standard): %v", err)
	}
	if _, err := r.For(model.Crazyhouse); !errors.Is(err, ErrUnsupportedVariant) {
		t.Errorf("For(crazyhouse) err = %v, want ErrUnsupportedVariant", err)
	}
}
