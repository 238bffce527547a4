package model

import (
	"errors"
	"strings"
	"testing"
)

func TestParsePlayerID(t *testing.T) {
	p, err := ParsePlayerID("  Alice ")
	if err != nil || p != "alice" {
		t.Fatalf("ParsePlayerID = %q, %v", p, err)
	}
	if err := p.Validate(); err != nil {
		t.Errorf("Validate = %v", err)
	}
	for _, raw := range []PlayerID{"", PlayerID(strings.Repeat("x", MaxPlayerIDLen+1))} {
		if err := raw.Validate(); !errors.Is(err, ErrInvalidPlayer) {
			t.Errorf("Validate(%d bytes) = %v", len(raw), err)
		}
	}
	if !p.Is("ALICE") || p.Is("alicex") {
		t.Error("Is must compare case-insensitively and exactly")
	}
	for _, s := range []string{"", "   ", "al ice", "a\tb", strings.Repeat("x", MaxPlayerIDLen+1)} {
		if _, err := ParsePlayerID(s); !errors.Is(err, ErrInvalidPlayer) {
			t.Errorf("ParsePlayerID(%q) err = %v", s, err)
		}
	}
}

func TestParseVariant(t *testing.T) {
	cases := map[string]Variant{
		"":              Standard,
		"standard":      Standard,
		"fromPosition":  Standard,
		"chess960":      Chess960,
		"960":           Chess960,
		"kingofthehill": KingOfTheHill,
		"threeCheck":    ThreeCheck,
	}
	for s, want := range cases {
		got, err := ParseVariant(s)
		if err != nil || got != want {
			t.Errorf("ParseVariant(%q) = %v, %v", s, got, err)
		}
	}
	if _, err := ParseVariant("bughouse"); err == nil {
		t.Error("bughouse accepted")
	}
	if Variant(200).Valid() {
		t.Error("Variant(200) valid")
	}
}

func TestResultFor(t *testing.T) {
	cases := []struct {
		tag   string
		color Color
		want  Outcome
	}{
		{"1-0", White, Win},
		{"1-0", Black, Loss},
		{"0-1", Black, Win},
		{"0-1", White, Loss},
		{"1/2-1/2", Black, DrawOutcome},
		{"*", White, OutcomeNone},
	}
	for _, c := range cases {
		if got := ParseResult(c.tag).For(c.color); got != c.want {
			t.Errorf("%s for %s = %s, want %s", c.tag, c.color, got, c.want)
		}
	}
}

func TestMoveStatAdd(t *testing.T) {
	var s MoveStat
	s.Add(&MoveStat{Games: 1, Wins: 1, RatingSum: 1500, RatedGames: 1, Fingerprint: 3,
		Recent: []GameRef{{ID: "a", Date: 10}}})
	s.Add(&MoveStat{Games: 1, Draws: 1, Fingerprint: 3, Recent: []GameRef{{ID: "b", Date: 20}}})

	if s.Games != 2 || s.Wins != 1 || s.Draws != 1 || s.Fingerprint != 3 {
		t.Fatalf("stat = %+v", s)
	}
	if s.AverageOpponentRating() != 1500 {
		t.Errorf("avg = %d, unrated games must not count", s.AverageOpponentRating())
	}
	if len(s.Recent) != 2 || s.Recent[0].ID != "b" {
		t.Errorf("recent = %+v, want newest first", s.Recent)
	}

	s.Add(&MoveStat{Games: 1, Losses: 1, Fingerprint: 4})
	if s.Fingerprint != FingerprintCollided {
		t.Errorf("fingerprint = %x, want collided", s.Fingerprint)
	}
	s.Add(&MoveStat{Games: 1, Wins: 1, Fingerprint: 3})
	if s.Fingerprint != FingerprintCollided {
		t.Error("collided marker must be sticky")
	}
}

func TestMergeRecent(t *testing.T) {
	var a, b []GameRef
	for i := 0; i < MaxRecentGames; i++ {
		a = append(a, GameRef{ID: string(rune('a' + i)), Date: int64(100 - 2*i)})
		b = append(b, GameRef{ID: string(rune('A' + i)), Date: int64(99 - 2*i)})
	}
	b[0] = a[0] // duplicate id

	out := MergeRecent(a, b)
	if len(out) != MaxRecentGames {
		t.Fatalf("len = %d", len(out))
	}
	seen := map[string]bool{}
	for i, g := range out {
		if seen[g.ID] {
			t.Errorf("duplicate %s", g.ID)
		}
		seen[g.ID] = true
		if i > 0 && out[i-1].Date < g.Date {
			t.Errorf("not newest-first at %d: %+v", i, out)
		}
	}

	tie := MergeRecent([]GameRef{{ID: "y", Date: 5}}, []GameRef{{ID: "x", Date: 5}})
	if tie[0].ID != "x" {
		t.Errorf("ties break by id: %+v", tie)
	}
}
