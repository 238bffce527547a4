// Package model holds the value types shared by the personal explorer:
// players, colors, variants, game records and per-move statistics.
package model

import (
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode"
)

// MaxPlayerIDLen bounds player ids so they fit a one-byte length prefix.
const MaxPlayerIDLen = 255

var ErrInvalidPlayer = errors.New("invalid player id")

// PlayerID is a normalized (lowercase) player handle.
type PlayerID string

// ParsePlayerID normalizes and validates a player handle.
func ParsePlayerID(s string) (PlayerID, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "" || len(s) > MaxPlayerIDLen {
		return "", fmt.Errorf("%w: %q", ErrInvalidPlayer, s)
	}
	for _, r := range s {
		if unicode.IsSpace(r) || unicode.IsControl(r) {
			return "", fmt.Errorf("%w: %q", ErrInvalidPlayer, s)
		}
	}
	return PlayerID(s), nil
}

// Validate reports whether p fits a key. Ids built by ParsePlayerID always do.
func (p PlayerID) Validate() error {
	if len(p) == 0 || len(p) > MaxPlayerIDLen {
		return fmt.Errorf("%w: %d bytes", ErrInvalidPlayer, len(p))
	}
	return nil
}

// Is reports whether name refers to this player.
func (p PlayerID) Is(name string) bool {
	return strings.EqualFold(strings.TrimSpace(name), string(p))
}

// Color is the side the statistics are computed for.
type Color uint8

const (
	White Color = 0
	Black Color = 1
)

func (c Color) String() string {
	if c == Black {
		return "black"
	}
	return "white"
}

// Other returns the opposite color.
func (c Color) Other() Color {
	return c ^ 1
}

// ParseColor accepts "white"/"black" (or "w"/"b").
func ParseColor(s string) (Color, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "white", "w":
		return White, nil
	case "black", "b":
		return Black, nil
	}
	return White, fmt.Errorf("invalid color %q", s)
}

// Variant is a chess variant. Values are persisted in keys; never reorder.
type Variant uint8

const (
	Standard Variant = iota
	Chess960
	Antichess
	Atomic
	Crazyhouse
	Horde
	KingOfTheHill
	RacingKings
	ThreeCheck
)

var variantNames = [...]string{
	Standard:      "standard",
	Chess960:      "chess960",
	Antichess:     "antichess",
	Atomic:        "atomic",
	Crazyhouse:    "crazyhouse",
	Horde:         "horde",
	KingOfTheHill: "kingOfTheHill",
	RacingKings:   "racingKings",
	ThreeCheck:    "threeCheck",
}

func (v Variant) String() string {
	if int(v) < len(variantNames) {
		return variantNames[v]
	}
	return fmt.Sprintf("variant(%d)", uint8(v))
}

// Valid reports whether v is a known variant.
func (v Variant) Valid() bool {
	return int(v) < len(variantNames)
}

// ParseVariant maps lichess variant keys to a Variant. Empty means standard
// and "fromPosition" is standard chess from a custom setup.
func ParseVariant(s string) (Variant, error) {
	s = strings.TrimSpace(s)
	switch strings.ToLower(s) {
	case "", "fromposition", "from_position":
		return Standard, nil
	case "960", "chess960":
		return Chess960, nil
	}
	for i, name := range variantNames {
		if strings.EqualFold(name, s) {
			return Variant(i), nil
		}
	}
	return Standard, fmt.Errorf("invalid variant %q", s)
}

// Result is the outcome of a game from White's point of view.
type Result uint8

const (
	ResultUnknown Result = iota
	WhiteWins
	BlackWins
	Draw
)

// ParseResult parses a PGN result tag.
func ParseResult(s string) Result {
	switch strings.TrimSpace(s) {
	case "1-0":
		return WhiteWins
	case "0-1":
		return BlackWins
	case "1/2-1/2", "½-½":
		return Draw
	}
	return ResultUnknown
}

func (r Result) String() string {
	switch r {
	case WhiteWins:
		return "1-0"
	case BlackWins:
		return "0-1"
	case Draw:
		return "1/2-1/2"
	}
	return "*"
}

// Outcome is a game result from the indexed player's perspective.
type Outcome uint8

const (
	OutcomeNone Outcome = iota
	Win
	DrawOutcome
	Loss
)

func (o Outcome) String() string {
	switch o {
	case Win:
		return "win"
	case DrawOutcome:
		return "draw"
	case Loss:
		return "loss"
	}
	return "none"
}

// For returns the outcome of r for color c.
func (r Result) For(c Color) Outcome {
	switch r {
	case Draw:
		return DrawOutcome
	case WhiteWins:
		if c == White {
			return Win
		}
		return Loss
	case BlackWins:
		if c == Black {
			return Win
		}
		return Loss
	}
	return OutcomeNone
}

// GameRecord is one finished game as produced by a game source.
type GameRecord struct {
	ID          string
	White       string
	Black       string
	WhiteRating int
	BlackRating int
	Result      Result
	Variant     Variant
	InitialFEN  string // empty means the variant's standard start
	PlayedAt    time.Time
	Moves       []string // SAN or UCI
}

// ColorOf returns the color p played in g.
func (g *GameRecord) ColorOf(p PlayerID) (Color, bool) {
	switch {
	case p.Is(g.White):
		return White, true
	case p.Is(g.Black):
		return Black, true
	}
	return White, false
}

// Opponent returns the name and rating of the player facing color c.
func (g *GameRecord) Opponent(c Color) (string, int) {
	if c == White {
		return g.Black, g.BlackRating
	}
	return g.White, g.WhiteRating
}

// GameRef is a compact reference to a game kept in a MoveStat sample list.
type GameRef struct {
	ID             string
	Opponent       string
	OpponentRating int
	Date           int64 // unix seconds
	Outcome        Outcome
}

// MaxRecentGames bounds MoveStat.Recent.
const MaxRecentGames = 8

// FingerprintCollided marks a row that merged deltas of distinct positions.
const FingerprintCollided uint32 = 0xFFFFFFFF

// MoveStat aggregates one continuation move from one position key.
// A MoveStat built from a single game doubles as the merge delta.
type MoveStat struct {
	Games       uint64
	Wins        uint64
	Draws       uint64
	Losses      uint64
	RatingSum   uint64
	RatedGames  uint64
	Fingerprint uint32
	Recent      []GameRef
}

// AverageOpponentRating returns the mean rating of rated opponents, or 0.
func (s *MoveStat) AverageOpponentRating() int {
	if s.RatedGames == 0 {
		return 0
	}
	return int(s.RatingSum / s.RatedGames)
}

// Add folds o into s. Recent keeps the newest MaxRecentGames entries by date
// (ties broken by id) without duplicate ids.
func (s *MoveStat) Add(o *MoveStat) {
	switch {
	case s.Games == 0 && len(s.Recent) == 0:
		s.Fingerprint = o.Fingerprint
	case o.Games == 0 && len(o.Recent) == 0:
	case s.Fingerprint != o.Fingerprint:
		s.Fingerprint = FingerprintCollided
	}
	s.Games += o.Games
	s.Wins += o.Wins
	s.Draws += o.Draws
	s.Losses += o.Losses
	s.RatingSum += o.RatingSum
	s.RatedGames += o.RatedGames
	s.Recent = MergeRecent(s.Recent, o.Recent)
}

// MergeRecent merges two sample lists newest-first, bounded and deduplicated.
func MergeRecent(a, b []GameRef) []GameRef {
	if len(b) == 0 {
		return a
	}
	out := make([]GameRef, 0, min(len(a)+len(b), MaxRecentGames))
	seen := make(map[string]struct{}, len(a)+len(b))
	i, j := 0, 0
	for len(out) < MaxRecentGames && (i < len(a) || j < len(b)) {
		var next GameRef
		if j >= len(b) || (i < len(a) && newer(a[i], b[j])) {
			next = a[i]
			i++
		} else {
			next = b[j]
			j++
		}
		if _, dup := seen[next.ID]; dup {
			continue
		}
		seen[next.ID] = struct{}{}
		out = append(out, next)
	}
	return out
}

func newer(x, y GameRef) bool {
	if x.Date != y.Date {
		return x.Date > y.Date
	}
	return x.ID < y.ID
}

// Status is the lifecycle state of a player's index.
type Status uint8

const (
	NotStarted Status = iota
	InProgress
	UpToDate
	Failed
)

func (s Status) String() string {
	switch s {
	case InProgress:
		return "in_progress"
	case UpToDate:
		return "up_to_date"
	case Failed:
		return "failed"
	}
	return "not_started"
}

// IndexState is the persisted progress of one (player, color, variant) index.
type IndexState struct {
	Cursor       string // resume token of the page being ingested
	Offset       int    // games of the page at Cursor already folded in
	Status       Status
	Reason       string // failure reason when Status == Failed
	Generation   uint64 // incremented on every successful pass
	GamesIndexed uint64
	UpdatedAt    time.Time
}
