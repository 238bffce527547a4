package source

import (
	"context"
	"fmt"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/freeeve/pgn/v3"
	"github.com/rs/zerolog"

	"github.com/freeeve/chessgraph/personal/internal/model"
	"github.com/freeeve/chessgraph/personal/internal/rules"
)

// ReadPGN streams the games of a PGN file (plain or .zst) to fn in file
// order. Returning an error from fn stops the parser.
func ReadPGN(ctx context.Context, path string, fn func(*model.GameRecord) error) error {
	parser := pgn.Games(path)
	base := filepath.Base(path)
	seq := 0

	for game := range parser.Games {
		if err := ctx.Err(); err != nil {
			parser.Stop()
			return err
		}
		seq++
		if err := fn(GameFromPGN(game, fmt.Sprintf("%s#%d", base, seq))); err != nil {
			parser.Stop()
			return err
		}
	}
	if err := parser.Err(); err != nil {
		return fmt.Errorf("%w: parse %s: %v", ErrUnavailable, path, err)
	}
	return nil
}

// LoadPGN reads a PGN file into a Memory source.
func LoadPGN(ctx context.Context, path string, pageSize int, log zerolog.Logger) (*Memory, error) {
	m := NewMemory(pageSize)
	n := 0
	err := ReadPGN(ctx, path, func(g *model.GameRecord) error {
		m.Add(g)
		n++
		return nil
	})
	if err != nil {
		return nil, err
	}
	log.Info().Str("path", path).Int("games", n).Msg("pgn source loaded")
	return m, nil
}

// GameFromPGN converts a parsed game. fallbackID is used when the tags carry
// no game id.
func GameFromPGN(game *pgn.Game, fallbackID string) *model.GameRecord {
	tags := game.Tags
	g := &model.GameRecord{
		ID:          gameID(tags, fallbackID),
		White:       tags["White"],
		Black:       tags["Black"],
		WhiteRating: parseRating(tags["WhiteElo"]),
		BlackRating: parseRating(tags["BlackElo"]),
		Result:      model.ParseResult(tags["Result"]),
		InitialFEN:  tags["FEN"],
		PlayedAt:    playedAt(tags),
		Moves:       make([]string, 0, len(game.Moves)),
	}
	if v, err := model.ParseVariant(variantKey(tags["Variant"])); err == nil {
		g.Variant = v
	} else {
		// Unknown variants must never be folded into standard counters.
		g.Result = model.ResultUnknown
	}
	for _, mv := range game.Moves {
		g.Moves = append(g.Moves, rules.PackMove(mv).UCI())
	}
	return g
}

func gameID(tags map[string]string, fallback string) string {
	if id := tags["GameId"]; id != "" {
		return id
	}
	// Lichess exports put the game url in Site.
	if site := tags["Site"]; strings.HasPrefix(site, "http") {
		if i := strings.LastIndexByte(site, '/'); i >= 0 && i < len(site)-1 {
			return site[i+1:]
		}
	}
	return fallback
}

func variantKey(tag string) string {
	return strings.NewReplacer(" ", "", "-", "").Replace(tag)
}

func playedAt(tags map[string]string) time.Time {
	date := tags["UTCDate"]
	if date == "" {
		date = tags["Date"]
	}
	if t, err := time.Parse("2006.01.02 15:04:05", date+" "+tags["UTCTime"]); err == nil {
		return t
	}
	if t, err := time.Parse("2006.01.02", date); err == nil {
		return t
	}
	return time.Time{}
}

func parseRating(s string) int {
	if s == "" || s == "?" || s == "-" {
		return 0
	}
	r, _ := strconv.Atoi(s)
	return r
}
