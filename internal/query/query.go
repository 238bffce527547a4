// Package query answers "what did this player play from here" by scanning
// the counter rows of one position and ranking the continuations.
package query

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/rs/zerolog"

	"github.com/freeeve/chessgraph/personal/internal/eco"
	"github.com/freeeve/chessgraph/personal/internal/keys"
	"github.com/freeeve/chessgraph/personal/internal/model"
	"github.com/freeeve/chessgraph/personal/internal/rules"
	"github.com/freeeve/chessgraph/personal/internal/store"
)

// ErrInvalidPosition is returned for a malformed root FEN or an illegal
// played move. It wraps the rules error.
var ErrInvalidPosition = errors.New("invalid position")

// Config configures the query engine.
type Config struct {
	Store  store.Store
	Rules  *rules.Registry
	ECO    *eco.Database // optional
	Logger zerolog.Logger
}

// Engine runs position queries.
type Engine struct {
	cfg Config
	log zerolog.Logger
}

// New creates a query engine.
func New(cfg Config) *Engine {
	if cfg.Rules == nil {
		cfg.Rules = rules.Default()
	}
	return &Engine{cfg: cfg, log: cfg.Logger.With().Str("component", "query").Logger()}
}

// Request selects a position: the root FEN (empty for the variant start)
// followed by played moves in UCI (SAN is accepted).
type Request struct {
	Player  model.PlayerID
	Color   model.Color
	Variant model.Variant
	RootFEN string
	Played  []string
}

// MoveResult is the aggregate of one continuation.
type MoveResult struct {
	UCI                   string          `json:"uci"`
	SAN                   string          `json:"san"`
	Games                 uint64          `json:"games"`
	Wins                  uint64          `json:"wins"`
	Draws                 uint64          `json:"draws"`
	Losses                uint64          `json:"losses"`
	AverageOpponentRating int             `json:"averageOpponentRating,omitempty"`
	Recent                []model.GameRef `json:"-"`
}

// Totals sums every returned continuation.
type Totals struct {
	Games  uint64 `json:"games"`
	Wins   uint64 `json:"wins"`
	Draws  uint64 `json:"draws"`
	Losses uint64 `json:"losses"`
}

// Result is the ranked statistics of one position.
type Result struct {
	FEN     string       `json:"fen"`
	Opening *eco.Opening `json:"opening,omitempty"`
	Moves   []MoveResult `json:"moves"`
	Total   Totals       `json:"total"`
	// Discarded counts rows dropped by the fingerprint or legality checks.
	Discarded int `json:"-"`
}

// Query replays the request to its target position and returns the player's
// continuations, most played first (ties by ascending UCI).
func (e *Engine) Query(ctx context.Context, req Request) (*Result, error) {
	if err := req.Player.Validate(); err != nil {
		return nil, err
	}
	engine, err := e.cfg.Rules.For(req.Variant)
	if err != nil {
		return nil, err
	}
	pos, err := engine.Setup(req.RootFEN)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidPosition, err)
	}
	for i, m := range req.Played {
		if _, err := pos.Play(m); err != nil {
			return nil, fmt.Errorf("%w: move %d: %w", ErrInvalidPosition, i+1, err)
		}
	}

	pk := keys.PositionKey{Player: req.Player, Color: req.Color, Variant: req.Variant, Hash: pos.Hash()}
	fp := pos.Fingerprint()
	legal := make(map[model.Move]struct{})
	for _, mv := range pos.LegalMoves() {
		legal[mv] = struct{}{}
	}

	res := &Result{FEN: pos.FEN(), Moves: []MoveResult{}}
	if e.cfg.ECO != nil && req.Variant == model.Standard {
		res.Opening = e.cfg.ECO.LookupPosition(pos)
	}

	it := e.cfg.Store.Scan(store.Counters, pk.Prefix())
	defer it.Close()
	for row := it.Next(); row != nil; row = it.Next() {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		_, mv, err := keys.DecodeCounter(row.Key)
		if err != nil {
			return nil, err
		}
		st, err := store.DecodeMoveStat(row.Value)
		if err != nil {
			return nil, fmt.Errorf("decode %s: %w", mv, err)
		}
		if st.Fingerprint != fp {
			e.log.Warn().
				Str("player", string(req.Player)).
				Str("fen", res.FEN).
				Str("move", mv.UCI()).
				Uint32("want", fp).
				Uint32("got", st.Fingerprint).
				Msg("position hash collision, row ignored")
			res.Discarded++
			continue
		}
		if _, ok := legal[mv]; !ok {
			e.log.Debug().Str("fen", res.FEN).Str("move", mv.UCI()).Msg("stale row with illegal move ignored")
			res.Discarded++
			continue
		}
		res.Moves = append(res.Moves, MoveResult{
			UCI:                   mv.UCI(),
			SAN:                   pos.SAN(mv),
			Games:                 st.Games,
			Wins:                  st.Wins,
			Draws:                 st.Draws,
			Losses:                st.Losses,
			AverageOpponentRating: st.AverageOpponentRating(),
			Recent:                st.Recent,
		})
	}
	if err := it.Err(); err != nil {
		return nil, err
	}

	sort.Slice(res.Moves, func(i, j int) bool {
		a, b := res.Moves[i], res.Moves[j]
		if a.Games != b.Games {
			return a.Games > b.Games
		}
		return a.UCI < b.UCI
	})
	for _, m := range res.Moves {
		res.Total.Games += m.Games
		res.Total.Wins += m.Wins
		res.Total.Draws += m.Draws
		res.Total.Losses += m.Losses
	}
	return res, nil
}
