package ingest

import (
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/freeeve/chessgraph/personal/internal/keys"
	"github.com/freeeve/chessgraph/personal/internal/model"
	"github.com/freeeve/chessgraph/personal/internal/rules"
	"github.com/freeeve/chessgraph/personal/internal/store"
)

// ErrSkipped marks games that contribute nothing to an index.
var ErrSkipped = errors.New("game skipped")

// Config configures the ingester.
type Config struct {
	Rules  *rules.Registry
	MaxPly int // stop replay after this many plies (0 = whole game)
	Logger zerolog.Logger
}

// Delta is one counter update produced by replaying a game.
type Delta struct {
	Key  []byte
	Stat model.MoveStat
}

// Ingester turns games into counter deltas.
type Ingester struct {
	cfg Config
	log zerolog.Logger
}

// New creates an ingester.
func New(cfg Config) *Ingester {
	if cfg.Rules == nil {
		cfg.Rules = rules.Default()
	}
	return &Ingester{cfg: cfg, log: cfg.Logger}
}

// Ingest replays game and returns one delta for every distinct position in
// which it was color's turn, keyed by the move color played there.
// Games the player did not play as color, games of another variant and
// unfinished games return ErrSkipped.
func (in *Ingester) Ingest(player model.PlayerID, color model.Color, variant model.Variant, game *model.GameRecord) ([]Delta, error) {
	if game.Variant != variant {
		return nil, fmt.Errorf("%w: variant %s", ErrSkipped, game.Variant)
	}
	if c, ok := game.ColorOf(player); !ok || c != color {
		return nil, fmt.Errorf("%w: %s did not play %s", ErrSkipped, player, color)
	}
	outcome := game.Result.For(color)
	if outcome == model.OutcomeNone {
		return nil, fmt.Errorf("%w: no result", ErrSkipped)
	}

	engine, err := in.cfg.Rules.For(variant)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSkipped, err)
	}
	pos, err := engine.Setup(game.InitialFEN)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSkipped, err)
	}

	template := newStat(game, color, outcome)
	seen := make(map[keys.PositionHash]struct{})
	var deltas []Delta

	for ply, san := range game.Moves {
		if in.cfg.MaxPly > 0 && ply >= in.cfg.MaxPly {
			break
		}
		ours := pos.Turn() == color
		var pk keys.PositionKey
		var fp uint32
		if ours {
			pk = keys.PositionKey{Player: player, Color: color, Variant: variant, Hash: pos.Hash()}
			fp = pos.Fingerprint()
		}

		mv, err := pos.Play(san)
		if err != nil {
			in.log.Debug().Err(err).Str("game", game.ID).Int("ply", ply).Msg("replay stopped at illegal move")
			break
		}
		if !ours {
			continue
		}
		// Repetitions count once per game.
		if _, dup := seen[pk.Hash]; dup {
			continue
		}
		seen[pk.Hash] = struct{}{}

		d := Delta{Key: pk.Counter(mv), Stat: template}
		d.Stat.Fingerprint = fp
		deltas = append(deltas, d)
	}
	return deltas, nil
}

// Apply adds deltas to b.
func Apply(b *store.Batch, deltas []Delta) {
	for i := range deltas {
		b.Merge(deltas[i].Key, &deltas[i].Stat)
	}
}

func newStat(game *model.GameRecord, color model.Color, outcome model.Outcome) model.MoveStat {
	opp, rating := game.Opponent(color)
	st := model.MoveStat{Games: 1}
	switch outcome {
	case model.Win:
		st.Wins = 1
	case model.DrawOutcome:
		st.Draws = 1
	case model.Loss:
		st.Losses = 1
	}
	if rating > 0 {
		st.RatingSum = uint64(rating)
		st.RatedGames = 1
	}
	var date int64
	if !game.PlayedAt.IsZero() {
		date = game.PlayedAt.Unix()
	}
	st.Recent = []model.GameRef{{
		ID:             game.ID,
		Opponent:       opp,
		OpponentRating: rating,
		Date:           date,
		Outcome:        outcome,
	}}
	return st
}
