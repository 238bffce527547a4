// Package rules adapts a chess rules engine to the operations the explorer
// needs: parse a setup, play moves, hash positions and list legal moves.
package rules

import (
	"errors"
	"fmt"

	"github.com/freeeve/chessgraph/personal/internal/keys"
	"github.com/freeeve/chessgraph/personal/internal/model"
)

var (
	ErrInvalidFEN         = errors.New("invalid FEN")
	ErrIllegalMove        = errors.New("illegal move")
	ErrUnsupportedVariant = errors.New("unsupported variant")
)

// Position is a mutable board state.
type Position interface {
	// Play applies a move given in UCI or SAN and returns it packed.
	Play(move string) (model.Move, error)
	// PlayMove applies an already packed move.
	PlayMove(mv model.Move) error
	// Hash is equal for transpositions of the same position.
	Hash() keys.PositionHash
	// Fingerprint is an independent short hash used to detect Hash collisions.
	Fingerprint() uint32
	Turn() model.Color
	LegalMoves() []model.Move
	SAN(mv model.Move) string
	FEN() string
	Clone() (Position, error)
}

// Engine creates positions for one variant.
type Engine interface {
	Variant() model.Variant
	// Setup parses fen, or returns the variant's start when fen is empty.
	Setup(fen string) (Position, error)
}

// Registry maps variants to engines.
type Registry struct {
	engines map[model.Variant]Engine
}

// NewRegistry returns a registry holding the given engines.
func NewRegistry(engines ...Engine) *Registry {
	r := &Registry{engines: make(map[model.Variant]Engine, len(engines))}
	for _, e := range engines {
		r.engines[e.Variant()] = e
	}
	return r
}

// Default returns the engines backed by the pgn library.
func Default() *Registry {
	return NewRegistry(NewStandard())
}

// For returns the engine of v.
func (r *Registry) For(v model.Variant) (Engine, error) {
	if e, ok := r.engines[v]; ok {
		return e, nil
	}
	return nil, fmt.Errorf("%w: %s", ErrUnsupportedVariant, v)
}
