package rules

import (
	"fmt"
	"hash/fnv"
	"strings"

	"github.com/cespare/xxhash"
	"github.com/freeeve/pgn/v3"

	"github.com/freeeve/chessgraph/personal/internal/keys"
	"github.com/freeeve/chessgraph/personal/internal/model"
)

// Standard is the standard chess engine backed by github.com/freeeve/pgn.
type Standard struct{}

func NewStandard() *Standard { return &Standard{} }

func (*Standard) Variant() model.Variant { return model.Standard }

func (*Standard) Setup(fen string) (Position, error) {
	fen = strings.TrimSpace(fen)
	if fen == "" {
		return &standardPosition{gs: pgn.NewStartingPosition()}, nil
	}
	gs, err := pgn.NewGame(fen)
	if err != nil || gs == nil {
		return nil, fmt.Errorf("%w: %q: %v", ErrInvalidFEN, fen, err)
	}
	return &standardPosition{gs: gs}, nil
}

type standardPosition struct {
	gs *pgn.GameState
}

func (p *standardPosition) Play(move string) (model.Move, error) {
	mv, err := p.resolve(move)
	if err != nil {
		return 0, err
	}
	if err := pgn.ApplyMove(p.gs, mv); err != nil {
		return 0, fmt.Errorf("%w: %s: %v", ErrIllegalMove, move, err)
	}
	return packMove(mv), nil
}

func (p *standardPosition) PlayMove(m model.Move) error {
	mv, ok := p.find(m)
	if !ok {
		return fmt.Errorf("%w: %s", ErrIllegalMove, m)
	}
	if err := pgn.ApplyMove(p.gs, mv); err != nil {
		return fmt.Errorf("%w: %s: %v", ErrIllegalMove, m, err)
	}
	return nil
}

// resolve turns UCI or SAN text into a legal library move.
func (p *standardPosition) resolve(move string) (pgn.Mv, error) {
	move = strings.TrimSpace(move)
	if model.LooksLikeUCI(move) {
		m, err := model.ParseUCIMove(move)
		if err == nil {
			if mv, ok := p.find(m); ok {
				return mv, nil
			}
		}
	}
	san := strings.TrimRight(move, "+#!?")
	mv, err := pgn.ParseSAN(p.gs, san)
	if err != nil {
		return pgn.Mv{}, fmt.Errorf("%w: %s: %v", ErrIllegalMove, move, err)
	}
	// ParseSAN does not promise legality; confirm against the generator.
	if _, ok := p.find(packMove(mv)); !ok {
		return pgn.Mv{}, fmt.Errorf("%w: %s", ErrIllegalMove, move)
	}
	return mv, nil
}

func (p *standardPosition) find(m model.Move) (pgn.Mv, bool) {
	for _, mv := range pgn.GenerateLegalMoves(p.gs) {
		if packMove(mv) == m {
			return mv, true
		}
	}
	return pgn.Mv{}, false
}

func (p *standardPosition) Hash() keys.PositionHash {
	return keys.PositionHash(xxhash.Sum64([]byte(model.Standard.String() + " " + p.normalized())))
}

func (p *standardPosition) Fingerprint() uint32 {
	h := fnv.New32a()
	_, _ = h.Write([]byte(p.normalized()))
	return h.Sum32()
}

// normalized is the FEN without move clocks, keeping the en passant square
// only when an en passant capture is actually legal.
func (p *standardPosition) normalized() string {
	fields := strings.Fields(p.gs.ToFEN())
	for len(fields) < 4 {
		fields = append(fields, "-")
	}
	board, side, castling, ep := fields[0], fields[1], fields[2], fields[3]
	if ep != "-" && !p.epCapturable(ep) {
		ep = "-"
	}
	return board + " " + side + " " + castling + " " + ep
}

func (p *standardPosition) epCapturable(ep string) bool {
	if len(ep) != 2 || ep[0] < 'a' || ep[0] > 'h' || ep[1] < '1' || ep[1] > '8' {
		return false
	}
	sq := int(ep[1]-'1')*8 + int(ep[0]-'a')
	for _, mv := range pgn.GenerateLegalMoves(p.gs) {
		if int(mv.To) != sq {
			continue
		}
		if piece := p.gs.PieceAt(mv.From); piece == 'P' || piece == 'p' {
			return true
		}
	}
	return false
}

func (p *standardPosition) Turn() model.Color {
	fields := strings.Fields(p.gs.ToFEN())
	if len(fields) > 1 && fields[1] == "b" {
		return model.Black
	}
	return model.White
}

func (p *standardPosition) LegalMoves() []model.Move {
	mvs := pgn.GenerateLegalMoves(p.gs)
	out := make([]model.Move, 0, len(mvs))
	for _, mv := range mvs {
		out = append(out, packMove(mv))
	}
	return out
}

func (p *standardPosition) FEN() string {
	return p.gs.ToFEN()
}

func (p *standardPosition) Clone() (Position, error) {
	gs, err := pgn.NewGame(p.gs.ToFEN())
	if err != nil {
		return nil, fmt.Errorf("%w: clone: %v", ErrInvalidFEN, err)
	}
	return &standardPosition{gs: gs}, nil
}

// SAN renders a legal move in standard algebraic notation, or UCI if the
// move is not legal here.
func (p *standardPosition) SAN(m model.Move) string {
	mv, ok := p.find(m)
	if !ok {
		return m.UCI()
	}
	return sanOf(p.gs, mv)
}

// PackMove converts a pgn library move to the stored move encoding.
func PackMove(mv pgn.Mv) model.Move {
	return packMove(mv)
}

func packMove(mv pgn.Mv) model.Move {
	var promo byte
	switch mv.Promo {
	case pgn.PromoQueen:
		promo = model.PromoQueen
	case pgn.PromoRook:
		promo = model.PromoRook
	case pgn.PromoBishop:
		promo = model.PromoBishop
	case pgn.PromoKnight:
		promo = model.PromoKnight
	}
	return model.EncodeMove(int(mv.From), int(mv.To), promo)
}

const (
	flagEnPassant = 2
	flagCastle    = 4
)

func sanOf(pos *pgn.GameState, mv pgn.Mv) string {
	if mv.Flags == flagCastle {
		if mv.To > mv.From {
			return "O-O"
		}
		return "O-O-O"
	}

	const files, ranks = "abcdefgh", "12345678"
	fromSq, toSq := int(mv.From), int(mv.To)
	fromFile, toFile, toRank := fromSq%8, toSq%8, toSq/8

	piece := pos.PieceAt(mv.From)
	isPawn := piece == 'P' || piece == 'p'
	isCapture := pos.PieceAt(mv.To) != 0 || (isPawn && mv.Flags == flagEnPassant)

	var b strings.Builder
	if isPawn {
		if isCapture {
			b.WriteByte(files[fromFile])
			b.WriteByte('x')
		}
		b.WriteByte(files[toFile])
		b.WriteByte(ranks[toRank])
		if promo := packMove(mv).Promotion(); promo != model.PromoNone {
			b.WriteByte('=')
			b.WriteByte("QRBN"[promo-1])
		}
	} else {
		upper := byte(piece)
		if upper >= 'a' && upper <= 'z' {
			upper -= 'a' - 'A'
		}
		b.WriteByte(upper)
		b.WriteString(disambiguation(pos, mv, upper))
		if isCapture {
			b.WriteByte('x')
		}
		b.WriteByte(files[toFile])
		b.WriteByte(ranks[toRank])
	}

	if next, err := pgn.NewGame(pos.ToFEN()); err == nil {
		if err := pgn.ApplyMove(next, mv); err == nil && next.IsInCheck() {
			if len(pgn.GenerateLegalMoves(next)) == 0 {
				b.WriteByte('#')
			} else {
				b.WriteByte('+')
			}
		}
	}
	return b.String()
}

func disambiguation(pos *pgn.GameState, mv pgn.Mv, upper byte) string {
	const files, ranks = "abcdefgh", "12345678"
	fromSq := int(mv.From)
	sameFile, sameRank, clash := false, false, false
	for _, other := range pgn.GenerateLegalMoves(pos) {
		if other.To != mv.To || other.From == mv.From {
			continue
		}
		op := byte(pos.PieceAt(other.From))
		if op >= 'a' && op <= 'z' {
			op -= 'a' - 'A'
		}
		if op != upper {
			continue
		}
		clash = true
		if int(other.From)%8 == fromSq%8 {
			sameFile = true
		}
		if int(other.From)/8 == fromSq/8 {
			sameRank = true
		}
	}
	switch {
	case !clash:
		return ""
	case !sameFile:
		return string(files[fromSq%8])
	case !sameRank:
		return string(ranks[fromSq/8])
	}
	return string(files[fromSq%8]) + string(ranks[fromSq/8])
}
