package model

import "fmt"

// Move encoding (uint16):
//   bits 0-5:   from square (0-63)
//   bits 6-11:  to square (0-63)
//   bits 12-14: promotion piece (0=none, 1=Q, 2=R, 3=B, 4=N)
//   bit 15:     reserved
type Move uint16

const (
	moveFromMask   = 0x3F   // bits 0-5
	moveToMask     = 0xFC0  // bits 6-11
	movePromoMask  = 0x7000 // bits 12-14
	movePromoShift = 12
	moveToShift    = 6
)

// Promotion piece types
const (
	PromoNone   = 0
	PromoQueen  = 1
	PromoRook   = 2
	PromoBishop = 3
	PromoKnight = 4
)

// EncodeMove creates a Move from square indices and optional promotion.
// from, to: square indices 0-63 (A1=0, B1=1, ..., H8=63)
func EncodeMove(from, to int, promo byte) Move {
	if from < 0 || from > 63 || to < 0 || to > 63 || promo > PromoKnight {
		return 0
	}
	return Move(uint16(from) | uint16(to)<<moveToShift | uint16(promo)<<movePromoShift)
}

// FromSquare returns the source square index (0-63).
func (m Move) FromSquare() int {
	return int(m & moveFromMask)
}

// ToSquare returns the destination square index (0-63).
func (m Move) ToSquare() int {
	return int((m & moveToMask) >> moveToShift)
}

// Promotion returns the promotion piece (0=none, 1=Q, 2=R, 3=B, 4=N).
func (m Move) Promotion() byte {
	return byte((m & movePromoMask) >> movePromoShift)
}

// UCI converts a Move to UCI notation (e.g., "e2e4", "e7e8q").
func (m Move) UCI() string {
	from := m.FromSquare()
	to := m.ToSquare()

	b := []byte{
		byte('a' + from%8), byte('1' + from/8),
		byte('a' + to%8), byte('1' + to/8),
	}
	if p := m.Promotion(); p > 0 && p <= PromoKnight {
		b = append(b, "qrbn"[p-1])
	}
	return string(b)
}

func (m Move) String() string {
	return m.UCI()
}

// ParseUCIMove parses a UCI move string into a Move.
// Examples: "e2e4", "e7e8q", "a1h8"
func ParseUCIMove(uci string) (Move, error) {
	if len(uci) != 4 && len(uci) != 5 {
		return 0, fmt.Errorf("bad UCI move length: %q", uci)
	}

	fromFile := int(uci[0]) - 'a'
	fromRank := int(uci[1]) - '1'
	toFile := int(uci[2]) - 'a'
	toRank := int(uci[3]) - '1'

	if fromFile < 0 || fromFile > 7 || fromRank < 0 || fromRank > 7 {
		return 0, fmt.Errorf("invalid from square in UCI: %q", uci)
	}
	if toFile < 0 || toFile > 7 || toRank < 0 || toRank > 7 {
		return 0, fmt.Errorf("invalid to square in UCI: %q", uci)
	}

	var promo byte = PromoNone
	if len(uci) == 5 {
		switch uci[4] {
		case 'q', 'Q':
			promo = PromoQueen
		case 'r', 'R':
			promo = PromoRook
		case 'b', 'B':
			promo = PromoBishop
		case 'n', 'N':
			promo = PromoKnight
		default:
			return 0, fmt.Errorf("invalid promotion piece: %c", uci[4])
		}
	}

	return EncodeMove(fromRank*8+fromFile, toRank*8+toFile, promo), nil
}

// LooksLikeUCI reports whether s has the shape of a UCI move.
func LooksLikeUCI(s string) bool {
	if len(s) != 4 && len(s) != 5 {
		return false
	}
	for i, r := range []byte(s[:4]) {
		if i%2 == 0 && (r < 'a' || r > 'h') {
			return false
		}
		if i%2 == 1 && (r < '1' || r > '8') {
			return false
		}
	}
	return true
}
