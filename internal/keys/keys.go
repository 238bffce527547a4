// Package keys encodes personal explorer keys into ordered byte strings.
//
// Counter keys:
//
//	'c' | len(player) | player | color | variant | hash[8] | move[2]
//
// Index state keys:
//
//	's' | len(player) | player | color | variant
//
// Fixing everything up to the hash groups every continuation of a position
// contiguously. The length prefix keeps one player's range from interleaving
// with another player whose id shares a prefix.
package keys

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/freeeve/chessgraph/personal/internal/model"
)

// Namespace bytes; they double as the store partition ids.
const (
	NamespaceCounters   byte = 'c'
	NamespaceIndexState byte = 's'
)

const (
	HashSize = 8
	moveSize = 2
)

var ErrMalformedKey = errors.New("malformed key")

// PositionHash is a transposition-invariant 64-bit position hash.
type PositionHash uint64

// PositionKey identifies a player's games, as a color, in a variant, that
// reached a position.
type PositionKey struct {
	Player  model.PlayerID
	Color   model.Color
	Variant model.Variant
	Hash    PositionHash
}

func appendPOV(dst []byte, ns byte, player model.PlayerID, color model.Color, variant model.Variant) []byte {
	dst = append(dst, ns, byte(len(player)))
	dst = append(dst, player...)
	return append(dst, byte(color), byte(variant))
}

// Prefix returns the scan prefix covering every continuation of k.
func (k PositionKey) Prefix() []byte {
	buf := make([]byte, 0, 3+len(k.Player)+HashSize+moveSize)
	buf = appendPOV(buf, NamespaceCounters, k.Player, k.Color, k.Variant)
	return binary.BigEndian.AppendUint64(buf, uint64(k.Hash))
}

// Counter returns the counter key for continuation mv from k.
func (k PositionKey) Counter(mv model.Move) []byte {
	return binary.BigEndian.AppendUint16(k.Prefix(), uint16(mv))
}

// DecodeCounter recovers the position key and continuation of a counter key.
func DecodeCounter(key []byte) (PositionKey, model.Move, error) {
	var k PositionKey
	rest, err := decodePOV(key, NamespaceCounters, &k.Player, &k.Color, &k.Variant)
	if err != nil {
		return k, 0, err
	}
	if len(rest) != HashSize+moveSize {
		return k, 0, fmt.Errorf("%w: counter key tail is %d bytes", ErrMalformedKey, len(rest))
	}
	k.Hash = PositionHash(binary.BigEndian.Uint64(rest))
	return k, model.Move(binary.BigEndian.Uint16(rest[HashSize:])), nil
}

// IndexState returns the index-state key of (player, color, variant).
func IndexState(player model.PlayerID, color model.Color, variant model.Variant) []byte {
	buf := make([]byte, 0, 3+len(player))
	return appendPOV(buf, NamespaceIndexState, player, color, variant)
}

// DecodeIndexState is the inverse of IndexState.
func DecodeIndexState(key []byte) (model.PlayerID, model.Color, model.Variant, error) {
	var (
		p model.PlayerID
		c model.Color
		v model.Variant
	)
	rest, err := decodePOV(key, NamespaceIndexState, &p, &c, &v)
	if err != nil {
		return p, c, v, err
	}
	if len(rest) != 0 {
		return p, c, v, fmt.Errorf("%w: %d trailing bytes", ErrMalformedKey, len(rest))
	}
	return p, c, v, nil
}

// PlayerPrefix returns the prefix covering all counters of one
// (player, color, variant).
func PlayerPrefix(player model.PlayerID, color model.Color, variant model.Variant) []byte {
	return appendPOV(nil, NamespaceCounters, player, color, variant)
}

func decodePOV(key []byte, ns byte, p *model.PlayerID, c *model.Color, v *model.Variant) ([]byte, error) {
	if len(key) < 2 || key[0] != ns {
		return nil, fmt.Errorf("%w: bad namespace", ErrMalformedKey)
	}
	n := int(key[1])
	if n == 0 || len(key) < 2+n+2 {
		return nil, fmt.Errorf("%w: truncated player", ErrMalformedKey)
	}
	*p = model.PlayerID(key[2 : 2+n])
	color, variant := model.Color(key[2+n]), model.Variant(key[3+n])
	if color > model.Black || !variant.Valid() {
		return nil, fmt.Errorf("%w: bad color/variant", ErrMalformedKey)
	}
	*c, *v = color, variant
	return key[4+n:], nil
}
