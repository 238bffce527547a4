// Package source provides the game feeds the indexer pulls a player's
// history from. Every source returns games in a stable forward order behind
// an opaque cursor, and fetching the same cursor twice yields the same page.
package source

import (
	"context"
	"errors"
	"strconv"

	"github.com/freeeve/chessgraph/personal/internal/model"
)

// ErrUnavailable wraps failures of the underlying feed (network, disk, db).
var ErrUnavailable = errors.New("game source unavailable")

// DefaultPageSize is used by sources whose Config leaves PageSize at zero.
const DefaultPageSize = 100

// Page is one batch of games.
type Page struct {
	Games   []*model.GameRecord
	Next    string // cursor of the following page
	HasMore bool
}

// Source fetches a player's games after cursor. The empty cursor is the
// beginning of the player's history.
type Source interface {
	Fetch(ctx context.Context, player model.PlayerID, cursor string) (Page, error)
}

func parseIntCursor(cursor string) (int64, error) {
	if cursor == "" {
		return 0, nil
	}
	n, err := strconv.ParseInt(cursor, 10, 64)
	if err != nil || n < 0 {
		return 0, errors.New("invalid cursor " + strconv.Quote(cursor))
	}
	return n, nil
}
