package source

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/freeeve/chessgraph/personal/internal/model"
)

const archiveSchema = `
CREATE TABLE IF NOT EXISTS games (
	seq          INTEGER PRIMARY KEY AUTOINCREMENT,
	game_id      TEXT NOT NULL UNIQUE,
	white        TEXT NOT NULL,
	black        TEXT NOT NULL,
	white_key    TEXT NOT NULL,
	black_key    TEXT NOT NULL,
	white_rating INTEGER NOT NULL DEFAULT 0,
	black_rating INTEGER NOT NULL DEFAULT 0,
	result       TEXT NOT NULL,
	variant      TEXT NOT NULL,
	initial_fen  TEXT NOT NULL DEFAULT '',
	played_at    INTEGER NOT NULL DEFAULT 0,
	moves        TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS games_white ON games (white_key, seq);
CREATE INDEX IF NOT EXISTS games_black ON games (black_key, seq);
`

// Archive is a SQLite game archive. Games are served in insertion order and
// the cursor is the sequence number of the last game already returned.
type Archive struct {
	db       *sql.DB
	pageSize int
}

// OpenArchive opens (creating if needed) the archive at dsn.
func OpenArchive(dsn string, pageSize int) (*Archive, error) {
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("open archive: %w", err)
	}
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enable WAL mode: %w", err)
	}
	if _, err := db.Exec(archiveSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("create archive schema: %w", err)
	}
	if pageSize <= 0 {
		pageSize = DefaultPageSize
	}
	return &Archive{db: db, pageSize: pageSize}, nil
}

// Insert stores games in one transaction. Games whose id is already present
// are ignored. It returns the number of new rows.
func (a *Archive) Insert(ctx context.Context, games []*model.GameRecord) (int, error) {
	tx, err := a.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin insert: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `INSERT OR IGNORE INTO games (
		game_id, white, black, white_key, black_key, white_rating, black_rating,
		result, variant, initial_fen, played_at, moves
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return 0, fmt.Errorf("prepare insert: %w", err)
	}
	defer stmt.Close()

	inserted := 0
	for _, g := range games {
		var played int64
		if !g.PlayedAt.IsZero() {
			played = g.PlayedAt.Unix()
		}
		res, err := stmt.ExecContext(ctx,
			g.ID, g.White, g.Black, strings.ToLower(g.White), strings.ToLower(g.Black),
			g.WhiteRating, g.BlackRating,
			g.Result.String(), g.Variant.String(), g.InitialFEN, played, strings.Join(g.Moves, " "),
		)
		if err != nil {
			return 0, fmt.Errorf("insert game %s: %w", g.ID, err)
		}
		if n, _ := res.RowsAffected(); n > 0 {
			inserted++
		}
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit insert: %w", err)
	}
	return inserted, nil
}

func (a *Archive) Fetch(ctx context.Context, player model.PlayerID, cursor string) (Page, error) {
	after, err := parseIntCursor(cursor)
	if err != nil {
		return Page{}, err
	}
	rows, err := a.db.QueryContext(ctx, `SELECT seq, game_id, white, black, white_rating, black_rating,
		result, variant, initial_fen, played_at, moves
		FROM games
		WHERE seq > ? AND (white_key = ? OR black_key = ?)
		ORDER BY seq
		LIMIT ?`, after, string(player), string(player), a.pageSize+1)
	if err != nil {
		return Page{}, fmt.Errorf("%w: query archive: %v", ErrUnavailable, err)
	}
	defer rows.Close()

	page := Page{Next: strconv.FormatInt(after, 10)}
	for rows.Next() {
		if len(page.Games) == a.pageSize {
			page.HasMore = true
			break
		}
		var (
			seq, played            int64
			g                      model.GameRecord
			result, variant, moves string
		)
		if err := rows.Scan(&seq, &g.ID, &g.White, &g.Black, &g.WhiteRating, &g.BlackRating,
			&result, &variant, &g.InitialFEN, &played, &moves); err != nil {
			return Page{}, fmt.Errorf("%w: scan archive row: %v", ErrUnavailable, err)
		}
		g.Result = model.ParseResult(result)
		if g.Variant, err = model.ParseVariant(variant); err != nil {
			g.Result = model.ResultUnknown
		}
		if played > 0 {
			g.PlayedAt = time.Unix(played, 0).UTC()
		}
		g.Moves = strings.Fields(moves)
		page.Games = append(page.Games, &g)
		page.Next = strconv.FormatInt(seq, 10)
	}
	if err := rows.Err(); err != nil {
		return Page{}, fmt.Errorf("%w: read archive: %v", ErrUnavailable, err)
	}
	return page, nil
}

// Count returns the number of archived games.
func (a *Archive) Count(ctx context.Context) (int64, error) {
	var n int64
	err := a.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM games").Scan(&n)
	return n, err
}

func (a *Archive) Close() error {
	return a.db.Close()
}
