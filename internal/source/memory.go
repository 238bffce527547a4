package source

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/freeeve/chessgraph/personal/internal/model"
)

// Memory serves games held in memory. The cursor is the index of the next
// game in the player's list.
type Memory struct {
	mu       sync.RWMutex
	games    map[model.PlayerID][]*model.GameRecord
	pageSize int

	fetches atomic.Int64
	failN   atomic.Int64
}

// NewMemory returns an empty source serving pageSize games per page.
func NewMemory(pageSize int) *Memory {
	if pageSize <= 0 {
		pageSize = DefaultPageSize
	}
	return &Memory{games: make(map[model.PlayerID][]*model.GameRecord), pageSize: pageSize}
}

// Add appends games to the history of every player taking part in them.
func (m *Memory) Add(games ...*model.GameRecord) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, g := range games {
		names := []string{g.White}
		if !model.PlayerID(strings.ToLower(g.White)).Is(g.Black) {
			names = append(names, g.Black)
		}
		for _, name := range names {
			p, err := model.ParsePlayerID(name)
			if err != nil {
				continue
			}
			m.games[p] = append(m.games[p], g)
		}
	}
}

// FailNext makes the next n fetches return ErrUnavailable.
func (m *Memory) FailNext(n int) {
	m.failN.Store(int64(n))
}

// Fetches returns the number of Fetch calls served so far.
func (m *Memory) Fetches() int64 {
	return m.fetches.Load()
}

func (m *Memory) Fetch(ctx context.Context, player model.PlayerID, cursor string) (Page, error) {
	m.fetches.Add(1)
	if err := ctx.Err(); err != nil {
		return Page{}, err
	}
	if m.failN.Load() > 0 && m.failN.Add(-1) >= 0 {
		return Page{}, fmt.Errorf("%w: injected failure", ErrUnavailable)
	}
	start, err := parseIntCursor(cursor)
	if err != nil {
		return Page{}, err
	}

	m.mu.RLock()
	defer m.mu.RUnlock()
	all := m.games[player]
	if int(start) > len(all) {
		start = int64(len(all))
	}
	end := min(int(start)+m.pageSize, len(all))
	page := Page{
		Games:   append([]*model.GameRecord(nil), all[start:end]...),
		Next:    strconv.Itoa(end),
		HasMore: end < len(all),
	}
	return page, nil
}
