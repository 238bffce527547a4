package httpapi

import (
	"time"

	"github.com/freeeve/chessgraph/personal/internal/eco"
	"github.com/freeeve/chessgraph/personal/internal/indexer"
	"github.com/freeeve/chessgraph/personal/internal/model"
	"github.com/freeeve/chessgraph/personal/internal/query"
)

// PersonalResponse is the JSON-friendly response for a position query.
type PersonalResponse struct {
	FEN     string         `json:"fen"`
	Opening *eco.Opening   `json:"opening,omitempty"`
	Index   string         `json:"index"` // status of the player's index
	Games   uint64         `json:"games"`
	Wins    uint64         `json:"wins"`
	Draws   uint64         `json:"draws"`
	Losses  uint64         `json:"losses"`
	Moves   []MoveResponse `json:"moves"`
}

type MoveResponse struct {
	SAN                   string         `json:"san"`
	UCI                   string         `json:"uci"`
	Games                 uint64         `json:"games"`
	Wins                  uint64         `json:"wins"`
	Draws                 uint64         `json:"draws"`
	Losses                uint64         `json:"losses"`
	WinPct                float64        `json:"win_pct,omitempty"` // 0-100
	AverageOpponentRating int            `json:"average_opponent_rating,omitempty"`
	RecentGames           []GameResponse `json:"recent_games,omitempty"`
}

type GameResponse struct {
	ID       string `json:"id"`
	Opponent string `json:"opponent"`
	Rating   int    `json:"opponent_rating,omitempty"`
	Date     string `json:"date,omitempty"`
	Result   string `json:"result"`
}

// IndexResponse reports the state of one player index.
type IndexResponse struct {
	Player       string    `json:"player"`
	Color        string    `json:"color"`
	Variant      string    `json:"variant"`
	Status       string    `json:"status"`
	Reason       string    `json:"reason,omitempty"`
	Generation   uint64    `json:"generation"`
	GamesIndexed uint64    `json:"games_indexed"`
	UpdatedAt    time.Time `json:"updated_at,omitempty"`
}

type JobResponse struct {
	ID      string    `json:"id"`
	Player  string    `json:"player"`
	Color   string    `json:"color"`
	Variant string    `json:"variant"`
	Started time.Time `json:"started"`
}

type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}

// ToPersonalResponse converts a query result to its JSON form.
func ToPersonalResponse(res *query.Result, status model.Status) *PersonalResponse {
	resp := &PersonalResponse{
		FEN:     res.FEN,
		Opening: res.Opening,
		Index:   status.String(),
		Games:   res.Total.Games,
		Wins:    res.Total.Wins,
		Draws:   res.Total.Draws,
		Losses:  res.Total.Losses,
		Moves:   make([]MoveResponse, 0, len(res.Moves)),
	}
	for _, m := range res.Moves {
		mr := MoveResponse{
			SAN:                   m.SAN,
			UCI:                   m.UCI,
			Games:                 m.Games,
			Wins:                  m.Wins,
			Draws:                 m.Draws,
			Losses:                m.Losses,
			AverageOpponentRating: m.AverageOpponentRating,
		}
		if m.Games > 0 {
			mr.WinPct = float64(m.Wins) / float64(m.Games) * 100
		}
		for _, g := range m.Recent {
			gr := GameResponse{ID: g.ID, Opponent: g.Opponent, Rating: g.OpponentRating, Result: g.Outcome.String()}
			if g.Date > 0 {
				gr.Date = time.Unix(g.Date, 0).UTC().Format("2006-01-02")
			}
			mr.RecentGames = append(mr.RecentGames, gr)
		}
		resp.Moves = append(resp.Moves, mr)
	}
	return resp
}

// toIndexResponse converts a persisted index state.
func toIndexResponse(t target, st *model.IndexState) *IndexResponse {
	return &IndexResponse{
		Player:       string(t.player),
		Color:        t.color.String(),
		Variant:      t.variant.String(),
		Status:       st.Status.String(),
		Reason:       st.Reason,
		Generation:   st.Generation,
		GamesIndexed: st.GamesIndexed,
		UpdatedAt:    st.UpdatedAt,
	}
}

func toJobResponses(jobs []indexer.Job) []JobResponse {
	out := make([]JobResponse, 0, len(jobs))
	for _, j := range jobs {
		out = append(out, JobResponse{
			ID:      j.ID,
			Player:  string(j.Player),
			Color:   j.Color.String(),
			Variant: j.Variant.String(),
			Started: j.Started,
		})
	}
	return out
}
