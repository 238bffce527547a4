package source

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/freeeve/chessgraph/personal/internal/model"
)

// LichessConfig configures the Lichess game export source.
type LichessConfig struct {
	BaseURL  string // default https://lichess.org
	Token    string // optional personal API token
	PageSize int
	Client   *http.Client
}

// Lichess pulls games from the Lichess NDJSON export API. The export's since
// filter is inclusive at millisecond precision, so the cursor carries the
// creation time (unix millis) of the last game returned together with the ids
// of the games already returned at that instant: "<millis>[:<id>,<id>...]".
type Lichess struct {
	cfg LichessConfig
}

type lichessCursor struct {
	since int64
	seen  []string
}

func parseLichessCursor(s string) (lichessCursor, error) {
	ts, ids, _ := strings.Cut(s, ":")
	since, err := parseIntCursor(ts)
	if err != nil {
		return lichessCursor{}, err
	}
	c := lichessCursor{since: since}
	if ids != "" {
		c.seen = strings.Split(ids, ",")
	}
	return c, nil
}

func (c lichessCursor) String() string {
	s := strconv.FormatInt(c.since, 10)
	if len(c.seen) > 0 {
		s += ":" + strings.Join(c.seen, ",")
	}
	return s
}

// NewLichess returns a Lichess source with defaults applied.
func NewLichess(cfg LichessConfig) *Lichess {
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://lichess.org"
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if cfg.PageSize <= 0 {
		cfg.PageSize = DefaultPageSize
	}
	if cfg.Client == nil {
		cfg.Client = &http.Client{Timeout: 60 * time.Second}
	}
	return &Lichess{cfg: cfg}
}

type lichessPlayer struct {
	User struct {
		Name string `json:"name"`
		ID   string `json:"id"`
	} `json:"user"`
	Rating int `json:"rating"`
}

type lichessGame struct {
	ID         string `json:"id"`
	Variant    string `json:"variant"`
	CreatedAt  int64  `json:"createdAt"`
	Status     string `json:"status"`
	Winner     string `json:"winner"`
	Moves      string `json:"moves"`
	InitialFEN string `json:"initialFen"`
	Players    struct {
		White lichessPlayer `json:"white"`
		Black lichessPlayer `json:"black"`
	} `json:"players"`
}

func (l *Lichess) Fetch(ctx context.Context, player model.PlayerID, cursor string) (Page, error) {
	cur, err := parseLichessCursor(cursor)
	if err != nil {
		return Page{}, err
	}
	// Games already seen at cur.since come back first; ask for that many more.
	limit := l.cfg.PageSize + len(cur.seen)
	q := url.Values{}
	q.Set("sort", "dateAsc")
	q.Set("since", strconv.FormatInt(cur.since, 10))
	q.Set("max", strconv.Itoa(limit))
	q.Set("moves", "true")
	q.Set("finished", "true")
	endpoint := fmt.Sprintf("%s/api/games/user/%s?%s", l.cfg.BaseURL, url.PathEscape(string(player)), q.Encode())

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return Page{}, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	req.Header.Set("Accept", "application/x-ndjson")
	if l.cfg.Token != "" {
		req.Header.Set("Authorization", "Bearer "+l.cfg.Token)
	}

	resp, err := l.cfg.Client.Do(req)
	if err != nil {
		return Page{}, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusNotFound {
		return Page{Next: cursor}, nil
	}
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return Page{}, fmt.Errorf("%w: lichess status %d: %s", ErrUnavailable, resp.StatusCode, strings.TrimSpace(string(body)))
	}

	page := Page{Next: cursor}
	next := lichessCursor{since: cur.since, seen: slices.Clone(cur.seen)}
	read := 0
	sc := bufio.NewScanner(resp.Body)
	sc.Buffer(make([]byte, 64*1024), 4*1024*1024)
	for sc.Scan() {
		line := bytes.TrimSpace(sc.Bytes())
		if len(line) == 0 {
			continue
		}
		var lg lichessGame
		if err := json.Unmarshal(line, &lg); err != nil {
			return Page{}, fmt.Errorf("%w: decode game: %v", ErrUnavailable, err)
		}
		read++
		if lg.CreatedAt == cur.since && slices.Contains(cur.seen, lg.ID) {
			continue
		}
		page.Games = append(page.Games, lg.record())
		if lg.CreatedAt != next.since {
			next = lichessCursor{since: lg.CreatedAt}
		}
		next.seen = append(next.seen, lg.ID)
	}
	if err := sc.Err(); err != nil {
		return Page{}, fmt.Errorf("%w: read games: %v", ErrUnavailable, err)
	}
	if len(page.Games) > 0 {
		page.Next = next.String()
	}
	page.HasMore = read == limit
	return page, nil
}

func (lg *lichessGame) record() *model.GameRecord {
	g := &model.GameRecord{
		ID:          lg.ID,
		White:       playerName(lg.Players.White),
		Black:       playerName(lg.Players.Black),
		WhiteRating: lg.Players.White.Rating,
		BlackRating: lg.Players.Black.Rating,
		InitialFEN:  lg.InitialFEN,
		PlayedAt:    time.UnixMilli(lg.CreatedAt).UTC(),
		Moves:       strings.Fields(lg.Moves),
	}
	switch {
	case lg.Winner == "white":
		g.Result = model.WhiteWins
	case lg.Winner == "black":
		g.Result = model.BlackWins
	case lg.Status == "draw" || lg.Status == "stalemate" || lg.Status == "outoftime":
		g.Result = model.Draw
	}
	v, err := model.ParseVariant(lg.Variant)
	if err != nil {
		g.Result = model.ResultUnknown
	}
	g.Variant = v
	return g
}

func playerName(p lichessPlayer) string {
	if p.User.ID != "" {
		return p.User.ID
	}
	return p.User.Name
}
