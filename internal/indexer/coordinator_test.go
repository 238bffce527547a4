package indexer

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/freeeve/chessgraph/personal/internal/keys"
	"github.com/freeeve/chessgraph/personal/internal/model"
	"github.com/freeeve/chessgraph/personal/internal/rules"
	"github.com/freeeve/chessgraph/personal/internal/source"
	"github.com/freeeve/chessgraph/personal/internal/store"
)

func openStore(t *testing.T) *store.DB {
	t.Helper()
	db, err := store.OpenMem()
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func newCoordinator(s store.Store, src source.Source) *Coordinator {
	return New(Config{
		Store:       s,
		Source:      src,
		MaxAttempts: 3,
		BaseBackoff: time.Millisecond,
		MaxBackoff:  2 * time.Millisecond,
		Logger:      zerolog.Nop(),
	})
}

func aliceGames(n int) []*model.GameRecord {
	openings := [][]string{
		{"e4", "e5", "Nf3", "Nc6", "Bb5"},
		{"d4", "d5", "c4", "e6"},
		{"e4", "c5", "Nf3", "d6", "d4"},
		{"e4", "e5", "Nf3", "Nf6", "Nxe5"},
	}
	results := []model.Result{model.WhiteWins, model.Draw, model.BlackWins}
	games := make([]*model.GameRecord, 0, n)
	for i := 0; i < n; i++ {
		games = append(games, &model.GameRecord{
			ID:          fmt.Sprintf("g%03d", i),
			White:       "alice",
			Black:       fmt.Sprintf("opp%d", i%4),
			BlackRating: 1400 + i,
			Result:      results[i%len(results)],
			PlayedAt:    time.Unix(1700000000+int64(i)*60, 0),
			Moves:       openings[i%len(openings)],
		})
	}
	return games
}

// counters dumps every counter row of alice/white/standard.
func counters(t *testing.T, s store.Store) map[string]model.MoveStat {
	t.Helper()
	out := map[string]model.MoveStat{}
	it := s.Scan(store.Counters, keys.PlayerPrefix("alice", model.White, model.Standard))
	defer it.Close()
	for row := it.Next(); row != nil; row = it.Next() {
		st, err := store.DecodeMoveStat(row.Value)
		require.NoError(t, err)
		out[string(row.Key)] = *st
	}
	require.NoError(t, it.Err())
	return out
}

// gatedSource blocks every fetch until release is closed or ctx ends.
type gatedSource struct {
	source.Source
	release chan struct{}
	entered chan struct{}
	once    sync.Once
}

func newGated(src source.Source) *gatedSource {
	return &gatedSource{Source: src, release: make(chan struct{}), entered: make(chan struct{})}
}

func (g *gatedSource) Fetch(ctx context.Context, p model.PlayerID, cursor string) (source.Page, error) {
	g.once.Do(func() { close(g.entered) })
	select {
	case <-g.release:
	case <-ctx.Done():
		return source.Page{}, fmt.Errorf("%w: %v", source.ErrUnavailable, ctx.Err())
	}
	return g.Source.Fetch(ctx, p, cursor)
}

// flakyStore fails the failAt-th Commit.
type flakyStore struct {
	store.Store
	commits atomic.Int64
	failAt  int64
}

func (f *flakyStore) Commit(b *store.Batch) error {
	if f.commits.Add(1) == f.failAt {
		return fmt.Errorf("%w: disk on fire", store.ErrStoreIO)
	}
	return f.Store.Commit(b)
}

func TestEnsureIndexedAliceScenario(t *testing.T) {
	db := openStore(t)
	src := source.NewMemory(10)
	src.Add(&model.GameRecord{
		ID: "g1", White: "alice", Black: "bob", BlackRating: 1600,
		Result: model.WhiteWins, Moves: []string{"e4", "e5", "Nf3"},
	})
	c := newCoordinator(db, src)

	status, err := c.EnsureIndexed(context.Background(), "alice", model.White, model.Standard)
	require.NoError(t, err)
	assert.Equal(t, model.UpToDate, status)

	rows := counters(t, db)
	require.Len(t, rows, 2)
	for k, st := range rows {
		_, mv, err := keys.DecodeCounter([]byte(k))
		require.NoError(t, err)
		assert.Contains(t, []string{"e2e4", "g1f3"}, mv.UCI())
		assert.EqualValues(t, 1, st.Games)
		assert.EqualValues(t, 1, st.Wins)
	}

	st, err := c.Status("alice", model.White, model.Standard)
	require.NoError(t, err)
	assert.Equal(t, model.UpToDate, st.Status)
	assert.EqualValues(t, 1, st.Generation)
	assert.EqualValues(t, 1, st.GamesIndexed)
}

func TestEnsureIndexedIdempotent(t *testing.T) {
	db := openStore(t)
	src := source.NewMemory(3)
	src.Add(aliceGames(10)...)
	c := newCoordinator(db, src)
	ctx := context.Background()

	_, err := c.EnsureIndexed(ctx, "alice", model.White, model.Standard)
	require.NoError(t, err)
	first := counters(t, db)

	status, err := c.EnsureIndexed(ctx, "alice", model.White, model.Standard)
	require.NoError(t, err)
	assert.Equal(t, model.UpToDate, status)
	assert.Equal(t, first, counters(t, db))

	st, err := c.Status("alice", model.White, model.Standard)
	require.NoError(t, err)
	assert.EqualValues(t, 2, st.Generation)
	assert.EqualValues(t, 10, st.GamesIndexed)

	// New games are picked up on the next call.
	src.Add(&model.GameRecord{ID: "late", White: "alice", Black: "bob", Result: model.Draw, Moves: []string{"c4"}})
	_, err = c.EnsureIndexed(ctx, "alice", model.White, model.Standard)
	require.NoError(t, err)
	assert.Len(t, counters(t, db), len(first)+1)
}

func TestEnsureIndexedSingleflight(t *testing.T) {
	db := openStore(t)
	mem := source.NewMemory(100)
	mem.Add(aliceGames(20)...)
	src := newGated(mem)
	c := newCoordinator(db, src)
	// Stragglers arriving after the job see a fresh index.
	c.cfg.RefreshInterval = time.Hour

	const callers = 16
	var ready, done sync.WaitGroup
	statuses := make([]model.Status, callers)
	for i := 0; i < callers; i++ {
		ready.Add(1)
		done.Add(1)
		go func(i int) {
			defer done.Done()
			ready.Done()
			st, err := c.EnsureIndexed(context.Background(), "alice", model.White, model.Standard)
			assert.NoError(t, err)
			statuses[i] = st
		}(i)
	}
	ready.Wait()
	<-src.entered
	require.Len(t, c.Running(), 1)
	time.Sleep(50 * time.Millisecond)
	close(src.release)
	done.Wait()

	assert.EqualValues(t, 1, mem.Fetches(), "one fetch sequence for all callers")
	for i, st := range statuses {
		assert.Equal(t, model.UpToDate, st, "caller %d", i)
	}
	assert.Empty(t, c.Running())
}

func TestEnsureIndexedCrashAtomicity(t *testing.T) {
	games := aliceGames(9)

	clean := openStore(t)
	cleanSrc := source.NewMemory(4)
	cleanSrc.Add(games...)
	_, err := newCoordinator(clean, cleanSrc).EnsureIndexed(context.Background(), "alice", model.White, model.Standard)
	require.NoError(t, err)
	want := counters(t, clean)

	for failAt := int64(1); failAt <= 9; failAt++ {
		db := openStore(t)
		flaky := &flakyStore{Store: db, failAt: failAt}
		src := source.NewMemory(4)
		src.Add(games...)
		c := newCoordinator(flaky, src)

		status, err := c.EnsureIndexed(context.Background(), "alice", model.White, model.Standard)
		assert.ErrorIs(t, err, store.ErrStoreIO, "failAt=%d", failAt)
		assert.Equal(t, model.Failed, status)

		st, err := c.Status("alice", model.White, model.Standard)
		require.NoError(t, err)
		assert.Equal(t, model.Failed, st.Status)
		assert.Contains(t, st.Reason, "disk on fire")

		status, err = c.EnsureIndexed(context.Background(), "alice", model.White, model.Standard)
		require.NoError(t, err)
		assert.Equal(t, model.UpToDate, status)
		assert.Equal(t, want, counters(t, db), "failAt=%d", failAt)
	}
}

func TestEnsureIndexedSourceFailure(t *testing.T) {
	db := openStore(t)
	src := source.NewMemory(5)
	src.Add(aliceGames(5)...)
	c := newCoordinator(db, src)
	ctx := context.Background()

	src.FailNext(100)
	status, err := c.EnsureIndexed(ctx, "alice", model.White, model.Standard)
	require.NoError(t, err)
	assert.Equal(t, model.Failed, status)
	assert.EqualValues(t, 3, src.Fetches(), "bounded attempts")

	st, err := c.Status("alice", model.White, model.Standard)
	require.NoError(t, err)
	assert.Equal(t, model.Failed, st.Status)
	assert.Contains(t, st.Reason, "unavailable")
	assert.Empty(t, st.Cursor)
	assert.Empty(t, counters(t, db))

	// Transient failures are absorbed by retries.
	src.FailNext(2)
	status, err = c.EnsureIndexed(ctx, "alice", model.White, model.Standard)
	require.NoError(t, err)
	assert.Equal(t, model.UpToDate, status)
	assert.NotEmpty(t, counters(t, db))
}

func TestEnsureIndexedDetachOnCancel(t *testing.T) {
	db := openStore(t)
	mem := source.NewMemory(10)
	mem.Add(aliceGames(3)...)
	src := newGated(mem)
	c := newCoordinator(db, src)

	ctx, cancel := context.WithCancel(context.Background())
	result := make(chan model.Status, 1)
	go func() {
		st, _ := c.EnsureIndexed(ctx, "alice", model.White, model.Standard)
		result <- st
	}()
	<-src.entered
	cancel()
	assert.Equal(t, model.InProgress, <-result)

	st, err := c.Status("alice", model.White, model.Standard)
	require.NoError(t, err)
	assert.Equal(t, model.InProgress, st.Status)

	close(src.release)
	require.Eventually(t, func() bool { return len(c.Running()) == 0 }, 5*time.Second, 5*time.Millisecond)

	st, err = c.Status("alice", model.White, model.Standard)
	require.NoError(t, err)
	assert.Equal(t, model.UpToDate, st.Status)
	assert.NotEmpty(t, counters(t, db))
}

func TestCloseStopsRunningJob(t *testing.T) {
	db := openStore(t)
	mem := source.NewMemory(10)
	mem.Add(aliceGames(3)...)
	src := newGated(mem)
	c := newCoordinator(db, src)

	ctx, cancel := context.WithCancel(context.Background())
	result := make(chan model.Status, 1)
	go func() {
		st, _ := c.EnsureIndexed(ctx, "alice", model.White, model.Standard)
		result <- st
	}()
	<-src.entered
	cancel()
	assert.Equal(t, model.InProgress, <-result)

	closeCtx, closeCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer closeCancel()
	require.NoError(t, c.Close(closeCtx))
	assert.Empty(t, c.Running())

	st, err := c.Status("alice", model.White, model.Standard)
	require.NoError(t, err)
	assert.Equal(t, model.Failed, st.Status)
	assert.NotEmpty(t, st.Reason)
	assert.Empty(t, counters(t, db))
	require.NoError(t, db.Close())

	status, err := c.EnsureIndexed(context.Background(), "alice", model.White, model.Standard)
	assert.ErrorIs(t, err, ErrClosed)
	assert.Equal(t, model.Failed, status)
}

func TestStoreClosedUnderRunningJob(t *testing.T) {
	db := openStore(t)
	mem := source.NewMemory(10)
	mem.Add(aliceGames(3)...)
	src := newGated(mem)
	c := newCoordinator(db, src)

	type outcome struct {
		status model.Status
		err    error
	}
	result := make(chan outcome, 1)
	go func() {
		st, err := c.EnsureIndexed(context.Background(), "alice", model.White, model.Standard)
		result <- outcome{st, err}
	}()
	<-src.entered
	require.NoError(t, db.Close())
	close(src.release)

	got := <-result
	assert.Equal(t, model.Failed, got.status)
	assert.ErrorIs(t, got.err, store.ErrStoreIO)
	assert.Empty(t, c.Running())
}

func TestEnsureIndexedRejectsLongPlayer(t *testing.T) {
	src := source.NewMemory(1)
	c := newCoordinator(openStore(t), src)
	long := model.PlayerID(strings.Repeat("x", model.MaxPlayerIDLen+1))

	_, err := c.EnsureIndexed(context.Background(), long, model.White, model.Standard)
	assert.ErrorIs(t, err, model.ErrInvalidPlayer)
	_, err = c.Status(long, model.White, model.Standard)
	assert.ErrorIs(t, err, model.ErrInvalidPlayer)
	assert.Zero(t, src.Fetches())
}

func TestEnsureIndexedFreshness(t *testing.T) {
	db := openStore(t)
	src := source.NewMemory(10)
	src.Add(aliceGames(2)...)
	c := New(Config{Store: db, Source: src, RefreshInterval: time.Hour, Logger: zerolog.Nop()})

	for i := 0; i < 3; i++ {
		status, err := c.EnsureIndexed(context.Background(), "alice", model.White, model.Standard)
		require.NoError(t, err)
		assert.Equal(t, model.UpToDate, status)
	}
	assert.EqualValues(t, 1, src.Fetches())
}

func TestEnsureIndexedUnsupportedVariant(t *testing.T) {
	c := newCoordinator(openStore(t), source.NewMemory(1))
	_, err := c.EnsureIndexed(context.Background(), "alice", model.White, model.Atomic)
	assert.ErrorIs(t, err, rules.ErrUnsupportedVariant)
}

func TestEnsureIndexedTransposition(t *testing.T) {
	db := openStore(t)
	src := source.NewMemory(10)
	src.Add(
		&model.GameRecord{ID: "t1", White: "alice", Black: "bob", Result: model.WhiteWins,
			Moves: []string{"e4", "e5", "Nf3", "Nc6", "Bb5"}},
		&model.GameRecord{ID: "t2", White: "alice", Black: "bob", Result: model.Draw,
			Moves: []string{"Nf3", "Nc6", "e4", "e5", "Bc4"}},
	)
	c := newCoordinator(db, src)
	_, err := c.EnsureIndexed(context.Background(), "alice", model.White, model.Standard)
	require.NoError(t, err)

	pos, err := rules.NewStandard().Setup("")
	require.NoError(t, err)
	for _, m := range []string{"e4", "e5", "Nf3", "Nc6"} {
		_, err := pos.Play(m)
		require.NoError(t, err)
	}
	pk := keys.PositionKey{Player: "alice", Color: model.White, Variant: model.Standard, Hash: pos.Hash()}

	it := db.Scan(store.Counters, pk.Prefix())
	defer it.Close()
	var moves []string
	for row := it.Next(); row != nil; row = it.Next() {
		_, mv, err := keys.DecodeCounter(row.Key)
		require.NoError(t, err)
		st, err := store.DecodeMoveStat(row.Value)
		require.NoError(t, err)
		assert.EqualValues(t, 1, st.Games)
		assert.Equal(t, pos.Fingerprint(), st.Fingerprint)
		moves = append(moves, mv.UCI())
	}
	require.NoError(t, it.Err())
	assert.ElementsMatch(t, []string{"f1b5", "f1c4"}, moves)
}

func TestBackoff(t *testing.T) {
	c := New(Config{Logger: zerolog.Nop()})
	want := []time.Duration{200 * time.Millisecond, 400 * time.Millisecond, 800 * time.Millisecond, 1600 * time.Millisecond, 3200 * time.Millisecond, 5 * time.Second, 5 * time.Second}
	for i, w := range want {
		assert.Equal(t, w, c.backoff(i+1), "attempt %d", i+1)
	}
}
