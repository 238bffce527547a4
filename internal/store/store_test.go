package store

import (
	"sync"
	"testing"

	"github.com/cockroachdb/pebble/vfs"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/freeeve/chessgraph/personal/internal/keys"
	"github.com/freeeve/chessgraph/personal/internal/model"
)

func openTest(t *testing.T) *DB {
	t.Helper()
	db, err := OpenMem()
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func win(id string, date int64) *model.MoveStat {
	return &model.MoveStat{
		Games: 1, Wins: 1, RatingSum: 1500, RatedGames: 1, Fingerprint: 7,
		Recent: []model.GameRef{{ID: id, Opponent: "bob", OpponentRating: 1500, Date: date, Outcome: model.Win}},
	}
}

func TestGetPut(t *testing.T) {
	db := openTest(t)
	key := keys.IndexState("alice", model.White, model.Standard)

	_, err := db.Get(IndexState, key)
	assert.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, db.Put(IndexState, key, []byte("v")))
	got, err := db.Get(IndexState, key)
	require.NoError(t, err)
	assert.Equal(t, []byte("v"), got)

	assert.ErrorIs(t, db.Put(Counters, key, []byte("v")), ErrPartition)
}

func TestMergeCounterConcurrent(t *testing.T) {
	db := openTest(t)
	mv, _ := model.ParseUCIMove("e2e4")
	key := keys.PositionKey{Player: "alice", Hash: 1}.Counter(mv)

	const workers, perWorker = 8, 50
	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < perWorker; i++ {
				assert.NoError(t, db.MergeCounter(key, win("g", int64(w*perWorker+i))))
			}
		}(w)
	}
	wg.Wait()

	raw, err := db.Get(Counters, key)
	require.NoError(t, err)
	st, err := DecodeMoveStat(raw)
	require.NoError(t, err)
	assert.EqualValues(t, workers*perWorker, st.Games)
	assert.EqualValues(t, workers*perWorker, st.Wins)
	assert.EqualValues(t, 7, st.Fingerprint)
	assert.Len(t, st.Recent, 1, "same game id must be deduplicated")
}

func TestScanPrefix(t *testing.T) {
	db := openTest(t)
	pk := keys.PositionKey{Player: "alice", Hash: 99}
	other := keys.PositionKey{Player: "alice", Hash: 100}

	moves := []string{"g1f3", "e2e4", "d2d4"}
	for _, m := range moves {
		mv, _ := model.ParseUCIMove(m)
		require.NoError(t, db.MergeCounter(pk.Counter(mv), win(m, 1)))
		require.NoError(t, db.MergeCounter(other.Counter(mv), win(m, 1)))
	}

	for pass := 0; pass < 2; pass++ {
		it := db.Scan(Counters, pk.Prefix())
		var got []string
		var prev []byte
		for row := it.Next(); row != nil; row = it.Next() {
			k, mv, err := keys.DecodeCounter(row.Key)
			require.NoError(t, err)
			assert.Equal(t, pk, k)
			if prev != nil {
				assert.Less(t, string(prev), string(row.Key))
			}
			prev = row.Key
			got = append(got, mv.UCI())
		}
		require.NoError(t, it.Err())
		require.NoError(t, it.Close())
		assert.ElementsMatch(t, moves, got, "pass %d", pass)
	}
}

func TestBatchAllOrNothing(t *testing.T) {
	db := openTest(t)
	mv, _ := model.ParseUCIMove("e2e4")
	ckey := keys.PositionKey{Player: "alice"}.Counter(mv)
	skey := keys.IndexState("alice", model.White, model.Standard)

	bad := NewBatch()
	bad.Merge(ckey, win("g1", 1))
	bad.Put(Counters, skey, []byte("wrong partition"))
	assert.ErrorIs(t, db.Commit(bad), ErrPartition)
	_, err := db.Get(Counters, ckey)
	assert.ErrorIs(t, err, ErrNotFound)

	good := NewBatch()
	good.Merge(ckey, win("g1", 1))
	good.PutIndexState(skey, &model.IndexState{Status: model.InProgress, Cursor: "c1", Offset: 1})
	require.NoError(t, db.Commit(good))

	st, err := GetIndexState(db, skey)
	require.NoError(t, err)
	assert.Equal(t, "c1", st.Cursor)
	assert.Equal(t, 1, st.Offset)
	assert.EqualValues(t, 1, db.Stats().Commits)
}

func TestReopenKeepsData(t *testing.T) {
	fs := vfs.NewMem()
	cfg := Config{Dir: "db", FS: fs, Logger: zerolog.Nop()}
	mv, _ := model.ParseUCIMove("d2d4")
	key := keys.PositionKey{Player: "carol", Color: model.Black}.Counter(mv)

	db, err := Open(cfg)
	require.NoError(t, err)
	require.NoError(t, db.MergeCounter(key, win("a", 1)))
	require.NoError(t, db.MergeCounter(key, win("b", 2)))
	require.NoError(t, db.Close())

	db, err = Open(cfg)
	require.NoError(t, err)
	defer db.Close()
	require.NoError(t, db.MergeCounter(key, win("c", 3)))

	raw, err := db.Get(Counters, key)
	require.NoError(t, err)
	st, err := DecodeMoveStat(raw)
	require.NoError(t, err)
	assert.EqualValues(t, 3, st.Games)
	require.Len(t, st.Recent, 3)
	assert.Equal(t, "c", st.Recent[0].ID)
}

func TestGetIndexStateMissing(t *testing.T) {
	db := openTest(t)
	st, err := GetIndexState(db, keys.IndexState("nobody", model.White, model.Standard))
	require.NoError(t, err)
	assert.Equal(t, model.NotStarted, st.Status)
}

func TestCollector(t *testing.T) {
	db := openTest(t)
	assert.Equal(t, 13, testutil.CollectAndCount(NewCollector(db)))
}

func TestOperationsAfterClose(t *testing.T) {
	db := openTest(t)
	mv, _ := model.ParseUCIMove("e2e4")
	counter := keys.PositionKey{Player: "alice", Hash: 1}.Counter(mv)
	state := keys.IndexState("alice", model.White, model.Standard)
	require.NoError(t, db.MergeCounter(counter, win("g1", 1)))
	coll := NewCollector(db)

	require.NoError(t, db.Close())
	require.NoError(t, db.Close())

	_, err := db.Get(Counters, counter)
	assert.ErrorIs(t, err, ErrStoreIO)
	assert.ErrorIs(t, db.Put(IndexState, state, []byte("v")), ErrStoreIO)
	assert.ErrorIs(t, db.MergeCounter(counter, win("g2", 2)), ErrStoreIO)

	b := NewBatch()
	b.Merge(counter, win("g3", 3))
	b.Put(IndexState, state, []byte("v"))
	assert.ErrorIs(t, db.Commit(b), ErrStoreIO)

	it := db.Scan(Counters, keys.PlayerPrefix("alice", model.White, model.Standard))
	assert.Nil(t, it.Next())
	assert.ErrorIs(t, it.Err(), ErrStoreIO)
	assert.NoError(t, it.Close())

	assert.Nil(t, db.Metrics())
	assert.Equal(t, 0, testutil.CollectAndCount(coll))
}

func TestCloseWaitsForOperations(t *testing.T) {
	db := openTest(t)
	mv, _ := model.ParseUCIMove("e2e4")
	key := keys.PositionKey{Player: "alice", Hash: 1}.Counter(mv)
	coll := NewCollector(db)

	var wg sync.WaitGroup
	for w := 0; w < 4; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < 50; i++ {
				err := db.MergeCounter(key, win("g", int64(w*50+i)))
				if err != nil {
					assert.ErrorIs(t, err, ErrStoreIO)
					return
				}
				testutil.CollectAndCount(coll)
			}
		}(w)
	}
	require.NoError(t, db.Close())
	wg.Wait()
}
