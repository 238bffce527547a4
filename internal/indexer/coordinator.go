// Package indexer keeps per-player opening indexes current. It runs at most
// one ingestion job per (player, color, variant); concurrent callers attach
// to the running job and share its outcome.
package indexer

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/puzpuzpuz/xsync/v3"
	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"

	"github.com/freeeve/chessgraph/personal/internal/ingest"
	"github.com/freeeve/chessgraph/personal/internal/keys"
	"github.com/freeeve/chessgraph/personal/internal/model"
	"github.com/freeeve/chessgraph/personal/internal/rules"
	"github.com/freeeve/chessgraph/personal/internal/source"
	"github.com/freeeve/chessgraph/personal/internal/store"
)

// Config configures the coordinator.
type Config struct {
	Store    store.Store
	Source   source.Source
	Rules    *rules.Registry
	Ingester *ingest.Ingester

	// RefreshInterval is how long an UpToDate index is served without asking
	// the source for new games. Zero re-checks on every call.
	RefreshInterval time.Duration

	MaxAttempts int           // fetch attempts per page (default 5)
	BaseBackoff time.Duration // first retry delay (default 200ms)
	MaxBackoff  time.Duration // retry delay cap (default 5s)
	JobTimeout  time.Duration // bound on one job (default 10m)

	Logger zerolog.Logger
}

// ErrClosed is returned by EnsureIndexed after Close.
var ErrClosed = errors.New("indexer closed")

// Coordinator schedules ingestion jobs.
type Coordinator struct {
	cfg     Config
	log     zerolog.Logger
	group   singleflight.Group
	running *xsync.MapOf[string, *Job]
	now     func() time.Time

	// base is cancelled by Close; every job stops with it.
	base context.Context
	stop context.CancelFunc

	mu     sync.Mutex // guards closed and jobs.Add
	closed bool
	jobs   sync.WaitGroup
}

// Job describes a running ingestion job.
type Job struct {
	ID      string
	Player  model.PlayerID
	Color   model.Color
	Variant model.Variant
	Started time.Time
}

// New creates a coordinator with defaults applied.
func New(cfg Config) *Coordinator {
	if cfg.Rules == nil {
		cfg.Rules = rules.Default()
	}
	if cfg.Ingester == nil {
		cfg.Ingester = ingest.New(ingest.Config{Rules: cfg.Rules, Logger: cfg.Logger})
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 5
	}
	if cfg.BaseBackoff <= 0 {
		cfg.BaseBackoff = 200 * time.Millisecond
	}
	if cfg.MaxBackoff <= 0 {
		cfg.MaxBackoff = 5 * time.Second
	}
	if cfg.JobTimeout <= 0 {
		cfg.JobTimeout = 10 * time.Minute
	}
	base, stop := context.WithCancel(context.Background())
	return &Coordinator{
		cfg:     cfg,
		log:     cfg.Logger.With().Str("component", "indexer").Logger(),
		running: xsync.NewMapOf[string, *Job](),
		now:     time.Now,
		base:    base,
		stop:    stop,
	}
}

// Close cancels running jobs and waits for them to record their state, or
// for ctx to end. EnsureIndexed fails with ErrClosed afterwards. The store
// must stay open until Close returns.
func (c *Coordinator) Close(ctx context.Context) error {
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()
	c.stop()

	done := make(chan struct{})
	go func() {
		c.jobs.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("wait for index jobs: %w", ctx.Err())
	}
}

// EnsureIndexed brings the index of (player, color, variant) up to date with
// the game source. Failures of the source are reported as a Failed status;
// a non-nil error means the store failed or the request was invalid.
// If ctx ends first, InProgress is returned and the job keeps running.
func (c *Coordinator) EnsureIndexed(ctx context.Context, player model.PlayerID, color model.Color, variant model.Variant) (model.Status, error) {
	if _, err := c.cfg.Rules.For(variant); err != nil {
		return model.NotStarted, err
	}
	if err := player.Validate(); err != nil {
		return model.NotStarted, err
	}
	if c.isClosed() {
		return model.Failed, ErrClosed
	}
	key := keys.IndexState(player, color, variant)

	if c.cfg.RefreshInterval > 0 {
		st, err := store.GetIndexState(c.cfg.Store, key)
		if err != nil {
			return model.Failed, err
		}
		if st.Status == model.UpToDate && c.now().Sub(st.UpdatedAt) < c.cfg.RefreshInterval {
			return model.UpToDate, nil
		}
	}

	ch := c.group.DoChan(string(key), func() (any, error) {
		c.mu.Lock()
		if c.closed {
			c.mu.Unlock()
			return model.Failed, ErrClosed
		}
		c.jobs.Add(1)
		c.mu.Unlock()
		defer c.jobs.Done()

		// The job outlives the caller that started it but not the coordinator.
		jobCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.cfg.JobTimeout)
		defer cancel()
		unhook := context.AfterFunc(c.base, cancel)
		defer unhook()
		return c.run(jobCtx, key, player, color, variant)
	})

	select {
	case res := <-ch:
		if res.Shared {
			CoalescedCallers.Inc()
		}
		st, _ := res.Val.(model.Status)
		return st, res.Err
	case <-ctx.Done():
		return model.InProgress, nil
	}
}

func (c *Coordinator) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// Status returns the persisted state of an index.
func (c *Coordinator) Status(player model.PlayerID, color model.Color, variant model.Variant) (*model.IndexState, error) {
	if err := player.Validate(); err != nil {
		return nil, err
	}
	st, err := store.GetIndexState(c.cfg.Store, keys.IndexState(player, color, variant))
	if err != nil {
		return nil, err
	}
	if _, ok := c.running.Load(string(keys.IndexState(player, color, variant))); ok {
		st.Status = model.InProgress
	}
	return st, nil
}

// Running returns the jobs in flight, oldest first.
func (c *Coordinator) Running() []Job {
	var jobs []Job
	c.running.Range(func(_ string, j *Job) bool {
		jobs = append(jobs, *j)
		return true
	})
	sort.Slice(jobs, func(i, j int) bool { return jobs[i].Started.Before(jobs[j].Started) })
	return jobs
}

func (c *Coordinator) run(ctx context.Context, key []byte, player model.PlayerID, color model.Color, variant model.Variant) (model.Status, error) {
	job := &Job{ID: uuid.NewString(), Player: player, Color: color, Variant: variant, Started: c.now()}
	c.running.Store(string(key), job)
	defer c.running.Delete(string(key))

	log := c.log.With().
		Str("job", job.ID).
		Str("player", string(player)).
		Str("color", color.String()).
		Str("variant", variant.String()).
		Logger()
	JobsStarted.WithLabelValues(variant.String(), color.String()).Inc()
	start := time.Now()
	defer func() { JobDuration.Observe(time.Since(start).Seconds()) }()

	st, err := store.GetIndexState(c.cfg.Store, key)
	if err != nil {
		JobResults.WithLabelValues(model.Failed.String()).Inc()
		return model.Failed, err
	}
	log.Info().Str("cursor", st.Cursor).Int("offset", st.Offset).Str("prev", st.Status.String()).Msg("index job started")

	st.Status = model.InProgress
	st.Reason = ""
	if err := c.putState(key, st); err != nil {
		return c.fail(log, key, st, err)
	}

	var ingested, skipped int
	for {
		page, err := c.fetch(ctx, log, player, st.Cursor)
		if err != nil {
			return c.fail(log, key, st, err)
		}

		offset := min(st.Offset, len(page.Games))
		if offset == len(page.Games) && (page.Next != st.Cursor || st.Offset != 0) {
			next := *st
			next.Cursor, next.Offset = page.Next, 0
			if err := c.putState(key, &next); err != nil {
				return c.fail(log, key, st, err)
			}
			st = &next
		}

		for i := offset; i < len(page.Games); i++ {
			game := page.Games[i]
			deltas, err := c.cfg.Ingester.Ingest(player, color, variant, game)
			if err != nil {
				if !errors.Is(err, ingest.ErrSkipped) {
					log.Warn().Err(err).Str("game", game.ID).Msg("ingest game")
				}
				deltas = nil
			}

			next := *st
			if i == len(page.Games)-1 {
				next.Cursor, next.Offset = page.Next, 0
			} else {
				next.Offset = i + 1
			}
			if len(deltas) > 0 {
				next.GamesIndexed++
			}
			next.UpdatedAt = c.now()

			b := store.NewBatch()
			ingest.Apply(b, deltas)
			b.PutIndexState(key, &next)
			if err := c.cfg.Store.Commit(b); err != nil {
				return c.fail(log, key, st, err)
			}
			st = &next

			if len(deltas) > 0 {
				ingested++
				GamesIngested.WithLabelValues("indexed").Inc()
			} else {
				skipped++
				GamesIngested.WithLabelValues("skipped").Inc()
			}
			if err := ctx.Err(); err != nil {
				return c.fail(log, key, st, err)
			}
		}

		if !page.HasMore {
			break
		}
	}

	st.Status = model.UpToDate
	st.Generation++
	st.UpdatedAt = c.now()
	if err := c.putState(key, st); err != nil {
		return c.fail(log, key, st, err)
	}
	JobResults.WithLabelValues(model.UpToDate.String()).Inc()
	log.Info().
		Int("ingested", ingested).
		Int("skipped", skipped).
		Uint64("generation", st.Generation).
		Dur("elapsed", time.Since(start)).
		Msg("index job complete")
	return model.UpToDate, nil
}

// fetch reads one page, retrying source failures with exponential backoff.
func (c *Coordinator) fetch(ctx context.Context, log zerolog.Logger, player model.PlayerID, cursor string) (source.Page, error) {
	var lastErr error
	for attempt := 1; attempt <= c.cfg.MaxAttempts; attempt++ {
		page, err := c.cfg.Source.Fetch(ctx, player, cursor)
		if err == nil {
			return page, nil
		}
		lastErr = err
		if ctx.Err() != nil || attempt == c.cfg.MaxAttempts {
			break
		}
		delay := c.backoff(attempt)
		FetchRetries.Inc()
		log.Warn().Err(err).Int("attempt", attempt).Dur("retry_in", delay).Msg("fetch games failed")

		t := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			t.Stop()
			return source.Page{}, fmt.Errorf("%w: %v", source.ErrUnavailable, ctx.Err())
		case <-t.C:
		}
	}
	if !errors.Is(lastErr, source.ErrUnavailable) {
		lastErr = fmt.Errorf("%w: %v", source.ErrUnavailable, lastErr)
	}
	return source.Page{}, lastErr
}

func (c *Coordinator) backoff(attempt int) time.Duration {
	d := c.cfg.BaseBackoff
	for i := 1; i < attempt && d < c.cfg.MaxBackoff; i++ {
		d *= 2
	}
	return min(d, c.cfg.MaxBackoff)
}

func (c *Coordinator) putState(key []byte, st *model.IndexState) error {
	st.UpdatedAt = c.now()
	return c.cfg.Store.Put(store.IndexState, key, store.EncodeIndexState(st))
}

// fail records a Failed state at the last committed cursor. Source and
// timeout failures are reported through the status only; store failures are
// also returned.
func (c *Coordinator) fail(log zerolog.Logger, key []byte, st *model.IndexState, cause error) (model.Status, error) {
	JobResults.WithLabelValues(model.Failed.String()).Inc()
	failed := *st
	failed.Status = model.Failed
	failed.Reason = cause.Error()
	if err := c.putState(key, &failed); err != nil {
		log.Error().Err(err).Msg("persist failed state")
	}
	log.Error().Err(cause).Str("cursor", st.Cursor).Int("offset", st.Offset).Msg("index job failed")

	if errors.Is(cause, store.ErrStoreIO) || errors.Is(cause, store.ErrCorruptValue) || errors.Is(cause, store.ErrPartition) {
		return model.Failed, cause
	}
	return model.Failed, nil
}
