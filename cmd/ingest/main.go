package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/freeeve/chessgraph/personal/internal/indexer"
	"github.com/freeeve/chessgraph/personal/internal/logx"
	"github.com/freeeve/chessgraph/personal/internal/model"
	"github.com/freeeve/chessgraph/personal/internal/source"
	"github.com/freeeve/chessgraph/personal/internal/store"
)

func main() {
	var (
		dbDir     = flag.String("db", "./data/personal", "Pebble store directory")
		inputPath = flag.String("pgn", "", "Path to PGN file (supports .zst)")
		player    = flag.String("player", "", "Player whose games are indexed")
		color     = flag.String("color", "", "white or black (empty = both)")
		variant   = flag.String("variant", "standard", "Variant to index")
		pageSize  = flag.Int("page-size", 1000, "Games committed per source page")
		noSync    = flag.Bool("no-sync", false, "Skip fsync on commit (faster, unsafe on crash)")
	)
	flag.Parse()

	if *inputPath == "" || *player == "" {
		fmt.Fprintln(os.Stderr, "Usage: ingest --pgn <file.pgn[.zst]> --player <name> [options]")
		flag.PrintDefaults()
		os.Exit(1)
	}

	logger := logx.NewLogger()

	pid, err := model.ParsePlayerID(*player)
	if err != nil {
		logger.Fatal().Err(err).Msg("player")
	}
	v, err := model.ParseVariant(*variant)
	if err != nil {
		logger.Fatal().Err(err).Msg("variant")
	}
	colors := []model.Color{model.White, model.Black}
	if *color != "" {
		c, err := model.ParseColor(*color)
		if err != nil {
			logger.Fatal().Err(err).Msg("color")
		}
		colors = []model.Color{c}
	}

	logger.Info().
		Str("pgn", *inputPath).
		Str("db", *dbDir).
		Str("player", string(pid)).
		Msg("starting ingest")

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	db, err := store.Open(store.Config{Dir: *dbDir, NoSync: *noSync, Logger: logger})
	if err != nil {
		logger.Fatal().Err(err).Msg("open store")
	}
	defer db.Close()

	startTime := time.Now()
	src, err := source.LoadPGN(ctx, *inputPath, *pageSize, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("load pgn")
	}

	coord := indexer.New(indexer.Config{
		Store:  db,
		Source: src,
		// Offline runs have no caller to detach from; let the job take its time.
		JobTimeout: 24 * time.Hour,
		Logger:     logger,
	})

	for _, c := range colors {
		if ctx.Err() != nil {
			break
		}
		status, err := coord.EnsureIndexed(ctx, pid, c, v)
		if err != nil {
			logger.Fatal().Err(err).Str("color", c.String()).Msg("index")
		}
		st, err := coord.Status(pid, c, v)
		if err != nil {
			logger.Fatal().Err(err).Msg("read index state")
		}
		ev := logger.Info()
		if status == model.Failed {
			ev = logger.Error().Str("reason", st.Reason)
		}
		ev.
			Str("color", c.String()).
			Str("status", status.String()).
			Uint64("games_indexed", st.GamesIndexed).
			Uint64("generation", st.Generation).
			Msg("index finished")
	}

	closeCtx, closeCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer closeCancel()
	if err := coord.Close(closeCtx); err != nil {
		logger.Warn().Err(err).Msg("index jobs did not stop in time")
	}

	stats := db.Stats()
	logger.Info().
		Uint64("merges", stats.Merges).
		Uint64("commits", stats.Commits).
		Dur("elapsed", time.Since(startTime)).
		Msg("ingest complete")
}
