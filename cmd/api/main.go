package main

import (
	"context"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/freeeve/chessgraph/personal/internal/eco"
	"github.com/freeeve/chessgraph/personal/internal/httpapi"
	"github.com/freeeve/chessgraph/personal/internal/indexer"
	"github.com/freeeve/chessgraph/personal/internal/logx"
	"github.com/freeeve/chessgraph/personal/internal/query"
	"github.com/freeeve/chessgraph/personal/internal/source"
	"github.com/freeeve/chessgraph/personal/internal/store"
)

func envString(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envDuration(key string, def time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}

func envInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func main() {
	// .env is optional; real environment variables win.
	_ = godotenv.Load()

	var (
		// Data directories
		dbDir  = flag.String("db", envString("PERSONAL_DB", "./data/personal"), "Pebble store directory")
		ecoDir = flag.String("eco-dir", envString("PERSONAL_ECO_DIR", "./data/eco"), "Directory containing ECO .tsv files")

		// Server
		addr      = flag.String("addr", envString("PERSONAL_ADDR", ":8008"), "listen address")
		indexWait = flag.Duration("index-wait", envDuration("PERSONAL_INDEX_WAIT", 10*time.Second), "how long /personal waits for indexing")

		// Game source
		sourceKind   = flag.String("source", envString("PERSONAL_SOURCE", "lichess"), "game source: lichess, sqlite or pgn")
		lichessURL   = flag.String("lichess-url", envString("LICHESS_URL", "https://lichess.org"), "Lichess base url")
		archivePath  = flag.String("archive", envString("PERSONAL_ARCHIVE", "./data/games.db"), "SQLite game archive (source=sqlite)")
		pgnPath      = flag.String("pgn", envString("PERSONAL_PGN", ""), "PGN file (source=pgn, supports .zst)")
		pageSize     = flag.Int("page-size", envInt("PERSONAL_PAGE_SIZE", 100), "games per source page")
		refreshEvery = flag.Duration("refresh", envDuration("PERSONAL_REFRESH", 5*time.Minute), "serve an up-to-date index this long before re-checking the source")
		jobTimeout   = flag.Duration("job-timeout", envDuration("PERSONAL_JOB_TIMEOUT", 10*time.Minute), "bound on one indexing job")
	)
	flag.Parse()

	logger := logx.NewLogger()

	db, err := store.Open(store.Config{
		Dir:    *dbDir,
		Logger: logger.With().Str("component", "store").Logger(),
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("open store")
	}
	logger.Info().Str("dir", *dbDir).Msg("opened store")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	src, closeSrc := openSource(ctx, logger, *sourceKind, *lichessURL, *archivePath, *pgnPath, *pageSize)
	defer closeSrc()

	// Load ECO opening database
	var ecoDB *eco.Database
	if *ecoDir != "" {
		ecoDB = eco.NewDatabase()
		if err := ecoDB.LoadDir(*ecoDir); err != nil {
			logger.Warn().Err(err).Str("dir", *ecoDir).Msg("failed to load ECO database")
			ecoDB = nil
		} else {
			logger.Info().Int("openings", ecoDB.Count()).Msg("ECO database loaded")
		}
	}

	coord := indexer.New(indexer.Config{
		Store:           db,
		Source:          src,
		RefreshInterval: *refreshEvery,
		JobTimeout:      *jobTimeout,
		Logger:          logger,
	})
	engine := query.New(query.Config{Store: db, ECO: ecoDB, Logger: logger})

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		store.NewCollector(db),
	)
	reg.MustRegister(indexer.Collectors()...)

	srv := &http.Server{
		Addr: *addr,
		Handler: httpapi.NewRouter(logger, httpapi.Config{
			Indexer:   coord,
			Query:     engine,
			Store:     db,
			Metrics:   promhttp.HandlerFor(reg, promhttp.HandlerOpts{}),
			IndexWait: *indexWait,
		}),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Info().Str("addr", srv.Addr).Str("source", *sourceKind).Msg("api listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("api server")
		}
	}()

	<-ctx.Done()
	logger.Info().Msg("shutting down...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn().Err(err).Msg("http server shutdown error")
	}

	// Jobs commit game by game; a stopped job resumes on the next start.
	if jobs := coord.Running(); len(jobs) > 0 {
		logger.Info().Int("jobs", len(jobs)).Msg("stopping running index jobs")
	}
	if err := coord.Close(shutdownCtx); err != nil {
		logger.Warn().Err(err).Msg("index jobs did not stop in time")
	}

	stats := db.Stats()
	if err := db.Close(); err != nil {
		logger.Error().Err(err).Msg("store close error")
	}
	logger.Info().
		Uint64("reads", stats.Reads).
		Uint64("commits", stats.Commits).
		Uint64("scans", stats.Scans).
		Msg("shutdown complete")
}

func openSource(ctx context.Context, logger zerolog.Logger, kind, lichessURL, archivePath, pgnPath string, pageSize int) (source.Source, func()) {
	switch kind {
	case "lichess":
		return source.NewLichess(source.LichessConfig{
			BaseURL:  lichessURL,
			Token:    os.Getenv("LICHESS_TOKEN"),
			PageSize: pageSize,
		}), func() {}
	case "sqlite":
		a, err := source.OpenArchive(archivePath, pageSize)
		if err != nil {
			logger.Fatal().Err(err).Str("path", archivePath).Msg("open game archive")
		}
		return a, func() { _ = a.Close() }
	case "pgn":
		if pgnPath == "" {
			logger.Fatal().Msg("source=pgn needs -pgn")
		}
		m, err := source.LoadPGN(ctx, pgnPath, pageSize, logger)
		if err != nil {
			logger.Fatal().Err(err).Str("path", pgnPath).Msg("load pgn source")
		}
		return m, func() {}
	}
	logger.Fatal().Str("source", kind).Msg("unknown game source")
	return nil, nil
}
