package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/freeeve/chessgraph/personal/internal/model"
	"github.com/freeeve/chessgraph/personal/internal/source"
)

func main() {
	var (
		archivePath = flag.String("archive", "./data/games.db", "SQLite game archive")
		inputPath   = flag.String("pgn", "", "PGN file to import (supports .zst)")
		batchSize   = flag.Int("batch", 5000, "Games per insert transaction")
	)
	flag.Parse()

	if *inputPath == "" {
		fmt.Fprintln(os.Stderr, "Usage: import-games --pgn <file.pgn[.zst]> [--archive games.db]")
		flag.PrintDefaults()
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	fmt.Printf("Opening game archive: %s\n", *archivePath)
	archive, err := source.OpenArchive(*archivePath, 0)
	if err != nil {
		fmt.Fprintf(os.Stderr, "open archive: %v\n", err)
		os.Exit(1)
	}
	defer archive.Close()

	var (
		read, inserted int
		batch          = make([]*model.GameRecord, 0, *batchSize)
		start          = time.Now()
	)
	flush := func() error {
		n, err := archive.Insert(ctx, batch)
		if err != nil {
			return err
		}
		inserted += n
		batch = batch[:0]
		return nil
	}

	err = source.ReadPGN(ctx, *inputPath, func(g *model.GameRecord) error {
		read++
		batch = append(batch, g)
		if len(batch) < *batchSize {
			return nil
		}
		if err := flush(); err != nil {
			return err
		}
		fmt.Printf("Read %d games, inserted %d (%.0f games/s)\n", read, inserted, float64(read)/time.Since(start).Seconds())
		return nil
	})
	if err == nil && len(batch) > 0 {
		err = flush()
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "import: %v\n", err)
		os.Exit(1)
	}

	total, err := archive.Count(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "count: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("\nImport complete:\n")
	fmt.Printf("  Games read: %d\n", read)
	fmt.Printf("  Inserted: %d\n", inserted)
	fmt.Printf("  Duplicates skipped: %d\n", read-inserted)
	fmt.Printf("  Archive total: %d\n", total)
	fmt.Printf("  Elapsed: %s\n", time.Since(start).Round(time.Millisecond))
}
