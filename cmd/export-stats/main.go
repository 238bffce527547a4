package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/rs/zerolog"

	"github.com/freeeve/chessgraph/personal/internal/export"
	"github.com/freeeve/chessgraph/personal/internal/keys"
	"github.com/freeeve/chessgraph/personal/internal/model"
	"github.com/freeeve/chessgraph/personal/internal/store"
)

func main() {
	var (
		dbDir      = flag.String("db", "./data/personal", "Pebble store directory")
		player     = flag.String("player", "", "Player to export")
		color      = flag.String("color", "white", "white or black")
		variant    = flag.String("variant", "standard", "Variant to export")
		outputPath = flag.String("output", "stats.csv", "Output CSV file (.zst compresses)")
	)
	flag.Parse()

	pid, err := model.ParsePlayerID(*player)
	if err != nil {
		fmt.Fprintf(os.Stderr, "player: %v\n", err)
		os.Exit(1)
	}
	c, err := model.ParseColor(*color)
	if err != nil {
		fmt.Fprintf(os.Stderr, "color: %v\n", err)
		os.Exit(1)
	}
	v, err := model.ParseVariant(*variant)
	if err != nil {
		fmt.Fprintf(os.Stderr, "variant: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("Opening store: %s\n", *dbDir)
	db, err := store.Open(store.Config{Dir: *dbDir, Logger: zerolog.Nop()})
	if err != nil {
		fmt.Fprintf(os.Stderr, "open store: %v\n", err)
		os.Exit(1)
	}
	defer db.Close()

	st, err := store.GetIndexState(db, keys.IndexState(pid, c, v))
	if err == nil {
		fmt.Printf("Index: %s, %d games, generation %d\n", st.Status, st.GamesIndexed, st.Generation)
	}

	out, err := export.Create(*outputPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "create output file: %v\n", err)
		os.Exit(1)
	}

	n, err := export.Counters(out, db, pid, c, v)
	if cerr := out.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "export: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("\nExport complete:\n")
	fmt.Printf("  Rows written: %d\n", n)
	fmt.Printf("  Output: %s\n", *outputPath)
}
