package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	catalogpostgres "github.com/sheetflow/sheetflow/internal/catalog/postgres"
	"github.com/sheetflow/sheetflow/internal/config"
	"github.com/sheetflow/sheetflow/internal/migrations"
)

// Generous bound; schema changes on a large catalog can take a while.
const runTimeout = 5 * time.Minute

func main() {
	direction := flag.String("direction", "up", "up, down or status")
	steps := flag.Int("steps", 0, "how many migrations to walk; 0 means every pending one for up and a single one for down")
	flag.Parse()

	cfg, err := config.LoadFromEnv("sheetflow-migrate")
	if err != nil {
		fail("load config: %v", err)
	}
	if cfg.Catalog.DSN == "" {
		fail("set SHEETFLOW_CATALOG_DSN to point at the catalog")
	}

	ctx, cancel := context.WithTimeout(context.Background(), runTimeout)
	defer cancel()

	db, err := catalogpostgres.Open(ctx, catalogpostgres.PoolConfig{
		DSN:          cfg.Catalog.DSN,
		MaxOpenConns: cfg.Catalog.MaxOpenConns,
		MaxIdleConns: cfg.Catalog.MaxIdleConns,
	})
	if err != nil {
		fail("open catalog: %v", err)
	}
	defer func() { _ = db.Close() }()

	runner := migrations.NewRunner()
	switch *direction {
	case "up":
		applied, err := runner.Up(ctx, db, *steps)
		if err != nil {
			fail("up: %v", err)
		}
		report("applied", applied)
	case "down":
		reverted, err := runner.Down(ctx, db, *steps)
		if err != nil {
			fail("down: %v", err)
		}
		report("rolled back", reverted)
	case "status":
		entries, err := runner.Status(ctx, db)
		if err != nil {
			fail("status: %v", err)
		}
		printStatus(entries)
	default:
		fail("unknown -direction %q (want up, down or status)", *direction)
	}
}

func report(verb string, walked []migrations.Migration) {
	for _, m := range walked {
		fmt.Printf("%s %06d %s\n", verb, m.Version, m.Label)
	}
	fmt.Printf("%s %d migration(s)\n", verb, len(walked))
}

func printStatus(entries []migrations.StatusEntry) {
	for _, entry := range entries {
		if entry.Applied {
			fmt.Printf("applied  %06d %-20s %s\n", entry.Version, entry.Label, entry.AppliedAt.UTC().Format(time.RFC3339))
			continue
		}
		fmt.Printf("pending  %06d %s\n", entry.Version, entry.Label)
	}
}

func fail(format string, args ...any) {
	fmt.Fprintf(os.Stderr, format+"\n", args...)
	os.Exit(1)
}
