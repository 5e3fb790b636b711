package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"

	_ "github.com/joho/godotenv/autoload"
	"github.com/sjperalta/fintera-invoicing/internal/config"
	"github.com/sjperalta/fintera-invoicing/internal/database"
	"github.com/sjperalta/fintera-invoicing/internal/ledger"
	"github.com/sjperalta/fintera-invoicing/internal/repository"
	"github.com/sjperalta/fintera-invoicing/pkg/logger"
)

// verify-ledger recomputes every audit chain without writing anything and
// exits with status 1 when a chain is broken.
func main() {
	lineage := flag.String("lineage", "", "verify a single lineage (invoice or contract id)")
	asJSON := flag.Bool("json", false, "print one JSON verification per lineage")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	logger.Setup(cfg.Environment, "warn")

	db, err := database.Connect(cfg.DatabaseURL, "production")
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	repo := repository.NewAuditRepository(db)
	ctx := context.Background()

	lineages := []string{*lineage}
	if *lineage == "" {
		if lineages, err = repo.ListLineages(ctx); err != nil {
			log.Fatalf("Failed to list lineages: %v", err)
		}
	}

	broken := 0
	enc := json.NewEncoder(os.Stdout)
	for _, id := range lineages {
		entries, err := repo.ListByLineage(ctx, id)
		if err != nil {
			log.Fatalf("Failed to read lineage %s: %v", id, err)
		}
		v := ledger.Verify(id, entries)
		if !v.Valid {
			broken++
		}

		if *asJSON {
			_ = enc.Encode(v)
			continue
		}
		if v.Valid {
			fmt.Printf("ok      %s  %d entries\n", id, v.EntriesChecked)
		} else {
			fmt.Printf("BROKEN  %s  at entry %d (%s): %s\n", id, *v.BrokenAt, v.BrokenEntryID, v.Reason)
		}
	}

	if !*asJSON {
		fmt.Printf("%d lineages checked, %d broken\n", len(lineages), broken)
	}
	if broken > 0 {
		os.Exit(1)
	}
}
