package main

import (
	"context"
	"fmt"
	"log"
	"log/slog"
	"os"
	"time"

	"github.com/spounge-ai/auditchain/internal/infra/config"
	"github.com/spounge-ai/auditchain/internal/infra/persistence"
)

func main() {
	cfg, err := config.Load(os.Getenv("AUDITCHAIN_CONFIG_PATH"))
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))

	var target string
	switch cfg.Persistence.Type {
	case config.PersistencePostgres:
		target = cfg.Persistence.Postgres.URL
	case config.PersistenceSQLite:
		target = cfg.Persistence.SQLite.Path
	default:
		log.Fatalf("persistence type %q has no schema to migrate", cfg.Persistence.Type)
	}

	if err := persistence.Migrate(ctx, cfg.Persistence.Type, target, logger); err != nil {
		log.Fatalf("migration failed: %v", err)
	}
	fmt.Println("Migrations completed successfully.")

	// Verification step
	ledger, err := persistence.NewRecordRepository(ctx, cfg.Persistence, cfg.IsProduction(), false, logger)
	if err != nil {
		log.Fatalf("failed to open ledger for verification: %v", err)
	}
	defer ledger.Close()

	n, err := ledger.Repository.Count(ctx)
	if err != nil {
		log.Fatalf("failed to count ledger records: %v", err)
	}
	head, err := ledger.Repository.Head(ctx)
	if err != nil {
		log.Fatalf("failed to read ledger head: %v", err)
	}
	if head == nil {
		fmt.Println("Ledger is empty.")
		return
	}
	fmt.Printf("Ledger holds %d records, head is #%d %s\n", n, head.SequenceNumber, head.ChainHash)
}
