package persistence

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"log/slog"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/pgx/v5"
	_ "github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/spounge-ai/auditchain/internal/infra/config"
	"github.com/spounge-ai/auditchain/pkg/postgres"
)

//go:embed migrations
var migrationsFS embed.FS

// Migrate applies the embedded schema for the given store kind. target is a
// postgres url for postgres and a file path for sqlite. The memory store has
// no schema.
func Migrate(ctx context.Context, kind, target string, logger *slog.Logger) error {
	var dbURL string
	switch kind {
	case config.PersistenceMemory:
		return nil
	case config.PersistencePostgres:
		u, err := postgres.MigrateURL(target)
		if err != nil {
			return err
		}
		dbURL = u
	case config.PersistenceSQLite:
		if target == "" {
			return errors.New("sqlite path is empty")
		}
		dbURL = "sqlite://" + target
	default:
		return fmt.Errorf("unsupported persistence type %q", kind)
	}

	src, err := iofs.New(migrationsFS, "migrations/"+kind)
	if err != nil {
		return fmt.Errorf("failed to open embedded migrations: %w", err)
	}

	m, err := migrate.NewWithSourceInstance("iofs", src, dbURL)
	if err != nil {
		return fmt.Errorf("failed to create migration instance: %w", err)
	}
	defer func() {
		if srcErr, dbErr := m.Close(); srcErr != nil || dbErr != nil {
			logger.Warn("failed to close migrator", "source_error", srcErr, "database_error", dbErr)
		}
	}()

	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			m.GracefulStop <- true
		case <-done:
		}
	}()

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("migration failed: %w", err)
	}

	version, dirty, err := m.Version()
	if err != nil && !errors.Is(err, migrate.ErrNilVersion) {
		return fmt.Errorf("failed to read schema version: %w", err)
	}
	logger.Info("schema migrations applied", "store", kind, "version", version, "dirty", dirty)
	return nil
}
