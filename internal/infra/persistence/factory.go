package persistence

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/spounge-ai/auditchain/internal/domain"
	"github.com/spounge-ai/auditchain/internal/infra/config"
)

// Ledger is an opened record store together with its maintenance hooks.
type Ledger struct {
	Repository domain.RecordRepository
	// Pinger is nil for stores with nothing to probe.
	Pinger Pinger
	close  func() error
}

func (l *Ledger) Close() error {
	if l.close == nil {
		return nil
	}
	return l.close()
}

// NewRecordRepository opens the configured store, applying migrations when
// migrate is true, and wraps it in a circuit breaker when enabled.
func NewRecordRepository(ctx context.Context, cfg config.PersistenceConfig, production, migrate bool, logger *slog.Logger) (*Ledger, error) {
	var ledger Ledger

	switch cfg.Type {
	case config.PersistenceMemory:
		ledger.Repository = NewMemoryStore()

	case config.PersistencePostgres:
		if migrate {
			if err := Migrate(ctx, cfg.Type, cfg.Postgres.URL, logger); err != nil {
				return nil, err
			}
		}
		pool, err := NewConnectionPool(ctx, cfg.Postgres, production)
		if err != nil {
			return nil, err
		}
		store := NewPostgresStore(pool, logger, cfg.OperationTimeout)
		if err := store.Prepare(ctx); err != nil {
			pool.Close()
			return nil, fmt.Errorf("failed to prepare ledger statements: %w", err)
		}
		ledger.Repository, ledger.Pinger = store, store
		ledger.close = func() error { pool.Close(); return nil }

	case config.PersistenceSQLite:
		if migrate {
			if err := Migrate(ctx, cfg.Type, cfg.SQLite.Path, logger); err != nil {
				return nil, err
			}
		}
		store, err := OpenSQLite(ctx, cfg.SQLite.Path, logger, cfg.OperationTimeout)
		if err != nil {
			return nil, err
		}
		ledger.Repository, ledger.Pinger = store, store
		ledger.close = store.Close

	default:
		return nil, fmt.Errorf("invalid persistence type: %s", cfg.Type)
	}

	if cfg.CircuitBreaker.Enabled {
		ledger.Repository = NewRecordRepositoryCircuitBreaker(ledger.Repository,
			cfg.CircuitBreaker.MaxFailures, cfg.CircuitBreaker.ResetTimeout, logger)
	}

	logger.Info("ledger store ready", "type", cfg.Type, "circuit_breaker", cfg.CircuitBreaker.Enabled)
	return &ledger, nil
}
