package persistence

import (
	"context"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/spounge-ai/auditchain/pkg/postgres"
)

const defaultOperationTimeout = 3 * time.Second

// PostgresBase provides a base implementation for PostgreSQL-backed repositories.
// It centralizes connection management, prepared statements, and other common logic.
type PostgresBase struct {
	*postgres.Client
	logger  *slog.Logger
	timeout time.Duration
}

// NewPostgresBase creates a new PostgresBase.
func NewPostgresBase(db *pgxpool.Pool, logger *slog.Logger, timeout time.Duration) *PostgresBase {
	if timeout <= 0 {
		timeout = defaultOperationTimeout
	}
	return &PostgresBase{
		Client:  postgres.NewClient(db),
		logger:  logger,
		timeout: timeout,
	}
}

func (c *PostgresBase) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, c.timeout)
}

// Ping checks that the pool can reach the database.
func (c *PostgresBase) Ping(ctx context.Context) error {
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()
	return c.DB.Ping(ctx)
}
