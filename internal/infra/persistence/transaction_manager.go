package persistence

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/spounge-ai/auditchain/pkg/postgres"
)

// TransactionManager provides a generic way to execute functions within a database transaction.
type TransactionManager[T any] struct {
	logger *slog.Logger
}

// NewTransactionManager creates a new TransactionManager.
func NewTransactionManager[T any](logger *slog.Logger) *TransactionManager[T] {
	return &TransactionManager[T]{logger: logger}
}

// ExecuteInTransaction executes fn within a serializable transaction and
// retries with exponential backoff on serialization failures. fn may run
// more than once and must not have effects outside tx.
func (tm *TransactionManager[T]) ExecuteInTransaction(
	ctx context.Context,
	db *pgxpool.Pool,
	fn func(context.Context, pgx.Tx) (T, error),
) (T, error) {
	var result T
	var err error
	var zero T

	const maxRetries = 5
	const baseDelay = 10 * time.Millisecond
	const maxDelay = 250 * time.Millisecond

	for i := 0; i < maxRetries; i++ {
		tx, txErr := db.BeginTx(ctx, pgx.TxOptions{
			IsoLevel: pgx.Serializable,
		})
		if txErr != nil {
			return zero, fmt.Errorf("failed to begin transaction: %w", txErr)
		}

		result, err = fn(ctx, tx)
		if err == nil {
			commitErr := tx.Commit(ctx)
			if commitErr == nil {
				return result, nil
			}
			if !postgres.HasCode(commitErr, postgres.CodeSerializationFailure) {
				_ = tx.Rollback(ctx)
				return zero, fmt.Errorf("failed to commit transaction: %w", commitErr)
			}
			err = commitErr
		}

		_ = tx.Rollback(ctx)

		if !postgres.HasCode(err, postgres.CodeSerializationFailure) {
			return zero, err
		}

		tm.logger.WarnContext(ctx, "serialization error detected, retrying", "attempt", i+1, "max_attempts", maxRetries)
		delay := baseDelay * time.Duration(1<<uint(i))
		if delay > maxDelay {
			delay = maxDelay
		}
		jitter := time.Duration(rand.Int63n(int64(delay/10) + 1))

		select {
		case <-ctx.Done():
			return zero, ctx.Err()
		case <-time.After(delay + jitter):
		}
	}

	return zero, fmt.Errorf("transaction failed after %d retries: %w", maxRetries, err)
}
