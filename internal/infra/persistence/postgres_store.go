package persistence

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/spounge-ai/auditchain/internal/domain"
	app_errors "github.com/spounge-ai/auditchain/internal/errors"
	"github.com/spounge-ai/auditchain/pkg/postgres"
)

// PostgresStore persists the ledger in PostgreSQL. Appends serialize on a
// transaction-scoped advisory lock, so concurrent writers from any number of
// processes observe a single head.
type PostgresStore struct {
	*PostgresBase
	txManager *TransactionManager[domain.AuditRecord]
	lockID    int64
}

func NewPostgresStore(db *pgxpool.Pool, logger *slog.Logger, timeout time.Duration) *PostgresStore {
	return &PostgresStore{
		PostgresBase: NewPostgresBase(db, logger, timeout),
		txManager:    NewTransactionManager[domain.AuditRecord](logger),
		lockID:       postgres.LockID(ledgerTable),
	}
}

// Prepare validates the statements against the live schema.
func (s *PostgresStore) Prepare(ctx context.Context) error {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	return s.PrepareStatements(ctx, postgresQueries)
}

func (s *PostgresStore) Append(ctx context.Context, seal domain.SealFunc) (domain.AuditRecord, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	var sealErr error
	rec, err := s.txManager.ExecuteInTransaction(ctx, s.DB, func(ctx context.Context, tx pgx.Tx) (domain.AuditRecord, error) {
		if err := s.AcquireLock(ctx, tx, s.lockID); err != nil {
			return domain.AuditRecord{}, storageError(err)
		}

		head, err := scanPostgresHead(tx.QueryRow(ctx, postgresQueries[stmtHead]))
		if err != nil {
			return domain.AuditRecord{}, err
		}

		rec, err := seal(head)
		if err != nil {
			sealErr = err
			return domain.AuditRecord{}, err
		}
		if err := checkLink(head, rec); err != nil {
			return domain.AuditRecord{}, err
		}

		row, err := newRecordRow(rec)
		if err != nil {
			return domain.AuditRecord{}, err
		}
		if _, err := tx.Exec(ctx, postgresQueries[stmtInsert],
			row.SequenceNumber, row.RecordedAt, row.PreviousHash, row.EntryHash,
			row.ChainHash, row.Data, row.Signature, row.SignatureKeyID); err != nil {
			if postgres.HasCode(err, postgres.CodeUniqueViolation) {
				return domain.AuditRecord{}, fmt.Errorf("%w: record %d already exists", app_errors.ErrConflict, rec.SequenceNumber)
			}
			return domain.AuditRecord{}, err
		}
		return rec, nil
	})
	if err != nil {
		if sealErr != nil && errors.Is(err, sealErr) {
			return domain.AuditRecord{}, err
		}
		return domain.AuditRecord{}, storageError(err)
	}
	return rec, nil
}

func (s *PostgresStore) Head(ctx context.Context) (*domain.AuditRecord, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	head, err := scanPostgresHead(s.DB.QueryRow(ctx, postgresQueries[stmtHead]))
	if err != nil {
		return nil, storageError(err)
	}
	return head, nil
}

func (s *PostgresStore) List(ctx context.Context, fromSequence uint64, limit int) ([]domain.AuditRecord, error) {
	if fromSequence > math.MaxInt64 {
		return nil, nil
	}
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	rows, err := s.DB.Query(ctx, postgresQueries[stmtList], int64(fromSequence), postgresLimit(limit))
	if err != nil {
		return nil, storageError(fmt.Errorf("failed to list records: %w", err))
	}
	defer rows.Close()

	records := make([]domain.AuditRecord, 0, max(limit, 0))
	for rows.Next() {
		rec, err := scanPostgresRecord(rows)
		if err != nil {
			return nil, storageError(err)
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, storageError(fmt.Errorf("failed to iterate records: %w", err))
	}
	return records, nil
}

func (s *PostgresStore) All(ctx context.Context) ([]domain.AuditRecord, error) {
	return s.List(ctx, 0, 0)
}

func (s *PostgresStore) Count(ctx context.Context) (int, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	var n int64
	if err := s.DB.QueryRow(ctx, postgresQueries[stmtCount]).Scan(&n); err != nil {
		return 0, storageError(fmt.Errorf("failed to count records: %w", err))
	}
	return int(n), nil
}

func scanPostgresRecord(row pgx.Row) (domain.AuditRecord, error) {
	var r recordRow
	if err := row.Scan(&r.SequenceNumber, &r.RecordedAt, &r.PreviousHash, &r.EntryHash,
		&r.ChainHash, &r.Data, &r.Signature, &r.SignatureKeyID); err != nil {
		return domain.AuditRecord{}, err
	}
	return r.record()
}

func scanPostgresHead(row pgx.Row) (*domain.AuditRecord, error) {
	rec, err := scanPostgresRecord(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read ledger head: %w", err)
	}
	return &rec, nil
}
