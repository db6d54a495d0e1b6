package persistence

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"net/url"
	"time"

	"github.com/spounge-ai/auditchain/internal/domain"
	app_errors "github.com/spounge-ai/auditchain/internal/errors"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"
)

// SQLiteStore persists the ledger in an embedded SQLite database. A single
// connection with immediate transactions makes every append a write lock.
type SQLiteStore struct {
	db      *sql.DB
	logger  *slog.Logger
	timeout time.Duration
}

// SQLiteDSN builds the modernc DSN used by the store and the migrator.
func SQLiteDSN(path string) string {
	q := url.Values{}
	q.Add("_pragma", "busy_timeout(5000)")
	q.Add("_pragma", "journal_mode(WAL)")
	q.Add("_pragma", "foreign_keys(1)")
	q.Set("_txlock", "immediate")
	return "file:" + path + "?" + q.Encode()
}

// OpenSQLite opens the database at path. The schema must already be migrated.
func OpenSQLite(ctx context.Context, path string, logger *slog.Logger, timeout time.Duration) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", SQLiteDSN(path))
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite database: %w", err)
	}
	db.SetMaxOpenConns(1)

	if timeout <= 0 {
		timeout = defaultOperationTimeout
	}
	s := &SQLiteStore{db: db, logger: logger, timeout: timeout}
	if err := s.Ping(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping sqlite database: %w", err)
	}
	return s, nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	return s.db.PingContext(ctx)
}

func (s *SQLiteStore) Append(ctx context.Context, seal domain.SealFunc) (domain.AuditRecord, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return domain.AuditRecord{}, storageError(fmt.Errorf("failed to begin transaction: %w", err))
	}
	defer func() {
		if rbErr := tx.Rollback(); rbErr != nil && !errors.Is(rbErr, sql.ErrTxDone) {
			s.logger.ErrorContext(ctx, "failed to roll back sqlite transaction", "error", rbErr)
		}
	}()

	head, err := scanSQLiteHead(tx.QueryRowContext(ctx, sqliteQueries[stmtHead]))
	if err != nil {
		return domain.AuditRecord{}, storageError(err)
	}

	rec, err := seal(head)
	if err != nil {
		return domain.AuditRecord{}, err
	}
	if err := checkLink(head, rec); err != nil {
		return domain.AuditRecord{}, err
	}

	row, err := newRecordRow(rec)
	if err != nil {
		return domain.AuditRecord{}, err
	}
	if _, err := tx.ExecContext(ctx, sqliteQueries[stmtInsert],
		row.SequenceNumber, row.RecordedAt.Format(time.RFC3339Nano), row.PreviousHash, row.EntryHash,
		row.ChainHash, row.Data, row.Signature, row.SignatureKeyID); err != nil {
		if isSQLiteConstraint(err) {
			return domain.AuditRecord{}, fmt.Errorf("%w: record %d already exists", app_errors.ErrConflict, rec.SequenceNumber)
		}
		return domain.AuditRecord{}, storageError(fmt.Errorf("failed to insert record: %w", err))
	}

	if err := tx.Commit(); err != nil {
		return domain.AuditRecord{}, storageError(fmt.Errorf("failed to commit record: %w", err))
	}
	return rec, nil
}

func (s *SQLiteStore) Head(ctx context.Context) (*domain.AuditRecord, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	head, err := scanSQLiteHead(s.db.QueryRowContext(ctx, sqliteQueries[stmtHead]))
	if err != nil {
		return nil, storageError(err)
	}
	return head, nil
}

func (s *SQLiteStore) List(ctx context.Context, fromSequence uint64, limit int) ([]domain.AuditRecord, error) {
	if fromSequence > math.MaxInt64 {
		return nil, nil
	}
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	rows, err := s.db.QueryContext(ctx, sqliteQueries[stmtList], int64(fromSequence), sqliteLimit(limit))
	if err != nil {
		return nil, storageError(fmt.Errorf("failed to list records: %w", err))
	}
	defer func() { _ = rows.Close() }()

	records := make([]domain.AuditRecord, 0, max(limit, 0))
	for rows.Next() {
		rec, err := scanSQLiteRecord(rows)
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

func (s *SQLiteStore) All(ctx context.Context) ([]domain.AuditRecord, error) {
	return s.List(ctx, 0, 0)
}

func (s *SQLiteStore) Count(ctx context.Context) (int, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	var n int
	if err := s.db.QueryRowContext(ctx, sqliteQueries[stmtCount]).Scan(&n); err != nil {
		return 0, storageError(fmt.Errorf("failed to count records: %w", err))
	}
	return n, nil
}

type sqlRow interface {
	Scan(dest ...any) error
}

func scanSQLiteRecord(row sqlRow) (domain.AuditRecord, error) {
	var r recordRow
	var recordedAt string
	if err := row.Scan(&r.SequenceNumber, &recordedAt, &r.PreviousHash, &r.EntryHash,
		&r.ChainHash, &r.Data, &r.Signature, &r.SignatureKeyID); err != nil {
		return domain.AuditRecord{}, err
	}
	ts, err := time.Parse(time.RFC3339Nano, recordedAt)
	if err != nil {
		return domain.AuditRecord{}, fmt.Errorf("record %d has unreadable timestamp: %w", r.SequenceNumber, err)
	}
	r.RecordedAt = ts
	return r.record()
}

func scanSQLiteHead(row sqlRow) (*domain.AuditRecord, error) {
	rec, err := scanSQLiteRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read ledger head: %w", err)
	}
	return &rec, nil
}

func isSQLiteConstraint(err error) bool {
	var sqliteErr *sqlite.Error
	if !errors.As(err, &sqliteErr) {
		return false
	}
	switch sqliteErr.Code() {
	case sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY, sqlite3.SQLITE_CONSTRAINT_UNIQUE:
		return true
	}
	return false
}
