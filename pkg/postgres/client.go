package postgres

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Client is a PostgreSQL client with connection pooling and prepared statements.
type Client struct {
	DB *pgxpool.Pool
}

// NewClient creates a new PostgreSQL client.
func NewClient(db *pgxpool.Pool) *Client {
	return &Client{DB: db}
}

// PrepareStatements prepares named statements on one pooled connection to
// surface SQL errors at startup.
func (c *Client) PrepareStatements(ctx context.Context, statements map[string]string) error {
	conn, err := c.DB.Acquire(ctx)
	if err != nil {
		return fmt.Errorf("failed to acquire connection for statement preparation: %w", err)
	}
	defer conn.Release()

	for name, sql := range statements {
		_, err := conn.Conn().Prepare(ctx, name, sql)
		if err != nil {
			return fmt.Errorf("failed to prepare statement %s: %w", name, err)
		}
	}

	return nil
}

// AcquireLock blocks until the transaction-scoped advisory lock is held.
// It is released on commit or rollback.
func (c *Client) AcquireLock(ctx context.Context, tx pgx.Tx, lockID int64) error {
	if _, err := tx.Exec(ctx, "SELECT pg_advisory_xact_lock($1)", lockID); err != nil {
		return fmt.Errorf("failed to acquire advisory lock: %w", err)
	}
	return nil
}

// TryAcquireLock attempts to acquire a transaction-scoped advisory lock.
// It returns true if the lock was acquired, and false otherwise.
func (c *Client) TryAcquireLock(ctx context.Context, tx pgx.Tx, lockID int64) (bool, error) {
	var locked bool
	err := tx.QueryRow(ctx, "SELECT pg_try_advisory_xact_lock($1)", lockID).Scan(&locked)
	if err != nil {
		return false, fmt.Errorf("failed to acquire advisory lock: %w", err)
	}
	return locked, nil
}

// LockID derives a stable advisory lock id from a name.
func LockID(name string) int64 {
	h := fnv.New64a()
	_, _ = h.Write([]byte(name))
	return int64(h.Sum64())
}

// HasCode reports whether err carries the given SQLSTATE.
func HasCode(err error, code string) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == code
}

// MigrateURL rewrites a postgres:// url to the pgx5:// scheme used by golang-migrate.
func MigrateURL(url string) (string, error) {
	switch {
	case url == "":
		return "", ErrMissingURL
	case strings.HasPrefix(url, "postgres://"):
		return "pgx5://" + strings.TrimPrefix(url, "postgres://"), nil
	case strings.HasPrefix(url, "postgresql://"):
		return "pgx5://" + strings.TrimPrefix(url, "postgresql://"), nil
	case strings.HasPrefix(url, "pgx5://"):
		return url, nil
	default:
		return "", fmt.Errorf("unsupported postgres url scheme in %q", redact(url))
	}
}

func redact(url string) string {
	if i := strings.Index(url, "://"); i >= 0 {
		return url[:i+3] + "..."
	}
	return "..."
}
