//go:build integration

package persistence_test

import (
	"context"
	"fmt"
	"log"
	"os"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/ory/dockertest/v3"
	"github.com/ory/dockertest/v3/docker"
	"github.com/spounge-ai/auditchain/internal/domain"
	"github.com/spounge-ai/auditchain/internal/infra/config"
	"github.com/spounge-ai/auditchain/internal/infra/persistence"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	dbpool      *pgxpool.Pool
	databaseURL string
)

func TestMain(m *testing.M) {
	pool, err := dockertest.NewPool("")
	if err != nil {
		log.Fatalf("Could not construct pool: %s", err)
	}

	if err := pool.Client.Ping(); err != nil {
		log.Fatalf("Could not connect to Docker: %s", err)
	}

	resource, err := pool.RunWithOptions(&dockertest.RunOptions{
		Repository: "postgres",
		Tag:        "16",
		Env: []string{
			"POSTGRES_PASSWORD=secret",
			"POSTGRES_USER=user",
			"POSTGRES_DB=auditchain",
			"listen_addresses = '*'",
		},
	}, func(hc *docker.HostConfig) {
		hc.AutoRemove = true
		hc.RestartPolicy = docker.RestartPolicy{Name: "no"}
	})
	if err != nil {
		log.Fatalf("Could not start resource: %s", err)
	}

	hostAndPort := resource.GetHostPort("5432/tcp")
	databaseURL = fmt.Sprintf("postgres://user:secret@%s/auditchain?sslmode=disable", hostAndPort)

	if err := resource.Expire(120); err != nil {
		log.Fatalf("Could not set resource expiration: %s", err)
	}

	// the database in the container may not accept connections yet
	if err := pool.Retry(func() error {
		var err error
		dbpool, err = pgxpool.New(context.Background(), databaseURL)
		if err != nil {
			return err
		}
		return dbpool.Ping(context.Background())
	}); err != nil {
		log.Fatalf("Could not connect to docker: %s", err)
	}

	if err := persistence.Migrate(context.Background(), config.PersistencePostgres, databaseURL, quietLogger); err != nil {
		log.Fatalf("Could not run migrations: %s", err)
	}

	code := m.Run()

	dbpool.Close()
	// You can't defer this because os.Exit doesn't care for defer
	if err := pool.Purge(resource); err != nil {
		log.Fatalf("Could not purge resource: %s", err)
	}

	os.Exit(code)
}

func truncate(t *testing.T) {
	t.Helper()
	if _, err := dbpool.Exec(context.Background(), "TRUNCATE audit_records"); err != nil {
		t.Fatalf("failed to truncate database: %v", err)
	}
}

func TestPostgresStore(t *testing.T) {
	runRepositoryContract(t, func(t *testing.T) domain.RecordRepository {
		truncate(t)
		store := persistence.NewPostgresStore(dbpool, quietLogger, 5*time.Second)
		require.NoError(t, store.Prepare(context.Background()))
		return store
	})
}

func TestPostgresStore_RejectsInPlaceEdits(t *testing.T) {
	truncate(t)
	ctx := context.Background()
	store := persistence.NewPostgresStore(dbpool, quietLogger, 5*time.Second)

	_, err := store.Append(ctx, sealEntry(map[string]any{"action": "bias_audit"}))
	require.NoError(t, err)

	_, err = dbpool.Exec(ctx, `UPDATE audit_records SET data = '{"action":"bias_audiT"}'`)
	assert.ErrorContains(t, err, "append-only")
	_, err = dbpool.Exec(ctx, `DELETE FROM audit_records`)
	assert.ErrorContains(t, err, "append-only")
}

func TestPostgresStore_SeparateStoresShareOneHead(t *testing.T) {
	truncate(t)
	ctx := context.Background()
	a := persistence.NewPostgresStore(dbpool, quietLogger, 5*time.Second)
	b := persistence.NewPostgresStore(dbpool, quietLogger, 5*time.Second)

	for i := 0; i < 4; i++ {
		store := a
		if i%2 == 1 {
			store = b
		}
		_, err := store.Append(ctx, sealEntry(map[string]any{"i": i}))
		require.NoError(t, err)
	}

	n, err := a.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 4, n)
}

func TestNewRecordRepository_Postgres(t *testing.T) {
	truncate(t)
	ctx := context.Background()
	ledger, err := persistence.NewRecordRepository(ctx, config.PersistenceConfig{
		Type:     config.PersistencePostgres,
		Postgres: config.PostgresConfig{URL: databaseURL, MaxConns: 4},
	}, false, true, quietLogger)
	require.NoError(t, err)
	defer ledger.Close()

	assert.NoError(t, ledger.Pinger.Ping(ctx))

	_, err = persistence.NewRecordRepository(ctx, config.PersistenceConfig{
		Type:     config.PersistencePostgres,
		Postgres: config.PostgresConfig{URL: databaseURL},
	}, true, false, quietLogger)
	assert.ErrorContains(t, err, "TLS")
}
