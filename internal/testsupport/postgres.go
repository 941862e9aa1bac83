//go:build integration

// Package testsupport starts the containers integration tests run against.
package testsupport

import (
	"context"
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/require"
	postgrescontainer "github.com/testcontainers/testcontainers-go/modules/postgres"
)

// StartPostgres runs a throwaway Postgres, applies every *.up.sql migration in
// name order and returns a pool. The container stops when the test ends.
func StartPostgres(t *testing.T, ctx context.Context) *pgxpool.Pool {
	t.Helper()

	pg, err := postgrescontainer.RunContainer(ctx,
		postgrescontainer.WithDatabase("smartcheck"),
		postgrescontainer.WithUsername("smartcheck"),
		postgrescontainer.WithPassword("smartcheck"),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = pg.Terminate(context.Background()) })

	connStr, err := pg.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	pool := waitForPool(t, ctx, connStr, 30*time.Second)
	t.Cleanup(pool.Close)

	migrate(t, ctx, pool)
	return pool
}

// waitForPool retries until the server accepts connections; the container
// reports ready slightly before Postgres does.
func waitForPool(t *testing.T, ctx context.Context, connStr string, timeout time.Duration) *pgxpool.Pool {
	t.Helper()

	deadline := time.Now().Add(timeout)
	for {
		pool, err := pgxpool.New(ctx, connStr)
		if err == nil {
			if err = pool.Ping(ctx); err == nil {
				return pool
			}
			pool.Close()
		}
		if time.Now().After(deadline) {
			require.NoError(t, err, "postgres never became ready")
		}
		time.Sleep(time.Second)
	}
}

func migrate(t *testing.T, ctx context.Context, pool *pgxpool.Pool) {
	t.Helper()

	_, self, _, ok := runtime.Caller(0)
	require.True(t, ok)
	dir := filepath.Join(filepath.Dir(self), "..", "..", "db", "postgres", "migrations")

	files, err := filepath.Glob(filepath.Join(dir, "*.up.sql"))
	require.NoError(t, err)
	require.NotEmpty(t, files, "no migrations under %s", dir)
	sort.Strings(files)

	for _, file := range files {
		sql, err := os.ReadFile(file)
		require.NoErrorf(t, err, "read migration %s", file)
		_, err = pool.Exec(ctx, string(sql))
		require.NoErrorf(t, err, "apply migration %s", filepath.Base(file))
	}
}
