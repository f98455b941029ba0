//go:build integration

package postgres

import (
	"context"
	"database/sql"
	"testing"
	"time"

	_ "github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/txn2/sqlsession/pkg/database/migrate"
	"github.com/txn2/sqlsession/pkg/session"
)

func startPostgres(t *testing.T) *sql.DB {
	t.Helper()
	ctx := context.Background()

	pgContainer, err := tcpostgres.Run(ctx, "postgres:15",
		tcpostgres.WithDatabase("testdb"),
		tcpostgres.WithUsername("testuser"),
		tcpostgres.WithPassword("testpass"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(30*time.Second),
		),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = pgContainer.Terminate(ctx) })

	connStr, err := pgContainer.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	db, err := sql.Open("postgres", connStr)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	require.NoError(t, migrate.Run(db))
	return db
}

func TestIntegration_SessionLifecycle(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}

	db := startPostgres(t)
	ds, err := New(db, Config{})
	require.NoError(t, err)
	store, err := session.New(session.Config{Dataset: ds})
	require.NoError(t, err)
	ctx := context.Background()

	st, err := store.Load(ctx, "")
	require.NoError(t, err)
	s1 := st.ID

	n, err := store.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	st.Attributes["counter"] = 1
	_, err = store.Save(ctx, s1, st, session.SaveOptions{})
	require.NoError(t, err)

	st, err = store.Load(ctx, s1)
	require.NoError(t, err)
	assert.Equal(t, session.Attributes{"counter": 1}, st.Attributes)

	st.Attributes["counter"] = 2
	s2, err := store.Save(ctx, s1, st, session.SaveOptions{Renew: true})
	require.NoError(t, err)
	assert.NotEqual(t, s1, s2)

	n, err = store.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	st, err = store.Load(ctx, s2)
	require.NoError(t, err)
	assert.Equal(t, session.Attributes{"counter": 2}, st.Attributes)
}

func TestIntegration_NullData(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}

	db := startPostgres(t)
	ds, err := New(db, Config{})
	require.NoError(t, err)
	ctx := context.Background()

	_, err = db.ExecContext(ctx, `INSERT INTO rack_sessions (session_id, data) VALUES ($1, NULL)`, "null-row")
	require.NoError(t, err)

	payload, found, err := ds.Lookup(ctx, "null-row")
	require.NoError(t, err)
	assert.True(t, found)
	assert.Nil(t, payload)
}
