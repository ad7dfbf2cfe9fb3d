package audit

import (
	"context"
	"database/sql"
	"testing"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shinamagazin/shina-audit/pkg/observability"
	"github.com/shinamagazin/shina-audit/pkg/storage"
)

func setupUsersDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := sql.Open("sqlite3", ":memory:")
	require.NoError(t, err)
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { db.Close() })

	_, err = db.Exec(`
		CREATE TABLE users (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			username TEXT NOT NULL
		);
		INSERT INTO users (id, username) VALUES (7, 'admin'), (8, 'kassir');
	`)
	require.NoError(t, err)
	return db
}

func TestDBUserDirectory_Username(t *testing.T) {
	dir := NewDBUserDirectory(setupUsersDB(t))
	ctx := context.Background()

	name, found, err := dir.Username(ctx, 8)
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, "kassir", name)

	_, found, err = dir.Username(ctx, 99)
	require.NoError(t, err)
	assert.False(t, found)
}

func TestDBUserDirectory_QueryError(t *testing.T) {
	db := setupUsersDB(t)
	dir := NewDBUserDirectory(db)
	require.NoError(t, db.Close())

	_, _, err := dir.Username(context.Background(), 7)
	assert.Error(t, err)
}

func TestCachedUserDirectory(t *testing.T) {
	db := setupUsersDB(t)
	metrics := observability.NewMetrics(prometheus.NewRegistry())
	dir := NewCachedUserDirectory(NewDBUserDirectory(db), 10, time.Minute, metrics)
	ctx := context.Background()

	name, found, err := dir.Username(ctx, 7)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, "admin", name)

	_, err = db.Exec(`UPDATE users SET username = 'root' WHERE id = 7`)
	require.NoError(t, err)

	name, _, _ = dir.Username(ctx, 7)
	assert.Equal(t, "admin", name, "served from cache")

	dir.Forget(7)
	name, _, _ = dir.Username(ctx, 7)
	assert.Equal(t, "root", name)

	assert.Equal(t, float64(1), testutil.ToFloat64(metrics.CacheHitsTotal.WithLabelValues(storage.CacheUsernames)))
	assert.Equal(t, float64(2), testutil.ToFloat64(metrics.CacheMissesTotal.WithLabelValues(storage.CacheUsernames)))
}

func TestCachedUserDirectory_UnknownNotCached(t *testing.T) {
	db := setupUsersDB(t)
	dir := NewCachedUserDirectory(NewDBUserDirectory(db), 10, time.Minute, nil)
	ctx := context.Background()

	_, found, err := dir.Username(ctx, 50)
	require.NoError(t, err)
	assert.False(t, found)

	_, err = db.Exec(`INSERT INTO users (id, username) VALUES (50, 'new')`)
	require.NoError(t, err)

	name, found, err := dir.Username(ctx, 50)
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, "new", name)
}
