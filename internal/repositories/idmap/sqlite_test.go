package idmap

import (
	"context"
	"database/sql"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	_ "modernc.org/sqlite"
)

func setupDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := sql.Open("sqlite", ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	_, err = db.Exec(`
CREATE TABLE id_mapping (
  local_id   TEXT PRIMARY KEY,
  remote_id  TEXT NOT NULL,
  created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
);
`)
	require.NoError(t, err)

	return db
}

func TestPutAndLookup(t *testing.T) {
	db := setupDB(t)
	r := NewSQLiteRepository(db)
	ctx := context.Background()

	require.NoError(t, r.Put(ctx, "l1", "srv-1"))

	remote, err := r.RemoteFor(ctx, "l1")
	require.NoError(t, err)
	assert.Equal(t, "srv-1", remote)

	local, err := r.LocalFor(ctx, "srv-1")
	require.NoError(t, err)
	assert.Equal(t, "l1", local)
}

func TestLookup_MissingReturnsEmpty(t *testing.T) {
	db := setupDB(t)
	r := NewSQLiteRepository(db)
	ctx := context.Background()

	remote, err := r.RemoteFor(ctx, "ghost")
	require.NoError(t, err)
	assert.Empty(t, remote)

	local, err := r.LocalFor(ctx, "ghost")
	require.NoError(t, err)
	assert.Empty(t, local)
}

func TestPut_UpsertsSameLocalID(t *testing.T) {
	db := setupDB(t)
	r := NewSQLiteRepository(db)
	ctx := context.Background()

	require.NoError(t, r.Put(ctx, "l1", "srv-1"))
	require.NoError(t, r.Put(ctx, "l1", "srv-1"))

	remote, err := r.RemoteFor(ctx, "l1")
	require.NoError(t, err)
	assert.Equal(t, "srv-1", remote)
}

func TestDelete(t *testing.T) {
	db := setupDB(t)
	r := NewSQLiteRepository(db)
	ctx := context.Background()

	require.NoError(t, r.Put(ctx, "l1", "srv-1"))
	require.NoError(t, r.Delete(ctx, "l1"))

	remote, err := r.RemoteFor(ctx, "l1")
	require.NoError(t, err)
	assert.Empty(t, remote)
}
