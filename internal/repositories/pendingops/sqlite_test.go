package pendingops

import (
	"context"
	"database/sql"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mkarpova/fieldsync/internal/faults"
	"github.com/mkarpova/fieldsync/internal/models"

	_ "modernc.org/sqlite"
)

func setupDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := sql.Open("sqlite", ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	_, err = db.Exec(`
CREATE TABLE pending_operations (
  seq        INTEGER PRIMARY KEY AUTOINCREMENT,
  kind       TEXT NOT NULL,
  category   TEXT NOT NULL,
  item_id    TEXT NOT NULL,
  local_id   TEXT NOT NULL,
  depends_on TEXT NOT NULL DEFAULT '',
  payload    BLOB,
  attempts   INTEGER NOT NULL DEFAULT 0,
  created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
);
`)
	require.NoError(t, err)

	return db
}

func op(kind models.OpKind, localID string) *models.PendingOp {
	return &models.PendingOp{
		Kind:    kind,
		Key:     models.QuestionKey{Category: "electrical", ItemID: "t1"},
		LocalID: localID,
		Payload: []byte(`{}`),
	}
}

func TestEnqueue_AssignsMonotonicSeq(t *testing.T) {
	db := setupDB(t)
	r := NewSQLiteRepository(db)
	ctx := context.Background()

	a := op(models.OpCreateRecord, "p1")
	b := op(models.OpUploadBinary, "l1")
	require.NoError(t, r.Enqueue(ctx, a))
	require.NoError(t, r.Enqueue(ctx, b))

	assert.Greater(t, b.Seq, a.Seq)
	assert.False(t, a.CreatedAt.IsZero())
}

func TestList_FIFOOrder(t *testing.T) {
	db := setupDB(t)
	r := NewSQLiteRepository(db)
	ctx := context.Background()

	require.NoError(t, r.Enqueue(ctx, op(models.OpCreateRecord, "p1")))
	require.NoError(t, r.Enqueue(ctx, op(models.OpUploadBinary, "l1")))
	require.NoError(t, r.Enqueue(ctx, op(models.OpUpdateMetadata, "l1")))

	ops, err := r.List(ctx)
	require.NoError(t, err)
	require.Len(t, ops, 3)
	assert.Equal(t, models.OpCreateRecord, ops[0].Kind)
	assert.Equal(t, models.OpUploadBinary, ops[1].Kind)
	assert.Equal(t, models.OpUpdateMetadata, ops[2].Kind)
}

func TestListByLocalID(t *testing.T) {
	db := setupDB(t)
	r := NewSQLiteRepository(db)
	ctx := context.Background()

	require.NoError(t, r.Enqueue(ctx, op(models.OpUploadBinary, "l1")))
	require.NoError(t, r.Enqueue(ctx, op(models.OpUpdateMetadata, "l2")))
	require.NoError(t, r.Enqueue(ctx, op(models.OpUpdateMetadata, "l1")))

	ops, err := r.ListByLocalID(ctx, "l1")
	require.NoError(t, err)
	require.Len(t, ops, 2)
	assert.Equal(t, models.OpUploadBinary, ops[0].Kind)
}

func TestDelete(t *testing.T) {
	db := setupDB(t)
	r := NewSQLiteRepository(db)
	ctx := context.Background()

	a := op(models.OpUploadBinary, "l1")
	require.NoError(t, r.Enqueue(ctx, a))
	require.NoError(t, r.Delete(ctx, a.Seq))

	ops, err := r.List(ctx)
	require.NoError(t, err)
	assert.Empty(t, ops)

	assert.ErrorIs(t, r.Delete(ctx, a.Seq), faults.ErrNotFound)
}

func TestDeleteByLocalID_CancelsAll(t *testing.T) {
	db := setupDB(t)
	r := NewSQLiteRepository(db)
	ctx := context.Background()

	require.NoError(t, r.Enqueue(ctx, op(models.OpUploadBinary, "l1")))
	require.NoError(t, r.Enqueue(ctx, op(models.OpUpdateMetadata, "l1")))
	require.NoError(t, r.Enqueue(ctx, op(models.OpUploadBinary, "l2")))

	n, err := r.DeleteByLocalID(ctx, "l1")
	require.NoError(t, err)
	assert.EqualValues(t, 2, n)

	ops, err := r.List(ctx)
	require.NoError(t, err)
	require.Len(t, ops, 1)
	assert.Equal(t, "l2", ops[0].LocalID)
}

func TestSetAttempts(t *testing.T) {
	db := setupDB(t)
	r := NewSQLiteRepository(db)
	ctx := context.Background()

	a := op(models.OpUploadBinary, "l1")
	require.NoError(t, r.Enqueue(ctx, a))
	require.NoError(t, r.SetAttempts(ctx, a.Seq, 3))

	ops, err := r.List(ctx)
	require.NoError(t, err)
	require.Len(t, ops, 1)
	assert.Equal(t, 3, ops[0].Attempts)
}
