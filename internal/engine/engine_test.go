package engine

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mkarpova/fieldsync/internal/annotation"
	"github.com/mkarpova/fieldsync/internal/cache"
	"github.com/mkarpova/fieldsync/internal/catalog"
	"github.com/mkarpova/fieldsync/internal/faults"
	"github.com/mkarpova/fieldsync/internal/logging"
	"github.com/mkarpova/fieldsync/internal/models"
	"github.com/mkarpova/fieldsync/internal/reconcile"
	"github.com/mkarpova/fieldsync/internal/remote"
	"github.com/mkarpova/fieldsync/internal/remote/remotetest"
	"github.com/mkarpova/fieldsync/internal/store"
	"github.com/mkarpova/fieldsync/internal/syncer"

	_ "modernc.org/sqlite"
)

const schema = `
CREATE TABLE attachments (
  local_id          TEXT PRIMARY KEY,
  remote_id         TEXT,
  previous_local_id TEXT NOT NULL DEFAULT '',
  category          TEXT NOT NULL,
  item_id           TEXT NOT NULL,
  status            TEXT NOT NULL,
  binary            BLOB NOT NULL,
  caption           TEXT NOT NULL DEFAULT '',
  drawing           BLOB,
  local_update      INTEGER NOT NULL DEFAULT 0,
  deleted           INTEGER NOT NULL DEFAULT 0,
  attempts          INTEGER NOT NULL DEFAULT 0,
  updated_at        TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
);
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
CREATE TABLE id_mapping (
  local_id   TEXT PRIMARY KEY,
  remote_id  TEXT NOT NULL,
  created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
);
`

var (
	testTemplate = catalog.Template{TemplateID: "t1", Name: "Main panel", Category: "electrical", Kind: "photo"}
	testKey      = models.QuestionKey{Category: "electrical", ItemID: "t1"}
)

type fixture struct {
	eng   *Engine
	store *store.Store
	sync  *syncer.Syncer
	fake  *remotetest.Fake
	cache *cache.BinaryCache
	db    *sql.DB
}

func setup(t *testing.T) *fixture {
	t.Helper()
	db, err := sql.Open("sqlite", ":memory:")
	require.NoError(t, err)
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = db.Close() })

	_, err = db.Exec(schema)
	require.NoError(t, err)

	log := logging.Discard()
	st := store.New(db, log)
	fake := remotetest.New()
	bc := cache.NewBinaryCache(fake, log)
	inv := cache.NewInvalidator(bc, 20*time.Millisecond, 100*time.Millisecond, log)
	rec := reconcile.New(st, bc, log)
	sc := syncer.New(st, fake, rec, 2, 2, log)
	eng := New(st, sc, rec, fake, bc, inv, []catalog.Template{testTemplate}, "svc-1", log)

	return &fixture{eng: eng, store: st, sync: sc, fake: fake, cache: bc, db: db}
}

// restart stands in for a process relaunch: fresh components over the same
// database and remote, with the in-memory question state rebuilt from the
// durable queue.
func restart(t *testing.T, f *fixture) *fixture {
	t.Helper()
	log := logging.Discard()
	st := store.New(f.db, log)
	bc := cache.NewBinaryCache(f.fake, log)
	inv := cache.NewInvalidator(bc, 20*time.Millisecond, 100*time.Millisecond, log)
	rec := reconcile.New(st, bc, log)
	sc := syncer.New(st, f.fake, rec, 2, 2, log)
	eng := New(st, sc, rec, f.fake, bc, inv, []catalog.Template{testTemplate}, "svc-1", log)
	require.NoError(t, eng.Restore(context.Background()))

	return &fixture{eng: eng, store: st, sync: sc, fake: f.fake, cache: bc, db: f.db}
}

func TestCapturePhoto_OfflineToSynced(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	ref, err := f.eng.CapturePhoto(ctx, testKey, []byte("jpeg"), "panel", nil)
	require.NoError(t, err)
	require.False(t, ref.IsRemote())

	// visible immediately, served from the warm cache
	b, err := f.eng.Photo(ctx, ref)
	require.NoError(t, err)
	assert.Equal(t, []byte("jpeg"), b)

	state, err := f.eng.QuestionState(ctx, testKey)
	require.NoError(t, err)
	assert.True(t, state.Selected)
	assert.True(t, state.IsSyncing)
	require.Len(t, state.Photos, 1)

	require.NoError(t, f.sync.Drain(ctx))

	got, err := f.store.Get(ctx, ref)
	require.NoError(t, err)
	assert.Equal(t, models.StatusSynced, got.Status)
	require.NotEmpty(t, got.RemoteID)

	// the cache entry followed the identifier swap
	assert.True(t, f.cache.Has(models.RemoteRef(got.RemoteID).String()))

	// both identifiers still resolve
	byOld, err := f.store.Get(ctx, ref)
	require.NoError(t, err)
	byNew, err := f.store.Get(ctx, models.RemoteRef(got.RemoteID))
	require.NoError(t, err)
	assert.Equal(t, byOld.LocalID, byNew.LocalID)

	state, err = f.eng.QuestionState(ctx, testKey)
	require.NoError(t, err)
	assert.False(t, state.IsSyncing)
	assert.Equal(t, 1, f.fake.CreateCalls)
}

func TestCapturePhoto_SecondPhotoReusesPendingCreate(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	_, err := f.eng.CapturePhoto(ctx, testKey, []byte("one"), "", nil)
	require.NoError(t, err)
	_, err = f.eng.CapturePhoto(ctx, testKey, []byte("two"), "", nil)
	require.NoError(t, err)

	ops, err := f.store.Ops().List(ctx)
	require.NoError(t, err)
	creates := 0
	for _, op := range ops {
		if op.Kind == models.OpCreateRecord {
			creates++
		}
	}
	assert.Equal(t, 1, creates)

	require.NoError(t, f.sync.Drain(ctx))
	assert.Equal(t, 1, f.fake.CreateCalls)
	assert.Equal(t, 2, f.fake.UploadCalls)
}

func TestCapturePhoto_OversizedAnnotationFailsAtSave(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	var strokes []annotation.Stroke
	for i := 0; i < 40000; i++ {
		strokes = append(strokes, annotation.Stroke{
			Tool:   "pen",
			Points: []annotation.Point{{X: float64(i) * 1.000001, Y: float64(i) * 0.999973}},
		})
	}
	d := annotation.Drawing{Strokes: strokes}

	_, err := f.eng.CapturePhoto(ctx, testKey, []byte("jpeg"), "", &d)
	require.ErrorIs(t, err, faults.ErrValidation)

	// nothing was written
	recs, err := f.store.ListByKey(ctx, testKey)
	require.NoError(t, err)
	assert.Empty(t, recs)
	ops, err := f.store.Ops().List(ctx)
	require.NoError(t, err)
	assert.Empty(t, ops)
}

func TestCapturePhoto_NoTemplate(t *testing.T) {
	f := setup(t)

	_, err := f.eng.CapturePhoto(context.Background(), models.QuestionKey{Category: "x", ItemID: "y"}, []byte("jpeg"), "", nil)
	assert.Error(t, err)
}

func TestSetDrawing_RoundTrips(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	ref, err := f.eng.CapturePhoto(ctx, testKey, []byte("jpeg"), "", nil)
	require.NoError(t, err)

	d := annotation.Drawing{Width: 100, Height: 80, Strokes: []annotation.Stroke{
		{Tool: "pen", Width: 2, Points: []annotation.Point{{X: 1, Y: 2}, {X: 3, Y: 4}}},
	}}
	require.NoError(t, f.eng.SetDrawing(ctx, ref, d))

	got, err := f.eng.Drawing(ctx, ref)
	require.NoError(t, err)
	require.Len(t, got.Strokes, 1)
	assert.Equal(t, d.Strokes[0].Points, got.Strokes[0].Points)
}

func TestDeselect_HidesMaterializedRecord(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	require.NoError(t, f.eng.Select(ctx, testKey))
	require.NoError(t, f.sync.Drain(ctx))
	require.Equal(t, 1, f.fake.CreateCalls)

	require.NoError(t, f.eng.Deselect(ctx, testKey))
	require.NoError(t, f.sync.Drain(ctx))

	records, err := f.fake.ListAnswerRecords(ctx, "svc-1")
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.True(t, records[0].Hidden)

	state, err := f.eng.QuestionState(ctx, testKey)
	require.NoError(t, err)
	assert.False(t, state.Selected)
}

func TestDeselect_UnmaterializedIsLocalOnly(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	// never selected, never materialized
	require.NoError(t, f.eng.Deselect(ctx, testKey))
	ops, err := f.store.Ops().List(ctx)
	require.NoError(t, err)
	assert.Empty(t, ops)
}

func TestSetAnswer_BeforeAndAfterMaterialization(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	require.NoError(t, f.eng.SetAnswer(ctx, testKey, "ok"))
	require.NoError(t, f.sync.Drain(ctx))

	records, err := f.fake.ListAnswerRecords(ctx, "svc-1")
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "ok", records[0].Answer)

	require.NoError(t, f.eng.SetAnswer(ctx, testKey, "defect"))
	require.NoError(t, f.sync.Drain(ctx))

	records, err = f.fake.ListAnswerRecords(ctx, "svc-1")
	require.NoError(t, err)
	assert.Equal(t, "defect", records[0].Answer)
	assert.Equal(t, 1, f.fake.CreateCalls)
}

func TestDeletePhoto_DropsDisplayImmediately(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	ref, err := f.eng.CapturePhoto(ctx, testKey, []byte("jpeg"), "", nil)
	require.NoError(t, err)
	require.NoError(t, f.sync.Drain(ctx))

	got, err := f.store.Get(ctx, ref)
	require.NoError(t, err)
	remoteRef := models.RemoteRef(got.RemoteID)

	require.NoError(t, f.eng.DeletePhoto(ctx, remoteRef))

	state, err := f.eng.QuestionState(ctx, testKey)
	require.NoError(t, err)
	assert.Empty(t, state.Photos)
	assert.False(t, f.cache.Has(remoteRef.String()))

	// remote teardown happens on the next drain
	require.NoError(t, f.sync.Drain(ctx))
	parentRemote := mustRemoteParent(t, f)
	assert.Zero(t, f.fake.AttachmentCount(parentRemote))
}

func TestRetryPhoto(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	ref, err := f.eng.CapturePhoto(ctx, testKey, []byte("jpeg"), "", nil)
	require.NoError(t, err)

	// parent create succeeds, uploads keep failing past the attempt cap
	f.fake.FailUploads(100)
	require.NoError(t, f.sync.Drain(ctx))
	require.NoError(t, f.sync.Drain(ctx))

	got, err := f.store.Get(ctx, ref)
	require.NoError(t, err)
	require.Equal(t, models.StatusFailed, got.Status)

	f.fake.FailUploads(0)
	require.NoError(t, f.eng.RetryPhoto(ctx, ref))
	require.NoError(t, f.sync.Drain(ctx))

	got, err = f.store.Get(ctx, ref)
	require.NoError(t, err)
	assert.Equal(t, models.StatusSynced, got.Status)
}

func TestRestore_ReusesPendingCreateAfterRestart(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	// captured offline: the create and the upload stay queued
	_, err := f.eng.CapturePhoto(ctx, testKey, []byte("one"), "", nil)
	require.NoError(t, err)

	f2 := restart(t, f)
	_, err = f2.eng.CapturePhoto(ctx, testKey, []byte("two"), "", nil)
	require.NoError(t, err)

	require.NoError(t, f2.sync.Drain(ctx))

	// one answer record for the question, both photos under it
	assert.Equal(t, 1, f2.fake.CreateCalls)
	require.Equal(t, 1, f2.fake.RecordCount())
	assert.Equal(t, 2, f2.fake.AttachmentCount(mustRemoteParent(t, f2)))

	ops, err := f2.store.Ops().List(ctx)
	require.NoError(t, err)
	assert.Empty(t, ops)
}

func TestRestore_RebuildsQuestionStateFromQueue(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	require.NoError(t, f.eng.SetAnswer(ctx, testKey, "ok"))

	f2 := restart(t, f)

	state, err := f2.eng.QuestionState(ctx, testKey)
	require.NoError(t, err)
	assert.True(t, state.Selected)
	assert.Equal(t, "ok", state.Answer)

	// the restored handle keeps patches flowing to the one record
	require.NoError(t, f2.eng.SetAnswer(ctx, testKey, "defect"))
	require.NoError(t, f2.sync.Drain(ctx))

	records, err := f2.fake.ListAnswerRecords(ctx, "svc-1")
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "defect", records[0].Answer)
}

func TestApplyRemoteSnapshot_AdoptsForeignRecords(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	created, err := f.fake.CreateAnswerRecord(ctx, remote.RecordData{
		TemplateID: testTemplate.TemplateID,
		Name:       testTemplate.Name,
		Category:   testTemplate.Category,
		Kind:       testTemplate.Kind,
		Answer:     "ok",
	})
	require.NoError(t, err)
	up, err := f.fake.UploadBinary(ctx, created.RemoteID, []byte("foreign"), "from office")
	require.NoError(t, err)

	require.NoError(t, f.eng.ApplyRemoteSnapshot(ctx))

	state, err := f.eng.QuestionState(ctx, testKey)
	require.NoError(t, err)
	assert.True(t, state.Selected)
	assert.Equal(t, "ok", state.Answer)
	require.Len(t, state.Photos, 1)
	assert.Equal(t, models.RemoteRef(up.AttachmentID), state.Photos[0].Ref)
	assert.Equal(t, "from office", state.Photos[0].Caption)

	// the binary is fetchable on demand even before any cache refresh
	b, err := f.eng.Photo(ctx, models.RemoteRef(up.AttachmentID))
	require.NoError(t, err)
	assert.Equal(t, []byte("foreign"), b)
}

func TestApplyRemoteSnapshot_ResolvesPendingCreate(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	// capture while offline: create + upload queued
	ref, err := f.eng.CapturePhoto(ctx, testKey, []byte("jpeg"), "", nil)
	require.NoError(t, err)

	// meanwhile another device created the record
	created, err := f.fake.CreateAnswerRecord(ctx, remote.RecordData{
		TemplateID: testTemplate.TemplateID,
		Name:       testTemplate.Name,
		Category:   testTemplate.Category,
		Kind:       testTemplate.Kind,
	})
	require.NoError(t, err)
	f.fake.CreateCalls = 0

	require.NoError(t, f.eng.ApplyRemoteSnapshot(ctx))
	require.NoError(t, f.sync.Drain(ctx))

	// the queued create deduplicated against the adopted record
	assert.Zero(t, f.fake.CreateCalls)
	assert.Equal(t, 1, f.fake.AttachmentCount(created.RemoteID))

	got, err := f.store.Get(ctx, ref)
	require.NoError(t, err)
	assert.Equal(t, models.StatusSynced, got.Status)
}

func TestApplyRemoteSnapshot_KeepsUnpushedAnswer(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	require.NoError(t, f.eng.SetAnswer(ctx, testKey, "local edit"))

	_, err := f.fake.CreateAnswerRecord(ctx, remote.RecordData{
		TemplateID: testTemplate.TemplateID,
		Name:       testTemplate.Name,
		Category:   testTemplate.Category,
		Kind:       testTemplate.Kind,
		Answer:     "stale remote",
	})
	require.NoError(t, err)

	require.NoError(t, f.eng.ApplyRemoteSnapshot(ctx))

	state, err := f.eng.QuestionState(ctx, testKey)
	require.NoError(t, err)
	assert.Equal(t, "local edit", state.Answer)
}

func TestApplyRemoteSnapshot_RequeuesVanishedUpload(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	ref, err := f.eng.CapturePhoto(ctx, testKey, []byte("jpeg"), "", nil)
	require.NoError(t, err)
	require.NoError(t, f.sync.Drain(ctx))

	got, err := f.store.Get(ctx, ref)
	require.NoError(t, err)
	require.NotEmpty(t, got.RemoteID)

	// the attachment vanished server-side
	require.NoError(t, f.fake.DeleteAttachment(ctx, got.RemoteID))

	require.NoError(t, f.eng.ApplyRemoteSnapshot(ctx))
	require.NoError(t, f.sync.Drain(ctx))

	parentRemote := mustRemoteParent(t, f)
	assert.Equal(t, 1, f.fake.AttachmentCount(parentRemote))

	got, err = f.store.Get(ctx, models.LocalRef(got.LocalID))
	require.NoError(t, err)
	assert.Equal(t, models.StatusSynced, got.Status)
}

func mustRemoteParent(t *testing.T, f *fixture) string {
	t.Helper()
	records, err := f.fake.ListAnswerRecords(context.Background(), "svc-1")
	require.NoError(t, err)
	require.Len(t, records, 1)
	return records[0].RemoteID
}
