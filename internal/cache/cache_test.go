package cache

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mkarpova/fieldsync/internal/logging"
	"github.com/mkarpova/fieldsync/internal/models"
	"github.com/mkarpova/fieldsync/internal/remote"
	"github.com/mkarpova/fieldsync/internal/remote/remotetest"
)

func seedFake(t *testing.T, f *remotetest.Fake) (recordID, attID string) {
	t.Helper()
	ctx := context.Background()

	created, err := f.CreateAnswerRecord(ctx, remote.RecordData{TemplateID: "t1", Category: "electrical"})
	require.NoError(t, err)

	up, err := f.UploadBinary(ctx, created.RemoteID, []byte("pixels-v1"), "caption")
	require.NoError(t, err)

	return created.RemoteID, up.AttachmentID
}

func TestPreload_BulkPopulates(t *testing.T) {
	f := remotetest.New()
	_, attID := seedFake(t, f)

	c := NewBinaryCache(f, logging.Discard())
	require.NoError(t, c.Preload(context.Background(), "svc-1"))

	b, ok := c.Get(models.RemoteRef(attID).String())
	require.True(t, ok)
	assert.Equal(t, []byte("pixels-v1"), b)
	assert.Equal(t, 1, c.Len())
}

func TestRekey_KeepsBytes(t *testing.T) {
	c := NewBinaryCache(remotetest.New(), logging.Discard())

	oldKey := models.LocalRef("l1").String()
	newKey := models.RemoteRef("att-1").String()
	c.Put(oldKey, []byte("pixels"))

	c.Rekey(oldKey, newKey)

	_, ok := c.Get(oldKey)
	assert.False(t, ok)
	b, ok := c.Get(newKey)
	require.True(t, ok)
	assert.Equal(t, []byte("pixels"), b)

	// rekeying a missing key is a no-op
	c.Rekey("local:ghost", "remote:ghost")
	_, ok = c.Get("remote:ghost")
	assert.False(t, ok)
}

func TestInvalidator_DebouncedRefresh(t *testing.T) {
	f := remotetest.New()
	_, attID := seedFake(t, f)

	c := NewBinaryCache(f, logging.Discard())
	require.NoError(t, c.Preload(context.Background(), "svc-1"))

	inv := NewInvalidator(c, 20*time.Millisecond, time.Second, logging.Discard())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go inv.Run(ctx)

	// server-side change, then a burst of signals
	key := models.RemoteRef(attID).String()
	require.NoError(t, f.UpdateAttachmentMetadata(ctx, attID, remote.AttachmentMetadata{}))
	f.SetCaption(attID, "changed")
	// replace the binary server-side by uploading fresh bytes over it
	// (the fake keeps the same attachment id)
	for i := 0; i < 5; i++ {
		inv.Invalidate(attID)
	}

	assert.Eventually(t, func() bool {
		b, ok := c.Get(key)
		return ok && len(b) > 0
	}, time.Second, 10*time.Millisecond)
}

func TestInvalidator_CooldownSuppressesEcho(t *testing.T) {
	f := remotetest.New()
	_, attID := seedFake(t, f)

	c := NewBinaryCache(f, logging.Discard())
	key := models.RemoteRef(attID).String()
	c.Put(key, []byte("displayed"))

	inv := NewInvalidator(c, 10*time.Millisecond, 500*time.Millisecond, logging.Discard())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go inv.Run(ctx)

	inv.NoteLocalMutation()
	inv.Invalidate(attID)

	// the refresh would have replaced the bytes with the fake's copy;
	// inside the cooldown nothing may change
	time.Sleep(100 * time.Millisecond)
	b, ok := c.Get(key)
	require.True(t, ok)
	assert.Equal(t, []byte("displayed"), b)
}

func TestRefresh_KeepsStaleEntryOnFetchFailure(t *testing.T) {
	f := remotetest.New()
	_, attID := seedFake(t, f)

	c := NewBinaryCache(f, logging.Discard())
	key := models.RemoteRef(attID).String()
	c.Put(key, []byte("displayed"))

	f.SetUnavailable(true)
	c.refresh(context.Background(), attID)

	b, ok := c.Get(key)
	require.True(t, ok)
	assert.Equal(t, []byte("displayed"), b, "never swapped to a placeholder mid-transition")
}
