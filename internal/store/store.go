// Package store implements the local attachment store: the single mutable
// source of truth for every photograph of the session. All mutations to one
// question key are serialized; the upload queue and the display cache hold
// identifiers into this store, never copies of mutable fields.
package store

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/mkarpova/fieldsync/internal/annotation"
	"github.com/mkarpova/fieldsync/internal/dbx"
	"github.com/mkarpova/fieldsync/internal/faults"
	"github.com/mkarpova/fieldsync/internal/logging"
	"github.com/mkarpova/fieldsync/internal/models"
	"github.com/mkarpova/fieldsync/internal/repositories/attachments"
	"github.com/mkarpova/fieldsync/internal/repositories/idmap"
	"github.com/mkarpova/fieldsync/internal/repositories/pendingops"
)

// Parent locates the visual record a new photograph belongs to: either the
// remote id when the record already exists, or the local id of its queued
// create operation.
type Parent struct {
	RemoteID string
	LocalID  string
}

// Store owns all AttachmentRecords and the durable queue writes that go
// with them. Multi-table mutations run in one transaction so a crash never
// leaves a photo without its queue entry.
type Store struct {
	db    *sql.DB
	att   attachments.Repository
	ops   pendingops.Repository
	ids   idmap.Repository
	locks *keyLocks
	log   logging.Logger
}

func New(db *sql.DB, log logging.Logger) *Store {
	return &Store{
		db:    db,
		att:   attachments.NewSQLiteRepository(db),
		ops:   pendingops.NewSQLiteRepository(db),
		ids:   idmap.NewSQLiteRepository(db),
		locks: newKeyLocks(),
		log:   log.With("component", "store"),
	}
}

// LockKey serializes the caller with every other mutation of key. Returns
// the unlock function.
func (s *Store) LockKey(key models.QuestionKey) func() {
	return s.locks.lock(key)
}

// Attachments exposes the record repository for read paths.
func (s *Store) Attachments() attachments.Repository { return s.att }

// Ops exposes the durable queue repository.
func (s *Store) Ops() pendingops.Repository { return s.ops }

// IDMap exposes the temporary→remote identifier mapping.
func (s *Store) IDMap() idmap.Repository { return s.ids }

// Capture stores a new photograph durably and enqueues its upload, all in
// one transaction. The record starts local_only when the parent record does
// not exist remotely yet, queued otherwise.
func (s *Store) Capture(ctx context.Context, key models.QuestionKey, binary []byte, caption string, drawing []byte, parent Parent) (*models.AttachmentRecord, error) {
	if len(binary) == 0 {
		return nil, faults.Validationf("empty photo payload")
	}
	if len(drawing) == 0 {
		drawing = annotation.Empty()
	}

	unlock := s.locks.lock(key)
	defer unlock()

	rec := &models.AttachmentRecord{
		LocalID:   uuid.NewString(),
		Key:       key,
		Binary:    binary,
		Caption:   caption,
		Drawing:   drawing,
		UpdatedAt: time.Now().UTC(),
	}

	op := &models.PendingOp{
		Kind:    models.OpUploadBinary,
		Key:     key,
		LocalID: rec.LocalID,
	}

	if parent.RemoteID != "" {
		rec.Status = models.StatusQueued
		payload, err := json.Marshal(models.UploadBinaryPayload{ParentRemoteID: parent.RemoteID})
		if err != nil {
			return nil, err
		}
		op.Payload = payload
	} else {
		rec.Status = models.StatusLocalOnly
		op.DependsOn = parent.LocalID
	}

	err := dbx.WithTx(ctx, s.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		if err := attachments.NewSQLiteRepository(tx).Insert(ctx, rec); err != nil {
			return err
		}
		return pendingops.NewSQLiteRepository(tx).Enqueue(ctx, op)
	})
	if err != nil {
		return nil, fmt.Errorf("capture: %w", err)
	}

	s.log.Debug(ctx, "captured photo", "key", key.String(), "local_id", rec.LocalID, "status", string(rec.Status))
	return rec, nil
}

// EnqueueOp appends an operation for key under the key's lock.
func (s *Store) EnqueueOp(ctx context.Context, op *models.PendingOp) error {
	unlock := s.locks.lock(op.Key)
	defer unlock()
	return s.ops.Enqueue(ctx, op)
}

// Get resolves a record by whichever identifier the caller knows. After
// reconciliation both identifiers resolve to the same row.
func (s *Store) Get(ctx context.Context, ref models.AttachmentRef) (*models.AttachmentRecord, error) {
	if ref.IsRemote() {
		return s.att.GetByRemoteID(ctx, ref.ID())
	}
	return s.att.GetByLocalID(ctx, ref.ID())
}

// ListByKey returns the displayable records for one question key.
func (s *Store) ListByKey(ctx context.Context, key models.QuestionKey) ([]*models.AttachmentRecord, error) {
	return s.att.ListByKey(ctx, key)
}

// SetCaption applies a local caption edit. The edit sets LocalUpdate, so
// stale inbound reads cannot overwrite it; for synced and uploading records
// a metadata push is enqueued.
func (s *Store) SetCaption(ctx context.Context, ref models.AttachmentRef, text string) error {
	return s.editMutable(ctx, ref, func(rec *models.AttachmentRecord) models.UpdateMetadataPayload {
		rec.Caption = text
		return models.UpdateMetadataPayload{Caption: &text}
	})
}

// SetDrawing applies a local annotation edit; payload must already be
// codec-encoded.
func (s *Store) SetDrawing(ctx context.Context, ref models.AttachmentRef, payload []byte) error {
	if len(payload) == 0 {
		payload = annotation.Empty()
	}
	return s.editMutable(ctx, ref, func(rec *models.AttachmentRecord) models.UpdateMetadataPayload {
		rec.Drawing = payload
		return models.UpdateMetadataPayload{Drawing: payload}
	})
}

func (s *Store) editMutable(ctx context.Context, ref models.AttachmentRef, apply func(*models.AttachmentRecord) models.UpdateMetadataPayload) error {
	rec, err := s.Get(ctx, ref)
	if err != nil {
		return err
	}

	unlock := s.locks.lock(rec.Key)
	defer unlock()

	// reload under the lock; the first read only located the key
	rec, err = s.att.GetByLocalID(ctx, rec.LocalID)
	if err != nil {
		return err
	}

	patch := apply(rec)
	rec.LocalUpdate = true
	rec.UpdatedAt = time.Now().UTC()

	if rec.Status != models.StatusSynced && rec.Status != models.StatusUploading {
		// the pending upload reads the record at drain time and carries the
		// newest caption/drawing with it
		return s.att.Update(ctx, rec)
	}

	payload, err := json.Marshal(patch)
	if err != nil {
		return err
	}
	op := &models.PendingOp{
		Kind:    models.OpUpdateMetadata,
		Key:     rec.Key,
		LocalID: rec.LocalID,
		Payload: payload,
	}
	if rec.Status == models.StatusUploading {
		// the in-flight worker already read its copy of the record; hold the
		// push until the upload resolves the record's remote id
		op.DependsOn = rec.LocalID
	}

	return dbx.WithTx(ctx, s.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		if err := attachments.NewSQLiteRepository(tx).Update(ctx, rec); err != nil {
			return err
		}
		return pendingops.NewSQLiteRepository(tx).Enqueue(ctx, op)
	})
}

// Delete removes a photograph. Local-only and queued records disappear with
// no network effect; records with a remote copy (or an upload in flight)
// are soft-deleted and a tombstone operation removes the remote copy.
func (s *Store) Delete(ctx context.Context, ref models.AttachmentRef) error {
	rec, err := s.Get(ctx, ref)
	if err != nil {
		return err
	}

	unlock := s.locks.lock(rec.Key)
	defer unlock()

	rec, err = s.att.GetByLocalID(ctx, rec.LocalID)
	if err != nil {
		return err
	}

	switch {
	case rec.RemoteID != "":
		return s.deleteRemote(ctx, rec, models.DeleteAttachmentPayload{AttachmentID: rec.RemoteID}, "")

	case rec.Status == models.StatusUploading:
		// the in-flight upload runs to completion; the tombstone is held on
		// the record's own local id until the upload result resolves it
		return s.deleteRemote(ctx, rec, models.DeleteAttachmentPayload{}, rec.LocalID)

	default:
		return dbx.WithTx(ctx, s.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
			if _, err := pendingops.NewSQLiteRepository(tx).DeleteByLocalID(ctx, rec.LocalID); err != nil {
				return err
			}
			return attachments.NewSQLiteRepository(tx).Delete(ctx, rec.LocalID)
		})
	}
}

func (s *Store) deleteRemote(ctx context.Context, rec *models.AttachmentRecord, payload models.DeleteAttachmentPayload, dependsOn string) error {
	b, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	op := &models.PendingOp{
		Kind:      models.OpDeleteAttachment,
		Key:       rec.Key,
		LocalID:   rec.LocalID,
		DependsOn: dependsOn,
		Payload:   b,
	}

	rec.Deleted = true
	rec.UpdatedAt = time.Now().UTC()

	return dbx.WithTx(ctx, s.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		txOps := pendingops.NewSQLiteRepository(tx)
		// cancel queued work for the record before appending the tombstone
		if _, err := txOps.DeleteByLocalID(ctx, rec.LocalID); err != nil {
			return err
		}
		if err := attachments.NewSQLiteRepository(tx).Update(ctx, rec); err != nil {
			return err
		}
		return txOps.Enqueue(ctx, op)
	})
}

// Transition moves a record through the status machine, rejecting illegal
// changes.
func (s *Store) Transition(ctx context.Context, localID string, to models.AttachmentStatus) error {
	rec, err := s.att.GetByLocalID(ctx, localID)
	if err != nil {
		return err
	}

	unlock := s.locks.lock(rec.Key)
	defer unlock()

	rec, err = s.att.GetByLocalID(ctx, localID)
	if err != nil {
		return err
	}
	if rec.Status == to {
		return nil
	}
	if !models.CanTransition(rec.Status, to) {
		return fmt.Errorf("illegal transition %s -> %s for %s", rec.Status, to, localID)
	}
	rec.Status = to
	rec.UpdatedAt = time.Now().UTC()
	return s.att.Update(ctx, rec)
}

// Recover repairs state left by a process that died mid-drain: records a
// dead worker owned go back to queued, and soft-deleted records whose
// tombstone can never resolve are removed outright.
func (s *Store) Recover(ctx context.Context) error {
	stuck, err := s.att.ListByStatus(ctx, models.StatusUploading)
	if err != nil {
		return err
	}
	for _, rec := range stuck {
		if rec.Deleted && rec.RemoteID == "" {
			// deleted while uploading and the upload never finished; with the
			// worker gone there is no remote copy to tear down
			if _, err := s.ops.DeleteByLocalID(ctx, rec.LocalID); err != nil {
				return err
			}
			if err := s.att.Delete(ctx, rec.LocalID); err != nil {
				return err
			}
			continue
		}

		rec.Status = models.StatusQueued
		rec.UpdatedAt = time.Now().UTC()
		if err := s.att.Update(ctx, rec); err != nil {
			return err
		}
		s.log.Info(ctx, "requeued interrupted upload", "local_id", rec.LocalID)
	}
	return nil
}

// ApplySyncRead folds the server's view of one question's attachments into
// the store. Records with LocalUpdate set keep their caption/drawing until
// the server matches them (local-wins); unknown server attachments are
// adopted as synced records. Returns local synced records whose remote copy
// vanished and therefore need recreation.
func (s *Store) ApplySyncRead(ctx context.Context, key models.QuestionKey, remoteAtts []models.RemoteAttachment) ([]*models.AttachmentRecord, error) {
	unlock := s.locks.lock(key)
	defer unlock()

	seen := make(map[string]bool, len(remoteAtts))

	for _, ra := range remoteAtts {
		seen[ra.AttachmentID] = true

		rec, err := s.att.GetByRemoteID(ctx, ra.AttachmentID)
		if errors.Is(err, faults.ErrNotFound) {
			// server-side attachment this client has never seen
			rec = &models.AttachmentRecord{
				LocalID:   uuid.NewString(),
				RemoteID:  ra.AttachmentID,
				Key:       key,
				Status:    models.StatusSynced,
				Binary:    []byte{},
				Caption:   ra.Caption,
				Drawing:   normalizeDrawing(ra.Drawing),
				UpdatedAt: time.Now().UTC(),
			}
			if err := s.att.Insert(ctx, rec); err != nil {
				return nil, err
			}
			continue
		}
		if err != nil {
			return nil, err
		}
		if rec.Deleted {
			continue
		}
		if rec.Status != models.StatusSynced {
			// the upload pipeline still owns this record; its caption and
			// drawing have not reached the server yet
			continue
		}

		if rec.LocalUpdate {
			if rec.Caption == ra.Caption && drawingsEqual(rec.Drawing, ra.Drawing) {
				// server caught up; parity confirmed
				rec.LocalUpdate = false
				if err := s.att.Update(ctx, rec); err != nil {
					return nil, err
				}
			}
			// otherwise the read is stale: keep local values untouched
			continue
		}

		if rec.Caption != ra.Caption || !drawingsEqual(rec.Drawing, ra.Drawing) {
			rec.Caption = ra.Caption
			rec.Drawing = normalizeDrawing(ra.Drawing)
			if err := s.att.Update(ctx, rec); err != nil {
				return nil, err
			}
		}
	}

	// synced records missing from the server view vanished remotely and
	// need recreation
	local, err := s.att.ListByKey(ctx, key)
	if err != nil {
		return nil, err
	}
	var orphaned []*models.AttachmentRecord
	for _, rec := range local {
		if rec.Status != models.StatusSynced || rec.RemoteID == "" || seen[rec.RemoteID] {
			continue
		}
		if len(rec.Binary) == 0 {
			// nothing left to re-upload; drop the shell record
			s.log.Warn(ctx, "remote attachment vanished with no local binary", "remote_id", rec.RemoteID)
			if err := s.att.Delete(ctx, rec.LocalID); err != nil {
				return nil, err
			}
			continue
		}
		rec.PreviousLocalID = ""
		rec.RemoteID = ""
		rec.Status = models.StatusLocalOnly
		rec.UpdatedAt = time.Now().UTC()
		if err := s.att.Update(ctx, rec); err != nil {
			return nil, err
		}
		orphaned = append(orphaned, rec)
	}
	return orphaned, nil
}

func normalizeDrawing(b []byte) []byte {
	if len(b) == 0 {
		return annotation.Empty()
	}
	return b
}

func drawingsEqual(a, b []byte) bool {
	if annotation.IsEmpty(a) && annotation.IsEmpty(b) {
		return true
	}
	return bytes.Equal(a, b)
}
