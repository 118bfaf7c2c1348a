// Package reconcile rewrites every reference to a temporary identifier to
// its server-issued identifier once a sync succeeds. The rewrite happens
// under the owning key's critical section, so readers never observe a
// half-renamed record, and it is idempotent.
package reconcile

import (
	"context"
	"errors"

	"github.com/mkarpova/fieldsync/internal/faults"
	"github.com/mkarpova/fieldsync/internal/logging"
	"github.com/mkarpova/fieldsync/internal/models"
	"github.com/mkarpova/fieldsync/internal/store"
)

// Rekeyer is the cache-side hook: move an entry from the temporary ref key
// to the remote ref key without touching the bytes.
type Rekeyer interface {
	Rekey(oldKey, newKey string)
}

type noopRekeyer struct{}

func (noopRekeyer) Rekey(_, _ string) {}

// Reconciler promotes local identifiers to remote identifiers across the
// store, the id mapping and the display cache.
type Reconciler struct {
	store *store.Store
	cache Rekeyer
	log   logging.Logger
}

func New(s *store.Store, cache Rekeyer, log logging.Logger) *Reconciler {
	if cache == nil {
		cache = noopRekeyer{}
	}
	return &Reconciler{store: s, cache: cache, log: log.With("component", "reconcile")}
}

// Reconcile records localID→remoteID and rewrites the attachment record, if
// one exists, keeping caption, drawing and the LocalUpdate flag untouched.
// The pre-rewrite identifier is kept as a breadcrumb so an edit session
// opened before the swap still resolves. Applying the same arguments twice
// yields the same state as applying them once.
func (r *Reconciler) Reconcile(ctx context.Context, key models.QuestionKey, localID, remoteID string) error {
	unlock := r.store.LockKey(key)
	defer unlock()

	if err := r.store.IDMap().Put(ctx, localID, remoteID); err != nil {
		return err
	}

	rec, err := r.store.Attachments().GetByLocalID(ctx, localID)
	if errors.Is(err, faults.ErrNotFound) {
		// a parent record create has no attachment row; the mapping is all
		// there is to write
		return nil
	}
	if err != nil {
		return err
	}

	if rec.RemoteID == remoteID {
		return nil
	}

	rec.RemoteID = remoteID
	rec.PreviousLocalID = localID
	if err := r.store.Attachments().Update(ctx, rec); err != nil {
		return err
	}

	r.cache.Rekey(models.LocalRef(localID).String(), models.RemoteRef(remoteID).String())

	r.log.Debug(ctx, "reconciled identifier", "key", key.String(), "local_id", localID, "remote_id", remoteID)
	return nil
}

// Resolve maps a possibly-temporary reference to the newest known form.
func (r *Reconciler) Resolve(ctx context.Context, ref models.AttachmentRef) (models.AttachmentRef, error) {
	if ref.IsRemote() {
		return ref, nil
	}
	remoteID, err := r.store.IDMap().RemoteFor(ctx, ref.ID())
	if err != nil {
		return models.AttachmentRef{}, err
	}
	if remoteID == "" {
		return ref, nil
	}
	return models.RemoteRef(remoteID), nil
}
