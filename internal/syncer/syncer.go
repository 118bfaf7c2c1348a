// Package syncer drains the durable operation queue against the remote
// store. A fixed-size worker pool processes one question key at a time per
// worker; each worker owns its operations end-to-end: remote call, result
// parse, identifier reconciliation, store update, queue ack.
package syncer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/sethvargo/go-retry"
	"golang.org/x/sync/semaphore"

	"github.com/mkarpova/fieldsync/internal/faults"
	"github.com/mkarpova/fieldsync/internal/logging"
	"github.com/mkarpova/fieldsync/internal/models"
	"github.com/mkarpova/fieldsync/internal/reconcile"
	"github.com/mkarpova/fieldsync/internal/remote"
	"github.com/mkarpova/fieldsync/internal/store"
)

const (
	// DefaultWorkers bounds concurrent uploads so a drain never saturates
	// the device radio.
	DefaultWorkers = 3
	// DefaultMaxAttempts caps transient retries before a record goes failed.
	DefaultMaxAttempts = 5

	backoffBase = 200 * time.Millisecond
)

// Syncer owns the drain cycle.
type Syncer struct {
	store   *store.Store
	remote  remote.Store
	rec     *reconcile.Reconciler
	log     logging.Logger
	workers int64
	maxTry  int

	kick chan struct{}
}

func New(s *store.Store, r remote.Store, rec *reconcile.Reconciler, workers, maxAttempts int, log logging.Logger) *Syncer {
	if workers <= 0 {
		workers = DefaultWorkers
	}
	if maxAttempts <= 0 {
		maxAttempts = DefaultMaxAttempts
	}
	return &Syncer{
		store:   s,
		remote:  r,
		rec:     rec,
		log:     log.With("component", "syncer"),
		workers: int64(workers),
		maxTry:  maxAttempts,
		kick:    make(chan struct{}, 1),
	}
}

// Kick requests an immediate drain, e.g. on a connectivity change.
// Non-blocking; a pending kick is enough.
func (s *Syncer) Kick() {
	select {
	case s.kick <- struct{}{}:
	default:
	}
}

// Run drains on every interval tick and on every Kick until ctx is done.
func (s *Syncer) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
		case <-s.kick:
		case <-ctx.Done():
			return
		}

		if err := s.Drain(ctx); err != nil {
			s.log.Warn(ctx, "drain failed", "error", err)
		}
	}
}

// Drain processes every eligible queued operation once. Operations whose
// dependency has not resolved are held for the next cycle, never dropped.
// Per key, operations run in submission order; across keys they run
// concurrently on the worker pool.
func (s *Syncer) Drain(ctx context.Context) error {
	ops, err := s.store.Ops().List(ctx)
	if err != nil {
		return fmt.Errorf("list pending operations: %w", err)
	}
	if len(ops) == 0 {
		return nil
	}

	// group by key, preserving submission order inside each group
	groups := make(map[models.QuestionKey][]*models.PendingOp)
	var order []models.QuestionKey
	for _, op := range ops {
		if _, ok := groups[op.Key]; !ok {
			order = append(order, op.Key)
		}
		groups[op.Key] = append(groups[op.Key], op)
	}

	sem := semaphore.NewWeighted(s.workers)
	for _, key := range order {
		if err := sem.Acquire(ctx, 1); err != nil {
			return err
		}
		go func(key models.QuestionKey, ops []*models.PendingOp) {
			defer sem.Release(1)
			s.drainKey(ctx, key, ops)
		}(key, groups[key])
	}

	// wait for every worker
	if err := sem.Acquire(ctx, s.workers); err != nil {
		return err
	}
	sem.Release(s.workers)
	return nil
}

func (s *Syncer) drainKey(ctx context.Context, key models.QuestionKey, ops []*models.PendingOp) {
	for _, op := range ops {
		held, err := s.process(ctx, op)
		if held {
			continue
		}
		if err != nil {
			s.log.Warn(ctx, "operation failed", "kind", string(op.Kind), "key", key.String(), "seq", op.Seq, "error", err)
			// later operations for this key likely depend on this one
			return
		}
	}
}

// process executes one operation. held=true means the dependency is not
// resolved yet and the operation stays queued untouched.
func (s *Syncer) process(ctx context.Context, op *models.PendingOp) (held bool, err error) {
	if op.Attempts >= s.maxTry {
		// exhausted; waits for a manual retry
		return true, nil
	}

	parentRemote := ""
	if op.DependsOn != "" {
		parentRemote, err = s.store.IDMap().RemoteFor(ctx, op.DependsOn)
		if err != nil {
			return false, err
		}
		if parentRemote == "" {
			s.log.Debug(ctx, "operation held", "kind", string(op.Kind), "seq", op.Seq, "depends_on", op.DependsOn)
			return true, nil
		}
	}

	switch op.Kind {
	case models.OpCreateRecord:
		err = s.createRecord(ctx, op)
	case models.OpUpdateRecord:
		err = s.updateRecord(ctx, op)
	case models.OpUploadBinary:
		err = s.uploadBinary(ctx, op, parentRemote)
	case models.OpUpdateMetadata:
		err = s.updateMetadata(ctx, op)
	case models.OpDeleteAttachment:
		err = s.deleteAttachment(ctx, op, parentRemote)
	default:
		err = faults.Validationf("unknown operation kind %q", op.Kind)
	}

	if err == nil {
		return false, s.ack(ctx, op)
	}
	return false, s.fail(ctx, op, err)
}

// call wraps one remote invocation with in-pass backoff for transient
// failures.
func (s *Syncer) call(ctx context.Context, fn func(ctx context.Context) error) error {
	b := retry.WithMaxRetries(2, retry.NewFibonacci(backoffBase))
	return retry.Do(ctx, b, func(ctx context.Context) error {
		err := fn(ctx)
		if faults.IsRetryable(err) {
			return retry.RetryableError(err)
		}
		return err
	})
}

func (s *Syncer) createRecord(ctx context.Context, op *models.PendingOp) error {
	var p models.CreateRecordPayload
	if err := json.Unmarshal(op.Payload, &p); err != nil {
		return faults.Validationf("create payload: %v", err)
	}

	// a mapping left by a previous partial success means the record exists;
	// creating again would duplicate it
	if existing, err := s.store.IDMap().RemoteFor(ctx, op.LocalID); err != nil {
		return err
	} else if existing != "" {
		return nil
	}

	var created remote.Created
	err := s.call(ctx, func(ctx context.Context) error {
		var err error
		created, err = s.remote.CreateAnswerRecord(ctx, remote.RecordData{
			TemplateID: p.TemplateID,
			Name:       p.Name,
			Category:   p.Category,
			Kind:       p.Kind,
			Answer:     p.Answer,
			Hidden:     p.Hidden,
		})
		return err
	})
	if err != nil {
		return err
	}

	// record the mapping before ack: a crash between the two leaves a
	// resolvable mapping, not a duplicate create
	if err := s.rec.Reconcile(ctx, op.Key, op.LocalID, created.RemoteID); err != nil {
		return err
	}

	// photos captured while the parent was missing become eligible
	return s.promoteLocalOnly(ctx, op.Key)
}

func (s *Syncer) promoteLocalOnly(ctx context.Context, key models.QuestionKey) error {
	recs, err := s.store.ListByKey(ctx, key)
	if err != nil {
		return err
	}
	for _, rec := range recs {
		if rec.Status != models.StatusLocalOnly {
			continue
		}
		if err := s.store.Transition(ctx, rec.LocalID, models.StatusQueued); err != nil {
			return err
		}
	}
	return nil
}

func (s *Syncer) updateRecord(ctx context.Context, op *models.PendingOp) error {
	var p models.UpdateRecordPayload
	if err := json.Unmarshal(op.Payload, &p); err != nil {
		return faults.Validationf("update payload: %v", err)
	}

	remoteID, err := s.store.IDMap().RemoteFor(ctx, op.LocalID)
	if err != nil {
		return err
	}
	if remoteID == "" {
		// the record's own local id doubles as the dependency here
		return faults.Transientf("record %s has no remote id yet", op.LocalID)
	}

	return s.call(ctx, func(ctx context.Context) error {
		return s.remote.UpdateAnswerRecord(ctx, remoteID, remote.RecordPatch{Answer: p.Answer, Hidden: p.Hidden})
	})
}

func (s *Syncer) uploadBinary(ctx context.Context, op *models.PendingOp, parentRemote string) error {
	if parentRemote == "" {
		var p models.UploadBinaryPayload
		if err := json.Unmarshal(op.Payload, &p); err != nil {
			return faults.Validationf("upload payload: %v", err)
		}
		parentRemote = p.ParentRemoteID
	}
	if parentRemote == "" {
		return faults.Validationf("upload %s has no parent record", op.LocalID)
	}

	rec, err := s.store.Get(ctx, models.LocalRef(op.LocalID))
	if err != nil {
		return err
	}
	if rec.RemoteID != "" {
		// a crash or retry raced a partial success: the binary is already
		// remote, but the caption/drawing push and the final transition may
		// not have happened. Replay the metadata; skipping it here would
		// settle the record with the server missing the annotation.
		if rec.Status == models.StatusSynced {
			return nil
		}
		if rec.Status != models.StatusUploading {
			if err := s.store.Transition(ctx, rec.LocalID, models.StatusUploading); err != nil {
				return err
			}
		}
		caption := rec.Caption
		err := s.call(ctx, func(ctx context.Context) error {
			return s.remote.UpdateAttachmentMetadata(ctx, rec.RemoteID, remote.AttachmentMetadata{Caption: &caption, Drawing: rec.Drawing})
		})
		if err != nil {
			return err
		}
		return s.store.Transition(ctx, rec.LocalID, models.StatusSynced)
	}

	if rec.Status == models.StatusLocalOnly {
		if err := s.store.Transition(ctx, rec.LocalID, models.StatusQueued); err != nil {
			return err
		}
	}
	if err := s.store.Transition(ctx, rec.LocalID, models.StatusUploading); err != nil {
		return err
	}

	var up remote.Uploaded
	err = s.call(ctx, func(ctx context.Context) error {
		var err error
		up, err = s.remote.UploadBinary(ctx, parentRemote, rec.Binary, rec.Caption)
		return err
	})
	if err != nil {
		return err
	}

	if err := s.rec.Reconcile(ctx, op.Key, rec.LocalID, up.AttachmentID); err != nil {
		return err
	}

	// push the annotation in the same ownership span as the upload
	if len(rec.Drawing) > 0 {
		err = s.call(ctx, func(ctx context.Context) error {
			return s.remote.UpdateAttachmentMetadata(ctx, up.AttachmentID, remote.AttachmentMetadata{Drawing: rec.Drawing})
		})
		if err != nil {
			return err
		}
	}

	// a delete requested mid-upload is not handled here: the tombstone was
	// enqueued behind this operation and its dependency resolved with the
	// Reconcile above, so the next step of this key's group removes the
	// remote copy just created
	return s.store.Transition(ctx, rec.LocalID, models.StatusSynced)
}

func (s *Syncer) updateMetadata(ctx context.Context, op *models.PendingOp) error {
	var p models.UpdateMetadataPayload
	if err := json.Unmarshal(op.Payload, &p); err != nil {
		return faults.Validationf("metadata payload: %v", err)
	}

	ref, err := s.rec.Resolve(ctx, models.LocalRef(op.LocalID))
	if err != nil {
		return err
	}
	if !ref.IsRemote() {
		return faults.Transientf("attachment %s not uploaded yet", op.LocalID)
	}

	return s.call(ctx, func(ctx context.Context) error {
		return s.remote.UpdateAttachmentMetadata(ctx, ref.ID(), remote.AttachmentMetadata{Caption: p.Caption, Drawing: p.Drawing})
	})
}

func (s *Syncer) deleteAttachment(ctx context.Context, op *models.PendingOp, resolvedSelf string) error {
	var p models.DeleteAttachmentPayload
	if err := json.Unmarshal(op.Payload, &p); err != nil {
		return faults.Validationf("delete payload: %v", err)
	}

	attachmentID := p.AttachmentID
	if attachmentID == "" {
		attachmentID = resolvedSelf
	}
	if attachmentID == "" {
		return faults.Validationf("tombstone %s has no attachment id", op.LocalID)
	}

	err := s.call(ctx, func(ctx context.Context) error {
		err := s.remote.DeleteAttachment(ctx, attachmentID)
		if errors.Is(err, faults.ErrNotFound) {
			// already gone remotely; the tombstone's goal is met
			return nil
		}
		return err
	})
	if err != nil {
		return err
	}

	// the remote copy is gone; finish the local removal
	if err := s.store.Attachments().Delete(ctx, op.LocalID); err != nil && !errors.Is(err, faults.ErrNotFound) {
		return err
	}
	return s.store.IDMap().Delete(ctx, op.LocalID)
}

// ack removes a confirmed operation.
func (s *Syncer) ack(ctx context.Context, op *models.PendingOp) error {
	err := s.store.Ops().Delete(ctx, op.Seq)
	if errors.Is(err, faults.ErrNotFound) {
		// cancelled mid-flight; the result was still applied
		return nil
	}
	return err
}

// fail applies the retry policy: validation failures drop the operation and
// mark the record failed immediately; transient failures stay queued until
// the attempt cap, then mark the record failed but keep the operation for a
// manual retry.
func (s *Syncer) fail(ctx context.Context, op *models.PendingOp, cause error) error {
	if !faults.IsRetryable(cause) {
		if err := s.markFailed(ctx, op.LocalID); err != nil {
			return errors.Join(cause, err)
		}
		if err := s.ack(ctx, op); err != nil {
			return errors.Join(cause, err)
		}
		return cause
	}

	op.Attempts++
	if err := s.store.Ops().SetAttempts(ctx, op.Seq, op.Attempts); err != nil {
		return errors.Join(cause, err)
	}
	if op.Attempts >= s.maxTry {
		if err := s.markFailed(ctx, op.LocalID); err != nil {
			return errors.Join(cause, err)
		}
		if op.Kind == models.OpCreateRecord {
			// photos waiting on this record cannot proceed either
			if err := s.failWaiting(ctx, op.Key); err != nil {
				return errors.Join(cause, err)
			}
		}
		return cause
	}
	if err := s.release(ctx, op.LocalID); err != nil {
		return errors.Join(cause, err)
	}
	return cause
}

// release returns a record a failed worker was holding to queued, so the
// display never shows an upload in flight that nobody owns.
func (s *Syncer) release(ctx context.Context, localID string) error {
	rec, err := s.store.Get(ctx, models.LocalRef(localID))
	if errors.Is(err, faults.ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	if rec.Status != models.StatusUploading {
		return nil
	}
	return s.store.Transition(ctx, rec.LocalID, models.StatusQueued)
}

func (s *Syncer) failWaiting(ctx context.Context, key models.QuestionKey) error {
	recs, err := s.store.ListByKey(ctx, key)
	if err != nil {
		return err
	}
	for _, rec := range recs {
		if rec.Status != models.StatusLocalOnly {
			continue
		}
		if err := s.store.Transition(ctx, rec.LocalID, models.StatusFailed); err != nil {
			return err
		}
	}
	return nil
}

func (s *Syncer) markFailed(ctx context.Context, localID string) error {
	rec, err := s.store.Get(ctx, models.LocalRef(localID))
	if errors.Is(err, faults.ErrNotFound) {
		// parent-record operations have no attachment row
		return nil
	}
	if err != nil {
		return err
	}
	if rec.Status == models.StatusSynced {
		// the binary is safe remotely; only a follow-up push failed
		s.log.Warn(ctx, "dropping failed follow-up for synced record", "local_id", localID)
		return nil
	}
	return s.store.Transition(ctx, localID, models.StatusFailed)
}

// RetryFailed puts a failed record back in the queue and resets the attempt
// counters of every retained operation under its key, so a stuck parent
// create gets another chance alongside the photo itself.
func (s *Syncer) RetryFailed(ctx context.Context, ref models.AttachmentRef) error {
	rec, err := s.store.Get(ctx, ref)
	if err != nil {
		return err
	}
	if rec.Status != models.StatusFailed {
		return fmt.Errorf("record %s is %s, not failed", rec.LocalID, rec.Status)
	}

	ops, err := s.store.Ops().List(ctx)
	if err != nil {
		return err
	}
	for _, op := range ops {
		if op.Key != rec.Key || op.Attempts == 0 {
			continue
		}
		if err := s.store.Ops().SetAttempts(ctx, op.Seq, 0); err != nil {
			return err
		}
	}

	if err := s.store.Transition(ctx, rec.LocalID, models.StatusQueued); err != nil {
		return err
	}
	s.Kick()
	return nil
}
