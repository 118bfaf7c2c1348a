// Package engine is the UI-facing coordinator. It ties the local attachment
// store, the upload queue, the identifier reconciler and the display cache
// into the operations an inspection screen performs: select a question,
// capture a photo, annotate it, and fold the server's snapshot back in.
package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/mkarpova/fieldsync/internal/annotation"
	"github.com/mkarpova/fieldsync/internal/cache"
	"github.com/mkarpova/fieldsync/internal/catalog"
	"github.com/mkarpova/fieldsync/internal/faults"
	"github.com/mkarpova/fieldsync/internal/logging"
	"github.com/mkarpova/fieldsync/internal/models"
	"github.com/mkarpova/fieldsync/internal/reconcile"
	"github.com/mkarpova/fieldsync/internal/remote"
	"github.com/mkarpova/fieldsync/internal/store"
	"github.com/mkarpova/fieldsync/internal/syncer"
)

// visualState is the engine's in-memory view of one question's answer
// record. The durable facts live in the store and the queue; this is the
// working set the screen reads.
type visualState struct {
	remoteID      string
	parentLocalID string
	selected      bool
	answer        string
}

// PhotoView is one photograph as the screen shows it.
type PhotoView struct {
	Ref        models.AttachmentRef
	Caption    string
	Status     models.AttachmentStatus
	HasDrawing bool
	Cached     bool
}

// QuestionState is the displayable state of one question.
type QuestionState struct {
	Selected bool
	Answer   string
	Photos   []PhotoView
	// IsSyncing is derived from the queue, never stored.
	IsSyncing bool
}

// Engine coordinates one inspection session.
type Engine struct {
	store     *store.Store
	sync      *syncer.Syncer
	rec       *reconcile.Reconciler
	remote    remote.Store
	cache     *cache.BinaryCache
	inv       *cache.Invalidator
	serviceID string
	log       logging.Logger

	templates map[models.QuestionKey]catalog.Template

	mu      sync.Mutex
	visuals map[models.QuestionKey]*visualState
}

func New(st *store.Store, sc *syncer.Syncer, rec *reconcile.Reconciler, rm remote.Store, bc *cache.BinaryCache, inv *cache.Invalidator, templates []catalog.Template, serviceID string, log logging.Logger) *Engine {
	e := &Engine{
		store:     st,
		sync:      sc,
		rec:       rec,
		remote:    rm,
		cache:     bc,
		inv:       inv,
		serviceID: serviceID,
		log:       log.With("component", "engine"),
		templates: make(map[models.QuestionKey]catalog.Template, len(templates)),
		visuals:   make(map[models.QuestionKey]*visualState),
	}
	for _, t := range templates {
		e.templates[keyFor(t)] = t
	}
	return e
}

// Restore rebuilds the in-memory question state from the durable queue, so
// a restarted session re-adopts the answer-record handles a previous process
// minted. Without it a capture after a relaunch would enqueue a second
// create for a question whose create is still queued, and the server would
// end up with two answer records for one question.
func (e *Engine) Restore(ctx context.Context) error {
	ops, err := e.store.Ops().List(ctx)
	if err != nil {
		return err
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	for _, op := range ops {
		handle := ""
		switch op.Kind {
		case models.OpCreateRecord, models.OpUpdateRecord:
			handle = op.LocalID
		case models.OpUploadBinary:
			handle = op.DependsOn
		}
		if handle == "" {
			continue
		}

		vs := e.visual(op.Key)
		if vs.parentLocalID != "" {
			continue
		}
		vs.parentLocalID = handle

		remoteID, err := e.store.IDMap().RemoteFor(ctx, handle)
		if err != nil {
			return err
		}
		vs.remoteID = remoteID

		if op.Kind == models.OpCreateRecord {
			vs.selected = true
			var p models.CreateRecordPayload
			if err := json.Unmarshal(op.Payload, &p); err == nil {
				vs.answer = p.Answer
			}
		}
	}
	return nil
}

func keyFor(t catalog.Template) models.QuestionKey {
	return models.QuestionKey{Category: t.Category, ItemID: t.TemplateID}
}

func (e *Engine) visual(key models.QuestionKey) *visualState {
	vs, ok := e.visuals[key]
	if !ok {
		vs = &visualState{}
		e.visuals[key] = vs
	}
	return vs
}

// ensureParent returns where a new photograph of key should attach: the
// known remote record, or a pending create the upload will wait behind. The
// first caller for an unanswered question mints the create operation.
// Callers hold e.mu.
func (e *Engine) ensureParent(ctx context.Context, key models.QuestionKey, vs *visualState) (store.Parent, error) {
	if vs.remoteID != "" {
		if vs.parentLocalID == "" {
			// give snapshot-adopted records a local handle so patch
			// operations resolve through the id mapping like everything else
			vs.parentLocalID = uuid.NewString()
			if err := e.store.IDMap().Put(ctx, vs.parentLocalID, vs.remoteID); err != nil {
				return store.Parent{}, err
			}
		}
		return store.Parent{RemoteID: vs.remoteID}, nil
	}

	if vs.parentLocalID != "" {
		return store.Parent{LocalID: vs.parentLocalID}, nil
	}

	tpl, ok := e.templates[key]
	if !ok {
		return store.Parent{}, fmt.Errorf("no template for question %s", key.String())
	}

	vs.parentLocalID = uuid.NewString()
	vs.selected = true

	payload, err := json.Marshal(models.CreateRecordPayload{
		TemplateID: tpl.TemplateID,
		Name:       tpl.Name,
		Category:   tpl.Category,
		Kind:       tpl.Kind,
		Answer:     vs.answer,
	})
	if err != nil {
		return store.Parent{}, err
	}
	err = e.store.EnqueueOp(ctx, &models.PendingOp{
		Kind:    models.OpCreateRecord,
		Key:     key,
		LocalID: vs.parentLocalID,
		Payload: payload,
	})
	if err != nil {
		vs.parentLocalID = ""
		return store.Parent{}, err
	}
	return store.Parent{LocalID: vs.parentLocalID}, nil
}

// CapturePhoto stores a photograph durably under key and queues its upload.
// An oversized annotation fails here, at save time, and nothing is written.
func (e *Engine) CapturePhoto(ctx context.Context, key models.QuestionKey, photo []byte, caption string, drawing *annotation.Drawing) (models.AttachmentRef, error) {
	var encoded []byte
	if drawing != nil {
		var err error
		encoded, err = annotation.Encode(*drawing)
		if err != nil {
			return models.AttachmentRef{}, err
		}
	}

	e.mu.Lock()
	parent, err := e.ensureParent(ctx, key, e.visual(key))
	e.mu.Unlock()
	if err != nil {
		return models.AttachmentRef{}, err
	}

	rec, err := e.store.Capture(ctx, key, photo, caption, encoded, parent)
	if err != nil {
		return models.AttachmentRef{}, err
	}

	e.cache.Put(models.LocalRef(rec.LocalID).String(), photo)
	e.inv.NoteLocalMutation()
	e.sync.Kick()
	return rec.Ref(), nil
}

// Select marks a question answered, materializing its answer record.
func (e *Engine) Select(ctx context.Context, key models.QuestionKey) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	vs := e.visual(key)
	if vs.selected {
		return nil
	}
	vs.selected = true

	if _, err := e.ensureParent(ctx, key, vs); err != nil {
		return err
	}
	e.sync.Kick()
	return nil
}

// Deselect un-answers a question. An existing answer record is hidden, not
// destroyed, so the photos under it survive on the server.
func (e *Engine) Deselect(ctx context.Context, key models.QuestionKey) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	vs := e.visual(key)
	if !vs.selected {
		return nil
	}
	vs.selected = false

	if vs.parentLocalID == "" && vs.remoteID == "" {
		// never materialized; nothing to hide
		return nil
	}
	hidden := true
	if err := e.patchRecord(ctx, key, vs, models.UpdateRecordPayload{Hidden: &hidden}); err != nil {
		return err
	}
	e.sync.Kick()
	return nil
}

// SetAnswer records the question's answer value and pushes it.
func (e *Engine) SetAnswer(ctx context.Context, key models.QuestionKey, answer string) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	vs := e.visual(key)
	vs.answer = answer

	if vs.parentLocalID == "" && vs.remoteID == "" {
		// the create payload carries the answer with it
		if _, err := e.ensureParent(ctx, key, vs); err != nil {
			return err
		}
		e.sync.Kick()
		return nil
	}

	if err := e.patchRecord(ctx, key, vs, models.UpdateRecordPayload{Answer: &answer}); err != nil {
		return err
	}
	e.sync.Kick()
	return nil
}

// patchRecord enqueues an answer-record patch. The operation waits on the
// record's local handle, so patches against a still-pending create hold
// until the create resolves. Callers hold e.mu.
func (e *Engine) patchRecord(ctx context.Context, key models.QuestionKey, vs *visualState, patch models.UpdateRecordPayload) error {
	if vs.parentLocalID == "" {
		vs.parentLocalID = uuid.NewString()
		if err := e.store.IDMap().Put(ctx, vs.parentLocalID, vs.remoteID); err != nil {
			return err
		}
	}
	payload, err := json.Marshal(patch)
	if err != nil {
		return err
	}
	return e.store.EnqueueOp(ctx, &models.PendingOp{
		Kind:      models.OpUpdateRecord,
		Key:       key,
		LocalID:   vs.parentLocalID,
		DependsOn: vs.parentLocalID,
		Payload:   payload,
	})
}

// SetCaption applies a caption edit to a photograph.
func (e *Engine) SetCaption(ctx context.Context, ref models.AttachmentRef, text string) error {
	if err := e.store.SetCaption(ctx, ref, text); err != nil {
		return err
	}
	e.inv.NoteLocalMutation()
	e.sync.Kick()
	return nil
}

// SetDrawing applies an annotation edit to a photograph. An oversized
// drawing fails here and the stored annotation stays untouched.
func (e *Engine) SetDrawing(ctx context.Context, ref models.AttachmentRef, drawing annotation.Drawing) error {
	encoded, err := annotation.Encode(drawing)
	if err != nil {
		return err
	}
	if err := e.store.SetDrawing(ctx, ref, encoded); err != nil {
		return err
	}
	e.inv.NoteLocalMutation()
	e.sync.Kick()
	return nil
}

// Drawing decodes a photograph's current annotation.
func (e *Engine) Drawing(ctx context.Context, ref models.AttachmentRef) (annotation.Drawing, error) {
	rec, err := e.store.Get(ctx, ref)
	if err != nil {
		return annotation.Drawing{}, err
	}
	return annotation.Decode(rec.Drawing)
}

// DeletePhoto removes a photograph. The display entry disappears
// immediately; any remote copy is torn down asynchronously.
func (e *Engine) DeletePhoto(ctx context.Context, ref models.AttachmentRef) error {
	rec, err := e.store.Get(ctx, ref)
	if err != nil {
		return err
	}
	if err := e.store.Delete(ctx, ref); err != nil {
		return err
	}

	e.cache.Drop(models.LocalRef(rec.LocalID).String())
	if rec.RemoteID != "" {
		e.cache.Drop(models.RemoteRef(rec.RemoteID).String())
	}
	e.inv.NoteLocalMutation()
	e.sync.Kick()
	return nil
}

// RetryPhoto requeues a failed photograph.
func (e *Engine) RetryPhoto(ctx context.Context, ref models.AttachmentRef) error {
	return e.sync.RetryFailed(ctx, ref)
}

// Photo returns a photograph's binary, from the cache when warm.
func (e *Engine) Photo(ctx context.Context, ref models.AttachmentRef) ([]byte, error) {
	if b, ok := e.cache.Get(ref.String()); ok {
		return b, nil
	}

	rec, err := e.store.Get(ctx, ref)
	if err == nil && len(rec.Binary) > 0 {
		return rec.Binary, nil
	}

	remoteID := ""
	switch {
	case ref.IsRemote():
		remoteID = ref.ID()
	case err == nil:
		remoteID = rec.RemoteID
	default:
		return nil, err
	}
	if remoteID == "" {
		return nil, fmt.Errorf("photo %s: %w", ref.String(), faults.ErrNotFound)
	}

	b, err := e.remote.GetBinary(ctx, remoteID)
	if err != nil {
		return nil, err
	}
	e.cache.Put(ref.String(), b)
	return b, nil
}

// QuestionState assembles the display state of one question.
func (e *Engine) QuestionState(ctx context.Context, key models.QuestionKey) (QuestionState, error) {
	e.mu.Lock()
	vs := e.visual(key)
	out := QuestionState{Selected: vs.selected, Answer: vs.answer}
	e.mu.Unlock()

	recs, err := e.store.ListByKey(ctx, key)
	if err != nil {
		return QuestionState{}, err
	}
	for _, rec := range recs {
		out.Photos = append(out.Photos, PhotoView{
			Ref:        rec.Ref(),
			Caption:    rec.Caption,
			Status:     rec.Status,
			HasDrawing: !annotation.IsEmpty(rec.Drawing),
			Cached:     e.cache.Has(rec.Ref().String()),
		})
		if rec.Status == models.StatusQueued || rec.Status == models.StatusUploading {
			out.IsSyncing = true
		}
	}

	if !out.IsSyncing {
		ops, err := e.store.Ops().List(ctx)
		if err != nil {
			return QuestionState{}, err
		}
		for _, op := range ops {
			if op.Key == key {
				out.IsSyncing = true
				break
			}
		}
	}
	return out, nil
}

// ApplyRemoteSnapshot folds the server's full record list into local state:
// record identities bind to questions through the matcher, attachment rows
// merge local-wins, vanished remote copies get requeued, and new remote
// binaries are scheduled for a debounced cache refresh.
func (e *Engine) ApplyRemoteSnapshot(ctx context.Context) error {
	records, err := e.remote.ListAnswerRecords(ctx, e.serviceID)
	if err != nil {
		return err
	}

	matcher := newSnapshotMatcher(e.templates)

	// keys with queued record-level ops keep their local answer/selection;
	// the snapshot is older than the unpushed edit
	pending, err := e.pendingRecordKeys(ctx)
	if err != nil {
		return err
	}

	for _, v := range records {
		item, ok := matcher.Resolve(v)
		if !ok {
			e.log.Warn(ctx, "unmatched visual record", "remote_id", v.RemoteID, "name", v.Name)
			continue
		}
		if item.Collision {
			e.log.Warn(ctx, "isolated colliding record", "remote_id", v.RemoteID, "key", item.Key.String())
		}

		if err := e.applyRecord(ctx, item.Key, v, pending[item.Key]); err != nil {
			return err
		}
	}

	e.sync.Kick()
	return nil
}

func (e *Engine) pendingRecordKeys(ctx context.Context) (map[models.QuestionKey]bool, error) {
	ops, err := e.store.Ops().List(ctx)
	if err != nil {
		return nil, err
	}
	keys := make(map[models.QuestionKey]bool)
	for _, op := range ops {
		if op.Kind == models.OpCreateRecord || op.Kind == models.OpUpdateRecord {
			keys[op.Key] = true
		}
	}
	return keys, nil
}

func newSnapshotMatcher(templates map[models.QuestionKey]catalog.Template) *catalog.Matcher {
	list := make([]catalog.Template, 0, len(templates))
	for _, t := range templates {
		list = append(list, t)
	}
	return catalog.NewMatcher(list)
}

func (e *Engine) applyRecord(ctx context.Context, key models.QuestionKey, v models.VisualRecord, keepLocal bool) error {
	e.mu.Lock()
	vs := e.visual(key)
	vs.remoteID = v.RemoteID
	if !keepLocal {
		vs.selected = !v.Hidden
		vs.answer = v.Answer
	}
	parentLocal := vs.parentLocalID
	e.mu.Unlock()

	if parentLocal != "" {
		// a locally-queued create for this question now has a server-side
		// record; recording the mapping makes the create a no-op and frees
		// the uploads waiting behind it
		if err := e.rec.Reconcile(ctx, key, parentLocal, v.RemoteID); err != nil {
			return err
		}
	}

	orphaned, err := e.store.ApplySyncRead(ctx, key, v.Attachments)
	if err != nil {
		return err
	}
	for _, rec := range orphaned {
		if err := e.requeueUpload(ctx, key, rec.LocalID, v.RemoteID); err != nil {
			return err
		}
	}

	for _, att := range v.Attachments {
		ref := models.RemoteRef(att.AttachmentID)
		if !e.cache.Has(ref.String()) {
			e.inv.Invalidate(att.AttachmentID)
		}
	}
	return nil
}

func (e *Engine) requeueUpload(ctx context.Context, key models.QuestionKey, localID, parentRemote string) error {
	payload, err := json.Marshal(models.UploadBinaryPayload{ParentRemoteID: parentRemote})
	if err != nil {
		return err
	}
	err = e.store.EnqueueOp(ctx, &models.PendingOp{
		Kind:    models.OpUploadBinary,
		Key:     key,
		LocalID: localID,
		Payload: payload,
	})
	if err != nil {
		return err
	}
	return e.store.Transition(ctx, localID, models.StatusQueued)
}
