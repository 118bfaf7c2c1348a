// Package remotetest provides an in-memory remote.Store with failure
// injection, used by engine and syncer tests.
package remotetest

import (
	"context"
	"fmt"
	"sync"

	"github.com/mkarpova/fieldsync/internal/faults"
	"github.com/mkarpova/fieldsync/internal/models"
	"github.com/mkarpova/fieldsync/internal/remote"
)

type record struct {
	data        remote.RecordData
	attachments []string
}

type attachment struct {
	recordID string
	binary   []byte
	caption  string
	drawing  []byte
}

// Fake is a thread-safe in-memory remote store.
type Fake struct {
	mu sync.Mutex

	records     map[string]*record
	attachments map[string]*attachment
	nextRecord  int
	nextAttach  int

	unavailable  bool
	failUploads  int
	failMetadata int

	CreateCalls int
	UploadCalls int
}

func New() *Fake {
	return &Fake{
		records:     make(map[string]*record),
		attachments: make(map[string]*attachment),
	}
}

// SetUnavailable makes every call fail with ErrTransient until cleared.
func (f *Fake) SetUnavailable(v bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.unavailable = v
}

// FailUploads makes the next n UploadBinary calls fail with ErrTransient.
func (f *Fake) FailUploads(n int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failUploads = n
}

// FailMetadata makes the next n UpdateAttachmentMetadata calls fail with
// ErrTransient.
func (f *Fake) FailMetadata(n int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failMetadata = n
}

func (f *Fake) check() error {
	if f.unavailable {
		return faults.Transientf("remote store unavailable")
	}
	return nil
}

func (f *Fake) Ping(_ context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.check()
}

func (f *Fake) CreateAnswerRecord(_ context.Context, data remote.RecordData) (remote.Created, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.CreateCalls++
	if err := f.check(); err != nil {
		return remote.Created{}, err
	}
	f.nextRecord++
	id := fmt.Sprintf("rec-%d", f.nextRecord)
	f.records[id] = &record{data: data}
	return remote.Created{RemoteID: id}, nil
}

func (f *Fake) UpdateAnswerRecord(_ context.Context, remoteID string, patch remote.RecordPatch) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.check(); err != nil {
		return err
	}
	r, ok := f.records[remoteID]
	if !ok {
		return fmt.Errorf("record %s: %w", remoteID, faults.ErrNotFound)
	}
	if patch.Answer != nil {
		r.data.Answer = *patch.Answer
	}
	if patch.Hidden != nil {
		r.data.Hidden = *patch.Hidden
	}
	return nil
}

func (f *Fake) ListAnswerRecords(_ context.Context, _ string) ([]models.VisualRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.check(); err != nil {
		return nil, err
	}

	var out []models.VisualRecord
	for id, r := range f.records {
		v := models.VisualRecord{
			RemoteID:   id,
			TemplateID: r.data.TemplateID,
			Name:       r.data.Name,
			Category:   r.data.Category,
			Kind:       r.data.Kind,
			Answer:     r.data.Answer,
			Hidden:     r.data.Hidden,
		}
		for _, attID := range r.attachments {
			a := f.attachments[attID]
			v.Attachments = append(v.Attachments, models.RemoteAttachment{
				AttachmentID: attID,
				Caption:      a.caption,
				Drawing:      a.drawing,
			})
		}
		out = append(out, v)
	}
	return out, nil
}

func (f *Fake) UploadBinary(_ context.Context, recordID string, data []byte, caption string) (remote.Uploaded, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.UploadCalls++
	if err := f.check(); err != nil {
		return remote.Uploaded{}, err
	}
	if f.failUploads > 0 {
		f.failUploads--
		return remote.Uploaded{}, faults.Transientf("injected upload failure")
	}
	r, ok := f.records[recordID]
	if !ok {
		return remote.Uploaded{}, fmt.Errorf("record %s: %w", recordID, faults.ErrNotFound)
	}
	f.nextAttach++
	id := fmt.Sprintf("att-%d", f.nextAttach)
	f.attachments[id] = &attachment{recordID: recordID, binary: data, caption: caption}
	r.attachments = append(r.attachments, id)
	return remote.Uploaded{AttachmentID: id}, nil
}

func (f *Fake) GetBinary(_ context.Context, attachmentID string) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.check(); err != nil {
		return nil, err
	}
	a, ok := f.attachments[attachmentID]
	if !ok {
		return nil, fmt.Errorf("attachment %s: %w", attachmentID, faults.ErrNotFound)
	}
	return a.binary, nil
}

func (f *Fake) UpdateAttachmentMetadata(_ context.Context, attachmentID string, meta remote.AttachmentMetadata) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.check(); err != nil {
		return err
	}
	if f.failMetadata > 0 {
		f.failMetadata--
		return faults.Transientf("injected metadata failure")
	}
	a, ok := f.attachments[attachmentID]
	if !ok {
		return fmt.Errorf("attachment %s: %w", attachmentID, faults.ErrNotFound)
	}
	if meta.Caption != nil {
		a.caption = *meta.Caption
	}
	if meta.Drawing != nil {
		a.drawing = meta.Drawing
	}
	return nil
}

func (f *Fake) DeleteAttachment(_ context.Context, attachmentID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.check(); err != nil {
		return err
	}
	a, ok := f.attachments[attachmentID]
	if !ok {
		return fmt.Errorf("attachment %s: %w", attachmentID, faults.ErrNotFound)
	}
	delete(f.attachments, attachmentID)
	r := f.records[a.recordID]
	for i, id := range r.attachments {
		if id == attachmentID {
			r.attachments = append(r.attachments[:i], r.attachments[i+1:]...)
			break
		}
	}
	return nil
}

// SetCaption rewrites an attachment's caption server-side, bypassing the
// engine. Used to simulate stale or foreign edits.
func (f *Fake) SetCaption(attachmentID, caption string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if a, ok := f.attachments[attachmentID]; ok {
		a.caption = caption
	}
}

// Drawing returns an attachment's server-side annotation payload.
func (f *Fake) Drawing(attachmentID string) []byte {
	f.mu.Lock()
	defer f.mu.Unlock()
	if a, ok := f.attachments[attachmentID]; ok {
		return a.drawing
	}
	return nil
}

// RecordCount reports how many answer records the store holds.
func (f *Fake) RecordCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.records)
}

// AttachmentCount reports how many attachments a record currently holds.
func (f *Fake) AttachmentCount(recordID string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	if r, ok := f.records[recordID]; ok {
		return len(r.attachments)
	}
	return 0
}
