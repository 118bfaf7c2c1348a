package models

import "time"

// AttachmentStatus is the single explicit state of a photograph's sync
// lifecycle. Booleans like "uploading" or "pending" are derived predicates
// over this enum, never stored separately.
type AttachmentStatus string

const (
	// StatusLocalOnly: captured and stored durably, owning question has no
	// remote record yet, no network attempt made.
	StatusLocalOnly AttachmentStatus = "local_only"
	// StatusQueued: a durable upload operation exists and is eligible.
	StatusQueued AttachmentStatus = "queued"
	// StatusUploading: a worker owns the upload right now.
	StatusUploading AttachmentStatus = "uploading"
	// StatusSynced: the server holds the binary; RemoteID is set.
	StatusSynced AttachmentStatus = "synced"
	// StatusFailed: retries exhausted or validation rejected; waits for a
	// manual retry.
	StatusFailed AttachmentStatus = "failed"
)

var statusTransitions = map[AttachmentStatus][]AttachmentStatus{
	StatusLocalOnly: {StatusQueued, StatusFailed},
	StatusQueued:    {StatusUploading, StatusFailed},
	StatusUploading: {StatusSynced, StatusQueued, StatusFailed},
	StatusSynced:    {},
	StatusFailed:    {StatusQueued},
}

// CanTransition reports whether from→to is a legal status change.
func CanTransition(from, to AttachmentStatus) bool {
	for _, s := range statusTransitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// AttachmentRecord is the engine's unit of work: one photograph plus its
// caption, annotation payload and sync status. The local attachment store
// exclusively owns every record; other layers hold identifiers, never
// copies of mutable fields.
type AttachmentRecord struct {
	// LocalID is minted at capture time and never reused.
	LocalID string
	// RemoteID is the server-issued attachment identifier; empty until the
	// first successful upload.
	RemoteID string
	// PreviousLocalID is kept after reconciliation so an edit session opened
	// against the old identifier can still resolve itself.
	PreviousLocalID string

	Key    QuestionKey
	Status AttachmentStatus

	// Binary is the photograph payload, owned by the store until uploaded.
	Binary []byte
	// Caption is mutable at any time, independent of Status.
	Caption string
	// Drawing is the compressed annotation payload, or the codec's empty
	// sentinel. Independent of Status.
	Drawing []byte

	// LocalUpdate is set when caption or drawing changed locally after the
	// last confirmed sync. While set, inbound sync reads must not overwrite
	// either field.
	LocalUpdate bool

	// Deleted marks a record the user removed while its upload is still in
	// flight or its remote tombstone is still queued. Hidden from display;
	// removed for good once the remote copy is gone.
	Deleted bool

	Attempts  int
	UpdatedAt time.Time
}

// Ref returns the record's preferred reference: remote once reconciled,
// local before that.
func (a *AttachmentRecord) Ref() AttachmentRef {
	if a.RemoteID != "" {
		return RemoteRef(a.RemoteID)
	}
	return LocalRef(a.LocalID)
}
