package models

import "time"

// OpKind classifies a pending queue operation.
type OpKind string

const (
	// OpCreateRecord creates the parent visual record for a question.
	OpCreateRecord OpKind = "create_record"
	// OpUpdateRecord patches an existing visual record (answer, hidden flag).
	OpUpdateRecord OpKind = "update_record"
	// OpUploadBinary uploads one photograph to its parent record.
	OpUploadBinary OpKind = "upload_binary"
	// OpUpdateMetadata pushes caption/drawing edits for a synced attachment.
	OpUpdateMetadata OpKind = "update_metadata"
	// OpDeleteAttachment is the tombstone for a deleted remote attachment.
	OpDeleteAttachment OpKind = "delete_attachment"
)

// PendingOp is one durable queue entry. It is written before the mutation
// call returns, consumed only after confirmed success, and never partially
// applied. The queue stores identifiers, not copies of mutable record
// fields; workers re-read the store when they pick an operation up.
type PendingOp struct {
	// Seq is the queue position, assigned by the repository on enqueue.
	Seq int64

	Kind OpKind
	Key  QuestionKey

	// LocalID names the record the operation acts on: the attachment's local
	// id, or the parent record's minted local id for OpCreateRecord.
	LocalID string

	// DependsOn optionally names the local id of a parent create whose
	// remote identifier must exist before this operation may run. Dependent
	// operations are held, not dropped, until the parent resolves.
	DependsOn string

	// Payload carries kind-specific JSON (record data, patches, metadata).
	Payload []byte

	Attempts  int
	CreatedAt time.Time
}

// CreateRecordPayload is the payload of OpCreateRecord.
type CreateRecordPayload struct {
	TemplateID string `json:"template_id"`
	Name       string `json:"name"`
	Category   string `json:"category"`
	Kind       string `json:"kind"`
	Answer     string `json:"answer,omitempty"`
	Hidden     bool   `json:"hidden"`
}

// UploadBinaryPayload is the payload of OpUploadBinary. ParentRemoteID is
// set when the parent record already existed at capture time; otherwise the
// operation's DependsOn chain resolves the parent at drain time.
type UploadBinaryPayload struct {
	ParentRemoteID string `json:"parent_remote_id,omitempty"`
}

// UpdateRecordPayload is the payload of OpUpdateRecord. Nil fields are not
// part of the patch.
type UpdateRecordPayload struct {
	Answer *string `json:"answer,omitempty"`
	Hidden *bool   `json:"hidden,omitempty"`
}

// UpdateMetadataPayload is the payload of OpUpdateMetadata.
type UpdateMetadataPayload struct {
	Caption *string `json:"caption,omitempty"`
	Drawing []byte  `json:"drawing,omitempty"`
}

// DeleteAttachmentPayload is the payload of OpDeleteAttachment.
type DeleteAttachmentPayload struct {
	AttachmentID string `json:"attachment_id"`
}
