// Package remote defines the engine's view of the authoritative record
// store. The store itself is an external collaborator; everything here is
// the consuming interface plus an HTTP implementation of it.
package remote

import (
	"context"

	"github.com/mkarpova/fieldsync/internal/models"
)

// RecordData is the payload for creating a visual record.
type RecordData struct {
	TemplateID string `json:"template_id"`
	Name       string `json:"name"`
	Category   string `json:"category"`
	Kind       string `json:"kind"`
	Answer     string `json:"answer,omitempty"`
	Hidden     bool   `json:"hidden"`
}

// RecordPatch is a partial update of a visual record. Nil fields are left
// untouched.
type RecordPatch struct {
	Answer *string `json:"answer,omitempty"`
	Hidden *bool   `json:"hidden,omitempty"`
}

// AttachmentMetadata is a partial update of an attachment's caption and
// annotation payload.
type AttachmentMetadata struct {
	Caption *string `json:"caption,omitempty"`
	Drawing []byte  `json:"drawing,omitempty"`
}

// Created is the result of CreateAnswerRecord.
type Created struct {
	RemoteID string `json:"id"`
}

// Uploaded is the result of UploadBinary.
type Uploaded struct {
	AttachmentID string `json:"id"`
}

// Store is the remote record store. Implementations map transport failures
// into the faults taxonomy: unreachable/timeout → ErrTransient, rejected
// payloads → ErrValidation, vanished records → ErrNotFound.
type Store interface {
	// Ping probes reachability.
	Ping(ctx context.Context) error

	// CreateAnswerRecord creates the visual record for a question.
	CreateAnswerRecord(ctx context.Context, data RecordData) (Created, error)

	// UpdateAnswerRecord patches an existing visual record.
	UpdateAnswerRecord(ctx context.Context, remoteID string, patch RecordPatch) error

	// ListAnswerRecords returns every visual record of one inspection
	// service, including hidden ones.
	ListAnswerRecords(ctx context.Context, serviceID string) ([]models.VisualRecord, error)

	// UploadBinary stores one photograph under an existing visual record.
	UploadBinary(ctx context.Context, recordID string, data []byte, caption string) (Uploaded, error)

	// GetBinary fetches one photograph payload.
	GetBinary(ctx context.Context, attachmentID string) ([]byte, error)

	// UpdateAttachmentMetadata patches caption/drawing of an attachment.
	UpdateAttachmentMetadata(ctx context.Context, attachmentID string, meta AttachmentMetadata) error

	// DeleteAttachment removes an attachment permanently.
	DeleteAttachment(ctx context.Context, attachmentID string) error
}
