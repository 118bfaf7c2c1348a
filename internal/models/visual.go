package models

// RemoteAttachment is the remote store's view of one uploaded photograph.
type RemoteAttachment struct {
	AttachmentID string
	Caption      string
	Drawing      []byte
}

// VisualRecord is the remote store's representation of an answered question.
// It is created when a question is first answered or selected and
// soft-deleted by the Hidden marker, never physically removed, so
// attachments survive deselection.
type VisualRecord struct {
	RemoteID   string
	TemplateID string
	Name       string
	Category   string
	Kind       string
	Answer     string
	Hidden     bool

	Attachments []RemoteAttachment
}
