package models

import (
	"fmt"
	"strings"
)

// AttachmentRef is a tagged identifier: either a client-minted local id or a
// server-issued remote id. The tag makes the distinction a type-level
// property instead of a string-prefix convention.
type AttachmentRef struct {
	remote bool
	id     string
}

// LocalRef wraps a client-minted identifier.
func LocalRef(id string) AttachmentRef {
	return AttachmentRef{remote: false, id: id}
}

// RemoteRef wraps a server-issued identifier.
func RemoteRef(id string) AttachmentRef {
	return AttachmentRef{remote: true, id: id}
}

// IsRemote reports whether the ref carries a server-issued identifier.
func (r AttachmentRef) IsRemote() bool { return r.remote }

// ID returns the raw identifier without its tag.
func (r AttachmentRef) ID() string { return r.id }

// IsZero reports whether the ref is unset.
func (r AttachmentRef) IsZero() bool { return r.id == "" }

// String renders a stable, tag-qualified form used as a cache key.
func (r AttachmentRef) String() string {
	if r.remote {
		return "remote:" + r.id
	}
	return "local:" + r.id
}

// ParseAttachmentRef is the inverse of String.
func ParseAttachmentRef(s string) (AttachmentRef, error) {
	switch {
	case strings.HasPrefix(s, "local:"):
		return LocalRef(strings.TrimPrefix(s, "local:")), nil
	case strings.HasPrefix(s, "remote:"):
		return RemoteRef(strings.TrimPrefix(s, "remote:")), nil
	default:
		return AttachmentRef{}, fmt.Errorf("malformed attachment ref %q", s)
	}
}
