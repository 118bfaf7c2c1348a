package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestQuestionKey_StringRoundTrip(t *testing.T) {
	k := QuestionKey{Category: "electrical", ItemID: "tmpl-17"}
	parsed, err := ParseQuestionKey(k.String())
	require.NoError(t, err)
	assert.Equal(t, k, parsed)
}

func TestParseQuestionKey_Malformed(t *testing.T) {
	for _, s := range []string{"", "nocategory", "|", "cat|"} {
		_, err := ParseQuestionKey(s)
		assert.Error(t, err, "input %q", s)
	}
}

func TestCollisionKey_DistinctAndTagged(t *testing.T) {
	k := QuestionKey{Category: "plumbing", ItemID: "tmpl-3"}
	c := CollisionKey(k, "rec-99")

	assert.NotEqual(t, k, c)
	assert.Equal(t, k.Category, c.Category)
	assert.True(t, IsCollisionKey(c))
	assert.False(t, IsCollisionKey(k))

	// same remote id always derives the same key
	assert.Equal(t, c, CollisionKey(k, "rec-99"))
}

func TestAttachmentRef_Tagging(t *testing.T) {
	l := LocalRef("abc")
	r := RemoteRef("abc")

	assert.False(t, l.IsRemote())
	assert.True(t, r.IsRemote())
	assert.NotEqual(t, l.String(), r.String())

	for _, ref := range []AttachmentRef{l, r} {
		parsed, err := ParseAttachmentRef(ref.String())
		require.NoError(t, err)
		assert.Equal(t, ref, parsed)
	}

	_, err := ParseAttachmentRef("abc")
	assert.Error(t, err)
}

func TestCanTransition(t *testing.T) {
	tests := []struct {
		from, to AttachmentStatus
		ok       bool
	}{
		{StatusLocalOnly, StatusQueued, true},
		{StatusQueued, StatusUploading, true},
		{StatusUploading, StatusSynced, true},
		{StatusQueued, StatusFailed, true},
		{StatusUploading, StatusFailed, true},
		{StatusUploading, StatusQueued, true},
		{StatusFailed, StatusQueued, true},
		{StatusSynced, StatusQueued, false},
		{StatusLocalOnly, StatusSynced, false},
		{StatusSynced, StatusFailed, false},
		{StatusFailed, StatusUploading, false},
	}
	for _, tc := range tests {
		assert.Equal(t, tc.ok, CanTransition(tc.from, tc.to), "%s -> %s", tc.from, tc.to)
	}
}

func TestAttachmentRecord_Ref(t *testing.T) {
	a := &AttachmentRecord{LocalID: "l1"}
	assert.Equal(t, LocalRef("l1"), a.Ref())

	a.RemoteID = "r1"
	assert.Equal(t, RemoteRef("r1"), a.Ref())
}
