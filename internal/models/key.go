// Package models defines the engine's record types: question keys,
// attachment records and their status machine, remote visual records and
// pending queue operations.
package models

import (
	"fmt"
	"strings"
)

// QuestionKey identifies one inspection question within one category.
// It is a comparable struct so it can be used directly as a map key;
// collisions are a visible concern instead of a string-concatenation
// accident.
type QuestionKey struct {
	Category string
	ItemID   string
}

// String renders the key for storage and logging. The separator never
// appears in category or item identifiers.
func (k QuestionKey) String() string {
	return k.Category + "|" + k.ItemID
}

// IsZero reports whether the key is unset.
func (k QuestionKey) IsZero() bool {
	return k.Category == "" && k.ItemID == ""
}

// ParseQuestionKey is the inverse of String.
func ParseQuestionKey(s string) (QuestionKey, error) {
	parts := strings.SplitN(s, "|", 2)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return QuestionKey{}, fmt.Errorf("malformed question key %q", s)
	}
	return QuestionKey{Category: parts[0], ItemID: parts[1]}, nil
}

// CollisionKey derives the isolation key for an orphaned remote record whose
// resolved key is already bound to a different remote identifier. The
// derived key can never equal a catalogue key because template item
// identifiers do not contain "!".
func CollisionKey(k QuestionKey, remoteID string) QuestionKey {
	return QuestionKey{Category: k.Category, ItemID: k.ItemID + "!collision!" + remoteID}
}

// IsCollisionKey reports whether k was derived by CollisionKey.
func IsCollisionKey(k QuestionKey) bool {
	return strings.Contains(k.ItemID, "!collision!")
}
