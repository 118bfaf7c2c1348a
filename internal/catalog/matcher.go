package catalog

import (
	"github.com/mkarpova/fieldsync/internal/models"
)

// ResolvedItem is the outcome of matching a remote visual record against the
// catalogue. Collision marks a synthetic item materialized to isolate an
// orphaned record; its Key is collision-tagged and never overwrites the
// existing binding.
type ResolvedItem struct {
	Key       models.QuestionKey
	Template  Template
	Collision bool
}

type fallbackKey struct {
	name     string
	category string
	kind     string
}

// Matcher resolves visual records template-id-first with a
// (name, category, kind) fallback. One Matcher covers one reconciliation
// pass: it remembers which remote id each question key is bound to, so a
// second record resolving to an already-bound key is isolated instead of
// silently replacing the first.
type Matcher struct {
	byID       map[string]Template
	byFallback map[fallbackKey]Template
	bound      map[models.QuestionKey]string
}

func NewMatcher(templates []Template) *Matcher {
	m := &Matcher{
		byID:       make(map[string]Template, len(templates)),
		byFallback: make(map[fallbackKey]Template, len(templates)),
		bound:      make(map[models.QuestionKey]string),
	}
	for _, t := range templates {
		m.byID[t.TemplateID] = t
		fb := fallbackKey{name: t.Name, category: t.Category, kind: t.Kind}
		// first template wins the fallback slot; duplicates are exactly what
		// collision isolation exists for
		if _, ok := m.byFallback[fb]; !ok {
			m.byFallback[fb] = t
		}
	}
	return m
}

// Resolve returns the local item a visual record represents, or ok=false if
// no template matches. Records resolving to a key already bound to a
// different remote id in this pass come back with a collision-tagged key.
func (m *Matcher) Resolve(v models.VisualRecord) (ResolvedItem, bool) {
	t, ok := m.byID[v.TemplateID]
	if !ok {
		t, ok = m.byFallback[fallbackKey{name: v.Name, category: v.Category, kind: v.Kind}]
	}
	if !ok {
		return ResolvedItem{}, false
	}

	key := models.QuestionKey{Category: t.Category, ItemID: t.TemplateID}

	if boundTo, taken := m.bound[key]; taken && boundTo != v.RemoteID {
		iso := models.CollisionKey(key, v.RemoteID)
		m.bound[iso] = v.RemoteID
		return ResolvedItem{Key: iso, Template: t, Collision: true}, true
	}

	m.bound[key] = v.RemoteID
	return ResolvedItem{Key: key, Template: t}, true
}
