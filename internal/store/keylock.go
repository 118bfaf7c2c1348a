package store

import (
	"sync"

	"github.com/mkarpova/fieldsync/internal/models"
)

// keyLocks serializes mutations per question key. Different keys proceed
// concurrently; the same key never interleaves.
type keyLocks struct {
	mu sync.Mutex
	m  map[models.QuestionKey]*sync.Mutex
}

func newKeyLocks() *keyLocks {
	return &keyLocks{m: make(map[models.QuestionKey]*sync.Mutex)}
}

// lock acquires the mutex for key and returns its unlock function.
func (l *keyLocks) lock(key models.QuestionKey) func() {
	l.mu.Lock()
	m, ok := l.m[key]
	if !ok {
		m = &sync.Mutex{}
		l.m[key] = m
	}
	l.mu.Unlock()

	m.Lock()
	return m.Unlock
}
