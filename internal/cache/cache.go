// Package cache keeps photograph payloads in memory for display: a
// read-through cache bulk-populated once per session, plus a debounced
// invalidation loop that refreshes entries after remote changes without
// echoing the user's own actions back as flicker.
package cache

import (
	"context"
	"sync"

	"github.com/mkarpova/fieldsync/internal/logging"
	"github.com/mkarpova/fieldsync/internal/models"
	"github.com/mkarpova/fieldsync/internal/remote"
)

// BinaryCache maps attachment ref keys (models.AttachmentRef.String) to
// photograph bytes.
type BinaryCache struct {
	mu      sync.RWMutex
	entries map[string][]byte

	remote remote.Store
	log    logging.Logger
}

func NewBinaryCache(r remote.Store, log logging.Logger) *BinaryCache {
	return &BinaryCache{
		entries: make(map[string][]byte),
		remote:  r,
		log:     log.With("component", "cache"),
	}
}

// Preload bulk-populates the cache from every attachment of the service,
// one listing call instead of one lookup per photo.
func (c *BinaryCache) Preload(ctx context.Context, serviceID string) error {
	records, err := c.remote.ListAnswerRecords(ctx, serviceID)
	if err != nil {
		return err
	}

	for _, rec := range records {
		for _, att := range rec.Attachments {
			key := models.RemoteRef(att.AttachmentID).String()
			if c.Has(key) {
				continue
			}
			data, err := c.remote.GetBinary(ctx, att.AttachmentID)
			if err != nil {
				c.log.Warn(ctx, "preload skipped attachment", "attachment_id", att.AttachmentID, "error", err)
				continue
			}
			c.Put(key, data)
		}
	}
	return nil
}

// Get returns the cached bytes for a ref key.
func (c *BinaryCache) Get(key string) ([]byte, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	b, ok := c.entries[key]
	return b, ok
}

// Has reports whether a key is cached.
func (c *BinaryCache) Has(key string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	_, ok := c.entries[key]
	return ok
}

// Put stores bytes under a ref key.
func (c *BinaryCache) Put(key string, data []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key] = data
}

// Rekey moves an entry to a new key, keeping the bytes. Reconciliation uses
// this so a display reference keeps resolving to the same pixels across the
// identifier swap.
func (c *BinaryCache) Rekey(oldKey, newKey string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	b, ok := c.entries[oldKey]
	if !ok {
		return
	}
	c.entries[newKey] = b
	delete(c.entries, oldKey)
}

// Drop removes an entry.
func (c *BinaryCache) Drop(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, key)
}

// Len returns the number of cached entries.
func (c *BinaryCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// refresh replaces one entry only after the new payload arrived and is
// non-empty; a failed fetch leaves the displayed bytes alone.
func (c *BinaryCache) refresh(ctx context.Context, attachmentID string) {
	data, err := c.remote.GetBinary(ctx, attachmentID)
	if err != nil || len(data) == 0 {
		c.log.Debug(ctx, "refresh kept stale entry", "attachment_id", attachmentID, "error", err)
		return
	}
	c.Put(models.RemoteRef(attachmentID).String(), data)
}
