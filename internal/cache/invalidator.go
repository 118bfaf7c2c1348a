package cache

import (
	"context"
	"sync"
	"time"

	"github.com/mkarpova/fieldsync/internal/logging"
)

// Invalidator coalesces remote-change signals and refreshes the affected
// cache entries. Bursts inside the debounce window collapse into one
// refresh; signals landing inside the cooldown window after a local
// mutation are dropped entirely, since they are the echo of the user's own
// action.
type Invalidator struct {
	cache    *BinaryCache
	debounce time.Duration
	cooldown time.Duration
	log      logging.Logger

	signals chan string

	mu        sync.Mutex
	lastLocal time.Time
}

func NewInvalidator(c *BinaryCache, debounce, cooldown time.Duration, log logging.Logger) *Invalidator {
	return &Invalidator{
		cache:    c,
		debounce: debounce,
		cooldown: cooldown,
		log:      log.With("component", "invalidator"),
		signals:  make(chan string, 64),
	}
}

// Invalidate signals that an attachment changed remotely. Non-blocking; a
// full channel drops the signal, the next session preload restores parity.
func (i *Invalidator) Invalidate(attachmentID string) {
	select {
	case i.signals <- attachmentID:
	default:
	}
}

// NoteLocalMutation opens the cooldown window.
func (i *Invalidator) NoteLocalMutation() {
	i.mu.Lock()
	i.lastLocal = time.Now()
	i.mu.Unlock()
}

func (i *Invalidator) inCooldown() bool {
	i.mu.Lock()
	defer i.mu.Unlock()
	return time.Since(i.lastLocal) < i.cooldown
}

// Run processes signals until ctx is done.
func (i *Invalidator) Run(ctx context.Context) {
	pending := make(map[string]struct{})
	var timer *time.Timer
	var fire <-chan time.Time

	for {
		select {
		case id := <-i.signals:
			pending[id] = struct{}{}
			if timer == nil {
				timer = time.NewTimer(i.debounce)
				fire = timer.C
			}

		case <-fire:
			timer = nil
			fire = nil

			if i.inCooldown() {
				i.log.Debug(ctx, "dropped invalidation burst in cooldown", "count", len(pending))
				pending = make(map[string]struct{})
				continue
			}

			for id := range pending {
				i.cache.refresh(ctx, id)
			}
			i.log.Debug(ctx, "refreshed invalidated entries", "count", len(pending))
			pending = make(map[string]struct{})

		case <-ctx.Done():
			if timer != nil {
				timer.Stop()
			}
			return
		}
	}
}
