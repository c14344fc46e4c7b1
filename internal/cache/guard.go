package cache

import (
	"time"

	"github.com/patrickmn/go-cache"

	"mockpit/internal/models"
)

// DeletionGuard is the short-lived suppression set for just-deleted
// identifiers. A confirmed remote delete adds the id here for a grace
// window; while present, the id is excluded from every merged or rendered
// view even if an overlapping fetch still reports it. Without this, a
// list fetch started just before the delete would flicker the record back
// into view for one refresh cycle.
type DeletionGuard struct {
	entries *cache.Cache
}

// NewDeletionGuard builds a guard whose entries expire after ttl. onExpire,
// when non-nil, runs as each entry lapses.
func NewDeletionGuard(ttl time.Duration, onExpire func(id string)) *DeletionGuard {
	if ttl <= 0 {
		ttl = 15 * time.Second
	}
	cleanup := ttl / 3
	if cleanup < time.Second {
		cleanup = time.Second
	}

	c := cache.New(ttl, cleanup)
	if onExpire != nil {
		c.OnEvicted(func(key string, _ interface{}) {
			onExpire(key)
		})
	}
	return &DeletionGuard{entries: c}
}

// Add records a just-deleted identifier for the grace window.
func (g *DeletionGuard) Add(id string) {
	norm := models.NormalizeID(id)
	if norm == "" {
		return
	}
	g.entries.Set(norm, time.Now(), cache.DefaultExpiration)
}

// Contains reports whether the identifier is still suppressed.
func (g *DeletionGuard) Contains(id string) bool {
	_, found := g.entries.Get(models.NormalizeID(id))
	return found
}

// Clear drops an identifier before its timer fires, for delete-then-recreate
// flows.
func (g *DeletionGuard) Clear(id string) {
	g.entries.Delete(models.NormalizeID(id))
}

// ClearAll empties the guard without firing expiry callbacks. Used when the
// whole mapping set is reset and old suppressions no longer apply.
func (g *DeletionGuard) ClearAll() {
	g.entries.Flush()
}

// Len returns the number of currently suppressed identifiers.
func (g *DeletionGuard) Len() int {
	return len(g.entries.Items())
}
