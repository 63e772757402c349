package blobcache

import (
	"sync"
	"time"

	"go.uber.org/zap"
)

// MemoryCache is a single-tier, heap-resident cache of InMemoryEntry
// values bounded by a byte budget. Entries never expire on a timer —
// they are immutable blobs removed only by explicit Delete or Clear, or
// by budget-driven eviction (see DESIGN.md for why there is no background
// expiry sweep here).
type MemoryCache struct {
	mu      sync.Mutex
	entries *OrderedMap[Entry]

	currentBytes uint64
	budget       uint64

	logger *zap.Logger
	now    func() time.Time

	stats Stats
}

// NewMemoryCache constructs an empty MemoryCache.
func NewMemoryCache(opts ...MemoryOption) *MemoryCache {
	cfg := defaultMemoryCacheConfig()
	for _, opt := range opts {
		opt(&cfg)
	}
	return &MemoryCache{
		entries: NewOrderedMap[Entry](),
		budget:  cfg.byteBudget,
		logger:  cfg.logger,
		now:     cfg.now,
	}
}

// Get looks up key. On a hit it returns the entry with its per-entry
// lock held and its reference count incremented; the caller must call
// Release on it exactly once when done. On a miss it returns (nil,
// false) and no lock is held.
func (c *MemoryCache) Get(key Fingerprint) (Entry, bool) {
	c.mu.Lock()
	entry, ok := c.entries.Lookup(key)
	if !ok {
		c.stats.Misses++
		c.mu.Unlock()
		return nil, false
	}
	entry.Lock()
	entry.addReference()
	c.stats.Hits++
	c.mu.Unlock()
	return entry, true
}

// Add admits entry under key. entry must already be locked by the
// caller and must not be a MappedEntry (MemoryCache holds only
// heap-resident entries). On input entry must be locked; on output it
// is still locked — the caller retains responsibility for unlocking it,
// matching the borrow it already held.
//
// Add returns true if admitting entry caused another entry to be
// evicted from the cache.
func (c *MemoryCache) Add(key Fingerprint, entry Entry) bool {
	c.mu.Lock()
	mustEvict := c.currentBytes >= c.budget
	c.currentBytes += entry.Size()
	victimKey, victim, evicted := c.entries.Insert(key, entry, mustEvict)
	if evicted {
		victim.Lock()
		c.currentBytes -= victim.Size()
		victim.Unlock()
	}
	c.mu.Unlock()

	if !evicted {
		return false
	}

	droppedKey, dropped, ok := cascadeEvict(&c.mu, c.entries, &c.currentBytes, victimKey, victim, c.logger, "memory")
	if !ok {
		return false
	}
	_ = droppedKey
	c.mu.Lock()
	c.stats.Evictions++
	c.mu.Unlock()
	dropped.Lock()
	dropped.Unlock()
	return true
}

// Delete removes key if present. It is a no-op if key is absent.
func (c *MemoryCache) Delete(key Fingerprint) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if e := c.entries.Element(key); e != nil {
		_, v := c.entries.Erase(e)
		v.Lock()
		c.currentBytes -= v.Size()
		v.Unlock()
	}
}

// Clear removes every removable entry and leaves non-removable (still
// referenced) entries in place: each entry is inspected under lock and
// either dropped or buffered for re-admission.
func (c *MemoryCache) Clear() {
	c.mu.Lock()
	var keep []struct {
		key   Fingerprint
		entry Entry
	}
	for _, key := range c.entries.Keys() {
		entry, ok := c.entries.Lookup(key)
		if !ok {
			continue
		}
		entry.Lock()
		removable := entry.Removable()
		size := entry.Size()
		entry.Unlock()
		if e := c.entries.Element(key); e != nil {
			c.entries.Erase(e)
		}
		c.currentBytes -= size
		if !removable {
			keep = append(keep, struct {
				key   Fingerprint
				entry Entry
			}{key, entry})
		}
	}
	for _, k := range keep {
		c.currentBytes += k.entry.Size()
		c.entries.Insert(k.key, k.entry, false)
	}
	c.mu.Unlock()
}

// Stats returns a snapshot of the cache's runtime counters.
func (c *MemoryCache) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stats
}

// Len reports the number of entries currently admitted.
func (c *MemoryCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.entries.Len()
}
