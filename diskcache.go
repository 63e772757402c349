package blobcache

import (
	"fmt"
	"io"
	"path/filepath"
	"sync"
	"time"

	"github.com/adrg/xdg"
	"go.uber.org/zap"
)

// DiskCache is a two-tier cache: a bounded resident (memory-mapped)
// working set sits in front of a much larger persistent (unmapped) set,
// both capped in aggregate by totalBudget. Admission, demotion,
// promotion, and eviction are coordinated under a single cache-wide
// mutex that is never held across file I/O.
//
// Discipline: DiskCache promotes on hit (re-maps a persistent-tier entry
// and moves it into the resident tier), rather than serving reads
// straight from an unmapped file. This preserves the invariant that a
// MappedEntry has a live mapping iff it is resident, and avoids
// remapping on every access to the same hot entry.
type DiskCache struct {
	mu         sync.Mutex
	resident   *OrderedMap[Entry]
	persistent *OrderedMap[Entry]

	residentBytes   uint64
	persistentBytes uint64

	residentFraction float64
	totalBudget      uint64

	cacheRoot    string
	cacheName    string
	cacheVersion string

	logger  *zap.Logger
	now     func() time.Time
	newFile BackingFileFactory

	stats Stats
}

// NewDiskCache constructs a DiskCache and restores its persistent tier
// from a prior checkpoint, if one exists and is valid (see Restore).
func NewDiskCache(opts ...DiskOption) (*DiskCache, error) {
	cfg := defaultDiskCacheConfig()
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.cacheRoot == "" {
		cfg.cacheRoot = xdg.CacheHome
	}
	if cfg.residentFraction <= 0 || cfg.residentFraction > 1 {
		return nil, fmt.Errorf("blobcache: resident fraction must be in (0, 1], got %v", cfg.residentFraction)
	}

	c := &DiskCache{
		resident:         NewOrderedMap[Entry](),
		persistent:       NewOrderedMap[Entry](),
		residentFraction: cfg.residentFraction,
		totalBudget:      cfg.totalBudget,
		cacheRoot:        cfg.cacheRoot,
		cacheName:        cfg.cacheName,
		cacheVersion:     cfg.cacheVersion,
		logger:           cfg.logger,
		now:              cfg.now,
		newFile:          cfg.newFile,
	}
	if err := c.Restore(); err != nil {
		return nil, err
	}
	return c, nil
}

// CacheName returns the logical cache name (the subdirectory under the
// cache root).
func (c *DiskCache) CacheName() string { return c.cacheName }

// CacheVersion returns the version string stamped into the checkpoint
// index.
func (c *DiskCache) CacheVersion() string { return c.cacheVersion }

func (c *DiskCache) cachePath() string {
	return filepath.Join(c.cacheRoot, c.cacheName)
}

func (c *DiskCache) bucketPath(key Fingerprint) string {
	return filepath.Join(c.cachePath(), key.bucketName())
}

// PathFor returns the absolute path the default layout assigns to key's
// backing file: <cacheRoot>/<cacheName>/<bucket>/<fingerprint-hex>.
func (c *DiskCache) PathFor(key Fingerprint) string {
	return filepath.Join(c.bucketPath(key), key.String())
}

// NewEntry returns an unallocated MappedEntry at key's default path,
// using this cache's backing-file factory. Callers still need to call
// Allocate before Add.
func (c *DiskCache) NewEntry(key Fingerprint) *MappedEntry {
	return NewMappedEntry(c.PathFor(key), c.newFile)
}

// Allocate creates entry's backing file sized to byteCount. The caller
// must hold entry's lock. A failure is written to the diagnostic sink
// (same as the cache's other internal-failure kinds) before being
// returned to the caller.
func (c *DiskCache) Allocate(key Fingerprint, entry *MappedEntry, byteCount int64) error {
	if err := entry.Allocate(byteCount); err != nil {
		logAllocationFailure(c.logger, key, entry.Path(), err)
		return err
	}
	return nil
}

// Get looks up key. On a hit it returns the entry with its per-entry
// lock held and its reference count incremented; the caller must call
// Release on it exactly once when done. A persistent-tier hit is
// promoted (re-mapped and moved to resident) before being returned; if
// the remap fails the entry is evicted entirely and Get reports a miss.
func (c *DiskCache) Get(key Fingerprint) (Entry, bool) {
	c.mu.Lock()
	if e, ok := c.resident.Lookup(key); ok {
		e.Lock()
		e.addReference()
		c.stats.Hits++
		c.mu.Unlock()
		return e, true
	}
	e, ok := c.persistent.Lookup(key)
	if !ok {
		c.stats.Misses++
		c.mu.Unlock()
		return nil, false
	}
	e.Lock()
	e.addReference()
	c.mu.Unlock()

	return c.promote(key, e)
}

// promote re-maps a persistent-tier hit (outside the cache lock, since
// remapping is I/O) and moves it into the resident tier. entry must
// already be locked and referenced by the caller, as produced by Get.
func (c *DiskCache) promote(key Fingerprint, entry Entry) (Entry, bool) {
	me := entry.(*MappedEntry)

	if err := me.Reopen(); err != nil {
		logRemapFailure(c.logger, key, me.path, err)

		c.mu.Lock()
		if e := c.persistent.Element(key); e != nil {
			c.persistent.Erase(e)
			c.persistentBytes -= me.size
		}
		c.stats.Misses++
		c.mu.Unlock()

		me.refCount--
		if err := me.Destroy(); err != nil {
			c.logger.Warn("blobcache: destroy after failed remap", zap.Stringer("fingerprint", key), zap.Error(err))
		}
		me.Unlock()
		return nil, false
	}

	c.mu.Lock()
	if e := c.persistent.Element(key); e != nil {
		c.persistent.Erase(e)
		c.persistentBytes -= me.size
	}
	c.mu.Unlock()

	c.admitResident(key, entry)

	c.mu.Lock()
	c.stats.Hits++
	c.stats.Promotions++
	c.mu.Unlock()
	return entry, true
}

// Add admits entry, a MappedEntry whose backing file already exists with
// its payload written, under key. entry must already be locked by the
// caller; on output it is still locked. Add returns true if admitting
// entry caused another entry to be demoted or evicted.
func (c *DiskCache) Add(key Fingerprint, entry *MappedEntry) bool {
	return c.admitResident(key, entry)
}

// admitResident inserts into the resident tier, demoting the oldest
// entry to the persistent tier if the resident budget (residentFraction
// × totalBudget) would be exceeded.
func (c *DiskCache) admitResident(key Fingerprint, entry Entry) bool {
	c.mu.Lock()
	threshold := uint64(c.residentFraction * float64(c.totalBudget))
	mustDemote := c.residentBytes+entry.Size() > threshold
	c.residentBytes += entry.Size()
	victimKey, victim, evicted := c.resident.Insert(key, entry, mustDemote)
	if evicted {
		victim.Lock()
		c.residentBytes -= victim.Size()
		victim.Unlock()
	}
	c.mu.Unlock()

	if !evicted {
		return false
	}

	droppedKey, dropped, ok := cascadeEvict(&c.mu, c.resident, &c.residentBytes, victimKey, victim, c.logger, c.cacheName)
	if !ok {
		// NonRemovableSaturation: the victim was re-admitted resident;
		// nothing was demoted.
		return false
	}

	dropped.Lock()
	me := dropped.(*MappedEntry)
	if err := me.Deallocate(); err != nil {
		c.logger.Warn("blobcache: deallocate during demotion", zap.Stringer("fingerprint", droppedKey), zap.Error(err))
	}
	dropped.Unlock()

	c.admitPersistent(droppedKey, dropped)

	c.mu.Lock()
	c.stats.Demotions++
	c.mu.Unlock()
	return true
}

// admitPersistent is the persistent-tier admission reached from
// demotion: insert into the persistent tier, evicting (unlinking) the
// oldest entry if the total budget would be exceeded.
func (c *DiskCache) admitPersistent(key Fingerprint, entry Entry) {
	c.mu.Lock()
	mustEvict := c.persistentBytes+entry.Size() > c.totalBudget
	c.persistentBytes += entry.Size()
	victimKey, victim, evicted := c.persistent.Insert(key, entry, mustEvict)
	if evicted {
		victim.Lock()
		c.persistentBytes -= victim.Size()
		victim.Unlock()
	}
	c.mu.Unlock()

	if !evicted {
		return
	}

	droppedKey, dropped, ok := cascadeEvict(&c.mu, c.persistent, &c.persistentBytes, victimKey, victim, c.logger, c.cacheName)
	if !ok {
		return
	}

	dropped.Lock()
	me := dropped.(*MappedEntry)
	if err := me.Destroy(); err != nil {
		c.logger.Warn("blobcache: destroy during eviction", zap.Stringer("fingerprint", droppedKey), zap.Error(err))
	}
	dropped.Unlock()

	c.mu.Lock()
	c.stats.Evictions++
	c.mu.Unlock()
}

// ClearResident repeatedly demotes the oldest resident entry to the
// persistent tier until the resident tier is empty. Entries that cannot
// be demoted safely (still referenced or pinned) are skipped and
// reinserted; if a full pass over the resident tier demotes nothing, the
// sweep stops early and logs a non-removable-saturation diagnostic
// rather than looping forever.
func (c *DiskCache) ClearResident() {
	c.mu.Lock()
	total := c.resident.Len()
	c.mu.Unlock()
	if total == 0 {
		return
	}

	stalled := 0
	for {
		c.mu.Lock()
		if c.resident.Len() == 0 {
			c.mu.Unlock()
			return
		}
		key, entry, ok := c.resident.Evict()
		if ok {
			c.residentBytes -= entry.Size()
		}
		c.mu.Unlock()
		if !ok {
			return
		}

		entry.Lock()
		removable := entry.Removable()
		if !removable {
			entry.Unlock()
			c.mu.Lock()
			c.residentBytes += entry.Size()
			c.resident.Insert(key, entry, false)
			c.mu.Unlock()

			stalled++
			if stalled >= total {
				logNonRemovableSaturation(c.logger, c.cacheName, total)
				return
			}
			continue
		}

		me := entry.(*MappedEntry)
		if err := me.Deallocate(); err != nil {
			c.logger.Warn("blobcache: deallocate during clear_resident", zap.Stringer("fingerprint", key), zap.Error(err))
		}
		entry.Unlock()

		c.admitPersistent(key, entry)
		c.mu.Lock()
		c.stats.Demotions++
		c.mu.Unlock()
		stalled = 0
	}
}

// ClearAll demotes every resident entry (ClearResident), unlinks every
// persistent entry's backing file, then wipes and reinitializes the
// on-disk 256-bucket directory layout.
func (c *DiskCache) ClearAll() error {
	c.ClearResident()

	for {
		c.mu.Lock()
		key, entry, ok := c.persistent.Evict()
		if ok {
			c.persistentBytes -= entry.Size()
		}
		c.mu.Unlock()
		if !ok {
			break
		}

		entry.Lock()
		if me, ok := entry.(*MappedEntry); ok {
			if err := me.Destroy(); err != nil {
				c.logger.Warn("blobcache: destroy during clear_all", zap.Stringer("fingerprint", key), zap.Error(err))
			}
		}
		entry.Unlock()
	}

	return c.Reset()
}

// Stats returns a snapshot of the cache's runtime counters.
func (c *DiskCache) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stats
}

// ResidentLen and PersistentLen report the number of entries currently
// held in each tier.
func (c *DiskCache) ResidentLen() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.resident.Len()
}

func (c *DiskCache) PersistentLen() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.persistent.Len()
}

// Debug writes a human-readable, operator-facing dump of both tiers to w.
func (c *DiskCache) Debug(w io.Writer) {
	c.mu.Lock()
	defer c.mu.Unlock()

	fmt.Fprintf(w, "==== %s (version %s) ====\n", c.cacheName, c.cacheVersion)
	fmt.Fprintf(w, "-- resident (%d entries, %d bytes) --\n", c.resident.Len(), c.residentBytes)
	for e := c.resident.Front(); e != nil; e = e.Next() {
		key, entry := Pair[Entry](e)
		me := entry.(*MappedEntry)
		fmt.Fprintf(w, "  %s  [%s]  %d bytes  mapped=%v\n", key, me.Path(), me.Size(), me.Mapped())
	}
	fmt.Fprintf(w, "-- persistent (%d entries, %d bytes) --\n", c.persistent.Len(), c.persistentBytes)
	for e := c.persistent.Front(); e != nil; e = e.Next() {
		key, entry := Pair[Entry](e)
		me := entry.(*MappedEntry)
		fmt.Fprintf(w, "  %s  [%s]  %d bytes  mapped=%v\n", key, me.Path(), me.Size(), me.Mapped())
	}
}
