package blobcache

import (
	"sync"

	"go.uber.org/zap"
)

// cascadeEvict implements the re-admission loop shared by
// MemoryCache.Add and DiskCache's resident/persistent admission: when
// the entry an ordered map just evicted is not removable (it is still
// referenced or pinned), it cannot simply be dropped. It is re-admitted
// into the same tier, forcing eviction of the next-oldest entry, and
// the process repeats with whatever that eviction produces.
//
// The loop terminates because each re-admission either (a) produces a
// removable victim, which is returned for the caller to destroy or
// demote, or (b) has found as many non-removable entries as the tier
// holds, at which point the current entry is re-admitted without
// forcing any further eviction. Case (b) is a saturation condition where
// every entry in the tier is pinned or referenced: the entry is left in
// place (bytes already re-credited to it) and the caller is told to
// give up and admit beyond budget.
//
// mu guards both m and *bytes and must be the tier's cache-wide lock; it
// is acquired and released internally, never held across victim
// processing.
func cascadeEvict(mu *sync.Mutex, m *OrderedMap[Entry], bytes *uint64, victimKey Fingerprint, victim Entry, log *zap.Logger, cacheName string) (droppedKey Fingerprint, dropped Entry, ok bool) {
	key, entry := victimKey, victim
	tried := 0
	for {
		entry.Lock()
		removable := entry.Removable()
		entry.Unlock()
		if removable {
			return key, entry, true
		}

		mu.Lock()
		*bytes += entry.Size()
		tried++
		newKey, newEntry, newEvicted := m.Insert(key, entry, tried <= m.Len())
		if newEvicted {
			newEntry.Lock()
			*bytes -= newEntry.Size()
			newEntry.Unlock()
		}
		tierLen := m.Len()
		mu.Unlock()

		if !newEvicted {
			logNonRemovableSaturation(log, cacheName, tierLen)
			return 0, nil, false
		}
		key, entry = newKey, newEntry
	}
}
