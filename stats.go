package blobcache

// Stats reports runtime counters for a cache. Fields are updated under
// the owning cache's lock and the struct is returned as a snapshot; it
// has no locking of its own.
type Stats struct {
	Hits      uint64
	Misses    uint64
	Evictions uint64

	// Promotions and Demotions are zero for MemoryCache, which has only
	// one tier.
	Promotions uint64
	Demotions  uint64
}

// HitRatio returns Hits / (Hits + Misses), or 0 if there have been no
// lookups yet.
func (s Stats) HitRatio() float64 {
	total := s.Hits + s.Misses
	if total == 0 {
		return 0
	}
	return float64(s.Hits) / float64(total)
}
