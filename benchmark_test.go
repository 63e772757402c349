package blobcache

import "testing"

// BenchmarkMemoryCacheAdd measures the write path: lock acquisition,
// ordered-map insertion, and budget bookkeeping for a cache that never
// evicts (budget large enough to hold every key used here).
func BenchmarkMemoryCacheAdd(b *testing.B) {
	c := NewMemoryCache(WithByteBudget(uint64(b.N) * 64))
	payload := make([]byte, 64)

	for i := 0; i < b.N; i++ {
		e := NewInMemoryEntry(payload)
		e.Lock()
		c.Add(Fingerprint(i), e)
		e.Unlock()
	}
}

func BenchmarkMemoryCacheGetHit(b *testing.B) {
	c := NewMemoryCache(WithByteBudget(1 << 20))
	e := NewInMemoryEntry(make([]byte, 64))
	e.Lock()
	c.Add(1, e)
	e.Unlock()

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		got, _ := c.Get(1)
		got.Release()
	}
}

func BenchmarkDiskCacheAdd(b *testing.B) {
	c := newBenchDiskCache(b)
	payload := make([]byte, 4096)

	for i := 0; i < b.N; i++ {
		key := Fingerprint(i)
		e := c.NewEntry(key)
		e.Lock()
		if err := c.Allocate(key, e, int64(len(payload))); err != nil {
			b.Fatalf("Allocate: %v", err)
		}
		copy(e.Data(), payload)
		c.Add(key, e)
		e.Unlock()
	}
}

func newBenchDiskCache(b *testing.B) *DiskCache {
	b.Helper()
	c, err := NewDiskCache(
		WithCacheRoot(b.TempDir()),
		WithCacheName("bench"),
		WithTotalBudget(1<<30),
		WithResidentFraction(0.5),
	)
	if err != nil {
		b.Fatalf("NewDiskCache: %v", err)
	}
	return c
}
