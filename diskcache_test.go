package blobcache

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func newTestDiskCache(t *testing.T, opts ...DiskOption) *DiskCache {
	t.Helper()
	dir := t.TempDir()
	all := append([]DiskOption{
		WithCacheRoot(dir),
		WithCacheName("test"),
		WithTotalBudget(1 << 20),
		WithResidentFraction(1.0),
	}, opts...)
	c, err := NewDiskCache(all...)
	require.NoError(t, err)
	return c
}

func addDiskEntry(t *testing.T, c *DiskCache, key Fingerprint, content []byte) *MappedEntry {
	t.Helper()
	e := c.NewEntry(key)
	e.Lock()
	require.NoError(t, c.Allocate(key, e, int64(len(content))))
	copy(e.Data(), content)
	c.Add(key, e)
	e.Unlock()
	return e
}

func TestDiskCacheInitializesBucketLayout(t *testing.T) {
	dir := t.TempDir()
	newTestDiskCache(t, WithCacheRoot(dir))

	entries, err := os.ReadDir(filepath.Join(dir, "test"))
	require.NoError(t, err)

	count := 0
	for _, e := range entries {
		if e.IsDir() {
			count++
		}
	}
	require.Equal(t, numBuckets, count)
}

func TestDiskCacheAddAndGetRoundTrip(t *testing.T) {
	c := newTestDiskCache(t)
	content := []byte("the quick brown fox")
	addDiskEntry(t, c, 1, content)

	got, ok := c.Get(1)
	require.True(t, ok)
	defer got.Release()

	me := got.(*MappedEntry)
	require.True(t, bytes.Equal(me.Data(), content))
}

func TestDiskCacheDemotesOldestOnResidentPressure(t *testing.T) {
	c := newTestDiskCache(t, WithTotalBudget(100), WithResidentFraction(0.1))

	addDiskEntry(t, c, 1, make([]byte, 6))
	addDiskEntry(t, c, 2, make([]byte, 6))

	require.Equal(t, 1, c.ResidentLen())
	require.Equal(t, 1, c.PersistentLen())
	require.EqualValues(t, 1, c.Stats().Demotions)

	// The demoted entry is still retrievable; Get promotes it back.
	got, ok := c.Get(1)
	require.True(t, ok, "expected persistent-tier entry to still be retrievable")
	got.Release()
	require.EqualValues(t, 1, c.Stats().Promotions)
}

func TestDiskCacheEvictsOldestPersistentOnTotalBudgetPressure(t *testing.T) {
	c := newTestDiskCache(t, WithTotalBudget(10), WithResidentFraction(0.5))

	addDiskEntry(t, c, 1, make([]byte, 5))
	addDiskEntry(t, c, 2, make([]byte, 5))
	addDiskEntry(t, c, 3, make([]byte, 5))
	addDiskEntry(t, c, 4, make([]byte, 5))

	require.Equal(t, 1, c.ResidentLen())
	require.Equal(t, 2, c.PersistentLen())

	stats := c.Stats()
	require.EqualValues(t, 3, stats.Demotions)
	require.EqualValues(t, 1, stats.Evictions)

	_, ok := c.Get(1)
	require.False(t, ok, "expected the oldest entry to have been evicted entirely")
}

func TestDiskCacheClearResidentDemotesEverything(t *testing.T) {
	c := newTestDiskCache(t, WithTotalBudget(1<<20), WithResidentFraction(1.0))

	addDiskEntry(t, c, 1, make([]byte, 4))
	addDiskEntry(t, c, 2, make([]byte, 4))

	c.ClearResident()

	require.Equal(t, 0, c.ResidentLen())
	require.Equal(t, 2, c.PersistentLen())
}

func TestDiskCacheClearResidentSkipsReferencedEntry(t *testing.T) {
	c := newTestDiskCache(t)

	addDiskEntry(t, c, 1, make([]byte, 4))
	held, ok := c.Get(1)
	require.True(t, ok)
	held.Unlock()

	c.ClearResident()

	// The referenced entry cannot be demoted, so it remains resident.
	require.Equal(t, 1, c.ResidentLen())

	held.Lock()
	held.Release()
}

func TestDiskCacheClearAllWipesTheCache(t *testing.T) {
	c := newTestDiskCache(t)
	addDiskEntry(t, c, 1, make([]byte, 4))
	addDiskEntry(t, c, 2, make([]byte, 4))

	require.NoError(t, c.ClearAll())

	require.Equal(t, 0, c.ResidentLen())
	require.Equal(t, 0, c.PersistentLen())

	_, ok := c.Get(1)
	require.False(t, ok)
}

func TestDiskCacheDebugListsBothTiers(t *testing.T) {
	c := newTestDiskCache(t, WithTotalBudget(100), WithResidentFraction(0.1))
	addDiskEntry(t, c, 1, make([]byte, 6))
	addDiskEntry(t, c, 2, make([]byte, 6))

	var buf bytes.Buffer
	c.Debug(&buf)

	require.Contains(t, buf.String(), "resident")
	require.Contains(t, buf.String(), "persistent")
}
