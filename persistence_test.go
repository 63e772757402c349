package blobcache

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDiskCacheRestoreFreshCreatesBucketsOnly(t *testing.T) {
	c := newTestDiskCache(t)
	require.Equal(t, 0, c.ResidentLen())
	require.Equal(t, 0, c.PersistentLen())
}

func TestDiskCacheSaveRestoreRoundTrip(t *testing.T) {
	dir := t.TempDir()

	c := newTestDiskCache(t, WithCacheRoot(dir), WithCacheName("round-trip"), WithCacheVersion("7"))
	addDiskEntry(t, c, 1, []byte("alpha"))
	addDiskEntry(t, c, 2, []byte("beta"))
	addDiskEntry(t, c, 3, []byte("gamma"))

	require.NoError(t, c.Save())
	require.Equal(t, 0, c.ResidentLen(), "Save should demote everything resident")

	c2, err := NewDiskCache(
		WithCacheRoot(dir),
		WithCacheName("round-trip"),
		WithCacheVersion("7"),
		WithTotalBudget(1<<20),
		WithResidentFraction(1.0),
	)
	require.NoError(t, err)
	require.Equal(t, 3, c2.PersistentLen())

	got, ok := c2.Get(2)
	require.True(t, ok, "expected recovered entry for key 2")
	me := got.(*MappedEntry)
	require.Equal(t, "beta", string(me.Data()))
	got.Release()

	// The checkpoint is consumed on a successful restore.
	_, err = os.Stat(filepath.Join(dir, "round-trip", checkpointFileName))
	require.True(t, os.IsNotExist(err), "expected checkpoint to be removed after restore")
}

func TestDiskCacheRestoreWipesOnCorruptCheckpoint(t *testing.T) {
	dir := t.TempDir()

	c := newTestDiskCache(t, WithCacheRoot(dir), WithCacheName("corrupt"))
	addDiskEntry(t, c, 1, []byte("data"))
	require.NoError(t, c.Save())

	checkpoint := filepath.Join(dir, "corrupt", checkpointFileName)
	require.NoError(t, os.WriteFile(checkpoint, []byte("not valid xml"), 0o644))

	c2, err := NewDiskCache(
		WithCacheRoot(dir),
		WithCacheName("corrupt"),
		WithTotalBudget(1<<20),
		WithResidentFraction(1.0),
	)
	require.NoError(t, err)

	require.Equal(t, 0, c2.PersistentLen())
	require.Equal(t, 0, c2.ResidentLen())

	_, ok := c2.Get(1)
	require.False(t, ok, "expected the previously saved entry to be gone after a wipe")
}

func TestDiskCacheRestoreWipesOnVersionMismatch(t *testing.T) {
	dir := t.TempDir()

	c := newTestDiskCache(t, WithCacheRoot(dir), WithCacheName("versioned"), WithCacheVersion("1"))
	addDiskEntry(t, c, 1, []byte("data"))
	require.NoError(t, c.Save())

	c2, err := NewDiskCache(
		WithCacheRoot(dir),
		WithCacheName("versioned"),
		WithCacheVersion("2"),
		WithTotalBudget(1<<20),
		WithResidentFraction(1.0),
	)
	require.NoError(t, err)
	require.Equal(t, 0, c2.PersistentLen(), "expected a version mismatch to wipe the cache")
}
