package blobcache

import (
	"time"

	"go.uber.org/zap"
)

// Both MemoryCache and DiskCache are configured with the functional
// options pattern, one option type per cache flavor so each can expose
// only the knobs that apply to it.

// MemoryOption configures a MemoryCache constructed with NewMemoryCache.
type MemoryOption func(*memoryCacheConfig)

type memoryCacheConfig struct {
	byteBudget uint64
	logger     *zap.Logger
	now        func() time.Time
}

// WithByteBudget sets the maximum number of resident bytes the cache may
// hold before it begins evicting. A budget of 0 forces eviction on every
// insert.
func WithByteBudget(n uint64) MemoryOption {
	return func(c *memoryCacheConfig) { c.byteBudget = n }
}

// WithLogger sets the diagnostic sink. The default is a no-op logger.
func WithLogger(log *zap.Logger) MemoryOption {
	return func(c *memoryCacheConfig) { c.logger = log }
}

// WithClock overrides time.Now, for deterministic tests.
func WithClock(now func() time.Time) MemoryOption {
	return func(c *memoryCacheConfig) { c.now = now }
}

func defaultMemoryCacheConfig() memoryCacheConfig {
	return memoryCacheConfig{
		logger: zap.NewNop(),
		now:    time.Now,
	}
}

// DiskOption configures a DiskCache constructed with NewDiskCache.
type DiskOption func(*diskCacheConfig)

type diskCacheConfig struct {
	residentFraction float64
	totalBudget      uint64
	cacheRoot        string
	cacheName        string
	cacheVersion     string
	logger           *zap.Logger
	now              func() time.Time
	newFile          BackingFileFactory
}

// WithResidentFraction sets the fraction (0, 1] of the total budget that
// may be resident (mapped) at once. With 1.0 the resident threshold
// equals the total budget, so nothing is demoted until the resident tier
// alone would exceed it; demotion itself is not switched off.
func WithResidentFraction(f float64) DiskOption {
	return func(c *diskCacheConfig) { c.residentFraction = f }
}

// WithTotalBudget sets the byte cap across the resident and persistent
// tiers combined.
func WithTotalBudget(n uint64) DiskOption {
	return func(c *diskCacheConfig) { c.totalBudget = n }
}

// WithCacheRoot overrides the directory under which the cache's named
// subdirectory is created. The default is the platform's per-user cache
// location (github.com/adrg/xdg's CacheHome).
func WithCacheRoot(root string) DiskOption {
	return func(c *diskCacheConfig) { c.cacheRoot = root }
}

// WithCacheName sets the logical cache name, used both as the
// subdirectory under the cache root and as a label in diagnostics.
func WithCacheName(name string) DiskOption {
	return func(c *diskCacheConfig) { c.cacheName = name }
}

// WithCacheVersion sets the version string written to (and checked
// against) the checkpoint index. A mismatch on restore wipes and
// recreates the cache.
func WithCacheVersion(version string) DiskOption {
	return func(c *diskCacheConfig) { c.cacheVersion = version }
}

// WithDiskLogger sets the diagnostic sink for a DiskCache.
func WithDiskLogger(log *zap.Logger) DiskOption {
	return func(c *diskCacheConfig) { c.logger = log }
}

// WithDiskClock overrides time.Now, for deterministic tests.
func WithDiskClock(now func() time.Time) DiskOption {
	return func(c *diskCacheConfig) { c.now = now }
}

// WithBackingFileFactory overrides how backing files are opened. The
// default uses real memory-mapped files; tests substitute a fake that
// never touches the filesystem.
func WithBackingFileFactory(f BackingFileFactory) DiskOption {
	return func(c *diskCacheConfig) { c.newFile = f }
}

func defaultDiskCacheConfig() diskCacheConfig {
	return diskCacheConfig{
		residentFraction: 1.0,
		cacheName:        "blobcache",
		cacheVersion:     "1",
		logger:           zap.NewNop(),
		now:              time.Now,
		newFile:          newMmapBackingFile,
	}
}
