package blobcache

import "go.uber.org/zap"

// The cache API never lets an internal failure escape as an exception or
// a caller-visible error from Get/Add: operations return bool/optional
// results, and failures are instead written to a structured logging
// sink. go.uber.org/zap is used for this sink, the same structured
// logger a cache implementation elsewhere in the retrieval pack
// (Voskan/arena-cache) reaches for.

// logAllocationFailure reports that a backing file could not be created
// or resized; the partial file has already been removed and the entry
// discarded.
func logAllocationFailure(log *zap.Logger, key Fingerprint, path string, err error) {
	log.Warn("blobcache: allocation failure",
		zap.Stringer("fingerprint", key),
		zap.String("path", path),
		zap.Error(err),
	)
}

// logRemapFailure reports that a persistent-tier hit could not be
// re-mapped on promotion; the entry has been evicted entirely and the
// caller will observe a miss.
func logRemapFailure(log *zap.Logger, key Fingerprint, path string, err error) {
	log.Warn("blobcache: remap failure, evicting entry",
		zap.Stringer("fingerprint", key),
		zap.String("path", path),
		zap.Error(err),
	)
}

// logIndexCorruption reports that the checkpoint index was unusable
// (wrong bucket-directory count, parse failure, missing or mismatched
// version, or file-count mismatch) and the cache directory is being
// wiped and recreated.
func logIndexCorruption(log *zap.Logger, cacheName, reason string) {
	log.Warn("blobcache: index corruption, wiping and recreating cache",
		zap.String("cache", cacheName),
		zap.String("reason", reason),
	)
}

// logNonRemovableSaturation reports that an eviction pass could not make
// progress because every candidate entry is currently referenced or
// pinned.
func logNonRemovableSaturation(log *zap.Logger, cacheName string, tierLen int) {
	log.Warn("blobcache: non-removable saturation, admitting beyond budget",
		zap.String("cache", cacheName),
		zap.Int("tier_entries", tierLen),
	)
}
