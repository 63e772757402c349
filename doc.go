// Package blobcache implements a two-tier content-addressable cache for
// large immutable byte blobs, keyed by a 64-bit fingerprint.
//
// MemoryCache is a single-tier, heap-resident cache bounded by a byte
// budget. DiskCache adds a second, much larger persistent tier backed by
// memory-mapped files: a bounded resident (mapped) working set sits in
// front of an on-disk set capped by a total byte budget, with entries
// demoted (unmapped) and promoted (re-mapped) as they fall in and out of
// the resident set.
//
// Both caches are safe for concurrent use by multiple goroutines.
package blobcache
