package blobcache

import (
	"encoding/xml"
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"go.uber.org/zap"
)

// checkpointFileName is the index file written by Save and consumed by
// Restore, at <cacheRoot>/<cacheName>/restoreFile.powc.
const checkpointFileName = "restoreFile.powc"

// numBuckets is the fixed fan-out of the on-disk directory layout:
// exactly 256 subdirectories, named 00 through ff.
const numBuckets = 256

// CacheEntries is the root element of the checkpoint index: a Version
// attribute plus one Entry child per persistent-tier entry, written
// oldest-to-newest so that restoring preserves both insertion order and
// eviction order. encoding/xml is used for a human-inspectable
// hierarchical markup format; no third-party XML library appears
// anywhere in the example corpus this module is grounded on (see
// DESIGN.md).
type CacheEntries struct {
	XMLName xml.Name     `xml:"CacheEntries"`
	Version string       `xml:"Version,attr"`
	Entries []IndexEntry `xml:"Entry"`
}

// IndexEntry describes one MappedEntry's on-disk footprint: the core
// only ever interprets Path and Size. Extra collects any further
// attributes found on an Entry element when the index is parsed; Save
// writes none and Restore does not use them, so extra per-entry
// metadata is not carried across a save/restore cycle.
type IndexEntry struct {
	Path  string     `xml:"Path,attr"`
	Size  uint64     `xml:"Size,attr"`
	Extra []xml.Attr `xml:",any,attr"`
}

// Save flushes the resident tier to persistent (ClearResident) so only
// unmapped entries remain, then writes the persistent tier's index as a
// CacheEntries document to <cacheRoot>/<cacheName>/restoreFile.powc,
// truncating any existing checkpoint.
func (c *DiskCache) Save() error {
	c.ClearResident()

	c.mu.Lock()
	doc := CacheEntries{Version: c.cacheVersion}
	for e := c.persistent.Front(); e != nil; e = e.Next() {
		_, entry := Pair[Entry](e)
		me := entry.(*MappedEntry)
		doc.Entries = append(doc.Entries, IndexEntry{Path: me.Path(), Size: me.Size()})
	}
	c.mu.Unlock()

	path := filepath.Join(c.cachePath(), checkpointFileName)
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("blobcache: create checkpoint: %w", err)
	}
	defer f.Close()

	enc := xml.NewEncoder(f)
	enc.Indent("", "  ")
	if err := enc.Encode(doc); err != nil {
		return fmt.Errorf("blobcache: write checkpoint: %w", err)
	}
	return nil
}

// Restore implements the cache's recovery algorithm:
//
//  1. No checkpoint file: recreate the directory skeleton, return.
//  2. Any bucket-directory count other than 256: wipe, recreate, return.
//  3. Parse the index; a missing/mismatched Version wipes and recreates.
//  4. Construct a MappedEntry descriptor per Entry element, discarding
//     any that fail to parse.
//  5. If the recovered-entry count equals the on-disk file count, admit
//     all of them into the persistent tier in order and delete the
//     checkpoint (it is rewritten on the next Save). Otherwise wipe and
//     recreate — the index and filesystem disagree and no attempt is
//     made at manual reconciliation.
func (c *DiskCache) Restore() error {
	root := c.cachePath()
	checkpointPath := filepath.Join(root, checkpointFileName)

	if _, err := os.Stat(checkpointPath); os.IsNotExist(err) {
		return c.initializeBuckets()
	} else if err != nil {
		return fmt.Errorf("blobcache: stat checkpoint: %w", err)
	}

	subdirs, fileCount, err := c.countDiskContents()
	if err != nil {
		return fmt.Errorf("blobcache: scan cache directory: %w", err)
	}
	if subdirs != numBuckets {
		logIndexCorruption(c.logger, c.cacheName, fmt.Sprintf("found %d bucket directories, want %d", subdirs, numBuckets))
		return c.Reset()
	}

	data, err := os.ReadFile(checkpointPath)
	if err != nil {
		return fmt.Errorf("blobcache: read checkpoint: %w", err)
	}

	var doc CacheEntries
	if err := xml.Unmarshal(data, &doc); err != nil {
		logIndexCorruption(c.logger, c.cacheName, "parse failure: "+err.Error())
		return c.Reset()
	}
	if doc.Version == "" || doc.Version != c.cacheVersion {
		logIndexCorruption(c.logger, c.cacheName, fmt.Sprintf("version mismatch: index=%q want=%q", doc.Version, c.cacheVersion))
		return c.Reset()
	}

	type recovered struct {
		key   Fingerprint
		entry *MappedEntry
	}
	var entries []recovered
	for _, xe := range doc.Entries {
		key, ok := fingerprintFromPath(xe.Path)
		if !ok {
			c.logger.Warn("blobcache: failed to recover entry, discarding", zap.String("path", xe.Path))
			continue
		}
		me := NewMappedEntry(xe.Path, c.newFile)
		me.size = xe.Size
		entries = append(entries, recovered{key, me})
	}

	if len(entries) != fileCount {
		logIndexCorruption(c.logger, c.cacheName, fmt.Sprintf("index has %d entries, disk has %d files", len(entries), fileCount))
		return c.Reset()
	}

	for _, r := range entries {
		r.entry.Lock()
		c.admitPersistent(r.key, r.entry)
		r.entry.Unlock()
	}

	if err := os.Remove(checkpointPath); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("blobcache: remove checkpoint: %w", err)
	}
	return nil
}

// Reset wipes the cache directory entirely and recreates the 256-bucket
// layout. Used whenever Restore detects IndexCorruption.
func (c *DiskCache) Reset() error {
	root := c.cachePath()
	if err := os.RemoveAll(root); err != nil {
		return fmt.Errorf("blobcache: remove cache directory: %w", err)
	}
	return c.initializeBuckets()
}

func (c *DiskCache) initializeBuckets() error {
	root := c.cachePath()
	if err := os.MkdirAll(root, 0o755); err != nil {
		return fmt.Errorf("blobcache: create cache directory: %w", err)
	}
	for i := 0; i < numBuckets; i++ {
		name := Fingerprint(i).bucketName()
		if err := os.MkdirAll(filepath.Join(root, name), 0o755); err != nil {
			return fmt.Errorf("blobcache: create bucket directory: %w", err)
		}
	}
	return nil
}

// countDiskContents counts the cache root's immediate subdirectories and
// the total number of files nested one level inside them.
func (c *DiskCache) countDiskContents() (subdirs int, files int, err error) {
	root := c.cachePath()
	top, err := os.ReadDir(root)
	if err != nil {
		return 0, 0, err
	}
	for _, e := range top {
		if !e.IsDir() {
			continue
		}
		subdirs++
		inner, err := os.ReadDir(filepath.Join(root, e.Name()))
		if err != nil {
			return 0, 0, err
		}
		for _, f := range inner {
			if !f.IsDir() {
				files++
			}
		}
	}
	return subdirs, files, nil
}

// fingerprintFromPath recovers the Fingerprint encoded in a backing
// file's name, as produced by DiskCache.PathFor's default layout
// (<bucket>/<fingerprint-hex>). A caller using a different on-disk
// naming scheme would need its own inverse.
func fingerprintFromPath(path string) (Fingerprint, bool) {
	base := filepath.Base(path)
	v, err := strconv.ParseUint(base, 16, 64)
	if err != nil {
		return 0, false
	}
	return Fingerprint(v), true
}
