package blobcache

import (
	"fmt"
	"os"
)

// MappedEntry is an Entry backed by a file that can be memory-mapped
// (resident) or left unmapped on disk (persistent-only). Its path is
// stable across demotion and promotion; its mapping handle is present
// iff it currently sits in a cache's resident tier.
type MappedEntry struct {
	baseEntry
	path    string
	file    BackingFile
	newFile BackingFileFactory
}

// NewMappedEntry constructs an unallocated MappedEntry for path. Callers
// must call Allocate before handing it to a cache, or Reopen when
// reconstructing a descriptor recovered from the checkpoint index.
func NewMappedEntry(path string, newFile BackingFileFactory) *MappedEntry {
	if newFile == nil {
		newFile = newMmapBackingFile
	}
	return &MappedEntry{path: path, newFile: newFile}
}

func (e *MappedEntry) IsMapped() bool { return true }

// Path returns the absolute pathname of the backing file.
func (e *MappedEntry) Path() string { return e.path }

// Mapped reports whether the backing file currently has a live mapping
// (invariant I4: true iff the entry is in the resident tier).
func (e *MappedEntry) Mapped() bool { return e.file != nil }

// Data returns the mapped bytes. Valid only while Mapped is true.
func (e *MappedEntry) Data() []byte {
	if e.file == nil {
		return nil
	}
	return e.file.Data()
}

// Allocate creates (or opens) the backing file, sized to byteCount, and
// establishes the mapping. The caller must hold the entry's lock. On
// failure the partial file is removed and the entry is left unallocated.
func (e *MappedEntry) Allocate(byteCount int64) error {
	f, err := e.newFile(e.path, KeepIfExistsElseCreate)
	if err != nil {
		return fmt.Errorf("blobcache: allocate %s: %w", e.path, err)
	}
	if err := f.Resize(byteCount); err != nil {
		f.Close()
		os.Remove(e.path)
		return fmt.Errorf("blobcache: allocate %s: %w", e.path, err)
	}
	e.file = f
	e.size = uint64(byteCount)
	return nil
}

// Deallocate unmaps the backing file without removing it. The caller
// must hold the entry's lock. Used when demoting an entry from resident
// to persistent.
func (e *MappedEntry) Deallocate() error {
	if e.file == nil {
		return nil
	}
	err := e.file.Close()
	e.file = nil
	return err
}

// Reopen re-establishes the mapping from the entry's existing path,
// without creating the file if it is missing. The caller must hold the
// entry's lock. Used when promoting a persistent-tier hit back to
// resident. On failure the caller should evict the entry entirely (its
// backing file is presumed gone or corrupt).
func (e *MappedEntry) Reopen() error {
	f, err := e.newFile(e.path, KeepIfExistsElseFail)
	if err != nil {
		return fmt.Errorf("blobcache: reopen %s: %w", e.path, err)
	}
	e.file = f
	return nil
}

// Destroy unmaps (if needed) and unlinks the backing file. The caller
// must hold the entry's lock. Used when an entry is evicted from the
// persistent tier.
func (e *MappedEntry) Destroy() error {
	if err := e.Deallocate(); err != nil {
		return err
	}
	if err := os.Remove(e.path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("blobcache: remove %s: %w", e.path, err)
	}
	return nil
}
