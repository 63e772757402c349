package blobcache

import "sync"

// Entry is the unit of storage managed by a cache. Every admitted entry is
// either heap-resident (InMemoryEntry) or backed by a file that can be
// memory-mapped and unmapped independently of its contents (MappedEntry).
// This is a closed, two-variant set: IsMapped reports which variant an
// entry is. DiskCache, which holds only MappedEntry values, converts an
// Entry to *MappedEntry with a type assertion where it needs the backing
// file.
type Entry interface {
	// Lock protects lifecycle transitions: allocation, deallocation,
	// remapping, and destruction. The cache holds it briefly around
	// destructive operations; a client holds it for the duration of a
	// borrow obtained from Get.
	Lock()
	Unlock()

	// Size is the byte count this entry contributes to budget
	// accounting. It is fixed at allocation time.
	Size() uint64

	// Removable reports whether the entry has no outstanding
	// references and no subclass-specific pin. The caller must hold
	// the entry's lock.
	Removable() bool

	// IsMapped distinguishes MappedEntry (has a backing file) from
	// InMemoryEntry (heap-resident only).
	IsMapped() bool

	// Release gives back a borrow obtained from a cache's Get: it
	// decrements the reference count and releases the per-entry lock.
	// It must be called exactly once per successful Get.
	Release()

	addReference()
}

// baseEntry implements the bookkeeping shared by every Entry variant:
// the per-entry mutex, the byte size, the reference count, and an
// optional subclass pin that forbids removal even at zero references.
type baseEntry struct {
	mu       sync.Mutex
	size     uint64
	refCount int32
	pinned   bool
}

func (e *baseEntry) Lock()   { e.mu.Lock() }
func (e *baseEntry) Unlock() { e.mu.Unlock() }

func (e *baseEntry) Size() uint64 { return e.size }

// Removable must be called with the entry's lock held.
func (e *baseEntry) Removable() bool {
	return e.refCount == 0 && !e.pinned
}

func (e *baseEntry) addReference() {
	e.refCount++
}

func (e *baseEntry) Release() {
	e.refCount--
	e.mu.Unlock()
}

// Pin marks the entry as non-removable regardless of reference count,
// for subclasses that need to protect an entry outside of the normal
// borrow/release discipline (e.g. a payload still being written).
// Pin must be called with the entry's lock held.
func (e *baseEntry) Pin(pinned bool) {
	e.pinned = pinned
}

// InMemoryEntry is a heap-resident Entry: its payload lives entirely in
// Go-managed memory and is never spilled to disk. MemoryCache only ever
// stores entries of this kind.
type InMemoryEntry struct {
	baseEntry
	Data []byte
}

// NewInMemoryEntry wraps data as an admittable Entry. data is not copied;
// the caller must not mutate it after handing the entry to a cache (per
// the cache's ownership model, payload bytes are never mutated after
// admission).
func NewInMemoryEntry(data []byte) *InMemoryEntry {
	return &InMemoryEntry{
		baseEntry: baseEntry{size: uint64(len(data))},
		Data:      data,
	}
}

func (e *InMemoryEntry) IsMapped() bool { return false }
