package blobcache

import (
	"fmt"
	"os"

	mmap "github.com/edsrzf/mmap-go"
)

// OpenPolicy controls how a backing file is opened, mirroring the two
// policies the collaborating memory-mapped file primitive must support.
type OpenPolicy int

const (
	// KeepIfExistsElseCreate opens the file if it exists, or creates an
	// empty one otherwise. Used when a MappedEntry is first allocated.
	KeepIfExistsElseCreate OpenPolicy = iota

	// KeepIfExistsElseFail opens the file only if it already exists.
	// Used when re-mapping a persistent-tier entry on promotion.
	KeepIfExistsElseFail
)

// BackingFile is the memory-mapped file primitive a MappedEntry is built
// on: open-or-create, resize, unmap, and report the mapped bytes and
// path. It is an interface so a MappedEntry can be exercised without
// touching the filesystem; mmapBackingFile is the default implementation
// used to run the cache end to end.
type BackingFile interface {
	// Path returns the absolute path of the backing file.
	Path() string

	// Data returns the currently mapped bytes. It is only valid while
	// the file is mapped (i.e. the entry is resident).
	Data() []byte

	// Resize grows or shrinks the backing file and re-establishes the
	// mapping over the new extent.
	Resize(n int64) error

	// Close unmaps the file. The file itself is left on disk.
	Close() error
}

// BackingFileFactory opens or creates the backing file at path under the
// given policy. The default is newMmapBackingFile; tests substitute a
// fake to avoid touching the filesystem.
type BackingFileFactory func(path string, policy OpenPolicy) (BackingFile, error)

// mmapBackingFile is the default BackingFile, backed by a real file and
// github.com/edsrzf/mmap-go.
type mmapBackingFile struct {
	path string
	file *os.File
	m    mmap.MMap
}

func newMmapBackingFile(path string, policy OpenPolicy) (BackingFile, error) {
	flag := os.O_RDWR
	_, err := os.Stat(path)
	switch {
	case err == nil:
		// file exists, both policies keep it
	case os.IsNotExist(err):
		if policy == KeepIfExistsElseFail {
			return nil, fmt.Errorf("blobcache: backing file %s does not exist", path)
		}
		flag |= os.O_CREATE
	default:
		return nil, fmt.Errorf("blobcache: stat %s: %w", path, err)
	}

	f, err := os.OpenFile(path, flag, 0o644)
	if err != nil {
		return nil, fmt.Errorf("blobcache: open %s: %w", path, err)
	}

	b := &mmapBackingFile{path: path, file: f}
	if fi, statErr := f.Stat(); statErr == nil && fi.Size() > 0 {
		if err := b.mapCurrentExtent(); err != nil {
			f.Close()
			return nil, err
		}
	}
	return b, nil
}

func (b *mmapBackingFile) mapCurrentExtent() error {
	m, err := mmap.Map(b.file, mmap.RDWR, 0)
	if err != nil {
		return fmt.Errorf("blobcache: mmap %s: %w", b.path, err)
	}
	b.m = m
	return nil
}

func (b *mmapBackingFile) Path() string { return b.path }

func (b *mmapBackingFile) Data() []byte {
	if b.m == nil {
		return nil
	}
	return b.m
}

func (b *mmapBackingFile) Resize(n int64) error {
	if b.m != nil {
		if err := b.m.Unmap(); err != nil {
			return fmt.Errorf("blobcache: unmap %s: %w", b.path, err)
		}
		b.m = nil
	}
	if err := b.file.Truncate(n); err != nil {
		return fmt.Errorf("blobcache: truncate %s: %w", b.path, err)
	}
	if n == 0 {
		return nil
	}
	return b.mapCurrentExtent()
}

func (b *mmapBackingFile) Close() error {
	var err error
	if b.m != nil {
		err = b.m.Unmap()
		b.m = nil
	}
	if b.file != nil {
		if cerr := b.file.Close(); err == nil {
			err = cerr
		}
		b.file = nil
	}
	return err
}
