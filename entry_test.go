package blobcache

import "testing"

func TestInMemoryEntrySize(t *testing.T) {
	e := NewInMemoryEntry([]byte("hello"))
	if e.Size() != 5 {
		t.Fatalf("expected size 5, got %d", e.Size())
	}
	if e.IsMapped() {
		t.Fatal("InMemoryEntry must report IsMapped() == false")
	}
	if string(e.Data) != "hello" {
		t.Fatalf("unexpected data: %q", e.Data)
	}
}

func TestEntryRemovableTracksReferences(t *testing.T) {
	e := NewInMemoryEntry([]byte("x"))
	e.Lock()
	if !e.Removable() {
		t.Fatal("a fresh entry with no references should be removable")
	}
	e.addReference()
	if e.Removable() {
		t.Fatal("an entry with an outstanding reference must not be removable")
	}
	e.Unlock()

	e.Lock()
	e.Release()

	e.Lock()
	if !e.Removable() {
		t.Fatal("releasing the only reference should make the entry removable again")
	}
	e.Unlock()
}

func TestEntryPinOverridesReferenceCount(t *testing.T) {
	e := NewInMemoryEntry([]byte("x"))
	e.Lock()
	e.Pin(true)
	if e.Removable() {
		t.Fatal("a pinned entry must not be removable even with zero references")
	}
	e.Pin(false)
	if !e.Removable() {
		t.Fatal("unpinning a zero-reference entry should make it removable again")
	}
	e.Unlock()
}

func TestEntryReleaseUnlocksAndDecrements(t *testing.T) {
	e := NewInMemoryEntry([]byte("x"))
	e.Lock()
	e.addReference()
	e.addReference()
	e.Release()

	e.Lock()
	defer e.Unlock()
	if e.Removable() {
		t.Fatal("one remaining reference should still block removal")
	}
}
