package blobcache

import "container/list"

// OrderedMap is a bounded, insertion-ordered mapping from Fingerprint to
// a value, pairing a map with a doubly-linked list for LRU-style
// bookkeeping (map[Fingerprint]*list.Element over a container/list.List).
// It does not itself consult budgets or per-entry locks: the enclosing
// cache decides when an insert must evict and what to do with the
// returned victim.
//
// By itself this structure is FIFO: Lookup does not reposition an entry.
// MemoryCache and DiskCache's resident tier keep that FIFO order on a
// hit; an entry moves to the newest end only when DiskCache promotes a
// persistent-tier hit back into the resident tier.
type OrderedMap[V any] struct {
	index map[Fingerprint]*list.Element
	order *list.List // element.Value is *omPair[V]; Front is oldest
}

type omPair[V any] struct {
	key   Fingerprint
	value V
}

// NewOrderedMap returns an empty OrderedMap.
func NewOrderedMap[V any]() *OrderedMap[V] {
	return &OrderedMap[V]{
		index: make(map[Fingerprint]*list.Element),
		order: list.New(),
	}
}

// Len reports the number of entries currently stored.
func (m *OrderedMap[V]) Len() int {
	return m.order.Len()
}

// Lookup returns the value for key without changing its position.
func (m *OrderedMap[V]) Lookup(key Fingerprint) (V, bool) {
	if e, ok := m.index[key]; ok {
		return e.Value.(*omPair[V]).value, true
	}
	var zero V
	return zero, false
}

// Insert places (key, value) at the most-recently-inserted end. key must
// not already be present; callers are expected to check Lookup first
// (duplicate keys are a caller error).
//
// If mustEvict is true and the map is non-empty, the least-recently-
// inserted pair is removed first and returned as the victim. If mustEvict
// is false, or the map was empty, evicted is false.
func (m *OrderedMap[V]) Insert(key Fingerprint, value V, mustEvict bool) (evictedKey Fingerprint, evictedValue V, evicted bool) {
	if _, exists := m.index[key]; exists {
		panic("blobcache: duplicate fingerprint inserted into ordered map")
	}
	if mustEvict && m.order.Len() > 0 {
		evictedKey, evictedValue, evicted = m.evictFront()
	}
	e := m.order.PushBack(&omPair[V]{key: key, value: value})
	m.index[key] = e
	return
}

// Evict forcibly removes and returns the oldest pair. ok is false if the
// map is empty.
func (m *OrderedMap[V]) Evict() (key Fingerprint, value V, ok bool) {
	return m.evictFront()
}

func (m *OrderedMap[V]) evictFront() (Fingerprint, V, bool) {
	front := m.order.Front()
	if front == nil {
		var zero V
		return 0, zero, false
	}
	p := front.Value.(*omPair[V])
	m.order.Remove(front)
	delete(m.index, p.key)
	return p.key, p.value, true
}

// Element returns the underlying list element for key, for use with
// Erase, or nil if key is not present.
func (m *OrderedMap[V]) Element(key Fingerprint) *list.Element {
	return m.index[key]
}

// Front and Back expose the oldest and newest elements, for callers that
// need to iterate without forcibly evicting (e.g. DiskCache's Debug and
// Save walking a tier oldest-first).
func (m *OrderedMap[V]) Front() *list.Element { return m.order.Front() }
func (m *OrderedMap[V]) Back() *list.Element  { return m.order.Back() }

// Erase removes the pair at e, wherever it is in the order, and returns
// its key and value.
func (m *OrderedMap[V]) Erase(e *list.Element) (Fingerprint, V) {
	p := e.Value.(*omPair[V])
	m.order.Remove(e)
	delete(m.index, p.key)
	return p.key, p.value
}

// Pair extracts the (key, value) held by a list.Element returned from
// Front/Back/Element/Next/Prev, without removing it.
func Pair[V any](e *list.Element) (Fingerprint, V) {
	p := e.Value.(*omPair[V])
	return p.key, p.value
}

// Keys returns every key currently stored, oldest to newest. It is
// intended for diagnostics and tests, not hot paths.
func (m *OrderedMap[V]) Keys() []Fingerprint {
	keys := make([]Fingerprint, 0, m.order.Len())
	for e := m.order.Front(); e != nil; e = e.Next() {
		keys = append(keys, e.Value.(*omPair[V]).key)
	}
	return keys
}
