/*
Copyright (C) 2026  memkv contributors

    This program is free software: you can redistribute it and/or modify
    it under the terms of the GNU General Public License as published by
    the Free Software Foundation, either version 3 of the License, or
    (at your option) any later version.

    This program is distributed in the hope that it will be useful,
    but WITHOUT ANY WARRANTY; without even the implied warranty of
    MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
    GNU General Public License for more details.

    You should have received a copy of the GNU General Public License
    along with this program.  If not, see <https://www.gnu.org/licenses/>.
*/

package bytesx

import "container/list"

// Position selects an end of the insertion-order list for Move.
type Position int

const (
	Front Position = iota
	Back
)

// ProcOp is the verdict a PutProc callback returns.
type ProcOp int

const (
	// ProcSet stores the returned value.
	ProcSet ProcOp = iota
	// ProcKeep leaves the existing value untouched.
	ProcKeep
	// ProcDelete removes the entry.
	ProcDelete
)

type omEntry struct {
	key   string
	value []byte
	elem  *list.Element
}

// OrderedMap is a byte-string-to-byte-string map that additionally threads
// its entries through a doubly linked list in insertion order, the
// primitive the record cache and the in-memory database shards are built
// from. It is not safe for concurrent use; callers add their own locking
// (see the shard type in package mdb).
type OrderedMap struct {
	entries map[string]*omEntry
	order   *list.List // holds *omEntry
}

// NewOrderedMap returns an empty OrderedMap.
func NewOrderedMap() *OrderedMap {
	return &OrderedMap{entries: make(map[string]*omEntry), order: list.New()}
}

// Len returns the number of entries.
func (m *OrderedMap) Len() int { return len(m.entries) }

// Get returns the value for key and whether it was present.
func (m *OrderedMap) Get(key []byte) ([]byte, bool) {
	e, ok := m.entries[string(key)]
	if !ok {
		return nil, false
	}
	return e.value, true
}

// Put inserts or overwrites key with value, leaving its position in
// insertion order unchanged on overwrite (new keys are appended at the
// back).
func (m *OrderedMap) Put(key, value []byte) {
	ks := string(key)
	if e, ok := m.entries[ks]; ok {
		e.value = value
		return
	}
	e := &omEntry{key: ks, value: value}
	e.elem = m.order.PushBack(e)
	m.entries[ks] = e
}

// Put3 inserts or overwrites key with value and, on overwrite, moves the
// entry to the back of insertion order (an LRU "touch" on write).
func (m *OrderedMap) Put3(key, value []byte) {
	ks := string(key)
	if e, ok := m.entries[ks]; ok {
		e.value = value
		m.order.MoveToBack(e.elem)
		return
	}
	m.Put(key, value)
}

// Delete removes key if present and reports whether it existed.
func (m *OrderedMap) Delete(key []byte) bool {
	ks := string(key)
	e, ok := m.entries[ks]
	if !ok {
		return false
	}
	m.order.Remove(e.elem)
	delete(m.entries, ks)
	return true
}

// Move relocates an existing key to the given end of insertion order.
func (m *OrderedMap) Move(key []byte, pos Position) {
	e, ok := m.entries[string(key)]
	if !ok {
		return
	}
	if pos == Front {
		m.order.MoveToFront(e.elem)
	} else {
		m.order.MoveToBack(e.elem)
	}
}

// PutProc invokes fn with the current value (nil, false if absent) and
// applies the verdict it returns.
func (m *OrderedMap) PutProc(key []byte, fn func(cur []byte, present bool) ([]byte, ProcOp)) {
	cur, present := m.Get(key)
	nv, op := fn(cur, present)
	switch op {
	case ProcSet:
		m.Put(key, nv)
	case ProcDelete:
		m.Delete(key)
	case ProcKeep:
		// no-op
	}
}

// PopFront removes and returns the oldest entry.
func (m *OrderedMap) PopFront() (key, value []byte, ok bool) {
	front := m.order.Front()
	if front == nil {
		return nil, nil, false
	}
	e := front.Value.(*omEntry)
	m.order.Remove(front)
	delete(m.entries, e.key)
	return []byte(e.key), e.value, true
}

// ForEach visits entries in insertion order; returning false from fn stops
// the iteration early.
func (m *OrderedMap) ForEach(fn func(key, value []byte) bool) {
	for el := m.order.Front(); el != nil; {
		next := el.Next()
		e := el.Value.(*omEntry)
		if !fn([]byte(e.key), e.value) {
			return
		}
		el = next
	}
}

// Keys returns keys in insertion order.
func (m *OrderedMap) Keys() [][]byte {
	out := make([][]byte, 0, len(m.entries))
	m.ForEach(func(k, _ []byte) bool {
		out = append(out, k)
		return true
	})
	return out
}
