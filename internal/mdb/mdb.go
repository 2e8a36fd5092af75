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

// Package mdb implements the in-memory sharded hash database (spec §4.C):
// a fixed 8-way striped hash table, each shard independently
// read-write-locked, used as the standalone pure-RAM database (the "*"
// ADB backend). The HDB record cache does not use it; it is built directly
// on bytesx.OrderedMap.
package mdb

import (
	"bytes"
	"encoding/binary"
	"math"
	"sync"

	"github.com/launix-de/memkv/internal/bytesx"
)

// ShardCount is fixed per spec §4.C.
const ShardCount = 8

// ErrKeep is returned by PutKeep when the key already exists.
var ErrKeep = errKeep{}

type errKeep struct{}

func (errKeep) Error() string { return "mdb: key already exists (KEEP)" }

// ErrNoRecord is returned by Out/Get/AddInt/AddDouble when the key is
// absent.
var ErrNoRecord = errNoRecord{}

type errNoRecord struct{}

func (errNoRecord) Error() string { return "mdb: no record" }

type shard struct {
	mu sync.RWMutex
	m  *bytesx.OrderedMap
	// iterCursor remembers the resume point for IterNext, expressed as the
	// key last returned (nil before the first call in this generation).
	iterCursor []byte
	iterDone   bool
}

// MDB is the sharded hash database.
type MDB struct {
	shards [ShardCount]*shard
}

// New returns an empty MDB.
func New() *MDB {
	db := &MDB{}
	for i := range db.shards {
		db.shards[i] = &shard{m: bytesx.NewOrderedMap()}
	}
	return db
}

// shardHash is the secondary FNV-style hash selecting a key's shard.
func shardHash(key []byte) uint32 {
	var h uint32 = 2166136261
	for _, b := range key {
		h ^= uint32(b)
		h *= 16777619
	}
	return h
}

func (db *MDB) shardFor(key []byte) *shard {
	return db.shards[shardHash(key)%ShardCount]
}

// Put inserts or overwrites key with value.
func (db *MDB) Put(key, value []byte) {
	s := db.shardFor(key)
	s.mu.Lock()
	s.m.Put(key, value)
	s.mu.Unlock()
}

// PutKeep inserts key with value only if absent; returns ErrKeep otherwise.
func (db *MDB) PutKeep(key, value []byte) error {
	s := db.shardFor(key)
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.m.Get(key); ok {
		return ErrKeep
	}
	s.m.Put(key, value)
	return nil
}

// PutCat appends value to the current value of key (or inserts it as the
// full value if key is absent).
func (db *MDB) PutCat(key, value []byte) {
	s := db.shardFor(key)
	s.mu.Lock()
	defer s.mu.Unlock()
	if cur, ok := s.m.Get(key); ok {
		nv := make([]byte, 0, len(cur)+len(value))
		nv = append(nv, cur...)
		nv = append(nv, value...)
		s.m.Put(key, nv)
	} else {
		s.m.Put(key, append([]byte(nil), value...))
	}
}

// Put3 "semi-volatilizes": on overwrite it moves the entry to the tail of
// insertion order, an LRU touch-on-write.
func (db *MDB) Put3(key, value []byte) {
	s := db.shardFor(key)
	s.mu.Lock()
	s.m.Put3(key, value)
	s.mu.Unlock()
}

// Put4 is Put3's "no write if value is unchanged" sibling: it skips moving
// or dirtying the entry when the stored value already equals value,
// reporting whether anything changed.
func (db *MDB) Put4(key, value []byte) (changed bool) {
	s := db.shardFor(key)
	s.mu.Lock()
	defer s.mu.Unlock()
	if cur, ok := s.m.Get(key); ok && bytes.Equal(cur, value) {
		return false
	}
	s.m.Put3(key, value)
	return true
}

// PutProc invokes fn with the current value (nil, false if absent) under
// the owning shard's write lock. fn must not call back into db: reentrancy
// from inside a callback running under a held shard lock is forbidden
// (spec §5 "Reentrancy").
func (db *MDB) PutProc(key []byte, fn func(cur []byte, present bool) ([]byte, bytesx.ProcOp)) {
	s := db.shardFor(key)
	s.mu.Lock()
	s.m.PutProc(key, fn)
	s.mu.Unlock()
}

// Out removes key, returning ErrNoRecord if it was absent.
func (db *MDB) Out(key []byte) error {
	s := db.shardFor(key)
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.m.Delete(key) {
		return ErrNoRecord
	}
	return nil
}

// Get returns the value for key, or ErrNoRecord.
func (db *MDB) Get(key []byte) ([]byte, error) {
	s := db.shardFor(key)
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.m.Get(key)
	if !ok {
		return nil, ErrNoRecord
	}
	return v, nil
}

// Vsiz returns len(Get(key)), or -1 if absent.
func (db *MDB) Vsiz(key []byte) int {
	s := db.shardFor(key)
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.m.Get(key)
	if !ok {
		return -1
	}
	return len(v)
}

// AddInt adds delta to the native-int (4-byte little-endian host) value
// stored at key, creating it with value delta if absent. It returns
// math.MinInt64 without modifying the store if the existing value is not
// 4 bytes wide.
func (db *MDB) AddInt(key []byte, delta int64) int64 {
	s := db.shardFor(key)
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, ok := s.m.Get(key)
	if !ok {
		buf := make([]byte, 4)
		binary.LittleEndian.PutUint32(buf, uint32(int32(delta)))
		s.m.Put(key, buf)
		return delta
	}
	if len(cur) != 4 {
		return math.MinInt64
	}
	v := int64(int32(binary.LittleEndian.Uint32(cur))) + delta
	buf := make([]byte, 4)
	binary.LittleEndian.PutUint32(buf, uint32(int32(v)))
	s.m.Put(key, buf)
	return v
}

// AddDouble is AddInt's float64 sibling.
func (db *MDB) AddDouble(key []byte, delta float64) float64 {
	s := db.shardFor(key)
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, ok := s.m.Get(key)
	if !ok {
		buf := make([]byte, 8)
		binary.LittleEndian.PutUint64(buf, math.Float64bits(delta))
		s.m.Put(key, buf)
		return delta
	}
	if len(cur) != 8 {
		return math.NaN()
	}
	v := math.Float64frombits(binary.LittleEndian.Uint64(cur)) + delta
	buf := make([]byte, 8)
	binary.LittleEndian.PutUint64(buf, math.Float64bits(v))
	s.m.Put(key, buf)
	return v
}

// Fwmkeys returns every key beginning with prefix, across all shards.
func (db *MDB) Fwmkeys(prefix []byte) [][]byte {
	var out [][]byte
	for _, s := range db.shards {
		s.mu.RLock()
		s.m.ForEach(func(k, _ []byte) bool {
			if bytes.HasPrefix(k, prefix) {
				out = append(out, append([]byte(nil), k...))
			}
			return true
		})
		s.mu.RUnlock()
	}
	return out
}

// Vanish empties every shard.
func (db *MDB) Vanish() {
	for _, s := range db.shards {
		s.mu.Lock()
		s.m = bytesx.NewOrderedMap()
		s.iterCursor = nil
		s.iterDone = false
		s.mu.Unlock()
	}
}

// Rnum returns the total number of entries across all shards.
func (db *MDB) Rnum() int {
	n := 0
	for _, s := range db.shards {
		s.mu.RLock()
		n += s.m.Len()
		s.mu.RUnlock()
	}
	return n
}

// CutFront removes approximately n entries, taking n/ShardCount+1 from the
// front of each shard's insertion order (an approximate global LRU
// eviction, spec §4.C).
func (db *MDB) CutFront(n int) {
	per := n/ShardCount + 1
	for _, s := range db.shards {
		s.mu.Lock()
		for i := 0; i < per; i++ {
			if _, _, ok := s.m.PopFront(); !ok {
				break
			}
		}
		s.mu.Unlock()
	}
}

// IterInit resets iteration to the beginning of every shard.
func (db *MDB) IterInit() {
	for _, s := range db.shards {
		s.mu.Lock()
		s.iterCursor = nil
		s.iterDone = false
		s.mu.Unlock()
	}
}

// IterInitAt resets iteration on every shard, then seeks the shard owning
// key to key's position so iteration proceeds approximately from key
// forward; shard traversal order across different shards stays undefined,
// matching spec §4.C's iterinit(key) contract.
func (db *MDB) IterInitAt(key []byte) {
	db.IterInit()
	owner := db.shardFor(key)
	owner.mu.Lock()
	if _, ok := owner.m.Get(key); ok {
		owner.iterCursor = append([]byte(nil), key...)
	}
	owner.mu.Unlock()
}

// IterNext returns the next key in the current iteration, or (nil, false)
// once every shard is exhausted.
func (db *MDB) IterNext() ([]byte, bool) {
	for _, s := range db.shards {
		s.mu.RLock()
		k, ok := nextKeyAfter(s.m, s.iterCursor, s.iterDone)
		s.mu.RUnlock()
		if ok {
			s.mu.Lock()
			s.iterCursor = k
			s.mu.Unlock()
			return k, true
		}
		s.mu.Lock()
		s.iterDone = true
		s.mu.Unlock()
	}
	return nil, false
}

func nextKeyAfter(m *bytesx.OrderedMap, cursor []byte, done bool) ([]byte, bool) {
	if done {
		return nil, false
	}
	if cursor == nil {
		var first []byte
		found := false
		m.ForEach(func(k, _ []byte) bool {
			first = append([]byte(nil), k...)
			found = true
			return false
		})
		return first, found
	}
	seenCursor := false
	var result []byte
	found := false
	m.ForEach(func(k, _ []byte) bool {
		if seenCursor {
			result = append([]byte(nil), k...)
			found = true
			return false
		}
		if bytes.Equal(k, cursor) {
			seenCursor = true
		}
		return true
	})
	return result, found
}

// ForEach takes a read lock on every shard in ascending order, then
// invokes fn for every entry; returning false from fn ends the scan. If
// acquiring a later shard's lock would deadlock this never happens in
// practice since every caller follows the same ascending order, but ForEach
// still releases whatever it already holds before returning on panic via
// the deferred unlocks below (spec §4.C foreach contract).
func (db *MDB) ForEach(fn func(key, value []byte) bool) {
	for _, s := range db.shards {
		s.mu.RLock()
	}
	defer func() {
		for _, s := range db.shards {
			s.mu.RUnlock()
		}
	}()
	stop := false
	for _, s := range db.shards {
		if stop {
			return
		}
		s.m.ForEach(func(k, v []byte) bool {
			if !fn(k, v) {
				stop = true
				return false
			}
			return true
		})
	}
}
