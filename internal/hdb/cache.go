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

package hdb

import (
	"sync"

	"github.com/launix-de/memkv/internal/bytesx"
)

const (
	cacheTagPresent byte = '='
	cacheTagAbsent  byte = '*'
)

// recordCache is the optional record cache of spec §4.D.3: a bounded
// insertion-order map keyed by record key, whose value is a one-byte
// presence tag followed by the cached value bytes (empty for the
// known-absent marker).
type recordCache struct {
	mu    sync.Mutex
	m     *bytesx.OrderedMap
	rcnum int
}

func newRecordCache(rcnum int) *recordCache {
	return &recordCache{m: bytesx.NewOrderedMap(), rcnum: rcnum}
}

// shrinkStep implements the implementation-defined eviction width the spec
// leaves unpinned (spec §9, open question #1): shrink by max(1, rcnum/8),
// which is >=1 for any rcnum>0 and <rcnum for any rcnum>1.
func (c *recordCache) shrinkStep() int {
	step := c.rcnum / 8
	if step < 1 {
		step = 1
	}
	if step >= c.rcnum {
		step = c.rcnum - 1
		if step < 1 {
			step = 1
		}
	}
	return step
}

func (c *recordCache) enforceCapLocked() {
	if c.rcnum <= 0 {
		return
	}
	if c.m.Len() <= c.rcnum {
		return
	}
	for i := 0; i < c.shrinkStep() && c.m.Len() > 0; i++ {
		c.m.PopFront()
	}
}

// Get returns (value, present, found): found is false if key is not cached
// at all (caller must consult the file); present distinguishes a cached hit
// from a cached "known absent" marker.
func (c *recordCache) Get(key []byte) (value []byte, present bool, found bool) {
	if c.rcnum <= 0 {
		return nil, false, false
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	v, ok := c.m.Get(key)
	if !ok {
		return nil, false, false
	}
	if v[0] == cacheTagAbsent {
		return nil, false, true
	}
	return append([]byte(nil), v[1:]...), true, true
}

func (c *recordCache) PutPresent(key, value []byte) {
	if c.rcnum <= 0 {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	buf := append([]byte{cacheTagPresent}, value...)
	c.m.Put(key, buf)
	c.enforceCapLocked()
}

func (c *recordCache) PutAbsent(key []byte) {
	if c.rcnum <= 0 {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.m.Put(key, []byte{cacheTagAbsent})
	c.enforceCapLocked()
}

// Evict removes key from the cache unconditionally (write path always
// evicts before mutating the file, spec §4.D.4 step 1).
func (c *recordCache) Evict(key []byte) {
	if c.rcnum <= 0 {
		return
	}
	c.mu.Lock()
	c.m.Delete(key)
	c.mu.Unlock()
}

// Clear empties the cache (used by transaction abort, spec §4.D.7).
func (c *recordCache) Clear() {
	c.mu.Lock()
	c.m = bytesx.NewOrderedMap()
	c.mu.Unlock()
}
