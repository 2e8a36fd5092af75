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

import "sort"

// fbpMergeInterval is how many failed best-fit searches ("misses") trigger
// a proactive merge-by-offset pass (spec §4.D: "merged by offset
// periodically (every 4096 misses or on overflow)").
const fbpMergeInterval = 4096

// fbpEntry is one (offset, size) hole tracked by the pool.
type fbpEntry struct {
	off  uint64
	size uint32
}

// freeBlockPool is the bounded, size-sorted in-memory index of reusable
// holes in the file (spec §3 "Free block pool" / §4.D.5).
type freeBlockPool struct {
	entries []fbpEntry // kept sorted by size ascending
	max     uint32     // trim target, 2^fpow
	limit   uint32     // hard cap before a merge is forced, max*FBPAllowRatio
	dfcnt   int        // count of insertions since the last defrag pass
	misses  int
}

func newFreeBlockPool(fpow uint8) *freeBlockPool {
	max := uint32(1) << fpow
	return &freeBlockPool{max: max, limit: max * FBPAllowRatio}
}

// Dfcnt returns the running fragmentation counter that drives auto-defrag.
func (p *freeBlockPool) Dfcnt() int { return p.dfcnt }

func (p *freeBlockPool) ResetDfcnt() { p.dfcnt = 0 }

// Insert adds a (off, size) hole, merging and trimming first if the pool
// is already at its hard cap.
func (p *freeBlockPool) Insert(off uint64, size uint32) {
	if uint32(len(p.entries)) >= p.limit {
		p.mergeByOffset()
		p.trimToMax()
	}
	idx := sort.Search(len(p.entries), func(i int) bool { return p.entries[i].size >= size })
	p.entries = append(p.entries, fbpEntry{})
	copy(p.entries[idx+1:], p.entries[idx:])
	p.entries[idx] = fbpEntry{off: off, size: size}
	p.dfcnt++
}

func (p *freeBlockPool) trimToMax() {
	if uint32(len(p.entries)) <= p.max {
		return
	}
	// keep the largest p.max entries (biggest holes are the most useful
	// for future best-fit searches); entries are sorted ascending by size.
	drop := len(p.entries) - int(p.max)
	p.entries = append([]fbpEntry(nil), p.entries[drop:]...)
}

// SearchBestFit finds the smallest free block able to satisfy need. When the
// block is at least twice the requested size and the leftover tail is
// usefully sized, it is split: the tail is reported via (tailOff, tailSize,
// true) instead of being reinserted here, since only the caller (holding the
// file handle) can also mark that tail with an on-disk free-block header. It
// returns (offset, allocatedSize, tailOff, tailSize, hasTail, true) on a hit.
func (p *freeBlockPool) SearchBestFit(need uint32) (uint64, uint32, uint64, uint32, bool, bool) {
	idx := sort.Search(len(p.entries), func(i int) bool { return p.entries[i].size >= need })
	if idx >= len(p.entries) {
		p.misses++
		if p.misses >= fbpMergeInterval {
			p.mergeByOffset()
			p.misses = 0
		}
		return 0, 0, 0, 0, false, false
	}
	p.misses = 0
	e := p.entries[idx]
	p.entries = append(p.entries[:idx], p.entries[idx+1:]...)

	if e.size >= need*2 {
		tailOff := e.off + uint64(need)
		tailSize := e.size - need
		if tailSize >= MinRunit {
			return e.off, need, tailOff, tailSize, true, true
		}
	}
	return e.off, e.size, 0, 0, false, true
}

// Splice attempts to absorb the free block immediately following offset
// recEnd into an existing record's footprint, growing it in place. It
// returns the absorbed size and true on success.
func (p *freeBlockPool) Splice(recEnd uint64) (uint32, bool) {
	for i, e := range p.entries {
		if e.off == recEnd {
			p.entries = append(p.entries[:i], p.entries[i+1:]...)
			return e.size, true
		}
	}
	return 0, false
}

// TrimRegion drops every pool entry lying within [base, next) — used during
// defrag to discard holes the scan is about to absorb — optionally
// inserting a replacement entry afterward.
func (p *freeBlockPool) TrimRegion(base, next uint64, replacement *fbpEntry) {
	kept := p.entries[:0:0]
	for _, e := range p.entries {
		if e.off >= base && e.off < next {
			continue
		}
		kept = append(kept, e)
	}
	p.entries = kept
	if replacement != nil {
		p.Insert(replacement.off, replacement.size)
	}
}

// mergeByOffset coalesces adjacent free blocks (a.off+a.size == b.off),
// capping a merged run's size comfortably below the int32 range so a
// subsequent allocation request never overflows a 32-bit record-size field.
func (p *freeBlockPool) mergeByOffset() {
	if len(p.entries) == 0 {
		return
	}
	byOff := append([]fbpEntry(nil), p.entries...)
	sort.Slice(byOff, func(i, j int) bool { return byOff[i].off < byOff[j].off })

	const maxMerged = (1 << 31) / 4
	merged := []fbpEntry{byOff[0]}
	for _, e := range byOff[1:] {
		last := &merged[len(merged)-1]
		if last.off+uint64(last.size) == e.off && uint64(last.size)+uint64(e.size) <= maxMerged {
			last.size += e.size
		} else {
			merged = append(merged, e)
		}
	}
	sort.Slice(merged, func(i, j int) bool { return merged[i].size < merged[j].size })
	p.entries = merged
}

// snapshot serializes the pool for on-disk persistence at close (spec
// §4.D.1 step 8 loads it back on open).
func (p *freeBlockPool) snapshot() []fbpEntry {
	return append([]fbpEntry(nil), p.entries...)
}

func (p *freeBlockPool) restore(entries []fbpEntry) {
	p.entries = append([]fbpEntry(nil), entries...)
	sort.Slice(p.entries, func(i, j int) bool { return p.entries[i].size < p.entries[j].size })
}

// Len reports the number of tracked holes (tests only).
func (p *freeBlockPool) Len() int { return len(p.entries) }
