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
	stdcmp "cmp"
	"slices"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"
)

// fbpEntry carries only unexported fields; go-cmp refuses to traverse those
// without an explicit allowance.
var allowFbpEntry = cmp.AllowUnexported(fbpEntry{})

// byOffThenSize returns the pool's entries sorted by offset, so tests can
// compare against an expected structure regardless of the pool's internal
// size-sorted storage order.
func byOffThenSize(p *freeBlockPool) []fbpEntry {
	out := append([]fbpEntry(nil), p.entries...)
	slices.SortFunc(out, func(a, b fbpEntry) int {
		if a.off != b.off {
			return stdcmp.Compare(a.off, b.off)
		}
		return stdcmp.Compare(a.size, b.size)
	})
	return out
}

func TestFreeBlockPoolInsertAndSearchBestFit(t *testing.T) {
	p := newFreeBlockPool(10) // max = 1024, well above this test's entry count
	p.Insert(100, 50)
	p.Insert(200, 20)
	p.Insert(300, 200)

	want := []fbpEntry{
		{off: 100, size: 50},
		{off: 200, size: 20},
		{off: 300, size: 200},
	}
	if diff := cmp.Diff(want, byOffThenSize(p), allowFbpEntry); diff != "" {
		t.Fatalf("pool contents after inserts (-want +got):\n%s", diff)
	}

	// A request for 20 should return the exact 20-byte block (no split:
	// size < need*2).
	off, size, _, _, hasTail, ok := p.SearchBestFit(20)
	require.True(t, ok)
	require.False(t, hasTail)
	require.EqualValues(t, 200, off)
	require.EqualValues(t, 20, size)

	want = []fbpEntry{
		{off: 100, size: 50},
		{off: 300, size: 200},
	}
	if diff := cmp.Diff(want, byOffThenSize(p), allowFbpEntry); diff != "" {
		t.Fatalf("pool contents after exact-fit search (-want +got):\n%s", diff)
	}

	// A request for 60 is too big for the 50-byte block, so best fit picks
	// the 200-byte block and splits off a 140-byte tail (size >= need*2 and
	// the tail clears MinRunit), reported to the caller rather than
	// reinserted by SearchBestFit itself.
	off, size, tailOff, tailSize, hasTail, ok = p.SearchBestFit(60)
	require.True(t, ok)
	require.EqualValues(t, 300, off)
	require.EqualValues(t, 60, size)
	require.True(t, hasTail)
	require.EqualValues(t, 360, tailOff)
	require.EqualValues(t, 140, tailSize)

	want = []fbpEntry{
		{off: 100, size: 50},
	}
	if diff := cmp.Diff(want, byOffThenSize(p), allowFbpEntry); diff != "" {
		t.Fatalf("pool contents after split-search, before caller reinserts tail (-want +got):\n%s", diff)
	}

	// The caller (ops.go) is responsible for reinserting the tail once it
	// has also marked it on disk; simulate that here.
	p.Insert(tailOff, tailSize)
	want = []fbpEntry{
		{off: 100, size: 50},
		{off: 360, size: 140},
	}
	if diff := cmp.Diff(want, byOffThenSize(p), allowFbpEntry); diff != "" {
		t.Fatalf("pool contents after tail reinsert (-want +got):\n%s", diff)
	}
}

func TestFreeBlockPoolMergeByOffset(t *testing.T) {
	p := newFreeBlockPool(10)
	// Three adjacent blocks (100-150, 150-170, 170-220) plus one isolated
	// block (500-520); mergeByOffset should coalesce only the adjacent run.
	p.Insert(100, 50)
	p.Insert(150, 20)
	p.Insert(170, 50)
	p.Insert(500, 20)

	p.mergeByOffset()

	want := []fbpEntry{
		{off: 500, size: 20},
		{off: 100, size: 120},
	}
	got := append([]fbpEntry(nil), p.entries...)
	if diff := cmp.Diff(want, got, allowFbpEntry); diff != "" {
		t.Fatalf("merged pool contents, size-ascending (-want +got):\n%s", diff)
	}
}

func TestFreeBlockPoolTrimRegion(t *testing.T) {
	p := newFreeBlockPool(10)
	p.Insert(100, 10)
	p.Insert(150, 10)
	p.Insert(300, 10)

	p.TrimRegion(100, 200, &fbpEntry{off: 100, size: 60})

	want := []fbpEntry{
		{off: 100, size: 60},
		{off: 300, size: 10},
	}
	if diff := cmp.Diff(want, byOffThenSize(p), allowFbpEntry); diff != "" {
		t.Fatalf("pool contents after TrimRegion with replacement (-want +got):\n%s", diff)
	}
}

// bstInorder walks bucket's on-disk collision tree in key order, returning
// each node's (hash, key) pair, to check the BST invariant structurally
// rather than just probing individual lookups.
func bstInorder(t *testing.T, h *HDB, bucket uint64) []struct{ Hash byte; Key string } {
	t.Helper()
	var out []struct {
		Hash byte
		Key  string
	}
	var walk func(ptr uint64)
	walk = func(ptr uint64) {
		if ptr == 0 {
			return
		}
		off := int64(ptr) << h.hdr.apow
		rec, _, _, err := h.readRecordHeaderAt(off)
		require.NoError(t, err)
		walk(rec.left)
		out = append(out, struct {
			Hash byte
			Key  string
		}{rec.hash, string(rec.key)})
		walk(rec.right)
	}
	walk(h.readBucketHead(bucket))
	return out
}

// TestBucketBSTStaysOrdered puts enough keys into a single bucket (Bnum: 1
// forces every key into bucket 0) to build a multi-level collision tree,
// then structurally diffs an in-order walk against the same (hash, key)
// pairs sorted by the tree's own ordering convention.
func TestBucketBSTStaysOrdered(t *testing.T) {
	h := openTemp(t, OpenOptions{Bnum: 1})
	keys := []string{"delta", "alpha", "echo", "bravo", "charlie", "foxtrot", "golf"}
	for _, k := range keys {
		require.NoError(t, h.Put([]byte(k), []byte("v-"+k), ModeOver))
	}

	type pair struct {
		Hash byte
		Key  string
	}
	want := make([]pair, len(keys))
	for i, k := range keys {
		want[i] = pair{secondaryHash([]byte(k)), k}
	}
	slices.SortFunc(want, func(a, b pair) int {
		return compareKeys(a.Hash, []byte(a.Key), b.Hash, []byte(b.Key))
	})

	got := bstInorder(t, h, 0)
	gotPairs := make([]pair, len(got))
	for i, g := range got {
		gotPairs[i] = pair{g.Hash, g.Key}
	}

	if diff := cmp.Diff(want, gotPairs); diff != "" {
		t.Fatalf("bucket BST in-order walk vs expected sort order (-want +got):\n%s", diff)
	}
}
