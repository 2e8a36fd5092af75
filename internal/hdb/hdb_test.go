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
	"fmt"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func openTemp(t *testing.T, opts OpenOptions) *HDB {
	t.Helper()
	opts.Writer = true
	opts.Create = true
	path := filepath.Join(t.TempDir(), "test.hdb")
	h, err := Open(path, opts)
	require.NoError(t, err)
	t.Cleanup(func() { h.Close() })
	return h
}

func TestPutGetOut(t *testing.T) {
	h := openTemp(t, OpenOptions{Bnum: 7})
	require.NoError(t, h.Put([]byte("a"), []byte("1"), ModeOver))
	require.NoError(t, h.Put([]byte("b"), []byte("2"), ModeOver))

	v, err := h.Get([]byte("a"))
	require.NoError(t, err)
	require.Equal(t, []byte("1"), v)

	require.NoError(t, h.Out([]byte("a")))
	_, err = h.Get([]byte("a"))
	require.True(t, Is(err, NoRec))

	v, err = h.Get([]byte("b"))
	require.NoError(t, err)
	require.Equal(t, []byte("2"), v)
}

// TestBnum7Collisions exercises a small bucket count to force multiple keys
// into the same bucket's collision BST.
func TestBnum7Collisions(t *testing.T) {
	h := openTemp(t, OpenOptions{Bnum: 7, RCNum: 0})
	want := map[string]string{}
	for i := 0; i < 50; i++ {
		k := fmt.Sprintf("key-%03d", i)
		v := fmt.Sprintf("value-%03d", i)
		require.NoError(t, h.Put([]byte(k), []byte(v), ModeOver))
		want[k] = v
	}
	for k, v := range want {
		got, err := h.Get([]byte(k))
		require.NoError(t, err)
		require.Equal(t, v, string(got))
	}
	require.EqualValues(t, len(want), h.Rnum())
}

func TestPutKeep(t *testing.T) {
	h := openTemp(t, OpenOptions{Bnum: 3})
	require.NoError(t, h.Put([]byte("k"), []byte("v1"), ModeOver))
	err := h.Put([]byte("k"), []byte("v2"), ModeKeep)
	require.True(t, Is(err, Keep))
	v, _ := h.Get([]byte("k"))
	require.Equal(t, "v1", string(v))
}

func TestPutCat(t *testing.T) {
	h := openTemp(t, OpenOptions{Bnum: 3})
	require.NoError(t, h.Put([]byte("k"), []byte("v1"), ModeOver))
	require.NoError(t, h.Put([]byte("k"), []byte("v2"), ModeCat))
	v, _ := h.Get([]byte("k"))
	require.Equal(t, "v1v2", string(v))
}

func TestAddIntAddDouble(t *testing.T) {
	h := openTemp(t, OpenOptions{Bnum: 3})
	total, err := h.AddInt([]byte("n"), 5)
	require.NoError(t, err)
	require.EqualValues(t, 5, total)
	total, err = h.AddInt([]byte("n"), 7)
	require.NoError(t, err)
	require.EqualValues(t, 12, total)

	dtotal, err := h.AddDouble([]byte("f"), 1.5)
	require.NoError(t, err)
	require.InDelta(t, 1.5, dtotal, 1e-9)
	dtotal, err = h.AddDouble([]byte("f"), 2.25)
	require.NoError(t, err)
	require.InDelta(t, 3.75, dtotal, 1e-9)
}

func TestOverwriteReusesOrReplaces(t *testing.T) {
	h := openTemp(t, OpenOptions{Bnum: 3})
	require.NoError(t, h.Put([]byte("k"), []byte("short"), ModeOver))
	require.NoError(t, h.Put([]byte("k"), []byte("a-much-longer-value-than-before"), ModeOver))
	v, err := h.Get([]byte("k"))
	require.NoError(t, err)
	require.Equal(t, "a-much-longer-value-than-before", string(v))
	require.EqualValues(t, 1, h.Rnum())
}

func TestForEachVisitsAllLiveRecords(t *testing.T) {
	h := openTemp(t, OpenOptions{Bnum: 3})
	want := map[string]string{}
	for i := 0; i < 20; i++ {
		k := fmt.Sprintf("k%02d", i)
		v := fmt.Sprintf("v%02d", i)
		require.NoError(t, h.Put([]byte(k), []byte(v), ModeOver))
		want[k] = v
	}
	require.NoError(t, h.Out([]byte("k05")))
	delete(want, "k05")

	got := map[string]string{}
	err := h.ForEach(func(k, v []byte) bool {
		got[string(k)] = string(v)
		return true
	})
	require.NoError(t, err)
	require.Equal(t, want, got)
}

func TestForEachStopsEarly(t *testing.T) {
	h := openTemp(t, OpenOptions{Bnum: 3})
	for i := 0; i < 10; i++ {
		require.NoError(t, h.Put([]byte(fmt.Sprintf("k%d", i)), []byte("v"), ModeOver))
	}
	count := 0
	h.ForEach(func(k, v []byte) bool {
		count++
		return count < 3
	})
	require.Equal(t, 3, count)
}

func TestTransactionCommit(t *testing.T) {
	h := openTemp(t, OpenOptions{Bnum: 3})
	require.NoError(t, h.Put([]byte("before"), []byte("1"), ModeOver))
	require.NoError(t, h.TranBegin())
	require.NoError(t, h.Put([]byte("in-tx"), []byte("2"), ModeOver))
	require.NoError(t, h.TranCommit())

	v, err := h.Get([]byte("in-tx"))
	require.NoError(t, err)
	require.Equal(t, "2", string(v))
}

func TestTransactionAbort(t *testing.T) {
	h := openTemp(t, OpenOptions{Bnum: 3})
	require.NoError(t, h.Put([]byte("before"), []byte("1"), ModeOver))
	rnumBefore := h.Rnum()

	require.NoError(t, h.TranBegin())
	require.NoError(t, h.Put([]byte("in-tx"), []byte("2"), ModeOver))
	require.NoError(t, h.Out([]byte("before")))
	require.NoError(t, h.TranAbort())

	require.Equal(t, rnumBefore, h.Rnum())
	_, err := h.Get([]byte("in-tx"))
	require.True(t, Is(err, NoRec))
	v, err := h.Get([]byte("before"))
	require.NoError(t, err)
	require.Equal(t, "1", string(v))
}

func TestReopenPersists(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "persist.hdb")

	h, err := Open(path, OpenOptions{Bnum: 7, Writer: true, Create: true})
	require.NoError(t, err)
	require.NoError(t, h.Put([]byte("k"), []byte("v"), ModeOver))
	require.NoError(t, h.Close())

	h2, err := Open(path, OpenOptions{Writer: true})
	require.NoError(t, err)
	defer h2.Close()
	v, err := h2.Get([]byte("k"))
	require.NoError(t, err)
	require.Equal(t, "v", string(v))
}

func TestOptimizeCompactsAndPreservesData(t *testing.T) {
	h := openTemp(t, OpenOptions{Bnum: 3})
	for i := 0; i < 30; i++ {
		require.NoError(t, h.Put([]byte(fmt.Sprintf("k%02d", i)), []byte(fmt.Sprintf("v%02d", i)), ModeOver))
	}
	for i := 0; i < 15; i++ {
		require.NoError(t, h.Out([]byte(fmt.Sprintf("k%02d", i))))
	}
	require.NoError(t, h.Optimize(17, 0, 0))

	for i := 15; i < 30; i++ {
		v, err := h.Get([]byte(fmt.Sprintf("k%02d", i)))
		require.NoError(t, err)
		require.Equal(t, fmt.Sprintf("v%02d", i), string(v))
	}
	require.EqualValues(t, 15, h.Rnum())
}

func TestReadOnlyRejectsWrites(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "ro.hdb")
	h, err := Open(path, OpenOptions{Bnum: 3, Writer: true, Create: true})
	require.NoError(t, err)
	require.NoError(t, h.Put([]byte("k"), []byte("v"), ModeOver))
	require.NoError(t, h.Close())

	ro, err := Open(path, OpenOptions{})
	require.NoError(t, err)
	defer ro.Close()
	err = ro.Put([]byte("k2"), []byte("v2"), ModeOver)
	require.True(t, Is(err, NoPerm))
}
