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

package mdb

import (
	"fmt"
	"testing"

	"github.com/launix-de/memkv/internal/bytesx"
	"github.com/stretchr/testify/require"
)

func TestPutGetOut(t *testing.T) {
	db := New()
	db.Put([]byte("a"), []byte("1"))
	v, err := db.Get([]byte("a"))
	require.NoError(t, err)
	require.Equal(t, "1", string(v))

	require.NoError(t, db.Out([]byte("a")))
	_, err = db.Get([]byte("a"))
	require.ErrorIs(t, err, ErrNoRecord)
}

func TestPutKeep(t *testing.T) {
	db := New()
	require.NoError(t, db.PutKeep([]byte("k"), []byte("v1")))
	require.ErrorIs(t, db.PutKeep([]byte("k"), []byte("v2")), ErrKeep)
	v, _ := db.Get([]byte("k"))
	require.Equal(t, "v1", string(v))
}

func TestPutCat(t *testing.T) {
	db := New()
	db.PutCat([]byte("x"), []byte("AB"))
	db.PutCat([]byte("x"), []byte("CD"))
	v, _ := db.Get([]byte("x"))
	require.Equal(t, "ABCD", string(v))
}

func TestVsiz(t *testing.T) {
	db := New()
	require.Equal(t, -1, db.Vsiz([]byte("missing")))
	db.Put([]byte("k"), []byte("abcd"))
	require.Equal(t, 4, db.Vsiz([]byte("k")))
}

func TestAddInt(t *testing.T) {
	db := New()
	require.EqualValues(t, 5, db.AddInt([]byte("n"), 5))
	require.EqualValues(t, 12, db.AddInt([]byte("n"), 7))

	db.Put([]byte("bad"), []byte("short"))
	require.Equal(t, int64(-9223372036854775808), db.AddInt([]byte("bad"), 1))
}

func TestFwmkeys(t *testing.T) {
	db := New()
	db.Put([]byte("foo1"), []byte("1"))
	db.Put([]byte("foo2"), []byte("2"))
	db.Put([]byte("bar"), []byte("3"))
	keys := db.Fwmkeys([]byte("foo"))
	require.Len(t, keys, 2)
}

func TestIterationVisitsEveryKeyOnce(t *testing.T) {
	db := New()
	want := map[string]bool{}
	for i := 0; i < 50; i++ {
		k := fmt.Sprintf("k%d", i)
		db.Put([]byte(k), []byte("v"))
		want[k] = true
	}
	db.IterInit()
	got := map[string]bool{}
	for {
		k, ok := db.IterNext()
		if !ok {
			break
		}
		got[string(k)] = true
	}
	require.Equal(t, want, got)
}

func TestCutFrontApproximatelyGlobalLRU(t *testing.T) {
	db := New()
	for i := 0; i < 80; i++ {
		db.Put([]byte(fmt.Sprintf("k%03d", i)), []byte("v"))
	}
	before := db.Rnum()
	db.CutFront(16)
	after := db.Rnum()
	require.Less(t, after, before)
}

func TestForEachRollsBackOnStop(t *testing.T) {
	db := New()
	for i := 0; i < 10; i++ {
		db.Put([]byte(fmt.Sprintf("k%d", i)), []byte("v"))
	}
	n := 0
	db.ForEach(func(k, v []byte) bool {
		n++
		return n < 3
	})
	require.Equal(t, 3, n)

	// locks must have been released: a further ForEach must succeed.
	n2 := 0
	db.ForEach(func(k, v []byte) bool {
		n2++
		return true
	})
	require.Equal(t, 10, n2)
}

func TestPutProcForbidsNilMisuse(t *testing.T) {
	db := New()
	db.Put([]byte("k"), []byte("v"))
	db.PutProc([]byte("k"), func(cur []byte, present bool) ([]byte, bytesx.ProcOp) {
		require.True(t, present)
		require.Equal(t, "v", string(cur))
		return nil, bytesx.ProcDelete
	})
	_, err := db.Get([]byte("k"))
	require.ErrorIs(t, err, ErrNoRecord)
}
