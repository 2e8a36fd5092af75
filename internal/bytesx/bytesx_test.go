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

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestBuilderAppendF(t *testing.T) {
	b := NewBuilder(0)
	b.AppendF("%s=%d (%x) %@ %?", "n", 12, 255, "<a&b>", "a b/c")
	require.Equal(t, `n=12 (ff) &lt;a&amp;b&gt; a+b%2Fc`, b.String())
}

func TestListShiftCompacts(t *testing.T) {
	l := NewList()
	for i := 0; i < 1000; i++ {
		l.Push([]byte{byte(i)})
	}
	for i := 0; i < 999; i++ {
		v, ok := l.Shift()
		require.True(t, ok)
		require.Equal(t, byte(i), v[0])
	}
	require.Equal(t, 1, l.Len())
}

func TestOrderedMapInsertionOrder(t *testing.T) {
	m := NewOrderedMap()
	m.Put([]byte("a"), []byte("1"))
	m.Put([]byte("b"), []byte("2"))
	m.Put([]byte("a"), []byte("3")) // overwrite keeps position
	var keys []string
	m.ForEach(func(k, v []byte) bool {
		keys = append(keys, string(k)+"="+string(v))
		return true
	})
	require.Equal(t, []string{"a=3", "b=2"}, keys)
}

func TestOrderedMapPut3Touches(t *testing.T) {
	m := NewOrderedMap()
	m.Put([]byte("a"), []byte("1"))
	m.Put([]byte("b"), []byte("2"))
	m.Put3([]byte("a"), []byte("3"))
	k, _, _ := m.PopFront()
	require.Equal(t, "b", string(k))
}

func TestOrderedMapPutProc(t *testing.T) {
	m := NewOrderedMap()
	m.Put([]byte("n"), []byte{5})
	m.PutProc([]byte("n"), func(cur []byte, present bool) ([]byte, ProcOp) {
		require.True(t, present)
		return []byte{cur[0] + 1}, ProcSet
	})
	v, _ := m.Get([]byte("n"))
	require.Equal(t, byte(6), v[0])

	m.PutProc([]byte("n"), func(cur []byte, present bool) ([]byte, ProcOp) {
		return nil, ProcDelete
	})
	_, ok := m.Get([]byte("n"))
	require.False(t, ok)
}

func TestVarintRoundTrip(t *testing.T) {
	for _, v := range []uint32{0, 1, 127, 128, 16384, 1 << 28, 0xffffffff} {
		buf := make([]byte, 5)
		n := PutVarint(buf, v)
		require.Equal(t, VarintLen(v), n)
		got, n2 := Varint(buf[:n])
		require.Equal(t, n, n2)
		require.Equal(t, v, got)
	}
}

func TestPoolRunsLIFO(t *testing.T) {
	p := NewPool()
	var order []int
	p.Push(func() { order = append(order, 1) })
	p.Push(func() { order = append(order, 2) })
	p.Push(func() { order = append(order, 3) })
	p.Close()
	require.Equal(t, []int{3, 2, 1}, order)
	p.Close() // idempotent
	require.Equal(t, []int{3, 2, 1}, order)
}
