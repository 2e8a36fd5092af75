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

import "sort"

// compactEvery bounds how often Shift physically slides the backing array
// forward; in between, it just advances base so repeated Shift calls stay
// O(1) amortized.
const compactEvery = 256

// List is an ordered sequence of byte strings with geometric growth and a
// lazily-compacted front, matching the "ordered sequence of byte strings"
// primitive of the storage engine's key/value batching paths.
type List struct {
	items    [][]byte
	base     int
	shiftCnt int
}

// NewList returns an empty List.
func NewList() *List { return &List{} }

// Push appends v to the back of the list.
func (l *List) Push(v []byte) {
	l.items = append(l.items, v)
}

// Shift removes and returns the front element, or (nil, false) if empty.
func (l *List) Shift() ([]byte, bool) {
	if l.base >= len(l.items) {
		return nil, false
	}
	v := l.items[l.base]
	l.base++
	l.shiftCnt++
	if l.shiftCnt >= compactEvery {
		l.compact()
	}
	return v, true
}

func (l *List) compact() {
	n := copy(l.items, l.items[l.base:])
	l.items = l.items[:n]
	l.base = 0
	l.shiftCnt = 0
}

// Len returns the number of live elements.
func (l *List) Len() int { return len(l.items) - l.base }

// At returns the i-th live element.
func (l *List) At(i int) []byte { return l.items[l.base+i] }

// Sort orders the live elements by less.
func (l *List) Sort(less func(a, b []byte) bool) {
	live := l.items[l.base:]
	sort.Slice(live, func(i, j int) bool { return less(live[i], live[j]) })
}

// Clear empties the list, releasing its backing array.
func (l *List) Clear() {
	l.items = nil
	l.base = 0
	l.shiftCnt = 0
}

// ToSlice returns a fresh slice of the live elements.
func (l *List) ToSlice() [][]byte {
	out := make([][]byte, l.Len())
	copy(out, l.items[l.base:])
	return out
}
