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

// Pool is a LIFO stack of cleanup functions. It gives request handlers a
// single place to register the release of any temporaries they acquire, so
// Close runs them in reverse acquisition order regardless of which exit
// path was taken. Plain defer already does this per call frame; Pool exists
// for cleanups that must outlive the frame that registered them (e.g. a
// callback stashed across several helper calls in one request handler).
type Pool struct {
	cleanups []func()
}

// NewPool returns an empty Pool.
func NewPool() *Pool { return &Pool{} }

// Push registers fn to run on Close.
func (p *Pool) Push(fn func()) {
	p.cleanups = append(p.cleanups, fn)
}

// Close runs every registered cleanup in reverse push order. It is safe to
// call Close more than once; subsequent calls are no-ops.
func (p *Pool) Close() {
	for i := len(p.cleanups) - 1; i >= 0; i-- {
		p.cleanups[i]()
	}
	p.cleanups = nil
}
