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

package serv

import "math"

// ADDDOUBLE's wire value is a (integer-part, fractional-part-as-uint64)
// pair (spec's `ttpackdouble`/`ttunpackdouble`), not a raw IEEE754 double
// — kept for byte-for-byte wire compatibility with the original protocol.
const fracScale = 1e18

func packedToFloat(intPart, fracPart uint64) float64 {
	return float64(int64(intPart)) + float64(fracPart)/fracScale
}

func floatToPacked(v float64) (intPart, fracPart uint64) {
	if math.IsNaN(v) {
		return 0, 0
	}
	ip := math.Trunc(v)
	frac := math.Abs(v - ip)
	return uint64(int64(ip)), uint64(frac * fracScale)
}
