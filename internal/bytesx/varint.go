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

import "encoding/binary"

// PutVarint encodes v as a base-128 varint (1..5 bytes for the uint32 range
// the record header's key/value sizes live in) and returns the number of
// bytes written.
func PutVarint(buf []byte, v uint32) int {
	i := 0
	for v >= 0x80 {
		buf[i] = byte(v) | 0x80
		v >>= 7
		i++
	}
	buf[i] = byte(v)
	return i + 1
}

// Varint decodes a base-128 varint from buf, returning the value and the
// number of bytes consumed, or (0, 0) if buf is truncated.
func Varint(buf []byte) (uint32, int) {
	var v uint32
	for i := 0; i < len(buf) && i < 5; i++ {
		b := buf[i]
		v |= uint32(b&0x7f) << (7 * uint(i))
		if b&0x80 == 0 {
			return v, i + 1
		}
	}
	return 0, 0
}

// VarintLen returns how many bytes PutVarint would need for v.
func VarintLen(v uint32) int {
	n := 1
	for v >= 0x80 {
		v >>= 7
		n++
	}
	return n
}

// PutUint32BE and friends wrap encoding/binary.BigEndian for the fixed-width
// header and wire-protocol fields, which are always network byte order per
// the on-disk and on-wire formats.
func PutUint32BE(buf []byte, v uint32) { binary.BigEndian.PutUint32(buf, v) }
func Uint32BE(buf []byte) uint32       { return binary.BigEndian.Uint32(buf) }
func PutUint64BE(buf []byte, v uint64) { binary.BigEndian.PutUint64(buf, v) }
func Uint64BE(buf []byte) uint64       { return binary.BigEndian.Uint64(buf) }
func PutUint16BE(buf []byte, v uint16) { binary.BigEndian.PutUint16(buf, v) }
func Uint16BE(buf []byte) uint16       { return binary.BigEndian.Uint16(buf) }
