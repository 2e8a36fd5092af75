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

	"github.com/launix-de/memkv/internal/bytesx"
)

const (
	recMagic byte = 0xC8
	fbMagic  byte = 0xB0
)

// record is the decoded form of an on-disk record header plus its body.
type record struct {
	hash  byte // second hash, BST ordering key
	left  uint64
	right uint64
	psiz  uint16 // padding size, in bytes, after the value
	key   []byte
	value []byte

	off  int64 // file offset this record occupies (0 if not yet placed)
	rsiz uint32 // total aligned footprint on disk, including header/padding
}

// primaryHash selects the bucket index for key, matching spec §4.D.2.
func primaryHash(key []byte, bnum uint64) uint64 {
	var idx uint64 = 19780211
	for _, b := range key {
		idx = idx*37 + uint64(b)
	}
	return idx % bnum
}

// secondaryHash computes the one-byte BST ordering key for key.
func secondaryHash(key []byte) byte {
	var h uint32 = 751
	for i := len(key) - 1; i >= 0; i-- {
		h = (h*31) ^ uint32(key[i])
	}
	return byte(h)
}

// compareKeys orders two records within a bucket's BST first by second
// hash, then by length-first lexicographic key comparison (spec §3).
func compareKeys(hashA byte, keyA []byte, hashB byte, keyB []byte) int {
	if hashA != hashB {
		if hashA < hashB {
			return -1
		}
		return 1
	}
	if len(keyA) != len(keyB) {
		if len(keyA) < len(keyB) {
			return -1
		}
		return 1
	}
	for i := range keyA {
		if keyA[i] != keyB[i] {
			if keyA[i] < keyB[i] {
				return -1
			}
			return 1
		}
	}
	return 0
}

// recHeaderSize returns the fixed-plus-varint header size preceding the key
// and value bytes.
func recHeaderSize(large bool, ksiz, vsiz uint32) int {
	childSize := 4
	if large {
		childSize = 8
	}
	return 1 + 1 + childSize*2 + 2 + bytesx.VarintLen(ksiz) + bytesx.VarintLen(vsiz)
}

// align rounds v up to a multiple of 2^apow.
func align(v int64, apow uint8) int64 {
	mask := int64(1)<<apow - 1
	return (v + mask) &^ mask
}

// encodeRecord serializes r (r.off must already reflect its file
// placement so psiz/rsiz reflect alignment) into a live-record byte slice.
func encodeRecord(r *record, large bool, apow uint8) []byte {
	childSize := 4
	if large {
		childSize = 8
	}
	hdrSize := recHeaderSize(large, uint32(len(r.key)), uint32(len(r.value)))
	total := hdrSize + len(r.key) + len(r.value) + int(r.psiz)

	buf := make([]byte, total)
	buf[0] = recMagic
	buf[1] = r.hash
	pos := 2
	putChild(buf[pos:], r.left, childSize)
	pos += childSize
	putChild(buf[pos:], r.right, childSize)
	pos += childSize
	bytesx.PutUint16BE(buf[pos:pos+2], r.psiz)
	pos += 2
	pos += bytesx.PutVarint(buf[pos:], uint32(len(r.key)))
	pos += bytesx.PutVarint(buf[pos:], uint32(len(r.value)))
	copy(buf[pos:], r.key)
	pos += len(r.key)
	copy(buf[pos:], r.value)
	// remaining bytes (psiz) are left zeroed
	return buf
}

func putChild(buf []byte, v uint64, size int) {
	if size == 8 {
		bytesx.PutUint64BE(buf[:8], v)
	} else {
		bytesx.PutUint32BE(buf[:4], uint32(v))
	}
}

func getChild(buf []byte, size int) uint64 {
	if size == 8 {
		return bytesx.Uint64BE(buf[:8])
	}
	return uint64(bytesx.Uint32BE(buf[:4]))
}

// decodeRecordHeader parses a record header (without the key/value bodies)
// from buf, which must hold at least enough bytes for the fixed fields plus
// both varints (callers pass a generously sized read, per spec's "best
// effort short read... falling back to pread" path). It reports the magic
// byte so callers can distinguish REC from FB.
func decodeRecordHeader(buf []byte, large bool) (magic byte, hash byte, left, right uint64, psiz uint16, ksiz, vsiz uint32, headerLen int, err error) {
	childSize := 4
	if large {
		childSize = 8
	}
	minLen := 2 + childSize*2 + 2 + 2 // +2 minimal varints
	if len(buf) < minLen {
		return 0, 0, 0, 0, 0, 0, 0, fmt.Errorf("record: short header read")
	}
	magic = buf[0]
	if magic == fbMagic {
		return magic, 0, 0, 0, 0, 0, 0, 5, nil
	}
	if magic != recMagic {
		return 0, 0, 0, 0, 0, 0, 0, 0, fmt.Errorf("record: bad magic 0x%x", magic)
	}
	hash = buf[1]
	pos := 2
	left = getChild(buf[pos:], childSize)
	pos += childSize
	right = getChild(buf[pos:], childSize)
	pos += childSize
	psiz = bytesx.Uint16BE(buf[pos : pos+2])
	pos += 2
	k, kn := bytesx.Varint(buf[pos:])
	if kn == 0 {
		return 0, 0, 0, 0, 0, 0, 0, 0, fmt.Errorf("record: truncated key size varint")
	}
	pos += kn
	v, vn := bytesx.Varint(buf[pos:])
	if vn == 0 {
		return 0, 0, 0, 0, 0, 0, 0, 0, fmt.Errorf("record: truncated value size varint")
	}
	pos += vn
	return magic, hash, left, right, psiz, k, v, pos, nil
}

// encodeFreeBlock serializes a free block header (magic + total size); the
// remainder of the block up to size is left as on-disk junk.
func encodeFreeBlock(size uint32) []byte {
	buf := make([]byte, 5)
	buf[0] = fbMagic
	bytesx.PutUint32BE(buf[1:5], size)
	return buf
}

func decodeFreeBlockSize(buf []byte) (uint32, error) {
	if len(buf) < 5 || buf[0] != fbMagic {
		return 0, fmt.Errorf("record: not a free block")
	}
	return bytesx.Uint32BE(buf[1:5]), nil
}
