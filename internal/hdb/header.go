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
	"bytes"
	"fmt"

	"github.com/launix-de/memkv/internal/bytesx"
)

// Constants pinned from original_source/src/db.c (spec §12 "supplemented
// features"); these are wire/on-disk constants, not naming choices.
const (
	HeadSize      = 256 // size of the header region
	DefaultBnum   = 131071
	DefaultApow   = 4
	DefaultFpow   = 10
	MinRunit      = 48 // minimum record reading/writing unit
	FBPAllowRatio = 2  // allowance ratio of the free block pool
	FBPBaseSize   = 64 // base region size of the free block pool snapshot
	MaxApow       = 16
	MaxFpow       = 20
)

// Options is the options bitmask stored at header offset 36.
type Options uint8

const (
	OptLarge   Options = 1 << 0 // 64-bit bucket/child offsets
	OptDeflate Options = 1 << 1
	OptBZip    Options = 1 << 2
	OptTCBS    Options = 1 << 3
	OptExCodec Options = 1 << 4
)

// Flags is the additional-flags byte stored at header offset 33.
type Flags uint8

const (
	FlagOpen  Flags = 1 // set while the file is open for writing; cleared on clean close
	FlagFatal Flags = 2 // latched once a fatal error poisons the database
)

const magicText = "ToKyO CaBiNeT\n"
const formatVersion = "1.0"

// header is the in-memory image of the 256-byte on-disk header (spec §6).
type header struct {
	typ     uint8
	flags   Flags
	apow    uint8
	fpow    uint8
	options Options
	bnum    uint64
	rnum    uint64
	fsiz    uint64
	frec    uint64
	opaque  [128]byte
}

func (h *header) large() bool { return h.options&OptLarge != 0 }

func (h *header) entrySize() int {
	if h.large() {
		return 8
	}
	return 4
}

// encode serializes h into a HeadSize-byte buffer matching spec §6's table.
func (h *header) encode() []byte {
	buf := make([]byte, HeadSize)
	magic := fmt.Sprintf("%s%s:%s\n", magicText, "fmt", formatVersion)
	copy(buf[0:32], magic)
	buf[32] = h.typ
	buf[33] = byte(h.flags)
	buf[34] = h.apow
	buf[35] = h.fpow
	buf[36] = byte(h.options)
	bytesx.PutUint64BE(buf[40:48], h.bnum)
	bytesx.PutUint64BE(buf[48:56], h.rnum)
	bytesx.PutUint64BE(buf[56:64], h.fsiz)
	bytesx.PutUint64BE(buf[64:72], h.frec)
	copy(buf[128:256], h.opaque[:])
	return buf
}

// decode parses a HeadSize-byte header region, validating the magic text.
func decodeHeader(buf []byte) (*header, error) {
	if len(buf) < HeadSize {
		return nil, fmt.Errorf("header: short buffer (%d bytes)", len(buf))
	}
	if !bytes.HasPrefix(buf, []byte(magicText)) {
		return nil, fmt.Errorf("header: bad magic")
	}
	h := &header{
		typ:     buf[32],
		flags:   Flags(buf[33]),
		apow:    buf[34],
		fpow:    buf[35],
		options: Options(buf[36]),
		bnum:    bytesx.Uint64BE(buf[40:48]),
		rnum:    bytesx.Uint64BE(buf[48:56]),
		fsiz:    bytesx.Uint64BE(buf[56:64]),
		frec:    bytesx.Uint64BE(buf[64:72]),
	}
	copy(h.opaque[:], buf[128:256])
	return h, nil
}

// smallPrimes is an ascending prime table used for bucket-count selection,
// matching the original's tcgetprime helper (spec §12).
var smallPrimes = []uint64{
	1, 3, 7, 13, 31, 61, 127, 251, 509, 1021, 2039, 4093, 8191, 16381,
	32749, 65521, 131071, 262139, 524287, 1048573, 2097143, 4194301,
	8388593, 16777213, 33554393, 67108859, 134217689, 268435399,
	536870909, 1073741789, 2147483647,
}

// NextPrime returns the smallest prime in the table that is >= n.
func NextPrime(n uint64) uint64 {
	for _, p := range smallPrimes {
		if p >= n {
			return p
		}
	}
	return smallPrimes[len(smallPrimes)-1]
}
