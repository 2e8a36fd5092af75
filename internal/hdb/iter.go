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

import "github.com/launix-de/memkv/internal/fsx"

// IterInit resets the file-order iterator to the first record.
func (h *HDB) IterInit() {
	h.methodLock.Lock()
	defer h.methodLock.Unlock()
	h.iterOff = int64(h.hdr.frec)
}

// IterNext returns the next (key, value) pair in on-disk order, skipping
// free blocks, or (nil, nil, false) once the end of the file is reached.
func (h *HDB) IterNext() (key, value []byte, ok bool) {
	h.methodLock.Lock()
	defer h.methodLock.Unlock()
	for uint64(h.iterOff) < h.hdr.fsiz {
		off := h.iterOff
		probe := make([]byte, headerProbeSize)
		n, err := fsx.Pread(h.f, probe, off)
		if err != nil && n == 0 {
			return nil, nil, false
		}
		magic, hashB, _, _, psiz, ksiz, vsiz, hlen, derr := decodeRecordHeader(probe[:n], h.hdr.options&OptLarge != 0)
		if derr != nil {
			return nil, nil, false
		}
		if magic == fbMagic {
			size, _ := decodeFreeBlockSize(probe[:n])
			h.iterOff += int64(size)
			continue
		}
		total := int64(hlen) + int64(ksiz) + int64(vsiz) + int64(psiz)
		keyBuf := make([]byte, ksiz)
		if ksiz > 0 {
			fsx.Pread(h.f, keyBuf, off+int64(hlen))
		}
		valBuf, err := h.readValueAt(off, hlen, int(ksiz), vsiz)
		h.iterOff = off + total
		if err != nil {
			continue
		}
		dec, derr := h.codec.Decode(valBuf)
		if derr != nil {
			continue
		}
		_ = hashB
		return keyBuf, dec, true
	}
	return nil, nil, false
}

// ForEach visits every live record in file order, stopping early if fn
// returns false. It holds the method read-lock for its whole traversal, so
// concurrent writers block until it completes, matching the "foreach
// blocks writers" guarantee of spec §8.
func (h *HDB) ForEach(fn func(key, value []byte) bool) error {
	h.methodLock.RLock()
	defer h.methodLock.RUnlock()

	off := int64(h.hdr.frec)
	for uint64(off) < h.hdr.fsiz {
		probe := make([]byte, headerProbeSize)
		n, err := fsx.Pread(h.f, probe, off)
		if err != nil && n == 0 {
			return newErr("foreach", Read, err)
		}
		magic, _, _, _, psiz, ksiz, vsiz, hlen, derr := decodeRecordHeader(probe[:n], h.hdr.options&OptLarge != 0)
		if derr != nil {
			return newErr("foreach", Meta, derr)
		}
		if magic == fbMagic {
			size, serr := decodeFreeBlockSize(probe[:n])
			if serr != nil {
				return newErr("foreach", Meta, serr)
			}
			off += int64(size)
			continue
		}
		total := int64(hlen) + int64(ksiz) + int64(vsiz) + int64(psiz)
		keyBuf := make([]byte, ksiz)
		if ksiz > 0 {
			fsx.Pread(h.f, keyBuf, off+int64(hlen))
		}
		valBuf, verr := h.readValueAt(off, hlen, int(ksiz), vsiz)
		if verr == nil {
			if dec, derr := h.codec.Decode(valBuf); derr == nil {
				if !fn(keyBuf, dec) {
					return nil
				}
			}
		}
		off += total
	}
	return nil
}
