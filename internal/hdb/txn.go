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
	"encoding/binary"
	"fmt"
	"time"

	"github.com/launix-de/memkv/internal/bytesx"
	"github.com/launix-de/memkv/internal/fsx"
)

// storeFBPSnapshot packs as many free-block entries as fit into the
// on-disk FBP region, largest holes first (spec §4.D.1 step 8). Entries
// that don't fit are simply not persisted: they reappear as ordinary
// unreachable file space, reclaimed the next time Optimize compacts the
// file.
func (h *HDB) storeFBPSnapshot() {
	entries := h.fbp.snapshot()
	capacity := (h.fbpSize - 4) / 12
	if len(entries) > capacity {
		// snapshot() is sorted ascending by size; keep the largest.
		entries = entries[len(entries)-capacity:]
	}
	buf := h.mapped[h.fbpOff : h.fbpOff+int64(h.fbpSize)]
	for i := range buf {
		buf[i] = 0
	}
	binary.BigEndian.PutUint32(buf[0:4], uint32(len(entries)))
	pos := 4
	for _, e := range entries {
		bytesx.PutUint64BE(buf[pos:pos+8], e.off)
		bytesx.PutUint32BE(buf[pos+8:pos+12], e.size)
		pos += 12
	}
}

func (h *HDB) loadFBPSnapshot() {
	buf := h.mapped[h.fbpOff : h.fbpOff+int64(h.fbpSize)]
	n := binary.BigEndian.Uint32(buf[0:4])
	entries := make([]fbpEntry, 0, n)
	pos := 4
	for i := uint32(0); i < n && pos+12 <= len(buf); i++ {
		off := bytesx.Uint64BE(buf[pos : pos+8])
		size := bytesx.Uint32BE(buf[pos+8 : pos+12])
		entries = append(entries, fbpEntry{off: off, size: size})
		pos += 12
	}
	h.fbp.restore(entries)
}

// TranBegin opens a transaction. The method lock is held only for the
// brief setup below, not for the transaction's lifetime. While another
// transaction is active, TranBegin releases the method lock, sleeps with
// exponential backoff (capped at one second) and retries, so a second
// caller waits until the first calls TranCommit/TranAbort.
func (h *HDB) TranBegin() error {
	wait := time.Millisecond
	h.methodLock.Lock()
	for h.writable && h.tranActive {
		h.methodLock.Unlock()
		time.Sleep(wait)
		if wait *= 2; wait > time.Second {
			wait = time.Second
		}
		h.methodLock.Lock()
	}
	defer h.methodLock.Unlock()
	if !h.writable {
		return newErr("tranbegin", Invalid, fmt.Errorf("database not opened for writing"))
	}
	if h.tranActive {
		return newErr("tranbegin", Invalid, fmt.Errorf("transaction already active"))
	}
	if h.w == nil {
		w, err := openWAL(h.path + ".wal")
		if err != nil {
			return newErr("tranbegin", Write, err)
		}
		h.w = w
	}
	if err := h.w.beginAnchor(h.hdr.fsiz); err != nil {
		return newErr("tranbegin", Write, err)
	}
	h.tranActive = true
	h.tranAnchorFsiz = h.hdr.fsiz
	h.tranFBPSnap = h.fbp.snapshot()
	h.tranRnum = h.hdr.rnum
	return nil
}

// TranCommit durably truncates the WAL, making the transaction's writes
// permanent.
func (h *HDB) TranCommit() error {
	h.methodLock.Lock()
	defer h.methodLock.Unlock()
	if !h.tranActive {
		return newErr("trancommit", Invalid, fmt.Errorf("no transaction active"))
	}
	h.writeHeader()
	if err := fsyncAll(h); err != nil {
		return err
	}
	if err := h.w.truncate(); err != nil {
		return newErr("trancommit", Write, err)
	}
	h.tranActive = false
	h.tranFBPSnap = nil
	return nil
}

// TranAbort rolls every logged pre-image back into place in reverse order,
// restores the free-block pool and record count, and empties the WAL.
func (h *HDB) TranAbort() error {
	h.methodLock.Lock()
	defer h.methodLock.Unlock()
	if !h.tranActive {
		return newErr("tranabort", Invalid, fmt.Errorf("no transaction active"))
	}
	_, entries, err := h.w.readAll()
	if err != nil {
		return newErr("tranabort", Read, err)
	}
	// Entries may address either the mmap'd header/bucket-array prefix or
	// the pread/pwrite-only record region beyond it; a plain pwrite to the
	// underlying fd is correct for both, since MAP_SHARED pages and direct
	// fd writes share the same page cache for a regular file.
	for i := len(entries) - 1; i >= 0; i-- {
		e := entries[i]
		if e.off+int64(len(e.old)) <= int64(len(h.mapped)) {
			copy(h.mapped[e.off:e.off+int64(len(e.old))], e.old)
		} else if _, err := fsx.Pwrite(h.f, e.old, e.off); err != nil {
			return newErr("tranabort", Write, err)
		}
	}
	h.hdr.fsiz = h.tranAnchorFsiz
	h.hdr.rnum = h.tranRnum
	h.fbp.restore(h.tranFBPSnap)
	h.cache.Clear()
	h.writeHeader()
	if err := h.w.truncate(); err != nil {
		return newErr("tranabort", Write, err)
	}
	h.tranActive = false
	h.tranFBPSnap = nil
	return nil
}

func fsyncAll(h *HDB) error {
	if err := fsx.Msync(h.mapped); err != nil {
		return newErr("sync", Sync, err)
	}
	if err := h.f.Sync(); err != nil {
		return newErr("sync", Sync, err)
	}
	return nil
}

// recoverFromWAL replays a log left by a process that died mid-transaction
// (FlagOpen was still set at Open time): reverse-apply every entry, exactly
// as TranAbort does, then drop the log.
func (h *HDB) recoverFromWAL() error {
	w, err := openWAL(h.path + ".wal")
	if err != nil {
		return newErr("open", Read, err)
	}
	defer w.close()
	empty, err := w.empty()
	if err != nil || empty {
		return nil
	}
	_, entries, err := w.readAll()
	if err != nil {
		return newErr("open", Read, err)
	}
	for i := len(entries) - 1; i >= 0; i-- {
		e := entries[i]
		if _, err := fsx.Pwrite(h.f, e.old, e.off); err != nil {
			return newErr("open", Write, err)
		}
	}
	return w.truncate()
}
