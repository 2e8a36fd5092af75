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
	"io"
	"os"
	"os/exec"

	"github.com/launix-de/memkv/internal/fsx"
)

// maxFreeBlockSize caps a single on-disk free-block header's advertised
// size comfortably below the int32 range, matching HDBFBMAXSIZ: a bigger
// span is emitted in chunks so no later best-fit search can overflow a
// 32-bit record-size field (spec §4.D.8 step 3).
const maxFreeBlockSize = (1 << 31) / 4

// Defrag advances the incremental defragmentation cursor, relocating up to
// step live records it passes over to the current write cursor and
// coalescing the free space they vacate into one growing span (spec
// §4.D.8). step <= 0 means "no per-call limit": run until the cursor wraps
// around to frec. It is the non-blocking counterpart to Optimize, meant to
// be called periodically (driven by DfUnit/Dfcnt, see Put).
func (h *HDB) Defrag(step int) error {
	h.methodLock.Lock()
	defer h.methodLock.Unlock()
	return h.defragLocked(step)
}

// defragLocked is Defrag's body, callable from code paths (Put's
// auto-defrag trigger) that already hold methodLock.
func (h *HDB) defragLocked(step int) error {
	large := h.hdr.options&OptLarge != 0
	apow := h.hdr.apow
	alignUnit := uint32(1) << apow
	unlimited := step <= 0
	budget := step

	// 1. From dfcur, find the next free-block record.
	for {
		if uint64(h.dfcur) >= h.hdr.fsiz {
			h.dfcur = int64(h.hdr.frec)
			h.fbp.ResetDfcnt()
			return nil
		}
		if !unlimited {
			if budget < 1 {
				return nil
			}
			budget--
		}
		e, err := h.scanEntryAt(h.dfcur, large)
		if err != nil {
			return newErr("defrag", Read, err)
		}
		if e.isFree {
			break
		}
		h.dfcur += int64(e.size)
	}
	if !unlimited {
		budget++ // give back the probe that found the free block
	}

	// 2. Scan forward up to step live records, shifting each to the
	// current write cursor; free-block runs are absorbed into one growing
	// span.
	base := h.dfcur
	first, err := h.scanEntryAt(base, large)
	if err != nil {
		return newErr("defrag", Read, err)
	}
	dest := base
	cur := base + int64(first.size)
	fbsiz := first.size

	for (unlimited || budget > 0) && uint64(cur) < h.hdr.fsiz {
		e, err := h.scanEntryAt(cur, large)
		if err != nil {
			return newErr("defrag", Read, err)
		}
		if e.isFree {
			fbsiz += e.size
			cur += int64(e.size)
			continue
		}
		origSize := e.size
		rec := e.rec
		if uint32(rec.psiz) >= alignUnit {
			diff := uint32(rec.psiz) - uint32(rec.psiz)%alignUnit
			rec.psiz -= uint16(diff)
			rec.rsiz -= diff
			fbsiz += diff
		}
		if err := h.shiftRecord(rec, e.hlen, e.vsiz, dest); err != nil {
			return err
		}
		dest += int64(rec.rsiz)
		cur += int64(origSize)
		if !unlimited {
			budget--
		}
	}

	h.fbp.TrimRegion(uint64(base), uint64(cur), nil)

	// 3/4. Emit the absorbed span, or truncate if the scan reached EOF.
	if uint64(cur) < h.hdr.fsiz {
		if err := h.writeConsolidatedFreeBlock(dest, fbsiz); err != nil {
			return err
		}
		h.dfcur = cur - int64(fbsiz)
	} else {
		h.hdr.fsiz = uint64(dest)
		h.dfcur = int64(h.hdr.frec)
		if !h.tranActive {
			if err := h.f.Truncate(dest); err != nil {
				return h.setFatal(newErr("defrag", Trunc, err))
			}
		}
		// Under a transaction the physical truncate is deferred: the
		// header's shrunk fsiz already hides the tail from readers, and
		// TranAbort restores fsiz from tranAnchorFsiz without needing the
		// bytes preserved anywhere else.
	}
	h.writeHeader()
	return nil
}

// scanEntry is one disk-order probe result: either a free block (isFree,
// with only size populated) or a live record header plus key.
type scanEntry struct {
	isFree bool
	size   uint32
	rec    *record
	hlen   int
	vsiz   uint32
}

func (h *HDB) scanEntryAt(off int64, large bool) (scanEntry, error) {
	probe := make([]byte, headerProbeSize)
	n, rerr := fsx.Pread(h.f, probe, off)
	if rerr != nil && n == 0 {
		return scanEntry{}, rerr
	}
	magic, hash, left, right, psiz, ksiz, vsiz, hlen, derr := decodeRecordHeader(probe[:n], large)
	if derr != nil {
		return scanEntry{}, derr
	}
	if magic == fbMagic {
		size, serr := decodeFreeBlockSize(probe[:n])
		if serr != nil {
			return scanEntry{}, serr
		}
		return scanEntry{isFree: true, size: size}, nil
	}
	keyBuf := make([]byte, ksiz)
	if ksiz > 0 {
		if _, err := fsx.Pread(h.f, keyBuf, off+int64(hlen)); err != nil {
			return scanEntry{}, err
		}
	}
	rsiz := uint32(hlen) + ksiz + vsiz + uint32(psiz)
	rec := &record{hash: hash, left: left, right: right, psiz: psiz, key: keyBuf, off: off, rsiz: rsiz}
	return scanEntry{size: rsiz, rec: rec, hlen: hlen, vsiz: vsiz}, nil
}

// shiftRecord is defrag's version of tchdbshiftrec: it relocates rec (whose
// header and key have already been read from its current, still-valid
// offset) to dest, rewriting whichever bucket-head or sibling child pointer
// addressed it. hlen/vsiz describe its on-disk body layout before the move.
func (h *HDB) shiftRecord(rec *record, hlen int, vsiz uint32, dest int64) error {
	value, err := h.readValueAt(rec.off, hlen, len(rec.key), vsiz)
	if err != nil {
		return newErr("defrag", Read, err)
	}
	bucket := primaryHash(rec.key, h.hdr.bnum)
	res, err := h.bstSearch(bucket, rec.hash, rec.key)
	if err != nil {
		return newErr("defrag", Read, err)
	}
	if !res.found || res.node.off != rec.off {
		return newErr("defrag", Meta, fmt.Errorf("record at %d missing from its bucket chain", rec.off))
	}

	rec.value = value
	buf := encodeRecord(rec, h.hdr.options&OptLarge != 0, h.hdr.apow)
	old := make([]byte, len(buf))
	fsx.Pread(h.f, old, dest)
	h.walProtect(dest, old)
	if _, err := fsx.Pwrite(h.f, buf, dest); err != nil {
		return h.setFatal(newErr("defrag", Write, err))
	}

	shifted := uint64(dest) >> h.hdr.apow
	if res.parentOff < 0 {
		h.writeBucketHead(bucket, shifted)
	} else {
		h.writeChildPointer(res.parentOff, res.parentIsLeft, shifted)
	}
	return nil
}

// writeConsolidatedFreeBlock marks [off, off+size) as free, splitting the
// span into maxFreeBlockSize chunks (never leaving a remainder below
// MinRunit) when it is too large for one free-block header.
func (h *HDB) writeConsolidatedFreeBlock(off int64, size uint32) error {
	if size <= maxFreeBlockSize {
		h.fbp.Insert(uint64(off), size)
		return h.writeFreeBlock("defrag", off, size)
	}
	cur := uint64(off)
	remaining := size
	for remaining > 0 {
		chunk := remaining
		if chunk > maxFreeBlockSize {
			chunk = maxFreeBlockSize
		}
		if remaining-chunk < MinRunit {
			chunk = remaining
		}
		h.fbp.Insert(cur, chunk)
		if err := h.writeFreeBlock("defrag", int64(cur), chunk); err != nil {
			return err
		}
		cur += uint64(chunk)
		remaining -= chunk
	}
	return nil
}

// Optimize rebuilds the database with fresh tuning parameters, compacting
// away every free block (spec §4.D.6). newBnum/newApow/newFpow of 0 reuse
// the current value. The handle keeps operating against the old file
// descriptor throughout and only swaps over once the rebuild has been
// fsynced and atomically renamed into place.
func (h *HDB) Optimize(newBnum uint64, newApow, newFpow uint8) error {
	h.methodLock.Lock()
	defer h.methodLock.Unlock()

	if newBnum == 0 {
		newBnum = h.hdr.bnum
	}
	if newApow == 0 {
		newApow = h.hdr.apow
	}
	if newFpow == 0 {
		newFpow = h.hdr.fpow
	}

	tmpPath := h.path + ".optimize.tmp"
	os.Remove(tmpPath)
	fresh, err := Open(tmpPath, OpenOptions{
		Bnum: newBnum, Apow: newApow, Fpow: newFpow,
		Options: h.hdr.options, RCNum: 0, Writer: true, Create: true, NoLock: true,
	})
	if err != nil {
		return newErr("optimize", OpenErr, err)
	}

	off := int64(h.hdr.frec)
	for uint64(off) < h.hdr.fsiz {
		probe := make([]byte, headerProbeSize)
		n, rerr := fsx.Pread(h.f, probe, off)
		if rerr != nil && n == 0 {
			break
		}
		magic, _, _, _, psiz, ksiz, vsiz, hlen, derr := decodeRecordHeader(probe[:n], h.hdr.options&OptLarge != 0)
		if derr != nil {
			break
		}
		if magic == fbMagic {
			size, _ := decodeFreeBlockSize(probe[:n])
			off += int64(size)
			continue
		}
		keyBuf := make([]byte, ksiz)
		if ksiz > 0 {
			fsx.Pread(h.f, keyBuf, off+int64(hlen))
		}
		valBuf, verr := h.readValueAt(off, hlen, int(ksiz), vsiz)
		if verr == nil {
			if dec, derr := h.codec.Decode(valBuf); derr == nil {
				fresh.Put(keyBuf, dec, ModeOver)
			}
		}
		off += int64(hlen) + int64(ksiz) + int64(vsiz) + int64(psiz)
	}

	if err := fresh.Close(); err != nil {
		return err
	}

	if err := fsx.Msync(h.mapped); err == nil {
		fsx.Munmap(h.mapped)
	}
	if !h.noLock {
		fsx.Unlock(h.f)
	}
	h.f.Close()
	if err := fsx.AtomicRename(tmpPath, h.path); err != nil {
		return newErr("optimize", Rename, err)
	}
	if !h.noLock {
		globalPathLock.Release(h.canonPath)
	}

	reopened, err := Open(h.path, h.opts)
	if err != nil {
		return newErr("optimize", OpenErr, err)
	}
	// Adopt the rebuilt file's state without overwriting h's own lock
	// objects (a wholesale struct copy would replace methodLock itself,
	// panicking the deferred Unlock above).
	h.f = reopened.f
	h.canonPath = reopened.canonPath
	h.mapped = reopened.mapped
	h.bucketsOff = reopened.bucketsOff
	h.fbpOff = reopened.fbpOff
	h.fbpSize = reopened.fbpSize
	h.hdr = reopened.hdr
	h.fbp = reopened.fbp
	h.cache = reopened.cache
	h.w = reopened.w
	h.iterOff = reopened.iterOff
	h.dfcur = reopened.dfcur
	return nil
}

// Copy produces a consistent point-in-time copy of the database file at
// dest. When cmdTemplate is non-empty it is run through "sh -c" with the
// source and destination paths appended as arguments instead of the
// built-in byte copy — the "@command" form of TC's copy op, whose exact
// argument convention the spec leaves unspecified (spec §9 open question
// #3); here the source path is always argument 1 and the destination
// argument 2.
func (h *HDB) Copy(dest string, cmdTemplate string) error {
	h.methodLock.RLock()
	defer h.methodLock.RUnlock()

	if cmdTemplate != "" {
		cmd := exec.Command("sh", "-c", cmdTemplate, "--", h.path, dest)
		cmd.Stdout = os.Stdout
		cmd.Stderr = os.Stderr
		if err := cmd.Run(); err != nil {
			return newErr("copy", Misc, fmt.Errorf("copy command failed: %w", err))
		}
		return nil
	}

	src, err := os.Open(h.path)
	if err != nil {
		return newErr("copy", OpenErr, err)
	}
	defer src.Close()

	tmp := dest + ".tmp"
	out, err := os.OpenFile(tmp, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0644)
	if err != nil {
		return newErr("copy", OpenErr, err)
	}
	if _, err := io.Copy(out, src); err != nil {
		out.Close()
		return newErr("copy", Write, err)
	}
	if err := out.Sync(); err != nil {
		out.Close()
		return newErr("copy", Sync, err)
	}
	if err := out.Close(); err != nil {
		return newErr("copy", CloseErr, err)
	}
	return fsx.AtomicRename(tmp, dest)
}
