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

// Package hdb implements the hash storage engine (spec §4.D), the core of
// the database: file format, bucket array, per-bucket collision BSTs,
// record I/O, the free-block pool, write-ahead-logged transactions,
// defragmentation and the iterator.
package hdb

import (
	"fmt"
	"os"
	"sync"
	"sync/atomic"

	"github.com/launix-de/memkv/internal/codec"
	"github.com/launix-de/memkv/internal/fsx"
	"github.com/launix-de/memkv/internal/logx"
)

// globalPathLock guards against double-opening the same canonical path from
// within this process (spec §9 "global mutable state").
var globalPathLock = fsx.NewPathLock()

// PutMode selects how Put behaves when the key already exists (spec
// §4.D.4).
type PutMode int

const (
	ModeOver PutMode = iota
	ModeKeep
	ModeCat
)

// OpenOptions configures a new or existing database file (spec §4.D.1 /
// the ADB path-expression tail of spec §6).
type OpenOptions struct {
	Bnum        uint64
	Apow, Fpow  uint8
	Options     Options
	RCNum       int // record cache capacity, 0 disables the cache
	DfUnit      int // dfcnt threshold that triggers auto-defrag; 0 disables
	Writer      bool
	Create      bool
	Truncate    bool
	NoLock      bool // ONOLCK: skip advisory locking; concurrent writers then undefined (spec §9 q4)
	NonBlocking bool
	ExtCodec    codec.Codec // required when Options.OptExCodec is set
}

// HDB is an open hash database handle.
type HDB struct {
	path       string
	canonPath  string
	f          *os.File
	writable   bool
	noLock     bool
	opts       OpenOptions
	codec      codec.Codec
	log        logx.Logger

	mapped     []byte // mmap of [0, frec): header, fbp snapshot region, bucket array
	bucketsOff int64
	fbpOff     int64
	fbpSize    int

	hdr *header
	fbp *freeBlockPool
	cache *recordCache

	methodLock sync.RWMutex
	bucketLocks [256]sync.RWMutex
	dbMu       sync.Mutex

	w              *wal
	tranActive     bool
	tranAnchorFsiz uint64
	tranFBPSnap    []fbpEntry
	tranRnum       uint64

	fatal atomic.Bool

	iterOff int64
	dfcur   int64
}

func bucketLockIdx(bucket uint64) int { return int(bucket % 256) }

// Open opens (creating if requested) the hash database at path.
func Open(path string, opts OpenOptions) (*HDB, error) {
	var canon string
	var err error
	if opts.NoLock {
		canon, _ = fsx.Canonicalize(path)
	} else {
		canon, err = globalPathLock.Acquire(path)
		if err != nil {
			return nil, newErr("open", Lock, err)
		}
	}

	flag := os.O_RDONLY
	if opts.Writer {
		flag = os.O_RDWR
		if opts.Create {
			flag |= os.O_CREATE
		}
	}
	f, err := os.OpenFile(path, flag, 0644)
	if err != nil {
		if !opts.NoLock {
			globalPathLock.Release(canon)
		}
		return nil, newErr("open", OpenErr, err)
	}

	h := &HDB{
		path: path, canonPath: canon, f: f, writable: opts.Writer,
		noLock: opts.NoLock, opts: opts, log: logx.For("hdb"),
	}
	h.codec = selectCodec(opts)

	if !opts.NoLock {
		if err := fsx.Flock(f, opts.Writer, opts.NonBlocking); err != nil {
			h.cleanupFailedOpen()
			return nil, newErr("open", Lock, err)
		}
	}

	if opts.Writer && opts.Truncate {
		if err := f.Truncate(0); err != nil {
			h.cleanupFailedOpen()
			return nil, newErr("open", Trunc, err)
		}
		os.Remove(path + ".wal")
	}

	stat, err := f.Stat()
	if err != nil {
		h.cleanupFailedOpen()
		return nil, newErr("open", Stat, err)
	}

	if opts.Writer && stat.Size() == 0 {
		if err := h.materialize(); err != nil {
			h.cleanupFailedOpen()
			return nil, err
		}
	}

	if err := h.loadHeader(); err != nil {
		h.cleanupFailedOpen()
		return nil, err
	}

	if h.hdr.flags&FlagOpen != 0 {
		if err := h.recoverFromWAL(); err != nil {
			h.cleanupFailedOpen()
			return nil, err
		}
		if err := h.loadHeader(); err != nil {
			h.cleanupFailedOpen()
			return nil, err
		}
	}

	if h.hdr.options&OptExCodec != 0 && opts.ExtCodec == nil {
		h.cleanupFailedOpen()
		return nil, newErr("open", Invalid, fmt.Errorf("EXCODEC option set but no ExtCodec supplied"))
	}

	if err := h.mapPrefix(); err != nil {
		h.cleanupFailedOpen()
		return nil, err
	}

	h.fbp = newFreeBlockPool(h.hdr.fpow)
	if opts.Writer {
		h.loadFBPSnapshot()
		h.hdr.flags |= FlagOpen
		h.writeHeader()
	}

	h.cache = newRecordCache(opts.RCNum)
	h.iterOff = int64(h.hdr.frec)
	h.dfcur = int64(h.hdr.frec)

	return h, nil
}

func (h *HDB) cleanupFailedOpen() {
	if h.f != nil {
		h.f.Close()
	}
	if !h.noLock {
		globalPathLock.Release(h.canonPath)
	}
}

func selectCodec(opts OpenOptions) codec.Codec {
	switch {
	case opts.Options&OptExCodec != 0 && opts.ExtCodec != nil:
		return opts.ExtCodec
	case opts.Options&OptDeflate != 0:
		return codec.Deflate{}
	case opts.Options&OptBZip != 0:
		return codec.BZip{}
	case opts.Options&OptTCBS != 0:
		return codec.TCBS{}
	default:
		return codec.Null{}
	}
}

func fbpRegionSize(fpow uint8) int {
	fbpMax := uint32(1) << fpow
	return FBPBaseSize + int(fbpMax)*12
}

// materialize writes the initial on-disk image for a brand-new writer-
// opened file (spec §4.D.1 step 4).
func (h *HDB) materialize() error {
	bnum := h.opts.Bnum
	if bnum == 0 {
		bnum = DefaultBnum
	}
	bnum = NextPrime(bnum)
	apow := h.opts.Apow
	if apow == 0 {
		apow = DefaultApow
	}
	fpow := h.opts.Fpow
	if fpow == 0 {
		fpow = DefaultFpow
	}

	entrySize := 4
	if h.opts.Options&OptLarge != 0 {
		entrySize = 8
	}
	fbpSize := fbpRegionSize(fpow)
	bucketBytes := int64(bnum) * int64(entrySize)
	frec := align(int64(HeadSize)+int64(fbpSize)+bucketBytes, apow)

	hdr := &header{
		typ: 0, flags: 0, apow: apow, fpow: fpow, options: h.opts.Options,
		bnum: bnum, rnum: 0, fsiz: uint64(frec), frec: uint64(frec),
	}
	buf := make([]byte, frec)
	copy(buf, hdr.encode())
	if _, err := fsx.Pwrite(h.f, buf, 0); err != nil {
		return newErr("open", Write, err)
	}
	return nil
}

func (h *HDB) loadHeader() error {
	buf := make([]byte, HeadSize)
	if _, err := fsx.Pread(h.f, buf, 0); err != nil {
		return newErr("open", Read, err)
	}
	hdr, err := decodeHeader(buf)
	if err != nil {
		return newErr("open", Meta, err)
	}
	h.hdr = hdr
	return nil
}

func (h *HDB) writeHeader() {
	buf := h.hdr.encode()
	copy(h.mapped[0:HeadSize], buf)
}

func (h *HDB) mapPrefix() error {
	h.fbpOff = int64(HeadSize)
	h.fbpSize = fbpRegionSize(h.hdr.fpow)
	h.bucketsOff = h.fbpOff + int64(h.fbpSize)

	b, err := fsx.Mmap(h.f, int(h.hdr.frec), h.writable)
	if err != nil {
		return newErr("open", MMap, err)
	}
	h.mapped = b
	return nil
}

func (h *HDB) entrySize() int {
	if h.hdr.options&OptLarge != 0 {
		return 8
	}
	return 4
}

func (h *HDB) readBucketHead(bucket uint64) uint64 {
	sz := h.entrySize()
	off := h.bucketsOff + int64(bucket)*int64(sz)
	return getChild(h.mapped[off:off+int64(sz)], sz)
}

// writeBucketHead sets bucket's BST root, WAL-protecting the prior bytes
// when a transaction is active.
func (h *HDB) writeBucketHead(bucket uint64, shifted uint64) {
	sz := h.entrySize()
	off := h.bucketsOff + int64(bucket)*int64(sz)
	h.walProtect(off, h.mapped[off:off+int64(sz)])
	putChild(h.mapped[off:off+int64(sz)], shifted, sz)
}

// walProtect logs the pre-image old at off if a transaction is active and
// off falls within the region that existed at BEGIN.
func (h *HDB) walProtect(off int64, old []byte) {
	if !h.tranActive {
		return
	}
	if uint64(off)+uint64(len(old)) > h.tranAnchorFsiz {
		return // region didn't exist at BEGIN; abort will just truncate it away
	}
	cp := append([]byte(nil), old...)
	if err := h.w.append(off, cp); err != nil {
		h.log.Errorf("wal append failed: %v", err)
	}
}

func (h *HDB) setFatal(err error) error {
	h.fatal.Store(true)
	h.hdr.flags |= FlagFatal
	if h.writable && h.mapped != nil {
		h.writeHeader()
	}
	return err
}

func (h *HDB) checkFatal(op string) error {
	if h.fatal.Load() {
		return newErr(op, Invalid, fmt.Errorf("database is in a fatal state"))
	}
	return nil
}

// Close flushes the free-block pool snapshot and header, clears FOPEN and
// releases every resource the handle owns.
func (h *HDB) Close() error {
	h.methodLock.Lock()
	defer h.methodLock.Unlock()

	if h.writable {
		h.storeFBPSnapshot()
		h.hdr.flags &^= FlagOpen
		h.writeHeader()
		if err := fsx.Msync(h.mapped); err != nil {
			return newErr("close", Sync, err)
		}
		h.f.Sync()
	}
	if h.w != nil {
		h.w.close()
		os.Remove(h.path + ".wal")
	}
	if err := fsx.Munmap(h.mapped); err != nil {
		return newErr("close", MMap, err)
	}
	if !h.noLock {
		fsx.Unlock(h.f)
	}
	err := h.f.Close()
	if !h.noLock {
		globalPathLock.Release(h.canonPath)
	}
	if err != nil {
		return newErr("close", CloseErr, err)
	}
	return nil
}

// Rnum returns the number of live records.
func (h *HDB) Rnum() uint64 {
	h.methodLock.RLock()
	defer h.methodLock.RUnlock()
	return h.hdr.rnum
}

// Fsiz returns the current file size.
func (h *HDB) Fsiz() uint64 {
	h.methodLock.RLock()
	defer h.methodLock.RUnlock()
	return h.hdr.fsiz
}

// Bnum returns the number of hash buckets.
func (h *HDB) Bnum() uint64 { return h.hdr.bnum }

// Stat returns a snapshot of the engine's vital statistics, matching the
// ttserver-derived STAT wire command (spec §12).
func (h *HDB) Stat() map[string]string {
	h.methodLock.RLock()
	defer h.methodLock.RUnlock()
	return map[string]string{
		"bnum": fmt.Sprint(h.hdr.bnum),
		"rnum": fmt.Sprint(h.hdr.rnum),
		"fsiz": fmt.Sprint(h.hdr.fsiz),
		"frec": fmt.Sprint(h.hdr.frec),
		"apow": fmt.Sprint(h.hdr.apow),
		"fpow": fmt.Sprint(h.hdr.fpow),
	}
}

// Sync forces the header, bucket array and data pages to durable storage.
func (h *HDB) Sync() error {
	h.methodLock.Lock()
	defer h.methodLock.Unlock()
	h.writeHeader()
	if err := fsx.Msync(h.mapped); err != nil {
		return newErr("sync", Sync, err)
	}
	if err := h.f.Sync(); err != nil {
		return newErr("sync", Sync, err)
	}
	return nil
}
