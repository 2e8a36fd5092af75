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
	"os"
	"sync"

	"github.com/launix-de/memkv/internal/bytesx"
	"github.com/launix-de/memkv/internal/fsx"
)

// walEntry is one pre-image record: "restore these size bytes at off to
// old before the mutation that is about to happen".
type walEntry struct {
	off int64
	old []byte
}

// wal is the write-ahead log backing transaction abort and crash recovery
// (spec §4.D.7). It lives at "<dbpath>.wal" and is append-only within a
// transaction; TranCommit truncates it back to empty.
type wal struct {
	mu   sync.Mutex
	f    *os.File
	path string
}

func openWAL(path string) (*wal, error) {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0644)
	if err != nil {
		return nil, fmt.Errorf("wal open %s: %w", path, err)
	}
	return &wal{f: f, path: path}, nil
}

func (w *wal) close() error {
	if w.f == nil {
		return nil
	}
	err := w.f.Close()
	w.f = nil
	return err
}

// beginAnchor writes the 8-byte truncation anchor (the file size at BEGIN)
// as the first bytes of the log, discarding anything left over from a
// previous aborted run.
func (w *wal) beginAnchor(fsiz uint64) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if err := w.f.Truncate(0); err != nil {
		return err
	}
	buf := make([]byte, 8)
	bytesx.PutUint64BE(buf, fsiz)
	_, err := fsx.Pwrite(w.f, buf, 0)
	return err
}

// append logs the pre-image old (read by the caller before mutating off)
// under the WAL mutex, serializing concurrent appends from different
// bucket operations within the same transaction.
func (w *wal) append(off int64, old []byte) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	stat, err := w.f.Stat()
	if err != nil {
		return err
	}
	entryBuf := make([]byte, 8+4+len(old))
	bytesx.PutUint64BE(entryBuf[0:8], uint64(off))
	bytesx.PutUint32BE(entryBuf[8:12], uint32(len(old)))
	copy(entryBuf[12:], old)
	_, err = fsx.Pwrite(w.f, entryBuf, stat.Size())
	return err
}

// truncate empties the log on a successful commit.
func (w *wal) truncate() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.f.Truncate(0)
}

// readAll parses the anchor and every logged entry, in the order they were
// written.
func (w *wal) readAll() (anchor uint64, entries []walEntry, err error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	stat, err := w.f.Stat()
	if err != nil {
		return 0, nil, err
	}
	size := stat.Size()
	if size < 8 {
		return 0, nil, nil
	}
	buf := make([]byte, size)
	if _, err := fsx.Pread(w.f, buf, 0); err != nil {
		return 0, nil, err
	}
	anchor = bytesx.Uint64BE(buf[0:8])
	pos := int64(8)
	for pos+12 <= size {
		off := int64(bytesx.Uint64BE(buf[pos : pos+8]))
		n := bytesx.Uint32BE(buf[pos+8 : pos+12])
		pos += 12
		if pos+int64(n) > size {
			break
		}
		old := append([]byte(nil), buf[pos:pos+int64(n)]...)
		pos += int64(n)
		entries = append(entries, walEntry{off: off, old: old})
	}
	return anchor, entries, nil
}

func (w *wal) empty() (bool, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	stat, err := w.f.Stat()
	if err != nil {
		return true, err
	}
	return stat.Size() < 8, nil
}
