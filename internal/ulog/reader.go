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

package ulog

import (
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/launix-de/memkv/internal/bytesx"
)

// Reader streams entries forward from a given (segment, offset) position,
// the cursor a replication client (spec §4.G) or Restore persists so it can
// resume after a restart.
type Reader struct {
	dir      string
	segNum   uint64
	off      int64
	f        *os.File
	buf      []byte
	watcher  *fsnotify.Watcher
	watchCh  chan fsnotify.Event
}

// NewReader opens a Reader positioned at (segNum, off); segNum==0 starts
// at the oldest retained segment.
func NewReader(dir string, segNum uint64, off int64) (*Reader, error) {
	r := &Reader{dir: dir, segNum: segNum, off: off}
	if r.segNum == 0 {
		entries, err := os.ReadDir(dir)
		if err != nil {
			return nil, fmt.Errorf("ulog: readdir %s: %w", dir, err)
		}
		var min uint64
		for _, e := range entries {
			n, ok := parseSegmentName(e.Name())
			if !ok {
				continue
			}
			if min == 0 || n < min {
				min = n
			}
		}
		if min == 0 {
			min = 1
		}
		r.segNum = min
	}
	if err := r.openCurrent(); err != nil {
		return nil, err
	}
	return r, nil
}

func parseSegmentName(name string) (uint64, bool) {
	if len(name) != len("00000000.ulog") {
		return 0, false
	}
	var n uint64
	if _, err := fmt.Sscanf(name, "%08d.ulog", &n); err != nil {
		return 0, false
	}
	return n, true
}

func (r *Reader) segPath(num uint64) string {
	return fmt.Sprintf("%s/%08d.ulog", r.dir, num)
}

func (r *Reader) openCurrent() error {
	if r.f != nil {
		r.f.Close()
	}
	f, err := os.Open(r.segPath(r.segNum))
	if err != nil {
		return fmt.Errorf("ulog: open segment %d: %w", r.segNum, err)
	}
	r.f = f
	return nil
}

// Close releases the reader's file handle and directory watcher.
func (r *Reader) Close() error {
	if r.watcher != nil {
		r.watcher.Close()
	}
	if r.f == nil {
		return nil
	}
	return r.f.Close()
}

// Position reports the reader's current (segment, offset) resume cursor.
func (r *Reader) Position() (uint64, int64) {
	return r.segNum, r.off
}

// Next returns the next entry, advancing across a segment roll when the
// current segment is exhausted and a successor file already exists.
// It does not block; use Wait to await new data.
func (r *Reader) Next() (Entry, error) {
	for {
		stat, err := r.f.Stat()
		if err != nil {
			return Entry{}, err
		}
		if r.off >= stat.Size() {
			if next, err := os.Stat(r.segPath(r.segNum + 1)); err == nil && next != nil {
				r.segNum++
				r.off = 0
				if err := r.openCurrent(); err != nil {
					return Entry{}, err
				}
				continue
			}
			return Entry{}, io.EOF
		}

		head := make([]byte, 25)
		if _, err := r.f.ReadAt(head, r.off); err != nil {
			return Entry{}, err
		}
		size := int(bytesx.Uint32BE(head[21:25]))
		full := make([]byte, 25+size)
		if _, err := r.f.ReadAt(full, r.off); err != nil {
			if errors.Is(err, io.EOF) {
				// writer hasn't finished flushing this record yet
				return Entry{}, io.EOF
			}
			return Entry{}, err
		}
		e, n, err := decodeEntry(full)
		if err != nil {
			return Entry{}, err
		}
		r.off += int64(n)
		return e, nil
	}
}

// Wait blocks until new data is available in the current segment or a
// successor segment appears, or until timeout elapses. It uses fsnotify to
// watch the log directory rather than polling, falling back to a timed
// poll if the watcher cannot be established (e.g. inside some sandboxes).
func (r *Reader) Wait(timeout time.Duration) error {
	if r.watcher == nil {
		w, err := fsnotify.NewWatcher()
		if err != nil {
			time.Sleep(timeout)
			return nil
		}
		if err := w.Add(r.dir); err != nil {
			w.Close()
			time.Sleep(timeout)
			return nil
		}
		r.watcher = w
	}
	deadline := time.NewTimer(timeout)
	defer deadline.Stop()
	select {
	case <-r.watcher.Events:
		return nil
	case err := <-r.watcher.Errors:
		return err
	case <-deadline.C:
		return nil
	}
}

// Redo replays every entry from the reader's current position through fn,
// advancing the cursor as it goes, stopping at the first error or when the
// log is exhausted (io.EOF, swallowed).
func (r *Reader) Redo(fn func(Entry) error) error {
	for {
		e, err := r.Next()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}
		if err := fn(e); err != nil {
			return err
		}
	}
}
