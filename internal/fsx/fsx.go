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

// Package fsx collects the OS-level helpers the storage engine needs that
// the standard library's os package doesn't expose directly: positional
// I/O, advisory locks, mmap, a process-wide path lock registry and a
// cancellable sleep.
package fsx

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"golang.org/x/sys/unix"
)

// Pread reads len(buf) bytes from fd at offset off, as a direct wrapper
// over unix.Pread (the positional read the BST descent and record I/O path
// use to avoid a separate Seek).
func Pread(f *os.File, buf []byte, off int64) (int, error) {
	n, err := unix.Pread(int(f.Fd()), buf, off)
	if err != nil {
		return n, fmt.Errorf("pread at %d: %w", off, err)
	}
	return n, nil
}

// Pwrite writes buf to fd at offset off.
func Pwrite(f *os.File, buf []byte, off int64) (int, error) {
	n, err := unix.Pwrite(int(f.Fd()), buf, off)
	if err != nil {
		return n, fmt.Errorf("pwrite at %d: %w", off, err)
	}
	return n, nil
}

// Flock takes an advisory BSD lock on f: exclusive when exclusive is set,
// shared otherwise, failing instead of waiting when nonblocking is set. It
// never releases a lock; see Unlock. Lock acquisition order is undefined
// when ONOLCK-equivalent callers skip it entirely; see
// hdb.OpenOptions.NoLock.
func Flock(f *os.File, exclusive, nonblocking bool) error {
	how := unix.LOCK_SH
	if exclusive {
		how = unix.LOCK_EX
	}
	if nonblocking {
		how |= unix.LOCK_NB
	}
	if err := unix.Flock(int(f.Fd()), how); err != nil {
		return fmt.Errorf("flock: %w", err)
	}
	return nil
}

// Unlock releases an advisory lock taken with Flock.
func Unlock(f *os.File) error {
	if err := unix.Flock(int(f.Fd()), unix.LOCK_UN); err != nil {
		return fmt.Errorf("funlock: %w", err)
	}
	return nil
}

// Mmap maps length bytes of fd starting at offset 0, read-only unless
// writable is set.
func Mmap(f *os.File, length int, writable bool) ([]byte, error) {
	prot := unix.PROT_READ
	if writable {
		prot |= unix.PROT_WRITE
	}
	b, err := unix.Mmap(int(f.Fd()), 0, length, prot, unix.MAP_SHARED)
	if err != nil {
		return nil, fmt.Errorf("mmap %d bytes: %w", length, err)
	}
	return b, nil
}

// Munmap unmaps a region returned by Mmap.
func Munmap(b []byte) error {
	if err := unix.Munmap(b); err != nil {
		return fmt.Errorf("munmap: %w", err)
	}
	return nil
}

// Msync flushes dirty pages of an mmap'd region to disk.
func Msync(b []byte) error {
	if err := unix.Msync(b, unix.MS_SYNC); err != nil {
		return fmt.Errorf("msync: %w", err)
	}
	return nil
}

// AtomicRename renames oldpath to newpath, replacing newpath if it exists
// (POSIX rename semantics, already atomic on the same filesystem).
func AtomicRename(oldpath, newpath string) error {
	if err := os.Rename(oldpath, newpath); err != nil {
		return fmt.Errorf("rename %s -> %s: %w", oldpath, newpath, err)
	}
	return nil
}

// SleepContext sleeps for d or until ctx is done, whichever comes first. It
// is the cancellable analogue of the spec's "signalled sleep".
func SleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// PathLock is a process-wide registry preventing two writers in the same
// process from opening the same canonical path concurrently, mirroring the
// guarded global map the storage engine's Open path consults.
type PathLock struct {
	mu   sync.Mutex
	held map[string]struct{}
}

// NewPathLock returns an empty registry. A single process-wide instance
// (see hdb.globalPathLock) is normally shared by every *hdb.HDB.
func NewPathLock() *PathLock {
	return &PathLock{held: make(map[string]struct{})}
}

// Canonicalize resolves path to an absolute, symlink-free form suitable as
// a PathLock key.
func Canonicalize(path string) (string, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", err
	}
	if resolved, err := filepath.EvalSymlinks(abs); err == nil {
		return resolved, nil
	}
	// file may not exist yet (first create): fall back to the absolute,
	// non-symlink-resolved form.
	return abs, nil
}

// Acquire registers path as held, failing if another holder is already
// registered.
func (p *PathLock) Acquire(path string) (string, error) {
	canon, err := Canonicalize(path)
	if err != nil {
		return "", err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, ok := p.held[canon]; ok {
		return "", fmt.Errorf("path already open in this process: %s", canon)
	}
	p.held[canon] = struct{}{}
	return canon, nil
}

// Release removes a canonical path previously returned by Acquire.
func (p *PathLock) Release(canon string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.held, canon)
}
