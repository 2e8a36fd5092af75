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

package fsx

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestPreadPwrite(t *testing.T) {
	f, err := os.CreateTemp(t.TempDir(), "fsx")
	require.NoError(t, err)
	defer f.Close()

	_, err = Pwrite(f, []byte("hello"), 10)
	require.NoError(t, err)

	buf := make([]byte, 5)
	n, err := Pread(f, buf, 10)
	require.NoError(t, err)
	require.Equal(t, 5, n)
	require.Equal(t, "hello", string(buf))
}

func TestPathLockRejectsDoubleAcquire(t *testing.T) {
	pl := NewPathLock()
	dir := t.TempDir()
	p := filepath.Join(dir, "db.hdb")

	canon, err := pl.Acquire(p)
	require.NoError(t, err)

	_, err = pl.Acquire(p)
	require.Error(t, err)

	pl.Release(canon)
	_, err = pl.Acquire(p)
	require.NoError(t, err)
}

func TestSleepContextCancels(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := SleepContext(ctx, time.Second)
	require.ErrorIs(t, err, context.Canceled)
}

func TestMmap(t *testing.T) {
	f, err := os.CreateTemp(t.TempDir(), "fsx")
	require.NoError(t, err)
	defer f.Close()
	require.NoError(t, f.Truncate(4096))

	b, err := Mmap(f, 4096, true)
	require.NoError(t, err)
	defer Munmap(b)

	copy(b, []byte("abcd"))
	require.NoError(t, Msync(b))

	buf := make([]byte, 4)
	_, err = Pread(f, buf, 0)
	require.NoError(t, err)
	require.Equal(t, "abcd", string(buf))
}
