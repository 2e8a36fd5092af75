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
	"io"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestAppendAndReaderRedo(t *testing.T) {
	dir := t.TempDir()
	u, err := Open(dir, 0, 7)
	require.NoError(t, err)
	defer u.Close()

	for i := 0; i < 5; i++ {
		_, err := u.Append(uint64(1000+i), []byte{byte('a' + i)})
		require.NoError(t, err)
	}

	r, err := NewReader(dir, 0, 0)
	require.NoError(t, err)
	defer r.Close()

	var got []byte
	err = r.Redo(func(e Entry) error {
		require.Equal(t, uint32(7), e.Sid)
		got = append(got, e.Body...)
		return nil
	})
	require.NoError(t, err)
	require.Equal(t, "abcde", string(got))

	_, err = r.Next()
	require.ErrorIs(t, err, io.EOF)
}

func TestSegmentRoll(t *testing.T) {
	dir := t.TempDir()
	u, err := Open(dir, 40, 1)
	require.NoError(t, err)
	defer u.Close()

	for i := 0; i < 10; i++ {
		_, err := u.Append(uint64(i), []byte("payload"))
		require.NoError(t, err)
	}
	require.Greater(t, u.curNum, uint64(1))

	r, err := NewReader(dir, 0, 0)
	require.NoError(t, err)
	defer r.Close()

	count := 0
	err = r.Redo(func(e Entry) error {
		count++
		return nil
	})
	require.NoError(t, err)
	require.Equal(t, 10, count)
}

func TestLockSerializesSameKey(t *testing.T) {
	dir := t.TempDir()
	u, err := Open(dir, 0, 1)
	require.NoError(t, err)
	defer u.Close()

	u.Lock([]byte("k1"))
	defer u.Unlock([]byte("k1"))

	done := make(chan struct{})
	go func() {
		u.Lock([]byte("k1"))
		u.Unlock([]byte("k1"))
		close(done)
	}()
	select {
	case <-done:
		t.Fatal("expected second lock on the same key to block")
	default:
	}
}

func TestRestoreStopsAtTimestamp(t *testing.T) {
	dir := t.TempDir()
	u, err := Open(dir, 0, 1)
	require.NoError(t, err)
	defer u.Close()

	for i := 1; i <= 5; i++ {
		_, err := u.Append(uint64(i*100), []byte{byte(i)})
		require.NoError(t, err)
	}

	var applied []byte
	err = u.Restore(300, func(e Entry) error {
		applied = append(applied, e.Body...)
		return nil
	})
	require.NoError(t, err)
	require.Equal(t, []byte{1, 2, 3}, applied)
}
