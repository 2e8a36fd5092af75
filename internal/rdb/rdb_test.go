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

package rdb

import (
	"context"
	"net"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/launix-de/memkv/internal/adb"
	"github.com/launix-de/memkv/internal/serv"
)

func startTestServer(t *testing.T) string {
	t.Helper()
	db, err := adb.Open("*")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().String()
	ln.Close()

	host, portStr, err := net.SplitHostPort(addr)
	require.NoError(t, err)
	port, err := strconv.Atoi(portStr)
	require.NoError(t, err)

	srv := serv.New(serv.Config{Host: host, Port: port, Workers: 2}, db, nil)
	ctx, cancel := context.WithCancel(context.Background())
	go srv.ListenAndServe(ctx)
	t.Cleanup(cancel)

	time.Sleep(50 * time.Millisecond)
	return addr
}

func TestPutGet(t *testing.T) {
	addr := startTestServer(t)
	c, err := Open(addr, Options{})
	require.NoError(t, err)
	defer c.Close()

	require.NoError(t, c.Put([]byte("k"), []byte("v")))
	got, err := c.Get([]byte("k"))
	require.NoError(t, err)
	require.Equal(t, []byte("v"), got)
}

func TestGetMiss(t *testing.T) {
	addr := startTestServer(t)
	c, err := Open(addr, Options{})
	require.NoError(t, err)
	defer c.Close()

	_, err = c.Get([]byte("missing"))
	require.ErrorIs(t, err, ErrNoRecord)
}

func TestPutKeepRejectsExisting(t *testing.T) {
	addr := startTestServer(t)
	c, err := Open(addr, Options{})
	require.NoError(t, err)
	defer c.Close()

	require.NoError(t, c.PutKeep([]byte("k"), []byte("first")))
	err = c.PutKeep([]byte("k"), []byte("second"))
	require.ErrorIs(t, err, ErrKeep)

	got, err := c.Get([]byte("k"))
	require.NoError(t, err)
	require.Equal(t, []byte("first"), got)
}

func TestPutCat(t *testing.T) {
	addr := startTestServer(t)
	c, err := Open(addr, Options{})
	require.NoError(t, err)
	defer c.Close()

	require.NoError(t, c.Put([]byte("k"), []byte("foo")))
	require.NoError(t, c.PutCat([]byte("k"), []byte("bar")))
	got, err := c.Get([]byte("k"))
	require.NoError(t, err)
	require.Equal(t, []byte("foobar"), got)
}

func TestOutAndMiss(t *testing.T) {
	addr := startTestServer(t)
	c, err := Open(addr, Options{})
	require.NoError(t, err)
	defer c.Close()

	require.NoError(t, c.Put([]byte("k"), []byte("v")))
	require.NoError(t, c.Out([]byte("k")))
	require.ErrorIs(t, c.Out([]byte("k")), ErrNoRecord)
}

func TestMGet(t *testing.T) {
	addr := startTestServer(t)
	c, err := Open(addr, Options{})
	require.NoError(t, err)
	defer c.Close()

	require.NoError(t, c.Put([]byte("a"), []byte("1")))
	require.NoError(t, c.Put([]byte("b"), []byte("2")))

	got, err := c.MGet([][]byte{[]byte("a"), []byte("b"), []byte("missing")})
	require.NoError(t, err)
	require.Equal(t, map[string][]byte{"a": []byte("1"), "b": []byte("2")}, got)
}

func TestVsiz(t *testing.T) {
	addr := startTestServer(t)
	c, err := Open(addr, Options{})
	require.NoError(t, err)
	defer c.Close()

	require.NoError(t, c.Put([]byte("k"), []byte("hello")))
	size, err := c.Vsiz([]byte("k"))
	require.NoError(t, err)
	require.Equal(t, 5, size)
}

func TestIterAndFwmkeys(t *testing.T) {
	addr := startTestServer(t)
	c, err := Open(addr, Options{})
	require.NoError(t, err)
	defer c.Close()

	require.NoError(t, c.Put([]byte("pre:a"), []byte("1")))
	require.NoError(t, c.Put([]byte("pre:b"), []byte("2")))
	require.NoError(t, c.Put([]byte("other"), []byte("3")))

	keys, err := c.Fwmkeys([]byte("pre:"), -1)
	require.NoError(t, err)
	require.Len(t, keys, 2)

	require.NoError(t, c.IterInit())
	seen := 0
	for {
		_, err := c.IterNext()
		if err != nil {
			require.ErrorIs(t, err, ErrNoRecord)
			break
		}
		seen++
	}
	require.Equal(t, 3, seen)
}

func TestAddInt(t *testing.T) {
	addr := startTestServer(t)
	c, err := Open(addr, Options{})
	require.NoError(t, err)
	defer c.Close()

	sum, err := c.AddInt([]byte("counter"), 5)
	require.NoError(t, err)
	require.Equal(t, int64(5), sum)

	sum, err = c.AddInt([]byte("counter"), 3)
	require.NoError(t, err)
	require.Equal(t, int64(8), sum)
}

func TestAddDouble(t *testing.T) {
	addr := startTestServer(t)
	c, err := Open(addr, Options{})
	require.NoError(t, err)
	defer c.Close()

	sum, err := c.AddDouble([]byte("f"), 1.5)
	require.NoError(t, err)
	require.InDelta(t, 1.5, sum, 1e-9)

	sum, err = c.AddDouble([]byte("f"), 2.25)
	require.NoError(t, err)
	require.InDelta(t, 3.75, sum, 1e-9)
}

func TestVanishAndRnum(t *testing.T) {
	addr := startTestServer(t)
	c, err := Open(addr, Options{})
	require.NoError(t, err)
	defer c.Close()

	require.NoError(t, c.Put([]byte("a"), []byte("1")))
	require.NoError(t, c.Put([]byte("b"), []byte("2")))

	n, err := c.Rnum()
	require.NoError(t, err)
	require.Equal(t, uint64(2), n)

	require.NoError(t, c.Vanish())
	n, err = c.Rnum()
	require.NoError(t, err)
	require.Equal(t, uint64(0), n)
}

func TestStat(t *testing.T) {
	addr := startTestServer(t)
	c, err := Open(addr, Options{})
	require.NoError(t, err)
	defer c.Close()

	stat, err := c.Stat()
	require.NoError(t, err)
	require.NotEmpty(t, stat)
}
