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

package repl

import (
	"net"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/launix-de/memkv/internal/wire"
)

func fakeMaster(t *testing.T, ln net.Listener, masterID uint32, records []Record) {
	conn, err := ln.Accept()
	require.NoError(t, err)
	defer conn.Close()

	r := wire.NewReader(conn)
	w := wire.NewWriter(conn)

	magic, err := r.ReadByte1()
	require.NoError(t, err)
	require.Equal(t, wire.Magic, magic)
	cmd, err := r.ReadByte1()
	require.NoError(t, err)
	require.Equal(t, wire.CmdRepl, cmd)
	_, err = r.ReadU64() // ts
	require.NoError(t, err)
	_, err = r.ReadU32() // selfSid
	require.NoError(t, err)

	require.NoError(t, w.WriteU32(masterID))
	require.NoError(t, w.Flush())

	require.NoError(t, w.WriteByte1(wire.NOP))
	require.NoError(t, w.Flush())

	for _, rec := range records {
		require.NoError(t, w.WriteByte1(wire.Magic))
		require.NoError(t, w.WriteU64(rec.Ts))
		require.NoError(t, w.WriteU32(rec.Sid))
		require.NoError(t, w.WriteU32(uint32(len(rec.Body))))
		_, err := w.Write(rec.Body)
		require.NoError(t, err)
		require.NoError(t, w.Flush())
	}
}

func TestHandshakeAndStream(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()

	want := []Record{
		{Ts: 10, Sid: 1, Body: []byte("put k1 v1")},
		{Ts: 20, Sid: 1, Body: []byte("put k2 v2")},
	}
	go fakeMaster(t, ln, 42, want)

	c, err := Dial(ln.Addr().String(), 5, 99)
	require.NoError(t, err)
	defer c.Close()
	require.Equal(t, uint32(42), c.MasterID())

	var got []Record
	err = c.Stream(func(r Record) error {
		got = append(got, r)
		if len(got) == len(want) {
			return errStop
		}
		return nil
	})
	require.ErrorIs(t, err, errStop)
	require.Equal(t, want, got)
}

func TestDialRejectsBadMasterID(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()

	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		r := wire.NewReader(conn)
		w := wire.NewWriter(conn)
		r.ReadByte1()
		r.ReadByte1()
		r.ReadU64()
		r.ReadU32()
		w.WriteU32(0)
		w.Flush()
	}()

	_, err = Dial(ln.Addr().String(), 1, 1)
	require.Error(t, err)
}

type stopError struct{}

func (stopError) Error() string { return "stop" }

var errStop = stopError{}
