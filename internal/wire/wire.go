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

// Package wire defines the binary request/response protocol shared by the
// TCP server, the remote database client and the replication client: the
// command IDs of spec §4.H/§6 and the big-endian framing helpers every
// layer uses to read and write them.
package wire

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
)

// Magic is the leading byte of every request, response-less command and
// replication/log record.
const Magic = 0xC8

// NOP is the replication keep-alive magic (spec §4.G), distinct from
// Magic so a follower can tell a real record from a heartbeat.
const NOP = 0xCA

// Command IDs, one byte on the wire (spec §4.H).
const (
	CmdPut       byte = 0x10
	CmdPutKeep   byte = 0x11
	CmdPutCat    byte = 0x12
	CmdPutNR     byte = 0x18
	CmdOut       byte = 0x20
	CmdGet       byte = 0x30
	CmdMGet      byte = 0x31
	CmdVsiz      byte = 0x38
	CmdIterInit  byte = 0x50
	CmdIterNext  byte = 0x51
	CmdFwmKeys   byte = 0x58
	CmdAddInt    byte = 0x60
	CmdAddDouble byte = 0x61
	CmdVanish    byte = 0x72
	CmdRestore   byte = 0x74
	CmdSetMst    byte = 0x78
	CmdRnum      byte = 0x80
	CmdSize      byte = 0x81
	CmdStat      byte = 0x88
	CmdMisc      byte = 0x90
	CmdRepl      byte = 0xA0
)

// Status byte semantics (spec §6): 0 success, 1 logical failure
// (keep-violation / no-record / misc error), -1 recv failure (never put on
// the wire, used internally by clients to mean "the socket itself failed").
const (
	StatusOK      byte = 0
	StatusFailure byte = 1
)

// Reader wraps a bufio.Reader with the fixed-width big-endian reads the
// protocol needs.
type Reader struct{ *bufio.Reader }

func NewReader(r io.Reader) Reader { return Reader{bufio.NewReader(r)} }

func (r Reader) ReadByte1() (byte, error) { return r.ReadByte() }

func (r Reader) ReadU16() (uint16, error) {
	var b [2]byte
	if _, err := io.ReadFull(r, b[:]); err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint16(b[:]), nil
}

func (r Reader) ReadU32() (uint32, error) {
	var b [4]byte
	if _, err := io.ReadFull(r, b[:]); err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint32(b[:]), nil
}

func (r Reader) ReadU64() (uint64, error) {
	var b [8]byte
	if _, err := io.ReadFull(r, b[:]); err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint64(b[:]), nil
}

func (r Reader) ReadN(n int) ([]byte, error) {
	buf := make([]byte, n)
	if _, err := io.ReadFull(r, buf); err != nil {
		return nil, err
	}
	return buf, nil
}

// Writer wraps a bufio.Writer with the matching fixed-width writes.
type Writer struct{ *bufio.Writer }

func NewWriter(w io.Writer) Writer { return Writer{bufio.NewWriter(w)} }

func (w Writer) WriteByte1(b byte) error { return w.WriteByte(b) }

func (w Writer) WriteU16(v uint16) error {
	var b [2]byte
	binary.BigEndian.PutUint16(b[:], v)
	_, err := w.Write(b[:])
	return err
}

func (w Writer) WriteU32(v uint32) error {
	var b [4]byte
	binary.BigEndian.PutUint32(b[:], v)
	_, err := w.Write(b[:])
	return err
}

func (w Writer) WriteU64(v uint64) error {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], v)
	_, err := w.Write(b[:])
	return err
}

// ErrBadMagic is returned when a frame does not begin with the expected
// protocol magic byte.
var ErrBadMagic = fmt.Errorf("wire: bad magic byte")
