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

// Package repl implements the replication client (spec §4.G): it connects
// to a master's replication port, performs the handshake, and streams
// timestamp-ordered log records with a bounded per-read socket lifetime.
package repl

import (
	"fmt"
	"net"
	"time"

	"github.com/launix-de/memkv/internal/logx"
	"github.com/launix-de/memkv/internal/wire"
)

// readTimeout bounds every individual read from the master connection
// (spec §4.G "60-second per-read socket lifetime"): the master is expected
// to send at least a NOP keep-alive well within this window.
const readTimeout = 60 * time.Second

// Record is one entry of the replication stream. A NOP keep-alive decodes
// to a Record with an empty Body and should not be applied to the
// database; Client.Next returns it anyway so callers can observe liveness.
type Record struct {
	Ts   uint64
	Sid  uint32
	Body []byte
}

// Client is a connected replication session to one master.
type Client struct {
	conn     net.Conn
	r        wire.Reader
	w        wire.Writer
	masterID uint32
	log      logx.Logger
}

// Dial connects to addr ("host:port"), performs the handshake (spec §4.G:
// send ts+selfSid, receive the master's id, which must be >= 1), and
// returns a ready-to-stream Client.
func Dial(addr string, ts uint64, selfSid uint32) (*Client, error) {
	conn, err := net.Dial("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("repl: dial %s: %w", addr, err)
	}
	c := &Client{
		conn: conn,
		r:    wire.NewReader(conn),
		w:    wire.NewWriter(conn),
		log:  logx.For("repl"),
	}
	if err := c.handshake(ts, selfSid); err != nil {
		conn.Close()
		return nil, err
	}
	return c, nil
}

func (c *Client) handshake(ts uint64, selfSid uint32) error {
	if err := c.w.WriteByte1(wire.Magic); err != nil {
		return fmt.Errorf("repl: handshake write magic: %w", err)
	}
	if err := c.w.WriteByte1(wire.CmdRepl); err != nil {
		return fmt.Errorf("repl: handshake write cmd: %w", err)
	}
	if err := c.w.WriteU64(ts); err != nil {
		return fmt.Errorf("repl: handshake write ts: %w", err)
	}
	if err := c.w.WriteU32(selfSid); err != nil {
		return fmt.Errorf("repl: handshake write sid: %w", err)
	}
	if err := c.w.Flush(); err != nil {
		return fmt.Errorf("repl: handshake flush: %w", err)
	}

	c.conn.SetReadDeadline(time.Now().Add(readTimeout))
	mid, err := c.r.ReadU32()
	if err != nil {
		return fmt.Errorf("repl: handshake read master id: %w", err)
	}
	if mid < 1 {
		return fmt.Errorf("repl: master rejected handshake (id=%d)", mid)
	}
	c.masterID = mid
	return nil
}

// MasterID returns the master's self-reported server id from the
// handshake.
func (c *Client) MasterID() uint32 { return c.masterID }

// Close tears down the underlying connection.
func (c *Client) Close() error { return c.conn.Close() }

// Next reads the next record off the wire, honoring the 60-second
// per-read deadline (reset before every read so a steady trickle of
// keep-alives keeps the connection alive indefinitely). A NOP record
// (magic 0xCA) carries no ts/sid/body of its own; Next reports it as a
// zero-valued Record with Body == nil so callers can tell it apart from a
// genuine empty-body update (spec §4.G).
func (c *Client) Next() (Record, error) {
	c.conn.SetReadDeadline(time.Now().Add(readTimeout))
	magic, err := c.r.ReadByte1()
	if err != nil {
		return Record{}, fmt.Errorf("repl: read magic: %w", err)
	}
	if magic == wire.NOP {
		return Record{}, nil
	}
	if magic != wire.Magic {
		return Record{}, fmt.Errorf("repl: %w: 0x%x", wire.ErrBadMagic, magic)
	}

	ts, err := c.r.ReadU64()
	if err != nil {
		return Record{}, fmt.Errorf("repl: read ts: %w", err)
	}
	sid, err := c.r.ReadU32()
	if err != nil {
		return Record{}, fmt.Errorf("repl: read sid: %w", err)
	}
	size, err := c.r.ReadU32()
	if err != nil {
		return Record{}, fmt.Errorf("repl: read size: %w", err)
	}
	body, err := c.r.ReadN(int(size))
	if err != nil {
		return Record{}, fmt.Errorf("repl: read body (%d bytes): %w", size, err)
	}
	return Record{Ts: ts, Sid: sid, Body: body}, nil
}

// Stream calls fn for every non-keep-alive record received until fn
// returns an error or the connection fails. It is the long-running loop a
// replication goroutine runs for the lifetime of the slave's connection
// to its master.
func (c *Client) Stream(fn func(Record) error) error {
	for {
		rec, err := c.Next()
		if err != nil {
			return err
		}
		if rec.Body == nil {
			c.log.Debugf("received keep-alive from master %d", c.masterID)
			continue
		}
		if err := fn(rec); err != nil {
			return err
		}
	}
}
