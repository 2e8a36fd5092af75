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

package serv

import (
	"fmt"
	"time"

	"github.com/launix-de/memkv/internal/adb"
	"github.com/launix-de/memkv/internal/bytesx"
)

// encodeMutation packs one applied write as: oplen(1) op keylen(4) key
// vallen(4) val — the ULOG record body every mutating command logs, and
// the format Restore/REPL replay decodes back into an ADB call.
func encodeMutation(op string, key, val []byte) []byte {
	b := bytesx.NewBuilder(1 + len(op) + 4 + len(key) + 4 + len(val))
	b.WriteByte(byte(len(op)))
	b.WriteString(op)
	var lenBuf [4]byte
	bytesx.PutUint32BE(lenBuf[:], uint32(len(key)))
	b.Write(lenBuf[:])
	b.Write(key)
	bytesx.PutUint32BE(lenBuf[:], uint32(len(val)))
	b.Write(lenBuf[:])
	b.Write(val)
	return b.Bytes()
}

func decodeMutation(body []byte) (op string, key, val []byte, err error) {
	if len(body) < 1 {
		return "", nil, nil, fmt.Errorf("serv: empty mutation record")
	}
	opLen := int(body[0])
	pos := 1
	if pos+opLen > len(body) {
		return "", nil, nil, fmt.Errorf("serv: truncated mutation op")
	}
	op = string(body[pos : pos+opLen])
	pos += opLen
	if pos+4 > len(body) {
		return "", nil, nil, fmt.Errorf("serv: truncated mutation key length")
	}
	keyLen := int(bytesx.Uint32BE(body[pos : pos+4]))
	pos += 4
	if pos+keyLen > len(body) {
		return "", nil, nil, fmt.Errorf("serv: truncated mutation key")
	}
	key = body[pos : pos+keyLen]
	pos += keyLen
	if pos+4 > len(body) {
		return "", nil, nil, fmt.Errorf("serv: truncated mutation value length")
	}
	valLen := int(bytesx.Uint32BE(body[pos : pos+4]))
	pos += 4
	if pos+valLen > len(body) {
		return "", nil, nil, fmt.Errorf("serv: truncated mutation value")
	}
	val = body[pos : pos+valLen]
	return op, key, val, nil
}

// ApplyMutation replays one mutation record (as produced by
// encodeMutation/logMutation) against db. It is exported so a replication
// follower's client loop (outside this package) can apply a master's
// streamed records with the exact same semantics RESTORE uses.
func ApplyMutation(db *adb.ADB, body []byte) error {
	return applyLoggedOp(db, body)
}

// applyLoggedOp replays one decoded mutation record against db, used by
// both crash Restore and a replication slave catching up from its master.
func applyLoggedOp(db *adb.ADB, body []byte) error {
	op, key, val, err := decodeMutation(body)
	if err != nil {
		return err
	}
	switch op {
	case "put", "putcat", "addint", "adddouble":
		return db.Put(key, val)
	case "out":
		db.Out(key) // already-absent is not an error during replay
		return nil
	case "vanish":
		return db.Vanish()
	default:
		// misc:<name> entries are informational only; replaying them
		// against a follower isn't meaningful without redoing the
		// original args, which the compact mutation record doesn't
		// retain.
		return nil
	}
}

// logMutation appends one applied write to the server's update log, if
// one is configured. Failures are logged, not propagated: a client's
// write has already been durably applied to the database by the time
// this runs, and spec §4.F treats the update log as a best-effort replay
// aid, not a two-phase commit partner.
func (s *Server) logMutation(op string, key, val []byte) {
	if s.ulog == nil {
		return
	}
	body := encodeMutation(op, key, val)
	if _, err := s.ulog.Append(uint64(time.Now().UnixMicro()), body); err != nil {
		s.log.Warnf("ulog append failed for %s: %v", op, err)
	}
}
