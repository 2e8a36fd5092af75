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
	"fmt"
	"math"

	"github.com/launix-de/memkv/internal/wire"
)

func (r *RDB) put(cmd byte, key, value []byte) error {
	return r.withRetry(func() error {
		if err := r.sendHeader(cmd); err != nil {
			return err
		}
		if err := r.w.WriteU32(uint32(len(key))); err != nil {
			return err
		}
		if err := r.w.WriteU32(uint32(len(value))); err != nil {
			return err
		}
		if _, err := r.w.Write(key); err != nil {
			return err
		}
		if _, err := r.w.Write(value); err != nil {
			return err
		}
		if err := r.w.Flush(); err != nil {
			return err
		}
		status, err := r.readStatus()
		if err != nil {
			return err
		}
		if status != wire.StatusOK {
			if cmd == wire.CmdPutKeep {
				return ErrKeep
			}
			return fmt.Errorf("rdb: put failed (status %d)", status)
		}
		return nil
	})
}

// Put overwrites key unconditionally.
func (r *RDB) Put(key, value []byte) error { return r.put(wire.CmdPut, key, value) }

// PutKeep inserts key only if it was absent; returns ErrKeep otherwise.
func (r *RDB) PutKeep(key, value []byte) error { return r.put(wire.CmdPutKeep, key, value) }

// PutCat appends value to any existing value for key.
func (r *RDB) PutCat(key, value []byte) error { return r.put(wire.CmdPutCat, key, value) }

// PutNR is fire-and-forget: the server sends no response, so the call
// returns as soon as the request is flushed.
func (r *RDB) PutNR(key, value []byte) error {
	return r.withRetry(func() error {
		if err := r.sendHeader(wire.CmdPutNR); err != nil {
			return err
		}
		if err := r.w.WriteU32(uint32(len(key))); err != nil {
			return err
		}
		if err := r.w.WriteU32(uint32(len(value))); err != nil {
			return err
		}
		if _, err := r.w.Write(key); err != nil {
			return err
		}
		if _, err := r.w.Write(value); err != nil {
			return err
		}
		return r.w.Flush()
	})
}

// Out removes key, returning ErrNoRecord if it was absent.
func (r *RDB) Out(key []byte) error {
	return r.withRetry(func() error {
		if err := r.sendHeader(wire.CmdOut); err != nil {
			return err
		}
		if err := r.w.WriteU32(uint32(len(key))); err != nil {
			return err
		}
		if _, err := r.w.Write(key); err != nil {
			return err
		}
		if err := r.w.Flush(); err != nil {
			return err
		}
		status, err := r.readStatus()
		if err != nil {
			return err
		}
		if status != wire.StatusOK {
			return ErrNoRecord
		}
		return nil
	})
}

// Get fetches the value for key, returning ErrNoRecord on a miss.
func (r *RDB) Get(key []byte) ([]byte, error) {
	var out []byte
	err := r.withRetry(func() error {
		if err := r.sendHeader(wire.CmdGet); err != nil {
			return err
		}
		if err := r.w.WriteU32(uint32(len(key))); err != nil {
			return err
		}
		if _, err := r.w.Write(key); err != nil {
			return err
		}
		if err := r.w.Flush(); err != nil {
			return err
		}
		status, err := r.readStatus()
		if err != nil {
			return err
		}
		if status != wire.StatusOK {
			return ErrNoRecord
		}
		vsiz, err := r.r.ReadU32()
		if err != nil {
			return err
		}
		val, err := r.r.ReadN(int(vsiz))
		if err != nil {
			return err
		}
		out = val
		return nil
	})
	return out, err
}

// MGet fetches every key present among keys, returning only the hits.
func (r *RDB) MGet(keys [][]byte) (map[string][]byte, error) {
	out := make(map[string][]byte)
	err := r.withRetry(func() error {
		if err := r.sendHeader(wire.CmdMGet); err != nil {
			return err
		}
		if err := r.w.WriteU32(uint32(len(keys))); err != nil {
			return err
		}
		for _, k := range keys {
			if err := r.w.WriteU32(uint32(len(k))); err != nil {
				return err
			}
			if _, err := r.w.Write(k); err != nil {
				return err
			}
		}
		if err := r.w.Flush(); err != nil {
			return err
		}
		status, err := r.readStatus()
		if err != nil {
			return err
		}
		if status != wire.StatusOK {
			return fmt.Errorf("rdb: mget failed (status %d)", status)
		}
		n, err := r.r.ReadU32()
		if err != nil {
			return err
		}
		for i := uint32(0); i < n; i++ {
			ksiz, err := r.r.ReadU32()
			if err != nil {
				return err
			}
			vsiz, err := r.r.ReadU32()
			if err != nil {
				return err
			}
			key, err := r.r.ReadN(int(ksiz))
			if err != nil {
				return err
			}
			val, err := r.r.ReadN(int(vsiz))
			if err != nil {
				return err
			}
			out[string(key)] = val
		}
		return nil
	})
	return out, err
}

// Vsiz returns the size of the value stored for key, or ErrNoRecord.
func (r *RDB) Vsiz(key []byte) (int, error) {
	var size int
	err := r.withRetry(func() error {
		if err := r.sendHeader(wire.CmdVsiz); err != nil {
			return err
		}
		if err := r.w.WriteU32(uint32(len(key))); err != nil {
			return err
		}
		if _, err := r.w.Write(key); err != nil {
			return err
		}
		if err := r.w.Flush(); err != nil {
			return err
		}
		status, err := r.readStatus()
		if err != nil {
			return err
		}
		if status != wire.StatusOK {
			return ErrNoRecord
		}
		n, err := r.r.ReadU32()
		if err != nil {
			return err
		}
		size = int(n)
		return nil
	})
	return size, err
}

// IterInit resets the server-side iterator to the first key.
func (r *RDB) IterInit() error {
	return r.withRetry(func() error {
		if err := r.sendHeader(wire.CmdIterInit); err != nil {
			return err
		}
		if err := r.w.Flush(); err != nil {
			return err
		}
		status, err := r.readStatus()
		if err != nil {
			return err
		}
		if status != wire.StatusOK {
			return fmt.Errorf("rdb: iterinit failed (status %d)", status)
		}
		return nil
	})
}

// IterNext returns the next key, or ErrNoRecord once exhausted.
func (r *RDB) IterNext() ([]byte, error) {
	var key []byte
	err := r.withRetry(func() error {
		if err := r.sendHeader(wire.CmdIterNext); err != nil {
			return err
		}
		if err := r.w.Flush(); err != nil {
			return err
		}
		status, err := r.readStatus()
		if err != nil {
			return err
		}
		if status != wire.StatusOK {
			return ErrNoRecord
		}
		ksiz, err := r.r.ReadU32()
		if err != nil {
			return err
		}
		k, err := r.r.ReadN(int(ksiz))
		if err != nil {
			return err
		}
		key = k
		return nil
	})
	return key, err
}

// Fwmkeys returns up to max keys with the given prefix (max<0 for
// unlimited).
func (r *RDB) Fwmkeys(prefix []byte, max int) ([][]byte, error) {
	var keys [][]byte
	err := r.withRetry(func() error {
		if err := r.sendHeader(wire.CmdFwmKeys); err != nil {
			return err
		}
		if err := r.w.WriteU32(uint32(len(prefix))); err != nil {
			return err
		}
		if err := r.w.WriteU32(uint32(int32(max))); err != nil {
			return err
		}
		if _, err := r.w.Write(prefix); err != nil {
			return err
		}
		if err := r.w.Flush(); err != nil {
			return err
		}
		status, err := r.readStatus()
		if err != nil {
			return err
		}
		if status != wire.StatusOK {
			return fmt.Errorf("rdb: fwmkeys failed (status %d)", status)
		}
		n, err := r.r.ReadU32()
		if err != nil {
			return err
		}
		keys = make([][]byte, 0, n)
		for i := uint32(0); i < n; i++ {
			ksiz, err := r.r.ReadU32()
			if err != nil {
				return err
			}
			k, err := r.r.ReadN(int(ksiz))
			if err != nil {
				return err
			}
			keys = append(keys, k)
		}
		return nil
	})
	return keys, err
}

// AddInt adds delta to key's integer value (creating it if absent), and
// returns the new total.
func (r *RDB) AddInt(key []byte, delta int64) (int64, error) {
	var sum int64
	err := r.withRetry(func() error {
		if err := r.sendHeader(wire.CmdAddInt); err != nil {
			return err
		}
		if err := r.w.WriteU32(uint32(len(key))); err != nil {
			return err
		}
		if err := r.w.WriteU32(uint32(int32(delta))); err != nil {
			return err
		}
		if _, err := r.w.Write(key); err != nil {
			return err
		}
		if err := r.w.Flush(); err != nil {
			return err
		}
		status, err := r.readStatus()
		if err != nil {
			return err
		}
		if status != wire.StatusOK {
			return fmt.Errorf("rdb: addint failed (status %d)", status)
		}
		n, err := r.r.ReadU32()
		if err != nil {
			return err
		}
		sum = int64(int32(n))
		return nil
	})
	return sum, err
}

// AddDouble adds delta to key's floating-point value.
func (r *RDB) AddDouble(key []byte, delta float64) (float64, error) {
	var sum float64
	err := r.withRetry(func() error {
		if err := r.sendHeader(wire.CmdAddDouble); err != nil {
			return err
		}
		if err := r.w.WriteU32(uint32(len(key))); err != nil {
			return err
		}
		ip, fp := floatToPacked(delta)
		if err := r.w.WriteU64(ip); err != nil {
			return err
		}
		if err := r.w.WriteU64(fp); err != nil {
			return err
		}
		if _, err := r.w.Write(key); err != nil {
			return err
		}
		if err := r.w.Flush(); err != nil {
			return err
		}
		status, err := r.readStatus()
		if err != nil {
			return err
		}
		if status != wire.StatusOK {
			return fmt.Errorf("rdb: adddouble failed (status %d)", status)
		}
		rip, err := r.r.ReadU64()
		if err != nil {
			return err
		}
		rfp, err := r.r.ReadU64()
		if err != nil {
			return err
		}
		sum = packedToFloat(rip, rfp)
		return nil
	})
	return sum, err
}

const fracScale = 1e18

func floatToPacked(v float64) (intPart, fracPart uint64) {
	if math.IsNaN(v) {
		return 0, 0
	}
	ip := math.Trunc(v)
	frac := math.Abs(v - ip)
	return uint64(int64(ip)), uint64(frac * fracScale)
}

func packedToFloat(intPart, fracPart uint64) float64 {
	return float64(int64(intPart)) + float64(fracPart)/fracScale
}

// Vanish clears every record.
func (r *RDB) Vanish() error {
	return r.withRetry(func() error {
		if err := r.sendHeader(wire.CmdVanish); err != nil {
			return err
		}
		if err := r.w.Flush(); err != nil {
			return err
		}
		status, err := r.readStatus()
		if err != nil {
			return err
		}
		if status != wire.StatusOK {
			return fmt.Errorf("rdb: vanish failed (status %d)", status)
		}
		return nil
	})
}

// Restore replays the update log at path up to ts onto the server's
// database.
func (r *RDB) Restore(path string, ts uint64, opts uint32) error {
	return r.withRetry(func() error {
		if err := r.sendHeader(wire.CmdRestore); err != nil {
			return err
		}
		if err := r.w.WriteU32(uint32(len(path))); err != nil {
			return err
		}
		if err := r.w.WriteU64(ts); err != nil {
			return err
		}
		if err := r.w.WriteU32(opts); err != nil {
			return err
		}
		if _, err := r.w.Write([]byte(path)); err != nil {
			return err
		}
		if err := r.w.Flush(); err != nil {
			return err
		}
		status, err := r.readStatus()
		if err != nil {
			return err
		}
		if status != wire.StatusOK {
			return fmt.Errorf("rdb: restore failed (status %d)", status)
		}
		return nil
	})
}

// SetMst points the server's replication client at a new master.
func (r *RDB) SetMst(host string, port int, ts uint64, opts uint32) error {
	return r.withRetry(func() error {
		if err := r.sendHeader(wire.CmdSetMst); err != nil {
			return err
		}
		if err := r.w.WriteU32(uint32(len(host))); err != nil {
			return err
		}
		if err := r.w.WriteU32(uint32(int32(port))); err != nil {
			return err
		}
		if err := r.w.WriteU64(ts); err != nil {
			return err
		}
		if err := r.w.WriteU32(opts); err != nil {
			return err
		}
		if _, err := r.w.Write([]byte(host)); err != nil {
			return err
		}
		if err := r.w.Flush(); err != nil {
			return err
		}
		status, err := r.readStatus()
		if err != nil {
			return err
		}
		if status != wire.StatusOK {
			return fmt.Errorf("rdb: setmst failed (status %d)", status)
		}
		return nil
	})
}

// Rnum returns the number of records in the database.
func (r *RDB) Rnum() (uint64, error) {
	var n uint64
	err := r.withRetry(func() error {
		if err := r.sendHeader(wire.CmdRnum); err != nil {
			return err
		}
		if err := r.w.Flush(); err != nil {
			return err
		}
		status, err := r.readStatus()
		if err != nil {
			return err
		}
		if status != wire.StatusOK {
			return fmt.Errorf("rdb: rnum failed (status %d)", status)
		}
		v, err := r.r.ReadU64()
		if err != nil {
			return err
		}
		n = v
		return nil
	})
	return n, err
}

// Size returns the database's on-disk footprint in bytes.
func (r *RDB) Size() (uint64, error) {
	var n uint64
	err := r.withRetry(func() error {
		if err := r.sendHeader(wire.CmdSize); err != nil {
			return err
		}
		if err := r.w.Flush(); err != nil {
			return err
		}
		status, err := r.readStatus()
		if err != nil {
			return err
		}
		if status != wire.StatusOK {
			return fmt.Errorf("rdb: size failed (status %d)", status)
		}
		v, err := r.r.ReadU64()
		if err != nil {
			return err
		}
		n = v
		return nil
	})
	return n, err
}

// Stat returns the server's diagnostic key/value block.
func (r *RDB) Stat() (map[string]string, error) {
	var out map[string]string
	err := r.withRetry(func() error {
		if err := r.sendHeader(wire.CmdStat); err != nil {
			return err
		}
		if err := r.w.Flush(); err != nil {
			return err
		}
		status, err := r.readStatus()
		if err != nil {
			return err
		}
		if status != wire.StatusOK {
			return fmt.Errorf("rdb: stat failed (status %d)", status)
		}
		size, err := r.r.ReadU32()
		if err != nil {
			return err
		}
		buf, err := r.r.ReadN(int(size))
		if err != nil {
			return err
		}
		out = parseStatBlock(buf)
		return nil
	})
	return out, err
}

func parseStatBlock(buf []byte) map[string]string {
	out := make(map[string]string)
	line := []byte{}
	flush := func() {
		if len(line) == 0 {
			return
		}
		for i, b := range line {
			if b == '\t' {
				out[string(line[:i])] = string(line[i+1:])
				break
			}
		}
	}
	for _, b := range buf {
		if b == '\n' {
			flush()
			line = line[:0]
			continue
		}
		line = append(line, b)
	}
	flush()
	return out
}

// Misc invokes a named miscellaneous operation.
func (r *RDB) Misc(name string, args [][]byte) ([][]byte, error) {
	var out [][]byte
	err := r.withRetry(func() error {
		if err := r.sendHeader(wire.CmdMisc); err != nil {
			return err
		}
		if err := r.w.WriteU32(uint32(len(name))); err != nil {
			return err
		}
		if err := r.w.WriteU32(0); err != nil { // opts, unused
			return err
		}
		if err := r.w.WriteU32(uint32(len(args))); err != nil {
			return err
		}
		if _, err := r.w.Write([]byte(name)); err != nil {
			return err
		}
		for _, a := range args {
			if err := r.w.WriteU32(uint32(len(a))); err != nil {
				return err
			}
			if _, err := r.w.Write(a); err != nil {
				return err
			}
		}
		if err := r.w.Flush(); err != nil {
			return err
		}
		status, err := r.readStatus()
		if err != nil {
			return err
		}
		if status != wire.StatusOK {
			return fmt.Errorf("rdb: misc %q failed (status %d)", name, status)
		}
		n, err := r.r.ReadU32()
		if err != nil {
			return err
		}
		out = make([][]byte, 0, n)
		for i := uint32(0); i < n; i++ {
			esiz, err := r.r.ReadU32()
			if err != nil {
				return err
			}
			e, err := r.r.ReadN(int(esiz))
			if err != nil {
				return err
			}
			out = append(out, e)
		}
		return nil
	})
	return out, err
}
