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

// Package adb implements the abstract-database dispatcher (spec §4.E): a
// single path-expression syntax that opens either the in-memory MDB or an
// on-disk HDB, with the database type chosen by the path's form.
package adb

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/launix-de/memkv/internal/hdb"
	"github.com/launix-de/memkv/internal/mdb"
)

// Kind identifies which concrete engine backs an ADB handle.
type Kind int

const (
	KindMDB Kind = iota
	KindHDB
)

// ADB dispatches the common key-value operations to whichever concrete
// engine its path expression selected.
type ADB struct {
	kind Kind
	mdb  *mdb.MDB
	hdb  *hdb.HDB
}

// Open parses expr (spec §6's ADB path-expression grammar:
// "path#opt=val#opt=val..."), and opens the corresponding engine:
//   - "*" (optionally "*#cap=N")   -> a fresh in-memory MDB
//   - anything ending ".hdb"/".tch" -> an on-disk HDB, tuned by the tail
//     options (bnum, apow, fpow, opts=l|d|b|t, mode=w|r|c|t)
//
// Any other path form is rejected: ADB only ever owns these two backends
// (spec §4.E "Non-goals" excludes the table/tree database variants of the
// original).
func Open(expr string) (*ADB, error) {
	path, opts := splitExpr(expr)

	if path == "*" {
		m := mdb.New()
		if v, ok := opts["cap"]; ok {
			if _, err := strconv.Atoi(v); err != nil {
				return nil, fmt.Errorf("adb: bad cap= value %q", v)
			}
			// cap is advisory at the MDB layer today: the concrete
			// per-shard cap policy a production deployment wants belongs
			// to the caller (it can enforce it with mdb.MDB.Rnum()), so
			// we only validate the value's shape here.
		}
		return &ADB{kind: KindMDB, mdb: m}, nil
	}

	if !strings.HasSuffix(path, ".hdb") && !strings.HasSuffix(path, ".tch") {
		return nil, fmt.Errorf("adb: unsupported path expression %q", expr)
	}

	hopts := hdb.OpenOptions{}
	mode := opts["mode"]
	if mode == "" {
		mode = "wc"
	}
	for _, c := range mode {
		switch c {
		case 'w':
			hopts.Writer = true
		case 'r':
			hopts.Writer = false
		case 'c':
			hopts.Create = true
		case 't':
			hopts.Truncate = true
		case 'e':
			hopts.NonBlocking = true
		case 'f':
			hopts.NoLock = true
		default:
			return nil, fmt.Errorf("adb: unknown mode letter %q in %q", string(c), expr)
		}
	}
	for _, c := range opts["opts"] {
		switch c {
		case 'l':
			hopts.Options |= hdb.OptLarge
		case 'd':
			hopts.Options |= hdb.OptDeflate
		case 'b':
			hopts.Options |= hdb.OptBZip
		case 't':
			hopts.Options |= hdb.OptTCBS
		default:
			return nil, fmt.Errorf("adb: unknown opts letter %q in %q", string(c), expr)
		}
	}
	if v, ok := opts["bnum"]; ok {
		n, err := strconv.ParseUint(v, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("adb: bad bnum= value %q", v)
		}
		hopts.Bnum = n
	}
	if v, ok := opts["apow"]; ok {
		n, err := strconv.ParseUint(v, 10, 8)
		if err != nil {
			return nil, fmt.Errorf("adb: bad apow= value %q", v)
		}
		hopts.Apow = uint8(n)
	}
	if v, ok := opts["fpow"]; ok {
		n, err := strconv.ParseUint(v, 10, 8)
		if err != nil {
			return nil, fmt.Errorf("adb: bad fpow= value %q", v)
		}
		hopts.Fpow = uint8(n)
	}
	if v, ok := opts["rcnum"]; ok {
		n, err := strconv.Atoi(v)
		if err != nil {
			return nil, fmt.Errorf("adb: bad rcnum= value %q", v)
		}
		hopts.RCNum = n
	}

	h, err := hdb.Open(path, hopts)
	if err != nil {
		return nil, err
	}
	return &ADB{kind: KindHDB, hdb: h}, nil
}

// splitExpr splits "path#k=v#k=v" into the bare path and an option map.
func splitExpr(expr string) (string, map[string]string) {
	parts := strings.Split(expr, "#")
	opts := make(map[string]string, len(parts)-1)
	for _, p := range parts[1:] {
		kv := strings.SplitN(p, "=", 2)
		if len(kv) == 2 {
			opts[kv[0]] = kv[1]
		}
	}
	return parts[0], opts
}

func (a *ADB) Kind() Kind { return a.kind }

func (a *ADB) Close() error {
	if a.kind == KindHDB {
		return a.hdb.Close()
	}
	return nil
}

func (a *ADB) Get(key []byte) ([]byte, error) {
	if a.kind == KindMDB {
		return a.mdb.Get(key)
	}
	return a.hdb.Get(key)
}

func (a *ADB) Put(key, value []byte) error {
	if a.kind == KindMDB {
		a.mdb.Put(key, value)
		return nil
	}
	return a.hdb.Put(key, value, hdb.ModeOver)
}

func (a *ADB) PutKeep(key, value []byte) error {
	if a.kind == KindMDB {
		return a.mdb.PutKeep(key, value)
	}
	return a.hdb.Put(key, value, hdb.ModeKeep)
}

func (a *ADB) PutCat(key, value []byte) error {
	if a.kind == KindMDB {
		a.mdb.PutCat(key, value)
		return nil
	}
	return a.hdb.Put(key, value, hdb.ModeCat)
}

func (a *ADB) Out(key []byte) error {
	if a.kind == KindMDB {
		return a.mdb.Out(key)
	}
	return a.hdb.Out(key)
}

func (a *ADB) Vsiz(key []byte) (int, error) {
	if a.kind == KindMDB {
		n := a.mdb.Vsiz(key)
		if n < 0 {
			return -1, mdb.ErrNoRecord
		}
		return n, nil
	}
	return a.hdb.Vsiz(key)
}

// IterInit resets the handle's forward iterator to the first key.
func (a *ADB) IterInit() error {
	if a.kind == KindMDB {
		a.mdb.IterInit()
		return nil
	}
	a.hdb.IterInit()
	return nil
}

// IterNext returns the next key in iteration order, or ok==false once the
// iterator is exhausted (spec §4.H ITERNEXT returns only the key, not the
// value — mirroring the original's tcrdbiternext).
func (a *ADB) IterNext() (key []byte, ok bool) {
	if a.kind == KindMDB {
		return a.mdb.IterNext()
	}
	k, v, ok := a.hdb.IterNext()
	_ = v
	return k, ok
}

// Fwmkeys returns up to max keys with the given prefix (max<0 means
// unlimited).
func (a *ADB) Fwmkeys(prefix []byte, max int) [][]byte {
	if a.kind == KindMDB {
		keys := a.mdb.Fwmkeys(prefix)
		return capKeys(keys, max)
	}
	var keys [][]byte
	a.hdb.ForEach(func(k, v []byte) bool {
		if len(k) >= len(prefix) && string(k[:len(prefix)]) == string(prefix) {
			keys = append(keys, k)
		}
		return max < 0 || len(keys) < max
	})
	return capKeys(keys, max)
}

func capKeys(keys [][]byte, max int) [][]byte {
	if max >= 0 && len(keys) > max {
		keys = keys[:max]
	}
	return keys
}

func (a *ADB) AddInt(key []byte, delta int64) (int64, error) {
	if a.kind == KindMDB {
		return a.mdb.AddInt(key, delta), nil
	}
	return a.hdb.AddInt(key, delta)
}

func (a *ADB) AddDouble(key []byte, delta float64) (float64, error) {
	if a.kind == KindMDB {
		return a.mdb.AddDouble(key, delta), nil
	}
	return a.hdb.AddDouble(key, delta)
}

// Size reports the on-disk footprint of the database, or 0 for an
// in-memory MDB (which has none).
func (a *ADB) Size() uint64 {
	if a.kind == KindMDB {
		return 0
	}
	return a.hdb.Fsiz()
}

// Stat returns the engine's key/value diagnostic snapshot (spec §4.H
// STAT); for MDB, which tracks no file-level statistics, it holds only
// the engine type and the record count.
func (a *ADB) Stat() map[string]string {
	if a.kind == KindMDB {
		return map[string]string{"type": "mdb", "rnum": strconv.FormatUint(uint64(a.mdb.Rnum()), 10)}
	}
	return a.hdb.Stat()
}

func (a *ADB) Rnum() uint64 {
	if a.kind == KindMDB {
		return uint64(a.mdb.Rnum())
	}
	return a.hdb.Rnum()
}

func (a *ADB) Vanish() error {
	if a.kind == KindMDB {
		a.mdb.Vanish()
		return nil
	}
	return fmt.Errorf("adb: vanish is not supported on an on-disk HDB handle")
}

func (a *ADB) ForEach(fn func(key, value []byte) bool) error {
	if a.kind == KindMDB {
		a.mdb.ForEach(fn)
		return nil
	}
	return a.hdb.ForEach(fn)
}

// Sync flushes pending writes; it is a no-op for MDB, which has no
// durability boundary of its own.
func (a *ADB) Sync() error {
	if a.kind == KindHDB {
		return a.hdb.Sync()
	}
	return nil
}

// miscHandlers dispatches the server's MISC command by name (spec §4.H),
// letting callers expose engine-specific verbs without ADB needing to know
// about the wire protocol.
var miscHandlers = map[string]func(a *ADB, args [][]byte) ([][]byte, error){
	"putlist": func(a *ADB, args [][]byte) ([][]byte, error) {
		for i := 0; i+1 < len(args); i += 2 {
			if err := a.Put(args[i], args[i+1]); err != nil {
				return nil, err
			}
		}
		return nil, nil
	},
	"outlist": func(a *ADB, args [][]byte) ([][]byte, error) {
		for _, k := range args {
			if err := a.Out(k); err != nil && err != mdb.ErrNoRecord {
				return nil, err
			}
		}
		return nil, nil
	},
	"getlist": func(a *ADB, args [][]byte) ([][]byte, error) {
		out := make([][]byte, 0, len(args))
		for _, k := range args {
			v, err := a.Get(k)
			if err != nil {
				continue
			}
			out = append(out, k, v)
		}
		return out, nil
	},
}

// Misc dispatches a named miscellaneous operation to its handler (spec
// §4.E "Misc(name, args) dispatch table").
func (a *ADB) Misc(name string, args [][]byte) ([][]byte, error) {
	fn, ok := miscHandlers[name]
	if !ok {
		return nil, fmt.Errorf("adb: unknown misc operation %q", name)
	}
	return fn(a, args)
}
