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
	"net"
	"time"

	"github.com/launix-de/memkv/internal/hdb"
	"github.com/launix-de/memkv/internal/ulog"
	"github.com/launix-de/memkv/internal/wire"
)

// handler decodes and dispatches one request at a time on behalf of a
// connection, the worker's "application task" in spec §4.H terms.
type handler struct {
	srv  *Server
	conn net.Conn
	r    wire.Reader
	w    wire.Writer
}

func (h *handler) serveOne() (keep bool, err error) {
	if h.r.Reader == nil {
		h.r = wire.NewReader(h.conn)
		h.w = wire.NewWriter(h.conn)
	}

	magic, err := h.r.ReadByte1()
	if err != nil {
		return false, err
	}
	if magic != wire.Magic {
		return false, wire.ErrBadMagic
	}
	cmd, err := h.r.ReadByte1()
	if err != nil {
		return false, err
	}

	switch cmd {
	case wire.CmdPut:
		return h.handlePut(hdb.ModeOver, true)
	case wire.CmdPutKeep:
		return h.handlePut(hdb.ModeKeep, true)
	case wire.CmdPutCat:
		return h.handlePut(hdb.ModeCat, true)
	case wire.CmdPutNR:
		return h.handlePut(hdb.ModeOver, false)
	case wire.CmdOut:
		return h.handleOut()
	case wire.CmdGet:
		return h.handleGet()
	case wire.CmdMGet:
		return h.handleMGet()
	case wire.CmdVsiz:
		return h.handleVsiz()
	case wire.CmdIterInit:
		return h.handleIterInit()
	case wire.CmdIterNext:
		return h.handleIterNext()
	case wire.CmdFwmKeys:
		return h.handleFwmKeys()
	case wire.CmdAddInt:
		return h.handleAddInt()
	case wire.CmdAddDouble:
		return h.handleAddDouble()
	case wire.CmdVanish:
		return h.handleVanish()
	case wire.CmdRestore:
		return h.handleRestore()
	case wire.CmdSetMst:
		return h.handleSetMst()
	case wire.CmdRnum:
		return h.handleRnum()
	case wire.CmdSize:
		return h.handleSize()
	case wire.CmdStat:
		return h.handleStat()
	case wire.CmdMisc:
		return h.handleMisc()
	case wire.CmdRepl:
		return h.handleRepl()
	default:
		return false, wire.ErrBadMagic
	}
}

func (h *handler) failStatus() error {
	return h.w.WriteByte1(wire.StatusFailure)
}

func (h *handler) okStatus() error {
	return h.w.WriteByte1(wire.StatusOK)
}

// --- PUT / PUTKEEP / PUTCAT / PUTNR: ksize(32) vsize(32) key value ---

func (h *handler) handlePut(mode hdb.PutMode, respond bool) (bool, error) {
	ksiz, err := h.r.ReadU32()
	if err != nil {
		return false, err
	}
	vsiz, err := h.r.ReadU32()
	if err != nil {
		return false, err
	}
	key, err := h.r.ReadN(int(ksiz))
	if err != nil {
		return false, err
	}
	val, err := h.r.ReadN(int(vsiz))
	if err != nil {
		return false, err
	}

	var putErr error
	switch mode {
	case hdb.ModeOver:
		putErr = h.srv.db.Put(key, val)
	case hdb.ModeKeep:
		putErr = h.srv.db.PutKeep(key, val)
	case hdb.ModeCat:
		putErr = h.srv.db.PutCat(key, val)
	}
	if putErr == nil {
		h.srv.logMutation("put", key, val)
	}

	if !respond {
		return true, nil
	}
	if putErr != nil {
		return true, h.failStatus()
	}
	if err := h.okStatus(); err != nil {
		return false, err
	}
	return true, h.w.Flush()
}

// --- OUT: ksize(32) key -> status ---

func (h *handler) handleOut() (bool, error) {
	ksiz, err := h.r.ReadU32()
	if err != nil {
		return false, err
	}
	key, err := h.r.ReadN(int(ksiz))
	if err != nil {
		return false, err
	}
	outErr := h.srv.db.Out(key)
	if outErr == nil {
		h.srv.logMutation("out", key, nil)
		if err := h.okStatus(); err != nil {
			return false, err
		}
	} else if err := h.failStatus(); err != nil {
		return false, err
	}
	return true, h.w.Flush()
}

// --- GET: ksize(32) key -> status, vsize(32), value ---

func (h *handler) handleGet() (bool, error) {
	ksiz, err := h.r.ReadU32()
	if err != nil {
		return false, err
	}
	key, err := h.r.ReadN(int(ksiz))
	if err != nil {
		return false, err
	}
	val, getErr := h.srv.db.Get(key)
	if getErr != nil {
		if err := h.failStatus(); err != nil {
			return false, err
		}
		return true, h.w.Flush()
	}
	if err := h.okStatus(); err != nil {
		return false, err
	}
	if err := h.w.WriteU32(uint32(len(val))); err != nil {
		return false, err
	}
	if _, err := h.w.Write(val); err != nil {
		return false, err
	}
	return true, h.w.Flush()
}

// --- MGET: rnum(32) {ksize(32) key}* -> status, rnum(32) {ksize vsize key value}* ---

func (h *handler) handleMGet() (bool, error) {
	n, err := h.r.ReadU32()
	if err != nil {
		return false, err
	}
	keys := make([][]byte, 0, n)
	for i := uint32(0); i < n; i++ {
		ksiz, err := h.r.ReadU32()
		if err != nil {
			return false, err
		}
		key, err := h.r.ReadN(int(ksiz))
		if err != nil {
			return false, err
		}
		keys = append(keys, key)
	}

	type hit struct{ key, val []byte }
	var hits []hit
	for _, k := range keys {
		v, err := h.srv.db.Get(k)
		if err == nil {
			hits = append(hits, hit{k, v})
		}
	}

	if err := h.okStatus(); err != nil {
		return false, err
	}
	if err := h.w.WriteU32(uint32(len(hits))); err != nil {
		return false, err
	}
	for _, hv := range hits {
		if err := h.w.WriteU32(uint32(len(hv.key))); err != nil {
			return false, err
		}
		if err := h.w.WriteU32(uint32(len(hv.val))); err != nil {
			return false, err
		}
		if _, err := h.w.Write(hv.key); err != nil {
			return false, err
		}
		if _, err := h.w.Write(hv.val); err != nil {
			return false, err
		}
	}
	return true, h.w.Flush()
}

// --- VSIZ: ksize(32) key -> status, vsize(32) ---

func (h *handler) handleVsiz() (bool, error) {
	ksiz, err := h.r.ReadU32()
	if err != nil {
		return false, err
	}
	key, err := h.r.ReadN(int(ksiz))
	if err != nil {
		return false, err
	}
	n, vErr := h.srv.db.Vsiz(key)
	if vErr != nil {
		if err := h.failStatus(); err != nil {
			return false, err
		}
		return true, h.w.Flush()
	}
	if err := h.okStatus(); err != nil {
		return false, err
	}
	if err := h.w.WriteU32(uint32(n)); err != nil {
		return false, err
	}
	return true, h.w.Flush()
}

// --- ITERINIT: (no body) -> status ---

func (h *handler) handleIterInit() (bool, error) {
	h.srv.db.IterInit()
	if err := h.okStatus(); err != nil {
		return false, err
	}
	return true, h.w.Flush()
}

// --- ITERNEXT: (no body) -> status, vsize(32), value(=next key) ---

func (h *handler) handleIterNext() (bool, error) {
	key, ok := h.srv.db.IterNext()
	if !ok {
		if err := h.failStatus(); err != nil {
			return false, err
		}
		return true, h.w.Flush()
	}
	if err := h.okStatus(); err != nil {
		return false, err
	}
	if err := h.w.WriteU32(uint32(len(key))); err != nil {
		return false, err
	}
	if _, err := h.w.Write(key); err != nil {
		return false, err
	}
	return true, h.w.Flush()
}

// --- FWMKEYS: psiz(32) max(32) prefix -> status, knum(32) {ksize(32) key}* ---

func (h *handler) handleFwmKeys() (bool, error) {
	psiz, err := h.r.ReadU32()
	if err != nil {
		return false, err
	}
	max, err := h.r.ReadU32()
	if err != nil {
		return false, err
	}
	prefix, err := h.r.ReadN(int(psiz))
	if err != nil {
		return false, err
	}
	keys := h.srv.db.Fwmkeys(prefix, int(int32(max)))

	if err := h.okStatus(); err != nil {
		return false, err
	}
	if err := h.w.WriteU32(uint32(len(keys))); err != nil {
		return false, err
	}
	for _, k := range keys {
		if err := h.w.WriteU32(uint32(len(k))); err != nil {
			return false, err
		}
		if _, err := h.w.Write(k); err != nil {
			return false, err
		}
	}
	return true, h.w.Flush()
}

// --- ADDINT: ksize(32) num(32 signed) key -> status, sum(32) ---

func (h *handler) handleAddInt() (bool, error) {
	ksiz, err := h.r.ReadU32()
	if err != nil {
		return false, err
	}
	num, err := h.r.ReadU32()
	if err != nil {
		return false, err
	}
	key, err := h.r.ReadN(int(ksiz))
	if err != nil {
		return false, err
	}
	sum, addErr := h.srv.db.AddInt(key, int64(int32(num)))
	if addErr != nil {
		if err := h.failStatus(); err != nil {
			return false, err
		}
		return true, h.w.Flush()
	}
	h.srv.logMutation("addint", key, nil)
	if err := h.okStatus(); err != nil {
		return false, err
	}
	if err := h.w.WriteU32(uint32(int32(sum))); err != nil {
		return false, err
	}
	return true, h.w.Flush()
}

// --- ADDDOUBLE: ksize(32) intpart(64) fracpart(64) key -> status, intpart(64) fracpart(64) ---

func (h *handler) handleAddDouble() (bool, error) {
	ksiz, err := h.r.ReadU32()
	if err != nil {
		return false, err
	}
	intPart, err := h.r.ReadU64()
	if err != nil {
		return false, err
	}
	fracPart, err := h.r.ReadU64()
	if err != nil {
		return false, err
	}
	key, err := h.r.ReadN(int(ksiz))
	if err != nil {
		return false, err
	}
	delta := packedToFloat(intPart, fracPart)
	sum, addErr := h.srv.db.AddDouble(key, delta)
	if addErr != nil {
		if err := h.failStatus(); err != nil {
			return false, err
		}
		return true, h.w.Flush()
	}
	h.srv.logMutation("adddouble", key, nil)
	if err := h.okStatus(); err != nil {
		return false, err
	}
	ip, fp := floatToPacked(sum)
	if err := h.w.WriteU64(ip); err != nil {
		return false, err
	}
	if err := h.w.WriteU64(fp); err != nil {
		return false, err
	}
	return true, h.w.Flush()
}

// --- VANISH: (no body) -> status ---

func (h *handler) handleVanish() (bool, error) {
	vErr := h.srv.db.Vanish()
	if vErr != nil {
		if err := h.failStatus(); err != nil {
			return false, err
		}
		return true, h.w.Flush()
	}
	h.srv.logMutation("vanish", nil, nil)
	if err := h.okStatus(); err != nil {
		return false, err
	}
	return true, h.w.Flush()
}

// --- RESTORE: psiz(32) ts(64) opts(32) path -> status ---

func (h *handler) handleRestore() (bool, error) {
	psiz, err := h.r.ReadU32()
	if err != nil {
		return false, err
	}
	ts, err := h.r.ReadU64()
	if err != nil {
		return false, err
	}
	if _, err := h.r.ReadU32(); err != nil { // opts, currently unused
		return false, err
	}
	path, err := h.r.ReadN(int(psiz))
	if err != nil {
		return false, err
	}

	u, openErr := ulog.Open(string(path), 0, 0)
	if openErr != nil {
		return true, h.failAndFlush()
	}
	defer u.Close()

	applyErr := u.Restore(ts, func(e ulog.Entry) error {
		return applyLoggedOp(h.srv.db, e.Body)
	})
	if applyErr != nil {
		return true, h.failAndFlush()
	}
	if err := h.okStatus(); err != nil {
		return false, err
	}
	return true, h.w.Flush()
}

func (h *handler) failAndFlush() error {
	if err := h.failStatus(); err != nil {
		return err
	}
	return h.w.Flush()
}

// --- SETMST: hsiz(32) port(32) ts(64) opts(32) host -> status ---

func (h *handler) handleSetMst() (bool, error) {
	hsiz, err := h.r.ReadU32()
	if err != nil {
		return false, err
	}
	port, err := h.r.ReadU32()
	if err != nil {
		return false, err
	}
	ts, err := h.r.ReadU64()
	if err != nil {
		return false, err
	}
	opts, err := h.r.ReadU32()
	if err != nil {
		return false, err
	}
	host, err := h.r.ReadN(int(hsiz))
	if err != nil {
		return false, err
	}

	h.srv.mu.Lock()
	h.srv.masterHost = string(host)
	h.srv.masterPort = int(int32(port))
	h.srv.mstTs = ts
	h.srv.mstOpts = opts
	h.srv.mu.Unlock()

	if err := h.okStatus(); err != nil {
		return false, err
	}
	return true, h.w.Flush()
}

// --- RNUM: (no body) -> status, rnum(64) ---

func (h *handler) handleRnum() (bool, error) {
	if err := h.okStatus(); err != nil {
		return false, err
	}
	if err := h.w.WriteU64(h.srv.db.Rnum()); err != nil {
		return false, err
	}
	return true, h.w.Flush()
}

// --- SIZE: (no body) -> status, size(64) ---

func (h *handler) handleSize() (bool, error) {
	if err := h.okStatus(); err != nil {
		return false, err
	}
	if err := h.w.WriteU64(h.srv.db.Size()); err != nil {
		return false, err
	}
	return true, h.w.Flush()
}

// --- STAT: (no body) -> status, size(32), "key\tvalue\n"-delimited block ---

func (h *handler) handleStat() (bool, error) {
	stat := h.srv.db.Stat()
	buf := formatStatBlock(stat)
	if err := h.okStatus(); err != nil {
		return false, err
	}
	if err := h.w.WriteU32(uint32(len(buf))); err != nil {
		return false, err
	}
	if _, err := h.w.Write(buf); err != nil {
		return false, err
	}
	return true, h.w.Flush()
}

func formatStatBlock(stat map[string]string) []byte {
	var buf []byte
	for k, v := range stat {
		buf = append(buf, k...)
		buf = append(buf, '\t')
		buf = append(buf, v...)
		buf = append(buf, '\n')
	}
	return buf
}

// --- MISC: nsiz(32) opts(32) argc(32) name {asiz(32) arg}* -> status, rnum(32) {esiz(32) elem}* ---

func (h *handler) handleMisc() (bool, error) {
	nsiz, err := h.r.ReadU32()
	if err != nil {
		return false, err
	}
	if _, err := h.r.ReadU32(); err != nil { // opts, currently unused
		return false, err
	}
	argc, err := h.r.ReadU32()
	if err != nil {
		return false, err
	}
	name, err := h.r.ReadN(int(nsiz))
	if err != nil {
		return false, err
	}
	args := make([][]byte, 0, argc)
	for i := uint32(0); i < argc; i++ {
		asiz, err := h.r.ReadU32()
		if err != nil {
			return false, err
		}
		arg, err := h.r.ReadN(int(asiz))
		if err != nil {
			return false, err
		}
		args = append(args, arg)
	}

	res, miscErr := h.srv.db.Misc(string(name), args)
	if miscErr != nil {
		if err := h.failStatus(); err != nil {
			return false, err
		}
		return true, h.w.Flush()
	}
	h.srv.logMutation("misc:"+string(name), nil, nil)
	if err := h.okStatus(); err != nil {
		return false, err
	}
	if err := h.w.WriteU32(uint32(len(res))); err != nil {
		return false, err
	}
	for _, e := range res {
		if err := h.w.WriteU32(uint32(len(e))); err != nil {
			return false, err
		}
		if _, err := h.w.Write(e); err != nil {
			return false, err
		}
	}
	return true, h.w.Flush()
}

// --- REPL: ts(64) sid(32) -> mid(32), then an unbounded stream of
// magic|ts(64)|sid(32)|size(32)|body records (or NOP keep-alives) ---
//
// Unlike every other command, a REPL request turns the rest of the
// connection's lifetime into a one-way push stream; serveOne's normal
// request/response loop is not reentered once this returns.
func (h *handler) handleRepl() (bool, error) {
	if _, err := h.r.ReadU64(); err != nil { // client ts, not used server-side yet
		return false, err
	}
	if _, err := h.r.ReadU32(); err != nil { // client self sid
		return false, err
	}
	if err := h.w.WriteU32(h.srv.selfID()); err != nil {
		return false, err
	}
	if err := h.w.Flush(); err != nil {
		return false, err
	}
	if h.srv.ulog == nil {
		return false, nil
	}

	reader, err := ulog.NewReader(h.srv.ulogDir(), 0, 0)
	if err != nil {
		return false, err
	}
	defer reader.Close()

	for {
		e, err := reader.Next()
		if err != nil {
			if err := reader.Wait(5 * time.Second); err != nil {
				return false, err
			}
			if err := h.w.WriteByte1(wire.NOP); err != nil {
				return false, err
			}
			if err := h.w.Flush(); err != nil {
				return false, err
			}
			continue
		}
		if err := h.w.WriteByte1(wire.Magic); err != nil {
			return false, err
		}
		if err := h.w.WriteU64(e.Ts); err != nil {
			return false, err
		}
		if err := h.w.WriteU32(e.Sid); err != nil {
			return false, err
		}
		if err := h.w.WriteU32(uint32(len(e.Body))); err != nil {
			return false, err
		}
		if _, err := h.w.Write(e.Body); err != nil {
			return false, err
		}
		if err := h.w.Flush(); err != nil {
			return false, err
		}
	}
}
