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
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/launix-de/memkv/internal/ulog"
)

// upgrader is shared across connections; origin checking is left wide open
// the way the teacher's scm/network.go websocket endpoint does, since this
// is an operator-facing debug surface, not a public API.
var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
}

// DebugWSHandler upgrades a request to a websocket and live-tails the
// server's update log, pushing one JSON-ish line per record as it is
// appended — an ops/debug convenience, not part of the wire protocol
// clients speak. Returns 404 if no update log is configured.
func (s *Server) DebugWSHandler(w http.ResponseWriter, r *http.Request) {
	if s.ulog == nil {
		http.NotFound(w, r)
		return
	}
	ws, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warnf("debug ws: upgrade failed: %v", err)
		return
	}
	defer ws.Close()

	reader, err := ulog.NewReader(s.ulogDir(), 0, 0)
	if err != nil {
		s.log.Warnf("debug ws: opening ulog reader failed: %v", err)
		return
	}
	defer reader.Close()

	for {
		e, err := reader.Next()
		if err != nil {
			if waitErr := reader.Wait(5 * time.Second); waitErr != nil {
				return
			}
			continue
		}
		line := fmt.Sprintf(`{"ts":%d,"sid":%d,"size":%d}`, e.Ts, e.Sid, len(e.Body))
		if err := ws.WriteMessage(websocket.TextMessage, []byte(line)); err != nil {
			return
		}
	}
}

// DebugMux builds an http.ServeMux exposing /debug/ws, suitable for
// serving on a separate listener from the binary protocol port.
func (s *Server) DebugMux() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/debug/ws", s.DebugWSHandler)
	return mux
}
