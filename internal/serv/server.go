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

// Package serv implements the TCP/UNIX front-end (spec §4.H): a listener
// feeding a bounded worker pool, a watchdog that replaces a worker stuck
// past its per-connection deadline, and periodic timer goroutines — the
// idiomatic Go analogue of the original's epoll+pthread+pthread_cancel
// design, built the way the teacher's scm/network.go server wraps
// net/http's own ReadTimeout/WriteTimeout-driven cancellation.
package serv

import (
	"context"
	"errors"
	"net"
	"os"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/launix-de/memkv/internal/adb"
	"github.com/launix-de/memkv/internal/logx"
	"github.com/launix-de/memkv/internal/ulog"
)

// Config tunes the server (spec §4.H).
type Config struct {
	Host string // empty + Port<1 => UNIX socket at UnixPath
	Port int
	UnixPath string

	Workers         int           // default 5, mirrors the original's fixed thread pool
	ConnDeadline    time.Duration // per-request watchdog deadline, default 10s
	WatchdogSlack   time.Duration // grace period added on top of ConnDeadline, default 2s
	WatchdogPeriod  time.Duration // how often the watchdog sweeps, default 1s
}

func (c *Config) setDefaults() {
	if c.Workers <= 0 {
		c.Workers = 5
	}
	if c.ConnDeadline <= 0 {
		c.ConnDeadline = 10 * time.Second
	}
	if c.WatchdogSlack <= 0 {
		c.WatchdogSlack = 2 * time.Second
	}
	if c.WatchdogPeriod <= 0 {
		c.WatchdogPeriod = time.Second
	}
}

// Server owns the listener, the database, the update log, and the worker
// pool that serves client connections.
type Server struct {
	cfg  Config
	db   *adb.ADB
	ulog *ulog.ULog
	log  logx.Logger

	ln net.Listener

	connQueue chan net.Conn
	workers   sync.WaitGroup

	mu       sync.Mutex
	sessions map[*session]struct{}

	masterHost string
	masterPort int
	mstTs      uint64
	mstOpts    uint32

	selfSid uint32

	term atomic.Bool
}

// session tracks one accepted connection's last-activity time so the
// watchdog can detect and replace a stuck handler, the Go equivalent of
// the original's per-worker mtime-polling loop.
type session struct {
	conn   net.Conn
	last   atomic.Int64 // unix nanos
	cancel context.CancelFunc
}

func (s *session) touch() { s.last.Store(time.Now().UnixNano()) }

// New builds a Server around an already-open database and update log.
// ulog may be nil if replication/point-in-time restore is not wired for
// this deployment.
func New(cfg Config, db *adb.ADB, ul *ulog.ULog) *Server {
	cfg.setDefaults()
	s := &Server{
		cfg:      cfg,
		db:       db,
		ulog:     ul,
		log:      logx.For("serv"),
		sessions: make(map[*session]struct{}),
	}
	if ul != nil {
		s.selfSid = ulog.NewSelfID()
	}
	return s
}

func (s *Server) selfID() uint32 { return s.selfSid }

func (s *Server) ulogDir() string {
	if s.ulog == nil {
		return ""
	}
	return s.ulog.Dir()
}

// ListenAndServe binds the configured socket and runs until ctx is
// cancelled or a fatal accept error occurs. It blocks.
func (s *Server) ListenAndServe(ctx context.Context) error {
	ln, err := s.listen()
	if err != nil {
		return err
	}
	s.ln = ln
	defer s.cleanupListener()

	s.connQueue = make(chan net.Conn, s.cfg.Workers*4)
	for i := 0; i < s.cfg.Workers; i++ {
		s.workers.Add(1)
		go s.workerLoop(ctx)
	}

	go s.watchdogLoop(ctx)

	go func() {
		<-ctx.Done()
		s.term.Store(true)
		s.ln.Close()
	}()

	s.log.Infof("listening on %s", ln.Addr())
	for {
		conn, err := s.ln.Accept()
		if err != nil {
			if s.term.Load() {
				break
			}
			s.log.Warnf("accept error, retrying: %v", err)
			if sleepErr := sleepBriefly(ctx); sleepErr != nil {
				break
			}
			continue
		}
		select {
		case s.connQueue <- conn:
		case <-ctx.Done():
			conn.Close()
		}
	}

	close(s.connQueue)
	s.workers.Wait()
	return nil
}

func sleepBriefly(ctx context.Context) error {
	t := time.NewTimer(200 * time.Millisecond)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Server) listen() (net.Listener, error) {
	if s.cfg.Port < 1 {
		os.Remove(s.cfg.UnixPath)
		return net.Listen("unix", s.cfg.UnixPath)
	}
	addr := net.JoinHostPort(s.cfg.Host, strconv.Itoa(s.cfg.Port))
	return net.Listen("tcp", addr)
}

func (s *Server) cleanupListener() {
	if s.cfg.Port < 1 {
		os.Remove(s.cfg.UnixPath)
	}
}

// workerLoop is one of the fixed-size worker pool goroutines (spec
// "fixed pool of worker threads, default 5"): it pulls connections off
// connQueue and serves requests on them until the connection's keep-alive
// ends or the queue is closed.
func (s *Server) workerLoop(ctx context.Context) {
	defer s.workers.Done()
	for conn := range s.connQueue {
		s.serveConn(ctx, conn)
	}
}

// serveConn runs the request/response loop for one connection, arming a
// fresh per-request deadline each time (the epoll-re-arm-on-keep
// equivalent). The connection runs under a child context; if a request
// stays quiet past ConnDeadline+WatchdogSlack, the watchdog cancels that
// context and forcibly closes conn.
func (s *Server) serveConn(parent context.Context, conn net.Conn) {
	defer conn.Close()
	connCtx, cancel := context.WithCancel(parent)
	defer cancel()

	sess := &session{conn: conn, cancel: cancel}
	sess.touch()
	s.mu.Lock()
	s.sessions[sess] = struct{}{}
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		delete(s.sessions, sess)
		s.mu.Unlock()
	}()

	h := &handler{srv: s, conn: conn}
	for {
		select {
		case <-connCtx.Done():
			return
		default:
		}
		sess.touch()
		conn.SetDeadline(time.Now().Add(s.cfg.ConnDeadline))
		keep, err := h.serveOne()
		if err != nil {
			if !errors.Is(err, os.ErrDeadlineExceeded) {
				s.log.Debugf("connection closed: %v", err)
			}
			return
		}
		if !keep {
			return
		}
	}
}

// watchdogLoop mirrors the original's main-loop watchdog: periodically
// scan every live session's last-activity time and force-close any that
// have gone quiet past ConnDeadline+WatchdogSlack. Closing the connection
// unblocks the worker's in-flight read/write, which returns an error from
// serveConn and frees that worker for its next conn off connQueue — the
// same externally observable "stuck worker is replaced" contract as
// pthread_cancel + thread respawn, without unsafe forced goroutine kill.
func (s *Server) watchdogLoop(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.WatchdogPeriod)
	defer ticker.Stop()
	limit := s.cfg.ConnDeadline + s.cfg.WatchdogSlack
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			now := time.Now()
			s.mu.Lock()
			for sess := range s.sessions {
				last := time.Unix(0, sess.last.Load())
				if now.Sub(last) > limit {
					s.log.Warnf("watchdog: closing stuck connection from %s", sess.conn.RemoteAddr())
					sess.cancel()
					sess.conn.Close()
				}
			}
			s.mu.Unlock()
		}
	}
}
