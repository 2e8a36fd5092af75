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

package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	flag "github.com/spf13/pflag"

	"github.com/launix-de/memkv/internal/adb"
	"github.com/launix-de/memkv/internal/config"
	"github.com/launix-de/memkv/internal/logx"
	"github.com/launix-de/memkv/internal/repl"
	"github.com/launix-de/memkv/internal/serv"
	"github.com/launix-de/memkv/internal/ulog"
)

var log = logx.For("main")

func main() {
	if err := run(os.Args[1:]); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(args []string) error {
	fmt.Print(`memkv Copyright (C) 2026  memkv contributors
    This program comes with ABSOLUTELY NO WARRANTY;
    This is free software, and you are welcome to redistribute it
    under certain conditions;
`)

	flags := flag.NewFlagSet("memkv-server", flag.ExitOnError)
	configPath := flags.StringP("config", "c", "", "path to a YAML config file")
	host := flags.String("host", "", "bind host (empty for all interfaces)")
	port := flags.IntP("port", "p", 0, "TCP port to bind (0 keeps the config/default value)")
	unixPath := flags.String("unix", "", "UNIX socket path (overrides host/port when set)")
	db := flags.String("db", "", "ADB tuning expression, e.g. \"*\" or \"/var/lib/memkv/data.hdb#bnum=1000000\"")
	workers := flags.Int("workers", 0, "worker pool size (0 keeps the config/default value)")
	ulogDir := flags.String("ulog-dir", "", "update log directory (enables RESTORE/REPL)")
	masterHost := flags.String("master-host", "", "replication master host (makes this server a follower)")
	masterPort := flags.Int("master-port", 0, "replication master port")
	logLevel := flags.String("log-level", "info", "log level: debug, info, warn, error")
	debugAddr := flags.String("debug-addr", "", "if set, serve a /debug/ws update-log tail on this address")
	if err := flags.Parse(args); err != nil {
		return err
	}

	logx.SetLevel(*logLevel)

	overrides := config.Overrides{}
	if *host != "" {
		overrides.Host = host
	}
	if *port != 0 {
		overrides.Port = port
	}
	if *unixPath != "" {
		overrides.UnixPath = unixPath
	}
	if *db != "" {
		overrides.DB = db
	}
	if *workers != 0 {
		overrides.Workers = workers
	}
	if *ulogDir != "" {
		overrides.ULogDir = ulogDir
	}
	if *masterHost != "" {
		overrides.MasterHost = masterHost
	}
	if *masterPort != 0 {
		overrides.MasterPort = masterPort
	}

	cfg, err := config.Load(*configPath, overrides)
	if err != nil {
		return err
	}
	if cfg.Sources.File != "" {
		log.Infof("loaded config from %s", cfg.Sources.File)
	}

	database, err := adb.Open(cfg.DB)
	if err != nil {
		return fmt.Errorf("opening database %q: %w", cfg.DB, err)
	}
	defer database.Close()

	var ul *ulog.ULog
	if cfg.ULogDir != "" {
		limsiz := cfg.ULogLimSiz
		if limsiz <= 0 {
			limsiz = 256 << 20
		}
		ul, err = ulog.Open(cfg.ULogDir, limsiz, 0)
		if err != nil {
			return fmt.Errorf("opening update log at %s: %w", cfg.ULogDir, err)
		}
		defer ul.Close()
	}

	srv := serv.New(serv.Config{
		Host:           cfg.Host,
		Port:           cfg.Port,
		UnixPath:       cfg.UnixPath,
		Workers:        cfg.Workers,
		ConnDeadline:   cfg.ConnDeadline,
		WatchdogSlack:  cfg.WatchdogSlack,
		WatchdogPeriod: cfg.WatchdogPeriod,
	}, database, ul)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if cfg.MasterHost != "" {
		go followMaster(ctx, database, cfg.MasterHost, cfg.MasterPort)
	}

	if *debugAddr != "" {
		debugSrv := &http.Server{Addr: *debugAddr, Handler: srv.DebugMux()}
		go func() {
			<-ctx.Done()
			debugSrv.Close()
		}()
		go func() {
			log.Infof("debug ws listening on %s", *debugAddr)
			if err := debugSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.Warnf("debug http server stopped: %v", err)
			}
		}()
	}

	return srv.ListenAndServe(ctx)
}

// followMaster dials the replication master and applies its record stream
// to database until ctx is cancelled, reconnecting on any stream error
// (spec §4.G: a follower tolerates a master that goes away and comes back).
func followMaster(ctx context.Context, database *adb.ADB, host string, port int) {
	addr := fmt.Sprintf("%s:%d", host, port)
	selfSid := ulog.NewSelfID()
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}
		client, err := repl.Dial(addr, 0, selfSid)
		if err != nil {
			log.Warnf("replication: dial %s failed: %v", addr, err)
			if !sleepOrDone(ctx) {
				return
			}
			continue
		}
		log.Infof("replication: streaming from master %s (id=%d)", addr, client.MasterID())
		err = client.Stream(func(rec repl.Record) error {
			select {
			case <-ctx.Done():
				return ctx.Err()
			default:
			}
			return serv.ApplyMutation(database, rec.Body)
		})
		client.Close()
		if err != nil {
			log.Warnf("replication: stream from %s ended: %v", addr, err)
		}
		if !sleepOrDone(ctx) {
			return
		}
	}
}

func sleepOrDone(ctx context.Context) bool {
	t := time.NewTimer(time.Second)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
