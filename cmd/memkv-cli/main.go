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
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/chzyer/readline"
	flag "github.com/spf13/pflag"

	"github.com/launix-de/memkv/internal/rdb"
)

const (
	newprompt    = "\033[32mmemkv>\033[0m "
	resultprompt = "\033[31m=\033[0m "
)

func main() {
	if err := run(os.Args[1:]); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(args []string) error {
	flags := flag.NewFlagSet("memkv-cli", flag.ExitOnError)
	addr := flags.StringP("host", "H", "127.0.0.1:1978", "server address (host:port or a UNIX socket path)")
	command := flags.StringP("command", "c", "", "run one command non-interactively and exit")
	if err := flags.Parse(args); err != nil {
		return err
	}

	client, err := rdb.Open(*addr, rdb.Options{Reconnect: true})
	if err != nil {
		return fmt.Errorf("connecting to %s: %w", *addr, err)
	}
	defer client.Close()

	if *command != "" {
		out, err := dispatch(client, *command)
		if err != nil {
			return err
		}
		fmt.Println(out)
		return nil
	}

	return repl(client, *addr)
}

func repl(client *rdb.RDB, addr string) error {
	l, err := readline.NewEx(&readline.Config{
		Prompt:            newprompt,
		HistoryFile:       ".memkv-history.tmp",
		InterruptPrompt:   "^C",
		EOFPrompt:         "exit",
		HistorySearchFold: true,
	})
	if err != nil {
		return err
	}
	defer l.Close()

	fmt.Printf("memkv-cli connected to %s\n", addr)
	for {
		line, err := l.Readline()
		if errors.Is(err, readline.ErrInterrupt) {
			continue
		}
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return err
		}
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		if line == "quit" || line == "exit" {
			return nil
		}
		out, dispatchErr := dispatch(client, line)
		if dispatchErr != nil {
			fmt.Println(resultprompt, "error:", dispatchErr)
			continue
		}
		fmt.Println(resultprompt, out)
	}
}

// dispatch parses one command line into an RDB call. The grammar is
// intentionally small: <verb> <args...>, whitespace separated, mirroring
// the original tcrmgr command-line tool's subcommand set.
func dispatch(client *rdb.RDB, line string) (string, error) {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return "", nil
	}
	verb, args := fields[0], fields[1:]

	switch verb {
	case "put":
		if len(args) != 2 {
			return "", fmt.Errorf("usage: put <key> <value>")
		}
		if err := client.Put([]byte(args[0]), []byte(args[1])); err != nil {
			return "", err
		}
		return "ok", nil

	case "putkeep":
		if len(args) != 2 {
			return "", fmt.Errorf("usage: putkeep <key> <value>")
		}
		if err := client.PutKeep([]byte(args[0]), []byte(args[1])); err != nil {
			return "", err
		}
		return "ok", nil

	case "putcat":
		if len(args) != 2 {
			return "", fmt.Errorf("usage: putcat <key> <value>")
		}
		if err := client.PutCat([]byte(args[0]), []byte(args[1])); err != nil {
			return "", err
		}
		return "ok", nil

	case "get":
		if len(args) != 1 {
			return "", fmt.Errorf("usage: get <key>")
		}
		val, err := client.Get([]byte(args[0]))
		if err != nil {
			return "", err
		}
		return string(val), nil

	case "out":
		if len(args) != 1 {
			return "", fmt.Errorf("usage: out <key>")
		}
		if err := client.Out([]byte(args[0])); err != nil {
			return "", err
		}
		return "ok", nil

	case "mget":
		if len(args) == 0 {
			return "", fmt.Errorf("usage: mget <key> [key...]")
		}
		keys := make([][]byte, len(args))
		for i, a := range args {
			keys[i] = []byte(a)
		}
		hits, err := client.MGet(keys)
		if err != nil {
			return "", err
		}
		var b strings.Builder
		for k, v := range hits {
			fmt.Fprintf(&b, "%s\t%s\n", k, v)
		}
		return b.String(), nil

	case "vsiz":
		if len(args) != 1 {
			return "", fmt.Errorf("usage: vsiz <key>")
		}
		n, err := client.Vsiz([]byte(args[0]))
		if err != nil {
			return "", err
		}
		return strconv.Itoa(n), nil

	case "fwmkeys":
		if len(args) < 1 || len(args) > 2 {
			return "", fmt.Errorf("usage: fwmkeys <prefix> [max]")
		}
		max := -1
		if len(args) == 2 {
			n, err := strconv.Atoi(args[1])
			if err != nil {
				return "", err
			}
			max = n
		}
		keys, err := client.Fwmkeys([]byte(args[0]), max)
		if err != nil {
			return "", err
		}
		strs := make([]string, len(keys))
		for i, k := range keys {
			strs[i] = string(k)
		}
		return strings.Join(strs, "\n"), nil

	case "addint":
		if len(args) != 2 {
			return "", fmt.Errorf("usage: addint <key> <delta>")
		}
		delta, err := strconv.ParseInt(args[1], 10, 64)
		if err != nil {
			return "", err
		}
		sum, err := client.AddInt([]byte(args[0]), delta)
		if err != nil {
			return "", err
		}
		return strconv.FormatInt(sum, 10), nil

	case "adddouble":
		if len(args) != 2 {
			return "", fmt.Errorf("usage: adddouble <key> <delta>")
		}
		delta, err := strconv.ParseFloat(args[1], 64)
		if err != nil {
			return "", err
		}
		sum, err := client.AddDouble([]byte(args[0]), delta)
		if err != nil {
			return "", err
		}
		return strconv.FormatFloat(sum, 'f', -1, 64), nil

	case "vanish":
		if err := client.Vanish(); err != nil {
			return "", err
		}
		return "ok", nil

	case "rnum":
		n, err := client.Rnum()
		if err != nil {
			return "", err
		}
		return strconv.FormatUint(n, 10), nil

	case "size":
		n, err := client.Size()
		if err != nil {
			return "", err
		}
		return strconv.FormatUint(n, 10), nil

	case "stat":
		stat, err := client.Stat()
		if err != nil {
			return "", err
		}
		var b strings.Builder
		for k, v := range stat {
			fmt.Fprintf(&b, "%s\t%s\n", k, v)
		}
		return b.String(), nil

	case "iter":
		if err := client.IterInit(); err != nil {
			return "", err
		}
		var b strings.Builder
		for {
			key, err := client.IterNext()
			if err != nil {
				if errors.Is(err, rdb.ErrNoRecord) {
					break
				}
				return "", err
			}
			b.Write(key)
			b.WriteByte('\n')
		}
		return b.String(), nil

	case "misc":
		if len(args) < 1 {
			return "", fmt.Errorf("usage: misc <name> [arg...]")
		}
		miscArgs := make([][]byte, len(args)-1)
		for i, a := range args[1:] {
			miscArgs[i] = []byte(a)
		}
		res, err := client.Misc(args[0], miscArgs)
		if err != nil {
			return "", err
		}
		strs := make([]string, len(res))
		for i, e := range res {
			strs[i] = string(e)
		}
		return strings.Join(strs, "\n"), nil

	case "setmst":
		if len(args) != 2 {
			return "", fmt.Errorf("usage: setmst <host> <port>")
		}
		port, err := strconv.Atoi(args[1])
		if err != nil {
			return "", err
		}
		if err := client.SetMst(args[0], port, 0, 0); err != nil {
			return "", err
		}
		return "ok", nil

	case "restore":
		if len(args) != 2 {
			return "", fmt.Errorf("usage: restore <path> <ts>")
		}
		ts, err := strconv.ParseUint(args[1], 10, 64)
		if err != nil {
			return "", err
		}
		if err := client.Restore(args[0], ts, 0); err != nil {
			return "", err
		}
		return "ok", nil

	default:
		return "", fmt.Errorf("unknown command %q", verb)
	}
}
