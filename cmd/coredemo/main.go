package main

import (
	"bufio"
	"flag"
	"fmt"
	"os"
	"strconv"
	"strings"

	"coredb/internal/logging"
)

func main() {
	dir := flag.String("db", "./coredemo-data", "storage directory")
	logLevel := flag.String("log-level", "info", "debug|info|warn|error")
	flag.Parse()

	if err := logging.Init(logging.Config{Level: parseLevel(*logLevel), Format: "text"}); err != nil {
		fmt.Fprintln(os.Stderr, "logging init:", err)
		os.Exit(1)
	}
	defer logging.Close()

	s, err := openStore(*dir)
	if err != nil {
		logging.Error("coredemo.open_failed", "error", err)
		os.Exit(1)
	}
	defer func() {
		if err := s.close(); err != nil {
			logging.Error("coredemo.close_failed", "error", err)
		}
	}()

	repl(s)
}

func parseLevel(s string) logging.LogLevel {
	switch strings.ToLower(s) {
	case "debug":
		return logging.LevelDebug
	case "warn":
		return logging.LevelWarn
	case "error":
		return logging.LevelError
	default:
		return logging.LevelInfo
	}
}

// repl runs a tiny line-oriented shell over the storage core:
//
//	put <key> <value>     insert into the hash index
//	get <key>              print every value stored under key
//	del <key> <value>      remove a (key, value) pair
//	tuple <text>           insert a tuple into the demo heap page, WAL-logged
//	checkpoint             persist a checkpoint
//	stats                  print buffer pool occupancy
//	exit
func repl(s *store) {
	scanner := bufio.NewScanner(os.Stdin)
	fmt.Println("coredb> ready (put/get/del/tuple/checkpoint/stats/exit)")
	for {
		fmt.Print("coredb> ")
		if !scanner.Scan() {
			return
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		fields := strings.Fields(line)
		cmd := strings.ToLower(fields[0])
		args := fields[1:]

		switch cmd {
		case "exit", "quit":
			return
		case "put":
			runPut(s, args)
		case "get":
			runGet(s, args)
		case "del":
			runDel(s, args)
		case "tuple":
			runTuple(s, line)
		case "checkpoint":
			if err := s.checkpointNow(); err != nil {
				fmt.Println("error:", err)
			}
		case "stats":
			stats := s.bp.GetStats()
			fmt.Printf("pages=%d pinned=%d dirty=%d capacity=%d\n", stats.TotalPages, stats.PinnedPages, stats.DirtyPages, stats.Capacity)
		default:
			fmt.Println("unknown command:", cmd)
		}
	}
}

func runPut(s *store, args []string) {
	if len(args) != 2 {
		fmt.Println("usage: put <key> <value>")
		return
	}
	key, kerr := strconv.ParseUint(args[0], 10, 64)
	value, verr := strconv.ParseUint(args[1], 10, 64)
	if kerr != nil || verr != nil {
		fmt.Println("key and value must be uint64")
		return
	}
	ok, err := s.hash.Insert(key, value)
	if err != nil {
		fmt.Println("error:", err)
		return
	}
	fmt.Println("inserted:", ok)
}

func runGet(s *store, args []string) {
	if len(args) != 1 {
		fmt.Println("usage: get <key>")
		return
	}
	key, err := strconv.ParseUint(args[0], 10, 64)
	if err != nil {
		fmt.Println("key must be uint64")
		return
	}
	values, err := s.hash.Get(key)
	if err != nil {
		fmt.Println("error:", err)
		return
	}
	fmt.Println(values)
}

func runDel(s *store, args []string) {
	if len(args) != 2 {
		fmt.Println("usage: del <key> <value>")
		return
	}
	key, kerr := strconv.ParseUint(args[0], 10, 64)
	value, verr := strconv.ParseUint(args[1], 10, 64)
	if kerr != nil || verr != nil {
		fmt.Println("key and value must be uint64")
		return
	}
	ok, err := s.hash.Remove(key, value)
	if err != nil {
		fmt.Println("error:", err)
		return
	}
	fmt.Println("removed:", ok)
}

func runTuple(s *store, line string) {
	text := strings.TrimSpace(strings.TrimPrefix(line, "tuple"))
	if text == "" {
		fmt.Println("usage: tuple <text>")
		return
	}
	r, err := s.insertTuple([]byte(text))
	if err != nil {
		fmt.Println("error:", err)
		return
	}
	fmt.Printf("inserted at page=%d slot=%d\n", r.PageID, r.Slot)
}
