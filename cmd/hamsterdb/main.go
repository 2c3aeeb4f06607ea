// Command hamsterdb is a small interactive shell over a hamsterdb
// environment, exercising the facade exposed by pkg/env: opening or
// creating the environment, creating/opening a named database, and
// running insert/find/erase/cursor/transaction commands against it.
package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	"github.com/nainya/hamsterdb/internal/logger"
	"github.com/nainya/hamsterdb/internal/observability"
	"github.com/nainya/hamsterdb/pkg/env"
	"github.com/nainya/hamsterdb/pkg/txn"
)

var (
	dbPath      = flag.String("db", "hamsterdb.db", "database file path")
	dbName      = flag.String("database", "default", "named database within the environment")
	inMemory    = flag.Bool("in-memory", false, "use an in-memory environment instead of a file")
	txEnable    = flag.Bool("transactions", true, "enable the transaction layer")
	create      = flag.Bool("create", false, "create the environment instead of opening an existing one")
	metricsAddr = flag.String("metrics-addr", "", "address to serve /metrics, /healthz and /debug/pprof on (disabled if empty)")
	pageSize    = flag.Int("page-size", 0, "page size in bytes for this environment (power of two, 512-1048576; 0 keeps the default)")
)

func main() {
	flag.Parse()

	opts := env.Options{
		InMemory:           *inMemory,
		EnableTransactions: *txEnable,
		PageSize:           *pageSize,
	}

	var e *env.Environment
	var err error
	if *create || *inMemory {
		e, err = env.Create(*dbPath, opts)
	} else {
		e, err = env.Open(*dbPath, opts)
	}
	if err != nil {
		log.Fatalf("open environment: %v", err)
	}
	defer e.Close()

	if *metricsAddr != "" {
		port := 0
		if _, err := fmt.Sscanf(*metricsAddr, ":%d", &port); err != nil {
			log.Fatalf("metrics-addr must be of the form :PORT, got %q", *metricsAddr)
		}
		obs := observability.NewServer(port, logger.GetGlobalLogger())
		go func() {
			if err := obs.Start(); err != nil {
				log.Printf("observability server: %v", err)
			}
		}()
		defer func() {
			ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			_ = obs.Shutdown(ctx)
		}()
	}

	db, err := e.OpenDatabase(*dbName)
	if err != nil {
		db, err = e.CreateDatabase(*dbName)
		if err != nil {
			log.Fatalf("open/create database %q: %v", *dbName, err)
		}
	}

	fmt.Printf("hamsterdb shell — database %q (%s)\n", *dbName, *dbPath)
	fmt.Println("commands: insert <key> <value> | find <key> | erase <key> | cursor | begin | commit | abort | names | quit")

	repl(e, db)
}

func repl(e *env.Environment, db *env.Database) {
	var tx *txn.Txn

	scanner := bufio.NewScanner(os.Stdin)
	fmt.Print("> ")
	for scanner.Scan() {
		fields := strings.Fields(scanner.Text())
		if len(fields) == 0 {
			fmt.Print("> ")
			continue
		}

		switch fields[0] {
		case "insert":
			if len(fields) != 3 {
				fmt.Println("usage: insert <key> <value>")
				break
			}
			var err error
			if tx != nil {
				err = db.TxnInsert(tx, []byte(fields[1]), []byte(fields[2]))
			} else {
				err = db.Insert([]byte(fields[1]), []byte(fields[2]))
			}
			if err != nil {
				fmt.Println("error:", err)
			}

		case "find":
			if len(fields) != 2 {
				fmt.Println("usage: find <key>")
				break
			}
			var val []byte
			var err error
			if tx != nil {
				val, err = db.TxnGet(tx, []byte(fields[1]))
			} else {
				val, err = db.Get([]byte(fields[1]))
			}
			if err != nil {
				fmt.Println("error:", err)
			} else {
				fmt.Println(string(val))
			}

		case "erase":
			if len(fields) != 2 {
				fmt.Println("usage: erase <key>")
				break
			}
			var err error
			if tx != nil {
				db.TxnErase(tx, []byte(fields[1]))
			} else {
				err = db.Erase([]byte(fields[1]))
			}
			if err != nil {
				fmt.Println("error:", err)
			}

		case "cursor":
			cur := db.NewCursor(tx)
			for ok := cur.MoveFirst(); ok; ok = cur.MoveNext() {
				val, err := cur.Record()
				if err != nil {
					fmt.Println("error:", err)
					continue
				}
				fmt.Printf("%s = %s\n", cur.Key(), val)
			}

		case "begin":
			if tx != nil {
				fmt.Println("error: a transaction is already open")
				break
			}
			tx = db.Begin()
			fmt.Println("transaction", tx.ID(), "started")

		case "commit":
			if tx == nil {
				fmt.Println("error: no open transaction")
				break
			}
			if err := db.Commit(tx); err != nil {
				fmt.Println("error:", err)
			}
			tx = nil

		case "abort":
			if tx == nil {
				fmt.Println("error: no open transaction")
				break
			}
			db.Abort(tx)
			tx = nil

		case "names":
			names, err := e.DatabaseNames()
			if err != nil {
				fmt.Println("error:", err)
				break
			}
			fmt.Println(strings.Join(names, ", "))

		case "quit", "exit":
			return

		default:
			fmt.Println("unknown command:", fields[0])
		}

		fmt.Print("> ")
	}
}
