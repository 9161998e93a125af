// Command btree_insert inserts one (key, value) pair into an existing
// index.
//
//	btree_insert filestem cachesize key value
package main

import (
	"flag"
	"fmt"
	"os"
	"strconv"

	"btreeindex/internal/cliutil"
)

func main() {
	flag.Usage = func() {
		fmt.Fprintln(os.Stderr, "usage: btree_insert filestem cachesize key value")
	}
	flag.Parse()
	args := flag.Args()
	if len(args) != 4 {
		flag.Usage()
		os.Exit(-1)
	}

	filestem := args[0]
	cacheSize, err := strconv.Atoi(args[1])
	if err != nil {
		cliutil.Fail("btree_insert", fmt.Errorf("cachesize must be an integer"))
	}

	t, bm, err := cliutil.Attach(filestem, cacheSize)
	if err != nil {
		cliutil.Fail("btree_insert", err)
	}

	key, err := cliutil.FitWidth(args[2], t.KeySize(), "key")
	if err != nil {
		cliutil.Fail("btree_insert", err)
	}
	value, err := cliutil.FitWidth(args[3], t.ValueSize(), "value")
	if err != nil {
		cliutil.Fail("btree_insert", err)
	}

	if err := t.Insert(key, value); err != nil {
		cliutil.Fail("btree_insert", err)
	}
	if err := t.Close(); err != nil {
		cliutil.Fail("btree_insert", err)
	}
	cliutil.PrintStats(bm)
	os.Exit(0)
}
