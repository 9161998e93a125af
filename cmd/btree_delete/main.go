// Command btree_delete removes a key.
//
//	btree_delete filestem cachesize key
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
		fmt.Fprintln(os.Stderr, "usage: btree_delete filestem cachesize key")
	}
	flag.Parse()
	args := flag.Args()
	if len(args) != 3 {
		flag.Usage()
		os.Exit(-1)
	}

	filestem := args[0]
	cacheSize, err := strconv.Atoi(args[1])
	if err != nil {
		cliutil.Fail("btree_delete", fmt.Errorf("cachesize must be an integer"))
	}

	t, bm, err := cliutil.Attach(filestem, cacheSize)
	if err != nil {
		cliutil.Fail("btree_delete", err)
	}

	key, err := cliutil.FitWidth(args[2], t.KeySize(), "key")
	if err != nil {
		cliutil.Fail("btree_delete", err)
	}

	if err := t.Delete(key); err != nil {
		cliutil.Fail("btree_delete", err)
	}
	if err := t.Close(); err != nil {
		cliutil.Fail("btree_delete", err)
	}
	cliutil.PrintStats(bm)
	os.Exit(0)
}
