// Command btree_lookup prints the value stored for a key.
//
//	btree_lookup filestem cachesize key
package main

import (
	"flag"
	"fmt"
	"os"
	"strconv"

	"github.com/cockroachdb/errors"

	"btreeindex/internal/bterr"
	"btreeindex/internal/cliutil"
)

func main() {
	flag.Usage = func() {
		fmt.Fprintln(os.Stderr, "usage: btree_lookup filestem cachesize key")
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
		cliutil.Fail("btree_lookup", fmt.Errorf("cachesize must be an integer"))
	}

	t, bm, err := cliutil.Attach(filestem, cacheSize)
	if err != nil {
		cliutil.Fail("btree_lookup", err)
	}
	defer t.Close()

	key, err := cliutil.FitWidth(args[2], t.KeySize(), "key")
	if err != nil {
		cliutil.Fail("btree_lookup", err)
	}

	value, found, err := t.Lookup(key)
	if err != nil {
		cliutil.Fail("btree_lookup", err)
	}
	if !found {
		cliutil.Fail("btree_lookup", errors.Mark(errors.New("key not found"), bterr.NotFound))
	}
	fmt.Println(string(value))
	cliutil.PrintStats(bm)
	os.Exit(0)
}
