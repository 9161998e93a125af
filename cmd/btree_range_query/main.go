// Command btree_range_query prints every value whose key falls within
// an inclusive range, in ascending key order.
//
//	btree_range_query filestem cachesize minkey maxkey
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
		fmt.Fprintln(os.Stderr, "usage: btree_range_query filestem cachesize minkey maxkey")
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
		cliutil.Fail("btree_range_query", fmt.Errorf("cachesize must be an integer"))
	}

	t, bm, err := cliutil.Attach(filestem, cacheSize)
	if err != nil {
		cliutil.Fail("btree_range_query", err)
	}
	defer t.Close()

	low, err := cliutil.FitWidth(args[2], t.KeySize(), "minkey")
	if err != nil {
		cliutil.Fail("btree_range_query", err)
	}
	high, err := cliutil.FitWidth(args[3], t.KeySize(), "maxkey")
	if err != nil {
		cliutil.Fail("btree_range_query", err)
	}

	entries, err := t.RangeQuery(low, high)
	if err != nil {
		cliutil.Fail("btree_range_query", err)
	}
	for _, e := range entries {
		fmt.Println(string(e.Value))
	}
	cliutil.PrintStats(bm)
	os.Exit(0)
}
