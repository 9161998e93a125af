// Command btree_display dumps the whole tree in one of three formats.
//
//	btree_display filestem cachesize [depth|dot|sorted]
package main

import (
	"flag"
	"fmt"
	"os"
	"strconv"

	"btreeindex/internal/cliutil"
	"btreeindex/storage/btree"
)

func main() {
	flag.Usage = func() {
		fmt.Fprintln(os.Stderr, "usage: btree_display filestem cachesize [depth|dot|sorted]")
	}
	flag.Parse()
	args := flag.Args()
	if len(args) < 2 || len(args) > 3 {
		flag.Usage()
		os.Exit(-1)
	}

	filestem := args[0]
	cacheSize, err := strconv.Atoi(args[1])
	if err != nil {
		cliutil.Fail("btree_display", fmt.Errorf("cachesize must be an integer"))
	}

	mode := btree.DisplayDepth
	if len(args) == 3 {
		switch args[2] {
		case "depth":
			mode = btree.DisplayDepth
		case "dot":
			mode = btree.DisplayDot
		case "sorted":
			mode = btree.DisplaySorted
		default:
			cliutil.Fail("btree_display", fmt.Errorf("unknown display mode %q, want depth, dot or sorted", args[2]))
		}
	}

	t, bm, err := cliutil.Attach(filestem, cacheSize)
	if err != nil {
		cliutil.Fail("btree_display", err)
	}
	defer t.Close()

	if err := t.Display(mode, os.Stdout); err != nil {
		cliutil.Fail("btree_display", err)
	}
	cliutil.PrintStats(bm)
	os.Exit(0)
}
