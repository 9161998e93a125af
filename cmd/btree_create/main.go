// Command btree_create formats a brand-new index file.
//
//	btree_create filestem cachesize numblocks keysize valuesize
package main

import (
	"flag"
	"fmt"
	"os"
	"strconv"

	"go.uber.org/zap"

	"btreeindex/internal/cliutil"
	"btreeindex/storage/btree"
)

func main() {
	flag.Usage = func() {
		fmt.Fprintln(os.Stderr, "usage: btree_create filestem cachesize numblocks keysize valuesize")
	}
	flag.Parse()
	args := flag.Args()
	if len(args) != 5 {
		flag.Usage()
		os.Exit(-1)
	}

	filestem := args[0]
	cacheSize, err1 := strconv.Atoi(args[1])
	numBlocks, err2 := strconv.Atoi(args[2])
	keySize, err3 := strconv.Atoi(args[3])
	valueSize, err4 := strconv.Atoi(args[4])
	if err1 != nil || err2 != nil || err3 != nil || err4 != nil {
		cliutil.Fail("btree_create", fmt.Errorf("cachesize, numblocks, keysize and valuesize must all be integers"))
	}

	bm, err := cliutil.NewBufferManager(cacheSize)
	if err != nil {
		cliutil.Fail("btree_create", err)
	}

	const blockSize = 4096
	t, err := btree.Create(bm, filestem, keySize, valueSize, blockSize, numBlocks, zap.NewNop())
	if err != nil {
		cliutil.Fail("btree_create", err)
	}
	if err := t.Close(); err != nil {
		cliutil.Fail("btree_create", err)
	}
	cliutil.PrintStats(bm)
	os.Exit(0)
}
