// Package cliutil holds the collaborator glue the seven btree_* binaries
// share: opening a buffer manager rooted at the current directory,
// attaching or creating an index by filestem, fitting command-line key
// and value strings to the index's fixed widths, and printing buffer
// manager stats and failures the way the teacher's main.go does.
package cliutil

import (
	"fmt"
	"os"

	"github.com/cockroachdb/errors"
	"github.com/dustin/go-humanize"
	"go.uber.org/zap"

	"btreeindex/storage/btree"
	"btreeindex/storage/buffer"
)

// Fail prints a diagnostic to stderr and exits with spec.md's required
// negative status.
func Fail(op string, err error) {
	fmt.Fprintf(os.Stderr, "%s: %v\n", op, err)
	os.Exit(-1)
}

// NewBufferManager opens a buffer manager rooted at the current
// directory with cacheSize frames, logging nothing by default since
// the CLI's own stdout/stderr is the diagnostic channel spec.md wants.
func NewBufferManager(cacheSize int) (*buffer.BufferManagerImpl, error) {
	return buffer.NewBufferManager(zap.NewNop(), buffer.WithDirectory("."), buffer.WithBufferSize(cacheSize))
}

// Attach opens an existing index by filestem through a fresh buffer
// manager, for the binaries that operate on an already-created index.
func Attach(filestem string, cacheSize int) (*btree.BTreeImpl, buffer.BufferManager, error) {
	bm, err := NewBufferManager(cacheSize)
	if err != nil {
		return nil, nil, errors.Wrapf(err, "open buffer manager")
	}
	t, err := btree.Attach(bm, filestem, zap.NewNop())
	if err != nil {
		return nil, nil, err
	}
	return t, bm, nil
}

// FitWidth pads s on the right with zero bytes to width, or fails if s
// is already longer than width. Keys and values are opaque fixed-width
// buffers (spec.md §3); the CLI is the one place a human-typed string
// becomes one.
func FitWidth(s string, width int, what string) ([]byte, error) {
	b := []byte(s)
	if len(b) > width {
		return nil, errors.Newf("%s %q is %d bytes, longer than the index's configured width %d", what, s, len(b), width)
	}
	out := make([]byte, width)
	copy(out, b)
	return out, nil
}

// PrintStats writes the buffer manager's counters in the teacher's
// log-line style, using humanize.Comma so a human reads the counts at a
// glance.
func PrintStats(bm buffer.BufferManager) {
	s := bm.Stats()
	fmt.Fprintf(os.Stderr, "buffer stats: reads=%s writes=%s disk_reads=%s disk_writes=%s allocs=%s deallocs=%s clock=%s\n",
		humanize.Comma(int64(s.Reads)),
		humanize.Comma(int64(s.Writes)),
		humanize.Comma(int64(s.DiskReads)),
		humanize.Comma(int64(s.DiskWrites)),
		humanize.Comma(int64(s.Allocations)),
		humanize.Comma(int64(s.Deallocation)),
		humanize.Comma(int64(s.Clock)),
	)
}
