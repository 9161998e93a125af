// Package btree implements the on-disk B+-tree index: block allocation
// (C3), key search (C4), insertion (C5), deletion (C6), whole-tree
// traversal and diagnostics (C7), and the public façade (C8) that ties
// them to a buffer.BufferManager.
package btree

import "github.com/cockroachdb/errors"

var (
	// ErrTreeNotInit means Attach was never called, or Create failed
	// partway through.
	ErrTreeNotInit = errors.New("index root is not initialized")
)

// SuperblockID is the fixed block number of the index's superblock.
const SuperblockID uint64 = 0

// Entry is one (key, value) pair returned by RangeQuery.
type Entry struct {
	Key   []byte
	Value []byte
}

// Index is the public surface of an open B+-tree: point lookup,
// mutation, ordered range scan, and the diagnostic operations
// (SanityCheck, Display) that walk the whole tree rather than a single
// root-to-leaf path.
type Index interface {
	Lookup(key []byte) (value []byte, found bool, err error)
	Insert(key, value []byte) error
	Update(key, value []byte) error
	Delete(key []byte) error
	RangeQuery(low, high []byte) ([]Entry, error)
	SanityCheck() error
	Display(mode DisplayMode, w interface{ Write([]byte) (int, error) }) error
	Close() error
}
