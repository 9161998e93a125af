package buffer

import "github.com/cockroachdb/errors"

// Page is a pinned block's mutable backing buffer. Its length is always
// exactly the manager's configured block size.
type Page struct {
	Data []byte
}

// BlockID addresses a single fixed-size block within one open index
// file. Block 0 is reserved for the superblock.
type BlockID uint64

var (
	ErrBTreeNotFound = errors.New("index not found or not open")
	ErrPageNotFound  = errors.New("block not found on disk or in buffer")
	ErrBufferFull    = errors.New("buffer pool is full and no block could be evicted")
	ErrPagePinned    = errors.New("block is pinned and cannot be evicted")
)

// BufferManager is the block-addressable store backing every open
// index (spec component C1). It knows nothing about node structure: it
// moves fixed-size blocks between disk and a bounded in-memory pool,
// and tracks which blocks are pinned. NotifyAllocateBlock and
// NotifyDeallocateBlock are advisory hooks the allocator calls so the
// cache can account for freed/reused blocks; the buffer manager itself
// does not own free-list state.
type BufferManager interface {
	CreateBTree(name string, blockSize, numBlocks int) error
	OpenBTree(name string) error
	CloseBTree(name string) error
	DeleteBTree(name string) error

	GetBlockSize(btreeID string) (int, error)
	GetNumBlocks(btreeID string) (uint64, error)

	PinPage(btreeID string, blockID BlockID) (Page, error)
	UnpinPage(btreeID string, blockID BlockID, isDirty bool) error

	NotifyAllocateBlock(btreeID string, blockID BlockID)
	NotifyDeallocateBlock(btreeID string, blockID BlockID)

	Stats() Stats
}

// Stats are the monotonically increasing counters spec.md §6 requires
// the buffer manager to expose: page-level reads/writes served from
// cache, the disk I/O that actually backed them, allocation traffic
// observed through the advisory notify hooks, and a monotonic clock the
// CLI prints alongside the rest so two stats lines can be ordered
// without relying on wall-clock time.
type Stats struct {
	Reads        uint64
	Writes       uint64
	DiskReads    uint64
	DiskWrites   uint64
	Allocations  uint64
	Deallocation uint64
	Clock        uint64
}

// Option configures a BufferManagerConfig via the functional-options
// pattern.
type Option func(*BufferManagerConfig)

// BufferManagerConfig controls pool sizing and on-disk location.
type BufferManagerConfig struct {
	Directory  string
	BufferSize int // number of blocks held in memory at once
}

func WithDirectory(dir string) Option {
	return func(config *BufferManagerConfig) {
		config.Directory = dir
	}
}

func WithBufferSize(numBlocks int) Option {
	return func(config *BufferManagerConfig) {
		config.BufferSize = numBlocks
	}
}
