package btree

import (
	"go.uber.org/zap"

	"btreeindex/internal/bterr"
	"btreeindex/storage/buffer"
	"btreeindex/storage/page"
)

// BTreeImpl is the façade implementation of Index: it owns a name
// (the open file's key in the buffer manager) and the three sizes
// fixed at creation time, and delegates node-shaped work to the other
// files in this package.
type BTreeImpl struct {
	bm        buffer.BufferManager
	name      string
	keySize   int
	valueSize int
	blockSize int
	log       *zap.Logger
}

// Create formats a brand-new index of exactly numBlocks blocks: a
// superblock at block 0, a single empty leaf (tagged KindRoot,
// leaf-shaped) at block 1, and blocks 2..numBlocks-1 chained into the
// free list, highest block number first so the lowest-numbered free
// block is the first one handed back out by allocate.
func Create(bm buffer.BufferManager, name string, keySize, valueSize, blockSize, numBlocks int, log *zap.Logger) (*BTreeImpl, error) {
	if log == nil {
		log = zap.NewNop()
	}
	if _, err := page.NewLayout(keySize, valueSize, blockSize); err != nil {
		return nil, err
	}
	if numBlocks < 2 {
		return nil, bterr.NoSpacef("index needs at least 2 blocks (superblock + root), got %d", numBlocks)
	}
	if err := bm.CreateBTree(name, blockSize, numBlocks); err != nil {
		return nil, bterr.WrapIO(err, "create index %q", name)
	}

	t := &BTreeImpl{bm: bm, name: name, keySize: keySize, valueSize: valueSize, blockSize: blockSize, log: log}

	freeHead := uint64(0)
	for b := numBlocks - 1; b >= 2; b-- {
		free, err := t.pinInit(uint64(b), page.KindFree)
		if err != nil {
			return nil, err
		}
		free.SetFreeNext(freeHead)
		if err := t.unpin(uint64(b), true); err != nil {
			return nil, err
		}
		freeHead = uint64(b)
	}

	super, err := t.pinInit(SuperblockID, page.KindSuperblock)
	if err != nil {
		return nil, err
	}
	super.SetRootNode(1)
	super.SetFreeList(freeHead)
	if err := t.unpin(SuperblockID, true); err != nil {
		return nil, err
	}

	if _, err := t.pinInit(1, page.KindRoot); err != nil {
		return nil, err
	}
	if err := t.unpin(1, true); err != nil {
		return nil, err
	}

	log.Info("created index", zap.String("index", name), zap.Int("key_size", keySize), zap.Int("value_size", valueSize), zap.Int("block_size", blockSize), zap.Int("num_blocks", numBlocks))
	return t, nil
}

// Attach opens an existing index file, reading its layout back out of
// the superblock rather than being told it again.
func Attach(bm buffer.BufferManager, name string, log *zap.Logger) (*BTreeImpl, error) {
	if log == nil {
		log = zap.NewNop()
	}
	if err := bm.OpenBTree(name); err != nil {
		return nil, bterr.WrapIO(err, "attach index %q", name)
	}

	blockSize, err := bm.GetBlockSize(name)
	if err != nil {
		return nil, bterr.WrapIO(err, "read block size for %q", name)
	}

	t := &BTreeImpl{bm: bm, name: name, blockSize: blockSize, log: log}
	super, err := t.pin(SuperblockID)
	if err != nil {
		return nil, err
	}
	if super.Header.Kind != page.KindSuperblock {
		_ = t.unpin(SuperblockID, false)
		return nil, bterr.WrapCorrupt("block 0 of %q is not a superblock", name)
	}
	t.keySize = int(super.Header.KeySize)
	t.valueSize = int(super.Header.ValueSize)
	if err := t.unpin(SuperblockID, false); err != nil {
		return nil, err
	}

	log.Info("attached index", zap.String("index", name), zap.Int("key_size", t.keySize), zap.Int("value_size", t.valueSize))
	return t, nil
}

// Close flushes and detaches the index's backing file.
func (t *BTreeImpl) Close() error {
	return bterr.WrapIO(t.bm.CloseBTree(t.name), "close index %q", t.name)
}

// KeySize and ValueSize report the fixed widths baked into this
// index's superblock at creation time, for callers (the CLI drivers)
// that need to fit a human-typed string to them.
func (t *BTreeImpl) KeySize() int   { return t.keySize }
func (t *BTreeImpl) ValueSize() int { return t.valueSize }

// rootBlock reads the current root pointer out of the superblock. It
// never caches this across calls: Delete can shrink the tree and
// change which block is root mid-operation.
func (t *BTreeImpl) rootBlock() (uint64, error) {
	super, err := t.pin(SuperblockID)
	if err != nil {
		return 0, err
	}
	root := super.Header.RootNode
	if err := t.unpin(SuperblockID, false); err != nil {
		return 0, err
	}
	if root == 0 {
		return 0, ErrTreeNotInit
	}
	return root, nil
}

func (t *BTreeImpl) setRootBlock(block uint64) error {
	super, err := t.pin(SuperblockID)
	if err != nil {
		return err
	}
	super.SetRootNode(block)
	return t.unpin(SuperblockID, true)
}

// pin fetches and decodes a block. The returned *page.Node aliases the
// buffer manager's frame directly; mutating it and then calling unpin
// with dirty=true is what persists the change.
func (t *BTreeImpl) pin(block uint64) (*page.Node, error) {
	pg, err := t.bm.PinPage(t.name, buffer.BlockID(block))
	if err != nil {
		return nil, bterr.WrapIO(err, "pin block %d", block)
	}
	node, err := page.Decode(pg.Data)
	if err != nil {
		_ = t.bm.UnpinPage(t.name, buffer.BlockID(block), false)
		return nil, err
	}
	return node, nil
}

// pinInit formats a block fresh (used for a block just handed out by
// the allocator, or block 0/1 during Create) and returns the decoded
// node, still pinned.
func (t *BTreeImpl) pinInit(block uint64, kind page.Kind) (*page.Node, error) {
	pg, err := t.bm.PinPage(t.name, buffer.BlockID(block))
	if err != nil {
		return nil, bterr.WrapIO(err, "pin block %d for init", block)
	}
	node, err := page.Init(pg.Data, kind, t.keySize, t.valueSize, t.blockSize)
	if err != nil {
		_ = t.bm.UnpinPage(t.name, buffer.BlockID(block), false)
		return nil, err
	}
	return node, nil
}

func (t *BTreeImpl) unpin(block uint64, dirty bool) error {
	return bterr.WrapIO(t.bm.UnpinPage(t.name, buffer.BlockID(block), dirty), "unpin block %d", block)
}
