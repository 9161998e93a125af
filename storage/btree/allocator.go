package btree

import (
	"btreeindex/internal/bterr"
	"btreeindex/storage/buffer"
	"btreeindex/storage/page"
)

// allocate returns a block number ready to be formatted by the caller
// via pinInit, popped from the superblock-rooted free list (LIFO: the
// most recently deallocated block comes back first). The store's block
// count is fixed at creation time; once the free list runs dry,
// allocate fails with NoSpace rather than growing the file.
func (t *BTreeImpl) allocate() (uint64, error) {
	super, err := t.pin(SuperblockID)
	if err != nil {
		return 0, err
	}

	head := super.Header.FreeList
	if head == 0 {
		if err := t.unpin(SuperblockID, false); err != nil {
			return 0, err
		}
		return 0, bterr.NoSpacef("free list exhausted for index %q", t.name)
	}

	freeNode, err := t.pin(head)
	if err != nil {
		_ = t.unpin(SuperblockID, false)
		return 0, err
	}
	next := freeNode.FreeNext()
	if err := t.unpin(head, false); err != nil {
		_ = t.unpin(SuperblockID, false)
		return 0, err
	}
	super.SetFreeList(next)
	if err := t.unpin(SuperblockID, true); err != nil {
		return 0, err
	}
	t.bm.NotifyAllocateBlock(t.name, buffer.BlockID(head))
	return head, nil
}

// deallocate pushes block onto the head of the superblock-rooted free
// list. The block's previous contents are discarded; only its
// FreeNext pointer survives.
func (t *BTreeImpl) deallocate(block uint64) error {
	super, err := t.pin(SuperblockID)
	if err != nil {
		return err
	}
	head := super.Header.FreeList

	freed, err := t.pinInit(block, page.KindFree)
	if err != nil {
		_ = t.unpin(SuperblockID, false)
		return err
	}
	freed.SetFreeNext(head)
	if err := t.unpin(block, true); err != nil {
		_ = t.unpin(SuperblockID, false)
		return err
	}

	super.SetFreeList(block)
	if err := t.unpin(SuperblockID, true); err != nil {
		return err
	}
	t.bm.NotifyDeallocateBlock(t.name, buffer.BlockID(block))
	return nil
}
