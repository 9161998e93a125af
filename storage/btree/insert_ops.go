package btree

import (
	"btreeindex/internal/bterr"
	"btreeindex/storage/page"
)

// splitResult is the private three-way outcome the C++ source threads
// through out-parameters and a special error code. Here it is just a
// return value: a recursive insert either completes cleanly (did ==
// false) or reports the new sibling and the key to promote into the
// parent (did == true).
type splitResult struct {
	did      bool
	promoted []byte
	leftID   uint64
	rightID  uint64
}

// Insert adds a new (key, value) pair, failing with DuplicateKey if the
// key is already present.
func (t *BTreeImpl) Insert(key, value []byte) (err error) {
	defer page.RecoverInsane(&err)
	if len(key) != t.keySize {
		return bterr.WrapCorrupt("key of length %d does not match index key size %d", len(key), t.keySize)
	}
	if len(value) != t.valueSize {
		return bterr.WrapCorrupt("value of length %d does not match index value size %d", len(value), t.valueSize)
	}

	root, err := t.rootBlock()
	if err != nil {
		return err
	}
	split, err := t.insertRecursive(root, key, value)
	if err != nil {
		return err
	}
	if !split.did {
		return nil
	}
	return t.growRoot(root, split)
}

// insertRecursive descends to the leaf owning key, inserts there, and
// propagates a split signal upward one level at a time. The descent
// holds one node pinned at a time: a node is unpinned before its child
// is visited and, if the child reports a split, re-pinned to absorb it.
// A split itself pins the allocator's blocks and the new sibling while
// the splitting node is still pinned.
func (t *BTreeImpl) insertRecursive(block uint64, key, value []byte) (splitResult, error) {
	node, err := t.pin(block)
	if err != nil {
		return splitResult{}, err
	}

	if node.IsLeaf() {
		return t.insertLeaf(block, node, key, value)
	}
	if !node.IsInterior() {
		_ = t.unpin(block, false)
		return splitResult{}, bterr.WrapInsane("insert descended into block %d of kind %s", block, node.Header.Kind)
	}

	idx := interiorSearch(node, key)
	childID := node.GetPtr(idx)
	if err := t.unpin(block, false); err != nil {
		return splitResult{}, err
	}

	childSplit, err := t.insertRecursive(childID, key, value)
	if err != nil {
		return splitResult{}, err
	}
	if !childSplit.did {
		return splitResult{}, nil
	}

	node, err = t.pin(block)
	if err != nil {
		return splitResult{}, err
	}
	return t.insertInterior(block, node, idx, childSplit)
}

// insertLeaf places (key, value) into a pinned leaf node, splitting it
// if it has no room left.
func (t *BTreeImpl) insertLeaf(block uint64, node *page.Node, key, value []byte) (splitResult, error) {
	idx, found := leafSearch(node, key)
	if found {
		_ = t.unpin(block, false)
		return splitResult{}, bterr.DuplicateKeyf("key already present")
	}

	numKeys := node.NumKeys()
	if numKeys < node.Layout.LeafCapacity {
		for i := numKeys; i > idx; i-- {
			k, v := node.GetKV(i - 1)
			node.SetKV(i, k, v)
		}
		node.SetKV(idx, key, value)
		node.SetNumKeys(numKeys + 1)
		if err := t.unpin(block, true); err != nil {
			return splitResult{}, err
		}
		return splitResult{}, nil
	}

	split, err := t.splitLeaf(block, node, idx, key, value)
	if err != nil {
		_ = t.unpin(block, false)
		return splitResult{}, err
	}
	if err := t.unpin(block, true); err != nil {
		return splitResult{}, err
	}
	return split, nil
}

// splitLeaf handles an overflowing leaf: the new entry plus the node's
// existing numKeys entries (cap+1 total, where cap is leaf capacity)
// are split so the newly allocated block R keeps the lower half and
// the original block keeps the upper half, matching the source's
// convention. The promoted key is the maximum of the lower half, which
// is copied up (not removed, unlike an interior split's promotion).
func (t *BTreeImpl) splitLeaf(block uint64, node *page.Node, insertIdx int, key, value []byte) (splitResult, error) {
	numKeys := node.NumKeys()

	type kv struct{ k, v []byte }
	entries := make([]kv, 0, numKeys+1)
	for i := 0; i < numKeys; i++ {
		if i == insertIdx {
			entries = append(entries, kv{append([]byte{}, key...), append([]byte{}, value...)})
		}
		k, v := node.GetKV(i)
		entries = append(entries, kv{append([]byte{}, k...), append([]byte{}, v...)})
	}
	if insertIdx == numKeys {
		entries = append(entries, kv{append([]byte{}, key...), append([]byte{}, value...)})
	}

	total := len(entries)
	lowerCount := (total + 1) / 2
	upperCount := total - lowerCount

	rightID, err := t.allocate()
	if err != nil {
		return splitResult{}, err
	}
	right, err := t.pinInit(rightID, page.KindLeaf)
	if err != nil {
		return splitResult{}, err
	}
	for i := 0; i < lowerCount; i++ {
		right.SetKV(i, entries[i].k, entries[i].v)
	}
	right.SetNumKeys(lowerCount)
	if err := t.unpin(rightID, true); err != nil {
		return splitResult{}, err
	}

	for i := 0; i < upperCount; i++ {
		node.SetKV(i, entries[lowerCount+i].k, entries[lowerCount+i].v)
	}
	node.SetNumKeys(upperCount)

	promoted := entries[lowerCount-1].k
	return splitResult{did: true, promoted: promoted, leftID: rightID, rightID: block}, nil
}

// insertInterior absorbs a split reported by the child reached through
// slot idx, inserting the new (promoted key, left block) pair there and
// shifting the child's own former pointer one slot to the right. It
// then splits this node itself if it has overflowed.
func (t *BTreeImpl) insertInterior(block uint64, node *page.Node, idx int, child splitResult) (splitResult, error) {
	numKeys := node.NumKeys()
	for i := numKeys; i > idx; i-- {
		node.SetKey(i, node.GetKey(i-1))
	}
	for i := numKeys + 1; i > idx+1; i-- {
		node.SetPtr(i, node.GetPtr(i-1))
	}
	node.SetKey(idx, child.promoted)
	node.SetPtr(idx, child.leftID)
	node.SetPtr(idx+1, child.rightID)
	node.SetNumKeys(numKeys + 1)

	if node.NumKeys() <= node.Layout.InteriorCapacity {
		if err := t.unpin(block, true); err != nil {
			return splitResult{}, err
		}
		return splitResult{}, nil
	}

	split, err := t.splitInterior(block, node)
	if err != nil {
		_ = t.unpin(block, false)
		return splitResult{}, err
	}
	if err := t.unpin(block, true); err != nil {
		return splitResult{}, err
	}
	return split, nil
}

// splitInterior handles an overflowing interior node: the upper half of
// (key, pointer) pairs plus the trailing pointer move to a newly
// allocated block; the original block keeps the lower half. The middle
// key is promoted (removed from both halves, not copied), matching the
// source's key-promotion semantics for interior splits.
func (t *BTreeImpl) splitInterior(block uint64, node *page.Node) (splitResult, error) {
	numKeys := node.NumKeys()

	keys := make([][]byte, numKeys)
	for i := 0; i < numKeys; i++ {
		keys[i] = append([]byte{}, node.GetKey(i)...)
	}
	ptrs := make([]uint64, numKeys+1)
	for i := 0; i <= numKeys; i++ {
		ptrs[i] = node.GetPtr(i)
	}

	mid := numKeys / 2
	promoted := keys[mid]

	rightID, err := t.allocate()
	if err != nil {
		return splitResult{}, err
	}
	right, err := t.pinInit(rightID, page.KindInterior)
	if err != nil {
		return splitResult{}, err
	}
	rightKeys := keys[mid+1:]
	rightPtrs := ptrs[mid+1:]
	for i, k := range rightKeys {
		right.SetKey(i, k)
	}
	for i, p := range rightPtrs {
		right.SetPtr(i, p)
	}
	right.SetNumKeys(len(rightKeys))
	if err := t.unpin(rightID, true); err != nil {
		return splitResult{}, err
	}

	for i := 0; i < mid; i++ {
		node.SetKey(i, keys[i])
	}
	for i := 0; i <= mid; i++ {
		node.SetPtr(i, ptrs[i])
	}
	node.SetNumKeys(mid)

	return splitResult{did: true, promoted: promoted, leftID: block, rightID: rightID}, nil
}

// growRoot is the sole mechanism by which the tree's height increases.
// The previous root keeps its block number but is retagged from
// KindRoot to its effective leaf/interior kind; a freshly allocated
// block becomes the new root, interior-shaped, with exactly one key and
// two children.
func (t *BTreeImpl) growRoot(oldRoot uint64, split splitResult) error {
	prev, err := t.pin(oldRoot)
	if err != nil {
		return err
	}
	prev.SetKind(prev.Header.EffectiveKind())
	if err := t.unpin(oldRoot, true); err != nil {
		return err
	}

	newRootID, err := t.allocate()
	if err != nil {
		return err
	}
	newRoot, err := t.pinInit(newRootID, page.KindRoot)
	if err != nil {
		return err
	}
	newRoot.PromoteRootShape()
	newRoot.SetPtr(0, split.leftID)
	newRoot.SetPtr(1, split.rightID)
	newRoot.SetKey(0, split.promoted)
	newRoot.SetNumKeys(1)
	if err := t.unpin(newRootID, true); err != nil {
		return err
	}

	return t.setRootBlock(newRootID)
}
